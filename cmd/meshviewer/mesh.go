package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/framecore/renderer"
)

// openMesh loads an OBJ file and the MTL file next to it, if any.
func openMesh(path string) (renderer.Mesh, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return renderer.Mesh{}, errors.Wrap(err, "open mesh")
	}
	defer meshFile.Close()

	var matReader io.Reader = strings.NewReader("")
	matFile, err := os.Open(strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl")
	if err == nil {
		defer matFile.Close()
		matReader = matFile
	}

	return decodeMesh(meshFile, matReader)
}

// decodeMesh triangulates every face as a fan and shares vertices between
// faces that reference the same position.
func decodeMesh(meshReader, matReader io.Reader) (renderer.Mesh, error) {
	decoder, err := obj.DecodeReader(meshReader, matReader)
	if err != nil {
		return renderer.Mesh{}, errors.Wrap(err, "decode mesh")
	}

	var mesh renderer.Mesh
	uniqueVertices := make(map[int]uint32)

	addVertex := func(face obj.Face, faceIndex int) {
		vertInd := face.Vertices[faceIndex]
		index, vertexExists := uniqueVertices[vertInd]

		if !vertexExists {
			vert := renderer.Vertex{
				Position: mgl32.Vec3{
					decoder.Vertices[vertInd*3],
					decoder.Vertices[vertInd*3+1],
					decoder.Vertices[vertInd*3+2],
				},
				Color: mgl32.Vec3{1, 1, 1},
			}

			// Shade by normal direction when the file has normals.
			if faceIndex < len(face.Normals) {
				normInd := face.Normals[faceIndex]
				if normInd >= 0 && normInd*3+2 < len(decoder.Normals) {
					normal := mgl32.Vec3{
						decoder.Normals[normInd*3],
						decoder.Normals[normInd*3+1],
						decoder.Normals[normInd*3+2],
					}
					vert.Color = normal.Mul(0.5).Add(mgl32.Vec3{0.5, 0.5, 0.5})
				}
			}

			index = uint32(len(mesh.Vertices))
			mesh.Vertices = append(mesh.Vertices, vert)
			uniqueVertices[vertInd] = index
		}

		mesh.Indices = append(mesh.Indices, index)
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			for i := 2; i < len(face.Vertices); i++ {
				addVertex(face, 0)
				addVertex(face, i-1)
				addVertex(face, i)
			}
		}
	}

	if len(mesh.Vertices) == 0 {
		return renderer.Mesh{}, errors.New("decode mesh: no faces")
	}
	return mesh, nil
}
