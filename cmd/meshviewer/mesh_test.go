package main

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quadOBJ = `o quad
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vn 0 0 1
f 1//1 2//1 3//1 4//1
`

func TestDecodeMeshFanTriangulation(t *testing.T) {
	mesh, err := decodeMesh(strings.NewReader(quadOBJ), strings.NewReader(""))
	require.NoError(t, err)

	require.Len(t, mesh.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, mesh.Indices)
	assert.Equal(t, mgl32.Vec3{1, 1, 0}, mesh.Vertices[2].Position)
	require.NoError(t, mesh.Validate())
}

func TestDecodeMeshColorsFromNormals(t *testing.T) {
	mesh, err := decodeMesh(strings.NewReader(quadOBJ), strings.NewReader(""))
	require.NoError(t, err)

	for _, v := range mesh.Vertices {
		assert.True(t, v.Color.ApproxEqual(mgl32.Vec3{0.5, 0.5, 1}), "color %v", v.Color)
	}
}

func TestDecodeMeshSharesVertices(t *testing.T) {
	const twoTriangles = `o pair
v 0 0 0
v 1 0 0
v 0 1 0
v 1 1 0
f 1 2 3
f 2 4 3
`
	mesh, err := decodeMesh(strings.NewReader(twoTriangles), strings.NewReader(""))
	require.NoError(t, err)

	assert.Len(t, mesh.Vertices, 4)
	assert.Equal(t, []uint32{0, 1, 2, 1, 3, 2}, mesh.Indices)
	// Without normals every vertex is white.
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, mesh.Vertices[0].Color)
}

func TestDecodeMeshNoFaces(t *testing.T) {
	_, err := decodeMesh(strings.NewReader("o empty\nv 0 0 0\n"), strings.NewReader(""))
	assert.Error(t, err)
}

func TestOpenMeshMissingFile(t *testing.T) {
	_, err := openMesh(t.TempDir() + "/missing.obj")
	assert.Error(t, err)
}
