package renderer

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/pipeline"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
}

// Mesh is indexed triangle-list geometry. It is uploaded once to
// device-local memory.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

func (m Mesh) Validate() error {
	if len(m.Vertices) == 0 {
		return gpuerr.Usage("mesh has no vertices")
	}
	if len(m.Indices)%3 != 0 {
		return gpuerr.Usage("mesh has %d indices, not a whole number of triangles", len(m.Indices))
	}
	for i, index := range m.Indices {
		if int(index) >= len(m.Vertices) {
			return gpuerr.Usage("mesh index %d refers to vertex %d of %d", i, index, len(m.Vertices))
		}
	}
	return nil
}

// VertexLayout is the pipeline's view of Vertex.
func VertexLayout() pipeline.VertexLayout {
	v := Vertex{}
	return pipeline.VertexLayout{
		Stride: int(unsafe.Sizeof(v)),
		Attributes: []core1_0.VertexInputAttributeDescription{
			{
				Binding:  0,
				Location: 0,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   int(unsafe.Offsetof(v.Position)),
			},
			{
				Binding:  0,
				Location: 1,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   int(unsafe.Offsetof(v.Color)),
			},
		},
	}
}

// Quad is a unit square in the XY plane, drawn when no mesh is supplied.
func Quad() Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Position: mgl32.Vec3{-0.5, -0.5, 0}, Color: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{0.5, -0.5, 0}, Color: mgl32.Vec3{0, 1, 0}},
			{Position: mgl32.Vec3{0.5, 0.5, 0}, Color: mgl32.Vec3{0, 0, 1}},
			{Position: mgl32.Vec3{-0.5, 0.5, 0}, Color: mgl32.Vec3{1, 1, 1}},
		},
		Indices: []uint32{0, 1, 2, 2, 3, 0},
	}
}
