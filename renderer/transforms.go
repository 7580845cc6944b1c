package renderer

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/framecore/frame"
)

// UniformBufferObject is the per-image uniform block read by the vertex
// shader at binding 0.
type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

// spinPeriod is how long one full turn of the model takes.
const spinPeriod = 4 * time.Second

// SpinTransforms rotates the model about Z, a quarter turn per second, seen
// from (2,2,2) with a 45 degree vertical field of view.
func SpinTransforms(elapsed time.Duration, extent frame.Extent) UniformBufferObject {
	phase := math.Mod(elapsed.Seconds(), spinPeriod.Seconds()) / spinPeriod.Seconds()

	aspect := float32(1)
	if !extent.Empty() {
		aspect = float32(extent.Width) / float32(extent.Height)
	}

	proj := mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 10)
	// Clip space Y points down.
	proj.Set(1, 1, -proj.At(1, 1))

	return UniformBufferObject{
		Model: mgl32.HomogRotate3DZ(float32(phase * 2 * math.Pi)),
		View: mgl32.LookAtV(
			mgl32.Vec3{2, 2, 2},
			mgl32.Vec3{0, 0, 0},
			mgl32.Vec3{0, 0, 1},
		),
		Proj: proj,
	}
}
