package frame

import "time"

type Extent struct {
	Width  int
	Height int
}

func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

// Frame is everything a backend needs to update, record and submit one frame.
// Slot selects the sync objects and command buffer; ImageIndex selects the
// framebuffer, uniform buffer and descriptor set. The two are unrelated.
type Frame struct {
	Number     uint64
	Slot       int
	ImageIndex int
	Extent     Extent
	Elapsed    time.Duration
}

// Chain describes the presentable images after a (re)build.
type Chain struct {
	ImageCount int
	Extent     Extent
}

// Backend performs the GPU side of each step. Errors marked
// gpuerr.ErrSwapchainStale from Acquire and Present are recovered by the
// scheduler; every other error is fatal.
type Backend interface {
	// WaitFence blocks until the slot's last submission has completed.
	WaitFence(slot int, timeout time.Duration) error
	ResetFence(slot int) error

	// Acquire signals the slot's image-available semaphore when the returned
	// image can be rendered to.
	Acquire(slot int, timeout time.Duration) (imageIndex int, suboptimal bool, err error)

	// Discard consumes a successful acquisition that will not be drawn: an
	// empty submission waits on the slot's image-available semaphore and
	// signals the slot's fence, which has already been reset.
	Discard(slot int) error

	Update(f Frame) error
	Record(f Frame) error
	Submit(f Frame) error
	Present(f Frame) (suboptimal bool, err error)

	// Recreate waits for the device to go idle, tears down every
	// window-size-dependent resource and rebuilds it for drawable.
	Recreate(drawable Extent) (Chain, error)
}
