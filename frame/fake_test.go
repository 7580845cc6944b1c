package frame

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type acquireResult struct {
	image      int
	suboptimal bool
	err        error
}

type presentResult struct {
	suboptimal bool
	err        error
}

// fakeGPU is a Backend whose fences are signaled either on submission or when
// the test calls completeOldest.
type fakeGPU struct {
	mu   sync.Mutex
	cond *sync.Cond

	imageCount   int
	autoComplete bool

	signaled   []bool
	pending    []int
	// Receives the slot whenever WaitFence has to block.
	blocked    chan int
	maxPending int

	acquires []acquireResult
	presents []presentResult
	next     int

	uniforms   map[int]uint64
	recordings []Recording
	presented  []Frame
	events     []string

	onRecord  func(f Frame)
	submitErr error

	recreated    []Extent
	recreateErrs []error
}

func newFakeGPU(slots, images int) *fakeGPU {
	g := &fakeGPU{
		imageCount:   images,
		autoComplete: true,
		signaled:     make([]bool, slots),
		blocked:      make(chan int, 64),
		uniforms:     map[int]uint64{},
	}
	g.cond = sync.NewCond(&g.mu)
	// Fences are created signaled.
	for i := range g.signaled {
		g.signaled[i] = true
	}
	return g
}

func (g *fakeGPU) log(format string, args ...any) {
	g.events = append(g.events, fmt.Sprintf(format, args...))
}

func (g *fakeGPU) Events() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.events...)
}

func (g *fakeGPU) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *fakeGPU) completeOldest() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return
	}
	g.signaled[g.pending[0]] = true
	g.pending = g.pending[1:]
	g.cond.Broadcast()
}

func (g *fakeGPU) WaitFence(slot int, timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("wait %d", slot)
	if !g.signaled[slot] {
		g.blocked <- slot
	}
	for !g.signaled[slot] {
		g.cond.Wait()
	}
	return nil
}

func (g *fakeGPU) ResetFence(slot int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.signaled[slot] {
		return errors.Newf("reset of unsignaled fence %d", slot)
	}
	g.log("reset %d", slot)
	g.signaled[slot] = false
	return nil
}

func (g *fakeGPU) Acquire(slot int, timeout time.Duration) (int, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("acquire %d", slot)
	if len(g.acquires) > 0 {
		r := g.acquires[0]
		g.acquires = g.acquires[1:]
		return r.image, r.suboptimal, r.err
	}
	image := g.next
	g.next = (g.next + 1) % g.imageCount
	return image, false, nil
}

func (g *fakeGPU) submitLocked(slot int) {
	g.pending = append(g.pending, slot)
	if len(g.pending) > g.maxPending {
		g.maxPending = len(g.pending)
	}
	if g.autoComplete {
		g.signaled[slot] = true
		g.pending = g.pending[:len(g.pending)-1]
	}
}

func (g *fakeGPU) Discard(slot int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("discard %d", slot)
	g.submitLocked(slot)
	return nil
}

func (g *fakeGPU) Update(f Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("update %d", f.ImageIndex)
	g.uniforms[f.ImageIndex] = f.Number
	return nil
}

func (g *fakeGPU) Record(f Frame) error {
	if g.onRecord != nil {
		g.onRecord(f)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r := Plan(f, DrawParams{IndexCount: 6})
	if got := g.uniforms[r.DescriptorSet]; got != f.Number {
		return errors.Newf("descriptor set %d holds data from frame %d, recording frame %d", r.DescriptorSet, got, f.Number)
	}
	g.log("record %d", f.Slot)
	g.recordings = append(g.recordings, r)
	return nil
}

func (g *fakeGPU) Submit(f Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.submitErr != nil {
		return g.submitErr
	}
	g.log("submit %d", f.Slot)
	g.submitLocked(f.Slot)
	return nil
}

func (g *fakeGPU) Present(f Frame) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("present %d", f.ImageIndex)
	g.presented = append(g.presented, f)
	if len(g.presents) > 0 {
		r := g.presents[0]
		g.presents = g.presents[1:]
		return r.suboptimal, r.err
	}
	return false, nil
}

func (g *fakeGPU) Recreate(drawable Extent) (Chain, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log("recreate %dx%d", drawable.Width, drawable.Height)
	// Device idle: everything in flight has finished.
	for _, slot := range g.pending {
		g.signaled[slot] = true
	}
	g.pending = nil
	g.cond.Broadcast()

	if len(g.recreateErrs) > 0 {
		err := g.recreateErrs[0]
		g.recreateErrs = g.recreateErrs[1:]
		if err != nil {
			return Chain{}, err
		}
	}

	g.recreated = append(g.recreated, drawable)
	g.next = 0
	return Chain{ImageCount: g.imageCount, Extent: drawable}, nil
}
