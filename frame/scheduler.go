// Package frame drives the per-frame synchronization protocol: F frame slots,
// each with its own fence and semaphores, cycling through
// Idle -> Acquiring -> Recording -> Submitted -> Idle while presentable images
// are acquired and presented in whatever order the presentation engine picks.
package frame

import (
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/loov/hrtime"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// NoTimeout is an effectively unbounded wait.
const NoTimeout = time.Duration(math.MaxInt64)

type SlotState int

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	}
	return "unknown"
}

type Options struct {
	FramesInFlight int
	// Chain is the state of the swapchain the backend was built with.
	Chain Chain

	FenceTimeout   time.Duration
	AcquireTimeout time.Duration

	// Drawable reports the current drawable size. While recreation is
	// deferred it is polled once per frame, so a window that regains area
	// without a resize notification still resumes rendering.
	Drawable func() Extent

	// Clock defaults to hrtime.Now.
	Clock  func() time.Duration
	Logger *slog.Logger
}

type Stats struct {
	FramesPresented uint64
	FramesSkipped   uint64
	Recreations     uint64
	LastFrameCPU    time.Duration
}

type Scheduler struct {
	backend       Backend
	logger        *slog.Logger
	clock         func() time.Duration
	queryDrawable func() Extent

	fenceTimeout   time.Duration
	acquireTimeout time.Duration

	slots        []SlotState
	currentFrame int
	frameNumber  uint64

	chain    Chain
	drawable Extent
	start    time.Duration

	// Recreation was requested but the drawable area is empty.
	deferred bool

	resizeMu      sync.Mutex
	resizePending bool
	resizeExtent  Extent

	fatal error
	stats Stats
}

func NewScheduler(backend Backend, opts Options) (*Scheduler, error) {
	if opts.FramesInFlight <= 0 {
		return nil, gpuerr.Usage("frames in flight must be positive, got %d", opts.FramesInFlight)
	}
	if opts.Chain.ImageCount <= 0 {
		return nil, gpuerr.Usage("swapchain image count must be positive, got %d", opts.Chain.ImageCount)
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = NoTimeout
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = NoTimeout
	}
	if opts.Clock == nil {
		opts.Clock = hrtime.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		backend:        backend,
		logger:         opts.Logger,
		clock:          opts.Clock,
		queryDrawable:  opts.Drawable,
		fenceTimeout:   opts.FenceTimeout,
		acquireTimeout: opts.AcquireTimeout,
		slots:          make([]SlotState, opts.FramesInFlight),
		chain:          opts.Chain,
		drawable:       opts.Chain.Extent,
		start:          opts.Clock(),
	}, nil
}

// NotifyResized records a new drawable size. It is safe to call from any
// goroutine; the flag is consulted after the next present.
func (s *Scheduler) NotifyResized(extent Extent) {
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()

	s.resizePending = true
	s.resizeExtent = extent
}

func (s *Scheduler) takeResize() (Extent, bool) {
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()

	if !s.resizePending {
		return Extent{}, false
	}
	s.resizePending = false
	return s.resizeExtent, true
}

func (s *Scheduler) FramesInFlight() int {
	return len(s.slots)
}

func (s *Scheduler) CurrentSlot() int {
	return s.currentFrame
}

func (s *Scheduler) SlotState(slot int) SlotState {
	return s.slots[slot]
}

// Outstanding counts slots whose submitted work has not been waited on.
func (s *Scheduler) Outstanding() int {
	n := 0
	for _, state := range s.slots {
		if state == SlotSubmitted {
			n++
		}
	}
	return n
}

func (s *Scheduler) Chain() Chain {
	return s.chain
}

func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Err returns the fatal error that stopped rendering, if any.
func (s *Scheduler) Err() error {
	return s.fatal
}

// RenderFrame runs one iteration of the frame loop. Swapchain staleness is
// handled here and never returned. Any other failure is returned and latched:
// every later call returns the same error without touching the GPU.
func (s *Scheduler) RenderFrame() error {
	if s.fatal != nil {
		return s.fatal
	}

	frameStart := s.clock()
	defer func() {
		s.stats.LastFrameCPU = s.clock() - frameStart
	}()

	if s.deferred {
		if extent, ok := s.takeResize(); ok {
			s.drawable = extent
		} else if s.queryDrawable != nil {
			s.drawable = s.queryDrawable()
		}
		err := s.recreate()
		if err != nil {
			return s.fail(err)
		}
		if s.deferred {
			s.stats.FramesSkipped++
			return nil
		}
	}

	slot := s.currentFrame

	err := s.backend.WaitFence(slot, s.fenceTimeout)
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageWaitFence, slotHandle(slot)))
	}
	s.slots[slot] = SlotAcquiring

	imageIndex, suboptimal, err := s.backend.Acquire(slot, s.acquireTimeout)
	if gpuerr.IsStale(err) {
		// Nothing was acquired; the fence is still signaled.
		s.slots[slot] = SlotIdle
		s.stats.FramesSkipped++
		s.logger.Info("swapchain out of date at acquire", "slot", slot)
		return s.recover()
	}
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageAcquire, slotHandle(slot)))
	}
	if imageIndex < 0 || imageIndex >= s.chain.ImageCount {
		return s.fail(gpuerr.At(
			gpuerr.Usage("acquired image %d outside chain of %d", imageIndex, s.chain.ImageCount),
			gpuerr.StageAcquire, slotHandle(slot)))
	}

	err = s.backend.ResetFence(slot)
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageResetFence, slotHandle(slot)))
	}

	if suboptimal {
		err = s.backend.Discard(slot)
		if err != nil {
			return s.fail(gpuerr.At(err, gpuerr.StageSubmit, slotHandle(slot)))
		}
		s.slots[slot] = SlotSubmitted
		s.stats.FramesSkipped++
		s.logger.Info("swapchain suboptimal at acquire", "slot", slot, "image", imageIndex)
		return s.recover()
	}

	s.slots[slot] = SlotRecording
	f := Frame{
		Number:     s.frameNumber,
		Slot:       slot,
		ImageIndex: imageIndex,
		Extent:     s.chain.Extent,
		Elapsed:    frameStart - s.start,
	}

	err = s.backend.Update(f)
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageUpdate, imageHandle(imageIndex)))
	}

	err = s.backend.Record(f)
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageRecord, slotHandle(slot)))
	}

	err = s.backend.Submit(f)
	if err != nil {
		return s.fail(gpuerr.At(err, gpuerr.StageSubmit, slotHandle(slot)))
	}
	s.slots[slot] = SlotSubmitted

	presentSuboptimal, err := s.backend.Present(f)
	outOfDate := gpuerr.IsStale(err)
	if err != nil && !outOfDate {
		return s.fail(gpuerr.At(err, gpuerr.StagePresent, imageHandle(imageIndex)))
	}
	stale := presentSuboptimal || outOfDate

	s.logger.Debug("frame", "number", f.Number, "slot", slot, "image", imageIndex, "presented", !outOfDate)
	if outOfDate {
		// The image was rendered but never reached the screen.
		s.stats.FramesSkipped++
	} else {
		s.stats.FramesPresented++
	}
	s.frameNumber++
	s.currentFrame = (s.currentFrame + 1) % len(s.slots)

	extent, resized := s.takeResize()
	if resized {
		s.drawable = extent
	}
	if stale || resized {
		s.logger.Info("recreating swapchain after present", "stale", stale, "resized", resized)
		err = s.recreate()
		if err != nil {
			return s.fail(err)
		}
	}

	return nil
}

// recover handles staleness found at acquisition. A resize that arrived
// since the last frame is folded into the same recreation.
func (s *Scheduler) recover() error {
	if extent, ok := s.takeResize(); ok {
		s.drawable = extent
	}
	err := s.recreate()
	if err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Scheduler) recreate() error {
	if s.drawable.Empty() {
		if !s.deferred {
			s.logger.Info("drawable area is empty; deferring swapchain recreation")
		}
		s.deferred = true
		return nil
	}

	chain, err := s.backend.Recreate(s.drawable)
	if gpuerr.IsStale(err) {
		// The surface itself reports no area yet. The device was idled
		// before the surface was queried, so every fence is signaled.
		s.resetSlots()
		s.logger.Info("swapchain recreation deferred", "err", err)
		s.deferred = true
		return nil
	}
	if err != nil {
		return gpuerr.At(err, gpuerr.StageRecreate, "swapchain")
	}
	if chain.ImageCount <= 0 {
		return gpuerr.At(gpuerr.Usage("recreated chain has %d images", chain.ImageCount), gpuerr.StageRecreate, "swapchain")
	}

	// Recreation waited for the device to go idle, so every fence is signaled.
	s.resetSlots()
	s.chain = chain
	s.deferred = false
	s.stats.Recreations++
	s.logger.Info("swapchain recreated", "images", chain.ImageCount, "width", chain.Extent.Width, "height", chain.Extent.Height)
	return nil
}

func (s *Scheduler) resetSlots() {
	for i := range s.slots {
		s.slots[i] = SlotIdle
	}
}

func (s *Scheduler) fail(err error) error {
	s.fatal = err
	s.logger.Error("rendering stopped", "err", err)
	return err
}

func slotHandle(slot int) string {
	return "slot " + strconv.Itoa(slot)
}

func imageHandle(image int) string {
	return "image " + strconv.Itoa(image)
}
