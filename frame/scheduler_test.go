package frame

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/framecore/gpuerr"
)

var startExtent = Extent{Width: 640, Height: 480}

func newTestScheduler(t *testing.T, g *fakeGPU, slots int) *Scheduler {
	t.Helper()

	var now time.Duration
	s, err := NewScheduler(g, Options{
		FramesInFlight: slots,
		Chain:          Chain{ImageCount: g.imageCount, Extent: startExtent},
		Clock: func() time.Duration {
			now += time.Millisecond
			return now
		},
	})
	require.NoError(t, err)
	return s
}

func TestNewSchedulerRejectsBadOptions(t *testing.T) {
	g := newFakeGPU(2, 3)

	_, err := NewScheduler(g, Options{FramesInFlight: 0, Chain: Chain{ImageCount: 3}})
	require.True(t, errors.Is(err, gpuerr.ErrUsage))

	_, err = NewScheduler(g, Options{FramesInFlight: 2})
	require.True(t, errors.Is(err, gpuerr.ErrUsage))
}

func TestFramesInFlightAreBounded(t *testing.T) {
	const slots, frames = 2, 6

	g := newFakeGPU(slots, 3)
	g.autoComplete = false
	s := newTestScheduler(t, g, slots)

	done := make(chan int, frames)
	errs := make(chan error, 1)
	go func() {
		for i := 0; i < frames; i++ {
			err := s.RenderFrame()
			if err != nil {
				errs <- err
				return
			}
			done <- i
		}
	}()

	// The first F frames go straight through.
	for i := 0; i < slots; i++ {
		require.Equal(t, i, <-done)
	}

	// Every later frame blocks on the oldest slot until the GPU retires it.
	for i := slots; i < frames; i++ {
		select {
		case slot := <-g.blocked:
			require.Equal(t, i%slots, slot)
		case err := <-errs:
			t.Fatal(err)
		}
		require.Len(t, done, 0)
		require.Equal(t, slots, g.Pending())

		g.completeOldest()
		require.Equal(t, i, <-done)
	}

	require.Equal(t, slots, g.maxPending)
}

func TestImageIndexIsIndependentOfSlot(t *testing.T) {
	g := newFakeGPU(2, 3)
	order := []int{2, 0, 1, 1, 2, 0, 0}
	for _, image := range order {
		g.acquires = append(g.acquires, acquireResult{image: image})
	}
	s := newTestScheduler(t, g, 2)

	for range order {
		require.NoError(t, s.RenderFrame())
	}

	require.Len(t, g.recordings, len(order))
	diverged := 0
	for i, r := range g.recordings {
		require.Equal(t, i%2, r.CommandBuffer)
		require.Equal(t, order[i], r.Framebuffer)
		require.Equal(t, order[i], r.DescriptorSet)
		if r.CommandBuffer != r.Framebuffer {
			diverged++
		}
	}
	require.Positive(t, diverged)
	require.Equal(t, uint64(len(order)), s.Stats().FramesPresented)
}

func TestSuboptimalAcquireSkipsDraw(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.acquires = []acquireResult{{image: 1, suboptimal: true}}
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "discard 0", "recreate 640x480",
	}, g.Events())
	require.Equal(t, 0, s.CurrentSlot())
	require.Empty(t, g.recordings)
	require.Empty(t, g.presented)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, []string{
		"wait 0", "acquire 0", "reset 0", "update 0", "record 0", "submit 0", "present 0",
	}, g.Events()[5:])
	require.Len(t, g.recordings, 1)

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.FramesSkipped)
	require.Equal(t, uint64(1), stats.FramesPresented)
	require.Equal(t, uint64(1), stats.Recreations)
}

func TestOutOfDateAcquireLeavesFenceSignaled(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.autoComplete = false
	g.acquires = []acquireResult{{err: gpuerr.Mark(errors.New("VK_ERROR_OUT_OF_DATE_KHR"), gpuerr.ErrSwapchainStale)}}
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, []string{"wait 0", "acquire 0", "recreate 640x480"}, g.Events())
	require.Equal(t, SlotIdle, s.SlotState(0))

	// The same slot is used again and its fence was never reset.
	require.NoError(t, s.RenderFrame())
	require.Len(t, g.blocked, 0)
	require.Equal(t, 1, s.CurrentSlot())
	require.Equal(t, SlotSubmitted, s.SlotState(0))
	require.Equal(t, 1, s.Outstanding())
}

func TestResizeMidFrame(t *testing.T) {
	g := newFakeGPU(2, 3)
	s := newTestScheduler(t, g, 2)
	resized := Extent{Width: 800, Height: 600}

	g.onRecord = func(f Frame) {
		if f.Number == 0 {
			s.NotifyResized(resized)
		}
	}

	require.NoError(t, s.RenderFrame())
	require.Len(t, g.presented, 1)
	require.Equal(t, startExtent, g.presented[0].Extent)
	require.Equal(t, []Extent{resized}, g.recreated)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, resized, g.presented[1].Extent)
	require.Equal(t, resized, g.recordings[1].Extent)
	require.Equal(t, uint64(1), s.Stats().Recreations)
}

func TestStalePresentRecreates(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.presents = []presentResult{
		{err: gpuerr.Mark(errors.New("VK_ERROR_OUT_OF_DATE_KHR"), gpuerr.ErrSwapchainStale)},
		{suboptimal: true},
	}
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, 1, s.CurrentSlot())
	require.Len(t, g.recreated, 1)

	require.NoError(t, s.RenderFrame())
	require.Equal(t, 0, s.CurrentSlot())
	require.Len(t, g.recreated, 2)

	require.NoError(t, s.RenderFrame())
	require.Len(t, g.recreated, 2)
	require.Len(t, g.presented, 3)

	// The out-of-date present never reached the screen.
	stats := s.Stats()
	require.Equal(t, uint64(2), stats.FramesPresented)
	require.Equal(t, uint64(1), stats.FramesSkipped)
}

func TestFatalErrorLatches(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.submitErr = gpuerr.Mark(errors.New("VK_ERROR_DEVICE_LOST"), gpuerr.ErrDeviceLost)
	s := newTestScheduler(t, g, 2)

	err := s.RenderFrame()
	require.Error(t, err)
	require.True(t, gpuerr.IsDeviceLost(err))
	stage, ok := gpuerr.StageOf(err)
	require.True(t, ok)
	require.Equal(t, gpuerr.StageSubmit, stage)

	events := g.Events()
	require.Equal(t, err, s.RenderFrame())
	require.Equal(t, events, g.Events())
	require.Equal(t, err, s.Err())
}

func TestOutOfRangeImageIsUsageError(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.acquires = []acquireResult{{image: 3}}
	s := newTestScheduler(t, g, 2)

	err := s.RenderFrame()
	require.True(t, errors.Is(err, gpuerr.ErrUsage))
}

func TestMinimizedWindowDefersRecreation(t *testing.T) {
	g := newFakeGPU(2, 3)
	s := newTestScheduler(t, g, 2)

	s.NotifyResized(Extent{})
	require.NoError(t, s.RenderFrame())
	require.Empty(t, g.recreated)

	before := len(g.Events())
	require.NoError(t, s.RenderFrame())
	require.Len(t, g.Events(), before)
	require.Equal(t, uint64(1), s.Stats().FramesSkipped)

	restored := Extent{Width: 1024, Height: 768}
	s.NotifyResized(restored)
	require.NoError(t, s.RenderFrame())
	require.Equal(t, []Extent{restored}, g.recreated)
	require.Equal(t, restored, g.presented[len(g.presented)-1].Extent)
	require.Equal(t, uint64(2), s.Stats().FramesPresented)
}

func TestRestoredWindowResumesWithoutResizeEvent(t *testing.T) {
	g := newFakeGPU(2, 3)
	drawable := Extent{}
	s, err := NewScheduler(g, Options{
		FramesInFlight: 2,
		Chain:          Chain{ImageCount: g.imageCount, Extent: startExtent},
		Drawable:       func() Extent { return drawable },
	})
	require.NoError(t, err)

	s.NotifyResized(Extent{})
	require.NoError(t, s.RenderFrame())
	require.NoError(t, s.RenderFrame())
	require.Empty(t, g.recreated)
	require.Equal(t, uint64(1), s.Stats().FramesSkipped)

	drawable = Extent{Width: 800, Height: 600}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RenderFrame())
	}
	require.Equal(t, []Extent{drawable}, g.recreated)
	require.Equal(t, drawable, s.Chain().Extent)

	stats := s.Stats()
	require.Equal(t, uint64(4), stats.FramesPresented)
	require.Equal(t, uint64(1), stats.FramesSkipped)
	require.Equal(t, uint64(1), stats.Recreations)
}

func TestStaleRecreationIdlesSlots(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.autoComplete = false
	g.presents = []presentResult{{suboptimal: true}}
	g.recreateErrs = []error{gpuerr.Mark(errors.New("surface extent 0x0 is empty"), gpuerr.ErrSwapchainStale)}
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.Zero(t, g.Pending())
	require.Zero(t, s.Outstanding())
	require.Equal(t, SlotIdle, s.SlotState(0))
}

func TestStaleRecreationIsRetried(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.presents = []presentResult{{suboptimal: true}}
	g.recreateErrs = []error{gpuerr.Mark(errors.New("surface extent 0x0 is empty"), gpuerr.ErrSwapchainStale)}
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.Empty(t, g.recreated)
	require.Zero(t, s.Stats().Recreations)

	require.NoError(t, s.RenderFrame())
	require.Len(t, g.recreated, 1)
	require.Equal(t, uint64(2), s.Stats().FramesPresented)
	require.NoError(t, s.Err())
}

func TestRecreateFailureIsFatal(t *testing.T) {
	g := newFakeGPU(2, 3)
	g.presents = []presentResult{{suboptimal: true}}
	g.recreateErrs = []error{gpuerr.Mark(errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY"), gpuerr.ErrResourceExhaustion)}
	s := newTestScheduler(t, g, 2)

	err := s.RenderFrame()
	require.True(t, errors.Is(err, gpuerr.ErrResourceExhaustion))
	stage, ok := gpuerr.StageOf(err)
	require.True(t, ok)
	require.Equal(t, gpuerr.StageRecreate, stage)
}

func TestElapsedComesFromSchedulerClock(t *testing.T) {
	g := newFakeGPU(2, 3)
	s := newTestScheduler(t, g, 2)

	require.NoError(t, s.RenderFrame())
	require.NoError(t, s.RenderFrame())
	require.Less(t, g.presented[0].Elapsed, g.presented[1].Elapsed)
	require.Positive(t, s.Stats().LastFrameCPU)
}

func TestPlanIndexedAndDirect(t *testing.T) {
	f := Frame{Slot: 1, ImageIndex: 2, Extent: startExtent}

	r := Plan(f, DrawParams{IndexCount: 36, VertexCount: 24, ClearDepth: true})
	require.Equal(t, 1, r.CommandBuffer)
	require.Equal(t, 2, r.Framebuffer)
	require.Equal(t, 2, r.DescriptorSet)
	require.True(t, r.Indexed)
	require.Equal(t, 36, r.Count)
	require.True(t, r.ClearDepth)

	r = Plan(f, DrawParams{VertexCount: 3})
	require.False(t, r.Indexed)
	require.Equal(t, 3, r.Count)
}
