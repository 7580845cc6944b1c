// Package lifetime centralizes destruction of device objects. Every object is
// registered under a Tier when it is created; teardown walks the tiers in a
// fixed order so a handle is always destroyed before anything it was built
// from.
package lifetime

import (
	"log/slog"

	"github.com/vkngwrapper/framecore/gpuerr"
)

type Tier int

// Tiers in destruction order. Everything up to and including
// TierDescriptorPool depends on the window size.
const (
	TierFramebuffers Tier = iota
	TierCommandBuffers
	TierImageViews
	TierAttachments
	TierSwapchain
	TierPerImage
	TierDescriptorPool

	TierSyncObjects
	TierCommandPool
	TierStaticBuffers
	TierPipeline
	TierPipelineLayout
	TierRenderPass
	TierDescriptorSetLayout
	TierAllocator
	TierSurface
	TierDevice
	TierDebugMessenger
	TierInstance

	tierCount
)

const lastSwapchainTier = TierDescriptorPool

var tierNames = [...]string{
	TierFramebuffers:        "framebuffers",
	TierCommandBuffers:      "command buffers",
	TierImageViews:          "image views",
	TierAttachments:         "attachments",
	TierSwapchain:           "swapchain",
	TierPerImage:            "per-image resources",
	TierDescriptorPool:      "descriptor pool",
	TierSyncObjects:         "sync objects",
	TierCommandPool:         "command pool",
	TierStaticBuffers:       "static buffers",
	TierPipeline:            "pipeline",
	TierPipelineLayout:      "pipeline layout",
	TierRenderPass:          "render pass",
	TierDescriptorSetLayout: "descriptor set layout",
	TierAllocator:           "allocator",
	TierSurface:             "surface",
	TierDevice:              "device",
	TierDebugMessenger:      "debug messenger",
	TierInstance:            "instance",
}

func (t Tier) String() string {
	if t < 0 || t >= tierCount {
		return "unknown"
	}
	return tierNames[t]
}

// SwapchainDependent reports whether t is torn down on recreation.
func (t Tier) SwapchainDependent() bool {
	return t <= lastSwapchainTier
}

type entry struct {
	name    string
	destroy func()
}

// Manager owns the destroy functions for every live device object.
// It is not safe for concurrent use; all calls come from the render thread.
type Manager struct {
	waitIdle func() error
	logger   *slog.Logger

	tiers  [tierCount][]entry
	closed bool
}

// New creates a Manager. waitIdle is called before any teardown that has
// something to destroy; it must block until the device has no work in flight.
func New(waitIdle func() error, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{waitIdle: waitIdle, logger: logger}
}

// Register records destroy under tier. Within a tier, objects are destroyed
// in reverse registration order. Registering after TeardownAll panics.
func (m *Manager) Register(tier Tier, name string, destroy func()) {
	if tier < 0 || tier >= tierCount {
		panic(gpuerr.Usage("lifetime: unknown tier %d for %s", tier, name))
	}
	if m.closed {
		panic(gpuerr.Usage("lifetime: %s registered after full teardown", name))
	}
	m.tiers[tier] = append(m.tiers[tier], entry{name: name, destroy: destroy})
}

// SetWaitIdle replaces the idle barrier. The device context installs it once
// the logical device exists.
func (m *Manager) SetWaitIdle(waitIdle func() error) {
	m.waitIdle = waitIdle
}

// Pending returns how many objects are registered under tier.
func (m *Manager) Pending(tier Tier) int {
	if tier < 0 || tier >= tierCount {
		return 0
	}
	return len(m.tiers[tier])
}

func (m *Manager) Closed() bool {
	return m.closed
}

// TeardownSwapchainDependent destroys every window-size-dependent object and
// leaves the rest alive.
func (m *Manager) TeardownSwapchainDependent() error {
	return m.teardown(lastSwapchainTier)
}

// TeardownAll destroys everything and closes the manager. Calling it again is
// a no-op.
func (m *Manager) TeardownAll() error {
	err := m.teardown(tierCount - 1)
	if err != nil {
		return err
	}
	m.closed = true
	return nil
}

func (m *Manager) teardown(last Tier) error {
	if !m.hasWork(last) {
		return nil
	}

	// The device itself may be in the range; wait while it still exists.
	if m.waitIdle != nil {
		err := m.waitIdle()
		if err != nil && !gpuerr.IsDeviceLost(err) {
			return gpuerr.At(err, gpuerr.StageTeardown, "device")
		}
		if err != nil {
			m.logger.Error("device lost before teardown; destroying anyway", "err", err)
		}
	}

	for tier := Tier(0); tier <= last; tier++ {
		entries := m.tiers[tier]
		m.tiers[tier] = nil
		if len(entries) == 0 {
			continue
		}

		m.logger.Debug("destroying", "tier", tier.String(), "count", len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].destroy()
		}

		if tier == TierDevice {
			m.waitIdle = nil
		}
	}

	return nil
}

func (m *Manager) hasWork(last Tier) bool {
	for tier := Tier(0); tier <= last; tier++ {
		if len(m.tiers[tier]) > 0 {
			return true
		}
	}
	return false
}
