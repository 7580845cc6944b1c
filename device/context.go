package device

import (
	"log/slog"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/lifetime"
	"github.com/vkngwrapper/framecore/memory"
)

// Context is the selected GPU and everything that lives as long as the
// logical device.
type Context struct {
	Instance       *Instance
	Surface        khr_surface.Surface
	PhysicalDevice core1_0.PhysicalDevice
	Properties     *core1_0.PhysicalDeviceProperties
	Families       QueueFamilies

	Driver      core1_0.CoreDeviceDriver
	Allocator   *memory.Allocator
	CommandPool core1_0.CommandPool
	Lifetime    *lifetime.Manager

	queues [RoleTransfer + 1]core1_0.Queue
	logger *slog.Logger
}

// Create selects the first physical device with a queue family that can both
// draw and present to surface, and builds the logical device on it.
func Create(inst *Instance, surface khr_surface.Surface, lt *lifetime.Manager, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	physicalDevices, res, err := inst.Driver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "physical devices")
	}

	candidates := make([]Candidate, 0, len(physicalDevices))
	for _, pd := range physicalDevices {
		c, err := describe(inst, surface, pd)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}

	chosen, families, err := SelectDevice(candidates)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Instance:       inst,
		Surface:        surface,
		PhysicalDevice: physicalDevices[chosen],
		Families:       families,
		Lifetime:       lt,
		logger:         logger,
	}

	c.Properties, err = inst.Driver.GetPhysicalDeviceProperties(c.PhysicalDevice)
	if err != nil {
		return nil, gpuerr.At(err, gpuerr.StageInit, candidates[chosen].Name)
	}
	logger.Info("device selected",
		"name", c.Properties.DriverName,
		"type", c.Properties.DriverType,
		"pipelineCacheUUID", c.Properties.PipelineCacheUUID.String(),
		"graphicsFamily", families.Graphics,
		"computeFamily", families.Compute,
		"transferFamily", families.Transfer)

	err = c.createLogicalDevice(candidates[chosen])
	if err != nil {
		return nil, err
	}

	memProps := inst.Driver.GetPhysicalDeviceMemoryProperties(c.PhysicalDevice)
	c.Allocator = memory.NewAllocator(c.Driver, memProps.MemoryTypes, logger)
	lt.Register(lifetime.TierAllocator, "allocator", func() {
		if err := c.Allocator.CheckLeaks(); err != nil {
			logger.Error("allocator leak", "err", err)
		}
	})

	c.CommandPool, res, err = c.Driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: families.Graphics,
	})
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "command pool")
	}
	lt.Register(lifetime.TierCommandPool, "command pool", func() {
		c.Driver.DestroyCommandPool(c.CommandPool, nil)
	})

	return c, nil
}

func describe(inst *Instance, surface khr_surface.Surface, pd core1_0.PhysicalDevice) (Candidate, error) {
	props, err := inst.Driver.GetPhysicalDeviceProperties(pd)
	if err != nil {
		return Candidate{}, gpuerr.At(err, gpuerr.StageInit, "physical device properties")
	}
	c := Candidate{Name: props.DriverName, Extensions: map[string]bool{}}

	for idx, family := range inst.Driver.GetPhysicalDeviceQueueFamilyProperties(pd) {
		supported, res, err := inst.Surface.GetPhysicalDeviceSurfaceSupport(surface, pd, idx)
		if err != nil {
			return Candidate{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, c.Name)
		}
		c.Families = append(c.Families, Family{Flags: family.QueueFlags, Present: supported})
	}

	extensions, res, err := inst.Driver.EnumerateDeviceExtensionProperties(pd)
	if err != nil {
		return Candidate{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, c.Name)
	}
	for name := range extensions {
		c.Extensions[name] = true
	}

	// Surface queries are only meaningful once the swapchain extension exists.
	if requireExtensions(c.Extensions, RequiredExtensions) == nil {
		formats, res, err := inst.Surface.GetPhysicalDeviceSurfaceFormats(surface, pd)
		if err != nil {
			return Candidate{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, c.Name)
		}
		modes, res, err := inst.Surface.GetPhysicalDeviceSurfacePresentModes(surface, pd)
		if err != nil {
			return Candidate{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, c.Name)
		}
		c.SurfaceFormats = len(formats)
		c.PresentModes = len(modes)
	}

	return c, nil
}

func (c *Context) createLogicalDevice(candidate Candidate) error {
	var queueInfos []core1_0.DeviceQueueCreateInfo
	for _, family := range c.Families.Unique() {
		queueInfos = append(queueInfos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	extensionNames := append([]string(nil), RequiredExtensions...)
	// Required wherever the implementation offers it (MoltenVK).
	if candidate.Extensions[khr_portability_subset.ExtensionName] {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	handle, res, err := c.Instance.Driver.CreateDevice(c.PhysicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueInfos,
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "logical device")
	}
	driver, err := c.Instance.Driver.BuildDeviceDriver(handle)
	if err != nil {
		return gpuerr.At(gpuerr.Mark(err, gpuerr.ErrInitialization), gpuerr.StageInit, "device driver")
	}
	c.Driver = driver
	c.Lifetime.Register(lifetime.TierDevice, "device", func() {
		c.Driver.DestroyDevice(nil)
	})
	c.Lifetime.SetWaitIdle(c.WaitIdle)

	for role := RoleGraphics; role <= RoleTransfer; role++ {
		c.queues[role] = driver.GetQueue(c.Families.Index(role), 0)
	}

	c.logger.Info("logical device created", "extensions", extensionNames, "families", c.Families.Unique())
	return nil
}

func (c *Context) Queue(role Role) core1_0.Queue {
	return c.queues[role]
}

// WaitIdle blocks until the device has finished all submitted work.
func (c *Context) WaitIdle() error {
	res, err := c.Driver.DeviceWaitIdle()
	return vkcheck.Check(res, err)
}

// FormatFeatures looks up tiling features on the selected device.
func (c *Context) FormatFeatures(format core1_0.Format) (linear, optimal core1_0.FormatFeatureFlags) {
	props := c.Instance.Driver.GetPhysicalDeviceFormatProperties(c.PhysicalDevice, format)
	return props.LinearTilingFeatures, props.OptimalTilingFeatures
}

// DepthFormat picks the first depth format usable as an optimal-tiling
// attachment.
func (c *Context) DepthFormat() (core1_0.Format, error) {
	return ChooseFormat(DepthFormats, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment, c.FormatFeatures)
}
