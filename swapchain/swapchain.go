// Package swapchain negotiates presentation with a surface and owns every
// window-size-dependent image: the presentable images, their views, the
// optional depth attachment and one framebuffer per image.
package swapchain

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/lifetime"
	"github.com/vkngwrapper/framecore/memory"
)

type Options struct {
	// VSync restricts presentation to FIFO. Otherwise mailbox is preferred
	// and FIFO is the fallback.
	VSync bool
	// Depth adds a depth attachment sized to the swapchain.
	Depth  bool
	Logger *slog.Logger
}

type Swapchain struct {
	ctx    *device.Context
	ext    khr_swapchain.ExtensionDriver
	opts   Options
	logger *slog.Logger

	Handle      khr_swapchain.Swapchain
	Format      khr_surface.SurfaceFormat
	PresentMode khr_surface.PresentMode
	Extent      core1_0.Extent2D

	Images       []core1_0.Image
	Views        []core1_0.ImageView
	Framebuffers []core1_0.Framebuffer

	DepthFormat core1_0.Format
	Depth       *memory.Image
	DepthView   core1_0.ImageView

	renderPass core1_0.RenderPass
}

// New negotiates and builds the swapchain, its image views and the depth
// attachment. Framebuffers are added by AttachRenderPass once the render
// pass exists.
func New(ctx *device.Context, drawable core1_0.Extent2D, opts Options) (*Swapchain, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Swapchain{
		ctx:    ctx,
		ext:    khr_swapchain.CreateExtensionDriverFromCoreDriver(ctx.Driver),
		opts:   opts,
		logger: logger,
	}

	if opts.Depth {
		var err error
		s.DepthFormat, err = ctx.DepthFormat()
		if err != nil {
			return nil, err
		}
	}

	err := s.build(drawable)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ImageCount is the number of presentable images in the current chain.
func (s *Swapchain) ImageCount() int {
	return len(s.Images)
}

// AttachRenderPass creates one framebuffer per image for rp and remembers rp
// for later recreations.
func (s *Swapchain) AttachRenderPass(rp core1_0.RenderPass) error {
	if s.renderPass.Initialized() {
		return gpuerr.Usage("swapchain: render pass already attached")
	}
	s.renderPass = rp

	fbs, err := s.builder().framebuffers(s.Views)
	if err != nil {
		return err
	}
	s.Framebuffers = fbs
	s.registerFramebuffers()
	return nil
}

// Recreate rebuilds every window-size-dependent object for drawable. The
// previous chain must already have been torn down through the lifetime
// manager, which waits for the device to go idle first. The color format
// cannot change: the render pass was built for it.
func (s *Swapchain) Recreate(drawable core1_0.Extent2D) error {
	if s.ctx.Lifetime.Pending(lifetime.TierSwapchain) > 0 {
		return gpuerr.Usage("swapchain: recreate before the previous chain was torn down")
	}

	previous := s.Format
	err := s.build(drawable)
	if err != nil {
		return err
	}
	if s.Format != previous {
		return gpuerr.Initialization("swapchain: surface format changed from %v to %v; the render pass cannot follow", previous.Format, s.Format.Format)
	}
	return nil
}

func (s *Swapchain) builder() chainBuilder[core1_0.Image, core1_0.ImageView, core1_0.Framebuffer] {
	driver := s.ctx.Driver
	return chainBuilder[core1_0.Image, core1_0.ImageView, core1_0.Framebuffer]{
		createView: func(i int, image core1_0.Image) (core1_0.ImageView, error) {
			view, res, err := driver.CreateImageView(nil, colorViewInfo(image, s.Format.Format))
			if err != nil {
				return core1_0.ImageView{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, imageName("view", i))
			}
			return view, nil
		},
		destroyView: func(view core1_0.ImageView) {
			driver.DestroyImageView(view, nil)
		},
		createFramebuffer: func(i int, view core1_0.ImageView) (core1_0.Framebuffer, error) {
			attachments := []core1_0.ImageView{view}
			if s.DepthView.Initialized() {
				attachments = append(attachments, s.DepthView)
			}
			fb, res, err := driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
				RenderPass:  s.renderPass,
				Attachments: attachments,
				Width:       s.Extent.Width,
				Height:      s.Extent.Height,
				Layers:      1,
			})
			if err != nil {
				return core1_0.Framebuffer{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, imageName("framebuffer", i))
			}
			return fb, nil
		},
		destroyFramebuffer: func(fb core1_0.Framebuffer) {
			driver.DestroyFramebuffer(fb, nil)
		},
	}
}

// build creates a complete chain or nothing. Objects are registered with the
// lifetime manager only once every one of them exists.
func (s *Swapchain) build(drawable core1_0.Extent2D) (err error) {
	ctx := s.ctx
	surfaceExt := ctx.Instance.Surface

	caps, res, err := surfaceExt.GetPhysicalDeviceSurfaceCapabilities(ctx.Surface, ctx.PhysicalDevice)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "surface capabilities")
	}
	formats, res, err := surfaceExt.GetPhysicalDeviceSurfaceFormats(ctx.Surface, ctx.PhysicalDevice)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "surface formats")
	}
	modes, res, err := surfaceExt.GetPhysicalDeviceSurfacePresentModes(ctx.Surface, ctx.PhysicalDevice)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "present modes")
	}

	n, err := Negotiate(caps, formats, modes, drawable, s.preferredMode())
	if err != nil {
		return err
	}
	if n.Extent.Width <= 0 || n.Extent.Height <= 0 {
		// Minimized: the surface has no area until the window is restored.
		return gpuerr.Mark(errors.Newf("swapchain: surface extent %dx%d is empty", n.Extent.Width, n.Extent.Height), gpuerr.ErrSwapchainStale)
	}

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
			s.reset()
		}
	}()

	handle, res, err := s.ext.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface:          ctx.Surface,
		MinImageCount:    n.ImageCount,
		ImageFormat:      n.Format.Format,
		ImageColorSpace:  n.Format.ColorSpace,
		ImageExtent:      n.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,
		ImageSharingMode: core1_0.SharingModeExclusive,
		PreTransform:     n.Transform,
		CompositeAlpha:   khr_surface.CompositeAlphaOpaque,
		PresentMode:      n.PresentMode,
		Clipped:          true,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "swapchain")
	}
	cleanup = append(cleanup, func() { s.ext.DestroySwapchain(handle, nil) })

	images, res, err := s.ext.GetSwapchainImages(handle)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "swapchain images")
	}

	s.Handle = handle
	s.Format = n.Format
	s.PresentMode = n.PresentMode
	s.Extent = n.Extent

	if s.opts.Depth {
		depth, err := ctx.CreateImage("depth", memory.ImageInfo{
			Width:  n.Extent.Width,
			Height: n.Extent.Height,
			Format: s.DepthFormat,
			Tiling: core1_0.ImageTilingOptimal,
			Usage:  core1_0.ImageUsageDepthStencilAttachment,
		}, memory.DeviceLocal)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, depth.Destroy)

		view, res, err := ctx.Driver.CreateImageView(nil, depthViewInfo(depth.Handle, s.DepthFormat))
		if err != nil {
			return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecreate, "depth view")
		}
		cleanup = append(cleanup, func() { ctx.Driver.DestroyImageView(view, nil) })

		s.Depth = depth
		s.DepthView = view
	}

	c, err := s.builder().build(images, s.renderPass.Initialized())
	if err != nil {
		return err
	}
	if len(c.views) != len(images) || (s.renderPass.Initialized() && len(c.framebuffers) != len(images)) {
		s.builder().destroy(c)
		return errors.AssertionFailedf("swapchain: %d images, %d views, %d framebuffers", len(images), len(c.views), len(c.framebuffers))
	}

	s.Images = c.images
	s.Views = c.views
	s.Framebuffers = c.framebuffers
	s.register()

	s.logger.Info("swapchain built",
		"images", len(images),
		"width", n.Extent.Width,
		"height", n.Extent.Height,
		"format", n.Format.Format,
		"presentMode", n.PresentMode,
		"depth", s.opts.Depth)
	return nil
}

func (s *Swapchain) preferredMode() khr_surface.PresentMode {
	if s.opts.VSync {
		return khr_surface.PresentModeFIFO
	}
	return khr_surface.PresentModeMailbox
}

func (s *Swapchain) register() {
	lt := s.ctx.Lifetime
	driver := s.ctx.Driver

	s.registerFramebuffers()
	for i, view := range s.Views {
		lt.Register(lifetime.TierImageViews, imageName("view", i), func() {
			driver.DestroyImageView(view, nil)
		})
	}
	if s.Depth != nil {
		depth, view := s.Depth, s.DepthView
		lt.Register(lifetime.TierImageViews, "depth view", func() {
			driver.DestroyImageView(view, nil)
		})
		lt.Register(lifetime.TierAttachments, "depth", depth.Destroy)
	}

	handle := s.Handle
	lt.Register(lifetime.TierSwapchain, "swapchain", func() {
		s.ext.DestroySwapchain(handle, nil)
		s.reset()
	})
}

func (s *Swapchain) registerFramebuffers() {
	driver := s.ctx.Driver
	for i, fb := range s.Framebuffers {
		s.ctx.Lifetime.Register(lifetime.TierFramebuffers, imageName("framebuffer", i), func() {
			driver.DestroyFramebuffer(fb, nil)
		})
	}
}

// reset forgets the handles of a destroyed chain. Format is kept so a
// recreation can detect a change.
func (s *Swapchain) reset() {
	s.Handle = khr_swapchain.Swapchain{}
	s.Images = nil
	s.Views = nil
	s.Framebuffers = nil
	s.Depth = nil
	s.DepthView = core1_0.ImageView{}
}

// Acquire requests the next presentable image. available is signaled when the
// image may be written. An out-of-date swapchain is reported as
// gpuerr.ErrSwapchainStale; a suboptimal one returns a usable index with
// suboptimal set, and the caller must not draw into it.
func (s *Swapchain) Acquire(available core1_0.Semaphore, timeout time.Duration) (index int, suboptimal bool, err error) {
	index, res, err := s.ext.AcquireNextImage(s.Handle, timeout, &available, nil)
	if res == khr_swapchain.VKSuboptimal {
		return index, true, nil
	}
	err = vkcheck.Check(res, err)
	if err != nil {
		return -1, false, err
	}
	return index, false, nil
}

// Present queues image index for display once wait is signaled. It reports
// staleness the same way Acquire does.
func (s *Swapchain) Present(queue core1_0.Queue, wait core1_0.Semaphore, index int) (suboptimal bool, err error) {
	res, err := s.ext.QueuePresent(queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait},
		Swapchains:     []khr_swapchain.Swapchain{s.Handle},
		ImageIndices:   []int{index},
	})
	if res == khr_swapchain.VKSuboptimal {
		return true, nil
	}
	return false, vkcheck.Check(res, err)
}

func colorViewInfo(image core1_0.Image, format core1_0.Format) core1_0.ImageViewCreateInfo {
	return viewInfo(image, format, core1_0.ImageAspectColor)
}

func depthViewInfo(image core1_0.Image, format core1_0.Format) core1_0.ImageViewCreateInfo {
	aspect := core1_0.ImageAspectDepth
	if device.HasStencil(format) {
		aspect |= core1_0.ImageAspectStencil
	}
	return viewInfo(image, format, aspect)
}

// viewInfo describes a single-level, single-layer 2D view with the identity
// swizzle.
func viewInfo(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) core1_0.ImageViewCreateInfo {
	return core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		Components: core1_0.ComponentMapping{
			R: core1_0.ComponentSwizzleIdentity,
			G: core1_0.ComponentSwizzleIdentity,
			B: core1_0.ComponentSwizzleIdentity,
			A: core1_0.ComponentSwizzleIdentity,
		},
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
}

func imageName(kind string, i int) string {
	return kind + " " + strconv.Itoa(i)
}
