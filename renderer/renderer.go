// Package renderer assembles a device, swapchain, pipeline and frame
// scheduler into something that draws one mesh per frame into a window.
package renderer

import (
	"log/slog"
	"time"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/framecore/config"
	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/frame"
	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/lifetime"
	"github.com/vkngwrapper/framecore/pipeline"
	"github.com/vkngwrapper/framecore/swapchain"
)

// Target is the window being drawn into.
type Target interface {
	// InstanceExtensions lists what the instance needs to present to the
	// window.
	InstanceExtensions() ([]string, error)
	CreateSurface(inst *device.Instance) (khr_surface.Surface, error)
	// DrawableSize is the window's size in pixels, which can differ from its
	// size in screen coordinates.
	DrawableSize() frame.Extent
}

type Options struct {
	Config  config.Config
	Shaders pipeline.Shaders
	// Mesh defaults to Quad.
	Mesh Mesh
	// Transform defaults to SpinTransforms.
	Transform TransformFunc
	// CacheData seeds the pipeline cache.
	CacheData []byte
	Logger    *slog.Logger
}

type Renderer struct {
	logger    *slog.Logger
	lifetime  *lifetime.Manager
	ctx       *device.Context
	swapchain *swapchain.Swapchain
	pipeline  *pipeline.Pipeline
	backend   *vulkanBackend
	scheduler *frame.Scheduler

	destroyed bool
}

// New builds everything needed to render into target. On failure every
// object created so far is destroyed before the error is returned.
func New(global core1_0.GlobalDriver, target Target, opts Options) (r *Renderer, err error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, gpuerr.Mark(err, gpuerr.ErrUsage)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mesh := opts.Mesh
	if len(mesh.Vertices) == 0 {
		mesh = Quad()
	}
	if err := mesh.Validate(); err != nil {
		return nil, err
	}
	transform := opts.Transform
	if transform == nil {
		transform = SpinTransforms
	}

	r = &Renderer{
		logger:   logger,
		lifetime: lifetime.New(nil, logger.With("component", "lifetime")),
	}
	defer func() {
		if err != nil {
			if teardownErr := r.lifetime.TeardownAll(); teardownErr != nil {
				logger.Error("teardown after failed init", "err", teardownErr)
			}
			r = nil
		}
	}()

	windowExtensions, err := target.InstanceExtensions()
	if err != nil {
		return nil, gpuerr.Mark(err, gpuerr.ErrInitialization)
	}

	inst, err := device.CreateInstance(global, device.InstanceOptions{
		AppName:          cfg.AppName,
		AppVersion:       common.CreateVersion(1, 0, 0),
		WindowExtensions: windowExtensions,
		Validation:       cfg.Validation,
		Logger:           logger.With("component", "instance"),
	}, r.lifetime)
	if err != nil {
		return nil, err
	}

	surface, err := target.CreateSurface(inst)
	if err != nil {
		return nil, gpuerr.At(gpuerr.Mark(err, gpuerr.ErrInitialization), gpuerr.StageInit, "surface")
	}
	inst.RegisterSurface(surface, r.lifetime)

	r.ctx, err = device.Create(inst, surface, r.lifetime, logger.With("component", "device"))
	if err != nil {
		return nil, err
	}

	drawable := target.DrawableSize()
	r.swapchain, err = swapchain.New(r.ctx, core1_0.Extent2D{Width: drawable.Width, Height: drawable.Height}, swapchain.Options{
		VSync:  cfg.VSync,
		Depth:  cfg.Depth,
		Logger: logger.With("component", "swapchain"),
	})
	if err != nil {
		return nil, err
	}

	r.pipeline, err = pipeline.Build(r.ctx, pipeline.Config{
		Attachments: pipeline.Attachments{
			ColorFormat: r.swapchain.Format.Format,
			Depth:       cfg.Depth,
			DepthFormat: r.swapchain.DepthFormat,
		},
		Shaders:   opts.Shaders,
		Vertex:    VertexLayout(),
		CacheData: opts.CacheData,
	}, logger.With("component", "pipeline"))
	if err != nil {
		return nil, err
	}

	err = r.swapchain.AttachRenderPass(r.pipeline.RenderPass)
	if err != nil {
		return nil, err
	}

	r.backend = &vulkanBackend{
		ctx:          r.ctx,
		sc:           r.swapchain,
		pipe:         r.pipeline,
		logger:       logger.With("component", "backend"),
		transform:    transform,
		fenceTimeout: timeoutOrForever(cfg.FenceTimeout),
		draw: frame.DrawParams{
			ClearColor: [4]float32(cfg.ClearColor),
			ClearDepth: cfg.Depth,
			IndexCount: len(mesh.Indices),
		},
	}

	err = r.uploadMesh(mesh)
	if err != nil {
		return nil, err
	}
	err = r.backend.createSyncObjects(cfg.FramesInFlight)
	if err != nil {
		return nil, err
	}
	err = r.backend.createPerImage()
	if err != nil {
		return nil, err
	}
	err = r.backend.allocateCommandBuffers()
	if err != nil {
		return nil, err
	}

	r.scheduler, err = frame.NewScheduler(r.backend, frame.Options{
		FramesInFlight: cfg.FramesInFlight,
		Chain:          r.backend.chain(),
		FenceTimeout:   timeoutOrForever(cfg.FenceTimeout),
		AcquireTimeout: timeoutOrForever(cfg.AcquireTimeout),
		Drawable:       target.DrawableSize,
		Logger:         logger.With("component", "scheduler"),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("renderer ready",
		"framesInFlight", cfg.FramesInFlight,
		"images", r.swapchain.ImageCount(),
		"vertices", len(mesh.Vertices),
		"indices", len(mesh.Indices))
	return r, nil
}

func (r *Renderer) uploadMesh(mesh Mesh) error {
	var err error
	r.backend.vertices, err = r.ctx.UploadBuffer("vertices", core1_0.BufferUsageVertexBuffer, mesh.Vertices)
	if err != nil {
		return err
	}
	r.lifetime.Register(lifetime.TierStaticBuffers, "vertices", r.backend.vertices.Destroy)

	if len(mesh.Indices) == 0 {
		r.backend.draw.VertexCount = len(mesh.Vertices)
		return nil
	}

	r.backend.indices, err = r.ctx.UploadBuffer("indices", core1_0.BufferUsageIndexBuffer, mesh.Indices)
	if err != nil {
		return err
	}
	r.lifetime.Register(lifetime.TierStaticBuffers, "indices", r.backend.indices.Destroy)
	return nil
}

// RenderFrame draws and presents one frame. Swapchain staleness is handled
// internally. Any error returned is fatal and is returned again by every
// later call.
func (r *Renderer) RenderFrame() error {
	if r.destroyed {
		return gpuerr.Usage("renderer: RenderFrame after Destroy")
	}
	return r.scheduler.RenderFrame()
}

// NotifyResized tells the renderer the window's drawable size changed. It may
// be called from any goroutine.
func (r *Renderer) NotifyResized(drawable frame.Extent) {
	r.scheduler.NotifyResized(drawable)
}

func (r *Renderer) Stats() frame.Stats {
	return r.scheduler.Stats()
}

// CacheData returns the pipeline cache contents for saving. It must be called
// before Destroy.
func (r *Renderer) CacheData() ([]byte, error) {
	if r.destroyed {
		return nil, gpuerr.Usage("renderer: CacheData after Destroy")
	}
	return r.pipeline.CacheData()
}

// Destroy waits for the device to go idle and destroys every object in
// dependency order. It is safe to call more than once, and after a fatal
// error including device loss.
func (r *Renderer) Destroy() error {
	if r.destroyed {
		return nil
	}
	err := r.lifetime.TeardownAll()
	if err != nil {
		return err
	}
	r.destroyed = true
	r.logger.Info("renderer destroyed", "stats", r.scheduler.Stats())
	return nil
}

func timeoutOrForever(d time.Duration) time.Duration {
	if d <= 0 {
		return frame.NoTimeout
	}
	return d
}
