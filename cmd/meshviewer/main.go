// Command meshviewer opens a window and spins a mesh in it until the window is
// closed.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/config"
	"github.com/vkngwrapper/framecore/pipeline"
	"github.com/vkngwrapper/framecore/renderer"
)

type app struct {
	cfg    config.Config
	logger *slog.Logger

	window   *sdl.Window
	renderer *renderer.Renderer
}

func (a *app) Run() error {
	err := a.initWindow()
	if err != nil {
		return err
	}
	defer sdl.Quit()
	defer a.window.Destroy()

	err = a.initRenderer()
	if err != nil {
		return err
	}
	defer a.cleanup()

	return a.mainLoop()
}

func (a *app) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "sdl init")
	}

	window, err := sdl.CreateWindow(a.cfg.AppName, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(a.cfg.Width), int32(a.cfg.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return errors.Wrap(err, "create window")
	}
	a.window = window
	return nil
}

func (a *app) initRenderer() error {
	globalDriver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return errors.Wrap(err, "vulkan loader")
	}

	shaders, err := pipeline.LoadShaderStages(context.Background(), os.DirFS(a.cfg.ShaderDir), map[core1_0.ShaderStageFlags]string{
		core1_0.StageVertex:   a.cfg.VertexShader,
		core1_0.StageFragment: a.cfg.FragmentShader,
	})
	if err != nil {
		return err
	}

	var mesh renderer.Mesh
	if a.cfg.MeshPath != "" {
		mesh, err = openMesh(a.cfg.MeshPath)
		if err != nil {
			return err
		}
	}

	cacheData, err := a.readPipelineCache()
	if err != nil {
		return err
	}

	a.renderer, err = renderer.New(globalDriver, sdlWindow{window: a.window}, renderer.Options{
		Config:    a.cfg,
		Shaders:   shaders,
		Mesh:      mesh,
		CacheData: cacheData,
		Logger:    a.logger,
	})
	return err
}

func (a *app) mainLoop() error {
	rendering := true

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
					drawable := sdlWindow{window: a.window}.DrawableSize()
					rendering = !drawable.Empty()
					a.renderer.NotifyResized(drawable)
				}
			}
		}

		if !rendering {
			sdl.Delay(16)
			continue
		}

		err := a.renderer.RenderFrame()
		if err != nil {
			return err
		}
	}

	stats := a.renderer.Stats()
	a.logger.Info("window closed",
		"presented", stats.FramesPresented,
		"skipped", stats.FramesSkipped,
		"recreations", stats.Recreations)
	return nil
}

func (a *app) readPipelineCache() ([]byte, error) {
	if a.cfg.PipelineCachePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(a.cfg.PipelineCachePath)
	if os.IsNotExist(err) {
		a.logger.Info("pipeline cache miss", "path", a.cfg.PipelineCachePath)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read pipeline cache")
	}
	return data, nil
}

func (a *app) writePipelineCache() {
	if a.cfg.PipelineCachePath == "" {
		return
	}
	data, err := a.renderer.CacheData()
	if err != nil {
		a.logger.Warn("pipeline cache not saved", "err", err)
		return
	}
	err = os.WriteFile(a.cfg.PipelineCachePath, data, 0o644)
	if err != nil {
		a.logger.Warn("pipeline cache not saved", "path", a.cfg.PipelineCachePath, "err", err)
		return
	}
	a.logger.Info("pipeline cache saved", "path", a.cfg.PipelineCachePath, "bytes", len(data))
}

func (a *app) cleanup() {
	a.writePipelineCache()
	if err := a.renderer.Destroy(); err != nil {
		a.logger.Error("teardown", "err", err)
	}
}

func main() {
	// SDL and the Vulkan surface must stay on the main thread.
	runtime.LockOSThread()

	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("%+v\n", err)
	}

	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
	}

	err := a.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
