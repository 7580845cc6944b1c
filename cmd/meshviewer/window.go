package main

import (
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/frame"
)

// sdlWindow adapts an SDL window to renderer.Target.
type sdlWindow struct {
	window *sdl.Window
}

func (w sdlWindow) InstanceExtensions() ([]string, error) {
	return w.window.VulkanGetInstanceExtensions(), nil
}

func (w sdlWindow) CreateSurface(inst *device.Instance) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(inst.Driver.Instance(), inst.Surface, w.window)
}

func (w sdlWindow) DrawableSize() frame.Extent {
	width, height := w.window.VulkanGetDrawableSize()
	return frame.Extent{Width: int(width), Height: int(height)}
}
