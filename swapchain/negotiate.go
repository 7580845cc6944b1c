package swapchain

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// undefinedExtent is the width a surface reports when the swapchain decides
// its own size.
const undefinedExtent = -1

// PreferredFormat is used whenever the surface offers it.
var PreferredFormat = khr_surface.SurfaceFormat{
	Format:     core1_0.FormatB8G8R8A8SRGB,
	ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
}

// Negotiation is the outcome of matching a surface's capabilities against
// what the renderer wants.
type Negotiation struct {
	Format      khr_surface.SurfaceFormat
	PresentMode khr_surface.PresentMode
	Extent      core1_0.Extent2D
	ImageCount  int
	Transform   khr_surface.SurfaceTransformFlags
}

func ChooseSurfaceFormat(formats []khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, error) {
	if len(formats) == 0 {
		return khr_surface.SurfaceFormat{}, gpuerr.Initialization("surface reports no formats")
	}
	for _, format := range formats {
		if format == PreferredFormat {
			return format, nil
		}
	}
	return formats[0], nil
}

// ChoosePresentMode returns preferred when the surface offers it and FIFO,
// which every surface supports, otherwise.
func ChoosePresentMode(modes []khr_surface.PresentMode, preferred khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == preferred {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

// ChooseExtent uses the surface's current extent unless the surface leaves
// the choice to the swapchain, in which case drawable (in pixels) is clamped
// into the supported range.
func ChooseExtent(caps *khr_surface.SurfaceCapabilities, drawable core1_0.Extent2D) core1_0.Extent2D {
	if caps.CurrentExtent.Width != undefinedExtent {
		return caps.CurrentExtent
	}

	return core1_0.Extent2D{
		Width:  clamp(drawable.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(drawable.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ChooseImageCount asks for one image more than the minimum so the
// application never waits on the driver to release one. A MaxImageCount of
// zero means there is no upper limit.
func ChooseImageCount(caps *khr_surface.SurfaceCapabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func Negotiate(caps *khr_surface.SurfaceCapabilities, formats []khr_surface.SurfaceFormat, modes []khr_surface.PresentMode, drawable core1_0.Extent2D, preferredMode khr_surface.PresentMode) (Negotiation, error) {
	format, err := ChooseSurfaceFormat(formats)
	if err != nil {
		return Negotiation{}, err
	}

	return Negotiation{
		Format:      format,
		PresentMode: ChoosePresentMode(modes, preferredMode),
		Extent:      ChooseExtent(caps, drawable),
		ImageCount:  ChooseImageCount(caps),
		Transform:   caps.CurrentTransform,
	}, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
