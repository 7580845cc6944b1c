package device

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// DepthFormats are tried in order when a depth attachment is requested.
var DepthFormats = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

// FormatFeatures returns the linear and optimal tiling features of a format.
type FormatFeatures func(format core1_0.Format) (linear, optimal core1_0.FormatFeatureFlags)

// ChooseFormat returns the first candidate supporting features with tiling.
func ChooseFormat(candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags, lookup FormatFeatures) (core1_0.Format, error) {
	for _, format := range candidates {
		linear, optimal := lookup(format)
		if tiling == core1_0.ImageTilingLinear && linear&features == features {
			return format, nil
		}
		if tiling == core1_0.ImageTilingOptimal && optimal&features == features {
			return format, nil
		}
	}
	return 0, gpuerr.Initialization("none of %d formats supports %v with tiling %v", len(candidates), features, tiling)
}

func HasStencil(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}
