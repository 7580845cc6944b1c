package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// Locality is the caller's hint for where an allocation should live.
type Locality int

const (
	// DeviceLocal memory is fast for the GPU and usually not mappable.
	DeviceLocal Locality = iota
	// HostVisible memory is mappable and coherent: staging and per-frame
	// uniforms.
	HostVisible
)

func (l Locality) String() string {
	switch l {
	case DeviceLocal:
		return "device-local"
	case HostVisible:
		return "host-visible"
	}
	return "unknown"
}

// PropertyFlags returns the memory properties l requires.
func (l Locality) PropertyFlags() core1_0.MemoryPropertyFlags {
	if l == HostVisible {
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}
	return core1_0.MemoryPropertyDeviceLocal
}

// FindMemoryType returns the first memory type allowed by typeBits that has
// every flag in want.
func FindMemoryType(types []core1_0.MemoryType, typeBits uint32, want core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range types {
		if i >= 32 {
			break
		}
		if typeBits&(1<<i) == 0 {
			continue
		}
		if memoryType.PropertyFlags&want == want {
			return i, nil
		}
	}

	return -1, gpuerr.Mark(
		errors.Newf("no memory type among %d matches bits %#x with properties %v", len(types), typeBits, want),
		gpuerr.ErrResourceExhaustion)
}
