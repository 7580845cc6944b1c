package device

import (
	"fmt"
	"strings"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// RequiredExtensions must be offered by a physical device for it to be used.
var RequiredExtensions = []string{khr_swapchain.ExtensionName}

// Family describes one queue family of a candidate device.
type Family struct {
	Flags   core1_0.QueueFlags
	Present bool
}

type Role int

const (
	RoleGraphics Role = iota
	RolePresent
	RoleCompute
	RoleTransfer
)

func (r Role) String() string {
	switch r {
	case RoleGraphics:
		return "graphics"
	case RolePresent:
		return "present"
	case RoleCompute:
		return "compute"
	case RoleTransfer:
		return "transfer"
	}
	return "unknown"
}

// QueueFamilies maps each role to a queue family index. Graphics and present
// always share a family.
type QueueFamilies struct {
	Graphics int
	Present  int
	Compute  int
	Transfer int

	// DedicatedCompute and DedicatedTransfer report whether the role found a
	// family of its own rather than falling back to the graphics family.
	DedicatedCompute  bool
	DedicatedTransfer bool
}

// Index returns the family index serving role.
func (q QueueFamilies) Index(role Role) int {
	switch role {
	case RolePresent:
		return q.Present
	case RoleCompute:
		return q.Compute
	case RoleTransfer:
		return q.Transfer
	}
	return q.Graphics
}

// Unique returns the distinct family indices in role order.
func (q QueueFamilies) Unique() []int {
	var out []int
	seen := map[int]bool{}
	for _, idx := range []int{q.Graphics, q.Present, q.Compute, q.Transfer} {
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// SelectQueueFamilies picks the first family that supports both graphics and
// presentation. Compute and transfer prefer a dedicated family and fall back
// to the graphics family.
func SelectQueueFamilies(families []Family) (QueueFamilies, bool) {
	q := QueueFamilies{Graphics: -1, Compute: -1, Transfer: -1}

	for i, family := range families {
		if q.Graphics < 0 && family.Flags&core1_0.QueueGraphics != 0 && family.Present {
			q.Graphics = i
		}
		if q.Compute < 0 && family.Flags&core1_0.QueueCompute != 0 && family.Flags&core1_0.QueueGraphics == 0 {
			q.Compute = i
		}
		if q.Transfer < 0 && family.Flags&core1_0.QueueTransfer != 0 &&
			family.Flags&(core1_0.QueueGraphics|core1_0.QueueCompute) == 0 {
			q.Transfer = i
		}
	}

	if q.Graphics < 0 {
		return QueueFamilies{}, false
	}
	q.Present = q.Graphics

	q.DedicatedCompute = q.Compute >= 0
	if !q.DedicatedCompute {
		q.Compute = q.Graphics
	}
	q.DedicatedTransfer = q.Transfer >= 0
	if !q.DedicatedTransfer {
		q.Transfer = q.Graphics
	}
	return q, true
}

// Candidate is what device selection needs to know about one physical device.
type Candidate struct {
	Name       string
	Families   []Family
	Extensions map[string]bool

	SurfaceFormats int
	PresentModes   int
}

// Rejection explains why a candidate was not chosen.
func (c Candidate) Rejection() string {
	if _, ok := SelectQueueFamilies(c.Families); !ok {
		return "no queue family supports both graphics and presentation"
	}
	if err := requireExtensions(c.Extensions, RequiredExtensions); err != nil {
		return err.Error()
	}
	if c.SurfaceFormats == 0 {
		return "surface reports no formats"
	}
	if c.PresentModes == 0 {
		return "surface reports no present modes"
	}
	return ""
}

// SelectDevice returns the index of the first suitable candidate and its
// queue families.
func SelectDevice(candidates []Candidate) (int, QueueFamilies, error) {
	var reasons []string
	for i, c := range candidates {
		reason := c.Rejection()
		if reason == "" {
			families, _ := SelectQueueFamilies(c.Families)
			return i, families, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", c.Name, reason))
	}

	if len(reasons) == 0 {
		return -1, QueueFamilies{}, gpuerr.Initialization("no suitable device: no physical devices")
	}
	return -1, QueueFamilies{}, gpuerr.Initialization("no suitable device: %s", strings.Join(reasons, "; "))
}
