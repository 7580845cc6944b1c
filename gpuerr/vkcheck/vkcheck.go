// Package vkcheck maps Vulkan result codes onto the gpuerr categories.
package vkcheck

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framecore/gpuerr"
)

// Check classifies the outcome of a driver call. It returns nil for success
// codes other than VK_TIMEOUT, which is reported as device loss: waits only
// time out when the GPU has stopped making progress. VK_SUBOPTIMAL_KHR is a
// success code here; callers that care inspect res themselves.
func Check(res common.VkResult, err error) error {
	if res == core1_0.VKTimeout {
		return gpuerr.Mark(errors.Newf("%s: GPU made no progress before the timeout", res), gpuerr.ErrDeviceLost)
	}
	if err == nil {
		return nil
	}

	return Classify(res, err)
}

// Classify attaches the category implied by res to err.
func Classify(res common.VkResult, err error) error {
	if err == nil {
		err = errors.Newf("%s", res)
	}

	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return gpuerr.Mark(err, gpuerr.ErrSwapchainStale)
	case core1_0.VKErrorDeviceLost:
		return gpuerr.Mark(err, gpuerr.ErrDeviceLost)
	case core1_0.VKErrorOutOfHostMemory, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorTooManyObjects:
		return gpuerr.Mark(err, gpuerr.ErrResourceExhaustion)
	case core1_0.VKErrorInitializationFailed, core1_0.VKErrorLayerNotPresent,
		core1_0.VKErrorExtensionNotPresent, core1_0.VKErrorFeatureNotPresent,
		core1_0.VKErrorIncompatibleDriver:
		return gpuerr.Mark(err, gpuerr.ErrInitialization)
	}
	return err
}

// Stale reports whether res means the swapchain no longer matches its surface.
func Stale(res common.VkResult) bool {
	return res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal
}
