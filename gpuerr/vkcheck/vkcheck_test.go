package vkcheck

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/framecore/gpuerr"
)

func TestCheckSuccess(t *testing.T) {
	require.NoError(t, Check(core1_0.VKSuccess, nil))
	require.NoError(t, Check(khr_swapchain.VKSuboptimal, nil))
}

func TestCheckTimeoutIsDeviceLost(t *testing.T) {
	err := Check(core1_0.VKTimeout, nil)
	require.True(t, gpuerr.IsDeviceLost(err))
}

func TestClassify(t *testing.T) {
	cause := errors.New("driver said no")

	require.True(t, gpuerr.IsStale(Check(khr_swapchain.VKErrorOutOfDate, cause)))
	require.True(t, gpuerr.IsDeviceLost(Check(core1_0.VKErrorDeviceLost, cause)))
	require.True(t, errors.Is(Check(core1_0.VKErrorOutOfDeviceMemory, cause), gpuerr.ErrResourceExhaustion))
	require.True(t, errors.Is(Check(core1_0.VKErrorOutOfHostMemory, cause), gpuerr.ErrResourceExhaustion))
	require.True(t, errors.Is(Check(core1_0.VKErrorExtensionNotPresent, cause), gpuerr.ErrInitialization))

	err := Check(core1_0.VKErrorUnknown, cause)
	require.Equal(t, cause, err)
	require.True(t, gpuerr.IsFatal(err))
}

func TestClassifyWithoutCause(t *testing.T) {
	err := Classify(core1_0.VKErrorDeviceLost, nil)
	require.Error(t, err)
	require.True(t, gpuerr.IsDeviceLost(err))
}

func TestStale(t *testing.T) {
	require.True(t, Stale(khr_swapchain.VKErrorOutOfDate))
	require.True(t, Stale(khr_swapchain.VKSuboptimal))
	require.False(t, Stale(core1_0.VKSuccess))
}
