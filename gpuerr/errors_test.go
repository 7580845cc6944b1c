package gpuerr

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestAtKeepsCategory(t *testing.T) {
	base := Mark(errors.New("vkWaitForFences: VK_ERROR_DEVICE_LOST"), ErrDeviceLost)
	err := At(base, StageWaitFence, "fence[1]")

	require.True(t, IsDeviceLost(err))
	require.True(t, IsFatal(err))
	require.False(t, IsStale(err))

	stage, ok := StageOf(err)
	require.True(t, ok)
	require.Equal(t, StageWaitFence, stage)
	require.Equal(t, "wait-fence (fence[1]): vkWaitForFences: VK_ERROR_DEVICE_LOST", err.Error())
}

func TestStaleIsNotFatal(t *testing.T) {
	err := errors.Wrap(At(Mark(errors.New("out of date"), ErrSwapchainStale), StagePresent, ""), "frame 7")

	require.True(t, IsStale(err))
	require.False(t, IsFatal(err))
	require.Contains(t, err.Error(), "present: out of date")
}

func TestNilPassesThrough(t *testing.T) {
	require.NoError(t, At(nil, StageSubmit, "queue"))
	require.NoError(t, Mark(nil, ErrUsage))
	require.False(t, IsFatal(nil))

	_, ok := StageOf(errors.New("plain"))
	require.False(t, ok)
}

func TestConstructors(t *testing.T) {
	require.True(t, errors.Is(Initialization("no device among %d", 3), ErrInitialization))
	require.True(t, errors.Is(Usage("slot %d", 4), ErrUsage))
	require.False(t, errors.Is(Usage("slot %d", 4), ErrInitialization))
}
