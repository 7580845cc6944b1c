package swapchain

import (
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	mock_surface "github.com/vkngwrapper/extensions/v3/khr_surface/mocks"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"go.uber.org/mock/gomock"

	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/lifetime"
)

// surfaceQueries answers the three surface queries a build makes. Every other
// method panics through the nil embedded driver.
type surfaceQueries struct {
	khr_surface.ExtensionDriver

	caps    *khr_surface.SurfaceCapabilities
	formats []khr_surface.SurfaceFormat
	modes   []khr_surface.PresentMode
}

func (q *surfaceQueries) GetPhysicalDeviceSurfaceCapabilities(khr_surface.Surface, core1_0.PhysicalDevice) (*khr_surface.SurfaceCapabilities, common.VkResult, error) {
	return q.caps, core1_0.VKSuccess, nil
}

func (q *surfaceQueries) GetPhysicalDeviceSurfaceFormats(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.SurfaceFormat, common.VkResult, error) {
	return q.formats, core1_0.VKSuccess, nil
}

func (q *surfaceQueries) GetPhysicalDeviceSurfacePresentModes(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.PresentMode, common.VkResult, error) {
	return q.modes, core1_0.VKSuccess, nil
}

// swapchainDriver hands out dummy swapchains with images images each and
// tracks which are still alive.
type swapchainDriver struct {
	khr_swapchain.ExtensionDriver

	device  core1_0.Device
	images  int
	created []khr_swapchain.SwapchainCreateInfo
	live    int
}

func (d *swapchainDriver) CreateSwapchain(_ *loader.AllocationCallbacks, info khr_swapchain.SwapchainCreateInfo) (khr_swapchain.Swapchain, common.VkResult, error) {
	d.created = append(d.created, info)
	d.live++
	return khr_swapchain.NewDummySwapchain(d.device), core1_0.VKSuccess, nil
}

func (d *swapchainDriver) DestroySwapchain(khr_swapchain.Swapchain, *loader.AllocationCallbacks) {
	d.live--
}

func (d *swapchainDriver) GetSwapchainImages(khr_swapchain.Swapchain) ([]core1_0.Image, common.VkResult, error) {
	images := make([]core1_0.Image, d.images)
	for i := range images {
		images[i] = mocks.NewDummyImage(d.device)
	}
	return images, core1_0.VKSuccess, nil
}

type swapchainFixture struct {
	sc      *Swapchain
	driver  *mocks1_0.MockCoreDeviceDriver
	surface *surfaceQueries
	ext     *swapchainDriver
	device  core1_0.Device
}

func newSwapchainFixture(t *testing.T, images int) *swapchainFixture {
	ctrl := gomock.NewController(t)
	driver := mocks1_0.NewMockCoreDeviceDriver(ctrl)
	instance := mocks.NewDummyInstance(common.Vulkan1_2, []string{khr_surface.ExtensionName})
	dev := mocks.NewDummyDevice(common.Vulkan1_2, []string{khr_swapchain.ExtensionName})

	f := &swapchainFixture{
		driver: driver,
		device: dev,
		surface: &surfaceQueries{
			caps:    caps(core1_0.Extent2D{Width: 800, Height: 600}, 2, 0),
			formats: []khr_surface.SurfaceFormat{PreferredFormat},
			modes:   []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
		},
		ext: &swapchainDriver{device: dev, images: images},
	}

	ctx := &device.Context{
		Instance:       &device.Instance{Surface: f.surface},
		Surface:        mock_surface.NewDummySurface(instance),
		PhysicalDevice: mocks.NewDummyPhysicalDevice(instance, common.Vulkan1_2),
		Driver:         driver,
		Lifetime:       lifetime.New(nil, nil),
	}
	f.sc = &Swapchain{
		ctx:    ctx,
		ext:    f.ext,
		logger: slog.New(slog.DiscardHandler),
	}
	return f
}

// expectViews makes the next n image view creations succeed and returns
// the views in creation order.
func (f *swapchainFixture) expectViews(n int) []core1_0.ImageView {
	views := make([]core1_0.ImageView, n)
	for i := range views {
		views[i] = mocks.NewDummyImageView(f.device)
		f.driver.EXPECT().CreateImageView(gomock.Nil(), gomock.Any()).Return(views[i], core1_0.VKSuccess, nil)
	}
	return views
}

func TestBuildRegistersCompleteChain(t *testing.T) {
	f := newSwapchainFixture(t, 3)
	views := f.expectViews(3)

	require.NoError(t, f.sc.build(core1_0.Extent2D{Width: 800, Height: 600}))
	require.Equal(t, 3, f.sc.ImageCount())
	require.Equal(t, views, f.sc.Views)
	require.Equal(t, PreferredFormat, f.sc.Format)
	require.Equal(t, 1, f.sc.ctx.Lifetime.Pending(lifetime.TierSwapchain))
	require.Equal(t, 3, f.sc.ctx.Lifetime.Pending(lifetime.TierImageViews))

	for _, view := range views {
		f.driver.EXPECT().DestroyImageView(view, gomock.Nil())
	}
	require.NoError(t, f.sc.ctx.Lifetime.TeardownSwapchainDependent())
	require.Zero(t, f.ext.live)
	require.False(t, f.sc.Handle.Initialized())
	require.Empty(t, f.sc.Views)
}

func TestBuildFailureDestroysEverythingCreated(t *testing.T) {
	f := newSwapchainFixture(t, 3)
	first := mocks.NewDummyImageView(f.device)

	gomock.InOrder(
		f.driver.EXPECT().CreateImageView(gomock.Nil(), gomock.Any()).Return(first, core1_0.VKSuccess, nil),
		f.driver.EXPECT().CreateImageView(gomock.Nil(), gomock.Any()).
			Return(core1_0.ImageView{}, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError()),
		f.driver.EXPECT().DestroyImageView(first, gomock.Nil()),
	)

	err := f.sc.build(core1_0.Extent2D{Width: 800, Height: 600})
	require.True(t, errors.Is(err, gpuerr.ErrResourceExhaustion))
	require.Len(t, f.ext.created, 1)
	require.Zero(t, f.ext.live)
	require.False(t, f.sc.Handle.Initialized())
	require.Empty(t, f.sc.Images)
	require.Empty(t, f.sc.Views)
	require.Zero(t, f.sc.ctx.Lifetime.Pending(lifetime.TierSwapchain))
	require.Zero(t, f.sc.ctx.Lifetime.Pending(lifetime.TierImageViews))
}

func TestBuildEmptySurfaceIsStale(t *testing.T) {
	f := newSwapchainFixture(t, 3)
	f.surface.caps = caps(core1_0.Extent2D{Width: 0, Height: 0}, 2, 0)

	err := f.sc.build(core1_0.Extent2D{Width: 800, Height: 600})
	require.True(t, gpuerr.IsStale(err))
	require.Empty(t, f.ext.created)
}

func TestRecreateBeforeTeardownIsUsageError(t *testing.T) {
	f := newSwapchainFixture(t, 2)
	f.expectViews(2)
	require.NoError(t, f.sc.build(core1_0.Extent2D{Width: 800, Height: 600}))

	err := f.sc.Recreate(core1_0.Extent2D{Width: 1024, Height: 768})
	require.True(t, errors.Is(err, gpuerr.ErrUsage))
	require.Len(t, f.ext.created, 1)
	require.Equal(t, 1, f.ext.live)
}

func TestRecreateFollowsNewExtent(t *testing.T) {
	f := newSwapchainFixture(t, 2)
	views := f.expectViews(2)
	require.NoError(t, f.sc.build(core1_0.Extent2D{Width: 800, Height: 600}))

	for _, view := range views {
		f.driver.EXPECT().DestroyImageView(view, gomock.Nil())
	}
	require.NoError(t, f.sc.ctx.Lifetime.TeardownSwapchainDependent())

	f.surface.caps = caps(core1_0.Extent2D{Width: 1024, Height: 768}, 2, 0)
	f.ext.images = 3
	f.expectViews(3)
	require.NoError(t, f.sc.Recreate(core1_0.Extent2D{Width: 1024, Height: 768}))
	require.Equal(t, core1_0.Extent2D{Width: 1024, Height: 768}, f.sc.Extent)
	require.Equal(t, 3, f.sc.ImageCount())
	require.Equal(t, 1, f.ext.live)
}

func TestRecreateRejectsFormatChange(t *testing.T) {
	f := newSwapchainFixture(t, 2)
	views := f.expectViews(2)
	require.NoError(t, f.sc.build(core1_0.Extent2D{Width: 800, Height: 600}))

	for _, view := range views {
		f.driver.EXPECT().DestroyImageView(view, gomock.Nil())
	}
	require.NoError(t, f.sc.ctx.Lifetime.TeardownSwapchainDependent())

	f.surface.formats = []khr_surface.SurfaceFormat{{
		Format:     core1_0.FormatR8G8B8A8UnsignedNormalized,
		ColorSpace: khr_surface.ColorSpaceSRGBNonlinear,
	}}
	f.expectViews(2)
	err := f.sc.Recreate(core1_0.Extent2D{Width: 800, Height: 600})
	require.True(t, errors.Is(err, gpuerr.ErrInitialization))
	require.Contains(t, err.Error(), "surface format changed")
}
