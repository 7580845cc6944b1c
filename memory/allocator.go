// Package memory owns device memory. Every buffer or image handed out comes
// bundled with the memory backing it, and both are released together.
package memory

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sort"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
)

// Allocator hands out one dedicated allocation per resource. It is not safe
// for concurrent use.
type Allocator struct {
	driver core1_0.CoreDeviceDriver
	types  []core1_0.MemoryType
	logger *slog.Logger

	nextID int
	live   map[int]string
}

// NewAllocator binds an allocator to a logical device. types comes from the
// physical device's memory properties.
func NewAllocator(driver core1_0.CoreDeviceDriver, types []core1_0.MemoryType, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Allocator{
		driver: driver,
		types:  types,
		logger: logger,
		live:   map[int]string{},
	}
}

// Live returns the number of allocations not yet destroyed.
func (a *Allocator) Live() int {
	return len(a.live)
}

// CheckLeaks reports every allocation still alive.
func (a *Allocator) CheckLeaks() error {
	if len(a.live) == 0 {
		return nil
	}

	names := make([]string, 0, len(a.live))
	for _, name := range a.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return errors.Newf("%d allocations still alive: %v", len(names), names)
}

func (a *Allocator) track(name string) int {
	a.nextID++
	a.live[a.nextID] = name
	return a.nextID
}

func (a *Allocator) allocate(name string, reqs *core1_0.MemoryRequirements, locality Locality) (core1_0.DeviceMemory, error) {
	typeIndex, err := FindMemoryType(a.types, reqs.MemoryTypeBits, locality.PropertyFlags())
	if err != nil {
		return core1_0.DeviceMemory{}, gpuerr.At(err, gpuerr.StageAllocate, name)
	}

	mem, res, err := a.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		return core1_0.DeviceMemory{}, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}

	a.logger.Debug("allocated",
		slog.String("name", name),
		slog.Int("size", reqs.Size),
		slog.Int("memoryType", typeIndex),
		slog.String("locality", locality.String()))
	return mem, nil
}

// Buffer is a buffer together with its backing memory.
type Buffer struct {
	Handle   core1_0.Buffer
	Memory   core1_0.DeviceMemory
	Size     int
	Locality Locality

	name  string
	id    int
	alloc *Allocator
}

func (a *Allocator) CreateBuffer(name string, size int, usage core1_0.BufferUsageFlags, locality Locality) (*Buffer, error) {
	if size <= 0 {
		return nil, gpuerr.Usage("buffer %s: size must be positive, got %d", name, size)
	}

	handle, res, err := a.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}

	mem, err := a.allocate(name, a.driver.GetBufferMemoryRequirements(handle), locality)
	if err != nil {
		a.driver.DestroyBuffer(handle, nil)
		return nil, err
	}

	res, err = a.driver.BindBufferMemory(handle, mem, 0)
	if err != nil {
		a.driver.DestroyBuffer(handle, nil)
		a.driver.FreeMemory(mem, nil)
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}

	return &Buffer{
		Handle:   handle,
		Memory:   mem,
		Size:     size,
		Locality: locality,
		name:     name,
		id:       a.track(name),
		alloc:    a,
	}, nil
}

// Write encodes data with the driver's byte order and copies it into the
// buffer at offset. The buffer must be host visible.
func (b *Buffer) Write(offset int, data any) error {
	if b.alloc == nil {
		return gpuerr.Usage("buffer %s: write after destroy", b.name)
	}
	if b.Locality != HostVisible {
		return gpuerr.Usage("buffer %s: write to %s memory", b.name, b.Locality)
	}

	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrapf(err, "buffer %s: encode", b.name)
	}
	size := buf.Len()
	if offset < 0 || offset+size > b.Size {
		return gpuerr.Usage("buffer %s: write of %d bytes at %d overflows %d", b.name, size, offset, b.Size)
	}

	driver := b.alloc.driver
	ptr, res, err := driver.MapMemory(b.Memory, offset, size, 0)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageUpdate, b.name)
	}
	defer driver.UnmapMemory(b.Memory)

	copy(unsafe.Slice((*byte)(ptr), size), buf.Bytes())
	return nil
}

// Destroy releases the buffer and its memory. Later calls do nothing.
func (b *Buffer) Destroy() {
	if b == nil || b.alloc == nil {
		return
	}
	a := b.alloc
	a.driver.DestroyBuffer(b.Handle, nil)
	a.driver.FreeMemory(b.Memory, nil)
	delete(a.live, b.id)
	b.alloc = nil
	b.Handle = core1_0.Buffer{}
	b.Memory = core1_0.DeviceMemory{}
}

// Image is an image together with its backing memory.
type Image struct {
	Handle core1_0.Image
	Memory core1_0.DeviceMemory
	Format core1_0.Format
	Width  int
	Height int

	name  string
	id    int
	alloc *Allocator
}

type ImageInfo struct {
	Width, Height int
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Samples       core1_0.SampleCountFlags
}

func (a *Allocator) CreateImage(name string, info ImageInfo, locality Locality) (*Image, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, gpuerr.Usage("image %s: extent %dx%d is empty", name, info.Width, info.Height)
	}
	samples := info.Samples
	if samples == 0 {
		samples = core1_0.Samples1
	}

	handle, res, err := a.driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        info.Tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       samples,
	})
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}

	mem, err := a.allocate(name, a.driver.GetImageMemoryRequirements(handle), locality)
	if err != nil {
		a.driver.DestroyImage(handle, nil)
		return nil, err
	}

	res, err = a.driver.BindImageMemory(handle, mem, 0)
	if err != nil {
		a.driver.DestroyImage(handle, nil)
		a.driver.FreeMemory(mem, nil)
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}

	return &Image{
		Handle: handle,
		Memory: mem,
		Format: info.Format,
		Width:  info.Width,
		Height: info.Height,
		name:   name,
		id:     a.track(name),
		alloc:  a,
	}, nil
}

func (i *Image) Destroy() {
	if i == nil || i.alloc == nil {
		return
	}
	a := i.alloc
	a.driver.DestroyImage(i.Handle, nil)
	a.driver.FreeMemory(i.Memory, nil)
	delete(a.live, i.id)
	i.alloc = nil
	i.Handle = core1_0.Image{}
	i.Memory = core1_0.DeviceMemory{}
}
