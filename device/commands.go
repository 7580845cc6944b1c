package device

import (
	"encoding/binary"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/memory"
)

// RunOnce records commands with record into a throwaway command buffer,
// submits it to the graphics queue and waits for it to finish. It is meant
// for setup work such as uploads, never for per-frame rendering.
func (c *Context) RunOnce(name string, record func(cmd core1_0.CommandBuffer) error) error {
	buffers, res, err := c.Driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, name)
	}
	cmd := buffers[0]
	// A buffer the queue may still be executing is leaked rather than freed.
	pending := false
	defer func() {
		if !pending {
			c.Driver.FreeCommandBuffers(cmd)
		}
	}()

	res, err = c.Driver.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecord, name)
	}

	err = record(cmd)
	if err != nil {
		return gpuerr.At(err, gpuerr.StageRecord, name)
	}

	res, err = c.Driver.EndCommandBuffer(cmd)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageRecord, name)
	}

	queue := c.Queue(RoleGraphics)
	res, err = c.Driver.QueueSubmit(queue, nil, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{cmd},
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageSubmit, name)
	}
	pending = true

	res, err = c.Driver.QueueWaitIdle(queue)
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageSubmit, name)
	}
	pending = false
	return nil
}

// CreateBuffer allocates a buffer with its own memory.
func (c *Context) CreateBuffer(name string, size int, usage core1_0.BufferUsageFlags, locality memory.Locality) (*memory.Buffer, error) {
	return c.Allocator.CreateBuffer(name, size, usage, locality)
}

// CreateImage allocates a 2D image with its own memory.
func (c *Context) CreateImage(name string, info memory.ImageInfo, locality memory.Locality) (*memory.Image, error) {
	return c.Allocator.CreateImage(name, info, locality)
}

// UploadBuffer creates a device-local buffer holding data. The copy goes
// through a host-visible staging buffer that is released before returning.
func (c *Context) UploadBuffer(name string, usage core1_0.BufferUsageFlags, data any) (*memory.Buffer, error) {
	size := binary.Size(data)
	if size <= 0 {
		return nil, gpuerr.Usage("upload %s: data of type %T has no fixed-size encoding", name, data)
	}

	staging, err := c.Allocator.CreateBuffer(name+" staging", size, core1_0.BufferUsageTransferSrc, memory.HostVisible)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	err = staging.Write(0, data)
	if err != nil {
		return nil, err
	}

	dst, err := c.Allocator.CreateBuffer(name, size, usage|core1_0.BufferUsageTransferDst, memory.DeviceLocal)
	if err != nil {
		return nil, err
	}

	err = c.RunOnce("upload "+name, func(cmd core1_0.CommandBuffer) error {
		return c.Driver.CmdCopyBuffer(cmd, staging.Handle, dst.Handle, core1_0.BufferCopy{Size: size})
	})
	if err != nil {
		dst.Destroy()
		return nil, err
	}

	return dst, nil
}
