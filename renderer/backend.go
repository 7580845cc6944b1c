package renderer

import (
	"encoding/binary"
	"log/slog"
	"strconv"
	"time"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/frame"
	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/lifetime"
	"github.com/vkngwrapper/framecore/memory"
	"github.com/vkngwrapper/framecore/pipeline"
	"github.com/vkngwrapper/framecore/swapchain"
)

// TransformFunc computes the uniform block for a frame.
type TransformFunc func(elapsed time.Duration, extent frame.Extent) UniformBufferObject

// vulkanBackend performs each scheduler step with real Vulkan objects. Sync
// objects and command buffers are indexed by frame slot; uniform buffers,
// descriptor sets and framebuffers by swapchain image.
type vulkanBackend struct {
	ctx    *device.Context
	sc     *swapchain.Swapchain
	pipe   *pipeline.Pipeline
	logger *slog.Logger

	vertices *memory.Buffer
	indices  *memory.Buffer
	draw     frame.DrawParams

	transform    TransformFunc
	fenceTimeout time.Duration

	imageAvailable []core1_0.Semaphore
	renderFinished []core1_0.Semaphore
	inFlight       []core1_0.Fence
	commandBuffers []core1_0.CommandBuffer

	// imagesInFlight holds, per image, the slot whose fence guards the last
	// submission that used it, or -1.
	imagesInFlight []int
	uniforms       []*memory.Buffer
	descriptorPool core1_0.DescriptorPool
	descriptorSets []core1_0.DescriptorSet
}

var _ frame.Backend = (*vulkanBackend)(nil)

func (b *vulkanBackend) driver() core1_0.CoreDeviceDriver {
	return b.ctx.Driver
}

// createSyncObjects creates one image-available semaphore, render-finished
// semaphore and signaled fence per slot.
func (b *vulkanBackend) createSyncObjects(slots int) error {
	lt := b.ctx.Lifetime
	for i := 0; i < slots; i++ {
		available, res, err := b.driver().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, numbered("image available", i))
		}
		lt.Register(lifetime.TierSyncObjects, numbered("image available", i), func() {
			b.driver().DestroySemaphore(available, nil)
		})
		b.imageAvailable = append(b.imageAvailable, available)

		finished, res, err := b.driver().CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, numbered("render finished", i))
		}
		lt.Register(lifetime.TierSyncObjects, numbered("render finished", i), func() {
			b.driver().DestroySemaphore(finished, nil)
		})
		b.renderFinished = append(b.renderFinished, finished)

		// Signaled so the first wait on each slot returns immediately.
		fence, res, err := b.driver().CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, numbered("fence", i))
		}
		lt.Register(lifetime.TierSyncObjects, numbered("fence", i), func() {
			b.driver().DestroyFence(fence, nil)
		})
		b.inFlight = append(b.inFlight, fence)
	}
	return nil
}

func (b *vulkanBackend) allocateCommandBuffers() error {
	buffers, res, err := b.driver().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        b.ctx.CommandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: len(b.inFlight),
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, "command buffers")
	}
	b.commandBuffers = buffers
	b.ctx.Lifetime.Register(lifetime.TierCommandBuffers, "command buffers", func() {
		b.driver().FreeCommandBuffers(buffers...)
		b.commandBuffers = nil
	})
	return nil
}

// createPerImage allocates a uniform buffer and descriptor set for every
// swapchain image.
func (b *vulkanBackend) createPerImage() error {
	lt := b.ctx.Lifetime
	count := b.sc.ImageCount()
	size := binary.Size(UniformBufferObject{})

	b.uniforms = b.uniforms[:0]
	for i := 0; i < count; i++ {
		buffer, err := b.ctx.CreateBuffer(numbered("uniform", i), size, core1_0.BufferUsageUniformBuffer, memory.HostVisible)
		if err != nil {
			return err
		}
		lt.Register(lifetime.TierPerImage, numbered("uniform", i), buffer.Destroy)
		b.uniforms = append(b.uniforms, buffer)
	}

	pool, res, err := b.driver().CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: count,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: count,
			},
		},
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, "descriptor pool")
	}
	b.descriptorPool = pool
	// Destroying the pool frees its sets.
	lt.Register(lifetime.TierDescriptorPool, "descriptor pool", func() {
		b.driver().DestroyDescriptorPool(pool, nil)
		b.descriptorSets = nil
	})

	layouts := make([]core1_0.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = b.pipe.DescriptorSetLayout
	}
	b.descriptorSets, res, err = b.driver().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     layouts,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageAllocate, "descriptor sets")
	}

	writes := make([]core1_0.WriteDescriptorSet, 0, count)
	for i, set := range b.descriptorSets {
		writes = append(writes, core1_0.WriteDescriptorSet{
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeUniformBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: b.uniforms[i].Handle,
					Offset: 0,
					Range:  size,
				},
			},
		})
	}
	err = b.driver().UpdateDescriptorSets(writes, nil)
	if err != nil {
		return gpuerr.At(err, gpuerr.StageAllocate, "descriptor sets")
	}

	b.imagesInFlight = make([]int, count)
	for i := range b.imagesInFlight {
		b.imagesInFlight[i] = -1
	}
	return nil
}

func (b *vulkanBackend) chain() frame.Chain {
	return frame.Chain{
		ImageCount: b.sc.ImageCount(),
		Extent:     frame.Extent{Width: b.sc.Extent.Width, Height: b.sc.Extent.Height},
	}
}

func (b *vulkanBackend) WaitFence(slot int, timeout time.Duration) error {
	res, err := b.driver().WaitForFences(true, timeout, b.inFlight[slot])
	return vkcheck.Check(res, err)
}

func (b *vulkanBackend) ResetFence(slot int) error {
	res, err := b.driver().ResetFences(b.inFlight[slot])
	return vkcheck.Check(res, err)
}

func (b *vulkanBackend) Acquire(slot int, timeout time.Duration) (int, bool, error) {
	return b.sc.Acquire(b.imageAvailable[slot], timeout)
}

func (b *vulkanBackend) Discard(slot int) error {
	res, err := b.driver().QueueSubmit(b.ctx.Queue(device.RoleGraphics), &b.inFlight[slot], core1_0.SubmitInfo{
		WaitSemaphores:   []core1_0.Semaphore{b.imageAvailable[slot]},
		WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
	})
	return vkcheck.Check(res, err)
}

// Update writes the frame's transforms into the acquired image's uniform
// buffer, first waiting for any other slot still reading it.
func (b *vulkanBackend) Update(f frame.Frame) error {
	if owner := b.imagesInFlight[f.ImageIndex]; owner >= 0 && owner != f.Slot {
		res, err := b.driver().WaitForFences(true, b.fenceTimeout, b.inFlight[owner])
		if err := vkcheck.Check(res, err); err != nil {
			return err
		}
	}
	b.imagesInFlight[f.ImageIndex] = f.Slot

	ubo := b.transform(f.Elapsed, f.Extent)
	return b.uniforms[f.ImageIndex].Write(0, &ubo)
}

func (b *vulkanBackend) Record(f frame.Frame) error {
	r := frame.Plan(f, b.draw)
	cmd := b.commandBuffers[r.CommandBuffer]
	extent := core1_0.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height}
	driver := b.driver()

	res, err := driver.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return vkcheck.Classify(res, err)
	}

	err = driver.CmdBeginRenderPass(cmd, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  b.pipe.RenderPass,
			Framebuffer: b.sc.Framebuffers[r.Framebuffer],
			RenderArea:  pipeline.Scissor(extent),
			ClearValues: pipeline.ClearValues(r.ClearColor, r.ClearDepth),
		})
	if err != nil {
		return err
	}

	driver.CmdBindPipeline(cmd, core1_0.PipelineBindPointGraphics, b.pipe.Handle)
	driver.CmdSetViewport(cmd, pipeline.Viewport(extent))
	driver.CmdSetScissor(cmd, pipeline.Scissor(extent))
	driver.CmdBindVertexBuffers(cmd, 0, []core1_0.Buffer{b.vertices.Handle}, []int{0})
	driver.CmdBindDescriptorSets(cmd, core1_0.PipelineBindPointGraphics, b.pipe.Layout, 0, []core1_0.DescriptorSet{
		b.descriptorSets[r.DescriptorSet],
	}, nil)
	if r.Indexed {
		driver.CmdBindIndexBuffer(cmd, b.indices.Handle, 0, core1_0.IndexTypeUInt32)
		driver.CmdDrawIndexed(cmd, r.Count, 1, 0, 0, 0)
	} else {
		driver.CmdDraw(cmd, r.Count, 1, 0, 0)
	}
	driver.CmdEndRenderPass(cmd)

	res, err = driver.EndCommandBuffer(cmd)
	return vkcheck.Check(res, err)
}

func (b *vulkanBackend) Submit(f frame.Frame) error {
	res, err := b.driver().QueueSubmit(b.ctx.Queue(device.RoleGraphics), &b.inFlight[f.Slot], core1_0.SubmitInfo{
		WaitSemaphores:   []core1_0.Semaphore{b.imageAvailable[f.Slot]},
		WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		CommandBuffers:   []core1_0.CommandBuffer{b.commandBuffers[f.Slot]},
		SignalSemaphores: []core1_0.Semaphore{b.renderFinished[f.Slot]},
	})
	return vkcheck.Check(res, err)
}

func (b *vulkanBackend) Present(f frame.Frame) (bool, error) {
	return b.sc.Present(b.ctx.Queue(device.RolePresent), b.renderFinished[f.Slot], f.ImageIndex)
}

// Recreate tears down the window-size-dependent tiers (the lifetime manager
// waits for the device to go idle first) and rebuilds them for drawable.
func (b *vulkanBackend) Recreate(drawable frame.Extent) (frame.Chain, error) {
	err := b.ctx.Lifetime.TeardownSwapchainDependent()
	if err != nil {
		return frame.Chain{}, err
	}

	err = b.sc.Recreate(core1_0.Extent2D{Width: drawable.Width, Height: drawable.Height})
	if err != nil {
		return frame.Chain{}, err
	}

	err = b.createPerImage()
	if err != nil {
		return frame.Chain{}, err
	}

	err = b.allocateCommandBuffers()
	if err != nil {
		return frame.Chain{}, err
	}

	return b.chain(), nil
}

func numbered(kind string, i int) string {
	return kind + " " + strconv.Itoa(i)
}
