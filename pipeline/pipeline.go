// Package pipeline builds the render pass, layouts and graphics pipeline from
// static configuration. Nothing here holds per-frame state: everything is
// created once and lives until full teardown.
package pipeline

import (
	"log/slog"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/framecore/device"
	"github.com/vkngwrapper/framecore/gpuerr"
	"github.com/vkngwrapper/framecore/gpuerr/vkcheck"
	"github.com/vkngwrapper/framecore/lifetime"
)

// VertexLayout describes one interleaved vertex buffer bound at binding 0.
type VertexLayout struct {
	Stride     int
	Attributes []core1_0.VertexInputAttributeDescription
}

// UniformBinding is a single uniform buffer at binding 0 read by the vertex
// stage. It is used when Config.Bindings is empty.
var UniformBinding = core1_0.DescriptorSetLayoutBinding{
	Binding:         0,
	DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
	DescriptorCount: 1,

	StageFlags: core1_0.StageVertex,
}

type Config struct {
	Attachments

	Shaders       Shaders
	Vertex        VertexLayout
	Bindings      []core1_0.DescriptorSetLayoutBinding
	PushConstants []core1_0.PushConstantRange
	// CullMode zero culls nothing.
	CullMode core1_0.CullModeFlags

	// CacheData seeds the pipeline cache. Data from another device or driver
	// is logged and ignored.
	CacheData []byte
}

func (c Config) bindings() []core1_0.DescriptorSetLayoutBinding {
	if len(c.Bindings) == 0 {
		return []core1_0.DescriptorSetLayoutBinding{UniformBinding}
	}
	return c.Bindings
}

// Pipeline owns the objects every frame's recording refers to.
type Pipeline struct {
	driver core1_0.CoreDeviceDriver
	logger *slog.Logger

	Config Config

	RenderPass          core1_0.RenderPass
	DescriptorSetLayout core1_0.DescriptorSetLayout
	Layout              core1_0.PipelineLayout
	Cache               core1_0.PipelineCache
	Handle              core1_0.Pipeline
}

// Build creates the render pass, descriptor-set layout, pipeline layout,
// pipeline cache and graphics pipeline. Each is registered with the
// context's lifetime manager as soon as it exists, so a failure part way
// through leaves nothing that full teardown will not destroy.
func Build(ctx *device.Context, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(cfg.Shaders[core1_0.StageVertex]) == 0 {
		return nil, gpuerr.Initialization("pipeline: no vertex shader")
	}

	p := &Pipeline{driver: ctx.Driver, logger: logger, Config: cfg}
	lt := ctx.Lifetime

	var res common.VkResult
	var err error

	p.RenderPass, res, err = p.driver.CreateRenderPass(nil, RenderPassInfo(cfg.Attachments))
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "render pass")
	}
	lt.Register(lifetime.TierRenderPass, "render pass", func() {
		p.driver.DestroyRenderPass(p.RenderPass, nil)
	})

	p.DescriptorSetLayout, res, err = p.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: cfg.bindings(),
	})
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "descriptor set layout")
	}
	lt.Register(lifetime.TierDescriptorSetLayout, "descriptor set layout", func() {
		p.driver.DestroyDescriptorSetLayout(p.DescriptorSetLayout, nil)
	})

	p.Layout, res, err = p.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts:         []core1_0.DescriptorSetLayout{p.DescriptorSetLayout},
		PushConstantRanges: cfg.PushConstants,
	})
	if err != nil {
		return nil, gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "pipeline layout")
	}
	lt.Register(lifetime.TierPipelineLayout, "pipeline layout", func() {
		p.driver.DestroyPipelineLayout(p.Layout, nil)
	})

	err = p.createCache(ctx.Properties)
	if err != nil {
		return nil, err
	}
	lt.Register(lifetime.TierPipeline, "pipeline cache", func() {
		p.driver.DestroyPipelineCache(p.Cache, nil)
	})

	err = p.createPipeline()
	if err != nil {
		return nil, err
	}
	lt.Register(lifetime.TierPipeline, "graphics pipeline", func() {
		p.driver.DestroyPipeline(p.Handle, nil)
	})

	logger.Info("pipeline built",
		"colorFormat", cfg.ColorFormat,
		"depth", cfg.Depth,
		"stages", len(cfg.Shaders),
		"pushConstantRanges", len(cfg.PushConstants))
	return p, nil
}

func (p *Pipeline) createCache(props *core1_0.PhysicalDeviceProperties) error {
	initial := p.Config.CacheData
	if len(initial) > 0 {
		err := ValidateCacheHeader(initial, props.VendorID, props.DeviceID, props.PipelineCacheUUID)
		if err != nil {
			p.logger.Warn("dropping pipeline cache data", "err", err)
			initial = nil
		}
	}

	var res common.VkResult
	var err error
	p.Cache, res, err = p.driver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initial,
	})
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "pipeline cache")
	}
	p.logger.Debug("pipeline cache created", "seeded", len(initial) > 0, "bytes", len(initial))
	return nil
}

func (p *Pipeline) createPipeline() error {
	stages := make([]core1_0.PipelineShaderStageCreateInfo, 0, len(p.Config.Shaders))
	for _, stage := range sortedStages(p.Config.Shaders) {
		module, res, err := p.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
			Code: p.Config.Shaders[stage],
		})
		if err != nil {
			return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "shader module")
		}
		// Modules are only needed until the pipeline exists.
		defer p.driver.DestroyShaderModule(module, nil)

		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  stage,
			Module: module,
			Name:   "main",
		})
	}

	pipelines, res, err := p.driver.CreateGraphicsPipelines(&p.Cache, nil,
		GraphicsPipelineInfo(p.Config, stages, p.Layout, p.RenderPass))
	if err != nil {
		return gpuerr.At(vkcheck.Classify(res, err), gpuerr.StageInit, "graphics pipeline")
	}
	if len(pipelines) != 1 {
		return gpuerr.Initialization("pipeline: driver returned %d pipelines", len(pipelines))
	}
	p.Handle = pipelines[0]
	return nil
}

// CacheData returns the driver's current pipeline cache contents, suitable
// for passing back as Config.CacheData on a later run.
func (p *Pipeline) CacheData() ([]byte, error) {
	data, res, err := p.driver.GetPipelineCacheData(p.Cache)
	if err != nil {
		return nil, errors.Wrap(vkcheck.Classify(res, err), "pipeline cache data")
	}
	return data, nil
}

// GraphicsPipelineInfo describes the fixed-function state. Viewport and
// scissor are dynamic so the pipeline survives swapchain recreation.
func GraphicsPipelineInfo(cfg Config, stages []core1_0.PipelineShaderStageCreateInfo, layout core1_0.PipelineLayout, renderPass core1_0.RenderPass) core1_0.GraphicsPipelineCreateInfo {
	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{}
	if cfg.Vertex.Stride > 0 {
		vertexInput.VertexBindingDescriptions = []core1_0.VertexInputBindingDescription{
			{
				Binding:   0,
				Stride:    cfg.Vertex.Stride,
				InputRate: core1_0.VertexInputRateVertex,
			},
		}
		vertexInput.VertexAttributeDescriptions = cfg.Vertex.Attributes
	}

	info := core1_0.GraphicsPipelineCreateInfo{
		Stages:           stages,
		VertexInputState: vertexInput,
		InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               core1_0.PrimitiveTopologyTriangleList,
			PrimitiveRestartEnable: false,
		},
		// Counts only; the values are set while recording.
		ViewportState: &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{}},
			Scissors:  []core1_0.Rect2D{{}},
		},
		RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
			DepthClampEnable:        false,
			RasterizerDiscardEnable: false,

			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    cfg.CullMode,
			FrontFace:   core1_0.FrontFaceCounterClockwise,

			DepthBiasEnable: false,

			LineWidth: 1.0,
		},
		MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
			SampleShadingEnable:  false,
			RasterizationSamples: core1_0.Samples1,
			MinSampleShading:     1.0,
		},
		ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOpEnabled: false,
			LogicOp:        core1_0.LogicOpCopy,

			BlendConstants: [4]float32{0, 0, 0, 0},
			Attachments: []core1_0.PipelineColorBlendAttachmentState{
				{
					BlendEnabled:   false,
					ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
				},
			},
		},
		DynamicState: &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{
				core1_0.DynamicStateViewport,
				core1_0.DynamicStateScissor,
			},
		},
		Layout:            layout,
		RenderPass:        renderPass,
		Subpass:           0,
		BasePipelineIndex: -1,
	}

	if cfg.Depth {
		info.DepthStencilState = &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:  true,
			DepthWriteEnable: true,
			DepthCompareOp:   core1_0.CompareOpLess,
		}
	}

	return info
}

// Viewport covers the whole of extent with the standard depth range.
func Viewport(extent core1_0.Extent2D) core1_0.Viewport {
	return core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
}

func Scissor(extent core1_0.Extent2D) core1_0.Rect2D {
	return core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}
}

// sortedStages orders stages by pipeline position (vertex first).
func sortedStages(shaders Shaders) []core1_0.ShaderStageFlags {
	stages := make([]core1_0.ShaderStageFlags, 0, len(shaders))
	for stage := range shaders {
		stages = append(stages, stage)
	}
	slices.Sort(stages)
	return stages
}
