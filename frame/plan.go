package frame

// DrawParams is the scene-independent part of a frame's command stream.
type DrawParams struct {
	ClearColor [4]float32
	ClearDepth bool

	// IndexCount selects an indexed draw when positive.
	IndexCount  int
	VertexCount int
}

// Recording lists which per-slot and per-image resources a frame's command
// buffer must reference. The renderer turns it into vkCmd* calls.
type Recording struct {
	CommandBuffer int
	Framebuffer   int
	DescriptorSet int
	Extent        Extent

	ClearColor [4]float32
	ClearDepth bool

	Indexed bool
	Count   int
}

// Plan maps f onto the resources it touches. The command buffer follows the
// frame slot; the framebuffer and descriptor set follow the acquired image.
func Plan(f Frame, p DrawParams) Recording {
	r := Recording{
		CommandBuffer: f.Slot,
		Framebuffer:   f.ImageIndex,
		DescriptorSet: f.ImageIndex,
		Extent:        f.Extent,
		ClearColor:    p.ClearColor,
		ClearDepth:    p.ClearDepth,
		Count:         p.VertexCount,
	}
	if p.IndexCount > 0 {
		r.Indexed = true
		r.Count = p.IndexCount
	}
	return r
}
