package swapchain

// chainBuilder creates the per-image objects of a swapchain. Build is
// all-or-nothing: if any step fails, everything it created is destroyed
// before the error is returned.
type chainBuilder[I, V, F any] struct {
	createView         func(index int, image I) (V, error)
	destroyView        func(V)
	createFramebuffer  func(index int, view V) (F, error)
	destroyFramebuffer func(F)
}

type chain[I, V, F any] struct {
	images       []I
	views        []V
	framebuffers []F
}

// build creates one view per image and, when withFramebuffers is set, one
// framebuffer per view.
func (b chainBuilder[I, V, F]) build(images []I, withFramebuffers bool) (c chain[I, V, F], err error) {
	c.images = images
	defer func() {
		if err != nil {
			b.destroy(c)
			c = chain[I, V, F]{}
		}
	}()

	for i, image := range images {
		view, err := b.createView(i, image)
		if err != nil {
			return c, err
		}
		c.views = append(c.views, view)
	}

	if withFramebuffers {
		c.framebuffers, err = b.framebuffers(c.views)
	}
	return c, err
}

func (b chainBuilder[I, V, F]) framebuffers(views []V) (fbs []F, err error) {
	defer func() {
		if err != nil {
			for i := len(fbs) - 1; i >= 0; i-- {
				b.destroyFramebuffer(fbs[i])
			}
			fbs = nil
		}
	}()

	for i, view := range views {
		fb, err := b.createFramebuffer(i, view)
		if err != nil {
			return fbs, err
		}
		fbs = append(fbs, fb)
	}
	return fbs, nil
}

func (b chainBuilder[I, V, F]) destroy(c chain[I, V, F]) {
	for i := len(c.framebuffers) - 1; i >= 0; i-- {
		b.destroyFramebuffer(c.framebuffers[i])
	}
	for i := len(c.views) - 1; i >= 0; i-- {
		b.destroyView(c.views[i])
	}
}
