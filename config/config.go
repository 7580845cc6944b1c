// Package config holds the renderer's static settings.
package config

import (
	"flag"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	AppName    string
	Validation bool

	FramesInFlight int
	// Zero means wait forever.
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration

	// VSync presents with FIFO. Otherwise mailbox is used when the surface
	// offers it.
	VSync bool
	Depth bool

	ClearColor Color

	Width  int
	Height int

	ShaderDir      string
	VertexShader   string
	FragmentShader string
	// MeshPath names a Wavefront OBJ file. Empty draws a quad.
	MeshPath string
	// PipelineCachePath is read at startup and written on exit. Empty
	// disables the cache file.
	PipelineCachePath string

	LogLevel slog.Level
}

func Default() Config {
	return Config{
		AppName:        "meshviewer",
		Validation:     false,
		FramesInFlight: 2,
		VSync:          false,
		Depth:          true,
		ClearColor:     Color{0, 0, 0, 1},
		Width:          800,
		Height:         600,
		ShaderDir:      "shaders",
		VertexShader:   "vert.spv",
		FragmentShader: "frag.spv",
		LogLevel:       slog.LevelInfo,
	}
}

// RegisterFlags binds every field to a flag on fs, using the current values
// as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.AppName, "app-name", c.AppName, "application name reported to the driver")
	fs.BoolVar(&c.Validation, "validation", c.Validation, "enable the Khronos validation layer when installed")
	fs.IntVar(&c.FramesInFlight, "frames-in-flight", c.FramesInFlight, "number of frames the CPU may record ahead of the GPU")
	fs.DurationVar(&c.FenceTimeout, "fence-timeout", c.FenceTimeout, "give up on a frame fence after this long (0 waits forever)")
	fs.DurationVar(&c.AcquireTimeout, "acquire-timeout", c.AcquireTimeout, "give up on image acquisition after this long (0 waits forever)")
	fs.BoolVar(&c.VSync, "vsync", c.VSync, "present with FIFO instead of mailbox")
	fs.BoolVar(&c.Depth, "depth", c.Depth, "render with a depth attachment")
	fs.Var(&c.ClearColor, "clear-color", "clear color as r,g,b,a in [0,1]")
	fs.IntVar(&c.Width, "width", c.Width, "initial window width")
	fs.IntVar(&c.Height, "height", c.Height, "initial window height")
	fs.StringVar(&c.ShaderDir, "shader-dir", c.ShaderDir, "directory holding compiled SPIR-V shaders")
	fs.StringVar(&c.VertexShader, "vertex-shader", c.VertexShader, "vertex shader file within -shader-dir")
	fs.StringVar(&c.FragmentShader, "fragment-shader", c.FragmentShader, "fragment shader file within -shader-dir")
	fs.StringVar(&c.MeshPath, "mesh", c.MeshPath, "Wavefront OBJ mesh to draw (default: a quad)")
	fs.StringVar(&c.PipelineCachePath, "pipeline-cache", c.PipelineCachePath, "pipeline cache file to load and save")
	fs.TextVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.AppName == "":
		return errors.New("config: app name is empty")
	case c.FramesInFlight < 1:
		return errors.Newf("config: frames in flight must be at least 1, got %d", c.FramesInFlight)
	case c.FenceTimeout < 0:
		return errors.Newf("config: fence timeout %s is negative", c.FenceTimeout)
	case c.AcquireTimeout < 0:
		return errors.Newf("config: acquire timeout %s is negative", c.AcquireTimeout)
	case c.Width <= 0 || c.Height <= 0:
		return errors.Newf("config: window size %dx%d is empty", c.Width, c.Height)
	case c.VertexShader == "":
		return errors.New("config: no vertex shader")
	case c.FragmentShader == "":
		return errors.New("config: no fragment shader")
	}
	return c.ClearColor.validate()
}

// Color is an RGBA clear color. As a flag it parses "r,g,b,a".
type Color [4]float32

func (c *Color) String() string {
	if c == nil {
		return ""
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}

func (c *Color) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != len(c) {
		return errors.Newf("color %q: want 4 comma-separated components", s)
	}

	var parsed Color
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return errors.Wrapf(err, "color %q", s)
		}
		parsed[i] = float32(v)
	}
	*c = parsed
	return nil
}

func (c Color) validate() error {
	for i, v := range c {
		if v < 0 || v > 1 {
			return errors.Newf("config: clear color component %d is %g, outside [0,1]", i, v)
		}
	}
	return nil
}
