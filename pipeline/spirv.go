package pipeline

import (
	"context"
	"encoding/binary"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/framecore/gpuerr"
)

const spirvMagic = 0x07230203

// DecodeSPIRV turns a SPIR-V binary into the word slice a shader module is
// created from.
func DecodeSPIRV(name string, b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, gpuerr.Initialization("shader %s: %d bytes is not a whole number of SPIR-V words", name, len(b))
	}

	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	if code[0] != spirvMagic {
		return nil, gpuerr.Initialization("shader %s: bad SPIR-V magic 0x%08x", name, code[0])
	}
	return code, nil
}

// Shaders maps a pipeline stage to its SPIR-V words.
type Shaders map[core1_0.ShaderStageFlags][]uint32

// LoadShaderStages reads and decodes every stage in paths from fsys
// concurrently. The first failure cancels the rest.
func LoadShaderStages(ctx context.Context, fsys fs.FS, paths map[core1_0.ShaderStageFlags]string) (Shaders, error) {
	type loaded struct {
		stage core1_0.ShaderStageFlags
		code  []uint32
	}

	results := make([]loaded, 0, len(paths))
	for stage := range paths {
		results = append(results, loaded{stage: stage})
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := range results {
		path := paths[results[i].stage]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			b, err := fs.ReadFile(fsys, path)
			if err != nil {
				return gpuerr.Mark(errors.Wrapf(err, "read shader %s", path), gpuerr.ErrInitialization)
			}

			results[i].code, err = DecodeSPIRV(path, b)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shaders := make(Shaders, len(results))
	for _, r := range results {
		shaders[r.stage] = r.code
	}
	return shaders, nil
}
