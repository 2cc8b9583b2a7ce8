package config

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/gpuresource"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
)

// Resource kinds.
const (
	KindBuffer  = "buffer"
	KindImage   = "image"
	KindSampler = "sampler"
)

// Resource declares a GPU resource.
type Resource struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`

	// Buffers.
	Size uint64 `toml:"size"`

	// Images.
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	Layers    uint32 `toml:"layers"`
	MipLevels uint32 `toml:"mip_levels"`
	Format    string `toml:"format"`

	// Samplers.
	AddressMode string `toml:"address_mode"`
	Filter      string `toml:"filter"`

	// Usage lists buffer or image usages by name.
	Usage []string `toml:"usage"`

	// Dynamic marks the resource as dynamically tracked: descriptor sets
	// binding it need barriers.
	Dynamic bool `toml:"dynamic"`
	// PlatformConversion marks images needing a platform conversion
	// sampler.
	PlatformConversion bool `toml:"platform_conversion"`
}

var (
	bufferUsages = map[string]gputypes.BufferUsage{
		"uniform":  gputypes.BufferUsageUniform,
		"storage":  gputypes.BufferUsageStorage,
		"vertex":   gputypes.BufferUsageVertex,
		"index":    gputypes.BufferUsageIndex,
		"indirect": gputypes.BufferUsageIndirect,
		"copy_src": gputypes.BufferUsageCopySrc,
		"copy_dst": gputypes.BufferUsageCopyDst,
	}
	textureUsages = map[string]gputypes.TextureUsage{
		"sampled":  gputypes.TextureUsageTextureBinding,
		"storage":  gputypes.TextureUsageStorageBinding,
		"render":   gputypes.TextureUsageRenderAttachment,
		"copy_src": gputypes.TextureUsageCopySrc,
		"copy_dst": gputypes.TextureUsageCopyDst,
	}
	formats = map[string]gputypes.TextureFormat{
		"":            gputypes.TextureFormatRGBA8Unorm,
		"rgba8unorm":  gputypes.TextureFormatRGBA8Unorm,
		"bgra8unorm":  gputypes.TextureFormatBGRA8Unorm,
		"rgba16float": gputypes.TextureFormatRGBA16Float,
	}
	addressModes = map[string]gputypes.AddressMode{
		"":              gputypes.AddressModeClampToEdge,
		"clamp":         gputypes.AddressModeClampToEdge,
		"repeat":        gputypes.AddressModeRepeat,
		"mirror_repeat": gputypes.AddressModeMirrorRepeat,
	}
	filters = map[string]gputypes.FilterMode{
		"":        gputypes.FilterModeLinear,
		"linear":  gputypes.FilterModeLinear,
		"nearest": gputypes.FilterModeNearest,
	}
	stages = map[string]gputypes.ShaderStages{
		"vertex":   gputypes.ShaderStageVertex,
		"fragment": gputypes.ShaderStageFragment,
		"compute":  gputypes.ShaderStageCompute,
	}
)

func lookup[V any](m map[string]V, what, name string) (V, error) {
	v, ok := m[strings.ToLower(name)]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: unknown %s %q", ErrInvalid, what, name)
	}
	return v, nil
}

func (r Resource) info() handle.Info {
	var info handle.Info
	if r.Dynamic {
		info |= handle.InfoDynamic
	}
	if r.PlatformConversion {
		info |= handle.InfoPlatformConversion
	}
	return info
}

// Desc returns the gpuresource descriptor of r: a BufferDesc, ImageDesc or
// SamplerDesc.
func (r Resource) Desc() (any, error) {
	switch strings.ToLower(r.Kind) {
	case KindBuffer:
		if r.Size == 0 {
			return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalid, r.Name)
		}
		d := gpuresource.BufferDesc{Size: r.Size, Info: r.info()}
		for _, u := range r.Usage {
			v, err := lookup(bufferUsages, "buffer usage", u)
			if err != nil {
				return nil, err
			}
			d.Usage |= v
		}
		return d, nil

	case KindImage:
		if r.Width == 0 || r.Height == 0 {
			return nil, fmt.Errorf("%w: image %q is %dx%d", ErrInvalid, r.Name, r.Width, r.Height)
		}
		format, err := lookup(formats, "format", r.Format)
		if err != nil {
			return nil, err
		}
		d := gpuresource.ImageDesc{
			Width:     r.Width,
			Height:    r.Height,
			Layers:    r.Layers,
			MipLevels: r.MipLevels,
			Format:    format,
			Info:      r.info(),
		}
		for _, u := range r.Usage {
			v, err := lookup(textureUsages, "image usage", u)
			if err != nil {
				return nil, err
			}
			d.Usage |= v
		}
		return d, nil

	case KindSampler:
		mode, err := lookup(addressModes, "address mode", r.AddressMode)
		if err != nil {
			return nil, err
		}
		filter, err := lookup(filters, "filter", r.Filter)
		if err != nil {
			return nil, err
		}
		return gpuresource.SamplerDesc{AddressMode: mode, Filter: filter, Info: r.info()}, nil

	default:
		return nil, fmt.Errorf("%w: resource %q has unknown kind %q", ErrInvalid, r.Name, r.Kind)
	}
}

// Layout returns the set's layout bindings.
func (s GlobalSet) Layout() ([]descriptor.LayoutBinding, error) {
	out := make([]descriptor.LayoutBinding, 0, len(s.Bindings))
	for _, b := range s.Bindings {
		t, ok := descriptor.ParseType(b.Type)
		if !ok {
			return nil, fmt.Errorf("%w: global set %q binding %d has unknown type %q",
				ErrInvalid, s.Name, b.Binding, b.Type)
		}
		lb := descriptor.LayoutBinding{Binding: b.Binding, Type: t, Count: b.Count}
		for _, st := range b.Stages {
			v, err := lookup(stages, "shader stage", st)
			if err != nil {
				return nil, err
			}
			lb.Stages |= v
		}
		out = append(out, lb)
	}
	return out, nil
}
