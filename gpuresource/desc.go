package gpuresource

import (
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// BufferDesc describes a GPU buffer.
type BufferDesc struct {
	// Size in bytes. Must be non-zero.
	Size uint64

	// Usage specifies how the buffer will be bound.
	Usage gputypes.BufferUsage

	// Info carries handle flags such as handle.InfoDynamic.
	Info handle.Info
}

func (d BufferDesc) hal(label string) *hal.BufferDescriptor {
	return &hal.BufferDescriptor{Label: label, Size: d.Size, Usage: d.Usage}
}

// ImageDesc describes a 2D GPU image.
type ImageDesc struct {
	Width, Height uint32

	// Layers is the array layer count. Zero means one.
	Layers uint32

	// MipLevels is the mip count. Zero means one.
	MipLevels uint32

	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage

	// Info carries handle flags such as handle.InfoPlatformConversion.
	Info handle.Info
}

func (d ImageDesc) hal(label string) *hal.TextureDescriptor {
	return &hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              d.Width,
			Height:             d.Height,
			DepthOrArrayLayers: max(d.Layers, 1),
		},
		MipLevelCount: max(d.MipLevels, 1),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        d.Format,
		Usage:         d.Usage,
	}
}

// SamplerDesc describes a GPU sampler.
type SamplerDesc struct {
	AddressMode gputypes.AddressMode
	Filter      gputypes.FilterMode

	// Info carries handle flags.
	Info handle.Info
}

func (d SamplerDesc) hal(label string) *hal.SamplerDescriptor {
	return &hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: d.AddressMode,
		AddressModeV: d.AddressMode,
		AddressModeW: d.AddressMode,
		MagFilter:    d.Filter,
		MinFilter:    d.Filter,
		MipmapFilter: d.Filter,
		LodMaxClamp:  32,
		Anisotropy:   1,
	}
}

// LinearClampSampler is a bilinear sampler with edge clamping.
var LinearClampSampler = SamplerDesc{
	AddressMode: gputypes.AddressModeClampToEdge,
	Filter:      gputypes.FilterModeLinear,
}
