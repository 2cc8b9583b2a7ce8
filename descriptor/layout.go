package descriptor

import "github.com/gogpu/gputypes"

// LayoutEntries maps bindings to WebGPU bind group layout entries.
//
// WebGPU has no descriptor arrays, so each binding yields one entry
// regardless of Count. Combined image samplers map to their texture half;
// the sampler half must be declared separately on WebGPU backends.
func LayoutEntries(bindings []LayoutBinding) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		e := gputypes.BindGroupLayoutEntry{Binding: b.Binding, Visibility: b.Stages}
		switch b.Type {
		case TypeSampler:
			e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		case TypeCombinedImageSampler, TypeSampledImage, TypeInputAttachment:
			e.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case TypeStorageImage:
			e.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        gputypes.TextureFormatRGBA8Unorm,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case TypeUniformBuffer, TypeUniformTexelBuffer, TypeUniformBufferDynamic:
			e.Buffer = &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: b.Type.IsDynamic(),
			}
		case TypeStorageBuffer, TypeStorageTexelBuffer, TypeStorageBufferDynamic:
			e.Buffer = &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeStorage,
				HasDynamicOffset: b.Type.IsDynamic(),
			}
		case TypeAccelerationStructure:
			e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		default:
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
