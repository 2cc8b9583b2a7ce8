// Package descriptor keeps the CPU-side shadow of GPU descriptor sets.
//
// Every set mirrors the resources bound at each binding point. Updates are
// diffed against the stored state after resolving each bound handle through
// the resource manager, and the result is reported as UpdateFlags so the
// backend knows whether the GPU-side set must be rewritten or must not be
// used this frame.
//
// Sets come from three pools:
//
//   - static sets owned by a render node, rebuilt only on NodeSets.Reset,
//   - one-frame sets owned by a render node, dropped every frame,
//   - global sets, named and shared across render node graphs, owned by
//     Manager and write-locked after the first update in a frame.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
)

// Type is the kind of resource bound at a binding point.
type Type uint8

// Descriptor types.
const (
	TypeSampler Type = iota
	TypeCombinedImageSampler
	TypeSampledImage
	TypeStorageImage
	TypeUniformTexelBuffer
	TypeStorageTexelBuffer
	TypeUniformBuffer
	TypeStorageBuffer
	TypeUniformBufferDynamic
	TypeStorageBufferDynamic
	TypeInputAttachment
	TypeAccelerationStructure

	// NumTypes is the number of descriptor types.
	NumTypes
)

var typeNames = [NumTypes]string{
	TypeSampler:               "Sampler",
	TypeCombinedImageSampler:  "CombinedImageSampler",
	TypeSampledImage:          "SampledImage",
	TypeStorageImage:          "StorageImage",
	TypeUniformTexelBuffer:    "UniformTexelBuffer",
	TypeStorageTexelBuffer:    "StorageTexelBuffer",
	TypeUniformBuffer:         "UniformBuffer",
	TypeStorageBuffer:         "StorageBuffer",
	TypeUniformBufferDynamic:  "UniformBufferDynamic",
	TypeStorageBufferDynamic:  "StorageBufferDynamic",
	TypeInputAttachment:       "InputAttachment",
	TypeAccelerationStructure: "AccelerationStructure",
}

// String returns the descriptor type name.
func (t Type) String() string {
	if t < NumTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType returns the descriptor type named s, ignoring case.
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return Type(t), true
		}
	}
	return 0, false
}

// IsBuffer reports whether t binds a buffer.
func (t Type) IsBuffer() bool {
	switch t {
	case TypeUniformTexelBuffer, TypeStorageTexelBuffer, TypeUniformBuffer, TypeStorageBuffer,
		TypeUniformBufferDynamic, TypeStorageBufferDynamic, TypeAccelerationStructure:
		return true
	}
	return false
}

// IsImage reports whether t binds an image.
func (t Type) IsImage() bool {
	switch t {
	case TypeCombinedImageSampler, TypeSampledImage, TypeStorageImage, TypeInputAttachment:
		return true
	}
	return false
}

// IsSampler reports whether t binds a standalone sampler.
func (t Type) IsSampler() bool { return t == TypeSampler }

// IsDynamic reports whether t takes a dynamic offset at bind time.
func (t Type) IsDynamic() bool {
	return t == TypeUniformBufferDynamic || t == TypeStorageBufferDynamic
}

// MaxDynamicOffsets is the number of dynamic descriptors one set may
// declare. Every array element of a dynamic binding counts.
const MaxDynamicOffsets = 16

// LayoutBinding declares one binding point of a set layout.
type LayoutBinding struct {
	Binding uint32
	Type    Type

	// Count is the array size. Zero means one.
	Count uint32

	Stages gputypes.ShaderStages

	// ImmutableSampler, when it names a sampler, is baked into the layout
	// and satisfies the sampler of a sampler or combined image sampler
	// binding. The zero value declares none.
	ImmutableSampler handle.Handle
}

func (b LayoutBinding) count() uint32 { return max(b.Count, 1) }

func (b LayoutBinding) hasImmutableSampler() bool {
	return bound(b.ImmutableSampler) && b.ImmutableSampler.Type() == handle.TypeSampler
}

// BindableBuffer is a buffer range bound to a descriptor.
type BindableBuffer struct {
	Handle     handle.Handle
	ByteOffset uint64
	// ByteSize of zero binds the whole buffer.
	ByteSize uint64
}

// BindableImage is an image subresource bound to a descriptor, with an
// optional sampler for combined image samplers.
type BindableImage struct {
	Handle  handle.Handle
	Mip     uint32
	Layer   uint32
	Sampler handle.Handle
}

// BindableSampler is a sampler bound to a descriptor.
type BindableSampler struct {
	Handle handle.Handle
}

// BufferDescriptor binds a buffer to one array element of a binding.
type BufferDescriptor struct {
	Binding     LayoutBinding
	ArrayOffset uint32
	Resource    BindableBuffer
}

// ImageDescriptor binds an image to one array element of a binding.
type ImageDescriptor struct {
	Binding     LayoutBinding
	ArrayOffset uint32
	Resource    BindableImage
}

// SamplerDescriptor binds a sampler to one array element of a binding.
type SamplerDescriptor struct {
	Binding     LayoutBinding
	ArrayOffset uint32
	Resource    BindableSampler
}

// BindingResources is the set of resources written by one update.
type BindingResources struct {
	Buffers  []BufferDescriptor
	Images   []ImageDescriptor
	Samplers []SamplerDescriptor
}

// UpdateFlags describe the outcome of an update.
type UpdateFlags uint8

const (
	// UpdateNew reports that at least one binding changed and the GPU-side
	// set must be rewritten.
	UpdateNew UpdateFlags = 1 << iota

	// UpdateInvalid reports that a binding is unbound or of the wrong kind.
	// The update is recorded but the set must not be used this frame.
	UpdateInvalid
)

// String returns the set flags separated by '|'.
func (f UpdateFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	if f&UpdateNew != 0 {
		parts = append(parts, "New")
	}
	if f&UpdateInvalid != 0 {
		parts = append(parts, "Invalid")
	}
	return strings.Join(parts, "|")
}

// DynamicOffsetDescriptor identifies the buffer behind one element of a
// dynamic binding. Array bindings contribute one entry per element.
type DynamicOffsetDescriptor struct {
	Binding uint32
	Handle  handle.Handle
}

// Counts holds a number per descriptor type, used as a creation budget.
type Counts [NumTypes]uint32

// Add accumulates the descriptors declared by bindings.
func (c *Counts) Add(bindings []LayoutBinding) {
	for _, b := range bindings {
		if b.Type < NumTypes {
			c[b.Type] += b.count()
		}
	}
}

// Total returns the sum over all types.
func (c Counts) Total() uint32 {
	var n uint32
	for _, v := range c {
		n += v
	}
	return n
}

// Resolver maps a possibly stale resource handle to its live handle.
// gpuresource.Manager implements it.
type Resolver interface {
	ResolveCurrentHandle(h handle.Handle) handle.Handle
}

// bound reports whether h names a resource. The zero Handle left by an
// unset struct field is TypeUndefined and counts as unbound.
func bound(h handle.Handle) bool {
	return h.IsValid() && h.Type() != handle.TypeUndefined
}

// resolve maps h to its live handle. Unbound handles come back as Invalid.
func resolve(r Resolver, h handle.Handle) handle.Handle {
	if !bound(h) {
		return handle.Invalid
	}
	if r == nil {
		return h
	}
	return r.ResolveCurrentHandle(h)
}
