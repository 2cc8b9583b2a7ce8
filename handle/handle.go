// Package handle implements the 64-bit resource handle shared by every
// gpures manager.
//
// A Handle packs a resource type, a slot index, a generation and a few
// kind-specific flags into one machine word. Handles are cheap to copy,
// hash and compare, and carry no ownership: a handle whose generation does not
// match its slot's current generation is stale, which managers detect and
// ignore instead of touching recycled memory.
//
// # Layout
//
//	bits  0..3   type                (TypeBits)
//	bits  4..11  additional info     (InfoBits)
//	bit  12      has name
//	bits 13..16  additional index    (AdditionalIndexBits)
//	bits 17..36  index               (IndexBits)
//	bits 37..52  generation          (GenerationBits)
//	bits 53..63  reserved, always zero
//
// Because the reserved bits are zero for every encoded handle, Encode can
// never produce Invalid (all ones).
package handle

import (
	"fmt"

	"github.com/gogpu/gpures/internal/logging"
)

// Handle identifies a GPU-visible resource.
type Handle uint64

// Invalid is the reserved handle value that no allocation ever produces.
const Invalid Handle = ^Handle(0)

// Field widths.
const (
	TypeBits            = 4
	InfoBits            = 8
	NameBits            = 1
	AdditionalIndexBits = 4
	IndexBits           = 20
	GenerationBits      = 16
)

// Field offsets.
const (
	typeShift            = 0
	infoShift            = typeShift + TypeBits
	nameShift            = infoShift + InfoBits
	additionalIndexShift = nameShift + NameBits
	indexShift           = additionalIndexShift + AdditionalIndexBits
	generationShift      = indexShift + IndexBits
	reservedShift        = generationShift + GenerationBits
)

// Field masks (unshifted).
const (
	typeMask            = 1<<TypeBits - 1
	infoMask            = 1<<InfoBits - 1
	additionalIndexMask = 1<<AdditionalIndexBits - 1
	indexMask           = 1<<IndexBits - 1
	generationMask      = 1<<GenerationBits - 1
)

// Capacity limits implied by the layout.
const (
	// MaxIndex is the number of distinct slot indices per manager.
	MaxIndex = 1 << IndexBits

	// MaxGeneration is the largest encodable generation. Allocators retire a
	// slot once its generation reaches this value instead of wrapping.
	MaxGeneration = generationMask

	// MaxAdditionalIndex is the number of instances one logical handle
	// can address (multi-buffered global descriptor sets).
	MaxAdditionalIndex = 1 << AdditionalIndexBits
)

// The layout must fit in 64 bits with at least one reserved bit.
var _ = [1]struct{}{}[reservedShift/64]

// Type discriminates the resource kind.
type Type uint8

// Resource kinds.
const (
	TypeUndefined Type = iota
	TypeBuffer
	TypeImage
	TypeSampler
	TypeDescriptorSet
	TypeRenderNodeGraph
	TypeQuery
)

var typeNames = [...]string{
	TypeUndefined:       "Undefined",
	TypeBuffer:          "Buffer",
	TypeImage:           "Image",
	TypeSampler:         "Sampler",
	TypeDescriptorSet:   "DescriptorSet",
	TypeRenderNodeGraph: "RenderNodeGraph",
	TypeQuery:           "Query",
}

// String returns the type name.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Info holds kind-specific flag bits.
type Info uint8

// Resource flags (buffers, images, samplers).
const (
	// InfoDynamic marks a dynamically tracked resource that needs barriers.
	InfoDynamic Info = 1 << iota
	// InfoResetOnFrameBorders marks a resource whose state resets every frame.
	InfoResetOnFrameBorders
	// InfoDeferredDestroy marks a resource destroyed only after frames in flight retire.
	InfoDeferredDestroy
	// InfoPlatformConversion marks an image that needs platform conversion
	// (e.g. external YCbCr surfaces) when sampled.
	InfoPlatformConversion
)

// Descriptor set flags. They reuse the low bit positions and are only
// meaningful on TypeDescriptorSet handles.
const (
	// InfoDescriptorSetOneFrame selects the one-frame local pool.
	InfoDescriptorSetOneFrame Info = 1 << iota
	// InfoDescriptorSetGlobal selects the named global pool.
	InfoDescriptorSetGlobal
)

// Fields is the decoded form of a Handle.
type Fields struct {
	Type            Type
	Index           uint32
	Generation      uint32
	Info            Info
	HasName         bool
	AdditionalIndex uint32
}

// Encode packs type, index and generation into a Handle.
func Encode(t Type, index, generation uint32) Handle {
	return EncodeFull(Fields{Type: t, Index: index, Generation: generation})
}

// EncodeInfo packs type, index, generation and info flags into a Handle.
func EncodeInfo(t Type, index, generation uint32, info Info) Handle {
	return EncodeFull(Fields{Type: t, Index: index, Generation: generation, Info: info})
}

// EncodeFull packs every field into a Handle.
//
// Fields wider than their bit range are truncated. Truncation is a caller
// bug; it is reported at debug level and never panics.
func EncodeFull(f Fields) Handle {
	if uint32(f.Type) > typeMask || f.Index > indexMask ||
		f.Generation > generationMask || f.AdditionalIndex > additionalIndexMask {
		logging.L().Debug("handle: field out of range, truncating",
			"type", f.Type, "index", f.Index, "generation", f.Generation,
			"additionalIndex", f.AdditionalIndex)
	}
	h := Handle(uint64(f.Type)&typeMask)<<typeShift |
		Handle(uint64(f.Info)&infoMask)<<infoShift |
		Handle(uint64(f.AdditionalIndex)&additionalIndexMask)<<additionalIndexShift |
		Handle(uint64(f.Index)&indexMask)<<indexShift |
		Handle(uint64(f.Generation)&generationMask)<<generationShift
	if f.HasName {
		h |= 1 << nameShift
	}
	return h
}

// IsValid reports whether h is not the Invalid handle.
func IsValid(h Handle) bool { return h != Invalid }

// IsValid reports whether h is not the Invalid handle.
func (h Handle) IsValid() bool { return h != Invalid }

// Type returns the resource kind.
func (h Handle) Type() Type { return Type((h >> typeShift) & typeMask) }

// Index returns the slot index.
func (h Handle) Index() uint32 { return uint32((h >> indexShift) & indexMask) }

// Generation returns the slot generation.
func (h Handle) Generation() uint32 { return uint32((h >> generationShift) & generationMask) }

// Info returns the additional info flags.
func (h Handle) Info() Info { return Info((h >> infoShift) & infoMask) }

// HasInfo reports whether all bits of flag are set.
func (h Handle) HasInfo(flag Info) bool { return h.Info()&flag == flag }

// HasName reports whether the resource was registered under a name.
func (h Handle) HasName() bool { return (h>>nameShift)&1 == 1 }

// AdditionalIndex returns the instance index inside a multi-instance handle.
func (h Handle) AdditionalIndex() uint32 {
	return uint32((h >> additionalIndexShift) & additionalIndexMask)
}

// Fields decodes every field of h.
func (h Handle) Fields() Fields {
	return Fields{
		Type:            h.Type(),
		Index:           h.Index(),
		Generation:      h.Generation(),
		Info:            h.Info(),
		HasName:         h.HasName(),
		AdditionalIndex: h.AdditionalIndex(),
	}
}

// WithAdditionalIndex returns h addressing instance i.
func (h Handle) WithAdditionalIndex(i uint32) Handle {
	f := h.Fields()
	f.AdditionalIndex = i
	return EncodeFull(f)
}

// WithName returns h with the has-name bit set.
func (h Handle) WithName() Handle {
	if !h.IsValid() {
		return h
	}
	return h | 1<<nameShift
}

// WithoutAdditionalIndex returns h with the instance index cleared.
func (h Handle) WithoutAdditionalIndex() Handle {
	if !h.IsValid() {
		return h
	}
	return h &^ (additionalIndexMask << additionalIndexShift)
}

// SameSlot reports whether a and b address the same slot in the same
// generation, ignoring flags and the instance index.
func SameSlot(a, b Handle) bool {
	return a.IsValid() && b.IsValid() && a.Type() == b.Type() &&
		a.Index() == b.Index() && a.Generation() == b.Generation()
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	if !h.IsValid() {
		return "Handle(invalid)"
	}
	return fmt.Sprintf("%s{idx=%d gen=%d info=%#02x add=%d}",
		h.Type(), h.Index(), h.Generation(), uint8(h.Info()), h.AdditionalIndex())
}
