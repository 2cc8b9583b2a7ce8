package descriptor

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
)

// cpuSet is the CPU mirror of one descriptor set.
type cpuSet struct {
	bindings []LayoutBinding
	buffers  []BufferDescriptor
	images   []ImageDescriptor
	samplers []SamplerDescriptor

	// first maps a binding number to its first element in the kind array.
	first map[uint32]int

	// dynamic holds one entry per dynamic array element; dynamicAt is the
	// buffers index each entry mirrors.
	dynamic      [MaxDynamicOffsets]DynamicOffsetDescriptor
	dynamicAt    [MaxDynamicOffsets]int
	dynamicCount int

	hasDynamicBarrierResources    bool
	hasImmutableSamplers          bool
	hasPlatformConversionBindings bool

	// writeLocked is only used by global sets.
	writeLocked bool
}

// dynamicBindings returns the number of dynamic descriptors in bindings,
// counting every array element.
func dynamicBindings(bindings []LayoutBinding) int {
	n := 0
	for _, b := range bindings {
		if b.Type.IsDynamic() {
			n += int(b.count())
		}
	}
	return n
}

// newCPUSet lays out a set for bindings, sorted by binding number. The
// caller must have checked dynamicBindings against MaxDynamicOffsets.
func newCPUSet(bindings []LayoutBinding) cpuSet {
	s := cpuSet{
		bindings: slices.Clone(bindings),
		first:    make(map[uint32]int, len(bindings)),
	}
	slices.SortStableFunc(s.bindings, func(a, b LayoutBinding) int {
		return cmp.Compare(a.Binding, b.Binding)
	})
	for _, b := range s.bindings {
		switch {
		case b.Type.IsBuffer():
			s.first[b.Binding] = len(s.buffers)
			for i := range b.count() {
				s.buffers = append(s.buffers, BufferDescriptor{
					Binding: b, ArrayOffset: i,
					Resource: BindableBuffer{Handle: handle.Invalid},
				})
			}
		case b.Type.IsImage():
			s.first[b.Binding] = len(s.images)
			for i := range b.count() {
				s.images = append(s.images, ImageDescriptor{
					Binding: b, ArrayOffset: i,
					Resource: BindableImage{Handle: handle.Invalid, Sampler: handle.Invalid},
				})
			}
		case b.Type.IsSampler():
			s.first[b.Binding] = len(s.samplers)
			for i := range b.count() {
				s.samplers = append(s.samplers, SamplerDescriptor{
					Binding: b, ArrayOffset: i,
					Resource: BindableSampler{Handle: handle.Invalid},
				})
			}
		}
		if b.Type.IsDynamic() {
			for i := range b.count() {
				if s.dynamicCount == MaxDynamicOffsets {
					break
				}
				s.dynamic[s.dynamicCount] = DynamicOffsetDescriptor{Binding: b.Binding, Handle: handle.Invalid}
				s.dynamicAt[s.dynamicCount] = s.first[b.Binding] + int(i)
				s.dynamicCount++
			}
		}
		if b.hasImmutableSampler() {
			s.hasImmutableSamplers = true
		}
	}
	return s
}

// locate returns the element index and layout of (binding, arrayOffset)
// inside the kind array selected by want.
func (s *cpuSet) locate(binding, arrayOffset uint32, want func(Type) bool) (int, LayoutBinding, bool) {
	for _, b := range s.bindings {
		if b.Binding != binding {
			continue
		}
		if !want(b.Type) || arrayOffset >= b.count() {
			return 0, b, false
		}
		return s.first[binding] + int(arrayOffset), b, true
	}
	return 0, LayoutBinding{Binding: binding, Type: NumTypes}, false
}

// diag reports binding problems for one set.
type diag struct {
	lim *logging.Limiter
}

func (d diag) mismatch(b LayoutBinding, h handle.Handle, what string) {
	d.lim.Log(slog.LevelWarn, "mismatch:"+b.Type.String(),
		"descriptor: resource does not match binding",
		"descriptorType", b.Type, "binding", b.Binding, "resource", what, "handle", h)
}

func (d diag) unbound(b LayoutBinding) {
	d.lim.Log(slog.LevelDebug, "unbound:"+b.Type.String(),
		"descriptor: binding has no live resource",
		"descriptorType", b.Type, "binding", b.Binding)
}

// update writes res into the set and returns the resulting flags.
func (s *cpuSet) update(res BindingResources, r Resolver, d diag) UpdateFlags {
	var flags UpdateFlags

	for _, src := range res.Buffers {
		i, lb, ok := s.locate(src.Binding.Binding, src.ArrayOffset, Type.IsBuffer)
		if !ok {
			d.mismatch(lb, src.Resource.Handle, "buffer")
			flags |= UpdateInvalid
			continue
		}
		cur := src.Resource
		cur.Handle = resolve(r, cur.Handle)
		switch {
		case !cur.Handle.IsValid():
			d.unbound(lb)
			flags |= UpdateInvalid
		case cur.Handle.Type() != handle.TypeBuffer:
			d.mismatch(lb, cur.Handle, cur.Handle.Type().String())
			flags |= UpdateInvalid
		}
		if s.buffers[i].Resource != cur {
			s.buffers[i].Resource = cur
			flags |= UpdateNew
		}
	}

	for _, src := range res.Images {
		i, lb, ok := s.locate(src.Binding.Binding, src.ArrayOffset, Type.IsImage)
		if !ok {
			d.mismatch(lb, src.Resource.Handle, "image")
			flags |= UpdateInvalid
			continue
		}
		cur := src.Resource
		cur.Handle = resolve(r, cur.Handle)
		cur.Sampler = resolve(r, cur.Sampler)
		switch {
		case !cur.Handle.IsValid():
			d.unbound(lb)
			flags |= UpdateInvalid
		case cur.Handle.Type() != handle.TypeImage:
			d.mismatch(lb, cur.Handle, cur.Handle.Type().String())
			flags |= UpdateInvalid
		}
		switch {
		case cur.Sampler.IsValid() && cur.Sampler.Type() != handle.TypeSampler:
			d.mismatch(lb, cur.Sampler, "sampler pairing "+cur.Sampler.Type().String())
			flags |= UpdateInvalid
		case lb.Type == TypeCombinedImageSampler && !cur.Sampler.IsValid() && !lb.hasImmutableSampler():
			d.unbound(lb)
			flags |= UpdateInvalid
		}
		if s.images[i].Resource != cur {
			s.images[i].Resource = cur
			flags |= UpdateNew
		}
	}

	for _, src := range res.Samplers {
		i, lb, ok := s.locate(src.Binding.Binding, src.ArrayOffset, Type.IsSampler)
		if !ok {
			d.mismatch(lb, src.Resource.Handle, "sampler")
			flags |= UpdateInvalid
			continue
		}
		cur := src.Resource
		cur.Handle = resolve(r, cur.Handle)
		switch {
		case !cur.Handle.IsValid():
			if !lb.hasImmutableSampler() {
				d.unbound(lb)
				flags |= UpdateInvalid
			}
		case cur.Handle.Type() != handle.TypeSampler:
			d.mismatch(lb, cur.Handle, cur.Handle.Type().String())
			flags |= UpdateInvalid
		}
		if s.samplers[i].Resource != cur {
			s.samplers[i].Resource = cur
			flags |= UpdateNew
		}
	}

	s.derive()
	return flags
}

// derive recomputes the cached facts that depend on bound resources.
func (s *cpuSet) derive() {
	s.hasDynamicBarrierResources = false
	s.hasPlatformConversionBindings = false
	for _, b := range s.buffers {
		h := b.Resource.Handle
		if h.IsValid() && h.HasInfo(handle.InfoDynamic) {
			s.hasDynamicBarrierResources = true
		}
	}
	for _, img := range s.images {
		h := img.Resource.Handle
		if !h.IsValid() {
			continue
		}
		if h.HasInfo(handle.InfoDynamic) {
			s.hasDynamicBarrierResources = true
		}
		if h.HasInfo(handle.InfoPlatformConversion) {
			s.hasPlatformConversionBindings = true
		}
	}
	for j := range s.dynamicCount {
		dyn := &s.dynamic[j]
		dyn.Handle = s.buffers[s.dynamicAt[j]].Resource.Handle
	}
}

func (s *cpuSet) resources() BindingResources {
	return BindingResources{
		Buffers:  slices.Clone(s.buffers),
		Images:   slices.Clone(s.images),
		Samplers: slices.Clone(s.samplers),
	}
}

func (s *cpuSet) dynamicOffsets() []DynamicOffsetDescriptor {
	return slices.Clone(s.dynamic[:s.dynamicCount])
}
