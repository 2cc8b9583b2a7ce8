package descriptor

import (
	"slices"
	"testing"

	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/gpuresource"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
)

// mapResolver resolves handles through a fixed table; unknown handles
// resolve to themselves.
type mapResolver map[handle.Handle]handle.Handle

func (r mapResolver) ResolveCurrentHandle(h handle.Handle) handle.Handle {
	if cur, ok := r[h]; ok {
		return cur
	}
	return h
}

var (
	bufA    = handle.Encode(handle.TypeBuffer, 1, 0)
	bufDyn  = handle.EncodeInfo(handle.TypeBuffer, 2, 0, handle.InfoDynamic)
	imgA    = handle.Encode(handle.TypeImage, 1, 0)
	imgConv = handle.EncodeInfo(handle.TypeImage, 2, 0, handle.InfoPlatformConversion)
	smpA    = handle.Encode(handle.TypeSampler, 1, 0)
)

var testLayout = []LayoutBinding{
	{Binding: 2, Type: TypeSampler, Stages: gputypes.ShaderStageFragment},
	{Binding: 0, Type: TypeUniformBuffer, Stages: gputypes.ShaderStagesVertexFragment},
	{Binding: 1, Type: TypeSampledImage, Stages: gputypes.ShaderStageFragment},
}

func testResources(buf, img, smp handle.Handle) BindingResources {
	return BindingResources{
		Buffers:  []BufferDescriptor{{Binding: LayoutBinding{Binding: 0}, Resource: BindableBuffer{Handle: buf, ByteSize: 64}}},
		Images:   []ImageDescriptor{{Binding: LayoutBinding{Binding: 1}, Resource: BindableImage{Handle: img}}},
		Samplers: []SamplerDescriptor{{Binding: LayoutBinding{Binding: 2}, Resource: BindableSampler{Handle: smp}}},
	}
}

func newTestManager(r Resolver, opts ...Option) *Manager {
	return NewManager(device.NewHeadless(device.WithFramesInFlight(1)), r, opts...)
}

func TestLocalUpdateIdempotent(t *testing.T) {
	n := newTestManager(mapResolver{}).NewNodeSets()
	h := n.Create(testLayout)
	if h.Type() != handle.TypeDescriptorSet || h.HasInfo(handle.InfoDescriptorSetOneFrame) {
		t.Fatalf("Create: got %v", h)
	}

	res := testResources(bufA, imgA, smpA)
	if got := n.Update(h, res); got != UpdateNew {
		t.Fatalf("first Update: got %v, want New", got)
	}
	first, _ := n.Resources(h)
	if got := n.Update(h, res); got != 0 {
		t.Errorf("second Update: got %v, want None", got)
	}
	second, _ := n.Resources(h)
	if !slices.Equal(first.Buffers, second.Buffers) || !slices.Equal(first.Images, second.Images) {
		t.Error("resolved state changed on identical update")
	}
	if p := n.PendingGPUUpdates(); len(p) != 1 || p[0] != h {
		t.Errorf("PendingGPUUpdates: got %v, want [%v]", p, h)
	}

	res.Buffers[0].Resource.ByteOffset = 256
	if got := n.Update(h, res); got != UpdateNew {
		t.Errorf("offset change: got %v, want New", got)
	}
}

func TestGlobalCreateAndLookup(t *testing.T) {
	m := newTestManager(nil)
	hs := m.CreateGlobal("Global1", testLayout, 2)
	if len(hs) != 2 {
		t.Fatalf("CreateGlobal: got %d handles, want 2", len(hs))
	}
	if hs[0] == hs[1] || hs[0].Index() != hs[1].Index() {
		t.Errorf("instances should share an index and differ: %v %v", hs[0], hs[1])
	}
	for i, h := range hs {
		if h.AdditionalIndex() != uint32(i) || !h.HasInfo(handle.InfoDescriptorSetGlobal) || !h.HasName() {
			t.Errorf("instance %d: got %v", i, h)
		}
	}
	if got := m.Handles("Global1"); !slices.Equal(got, hs) {
		t.Errorf("Handles: got %v, want %v", got, hs)
	}
	if m.Handle("Global1") != hs[0] {
		t.Error("Handle should return instance 0")
	}
	if m.Handles("missing") != nil || m.Handle("missing") != handle.Invalid {
		t.Error("unknown name should yield nothing")
	}

	again := m.CreateGlobal("Global1", testLayout, 2)
	if !slices.Equal(again, hs) {
		t.Errorf("re-creation: got %v, want %v", again, hs)
	}
	if clamped := m.CreateGlobal("Many", testLayout, 100); len(clamped) != handle.MaxAdditionalIndex {
		t.Errorf("descCount clamp: got %d", len(clamped))
	}
	if one := m.CreateGlobal("One", testLayout, 0); len(one) != 1 {
		t.Errorf("descCount 0: got %d handles", len(one))
	}
}

func TestGlobalWriteLock(t *testing.T) {
	m := newTestManager(nil)
	hs := m.CreateGlobal("Global1", testLayout, 2)
	n := m.NewNodeSets()
	res := testResources(bufA, imgA, smpA)

	if got := n.Update(hs[0], res); got != UpdateNew {
		t.Fatalf("first write: got %v, want New", got)
	}
	if got := m.Update(hs[0], testResources(bufDyn, imgA, smpA)); got != 0 {
		t.Errorf("second write: got %v, want rejected", got)
	}
	if r, _ := m.Resources(hs[0]); r.Buffers[0].Resource.Handle != bufA {
		t.Error("rejected write modified the set")
	}
	if got := m.Update(hs[1], res); got != UpdateNew {
		t.Errorf("other instance: got %v, want New", got)
	}
	if p := m.PendingGPUUpdates(); !slices.Equal(p, hs) {
		t.Errorf("PendingGPUUpdates: got %v", p)
	}

	m.BeginFrame()
	if len(m.PendingGPUUpdates()) != 0 {
		t.Error("pending updates survived BeginFrame")
	}
	if got := m.Update(hs[0], res); got != 0 {
		t.Errorf("unchanged write after BeginFrame: got %v, want None", got)
	}
	if got := m.Update(hs[0], res); got != 0 {
		t.Errorf("locked again: got %v", got)
	}
}

func TestGlobalRecreateKeepsWriteLock(t *testing.T) {
	m := newTestManager(nil)
	hs := m.CreateGlobal("G", testLayout, 2)
	res := testResources(bufA, imgA, smpA)
	if got := m.Update(hs[0], res); got != UpdateNew {
		t.Fatalf("first write: got %v, want New", got)
	}

	if again := m.CreateGlobal("G", testLayout, 2); !slices.Equal(again, hs) {
		t.Fatalf("re-creation: got %v, want %v", again, hs)
	}
	if got := m.Update(hs[0], testResources(bufDyn, imgA, smpA)); got != 0 {
		t.Errorf("write after re-creation in the same frame: got %v, want rejected", got)
	}
	if got := m.Update(hs[1], res); got != UpdateNew {
		t.Errorf("unwritten instance: got %v, want New", got)
	}

	m.BeginFrame()
	if got := m.Update(hs[0], res); got != UpdateNew {
		t.Errorf("write next frame: got %v, want New", got)
	}
}

func TestDynamicOffsetCountInvariant(t *testing.T) {
	layouts := [][]LayoutBinding{
		nil,
		{{Binding: 0, Type: TypeUniformBuffer}},
		{{Binding: 0, Type: TypeUniformBufferDynamic}, {Binding: 3, Type: TypeStorageBufferDynamic}},
		{{Binding: 4, Type: TypeStorageBufferDynamic, Count: 3}, {Binding: 1, Type: TypeUniformBufferDynamic}, {Binding: 2, Type: TypeSampler}},
	}
	n := newTestManager(nil).NewNodeSets()
	for i, layout := range layouts {
		h := n.Create(layout)
		var res BindingResources
		for _, b := range layout {
			if !b.Type.IsBuffer() {
				continue
			}
			for e := range b.count() {
				res.Buffers = append(res.Buffers, BufferDescriptor{Binding: b, ArrayOffset: e, Resource: BindableBuffer{Handle: bufA}})
			}
		}
		n.Update(h, res)
		dyn := n.DynamicOffsets(h)
		if len(dyn) != dynamicBindings(layout) {
			t.Errorf("layout %d: got %d dynamic offsets, want %d", i, len(dyn), dynamicBindings(layout))
		}
		for j := 1; j < len(dyn); j++ {
			if dyn[j-1].Binding > dyn[j].Binding {
				t.Errorf("layout %d: dynamic offsets not in binding order: %v", i, dyn)
			}
		}
		for _, d := range dyn {
			if d.Handle != bufA {
				t.Errorf("layout %d: dynamic binding %d bound to %v", i, d.Binding, d.Handle)
			}
		}
	}

	tooMany := make([]LayoutBinding, MaxDynamicOffsets+1)
	for i := range tooMany {
		tooMany[i] = LayoutBinding{Binding: uint32(i), Type: TypeUniformBufferDynamic}
	}
	if h := n.Create(tooMany); h != handle.Invalid {
		t.Errorf("layout with %d dynamic bindings: got %v, want Invalid", len(tooMany), h)
	}
}

func TestDynamicArrayElements(t *testing.T) {
	n := newTestManager(nil).NewNodeSets()
	layout := []LayoutBinding{
		{Binding: 1, Type: TypeUniformBufferDynamic},
		{Binding: 0, Type: TypeStorageBufferDynamic, Count: 2},
	}
	h := n.Create(layout)
	bufB := handle.Encode(handle.TypeBuffer, 3, 0)
	n.Update(h, BindingResources{Buffers: []BufferDescriptor{
		{Binding: LayoutBinding{Binding: 0}, ArrayOffset: 0, Resource: BindableBuffer{Handle: bufA}},
		{Binding: LayoutBinding{Binding: 0}, ArrayOffset: 1, Resource: BindableBuffer{Handle: bufDyn}},
		{Binding: LayoutBinding{Binding: 1}, Resource: BindableBuffer{Handle: bufB}},
	}})

	want := []DynamicOffsetDescriptor{{0, bufA}, {0, bufDyn}, {1, bufB}}
	if got := n.DynamicOffsets(h); !slices.Equal(got, want) {
		t.Errorf("DynamicOffsets: got %v, want %v", got, want)
	}

	wide := []LayoutBinding{{Binding: 0, Type: TypeUniformBufferDynamic, Count: MaxDynamicOffsets + 1}}
	if h := n.Create(wide); h != handle.Invalid {
		t.Errorf("dynamic array of %d: got %v, want Invalid", MaxDynamicOffsets+1, h)
	}
	m := newTestManager(nil)
	if hs := m.CreateGlobal("Wide", wide, 1); hs != nil {
		t.Errorf("global dynamic array of %d: got %v, want nil", MaxDynamicOffsets+1, hs)
	}
}

func TestTypeMismatch(t *testing.T) {
	n := newTestManager(nil).NewNodeSets()
	h := n.Create(testLayout)

	tests := []struct {
		name string
		res  BindingResources
	}{
		{"sampler in image binding", testResources(bufA, smpA, smpA)},
		{"image in buffer binding", testResources(imgA, imgA, smpA)},
		{"unbound buffer", testResources(handle.Invalid, imgA, smpA)},
		{"unknown binding", BindingResources{Buffers: []BufferDescriptor{{Binding: LayoutBinding{Binding: 9}, Resource: BindableBuffer{Handle: bufA}}}}},
		{"buffer into sampler binding", BindingResources{Buffers: []BufferDescriptor{{Binding: LayoutBinding{Binding: 2}, Resource: BindableBuffer{Handle: bufA}}}}},
		{"array offset out of range", BindingResources{Buffers: []BufferDescriptor{{Binding: LayoutBinding{Binding: 0}, ArrayOffset: 1, Resource: BindableBuffer{Handle: bufA}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Update(h, tt.res); got&UpdateInvalid == 0 {
				t.Errorf("got %v, want Invalid", got)
			}
		})
	}
}

func TestCombinedImageSampler(t *testing.T) {
	n := newTestManager(nil).NewNodeSets()
	layout := []LayoutBinding{
		{Binding: 0, Type: TypeCombinedImageSampler},
		{Binding: 1, Type: TypeCombinedImageSampler, ImmutableSampler: smpA},
	}
	h := n.Create(layout)
	if !n.HasImmutableSamplers(h) {
		t.Error("HasImmutableSamplers: got false")
	}
	tests := []struct {
		name    string
		binding uint32
		img     BindableImage
		invalid bool
	}{
		{"paired", 0, BindableImage{Handle: imgA, Sampler: smpA}, false},
		{"missing sampler", 0, BindableImage{Handle: imgA, Sampler: handle.Invalid}, true},
		{"buffer as sampler", 0, BindableImage{Handle: imgA, Sampler: bufA}, true},
		{"immutable", 1, BindableImage{Handle: imgA, Sampler: handle.Invalid}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := BindingResources{Images: []ImageDescriptor{{Binding: LayoutBinding{Binding: tt.binding}, Resource: tt.img}}}
			got := n.Update(h, res)
			if (got&UpdateInvalid != 0) != tt.invalid {
				t.Errorf("got %v, invalid want %v", got, tt.invalid)
			}
		})
	}
}

func TestUnsetImmutableSampler(t *testing.T) {
	n := newTestManager(mapResolver{}).NewNodeSets()
	layout := []LayoutBinding{
		{Binding: 0, Type: TypeCombinedImageSampler},
		{Binding: 1, Type: TypeSampler},
		{Binding: 2, Type: TypeSampledImage},
	}
	h := n.Create(layout)
	if n.HasImmutableSamplers(h) {
		t.Error("HasImmutableSamplers: got true for a layout that declares none")
	}

	tests := []struct {
		name string
		res  BindingResources
		want UpdateFlags
	}{
		{
			"combined without sampler",
			BindingResources{Images: []ImageDescriptor{{Binding: LayoutBinding{Binding: 0}, Resource: BindableImage{Handle: imgA}}}},
			UpdateNew | UpdateInvalid,
		},
		{
			"sampler binding left empty",
			BindingResources{Samplers: []SamplerDescriptor{{Binding: LayoutBinding{Binding: 1}}}},
			UpdateInvalid,
		},
		{
			"sampled image without sampler",
			BindingResources{Images: []ImageDescriptor{{Binding: LayoutBinding{Binding: 2}, Resource: BindableImage{Handle: imgA}}}},
			UpdateNew,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Update(h, tt.res); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	// A non-sampler handle does not count as an immutable sampler.
	h = n.Create([]LayoutBinding{{Binding: 0, Type: TypeSampler, ImmutableSampler: imgA}})
	if n.HasImmutableSamplers(h) {
		t.Error("HasImmutableSamplers: image handle accepted as immutable sampler")
	}
}

func TestDerivedFlags(t *testing.T) {
	n := newTestManager(nil).NewNodeSets()
	h := n.Create(testLayout)

	n.Update(h, testResources(bufDyn, imgConv, smpA))
	if !n.HasDynamicBarrierResources(h) || !n.HasPlatformConversionBindings(h) {
		t.Error("derived flags not set")
	}
	n.Update(h, testResources(bufA, imgA, smpA))
	if n.HasDynamicBarrierResources(h) || n.HasPlatformConversionBindings(h) {
		t.Error("derived flags not recomputed")
	}
	if n.HasImmutableSamplers(h) {
		t.Error("HasImmutableSamplers: got true")
	}
}

func TestOneFrameSetsGoStale(t *testing.T) {
	n := newTestManager(nil).NewNodeSets()
	static := n.Create(testLayout)
	h := n.CreateOneFrame(testLayout)
	if !h.HasInfo(handle.InfoDescriptorSetOneFrame) {
		t.Fatalf("CreateOneFrame: got %v", h)
	}
	if got := n.Update(h, testResources(bufA, imgA, smpA)); got != UpdateNew {
		t.Fatalf("Update: got %v", got)
	}

	n.BeginFrame()
	if got := n.Update(h, testResources(bufA, imgA, smpA)); got != 0 {
		t.Errorf("stale one-frame update: got %v, want None", got)
	}
	if _, ok := n.Resources(h); ok {
		t.Error("stale one-frame handle still resolves")
	}
	if _, ok := n.Resources(static); !ok {
		t.Error("static set dropped by BeginFrame")
	}
	if next := n.CreateOneFrame(testLayout); next.Index() != h.Index() || next == h {
		t.Errorf("next frame handle %v should reuse index of %v with a new generation", next, h)
	}

	n.Reset(Counts{})
	if _, ok := n.Resources(static); ok {
		t.Error("static set survived Reset")
	}
}

func TestBudget(t *testing.T) {
	n := newTestManager(nil, WithValidation(true)).NewNodeSets()
	var budget Counts
	budget[TypeUniformBuffer] = 2
	budget[TypeSampler] = 1
	n.Reset(budget)

	n.Create(testLayout)
	_, remaining := n.Budget()
	if remaining[TypeUniformBuffer] != 1 || remaining[TypeSampler] != 0 {
		t.Errorf("remaining after one set: %v", remaining)
	}
	// Exhaustion is reported, never enforced.
	if h := n.Create(testLayout); !h.IsValid() {
		t.Error("over-budget Create should still succeed")
	}
	if _, remaining = n.Budget(); remaining.Total() != 0 {
		t.Errorf("remaining after exhaustion: %v", remaining)
	}
}

func TestDestroyGlobal(t *testing.T) {
	dev := device.NewHeadless(device.WithFramesInFlight(1))
	m := NewManager(dev, nil)
	old := m.CreateGlobal("shadow", testLayout, 1)[0]
	if !m.DestroyGlobal("shadow") || m.DestroyGlobal("shadow") {
		t.Fatal("DestroyGlobal should succeed exactly once")
	}
	if got := m.Update(old, testResources(bufA, imgA, smpA)); got != 0 {
		t.Errorf("update of destroyed set: got %v", got)
	}

	m.BeginFrame()
	if m.DeferredGlobals() != 1 {
		t.Fatal("destroyed set recycled before its frames retired")
	}
	dev.EndFrame()
	dev.EndFrame()
	m.BeginFrame()
	if m.DeferredGlobals() != 0 {
		t.Fatal("destroyed set still deferred")
	}

	h := m.CreateGlobal("other", testLayout, 1)[0]
	if h.Index() != old.Index() || h.Generation() <= old.Generation() {
		t.Errorf("recycled %v from %v", h, old)
	}
	if _, ok := m.Resources(old); ok {
		t.Error("stale global handle resolved")
	}
}

func TestReplacedResourceIsNew(t *testing.T) {
	dev := device.NewHeadless()
	res := gpuresource.NewManager(dev, dev.HAL())
	ref, err := res.CreateBuffer("ubo", gpuresource.BufferDesc{Size: 64, Usage: gputypes.BufferUsageUniform})
	if err != nil {
		t.Fatal(err)
	}
	img, _ := res.CreateImage("albedo", gpuresource.ImageDesc{Width: 4, Height: 4})
	smp, _ := res.CreateSampler("linear", gpuresource.LinearClampSampler)

	n := NewManager(dev, res).NewNodeSets()
	h := n.Create(testLayout)
	bind := testResources(ref.Handle(), img.Handle(), smp.Handle())
	if got := n.Update(h, bind); got != UpdateNew {
		t.Fatalf("first Update: got %v", got)
	}

	cur, err := res.Replace(ref.Handle(), gpuresource.BufferDesc{Size: 128, Usage: gputypes.BufferUsageUniform})
	if err != nil {
		t.Fatal(err)
	}
	// The caller still passes the stale handle; resolution picks up the new one.
	if got := n.Update(h, bind); got != UpdateNew {
		t.Errorf("after Replace: got %v, want New", got)
	}
	r, _ := n.Resources(h)
	if r.Buffers[0].Resource.Handle != cur {
		t.Errorf("stored %v, want %v", r.Buffers[0].Resource.Handle, cur)
	}

	res.Destroy(cur)
	if got := n.Update(h, bind); got&UpdateInvalid == 0 {
		t.Errorf("after Destroy: got %v, want Invalid", got)
	}
}

func TestLayoutEntries(t *testing.T) {
	entries := LayoutEntries([]LayoutBinding{
		{Binding: 0, Type: TypeUniformBufferDynamic, Stages: gputypes.ShaderStageVertex},
		{Binding: 1, Type: TypeStorageBuffer},
		{Binding: 2, Type: TypeSampledImage},
		{Binding: 3, Type: TypeSampler},
		{Binding: 4, Type: TypeStorageImage},
	})
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
	if b := entries[0].Buffer; b == nil || b.Type != gputypes.BufferBindingTypeUniform || !b.HasDynamicOffset {
		t.Errorf("dynamic uniform: got %+v", b)
	}
	if entries[0].Visibility != gputypes.ShaderStageVertex {
		t.Errorf("visibility: got %v", entries[0].Visibility)
	}
	if b := entries[1].Buffer; b == nil || b.Type != gputypes.BufferBindingTypeStorage || b.HasDynamicOffset {
		t.Errorf("storage: got %+v", b)
	}
	if entries[2].Texture == nil || entries[3].Sampler == nil || entries[4].StorageTexture == nil {
		t.Error("image and sampler entries not mapped")
	}
}

func TestParseType(t *testing.T) {
	for typ := range NumTypes {
		got, ok := ParseType(typ.String())
		if !ok || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ.String(), got, ok)
		}
	}
	if _, ok := ParseType("texture"); ok {
		t.Error("unknown name parsed")
	}
}
