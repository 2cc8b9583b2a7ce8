package descriptor

import (
	"log/slog"

	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
)

// localPool is a pool of sets sharing one generation. The generation
// advances whenever the pool is cleared, so every handle into the previous
// contents becomes stale at once.
type localPool struct {
	sets       []cpuSet
	generation uint32
}

func (p *localPool) clear() {
	p.sets = p.sets[:0]
	p.generation = (p.generation + 1) & handle.MaxGeneration
}

// NodeSets holds the descriptor sets private to one render node.
//
// NodeSets is used from the render walk only and is not safe for concurrent
// use. Handles of global sets are forwarded to the owning Manager.
type NodeSets struct {
	global   *Manager
	resolver Resolver
	validate bool
	diag     diag
	stale    *logging.Limiter

	static   localPool
	oneFrame localPool

	budget    Counts
	remaining Counts
	pending   []handle.Handle
}

// Reset drops every static set and installs a new creation budget.
func (n *NodeSets) Reset(budget Counts) {
	n.static.clear()
	n.budget = budget
	n.remaining = budget
}

// Budget returns the installed budget and what is left of it.
func (n *NodeSets) Budget() (budget, remaining Counts) { return n.budget, n.remaining }

// BeginFrame drops every one-frame set and the pending GPU update list.
func (n *NodeSets) BeginFrame() {
	n.oneFrame.clear()
	n.pending = n.pending[:0]
}

// Create creates a static set that lives until the next Reset.
func (n *NodeSets) Create(bindings []LayoutBinding) handle.Handle {
	return n.create(&n.static, 0, bindings)
}

// CreateOneFrame creates a set that lives until the next BeginFrame.
func (n *NodeSets) CreateOneFrame(bindings []LayoutBinding) handle.Handle {
	return n.create(&n.oneFrame, handle.InfoDescriptorSetOneFrame, bindings)
}

func (n *NodeSets) create(p *localPool, info handle.Info, bindings []LayoutBinding) handle.Handle {
	if c := dynamicBindings(bindings); c > MaxDynamicOffsets {
		logging.L().Error("descriptor: too many dynamic bindings", "dynamic", c, "max", MaxDynamicOffsets)
		return handle.Invalid
	}
	if len(p.sets) >= handle.MaxIndex {
		logging.L().Error("descriptor: local pool exhausted", "max", handle.MaxIndex)
		return handle.Invalid
	}
	n.consume(bindings)
	idx := uint32(len(p.sets)) //nolint:gosec // bounded by handle.MaxIndex
	p.sets = append(p.sets, newCPUSet(bindings))
	return handle.EncodeInfo(handle.TypeDescriptorSet, idx, p.generation, info)
}

// consume charges bindings against the remaining budget. Exhaustion is
// only reported when validation is enabled.
func (n *NodeSets) consume(bindings []LayoutBinding) {
	var need Counts
	need.Add(bindings)
	for t, c := range need {
		if c <= n.remaining[t] {
			n.remaining[t] -= c
			continue
		}
		if n.validate {
			logging.L().Error("descriptor: budget exceeded",
				"descriptorType", Type(t), "need", c, "remaining", n.remaining[t], "budget", n.budget[t])
		}
		n.remaining[t] = 0
	}
}

func (n *NodeSets) lookup(h handle.Handle) (*cpuSet, bool) {
	if h.Type() != handle.TypeDescriptorSet {
		return nil, false
	}
	p := &n.static
	if h.HasInfo(handle.InfoDescriptorSetOneFrame) {
		p = &n.oneFrame
	}
	if h.Generation() != p.generation || int(h.Index()) >= len(p.sets) {
		if h.IsValid() {
			n.stale.Log(slog.LevelDebug, "local", "descriptor: stale local set handle", "handle", h)
		}
		return nil, false
	}
	return &p.sets[h.Index()], true
}

func isGlobal(h handle.Handle) bool {
	return h.IsValid() && h.Type() == handle.TypeDescriptorSet && h.HasInfo(handle.InfoDescriptorSetGlobal)
}

// Update writes res into the set addressed by h and returns the update
// flags. Stale handles yield zero flags.
func (n *NodeSets) Update(h handle.Handle, res BindingResources) UpdateFlags {
	if isGlobal(h) {
		return n.global.Update(h, res)
	}
	s, ok := n.lookup(h)
	if !ok {
		return 0
	}
	flags := s.update(res, n.resolver, n.diag)
	if flags&UpdateNew != 0 {
		n.pending = append(n.pending, h)
	}
	return flags
}

// PendingGPUUpdates returns the local sets whose bindings changed this frame.
// The slice is reused after BeginFrame.
func (n *NodeSets) PendingGPUUpdates() []handle.Handle { return n.pending }

// Len returns the number of static and one-frame sets.
func (n *NodeSets) Len() (static, oneFrame int) { return len(n.static.sets), len(n.oneFrame.sets) }

// Bindings returns the layout of the set addressed by h.
func (n *NodeSets) Bindings(h handle.Handle) []LayoutBinding {
	if isGlobal(h) {
		return n.global.Bindings(h)
	}
	if s, ok := n.lookup(h); ok {
		return s.bindings
	}
	return nil
}

// Resources returns the resolved resources of the set addressed by h.
func (n *NodeSets) Resources(h handle.Handle) (BindingResources, bool) {
	if isGlobal(h) {
		return n.global.Resources(h)
	}
	if s, ok := n.lookup(h); ok {
		return s.resources(), true
	}
	return BindingResources{}, false
}

// DynamicOffsets returns the dynamic descriptors of the set in binding
// order, array elements in order within a binding.
func (n *NodeSets) DynamicOffsets(h handle.Handle) []DynamicOffsetDescriptor {
	if isGlobal(h) {
		return n.global.DynamicOffsets(h)
	}
	if s, ok := n.lookup(h); ok {
		return s.dynamicOffsets()
	}
	return nil
}

// HasDynamicBarrierResources reports whether the set binds resources that
// need barriers.
func (n *NodeSets) HasDynamicBarrierResources(h handle.Handle) bool {
	if isGlobal(h) {
		return n.global.HasDynamicBarrierResources(h)
	}
	s, ok := n.lookup(h)
	return ok && s.hasDynamicBarrierResources
}

// HasImmutableSamplers reports whether the set layout bakes in samplers.
func (n *NodeSets) HasImmutableSamplers(h handle.Handle) bool {
	if isGlobal(h) {
		return n.global.HasImmutableSamplers(h)
	}
	s, ok := n.lookup(h)
	return ok && s.hasImmutableSamplers
}

// HasPlatformConversionBindings reports whether the set binds images that
// need platform conversion.
func (n *NodeSets) HasPlatformConversionBindings(h handle.Handle) bool {
	if isGlobal(h) {
		return n.global.HasPlatformConversionBindings(h)
	}
	s, ok := n.lookup(h)
	return ok && s.hasPlatformConversionBindings
}
