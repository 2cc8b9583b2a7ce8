package descriptor

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/deferred"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/internal/slot"
)

type globalSet struct {
	name      string
	instances []cpuSet
	destroyed bool
}

// Manager owns the named global descriptor sets and creates the per-node
// local pools.
//
// Global sets are shared across render node graphs: creation and lookup may
// happen from any goroutine, and the first update of an instance in a frame
// write-locks it until the next BeginFrame.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	dev      device.Device
	resolver Resolver
	validate bool

	slots   slot.Allocator
	globals []globalSet
	names   map[string]uint32
	retired deferred.Queue[uint32]
	pending []handle.Handle

	diag  diag
	stale *logging.Limiter
	// locked warns once per name and frame about rejected writes.
	locked *logging.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithValidation enables budget validation of local pools.
func WithValidation(enabled bool) Option {
	return func(m *Manager) { m.validate = enabled }
}

// NewManager creates a descriptor set manager resolving bound resources
// through r. A nil r leaves handles unresolved.
func NewManager(dev device.Device, r Resolver, opts ...Option) *Manager {
	m := &Manager{
		dev:      dev,
		resolver: r,
		names:    make(map[string]uint32),
		diag:     diag{lim: logging.NewLimiter(32, 0)},
		stale:    logging.NewLimiter(64, 0),
		locked:   logging.NewLimiter(0, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Validation reports whether budget validation is enabled.
func (m *Manager) Validation() bool { return m.validate }

// CreateGlobal creates descCount instances of a named global set laid out
// with bindings and returns their handles in instance order.
//
// Creating an existing name lays the set out again in its current slot and
// logs a warning; the returned handles then equal the earlier ones and
// instances written this frame stay write-locked until BeginFrame.
// descCount is clamped to [1, handle.MaxAdditionalIndex]. A layout with more
// than MaxDynamicOffsets dynamic descriptors is rejected and yields nil.
func (m *Manager) CreateGlobal(name string, bindings []LayoutBinding, descCount uint32) []handle.Handle {
	if n := dynamicBindings(bindings); n > MaxDynamicOffsets {
		logging.L().Error("descriptor: too many dynamic bindings",
			"name", name, "dynamic", n, "max", MaxDynamicOffsets)
		return nil
	}
	descCount = min(max(descCount, 1), handle.MaxAdditionalIndex)

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.names[name]
	if exists {
		logging.L().Warn("descriptor: global set created again, rebinding", "name", name)
	} else {
		var ok bool
		idx, _, ok = m.slots.Alloc()
		if !ok {
			return nil
		}
		if int(idx) == len(m.globals) {
			m.globals = append(m.globals, globalSet{})
		}
		m.names[name] = idx
	}
	old := m.globals[idx].instances
	g := globalSet{name: name, instances: make([]cpuSet, descCount)}
	for i := range g.instances {
		g.instances[i] = newCPUSet(bindings)
		if i < len(old) {
			g.instances[i].writeLocked = old[i].writeLocked
		}
	}
	m.globals[idx] = g
	return m.handlesLocked(idx)
}

func (m *Manager) handlesLocked(idx uint32) []handle.Handle {
	gen, _ := m.slots.Generation(idx)
	g := &m.globals[idx]
	hs := make([]handle.Handle, len(g.instances))
	for i := range hs {
		hs[i] = handle.EncodeFull(handle.Fields{
			Type:            handle.TypeDescriptorSet,
			Index:           idx,
			Generation:      gen,
			Info:            handle.InfoDescriptorSetGlobal,
			HasName:         true,
			AdditionalIndex: uint32(i), //nolint:gosec // bounded by MaxAdditionalIndex
		})
	}
	return hs
}

// Handles returns the instance handles of the named global set in creation
// order, or nil if the name is unknown.
func (m *Manager) Handles(name string) []handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.names[name]
	if !ok {
		return nil
	}
	return m.handlesLocked(idx)
}

// Handle returns the first instance of the named global set, or
// handle.Invalid.
func (m *Manager) Handle(name string) handle.Handle {
	if hs := m.Handles(name); len(hs) > 0 {
		return hs[0]
	}
	return handle.Invalid
}

// Names returns the live global set names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	m.mu.Unlock()
	slices.Sort(names)
	return names
}

// lookupLocked returns the instance addressed by a global handle.
func (m *Manager) lookupLocked(h handle.Handle) (*globalSet, *cpuSet, bool) {
	if h.Type() != handle.TypeDescriptorSet || !h.HasInfo(handle.InfoDescriptorSetGlobal) ||
		!m.slots.Valid(h) {
		if h.IsValid() {
			m.stale.Log(slog.LevelDebug, "global", "descriptor: stale global set handle", "handle", h)
		}
		return nil, nil, false
	}
	g := &m.globals[h.Index()]
	if g.destroyed || int(h.AdditionalIndex()) >= len(g.instances) {
		return nil, nil, false
	}
	return g, &g.instances[h.AdditionalIndex()], true
}

// Update writes res into the global set instance addressed by h.
//
// Only the first update of an instance per frame is accepted. Later
// attempts are rejected with zero flags and a warning logged once per name
// and frame.
func (m *Manager) Update(h handle.Handle, res BindingResources) UpdateFlags {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, s, ok := m.lookupLocked(h)
	if !ok {
		return 0
	}
	if s.writeLocked {
		m.locked.Once(slog.LevelWarn, g.name,
			"descriptor: global set already written this frame", "name", g.name, "handle", h)
		return 0
	}
	flags := s.update(res, m.resolver, m.diag)
	s.writeLocked = true
	if flags&UpdateNew != 0 {
		m.pending = append(m.pending, h)
	}
	return flags
}

// BeginFrame releases the per-frame write locks, clears the pending GPU
// update list and recycles global slots whose frames have retired.
func (m *Manager) BeginFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.globals {
		for j := range m.globals[i].instances {
			m.globals[i].instances[j].writeLocked = false
		}
	}
	m.locked.Reset()
	m.pending = m.pending[:0]
	m.retired.Age(m.dev.FrameCount(), m.dev.FramesInFlight(), func(idx uint32) {
		m.globals[idx] = globalSet{}
		m.slots.Free(idx)
	})
}

// DestroyGlobal removes the named global set. Its handles stop resolving at
// once; the slot is recycled after the frames in flight have retired.
func (m *Manager) DestroyGlobal(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.names[name]
	if !ok {
		return false
	}
	delete(m.names, name)
	m.globals[idx].destroyed = true
	m.retired.Push(m.dev.FrameCount(), idx)
	return true
}

// DeferredGlobals returns the number of destroyed global sets waiting for
// their frames to retire.
func (m *Manager) DeferredGlobals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retired.Len()
}

// PendingGPUUpdates returns the global set instances whose bindings changed
// this frame.
func (m *Manager) PendingGPUUpdates() []handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// Bindings returns the layout of a global set instance.
func (m *Manager) Bindings(h handle.Handle) []LayoutBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, s, ok := m.lookupLocked(h); ok {
		return slices.Clone(s.bindings)
	}
	return nil
}

// Resources returns the resolved resources of a global set instance.
func (m *Manager) Resources(h handle.Handle) (BindingResources, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, s, ok := m.lookupLocked(h); ok {
		return s.resources(), true
	}
	return BindingResources{}, false
}

// DynamicOffsets returns the dynamic descriptors of a global set instance
// in binding order.
func (m *Manager) DynamicOffsets(h handle.Handle) []DynamicOffsetDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, s, ok := m.lookupLocked(h); ok {
		return s.dynamicOffsets()
	}
	return nil
}

func (m *Manager) flag(h handle.Handle, get func(*cpuSet) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, s, ok := m.lookupLocked(h); ok {
		return get(s)
	}
	return false
}

// HasDynamicBarrierResources reports whether a global set binds resources
// that need barriers.
func (m *Manager) HasDynamicBarrierResources(h handle.Handle) bool {
	return m.flag(h, func(s *cpuSet) bool { return s.hasDynamicBarrierResources })
}

// HasImmutableSamplers reports whether a global set layout bakes in samplers.
func (m *Manager) HasImmutableSamplers(h handle.Handle) bool {
	return m.flag(h, func(s *cpuSet) bool { return s.hasImmutableSamplers })
}

// HasPlatformConversionBindings reports whether a global set binds images
// that need platform conversion.
func (m *Manager) HasPlatformConversionBindings(h handle.Handle) bool {
	return m.flag(h, func(s *cpuSet) bool { return s.hasPlatformConversionBindings })
}

// NewNodeSets creates the local pools of one render node. Global handles
// passed to it are forwarded to m.
func (m *Manager) NewNodeSets() *NodeSets {
	return &NodeSets{
		global:   m,
		resolver: m.resolver,
		validate: m.validate,
		diag:     m.diag,
		stale:    m.stale,
	}
}
