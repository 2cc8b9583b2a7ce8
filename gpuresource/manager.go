// Package gpuresource manages GPU buffers, images and samplers behind
// generation-checked handles.
//
// Resources live on a wgpu HAL device. Callers hold reference-counted
// handles; a resource whose handle nobody retains any more is destroyed on
// the next pending pass. Destruction of the HAL objects is deferred until
// every frame that could still reference them has retired on the GPU.
//
// Replacing a resource in place keeps its slot but bumps its generation.
// Handles minted before the replacement are then stale, and
// ResolveCurrentHandle maps them to the live handle, which is how descriptor
// sets notice that a binding must be rewritten.
package gpuresource

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/deferred"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/internal/slot"
	"github.com/gogpu/wgpu/hal"
)

// Resource manager errors.
var (
	// ErrInvalidDesc is returned for descriptors that cannot be created.
	ErrInvalidDesc = errors.New("gpures: invalid resource descriptor")

	// ErrExhausted is returned when no slot or generation is left.
	ErrExhausted = errors.New("gpures: resource slots exhausted")

	// ErrCreate wraps HAL creation failures.
	ErrCreate = errors.New("gpures: resource creation failed")

	// ErrNameConflict is returned when a name is already used by a
	// resource of another type.
	ErrNameConflict = errors.New("gpures: resource name used by another type")

	// ErrNotFound is returned for stale or foreign handles.
	ErrNotFound = errors.New("gpures: resource not found")

	// ErrClosed is returned when operating on a closed manager.
	ErrClosed = errors.New("gpures: resource manager closed")
)

// Stats contains resource counts.
type Stats struct {
	Buffers  int
	Images   int
	Samplers int

	// Deferred is the number of HAL objects waiting for their frames to retire.
	Deferred int
}

// String returns a human-readable string of the stats.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[%d buffers, %d images, %d samplers, %d deferred]",
		s.Buffers, s.Images, s.Samplers, s.Deferred)
}

// object holds the HAL payload of one resource. Exactly one field is set.
type object struct {
	buffer  hal.Buffer
	texture hal.Texture
	sampler hal.Sampler
}

func (o object) destroy(dev device.HAL) {
	switch {
	case o.buffer != nil:
		dev.DestroyBuffer(o.buffer)
	case o.texture != nil:
		dev.DestroyTexture(o.texture)
	case o.sampler != nil:
		dev.DestroySampler(o.sampler)
	}
}

type entry struct {
	name string
	ref  *handle.Ref
	info handle.Info
	// birth is the generation the resource was created with. Handles with a
	// generation in [birth, current] belong to this resource.
	birth uint32
	obj   object
}

type pool struct {
	slots   slot.Allocator
	entries []entry
}

const (
	poolBuffer = iota
	poolImage
	poolSampler
	poolCount
)

func poolOf(t handle.Type) (int, bool) {
	switch t {
	case handle.TypeBuffer:
		return poolBuffer, true
	case handle.TypeImage:
		return poolImage, true
	case handle.TypeSampler:
		return poolSampler, true
	default:
		return 0, false
	}
}

var poolTypes = [poolCount]handle.Type{handle.TypeBuffer, handle.TypeImage, handle.TypeSampler}

// Manager owns GPU resources.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	dev     device.Device
	hal     device.HAL
	pools   [poolCount]pool
	names   map[string]handle.Handle
	retired deferred.Queue[object]
	closed  bool
	stale   *logging.Limiter
}

// NewManager creates a resource manager creating objects on h and ageing
// destroyed ones against dev's frame counter.
func NewManager(dev device.Device, h device.HAL) *Manager {
	return &Manager{
		dev:   dev,
		hal:   h,
		names: make(map[string]handle.Handle),
		stale: logging.NewLimiter(64, 0),
	}
}

// CreateBuffer creates a buffer. A non-empty name makes the buffer reachable
// through Handle; creating a name that already exists replaces that buffer
// in place and returns its existing reference.
//
// The returned reference is retained for the caller, who must Release it.
func (m *Manager) CreateBuffer(name string, d BufferDesc) (*handle.Ref, error) {
	if d.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDesc, name)
	}
	return m.create(handle.TypeBuffer, name, d.Info, func(label string) (object, error) {
		b, err := m.hal.CreateBuffer(d.hal(label))
		return object{buffer: b}, err
	})
}

// CreateImage creates an image. Naming follows CreateBuffer.
func (m *Manager) CreateImage(name string, d ImageDesc) (*handle.Ref, error) {
	if d.Width == 0 || d.Height == 0 {
		return nil, fmt.Errorf("%w: image %q is %dx%d", ErrInvalidDesc, name, d.Width, d.Height)
	}
	return m.create(handle.TypeImage, name, d.Info, func(label string) (object, error) {
		t, err := m.hal.CreateTexture(d.hal(label))
		return object{texture: t}, err
	})
}

// CreateSampler creates a sampler. Naming follows CreateBuffer.
func (m *Manager) CreateSampler(name string, d SamplerDesc) (*handle.Ref, error) {
	return m.create(handle.TypeSampler, name, d.Info, func(label string) (object, error) {
		s, err := m.hal.CreateSampler(d.hal(label))
		return object{sampler: s}, err
	})
}

type builder func(label string) (object, error)

func (m *Manager) create(t handle.Type, name string, info handle.Info, build builder) (*handle.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	pi, _ := poolOf(t)
	p := &m.pools[pi]

	if name != "" {
		if existing, ok := m.names[name]; ok {
			if existing.Type() != t {
				return nil, fmt.Errorf("%w: %q is a %s", ErrNameConflict, name, existing.Type())
			}
			logging.L().Debug("gpuresource: replacing named resource", "name", name, "type", t)
			e := &p.entries[existing.Index()]
			if _, err := m.replaceLocked(t, existing.Index(), info, build); err != nil {
				return nil, err
			}
			return e.ref.Retain(), nil
		}
	}

	idx, gen, ok := p.slots.Alloc()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExhausted, t)
	}
	obj, err := build(label(t, name, idx))
	if err != nil {
		p.slots.Free(idx)
		return nil, fmt.Errorf("%w: %s %q: %w", ErrCreate, t, name, err)
	}
	h := handle.EncodeFull(handle.Fields{
		Type:       t,
		Index:      idx,
		Generation: gen,
		Info:       info,
		HasName:    name != "",
	})
	if int(idx) == len(p.entries) {
		p.entries = append(p.entries, entry{})
	}
	p.entries[idx] = entry{name: name, ref: handle.NewRef(h), info: info, birth: gen, obj: obj}
	if name != "" {
		m.names[name] = h
	}
	return p.entries[idx].ref.Retain(), nil
}

func label(t handle.Type, name string, idx uint32) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s#%d", t, idx)
}

// Replace re-creates the resource addressed by h from desc, which must be a
// BufferDesc, ImageDesc or SamplerDesc matching h's type. The slot keeps its
// index and name; its generation advances, so every previously minted handle
// must be re-resolved. The old HAL object is destroyed once its frames have
// retired. Replace returns the new current handle.
func (m *Manager) Replace(h handle.Handle, desc any) (handle.Handle, error) {
	var (
		info  handle.Info
		build builder
		want  handle.Type
	)
	switch d := desc.(type) {
	case BufferDesc:
		if d.Size == 0 {
			return handle.Invalid, fmt.Errorf("%w: buffer has zero size", ErrInvalidDesc)
		}
		want, info = handle.TypeBuffer, d.Info
		build = func(label string) (object, error) {
			b, err := m.hal.CreateBuffer(d.hal(label))
			return object{buffer: b}, err
		}
	case ImageDesc:
		if d.Width == 0 || d.Height == 0 {
			return handle.Invalid, fmt.Errorf("%w: image is %dx%d", ErrInvalidDesc, d.Width, d.Height)
		}
		want, info = handle.TypeImage, d.Info
		build = func(label string) (object, error) {
			t, err := m.hal.CreateTexture(d.hal(label))
			return object{texture: t}, err
		}
	case SamplerDesc:
		want, info = handle.TypeSampler, d.Info
		build = func(label string) (object, error) {
			s, err := m.hal.CreateSampler(d.hal(label))
			return object{sampler: s}, err
		}
	default:
		return handle.Invalid, fmt.Errorf("%w: unsupported descriptor %T", ErrInvalidDesc, desc)
	}
	if h.Type() != want {
		return handle.Invalid, fmt.Errorf("%w: %T for %s handle", ErrInvalidDesc, desc, h.Type())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return handle.Invalid, ErrClosed
	}
	if _, _, ok := m.resolveLocked(h); !ok {
		return handle.Invalid, fmt.Errorf("%w: %v", ErrNotFound, h)
	}
	return m.replaceLocked(want, h.Index(), info, build)
}

func (m *Manager) replaceLocked(t handle.Type, idx uint32, info handle.Info, build builder) (handle.Handle, error) {
	pi, _ := poolOf(t)
	p := &m.pools[pi]
	e := &p.entries[idx]

	obj, err := build(label(t, e.name, idx))
	if err != nil {
		return handle.Invalid, fmt.Errorf("%w: %s %q: %w", ErrCreate, t, e.name, err)
	}
	gen, ok := p.slots.Bump(idx)
	if !ok {
		obj.destroy(m.hal)
		return handle.Invalid, fmt.Errorf("%w: %s %d generation", ErrExhausted, t, idx)
	}
	m.retired.Push(m.dev.FrameCount(), e.obj)
	e.obj = obj
	e.info = info

	h := m.current(t, idx, gen, e)
	if e.name != "" {
		m.names[e.name] = h
	}
	return h, nil
}

func (m *Manager) current(t handle.Type, idx, gen uint32, e *entry) handle.Handle {
	return handle.EncodeFull(handle.Fields{
		Type:       t,
		Index:      idx,
		Generation: gen,
		Info:       e.info,
		HasName:    e.name != "",
	})
}

// resolveLocked maps h to its live entry and current handle.
func (m *Manager) resolveLocked(h handle.Handle) (*entry, handle.Handle, bool) {
	if !h.IsValid() {
		return nil, handle.Invalid, false
	}
	pi, ok := poolOf(h.Type())
	if !ok {
		return nil, handle.Invalid, false
	}
	p := &m.pools[pi]
	gen, live := p.slots.Generation(h.Index())
	if !live {
		return nil, handle.Invalid, false
	}
	e := &p.entries[h.Index()]
	if h.Generation() < e.birth || h.Generation() > gen {
		return nil, handle.Invalid, false
	}
	return e, m.current(h.Type(), h.Index(), gen, e), true
}

// ResolveCurrentHandle returns the live handle for a possibly stale handle
// of the same resource, or handle.Invalid once the resource is destroyed.
func (m *Manager) ResolveCurrentHandle(h handle.Handle) handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, cur, ok := m.resolveLocked(h)
	if !ok && h.IsValid() {
		m.stale.Log(slog.LevelDebug, "resolve", "gpuresource: unresolvable handle", "handle", h)
	}
	return cur
}

// Handle returns the current handle of the named resource, or handle.Invalid.
func (m *Manager) Handle(name string) handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.names[name]; ok {
		return h
	}
	return handle.Invalid
}

// Destroy destroys the resource addressed by h. Its slot is recycled at once;
// the HAL object is kept until the frames in flight have retired.
// Stale handles are ignored.
func (m *Manager) Destroy(h handle.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, _, ok := m.resolveLocked(h); !ok {
		return false
	}
	m.destroyLocked(h.Type(), h.Index())
	return true
}

func (m *Manager) destroyLocked(t handle.Type, idx uint32) {
	pi, _ := poolOf(t)
	p := &m.pools[pi]
	e := p.entries[idx]
	m.retired.Push(m.dev.FrameCount(), e.obj)
	if e.name != "" {
		delete(m.names, e.name)
	}
	p.entries[idx] = entry{}
	p.slots.Free(idx)
}

// HandlePendingAllocations destroys every resource no caller retains any
// more and drops retired HAL objects whose frames have completed.
func (m *Manager) HandlePendingAllocations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pi := range m.pools {
		p := &m.pools[pi]
		for idx := range p.entries {
			e := &p.entries[idx]
			if e.ref != nil && e.ref.Orphaned() {
				logging.L().Debug("gpuresource: releasing unreferenced resource",
					"handle", e.ref.Handle(), "name", e.name)
				m.destroyLocked(poolTypes[pi], uint32(idx)) //nolint:gosec // bounded by handle.MaxIndex
			}
		}
	}
	m.retired.Age(m.dev.FrameCount(), m.dev.FramesInFlight(), func(o object) { o.destroy(m.hal) })
}

// Buffer returns the HAL buffer addressed by h.
func (m *Manager) Buffer(h handle.Handle) (hal.Buffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.Type() != handle.TypeBuffer {
		return nil, false
	}
	e, _, ok := m.resolveLocked(h)
	if !ok {
		return nil, false
	}
	return e.obj.buffer, true
}

// Texture returns the HAL texture backing the image addressed by h.
func (m *Manager) Texture(h handle.Handle) (hal.Texture, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.Type() != handle.TypeImage {
		return nil, false
	}
	e, _, ok := m.resolveLocked(h)
	if !ok {
		return nil, false
	}
	return e.obj.texture, true
}

// Sampler returns the HAL sampler addressed by h.
func (m *Manager) Sampler(h handle.Handle) (hal.Sampler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.Type() != handle.TypeSampler {
		return nil, false
	}
	e, _, ok := m.resolveLocked(h)
	if !ok {
		return nil, false
	}
	return e.obj.sampler, true
}

// Stats returns current resource counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Buffers:  m.pools[poolBuffer].slots.Live(),
		Images:   m.pools[poolImage].slots.Live(),
		Samplers: m.pools[poolSampler].slots.Live(),
		Deferred: m.retired.Len(),
	}
}

// Close destroys every resource immediately. The caller must ensure the GPU
// is idle. Further creation fails with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for pi := range m.pools {
		p := &m.pools[pi]
		for idx := range p.entries {
			p.entries[idx].obj.destroy(m.hal)
			p.entries[idx] = entry{}
		}
		p.slots.Reset()
	}
	clear(m.names)
	m.retired.Flush(func(o object) { o.destroy(m.hal) })
}
