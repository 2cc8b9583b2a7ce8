// Package query implements the named registry for GPU queries.
//
// It is the simplest gpures manager: a name→handle map over a slot array,
// minting TypeQuery handles whose generation invalidates them once the slot
// is recycled.
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/internal/slot"
	"github.com/gogpu/wgpu/hal"
)

// Errors returned by NewHALQuery.
var (
	// ErrUnsupportedType is returned for query types the HAL cannot create.
	ErrUnsupportedType = errors.New("gpures: unsupported query type")

	// ErrCreateQuerySet wraps HAL query set creation failures.
	ErrCreateQuerySet = errors.New("gpures: query set creation failed")
)

// Type is the kind of GPU query.
type Type uint8

// Query kinds.
const (
	TypeOcclusion Type = iota
	TypeTimestamp
	TypePipelineStatistics
)

// String returns the query type name.
func (t Type) String() string {
	switch t {
	case TypeOcclusion:
		return "Occlusion"
	case TypeTimestamp:
		return "Timestamp"
	case TypePipelineStatistics:
		return "PipelineStatistics"
	default:
		return "Unknown"
	}
}

// Query is the payload owned by the registry.
type Query interface {
	// Type returns the query kind.
	Type() Type
	// Destroy releases the query's GPU objects.
	Destroy()
}

type entry struct {
	name  string
	query Query
}

// Manager is a name-addressed query registry.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	slots       slot.Allocator
	entries     []entry
	names       map[string]handle.Handle
	debugChecks bool
	stale       *logging.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithDebugChecks makes programmer misuse (duplicate names) panic instead of
// being logged.
func WithDebugChecks(enabled bool) Option {
	return func(m *Manager) { m.debugChecks = enabled }
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		names: make(map[string]handle.Handle),
		stale: logging.NewLimiter(64, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers q under name and returns its handle.
//
// Names must be unique. Registering a name twice is a programmer error: it
// panics with debug checks enabled and otherwise logs and returns the
// existing handle, leaving q unowned.
func (m *Manager) Create(name string, q Query) handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, dup := m.names[name]; dup {
		if m.debugChecks {
			panic("gpures: query registered twice: " + name)
		}
		logging.L().Error("query: duplicate name", "name", name)
		return h
	}
	idx, gen, ok := m.slots.Alloc()
	if !ok {
		return handle.Invalid
	}
	if int(idx) == len(m.entries) {
		m.entries = append(m.entries, entry{})
	}
	m.entries[idx] = entry{name: name, query: q}
	h := handle.EncodeFull(handle.Fields{
		Type:       handle.TypeQuery,
		Index:      idx,
		Generation: gen,
		HasName:    true,
	})
	m.names[name] = h
	return h
}

// Handle returns the handle registered under name, or handle.Invalid.
func (m *Manager) Handle(name string) handle.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.names[name]; ok {
		return h
	}
	return handle.Invalid
}

// Get returns the query addressed by h. The returned value is the one passed
// to Create, not a copy.
func (m *Manager) Get(h handle.Handle) (Query, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked(h) {
		return nil, false
	}
	return m.entries[h.Index()].query, true
}

// Destroy removes the query addressed by h and releases it.
// Stale handles are ignored.
func (m *Manager) Destroy(h handle.Handle) bool {
	m.mu.Lock()
	if !m.validLocked(h) {
		m.mu.Unlock()
		return false
	}
	e := m.entries[h.Index()]
	m.entries[h.Index()] = entry{}
	delete(m.names, e.name)
	m.slots.Free(h.Index())
	m.mu.Unlock()

	if e.query != nil {
		e.query.Destroy()
	}
	return true
}

// Len returns the number of registered queries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names)
}

// Names returns the registered names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.names))
	for name := range m.names {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) validLocked(h handle.Handle) bool {
	if h.Type() != handle.TypeQuery || !m.slots.Valid(h) {
		if h.IsValid() {
			m.stale.Log(slog.LevelDebug, "query", "query: stale or foreign handle", "handle", h)
		}
		return false
	}
	return true
}

// HALQuery is a Query backed by a HAL query set.
type HALQuery struct {
	dev   device.HAL
	set   hal.QuerySet
	kind  Type
	count uint32
}

// NewHALQuery creates a query set of count queries on dev.
func NewHALQuery(dev device.HAL, label string, kind Type, count uint32) (*HALQuery, error) {
	var ht hal.QueryType
	switch kind {
	case TypeOcclusion:
		ht = hal.QueryTypeOcclusion
	case TypeTimestamp:
		ht = hal.QueryTypeTimestamp
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
	set, err := dev.CreateQuerySet(&hal.QuerySetDescriptor{Label: label, Type: ht, Count: count})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreateQuerySet, label, err)
	}
	return &HALQuery{dev: dev, set: set, kind: kind, count: count}, nil
}

// Type implements Query.
func (q *HALQuery) Type() Type { return q.kind }

// Count returns the number of queries in the set.
func (q *HALQuery) Count() uint32 { return q.count }

// QuerySet returns the HAL query set.
func (q *HALQuery) QuerySet() hal.QuerySet { return q.set }

// Destroy implements Query.
func (q *HALQuery) Destroy() {
	if q.set != nil {
		q.dev.DestroyQuerySet(q.set)
		q.set = nil
	}
}
