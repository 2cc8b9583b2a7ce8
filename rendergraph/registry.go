package rendergraph

import (
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// NodeRegistry is a Factory backed by registered constructors.
//
// NodeRegistry is safe for concurrent use.
type NodeRegistry struct {
	nodes *gpucontext.Registry[Node]

	mu       sync.RWMutex
	backends map[string]gputypes.Backends
}

var _ Factory = (*NodeRegistry)(nil)

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		nodes:    gpucontext.NewRegistry[Node](),
		backends: make(map[string]gputypes.Backends),
	}
}

// Register adds a node type supported on backends. An empty backend set
// means any backend. Registering a type again replaces it.
func (r *NodeRegistry) Register(typeName string, backends gputypes.Backends, factory func() Node) {
	r.mu.Lock()
	r.backends[typeName] = backends
	r.mu.Unlock()
	r.nodes.Register(typeName, factory)
}

// Create implements Factory.
func (r *NodeRegistry) Create(typeName string) Node {
	return r.nodes.Get(typeName)
}

// TypeInfo implements Factory.
func (r *NodeRegistry) TypeInfo(typeName string) (gputypes.Backends, bool) {
	if !r.nodes.Has(typeName) {
		return gputypes.BackendsNone, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[typeName], true
}

// Types returns the registered type names in sorted order.
func (r *NodeRegistry) Types() []string {
	names := r.nodes.Available()
	slices.Sort(names)
	return names
}

// Len returns the number of registered types.
func (r *NodeRegistry) Len() int { return r.nodes.Count() }
