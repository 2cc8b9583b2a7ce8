package rendergraph

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/deferred"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/internal/slot"
	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

type opKind uint8

const (
	opAlloc opKind = iota
	opDealloc
)

type position uint8

const (
	posBack position = iota
	posBefore
	posAfter
)

type graphOp struct {
	kind opKind
	h    handle.Handle
}

type nodeOp struct {
	kind   opKind
	graph  handle.Handle
	desc   NodeDesc
	pos    position
	anchor string
}

// nodeEntry is one instantiated node of a graph.
type nodeEntry struct {
	node Node
	ctx  *NodeContext
}

// graphStore is the engine-side node store of an allocated graph.
type graphStore struct {
	nodes     []nodeEntry
	resources Resources
}

// shareData is the client-side copy of a graph's resource routing.
type shareData struct {
	res   Resources
	dirty bool
}

// graphSlot is the client-visible state of one graph index.
type graphSlot struct {
	ref           *handle.Ref
	usage         Usage
	desc          GraphDesc
	name          string
	dataStoreName string
	share         shareData
	destroying    bool

	// store is nil until the ALLOC request has been processed.
	store *graphStore
}

// Manager owns render node graphs.
//
// Request methods (Create, Destroy, node insertion and removal, SetInputs,
// SetOutputs) may be called from any goroutine. HandlePendingAllocations and
// the render walk run on the engine goroutine.
type Manager struct {
	mu          sync.Mutex
	dev         device.Device
	factory     Factory
	descriptors *descriptor.Manager
	budget      descriptor.Counts

	slots slot.Allocator
	graph []graphSlot

	pendingGraphs []graphOp
	pendingNodes  []nodeOp

	deferredGraphs deferred.Queue[[]nodeEntry]
	deferredNodes  deferred.Queue[nodeEntry]

	stale    *logging.Limiter
	affinity *logging.Limiter
}

// Option configures a Manager.
type Option func(*Manager)

// WithDescriptorBudget sets the descriptor budget installed in every node's
// local descriptor pools.
func WithDescriptorBudget(budget descriptor.Counts) Option {
	return func(m *Manager) { m.budget = budget }
}

// NewManager creates a graph manager instantiating nodes from factory.
// Node contexts get their local descriptor pools from descriptors.
func NewManager(dev device.Device, factory Factory, descriptors *descriptor.Manager, opts ...Option) *Manager {
	m := &Manager{
		dev:         dev,
		factory:     factory,
		descriptors: descriptors,
		stale:       logging.NewLimiter(64, 0),
		affinity:    logging.NewLimiter(0, 0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create requests a new graph built from desc and returns its handle,
// retained for the caller. The handle is valid at once; the nodes are
// instantiated by the next HandlePendingAllocations. The graph is destroyed
// once the caller releases the handle or calls Destroy.
//
// An empty name falls back to desc.Name, then to a generated unique name.
// An empty dataStoreName falls back to desc.DataStoreName.
func (m *Manager) Create(usage Usage, desc GraphDesc, name, dataStoreName string) *handle.Ref {
	switch {
	case name != "":
	case desc.Name != "":
		name = desc.Name
	default:
		name = "RenderNodeGraph_" + uuid.NewString()
	}
	if dataStoreName == "" {
		dataStoreName = desc.DataStoreName
	}
	desc.Nodes = slices.Clone(desc.Nodes)

	m.mu.Lock()
	defer m.mu.Unlock()

	idx, gen, ok := m.slots.Alloc()
	if !ok {
		return nil
	}
	var info handle.Info
	if usage == UsageDynamic {
		info = handle.InfoDynamic
	}
	h := handle.EncodeFull(handle.Fields{
		Type:       handle.TypeRenderNodeGraph,
		Index:      idx,
		Generation: gen,
		Info:       info,
		HasName:    true,
	})
	if int(idx) == len(m.graph) {
		m.graph = append(m.graph, graphSlot{})
	}
	m.graph[idx] = graphSlot{
		ref:           handle.NewRef(h),
		usage:         usage,
		desc:          desc,
		name:          name,
		dataStoreName: dataStoreName,
	}
	m.pendingGraphs = append(m.pendingGraphs, graphOp{kind: opAlloc, h: h})
	return m.graph[idx].ref.Retain()
}

// validLocked reports whether h addresses a live graph, logging stale
// handles at a limited rate.
func (m *Manager) validLocked(h handle.Handle) bool {
	if h.Type() == handle.TypeRenderNodeGraph && m.slots.Valid(h) {
		return true
	}
	if h.IsValid() {
		m.stale.Log(slog.LevelWarn, "graph", "rendergraph: stale graph handle", "handle", h)
	}
	return false
}

// Destroy requests destruction of the graph. Requests with a stale handle
// are ignored.
func (m *Manager) Destroy(h handle.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(h) {
		return
	}
	m.destroyLocked(h)
}

func (m *Manager) destroyLocked(h handle.Handle) {
	s := &m.graph[h.Index()]
	if s.destroying {
		return
	}
	s.destroying = true
	m.pendingGraphs = append(m.pendingGraphs, graphOp{kind: opDealloc, h: h})
}

// PushBackRenderNode requests appending a node to a dynamic graph.
func (m *Manager) PushBackRenderNode(h handle.Handle, nd NodeDesc) {
	m.enqueueNode(nodeOp{kind: opAlloc, graph: h, desc: nd, pos: posBack})
}

// InsertBeforeRenderNode requests inserting a node before the node named
// before. If no such node exists when the request is processed, the node is
// appended.
func (m *Manager) InsertBeforeRenderNode(h handle.Handle, nd NodeDesc, before string) {
	m.enqueueNode(nodeOp{kind: opAlloc, graph: h, desc: nd, pos: posBefore, anchor: before})
}

// InsertAfterRenderNode requests inserting a node after the node named
// after, with the same fallback as InsertBeforeRenderNode.
func (m *Manager) InsertAfterRenderNode(h handle.Handle, nd NodeDesc, after string) {
	m.enqueueNode(nodeOp{kind: opAlloc, graph: h, desc: nd, pos: posAfter, anchor: after})
}

// EraseRenderNode requests removing the first node named name from a
// dynamic graph.
func (m *Manager) EraseRenderNode(h handle.Handle, name string) {
	m.enqueueNode(nodeOp{kind: opDealloc, graph: h, anchor: name})
}

func (m *Manager) enqueueNode(op nodeOp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(op.graph) {
		return
	}
	if s := &m.graph[op.graph.Index()]; s.usage != UsageDynamic {
		logging.L().Warn("rendergraph: node change on static graph ignored",
			"graph", s.name, "node", op.desc.name(), "erase", op.kind == opDealloc)
		return
	}
	m.pendingNodes = append(m.pendingNodes, op)
}

// SetInputs sets the resources routed into the graph. The nodes see them
// after the next HandlePendingAllocations.
func (m *Manager) SetInputs(h handle.Handle, inputs ...handle.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(h) {
		return
	}
	s := &m.graph[h.Index()]
	s.share.res.Inputs = slices.Clone(inputs)
	s.share.dirty = true
}

// SetOutputs sets the resources the graph renders to, like SetInputs.
func (m *Manager) SetOutputs(h handle.Handle, outputs ...handle.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(h) {
		return
	}
	s := &m.graph[h.Index()]
	s.share.res.Outputs = slices.Clone(outputs)
	s.share.dirty = true
}

// HandlePendingAllocations applies the queued requests. It runs once per
// frame on the engine goroutine, before the render walk:
//
//  1. graphs no caller references any more are queued for destruction,
//  2. graph creation and destruction requests are applied in order,
//  3. node insertion and removal requests are applied in order,
//  4. changed resource routing is published to the nodes,
//  5. deferred node contexts whose frames have retired are destroyed.
//
// Node Init and Destroy run without the manager lock held.
func (m *Manager) HandlePendingAllocations() {
	m.mu.Lock()
	for i := range m.graph {
		s := &m.graph[i]
		if s.ref != nil && !s.destroying && s.ref.Orphaned() {
			logging.L().Debug("rendergraph: graph unreferenced, destroying", "graph", s.name)
			m.destroyLocked(s.ref.Handle())
		}
	}
	graphOps, nodeOps := m.pendingGraphs, m.pendingNodes
	m.pendingGraphs, m.pendingNodes = nil, nil
	m.mu.Unlock()

	frame := m.dev.FrameCount()
	for _, op := range graphOps {
		switch op.kind {
		case opAlloc:
			m.allocGraph(op.h)
		case opDealloc:
			m.deallocGraph(op.h, frame)
		}
	}
	for _, op := range nodeOps {
		switch op.kind {
		case opAlloc:
			m.insertNode(op)
		case opDealloc:
			m.eraseNode(op, frame)
		}
	}

	m.mu.Lock()
	for i := range m.graph {
		s := &m.graph[i]
		if s.share.dirty && s.store != nil {
			s.store.resources = Resources{
				Inputs:  slices.Clone(s.share.res.Inputs),
				Outputs: slices.Clone(s.share.res.Outputs),
			}
			s.share.dirty = false
		}
	}
	var expired []nodeEntry
	fif := m.dev.FramesInFlight()
	m.deferredGraphs.Age(frame, fif, func(es []nodeEntry) { expired = append(expired, es...) })
	m.deferredNodes.Age(frame, fif, func(e nodeEntry) { expired = append(expired, e) })
	m.mu.Unlock()

	for _, e := range expired {
		destroyNode(e)
	}
}

func destroyNode(e nodeEntry) {
	if d, ok := e.node.(Destroyer); ok {
		d.Destroy(e.ctx)
	}
}

func (m *Manager) allocGraph(h handle.Handle) {
	m.mu.Lock()
	if !m.slots.Valid(h) || m.graph[h.Index()].store != nil {
		m.mu.Unlock()
		return
	}
	s := m.graph[h.Index()]
	m.mu.Unlock()

	store := &graphStore{}
	for _, nd := range s.desc.Nodes {
		if e, ok := m.newNode(store, h, s.name, nd); ok {
			store.nodes = append(store.nodes, e)
		}
	}

	m.mu.Lock()
	m.graph[h.Index()].store = store
	m.mu.Unlock()
	logging.L().Info("rendergraph: graph created",
		"graph", s.name, "usage", s.usage, "nodes", len(store.nodes))
}

// newNode instantiates and initialises one node. Unknown types are skipped.
func (m *Manager) newNode(store *graphStore, h handle.Handle, graphName string, nd NodeDesc) (nodeEntry, bool) {
	backends, known := m.factory.TypeInfo(nd.TypeName)
	var node Node
	if known {
		node = m.factory.Create(nd.TypeName)
	}
	if node == nil {
		logging.L().Warn("rendergraph: unknown node type skipped",
			"graph", graphName, "type", nd.TypeName, "node", nd.name())
		return nodeEntry{}, false
	}
	if b := m.dev.Backend(); b != gputypes.BackendEmpty && backends != gputypes.BackendsNone && !backends.Contains(b) {
		m.affinity.Once(slog.LevelWarn, nd.TypeName,
			"rendergraph: node type does not support the active backend",
			"type", nd.TypeName, "backend", b)
	}
	ctx := &NodeContext{
		GraphName: graphName,
		NodeName:  nd.name(),
		FullName:  fullName(graphName, nd.name()),
		TypeName:  nd.TypeName,
		Graph:     h,
		Params:    nd.Params,
		store:     store,
	}
	if m.descriptors != nil {
		ctx.Sets = m.descriptors.NewNodeSets()
		ctx.Sets.Reset(m.budget)
	}
	node.Init(ctx)
	return nodeEntry{node: node, ctx: ctx}, true
}

func (m *Manager) deallocGraph(h handle.Handle, frame uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.slots.Valid(h) {
		logging.L().Debug("rendergraph: destroy of stale graph ignored", "handle", h)
		return
	}
	s := m.graph[h.Index()]
	if s.store != nil && len(s.store.nodes) > 0 {
		m.deferredGraphs.Push(frame, s.store.nodes)
	}
	m.graph[h.Index()] = graphSlot{}
	m.slots.Free(h.Index())
	logging.L().Info("rendergraph: graph destroyed", "graph", s.name, "frame", frame)
}

// liveStore returns the store of a live, allocated graph.
func (m *Manager) liveStore(h handle.Handle) (*graphSlot, bool) {
	if !m.validLocked(h) {
		return nil, false
	}
	s := &m.graph[h.Index()]
	return s, s.store != nil
}

func (m *Manager) insertNode(op nodeOp) {
	m.mu.Lock()
	s, ok := m.liveStore(op.graph)
	if !ok {
		m.mu.Unlock()
		return
	}
	store, name := s.store, s.name
	m.mu.Unlock()

	e, ok := m.newNode(store, op.graph, name, op.desc)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	at := len(store.nodes)
	if op.pos != posBack {
		i := indexOf(store.nodes, op.anchor)
		switch {
		case i < 0:
			logging.L().Warn("rendergraph: insert position node not found, appending",
				"graph", name, "anchor", op.anchor, "node", e.ctx.NodeName)
		case op.pos == posBefore:
			at = i
		default:
			at = i + 1
		}
	}
	store.nodes = slices.Insert(store.nodes, at, e)
}

func (m *Manager) eraseNode(op nodeOp, frame uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveStore(op.graph)
	if !ok {
		return
	}
	i := indexOf(s.store.nodes, op.anchor)
	if i < 0 {
		logging.L().Warn("rendergraph: erase of unknown node", "graph", s.name, "node", op.anchor)
		return
	}
	m.deferredNodes.Push(frame, s.store.nodes[i])
	s.store.nodes = slices.Delete(s.store.nodes, i, i+1)
}

func indexOf(nodes []nodeEntry, name string) int {
	return slices.IndexFunc(nodes, func(e nodeEntry) bool { return e.ctx.NodeName == name })
}

// Info returns a snapshot of the graph.
func (m *Manager) Info(h handle.Handle) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.validLocked(h) {
		return Info{}, false
	}
	s := &m.graph[h.Index()]
	info := Info{
		Name:          s.name,
		DataStoreName: s.dataStoreName,
		URI:           s.desc.URI,
		Usage:         s.usage,
		Nodes:         []string{},
	}
	if s.store != nil {
		for _, e := range s.store.nodes {
			info.Nodes = append(info.Nodes, e.ctx.NodeName)
		}
	}
	return info, true
}

// Resources returns the resources routed into the graph as seen by its
// nodes. Like Info, it reports true for a live graph whose allocation is
// still pending; the result is then empty until the next
// HandlePendingAllocations. ForEachNode and Execute report false instead.
func (m *Manager) Resources(h handle.Handle) (Resources, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.liveStore(h)
	if !ok {
		if s != nil {
			return Resources{}, true
		}
		return Resources{}, false
	}
	return Resources{
		Inputs:  slices.Clone(s.store.resources.Inputs),
		Outputs: slices.Clone(s.store.resources.Outputs),
	}, true
}

// Nodes returns the node names of the graph in execution order.
func (m *Manager) Nodes(h handle.Handle) []string {
	info, _ := m.Info(h)
	return info.Nodes
}

// Graphs returns the handles of all live graphs.
func (m *Manager) Graphs() []handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := make([]handle.Handle, 0, m.slots.Live())
	for _, s := range m.graph {
		if s.ref != nil {
			hs = append(hs, s.ref.Handle())
		}
	}
	return hs
}

// Handle returns the handle of the first live graph named name, or
// handle.Invalid.
func (m *Manager) Handle(name string) handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.graph {
		if s.ref != nil && s.name == name {
			return s.ref.Handle()
		}
	}
	return handle.Invalid
}

// ForEachNode calls fn for every node of an allocated graph in order. It
// reports false if h is stale or the graph has not been allocated yet.
//
// fn must not insert or erase nodes synchronously; use the request methods.
func (m *Manager) ForEachNode(h handle.Handle, fn func(Node, *NodeContext)) bool {
	m.mu.Lock()
	s, ok := m.liveStore(h)
	if !ok {
		m.mu.Unlock()
		return false
	}
	nodes := s.store.nodes
	m.mu.Unlock()

	for _, e := range nodes {
		fn(e.node, e.ctx)
	}
	return true
}

// Execute runs one frame of the graph: every node's PreExecuteFrame, then
// every node's ExecuteFrame. It returns the commands recorded.
func (m *Manager) Execute(h handle.Handle) (commands int, ok bool) {
	ok = m.ForEachNode(h, func(n Node, ctx *NodeContext) {
		ctx.beginFrame()
		n.PreExecuteFrame(ctx)
	})
	if !ok {
		return 0, false
	}
	m.ForEachNode(h, func(n Node, ctx *NodeContext) {
		n.ExecuteFrame(ctx)
		commands += ctx.Commands()
	})
	return commands, true
}

// DeferredGraphs returns the number of destroyed graphs whose node contexts
// wait for their frames to retire.
func (m *Manager) DeferredGraphs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deferredGraphs.Len()
}

// DeferredNodes returns the number of erased nodes waiting for their frames
// to retire.
func (m *Manager) DeferredNodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deferredNodes.Len()
}

// Len returns the number of live graphs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots.Live()
}

// Close destroys every graph and deferred node immediately. The caller must
// ensure the GPU is idle.
func (m *Manager) Close() {
	m.mu.Lock()
	var all []nodeEntry
	for i := range m.graph {
		if st := m.graph[i].store; st != nil {
			all = append(all, st.nodes...)
		}
		m.graph[i] = graphSlot{}
	}
	m.slots.Reset()
	m.pendingGraphs, m.pendingNodes = nil, nil
	m.deferredGraphs.Flush(func(es []nodeEntry) { all = append(all, es...) })
	m.deferredNodes.Flush(func(e nodeEntry) { all = append(all, e) })
	m.mu.Unlock()

	for _, e := range all {
		destroyNode(e)
	}
}
