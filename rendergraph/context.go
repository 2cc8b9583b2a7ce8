package rendergraph

import (
	"sync/atomic"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/handle"
)

// NodeContext is the per-node state handed to a render node.
//
// The context outlives the node's membership in its graph: after the node
// is erased or its graph destroyed, the context is kept until the frames in
// flight have retired and is then passed to Destroyer.Destroy.
type NodeContext struct {
	// GraphName and NodeName identify the node; FullName joins them.
	GraphName string
	NodeName  string
	FullName  string
	TypeName  string

	// Graph is the handle of the owning graph.
	Graph handle.Handle

	// Params are the parameters from the node description.
	Params map[string]any

	// Sets holds the node's local descriptor sets.
	Sets *descriptor.NodeSets

	store    *graphStore
	commands atomic.Int64
	frames   atomic.Uint64
}

// Resources returns the resources routed into the graph as of the last
// pending pass.
func (c *NodeContext) Resources() Resources {
	if c.store == nil {
		return Resources{}
	}
	return c.store.resources
}

// RecordCommands adds n to the commands recorded this frame.
func (c *NodeContext) RecordCommands(n int) { c.commands.Add(int64(n)) }

// Commands returns the number of commands recorded this frame.
func (c *NodeContext) Commands() int { return int(c.commands.Load()) }

// Frames returns the number of frames the node has executed.
func (c *NodeContext) Frames() uint64 { return c.frames.Load() }

// beginFrame resets the frame-scoped state.
func (c *NodeContext) beginFrame() {
	c.commands.Store(0)
	c.frames.Add(1)
	if c.Sets != nil {
		c.Sets.BeginFrame()
	}
}

func fullName(graph, node string) string { return graph + "/" + node }
