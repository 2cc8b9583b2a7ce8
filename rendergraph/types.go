// Package rendergraph manages the lifetime of render node graphs.
//
// A graph is an ordered list of render nodes created by a Factory from a
// GraphDesc. Requests to create or destroy graphs, and to insert or erase
// nodes of dynamic graphs, only queue intent; HandlePendingAllocations
// applies them once per frame in request order. The node contexts of
// destroyed graphs and erased nodes stay alive until the GPU has retired
// every frame that could still use them.
package rendergraph

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
)

// Usage tells whether a graph's node list may change after creation.
type Usage uint8

const (
	// UsageStatic graphs keep the nodes they were created with.
	UsageStatic Usage = iota
	// UsageDynamic graphs accept node insertion and removal.
	UsageDynamic
)

// String returns the usage name.
func (u Usage) String() string {
	if u == UsageDynamic {
		return "Dynamic"
	}
	return "Static"
}

// MarshalText implements encoding.TextMarshaler.
func (u Usage) MarshalText() ([]byte, error) { return []byte(strings.ToLower(u.String())), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Usage) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "static":
		*u = UsageStatic
	case "dynamic":
		*u = UsageDynamic
	default:
		return fmt.Errorf("rendergraph: unknown usage %q", text)
	}
	return nil
}

// NodeDesc describes one render node.
type NodeDesc struct {
	// TypeName selects the node implementation in the Factory.
	TypeName string `toml:"type" json:"type"`
	// NodeName names the node inside its graph. Empty means TypeName.
	NodeName string `toml:"name" json:"name"`
	// Params are passed to the node through its context.
	Params map[string]any `toml:"params" json:"params,omitempty"`
}

func (d NodeDesc) name() string {
	if d.NodeName != "" {
		return d.NodeName
	}
	return d.TypeName
}

// GraphDesc describes a render node graph.
type GraphDesc struct {
	Name          string     `toml:"name" json:"name"`
	DataStoreName string     `toml:"data_store" json:"dataStore,omitempty"`
	URI           string     `toml:"uri" json:"uri,omitempty"`
	Nodes         []NodeDesc `toml:"nodes" json:"nodes"`
}

// Info is a snapshot of a graph.
type Info struct {
	Name          string   `json:"name"`
	DataStoreName string   `json:"dataStore,omitempty"`
	URI           string   `json:"uri,omitempty"`
	Usage         Usage    `json:"usage"`
	Nodes         []string `json:"nodes"`
}

// Resources routes client resources into a graph.
type Resources struct {
	Inputs  []handle.Handle `json:"inputs"`
	Outputs []handle.Handle `json:"outputs"`
}

// Node is a render node.
//
// Init is called once when the node is instantiated during the pending
// pass. PreExecuteFrame and ExecuteFrame are called every frame from the
// render walk, in graph order.
type Node interface {
	Init(ctx *NodeContext)
	PreExecuteFrame(ctx *NodeContext)
	ExecuteFrame(ctx *NodeContext)
}

// Destroyer is implemented by nodes that hold GPU state. Destroy is called
// once the frames that could reference the node have retired.
type Destroyer interface {
	Destroy(ctx *NodeContext)
}

// Factory instantiates render nodes by type name.
type Factory interface {
	// Create returns a new node, or nil if typeName is unknown.
	Create(typeName string) Node

	// TypeInfo returns the backends typeName supports. ok is false for
	// unknown types; an empty set means any backend.
	TypeInfo(typeName string) (backends gputypes.Backends, ok bool)
}
