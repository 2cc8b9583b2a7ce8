package config

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpures/rendergraph"
)

// Op is a scripted request.
type Op uint8

// Scripted requests.
const (
	OpPushBack Op = iota + 1
	OpInsertBefore
	OpInsertAfter
	OpErase
	OpDestroyGraph
	OpSetInputs
	OpSetOutputs
	OpReplace
	OpRelease
)

var opNames = [...]string{
	OpPushBack:     "push_back",
	OpInsertBefore: "insert_before",
	OpInsertAfter:  "insert_after",
	OpErase:        "erase",
	OpDestroyGraph: "destroy_graph",
	OpSetInputs:    "set_inputs",
	OpSetOutputs:   "set_outputs",
	OpReplace:      "replace",
	OpRelease:      "release",
}

// String returns the op name used in scene files.
func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, name := range opNames {
		if name != "" && name == s {
			*o = Op(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown op %q", ErrInvalid, text)
}

// Step is a request issued before the pending passes of a frame.
type Step struct {
	Frame uint64 `toml:"frame"`
	Op    Op     `toml:"op"`

	// Graph names the target graph of graph and node requests.
	Graph string `toml:"graph"`

	// Node is the node to insert.
	Node rendergraph.NodeDesc `toml:"node"`

	// Anchor is the node to insert next to, or the node to erase.
	Anchor string `toml:"anchor"`

	// Resource names the target of replace and release, and Resources the
	// routing of set_inputs and set_outputs.
	Resource  string   `toml:"resource"`
	Resources []string `toml:"resources"`

	// With replaces the resource on replace. Name and Kind are taken from
	// the replaced resource.
	With Resource `toml:"with"`
}

func (s Step) validate(graphs map[string]rendergraph.Usage, resources map[string]bool) error {
	needGraph := func() error {
		if _, ok := graphs[s.Graph]; !ok {
			return fmt.Errorf("%w: %s on unknown graph %q", ErrInvalid, s.Op, s.Graph)
		}
		return nil
	}
	needResource := func(name string) error {
		if !resources[name] {
			return fmt.Errorf("%w: %s of unknown resource %q", ErrInvalid, s.Op, name)
		}
		return nil
	}

	switch s.Op {
	case OpPushBack, OpInsertBefore, OpInsertAfter:
		if err := needGraph(); err != nil {
			return err
		}
		if s.Node.TypeName == "" {
			return fmt.Errorf("%w: %s without node type", ErrInvalid, s.Op)
		}
		if s.Op != OpPushBack && s.Anchor == "" {
			return fmt.Errorf("%w: %s without anchor", ErrInvalid, s.Op)
		}
	case OpErase:
		if err := needGraph(); err != nil {
			return err
		}
		if s.Anchor == "" {
			return fmt.Errorf("%w: erase without anchor", ErrInvalid)
		}
	case OpDestroyGraph:
		return needGraph()
	case OpSetInputs, OpSetOutputs:
		if err := needGraph(); err != nil {
			return err
		}
		for _, name := range s.Resources {
			if err := needResource(name); err != nil {
				return err
			}
		}
	case OpReplace, OpRelease:
		return needResource(s.Resource)
	default:
		return fmt.Errorf("%w: missing op", ErrInvalid)
	}
	return nil
}
