// Package config loads gpures scene files.
//
// A scene file is TOML. It configures the engine, declares GPU resources,
// global descriptor sets and render node graphs, and scripts requests to
// issue at given frames:
//
//	frames = 8
//
//	[engine]
//	backend = "vulkan"
//	frames_in_flight = 2
//	validation = true
//	budget = { UniformBuffer = 4, SampledImage = 4 }
//
//	[[resources]]
//	name = "camera"
//	kind = "buffer"
//	size = 256
//	usage = ["uniform"]
//
//	[[global_sets]]
//	name = "Global1"
//	count = 2
//	bindings = [{ binding = 0, type = "UniformBuffer", stages = ["vertex"] }]
//
//	[[graphs]]
//	name = "main"
//	usage = "dynamic"
//	inputs = ["camera"]
//	nodes = [{ type = "Clear" }, { type = "Draw", name = "opaque" }]
//
//	[[script]]
//	frame = 3
//	op = "insert_after"
//	graph = "main"
//	anchor = "Clear"
//	node = { type = "Blur" }
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/rendergraph"
)

// Errors returned by Load, Parse and Validate.
var (
	// ErrUnknownKey is returned for keys the scene format does not define.
	ErrUnknownKey = errors.New("gpures: unknown config key")

	// ErrInvalid is returned for values that fail validation.
	ErrInvalid = errors.New("gpures: invalid config")
)

// DefaultFrames is the number of frames simulated when a scene sets none.
const DefaultFrames = 10

// Config is a decoded scene file.
type Config struct {
	// Frames is the number of frames to simulate.
	Frames     uint64      `toml:"frames"`
	Engine     Engine      `toml:"engine"`
	Resources  []Resource  `toml:"resources"`
	GlobalSets []GlobalSet `toml:"global_sets"`
	Graphs     []Graph     `toml:"graphs"`
	Script     []Step      `toml:"script"`
}

// Engine configures the engine.
type Engine struct {
	// Backend is a gputypes backend name. Empty keeps the headless default.
	Backend        string            `toml:"backend"`
	FramesInFlight uint32            `toml:"frames_in_flight"`
	Validation     bool              `toml:"validation"`
	DebugChecks    bool              `toml:"debug_checks"`
	Workers        int               `toml:"workers"`
	Budget         map[string]uint32 `toml:"budget"`
}

// GlobalSet declares a global descriptor set.
type GlobalSet struct {
	Name     string    `toml:"name"`
	Count    uint32    `toml:"count"`
	Bindings []Binding `toml:"bindings"`
}

// Binding declares one binding of a set layout.
type Binding struct {
	Binding uint32   `toml:"binding"`
	Type    string   `toml:"type"`
	Count   uint32   `toml:"count"`
	Stages  []string `toml:"stages"`
}

// Graph declares a render node graph.
type Graph struct {
	rendergraph.GraphDesc
	Usage rendergraph.Usage `toml:"usage"`

	// Inputs and Outputs name resources routed into the graph.
	Inputs  []string `toml:"inputs"`
	Outputs []string `toml:"outputs"`
}

// Load reads and parses the scene file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a scene.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}
	if c.Frames == 0 {
		c.Frames = DefaultFrames
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks names and references. All problems are reported
// together, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, ok := device.ParseBackend(c.Engine.Backend); !ok {
		bad("unknown backend %q", c.Engine.Backend)
	}
	if c.Engine.FramesInFlight > device.MaxFramesInFlight {
		bad("frames_in_flight %d exceeds %d", c.Engine.FramesInFlight, device.MaxFramesInFlight)
	}
	if _, err := c.Engine.BudgetCounts(); err != nil {
		errs = append(errs, err)
	}

	resources := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.Name == "" {
			bad("resource %d has no name", i)
			continue
		}
		if resources[r.Name] {
			bad("resource %q declared twice", r.Name)
		}
		resources[r.Name] = true
		if _, err := r.Desc(); err != nil {
			errs = append(errs, err)
		}
	}

	sets := make(map[string]bool, len(c.GlobalSets))
	for _, s := range c.GlobalSets {
		if s.Name == "" {
			bad("global set has no name")
		}
		if sets[s.Name] {
			bad("global set %q declared twice", s.Name)
		}
		sets[s.Name] = true
		if _, err := s.Layout(); err != nil {
			errs = append(errs, err)
		}
	}

	graphs := make(map[string]rendergraph.Usage, len(c.Graphs))
	for _, g := range c.Graphs {
		if g.Name == "" {
			bad("graph has no name")
			continue
		}
		if _, dup := graphs[g.Name]; dup {
			bad("graph %q declared twice", g.Name)
		}
		graphs[g.Name] = g.Usage
		for _, n := range g.Nodes {
			if n.TypeName == "" {
				bad("graph %q has a node without type", g.Name)
			}
		}
		for _, name := range append(append([]string(nil), g.Inputs...), g.Outputs...) {
			if !resources[name] {
				bad("graph %q routes unknown resource %q", g.Name, name)
			}
		}
	}

	for i, s := range c.Script {
		if err := s.validate(graphs, resources); err != nil {
			errs = append(errs, fmt.Errorf("script step %d: %w", i, err))
		}
		if s.Op == OpReplace && resources[s.Resource] {
			if _, err := c.Replacement(s); err != nil {
				errs = append(errs, fmt.Errorf("script step %d: %w", i, err))
			}
		}
		if s.Frame >= c.Frames {
			bad("script step %d at frame %d is past the last frame %d", i, s.Frame, c.Frames-1)
		}
	}
	return errors.Join(errs...)
}

// Replacement returns the descriptor a replace step re-creates its resource
// from. The step's With inherits the name and kind of the replaced resource.
func (c *Config) Replacement(s Step) (any, error) {
	for _, r := range c.Resources {
		if r.Name == s.Resource {
			with := s.With
			with.Name, with.Kind = r.Name, r.Kind
			return with.Desc()
		}
	}
	return nil, fmt.Errorf("%w: replace of unknown resource %q", ErrInvalid, s.Resource)
}

// BudgetCounts converts the budget map to descriptor counts.
func (e Engine) BudgetCounts() (descriptor.Counts, error) {
	var counts descriptor.Counts
	for name, n := range e.Budget {
		t, ok := descriptor.ParseType(name)
		if !ok {
			return descriptor.Counts{}, fmt.Errorf("%w: unknown descriptor type %q in budget", ErrInvalid, name)
		}
		counts[t] = n
	}
	return counts, nil
}
