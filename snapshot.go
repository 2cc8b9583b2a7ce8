package gpures

import (
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/rendergraph"
)

// Snapshot is a point-in-time view of the engine, suitable for JSON.
type Snapshot struct {
	Frame          uint64 `json:"frame"`
	Backend        string `json:"backend"`
	FramesInFlight uint32 `json:"framesInFlight"`

	Resources      ResourceSnapshot        `json:"resources"`
	Graphs         []GraphSnapshot         `json:"graphs"`
	DescriptorSets []DescriptorSetSnapshot `json:"descriptorSets"`
	Queries        []string                `json:"queries"`

	// Deferred counts objects waiting for their frames to retire.
	Deferred DeferredSnapshot `json:"deferred"`

	LastFrame FrameStats `json:"lastFrame"`
}

// ResourceSnapshot counts live GPU resources.
type ResourceSnapshot struct {
	Buffers  int `json:"buffers"`
	Images   int `json:"images"`
	Samplers int `json:"samplers"`
}

// DeferredSnapshot counts deferred destructions per manager.
type DeferredSnapshot struct {
	Resources      int `json:"resources"`
	Graphs         int `json:"graphs"`
	Nodes          int `json:"nodes"`
	DescriptorSets int `json:"descriptorSets"`
}

// GraphSnapshot describes one graph.
type GraphSnapshot struct {
	Handle handle.Handle `json:"handle"`
	rendergraph.Info
	Inputs  int `json:"inputs"`
	Outputs int `json:"outputs"`
}

// DescriptorSetSnapshot describes one global descriptor set.
type DescriptorSetSnapshot struct {
	Name           string          `json:"name"`
	Handles        []handle.Handle `json:"handles"`
	Bindings       int             `json:"bindings"`
	DynamicOffsets int             `json:"dynamicOffsets"`
	DynamicBarrier bool            `json:"dynamicBarrier"`
}

// Snapshot returns the current engine state. It may be called from any
// goroutine.
func (e *Engine) Snapshot() Snapshot {
	rs := e.resources.Stats()
	s := Snapshot{
		Frame:          e.dev.FrameCount(),
		Backend:        e.dev.Backend().String(),
		FramesInFlight: e.dev.FramesInFlight(),
		Resources: ResourceSnapshot{
			Buffers:  rs.Buffers,
			Images:   rs.Images,
			Samplers: rs.Samplers,
		},
		Graphs:         []GraphSnapshot{},
		DescriptorSets: []DescriptorSetSnapshot{},
		Queries:        e.queries.Names(),
		Deferred: DeferredSnapshot{
			Resources:      rs.Deferred,
			Graphs:         e.graphs.DeferredGraphs(),
			Nodes:          e.graphs.DeferredNodes(),
			DescriptorSets: e.descriptors.DeferredGlobals(),
		},
		LastFrame: e.LastFrame(),
	}

	for _, h := range e.graphs.Graphs() {
		info, ok := e.graphs.Info(h)
		if !ok {
			continue
		}
		res, _ := e.graphs.Resources(h)
		s.Graphs = append(s.Graphs, GraphSnapshot{
			Handle:  h,
			Info:    info,
			Inputs:  len(res.Inputs),
			Outputs: len(res.Outputs),
		})
	}

	for _, name := range e.descriptors.Names() {
		hs := e.descriptors.Handles(name)
		if len(hs) == 0 {
			continue
		}
		s.DescriptorSets = append(s.DescriptorSets, DescriptorSetSnapshot{
			Name:           name,
			Handles:        hs,
			Bindings:       len(e.descriptors.Bindings(hs[0])),
			DynamicOffsets: len(e.descriptors.DynamicOffsets(hs[0])),
			DynamicBarrier: e.descriptors.HasDynamicBarrierResources(hs[0]),
		})
	}
	return s
}
