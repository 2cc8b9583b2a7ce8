package gpures

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/gpuresource"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/internal/parallel"
	"github.com/gogpu/gpures/query"
	"github.com/gogpu/gpures/rendergraph"
)

// Engine ties the managers to one device and drives the frame loop:
//
//	e.BeginFrame()        // pending passes
//	e.RenderFrame()       // render walk
//	e.EndFrame()          // frame submitted
//
// Request methods of the managers may be called from any goroutine.
// BeginFrame, RenderFrame and EndFrame must be called from a single
// goroutine, in that order.
type Engine struct {
	dev         *device.Headless
	resources   *gpuresource.Manager
	descriptors *descriptor.Manager
	graphs      *rendergraph.Manager
	queries     *query.Manager
	pool        *parallel.Pool

	mu     sync.Mutex
	last   FrameStats
	closed bool
}

// FrameStats describes one render walk.
type FrameStats struct {
	// Frame is the device frame the walk recorded.
	Frame uint64 `json:"frame"`
	// Graphs is the number of graphs executed.
	Graphs int `json:"graphs"`
	// Skipped counts stale or not yet allocated graph handles.
	Skipped int `json:"skipped"`
	// Commands is the total number of commands the nodes recorded.
	Commands int `json:"commands"`
	// Duration is the wall time of the walk.
	Duration time.Duration `json:"duration"`
}

// String returns a human-readable string of the stats.
func (s FrameStats) String() string {
	return fmt.Sprintf("Frame[%d: %d graphs, %d skipped, %d commands in %v]",
		s.Frame, s.Graphs, s.Skipped, s.Commands, s.Duration)
}

// NewEngine creates an engine on a headless device.
func NewEngine(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	if o.factory == nil {
		o.factory = rendergraph.NewNodeRegistry()
	}

	devOpts := []device.Option{
		device.WithFramesInFlight(o.framesInFlight),
		device.WithHAL(o.hal),
	}
	if o.backendSet {
		devOpts = append(devOpts, device.WithBackend(o.backend))
	}
	dev := device.NewHeadless(devOpts...)

	resources := gpuresource.NewManager(dev, dev.HAL())
	descriptors := descriptor.NewManager(dev, resources, descriptor.WithValidation(o.validation))
	e := &Engine{
		dev:         dev,
		resources:   resources,
		descriptors: descriptors,
		graphs: rendergraph.NewManager(dev, o.factory, descriptors,
			rendergraph.WithDescriptorBudget(o.budget)),
		queries: query.NewManager(query.WithDebugChecks(o.debugChecks)),
		pool:    parallel.NewPool(o.workers),
	}
	logging.L().Info("gpures: engine created",
		"backend", dev.Backend(), "framesInFlight", dev.FramesInFlight(), "workers", e.pool.Workers())
	return e
}

// Device returns the engine's device.
func (e *Engine) Device() *device.Headless { return e.dev }

// Resources returns the GPU resource manager.
func (e *Engine) Resources() *gpuresource.Manager { return e.resources }

// Descriptors returns the global descriptor set manager.
func (e *Engine) Descriptors() *descriptor.Manager { return e.descriptors }

// Graphs returns the render node graph manager.
func (e *Engine) Graphs() *rendergraph.Manager { return e.graphs }

// Queries returns the query registry.
func (e *Engine) Queries() *query.Manager { return e.queries }

// BeginFrame runs the pending passes of every manager: resources, then
// global descriptor sets, then graphs.
func (e *Engine) BeginFrame() {
	e.resources.HandlePendingAllocations()
	e.descriptors.BeginFrame()
	e.graphs.HandlePendingAllocations()
}

// RenderFrame executes the given graphs, or every live graph when none are
// given. Distinct graphs share no node state and run on the worker pool.
func (e *Engine) RenderFrame(graphs ...handle.Handle) FrameStats {
	start := time.Now()
	if len(graphs) == 0 {
		graphs = e.graphs.Graphs()
	}
	graphs = dedup(graphs)

	var commands, executed atomic.Int64
	e.pool.Run(len(graphs), func(i int) {
		n, ok := e.graphs.Execute(graphs[i])
		if ok {
			executed.Add(1)
			commands.Add(int64(n))
		}
	})

	stats := FrameStats{
		Frame:    e.dev.FrameCount(),
		Graphs:   int(executed.Load()),
		Skipped:  len(graphs) - int(executed.Load()),
		Commands: int(commands.Load()),
		Duration: time.Since(start),
	}
	e.mu.Lock()
	e.last = stats
	e.mu.Unlock()
	return stats
}

func dedup(hs []handle.Handle) []handle.Handle {
	seen := make(map[handle.Handle]struct{}, len(hs))
	out := make([]handle.Handle, 0, len(hs))
	for _, h := range hs {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// EndFrame marks the frame as submitted and returns the new frame counter.
func (e *Engine) EndFrame() uint64 {
	return e.dev.EndFrame()
}

// Frame runs BeginFrame, RenderFrame and EndFrame.
func (e *Engine) Frame(graphs ...handle.Handle) FrameStats {
	e.BeginFrame()
	stats := e.RenderFrame(graphs...)
	e.EndFrame()
	return stats
}

// LastFrame returns the stats of the most recent RenderFrame.
func (e *Engine) LastFrame() FrameStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Close destroys every graph, query and resource immediately and stops the
// worker pool. The caller must ensure the GPU is idle. Close is safe to call
// multiple times.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.graphs.Close()
	for _, name := range e.queries.Names() {
		e.queries.Destroy(e.queries.Handle(name))
	}
	e.resources.Close()
	e.pool.Close()
	logging.L().Info("gpures: engine closed", "frame", e.dev.FrameCount())
}
