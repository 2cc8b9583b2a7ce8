// Package gpures manages the lifetime of GPU-visible objects.
//
// # Overview
//
// gpures identifies buffers, images, samplers, descriptor sets, render node
// graphs and queries by opaque 64-bit handles. A handle carries the slot
// index and the generation of the object it was minted for, so a handle to a
// destroyed object never reaches the object that reuses its slot.
//
// The GPU consumes work several frames behind the CPU. Destroyed objects are
// therefore kept until every frame that could still use them has retired.
//
// # Quick Start
//
//	registry := rendergraph.NewNodeRegistry()
//	registry.Register("Blit", gputypes.BackendsAll, func() rendergraph.Node { return &blitNode{} })
//
//	e := gpures.NewEngine(gpures.WithNodeFactory(registry))
//	defer e.Close()
//
//	g := e.Graphs().Create(rendergraph.UsageStatic, rendergraph.GraphDesc{
//	    Name:  "main",
//	    Nodes: []rendergraph.NodeDesc{{TypeName: "Blit"}},
//	}, "", "")
//	defer g.Release()
//
//	for range 10 {
//	    e.Frame()
//	}
//
// # Frame Loop
//
// Request methods (creating graphs, inserting nodes, destroying resources)
// only queue intent and may be called from any goroutine. Once per frame the
// engine applies them:
//
//   - BeginFrame runs the pending passes of the resource, descriptor and
//     graph managers in that order
//   - RenderFrame walks the nodes of every graph, running distinct graphs
//     on a worker pool
//   - EndFrame advances the device frame counter
//
// # Packages
//
//   - handle: handle codec and reference-counted handles
//   - gpuresource: buffers, images and samplers on a wgpu HAL device
//   - descriptor: CPU shadows of descriptor sets, global and per node
//   - rendergraph: render node graphs and their deferred teardown
//   - query: named query registry
//   - device: the device capability and a headless implementation
//   - config: TOML scene files for the gpures command
//
// # Logging
//
// gpures is silent by default. See [SetLogger].
package gpures

// Version is the current version of the library.
const Version = "0.1.0"
