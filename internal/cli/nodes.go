package cli

import (
	"sync/atomic"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
	"github.com/gogpu/gpures/rendergraph"
	"github.com/gogpu/gputypes"
)

// Built-in node types.
const (
	nodeClear   = "Clear"
	nodeDraw    = "Draw"
	nodeBlur    = "Blur"
	nodePresent = "Present"
)

var (
	// drawLayout is the local set of a Draw node.
	drawLayout = []descriptor.LayoutBinding{
		{Binding: 0, Type: descriptor.TypeUniformBuffer, Stages: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment},
		{Binding: 1, Type: descriptor.TypeSampledImage, Stages: gputypes.ShaderStageFragment},
	}

	// blurLayout is the per-frame set of a Blur node.
	blurLayout = []descriptor.LayoutBinding{
		{Binding: 0, Type: descriptor.TypeCombinedImageSampler, Stages: gputypes.ShaderStageFragment},
	}
)

// nodeEnv gives the built-in nodes access to engine state their context
// does not carry. It is filled once the engine exists.
type nodeEnv struct {
	descriptors *descriptor.Manager
	sampler     handle.Handle

	destroyed atomic.Int64
}

// builtinNodes registers the built-in node types.
func builtinNodes(env *nodeEnv) *rendergraph.NodeRegistry {
	r := rendergraph.NewNodeRegistry()
	r.Register(nodeClear, gputypes.BackendsNone, func() rendergraph.Node { return clearNode{} })
	r.Register(nodeDraw, gputypes.BackendsNone, func() rendergraph.Node { return &drawNode{env: env} })
	r.Register(nodeBlur, gputypes.BackendsPrimary, func() rendergraph.Node { return &blurNode{env: env} })
	r.Register(nodePresent, gputypes.BackendsNone, func() rendergraph.Node { return &presentNode{env: env} })
	return r
}

// bindInputs binds the first buffer and the first image routed into the
// graph to the Draw layout.
func bindInputs(in []handle.Handle) descriptor.BindingResources {
	var res descriptor.BindingResources
	for _, h := range in {
		switch {
		case h.Type() == handle.TypeBuffer && len(res.Buffers) == 0:
			res.Buffers = append(res.Buffers, descriptor.BufferDescriptor{
				Binding:  drawLayout[0],
				Resource: descriptor.BindableBuffer{Handle: h},
			})
		case h.Type() == handle.TypeImage && len(res.Images) == 0:
			res.Images = append(res.Images, descriptor.ImageDescriptor{
				Binding:  drawLayout[1],
				Resource: descriptor.BindableImage{Handle: h},
			})
		}
	}
	return res
}

type clearNode struct{}

func (clearNode) Init(*rendergraph.NodeContext)            {}
func (clearNode) PreExecuteFrame(*rendergraph.NodeContext) {}
func (clearNode) ExecuteFrame(ctx *rendergraph.NodeContext) {
	ctx.RecordCommands(1)
}

// drawNode binds the graph inputs to a local set and, if the "global"
// parameter names a global set, to the instance selected by "instance".
type drawNode struct {
	env    *nodeEnv
	local  handle.Handle
	global handle.Handle
}

func (n *drawNode) Init(ctx *rendergraph.NodeContext) {
	n.local = ctx.Sets.Create(drawLayout)
	n.global = handle.Invalid

	name, _ := ctx.Params["global"].(string)
	if name == "" {
		return
	}
	instance, _ := ctx.Params["instance"].(int64)
	hs := n.env.descriptors.Handles(name)
	if instance < 0 || int(instance) >= len(hs) {
		logging.L().Warn("cli: draw node global set not found",
			"node", ctx.FullName, "global", name, "instance", instance)
		return
	}
	n.global = hs[instance]
}

func (n *drawNode) PreExecuteFrame(ctx *rendergraph.NodeContext) {
	res := bindInputs(ctx.Resources().Inputs)
	if f := ctx.Sets.Update(n.local, res); f&descriptor.UpdateInvalid != 0 {
		logging.L().Debug("cli: draw node bindings invalid", "node", ctx.FullName, "flags", f)
	}
	if n.global.IsValid() {
		ctx.Sets.Update(n.global, res)
	}
}

func (n *drawNode) ExecuteFrame(ctx *rendergraph.NodeContext) {
	// Pipeline, set binds, draw.
	cmds := 3
	if n.global.IsValid() {
		cmds++
	}
	ctx.RecordCommands(cmds)
}

// blurNode samples the first image input through a one-frame set.
type blurNode struct {
	env *nodeEnv
}

func (n *blurNode) Init(*rendergraph.NodeContext) {}

func (n *blurNode) PreExecuteFrame(*rendergraph.NodeContext) {}

func (n *blurNode) ExecuteFrame(ctx *rendergraph.NodeContext) {
	set := ctx.Sets.CreateOneFrame(blurLayout)
	for _, h := range ctx.Resources().Inputs {
		if h.Type() != handle.TypeImage {
			continue
		}
		ctx.Sets.Update(set, descriptor.BindingResources{
			Images: []descriptor.ImageDescriptor{{
				Binding:  blurLayout[0],
				Resource: descriptor.BindableImage{Handle: h, Sampler: n.env.sampler},
			}},
		})
		break
	}
	// Horizontal and vertical pass.
	ctx.RecordCommands(2)
}

// presentNode counts its destruction.
type presentNode struct {
	env *nodeEnv
}

func (n *presentNode) Init(*rendergraph.NodeContext)            {}
func (n *presentNode) PreExecuteFrame(*rendergraph.NodeContext) {}

func (n *presentNode) ExecuteFrame(ctx *rendergraph.NodeContext) {
	ctx.RecordCommands(len(ctx.Resources().Outputs))
}

func (n *presentNode) Destroy(ctx *rendergraph.NodeContext) {
	n.env.destroyed.Add(1)
	logging.L().Debug("cli: present node destroyed", "node", ctx.FullName, "frames", ctx.Frames())
}
