package rendergraph

import (
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gputypes"
)

// recorder collects node lifecycle events.
type recorder struct {
	events []string
}

type testNode struct {
	rec      *recorder
	commands int
}

func (n *testNode) Init(ctx *NodeContext) {
	n.rec.events = append(n.rec.events, "init "+ctx.NodeName)
}

func (n *testNode) PreExecuteFrame(*NodeContext) {}

func (n *testNode) ExecuteFrame(ctx *NodeContext) {
	ctx.RecordCommands(n.commands)
}

func (n *testNode) Destroy(ctx *NodeContext) {
	n.rec.events = append(n.rec.events, "destroy "+ctx.NodeName)
}

func newTestRegistry(rec *recorder) *NodeRegistry {
	r := NewNodeRegistry()
	for _, typ := range []string{"A", "B", "C"} {
		r.Register(typ, gputypes.BackendsNone, func() Node { return &testNode{rec: rec, commands: 2} })
	}
	r.Register("VulkanOnly", gputypes.BackendsVulkan, func() Node { return &testNode{rec: rec} })
	return r
}

func newTestManager(t *testing.T, fif uint32) (*Manager, *device.Headless, *recorder) {
	t.Helper()
	rec := &recorder{}
	dev := device.NewHeadless(device.WithFramesInFlight(fif))
	desc := descriptor.NewManager(dev, nil)
	return NewManager(dev, newTestRegistry(rec), desc), dev, rec
}

func nodes(names ...string) []NodeDesc {
	out := make([]NodeDesc, len(names))
	for i, n := range names {
		out[i] = NodeDesc{TypeName: n}
	}
	return out
}

func TestCreateDefersAllocation(t *testing.T) {
	m, _, rec := newTestManager(t, 2)
	ref := m.Create(UsageStatic, GraphDesc{Name: "main", Nodes: nodes("A", "B")}, "", "")
	h := ref.Handle()
	if h.Type() != handle.TypeRenderNodeGraph || ref.RefCount() != 2 {
		t.Fatalf("Create: got %v (refs %d)", h, ref.RefCount())
	}

	info, ok := m.Info(h)
	if !ok || len(info.Nodes) != 0 {
		t.Fatalf("before pending pass: got %+v, %v", info, ok)
	}
	if m.ForEachNode(h, func(Node, *NodeContext) {}) {
		t.Error("render walk allowed before allocation")
	}
	if res, ok := m.Resources(h); !ok || len(res.Inputs) != 0 || len(res.Outputs) != 0 {
		t.Errorf("Resources before pending pass: got %+v, %v, want empty and true", res, ok)
	}
	if _, ok := m.Execute(h); ok {
		t.Error("Execute allowed before allocation")
	}

	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("Nodes: got %v, want [A B]", got)
	}
	if !slices.Equal(rec.events, []string{"init A", "init B"}) {
		t.Errorf("events: %v", rec.events)
	}
	if info, _ := m.Info(h); info.Name != "main" || info.Usage != UsageStatic {
		t.Errorf("Info: %+v", info)
	}
}

func TestGraphNames(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	tests := []struct {
		name, dataStore string
		desc            GraphDesc
		wantName        string
		wantStore       string
	}{
		{"explicit", "store", GraphDesc{Name: "desc", DataStoreName: "descStore"}, "explicit", "store"},
		{"", "", GraphDesc{Name: "desc", DataStoreName: "descStore"}, "desc", "descStore"},
		{"", "", GraphDesc{}, "RenderNodeGraph_", ""},
	}
	for _, tt := range tests {
		info, _ := m.Info(m.Create(UsageStatic, tt.desc, tt.name, tt.dataStore).Handle())
		if !strings.HasPrefix(info.Name, tt.wantName) || info.DataStoreName != tt.wantStore {
			t.Errorf("Create(%q, %q): got %q/%q", tt.name, tt.dataStore, info.Name, info.DataStoreName)
		}
	}
	a := m.Create(UsageStatic, GraphDesc{}, "", "")
	b := m.Create(UsageStatic, GraphDesc{}, "", "")
	ia, _ := m.Info(a.Handle())
	ib, _ := m.Info(b.Handle())
	if ia.Name == ib.Name {
		t.Errorf("generated names collide: %q", ia.Name)
	}
}

func TestUnknownNodeTypeSkipped(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageStatic, GraphDesc{Nodes: nodes("A", "Missing", "B")}, "g", "").Handle()
	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("Nodes: got %v, want [A B]", got)
	}
}

func TestBackendAffinityWarnsOnly(t *testing.T) {
	rec := &recorder{}
	dev := device.NewHeadless(device.WithBackend(gputypes.BackendMetal))
	m := NewManager(dev, newTestRegistry(rec), nil)
	h := m.Create(UsageStatic, GraphDesc{Nodes: nodes("VulkanOnly")}, "g", "").Handle()
	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"VulkanOnly"}) {
		t.Errorf("Nodes: got %v", got)
	}
}

func TestDestructionDeferralWindow(t *testing.T) {
	const fif = 2
	m, dev, rec := newTestManager(t, fif)
	h := m.Create(UsageStatic, GraphDesc{Nodes: nodes("A")}, "g", "").Handle()
	m.HandlePendingAllocations()

	for range 5 {
		dev.EndFrame()
	}
	n := dev.FrameCount()
	m.Destroy(h)
	m.HandlePendingAllocations()
	if m.Len() != 0 {
		t.Fatal("graph still live after destroy")
	}

	for cur := n; cur <= n+fif; cur++ {
		if m.DeferredGraphs() != 1 {
			t.Fatalf("frame %d: node contexts dropped before N+F", cur)
		}
		if slices.Contains(rec.events, "destroy A") {
			t.Fatalf("frame %d: node destroyed early", cur)
		}
		dev.EndFrame()
		m.HandlePendingAllocations()
	}
	if m.DeferredGraphs() != 0 {
		t.Fatalf("frame %d: node contexts still deferred", dev.FrameCount())
	}
	if !slices.Contains(rec.events, "destroy A") {
		t.Error("Destroyer not called")
	}
}

func TestStaticGraphRejectsNodeOps(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageStatic, GraphDesc{Nodes: nodes("A")}, "g", "").Handle()
	m.HandlePendingAllocations()

	m.PushBackRenderNode(h, NodeDesc{TypeName: "B"})
	m.InsertBeforeRenderNode(h, NodeDesc{TypeName: "B"}, "A")
	m.InsertAfterRenderNode(h, NodeDesc{TypeName: "B"}, "A")
	m.EraseRenderNode(h, "A")
	m.HandlePendingAllocations()

	if got := m.Nodes(h); !slices.Equal(got, []string{"A"}) {
		t.Errorf("Nodes: got %v, want [A]", got)
	}
	if m.DeferredNodes() != 0 {
		t.Error("static graph node erased")
	}
}

func TestInsertAfterThenErase(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("A")}, "g", "").Handle()
	m.HandlePendingAllocations()

	m.InsertAfterRenderNode(h, NodeDesc{TypeName: "B", NodeName: "newNode"}, "A")
	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"A", "newNode"}) {
		t.Fatalf("after insert: got %v, want [A newNode]", got)
	}

	m.EraseRenderNode(h, "A")
	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"newNode"}) {
		t.Fatalf("after erase: got %v, want [newNode]", got)
	}
	if m.DeferredNodes() != 1 {
		t.Errorf("DeferredNodes: got %d, want 1", m.DeferredNodes())
	}
}

func TestInsertPositions(t *testing.T) {
	tests := []struct {
		name string
		op   func(m *Manager, h handle.Handle)
		want []string
	}{
		{"back", func(m *Manager, h handle.Handle) { m.PushBackRenderNode(h, NodeDesc{TypeName: "C"}) }, []string{"A", "B", "C"}},
		{"before first", func(m *Manager, h handle.Handle) {
			m.InsertBeforeRenderNode(h, NodeDesc{TypeName: "C"}, "A")
		}, []string{"C", "A", "B"}},
		{"after first", func(m *Manager, h handle.Handle) {
			m.InsertAfterRenderNode(h, NodeDesc{TypeName: "C"}, "A")
		}, []string{"A", "C", "B"}},
		{"missing anchor", func(m *Manager, h handle.Handle) {
			m.InsertBeforeRenderNode(h, NodeDesc{TypeName: "C"}, "nope")
		}, []string{"A", "B", "C"}},
		{"erase then reinsert in order", func(m *Manager, h handle.Handle) {
			m.EraseRenderNode(h, "A")
			m.InsertAfterRenderNode(h, NodeDesc{TypeName: "A"}, "B")
		}, []string{"B", "A"}},
		{"unknown type", func(m *Manager, h handle.Handle) {
			m.PushBackRenderNode(h, NodeDesc{TypeName: "Missing"})
		}, []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager(t, 2)
			h := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("A", "B")}, "g", "").Handle()
			m.HandlePendingAllocations()
			tt.op(m, h)
			m.HandlePendingAllocations()
			if got := m.Nodes(h); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNodeOpsBeforeAllocationApply(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("A")}, "g", "").Handle()
	m.PushBackRenderNode(h, NodeDesc{TypeName: "B"})
	m.HandlePendingAllocations()
	if got := m.Nodes(h); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("got %v, want [A B]", got)
	}
}

func TestReleaseDestroysGraph(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	ref := m.Create(UsageStatic, GraphDesc{Nodes: nodes("A")}, "g", "")
	m.HandlePendingAllocations()
	if m.Len() != 1 {
		t.Fatal("retained graph destroyed")
	}
	ref.Release()
	m.HandlePendingAllocations()
	if m.Len() != 0 || m.DeferredGraphs() != 1 {
		t.Errorf("Len=%d Deferred=%d, want 0/1", m.Len(), m.DeferredGraphs())
	}
	if _, ok := m.Info(ref.Handle()); ok {
		t.Error("released graph still answers Info")
	}
}

func TestStaleGeneration(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	old := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("A")}, "old", "").Handle()
	m.HandlePendingAllocations()
	m.Destroy(old)
	m.HandlePendingAllocations()

	cur := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("B")}, "new", "").Handle()
	m.HandlePendingAllocations()
	if cur.Index() != old.Index() || cur.Generation() <= old.Generation() {
		t.Fatalf("recycled %v from %v", cur, old)
	}

	m.Destroy(old)
	m.PushBackRenderNode(old, NodeDesc{TypeName: "C"})
	m.SetInputs(old, handle.Encode(handle.TypeImage, 0, 0))
	m.HandlePendingAllocations()

	if _, ok := m.Info(old); ok {
		t.Error("stale Info succeeded")
	}
	if _, ok := m.Resources(old); ok {
		t.Error("stale Resources succeeded")
	}
	if got := m.Nodes(cur); !slices.Equal(got, []string{"B"}) {
		t.Errorf("stale requests touched the new graph: %v", got)
	}
	if r, _ := m.Resources(cur); len(r.Inputs) != 0 {
		t.Errorf("stale SetInputs leaked: %v", r.Inputs)
	}
}

func TestShareData(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageStatic, GraphDesc{Nodes: nodes("A")}, "g", "").Handle()
	in := handle.Encode(handle.TypeImage, 3, 1)
	out := handle.Encode(handle.TypeImage, 4, 0)
	m.SetInputs(h, in)
	m.SetOutputs(h, out)

	if r, ok := m.Resources(h); !ok || len(r.Inputs) != 0 {
		t.Errorf("routing visible before pending pass: %+v", r)
	}
	m.HandlePendingAllocations()
	r, _ := m.Resources(h)
	if !slices.Equal(r.Inputs, []handle.Handle{in}) || !slices.Equal(r.Outputs, []handle.Handle{out}) {
		t.Errorf("Resources: got %+v", r)
	}
	m.ForEachNode(h, func(_ Node, ctx *NodeContext) {
		if got := ctx.Resources().Inputs; !slices.Equal(got, []handle.Handle{in}) {
			t.Errorf("node %s sees inputs %v", ctx.NodeName, got)
		}
	})
}

func TestExecute(t *testing.T) {
	m, _, _ := newTestManager(t, 2)
	h := m.Create(UsageStatic, GraphDesc{Name: "g", Nodes: nodes("A", "B")}, "", "").Handle()
	if _, ok := m.Execute(h); ok {
		t.Error("Execute before allocation should fail")
	}
	m.HandlePendingAllocations()
	for frame := 1; frame <= 2; frame++ {
		cmds, ok := m.Execute(h)
		if !ok || cmds != 4 {
			t.Errorf("frame %d: got %d commands (%v), want 4", frame, cmds, ok)
		}
	}
	m.ForEachNode(h, func(_ Node, ctx *NodeContext) {
		if ctx.Frames() != 2 || ctx.FullName != "g/"+ctx.NodeName || ctx.Sets == nil {
			t.Errorf("context %+v", ctx)
		}
	})
}

func TestClose(t *testing.T) {
	m, _, rec := newTestManager(t, 3)
	h := m.Create(UsageDynamic, GraphDesc{Nodes: nodes("A", "B")}, "g", "").Handle()
	m.HandlePendingAllocations()
	m.EraseRenderNode(h, "B")
	m.HandlePendingAllocations()
	m.Close()
	if !slices.Contains(rec.events, "destroy A") || !slices.Contains(rec.events, "destroy B") {
		t.Errorf("events: %v", rec.events)
	}
	if m.Len() != 0 || m.DeferredNodes() != 0 {
		t.Error("state left after Close")
	}
}

func TestNodeRegistry(t *testing.T) {
	r := newTestRegistry(&recorder{})
	if got := r.Types(); !slices.Equal(got, []string{"A", "B", "C", "VulkanOnly"}) {
		t.Errorf("Types: got %v", got)
	}
	if b, ok := r.TypeInfo("VulkanOnly"); !ok || !b.Contains(gputypes.BackendVulkan) || b.Contains(gputypes.BackendMetal) {
		t.Errorf("TypeInfo: got %v, %v", b, ok)
	}
	if _, ok := r.TypeInfo("Missing"); ok {
		t.Error("unknown type reported")
	}
	if r.Create("Missing") != nil {
		t.Error("unknown type created")
	}
}

func TestUsageText(t *testing.T) {
	var u Usage
	if err := u.UnmarshalText([]byte("Dynamic")); err != nil || u != UsageDynamic {
		t.Errorf("UnmarshalText: %v, %v", u, err)
	}
	if err := u.UnmarshalText([]byte("sometimes")); err == nil {
		t.Error("unknown usage accepted")
	}
	if b, _ := UsageStatic.MarshalText(); string(b) != "static" {
		t.Errorf("MarshalText: %s", b)
	}
}
