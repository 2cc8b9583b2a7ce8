package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/gogpu/gpures"
)

const testScene = "testdata/scene.toml"

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { gpures.SetLogger(nil) })

	var logs, out bytes.Buffer
	root := New(&logs, LogInfo).RootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&logs)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, log.InfoLevel)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug record written at info level: %q", buf.String())
	}
	logger.Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("logger output = %q, want test message", buf.String())
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, LogInfo)
	c.SetLogLevel(LogDebug)
	c.Logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("debug record missing after SetLogLevel: %q", buf.String())
	}
}

func TestSimulateJSON(t *testing.T) {
	out, err := execute(t, "simulate", testScene, "--json")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var snap gpures.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.Frame != 10 {
		t.Errorf("Frame = %d, want 10", snap.Frame)
	}
	if len(snap.Graphs) != 1 || snap.Graphs[0].Name != "main" {
		t.Fatalf("Graphs = %+v, want only main", snap.Graphs)
	}
	if got, want := snap.Graphs[0].Nodes, []string{"Clear", "opaque", "Present"}; !slices.Equal(got, want) {
		t.Errorf("main nodes = %v, want %v", got, want)
	}
	// ui was destroyed at frame 8 and waits until frame 8 + 2 + 1.
	if snap.Deferred.Graphs != 1 || snap.Deferred.Nodes != 0 || snap.Deferred.Resources != 0 {
		t.Errorf("Deferred = %+v, want 1 graph", snap.Deferred)
	}
	if snap.LastFrame.Graphs != 1 || snap.LastFrame.Commands != 6 {
		t.Errorf("LastFrame = %+v, want 1 graph and 6 commands", snap.LastFrame)
	}
	if snap.Resources.Buffers != 1 || snap.Resources.Images != 2 || snap.Resources.Samplers != 1 {
		t.Errorf("Resources = %+v", snap.Resources)
	}
}

func TestSimulateTable(t *testing.T) {
	out, err := execute(t, "simulate", testScene, "-n", "3")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	for _, want := range []string{"frame", "commands", "3 frames", "Global1", "main", "ui"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateMissingScene(t *testing.T) {
	if _, err := execute(t, "simulate", "testdata/missing.toml"); err == nil {
		t.Error("simulate of a missing scene succeeded")
	}
}

func TestLayoutCommand(t *testing.T) {
	out, err := execute(t, "layout", testScene)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	var layouts map[string][]json.RawMessage
	if err := json.Unmarshal([]byte(out), &layouts); err != nil {
		t.Fatalf("decode layouts: %v\n%s", err, out)
	}
	if len(layouts["Global1"]) != 2 {
		t.Errorf("Global1 layout has %d entries, want 2", len(layouts["Global1"]))
	}
}

func TestNodesCommand(t *testing.T) {
	out, err := execute(t, "nodes")
	if err != nil {
		t.Fatalf("nodes: %v", err)
	}
	for _, want := range []string{nodeBlur, nodeClear, nodeDraw, nodePresent, "any", "Vulkan"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
