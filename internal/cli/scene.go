package cli

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/config"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/gpuresource"
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
)

// scene runs a scene file on an engine.
type scene struct {
	cfg    *config.Config
	engine *gpures.Engine
	env    *nodeEnv

	resources map[string]*handle.Ref
	graphs    map[string]*handle.Ref
	script    map[uint64][]config.Step

	// frame is the index of the next frame to run.
	frame uint64
}

// engineOptions maps the engine section of a scene to engine options.
func engineOptions(c config.Engine) ([]gpures.Option, error) {
	budget, err := c.BudgetCounts()
	if err != nil {
		return nil, err
	}
	opts := []gpures.Option{
		gpures.WithValidation(c.Validation),
		gpures.WithDebugChecks(c.DebugChecks),
		gpures.WithWorkers(c.Workers),
		gpures.WithDescriptorBudget(budget),
	}
	if c.FramesInFlight > 0 {
		opts = append(opts, gpures.WithFramesInFlight(c.FramesInFlight))
	}
	if c.Backend != "" {
		b, ok := device.ParseBackend(c.Backend)
		if !ok {
			return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, c.Backend)
		}
		opts = append(opts, gpures.WithBackend(b))
	}
	return opts, nil
}

// newScene creates the engine and every resource, global set and graph the
// scene declares. The graphs are allocated by the first frame.
func newScene(cfg *config.Config) (*scene, error) {
	opts, err := engineOptions(cfg.Engine)
	if err != nil {
		return nil, err
	}
	env := &nodeEnv{sampler: handle.Invalid}
	e := gpures.NewEngine(append(opts, gpures.WithNodeFactory(builtinNodes(env)))...)
	env.descriptors = e.Descriptors()

	s := &scene{
		cfg:       cfg,
		engine:    e,
		env:       env,
		resources: make(map[string]*handle.Ref, len(cfg.Resources)),
		graphs:    make(map[string]*handle.Ref, len(cfg.Graphs)),
		script:    make(map[uint64][]config.Step),
	}
	if err := s.build(); err != nil {
		s.Close()
		return nil, err
	}
	for _, st := range cfg.Script {
		s.script[st.Frame] = append(s.script[st.Frame], st)
	}
	return s, nil
}

func (s *scene) build() error {
	for _, r := range s.cfg.Resources {
		desc, err := r.Desc()
		if err != nil {
			return err
		}
		ref, err := s.create(r.Name, desc)
		if err != nil {
			return err
		}
		s.resources[r.Name] = ref
		if r.Kind == config.KindSampler && !s.env.sampler.IsValid() {
			s.env.sampler = ref.Handle()
		}
	}

	for _, g := range s.cfg.GlobalSets {
		layout, err := g.Layout()
		if err != nil {
			return err
		}
		if hs := s.engine.Descriptors().CreateGlobal(g.Name, layout, g.Count); hs == nil {
			return fmt.Errorf("%w: global set %q rejected", config.ErrInvalid, g.Name)
		}
	}

	for _, g := range s.cfg.Graphs {
		ref := s.engine.Graphs().Create(g.Usage, g.GraphDesc, "", "")
		s.graphs[g.Name] = ref
		s.engine.Graphs().SetInputs(ref.Handle(), s.handles(g.Inputs)...)
		s.engine.Graphs().SetOutputs(ref.Handle(), s.handles(g.Outputs)...)
	}
	return nil
}

func (s *scene) create(name string, desc any) (*handle.Ref, error) {
	rm := s.engine.Resources()
	switch d := desc.(type) {
	case gpuresource.BufferDesc:
		return rm.CreateBuffer(name, d)
	case gpuresource.ImageDesc:
		return rm.CreateImage(name, d)
	case gpuresource.SamplerDesc:
		return rm.CreateSampler(name, d)
	default:
		return nil, fmt.Errorf("%w: resource %q: unsupported descriptor %T", config.ErrInvalid, name, desc)
	}
}

func (s *scene) handles(names []string) []handle.Handle {
	hs := make([]handle.Handle, 0, len(names))
	for _, name := range names {
		if ref, ok := s.resources[name]; ok {
			hs = append(hs, ref.Handle())
		}
	}
	return hs
}

// apply issues one scripted request.
func (s *scene) apply(st config.Step) error {
	graphs := s.engine.Graphs()
	g := s.graphs[st.Graph].Handle()

	switch st.Op {
	case config.OpPushBack:
		graphs.PushBackRenderNode(g, st.Node)
	case config.OpInsertBefore:
		graphs.InsertBeforeRenderNode(g, st.Node, st.Anchor)
	case config.OpInsertAfter:
		graphs.InsertAfterRenderNode(g, st.Node, st.Anchor)
	case config.OpErase:
		graphs.EraseRenderNode(g, st.Anchor)
	case config.OpDestroyGraph:
		graphs.Destroy(g)
	case config.OpSetInputs:
		graphs.SetInputs(g, s.handles(st.Resources)...)
	case config.OpSetOutputs:
		graphs.SetOutputs(g, s.handles(st.Resources)...)
	case config.OpReplace:
		desc, err := s.cfg.Replacement(st)
		if err != nil {
			return err
		}
		ref := s.resources[st.Resource]
		if _, err := s.engine.Resources().Replace(ref.Handle(), desc); err != nil {
			return err
		}
	case config.OpRelease:
		if ref, ok := s.resources[st.Resource]; ok {
			ref.Release()
			delete(s.resources, st.Resource)
		}
	default:
		return fmt.Errorf("%w: op %v", config.ErrInvalid, st.Op)
	}
	logging.L().Debug("cli: script step applied", "frame", st.Frame, "op", st.Op,
		"graph", st.Graph, "resource", st.Resource)
	return nil
}

// Step applies the requests scripted for the next frame and runs it.
func (s *scene) Step() (gpures.FrameStats, error) {
	var errs []error
	for _, st := range s.script[s.frame] {
		if err := s.apply(st); err != nil {
			errs = append(errs, fmt.Errorf("frame %d: %s: %w", s.frame, st.Op, err))
		}
	}
	s.frame++
	return s.engine.Frame(), errors.Join(errs...)
}

// Done reports whether every configured frame has run.
func (s *scene) Done() bool { return s.frame >= s.cfg.Frames }

// Close releases the scene's references and closes the engine.
func (s *scene) Close() {
	for _, ref := range s.graphs {
		ref.Release()
	}
	for _, ref := range s.resources {
		ref.Release()
	}
	s.engine.Close()
}
