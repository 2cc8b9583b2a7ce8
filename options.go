package gpures

import (
	"log/slog"

	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/rendergraph"
	"github.com/gogpu/gputypes"
)

// Option configures an Engine during creation.
//
// Example:
//
//	e := gpures.NewEngine(
//	    gpures.WithFramesInFlight(3),
//	    gpures.WithNodeFactory(registry),
//	    gpures.WithValidation(true),
//	)
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	framesInFlight uint32
	backend        gputypes.Backend
	backendSet     bool
	hal            device.HAL
	validation     bool
	debugChecks    bool
	factory        rendergraph.Factory
	workers        int
	logger         *slog.Logger
	budget         descriptor.Counts
}

func defaultOptions() engineOptions {
	return engineOptions{
		framesInFlight: device.DefaultFramesInFlight,
	}
}

// WithFramesInFlight sets how many frames the GPU may lag behind the CPU.
// Destroyed objects are kept for that many frames plus one. The value is
// clamped to [1, 8].
func WithFramesInFlight(n uint32) Option {
	return func(o *engineOptions) {
		o.framesInFlight = n
	}
}

// WithBackend sets the backend reported by the device. The default is the
// backend of the headless HAL. Nodes whose type is registered for other
// backends are still created, with a warning.
func WithBackend(b gputypes.Backend) Option {
	return func(o *engineOptions) {
		o.backend = b
		o.backendSet = true
	}
}

// WithHAL replaces the headless HAL device used for GPU objects.
func WithHAL(h device.HAL) Option {
	return func(o *engineOptions) {
		o.hal = h
	}
}

// WithValidation enables descriptor budget validation. Budget excess is
// only reported, never enforced.
func WithValidation(enabled bool) Option {
	return func(o *engineOptions) {
		o.validation = enabled
	}
}

// WithDebugChecks turns programmer misuse, such as registering a query name
// twice, into panics.
func WithDebugChecks(enabled bool) Option {
	return func(o *engineOptions) {
		o.debugChecks = enabled
	}
}

// WithNodeFactory sets the factory instantiating render nodes. Without it,
// the engine uses an empty NodeRegistry and every node type is unknown.
func WithNodeFactory(f rendergraph.Factory) Option {
	return func(o *engineOptions) {
		o.factory = f
	}
}

// WithWorkers sets the number of goroutines executing graphs in
// RenderFrame. Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *engineOptions) {
		o.workers = n
	}
}

// WithLogger calls SetLogger with l when the engine is created.
// The logger is process-wide.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithDescriptorBudget sets the per-node descriptor budget.
func WithDescriptorBudget(budget descriptor.Counts) Option {
	return func(o *engineOptions) {
		o.budget = budget
	}
}
