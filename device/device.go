// Package device defines the device capability consumed by the gpures
// managers and a headless implementation backed by a wgpu HAL device.
//
// The managers only need three facts from the device: which backend is
// active, how many frames may be in flight on the GPU, and the number of the
// frame currently being recorded. Everything else (queue submission,
// surfaces) lives outside the core.
package device

import (
	"strings"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// Frame limits.
const (
	// DefaultFramesInFlight is the default number of frames the GPU may be
	// processing while the CPU records the next one.
	DefaultFramesInFlight = 3

	// MaxFramesInFlight bounds the frames-in-flight setting.
	MaxFramesInFlight = 8
)

// Device is the device capability used by the managers.
type Device interface {
	// Backend returns the active GPU backend.
	Backend() gputypes.Backend

	// FramesInFlight returns the number of frames the GPU may still be
	// executing behind the CPU.
	FramesInFlight() uint32

	// FrameCount returns the current submitted-frame counter.
	FrameCount() uint64
}

// HAL is the subset of hal.Device used to create and destroy GPU resources.
// Any hal.Device satisfies it.
type HAL interface {
	CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error)
	DestroyBuffer(buffer hal.Buffer)
	CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error)
	DestroyTexture(texture hal.Texture)
	CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error)
	DestroySampler(sampler hal.Sampler)
	CreateQuerySet(desc *hal.QuerySetDescriptor) (hal.QuerySet, error)
	DestroyQuerySet(querySet hal.QuerySet)
}

// Option configures a Headless device.
type Option func(*Headless)

// WithHAL sets the HAL device resources are created on.
func WithHAL(h HAL) Option {
	return func(d *Headless) {
		if h != nil {
			d.hal = h
		}
	}
}

// WithBackend sets the reported backend.
func WithBackend(b gputypes.Backend) Option {
	return func(d *Headless) { d.backend = b }
}

// WithFramesInFlight sets the frames-in-flight count, clamped to
// [1, MaxFramesInFlight].
func WithFramesInFlight(n uint32) Option {
	return func(d *Headless) { d.framesInFlight = clampFrames(n) }
}

// WithStartFrame sets the initial frame counter.
func WithStartFrame(n uint64) Option {
	return func(d *Headless) { d.frame.Store(n) }
}

func clampFrames(n uint32) uint32 {
	switch {
	case n == 0:
		return 1
	case n > MaxFramesInFlight:
		return MaxFramesInFlight
	default:
		return n
	}
}

// Headless is a Device that runs without a window or surface.
//
// By default it wraps the wgpu noop HAL, which allocates in-memory buffers
// and placeholder textures, so the full resource lifecycle can run in tests
// and tools without a GPU.
//
// FrameCount and EndFrame are safe for concurrent use.
type Headless struct {
	hal            HAL
	backend        gputypes.Backend
	framesInFlight uint32
	frame          atomic.Uint64
}

var _ Device = (*Headless)(nil)

// NewHeadless creates a headless device.
func NewHeadless(opts ...Option) *Headless {
	d := &Headless{
		hal:            &noop.Device{},
		backend:        noop.API{}.Variant(),
		framesInFlight: DefaultFramesInFlight,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HAL returns the HAL device.
func (d *Headless) HAL() HAL { return d.hal }

// Backend implements Device.
func (d *Headless) Backend() gputypes.Backend { return d.backend }

// FramesInFlight implements Device.
func (d *Headless) FramesInFlight() uint32 { return d.framesInFlight }

// FrameCount implements Device.
func (d *Headless) FrameCount() uint64 { return d.frame.Load() }

// EndFrame marks the current frame as submitted and returns the new counter.
func (d *Headless) EndFrame() uint64 { return d.frame.Add(1) }

// ParseBackend maps a backend name to a gputypes.Backend.
// Names are matched case-insensitively against Backend.String(); the
// empty string selects gputypes.BackendEmpty.
func ParseBackend(name string) (gputypes.Backend, bool) {
	for b := gputypes.BackendEmpty; b <= gputypes.BackendBrowserWebGPU; b++ {
		if strings.EqualFold(b.String(), name) {
			return b, true
		}
	}
	if name == "" {
		return gputypes.BackendEmpty, true
	}
	return gputypes.BackendEmpty, false
}
