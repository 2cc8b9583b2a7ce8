// Package logging holds the logger shared by gpures and its sub-packages.
//
// The root package exposes SetLogger/Logger; sub-packages call L() so that
// a single configuration applies everywhere without import cycles.
package logging

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr stores the active logger. Accessed atomically for thread safety.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// L returns the current logger.
func L() *slog.Logger { return loggerPtr.Load() }

// Set replaces the current logger. A nil logger restores silent output.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Limiter rate-limits diagnostics per key.
//
// Stale handles are expected in steady state, so the same message would
// otherwise be emitted every frame. The first occurrence of a key is always
// logged; after that at most one record per Interval (or every Every-th call)
// goes through.
//
// Limiter is safe for concurrent use.
type Limiter struct {
	Every    int
	Interval time.Duration

	mu   sync.Mutex
	keys map[string]*rate.Sometimes
	once map[string]struct{}
}

// NewLimiter creates a limiter letting through the first record of a key,
// then every n-th one or one per interval, whichever comes first.
func NewLimiter(n int, interval time.Duration) *Limiter {
	return &Limiter{Every: n, Interval: interval}
}

func (l *Limiter) sometimes(key string) *rate.Sometimes {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys == nil {
		l.keys = make(map[string]*rate.Sometimes)
	}
	s, ok := l.keys[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Every: l.Every, Interval: l.Interval}
		l.keys[key] = s
	}
	return s
}

// Log emits msg at level for key unless it is currently rate-limited.
func (l *Limiter) Log(level slog.Level, key, msg string, args ...any) {
	lg := L()
	if !lg.Enabled(context.Background(), level) {
		return
	}
	l.sometimes(key).Do(func() {
		lg.Log(context.Background(), level, msg, args...)
	})
}

// Once emits msg only the first time key is seen since the last Reset.
// It reports whether the record was emitted.
func (l *Limiter) Once(level slog.Level, key, msg string, args ...any) bool {
	l.mu.Lock()
	if l.once == nil {
		l.once = make(map[string]struct{})
	}
	_, seen := l.once[key]
	if !seen {
		l.once[key] = struct{}{}
	}
	l.mu.Unlock()
	if seen {
		return false
	}
	L().Log(context.Background(), level, msg, args...)
	return true
}

// Reset forgets all keys seen by Once.
func (l *Limiter) Reset() {
	l.mu.Lock()
	clear(l.once)
	l.mu.Unlock()
}
