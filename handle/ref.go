package handle

import "sync/atomic"

// Ref is a reference-counted Handle.
//
// The owning manager creates a Ref with a count of one, which stands for its
// own bookkeeping, and hands Retain()ed copies to callers. Callers Release
// their share when done. During its pending pass the manager treats a Ref
// whose count has fallen to one as orphaned and destroys the resource.
//
// A nil *Ref behaves like a released reference to Invalid.
type Ref struct {
	h     Handle
	count atomic.Int32
}

// NewRef creates a Ref owned by a manager.
func NewRef(h Handle) *Ref {
	r := &Ref{h: h}
	r.count.Store(1)
	return r
}

// Handle returns the wrapped handle.
func (r *Ref) Handle() Handle {
	if r == nil {
		return Invalid
	}
	return r.h
}

// Retain adds a reference and returns r.
func (r *Ref) Retain() *Ref {
	if r != nil {
		r.count.Add(1)
	}
	return r
}

// Release drops a reference and returns the remaining count.
// Releasing below zero is ignored.
func (r *Ref) Release() int32 {
	if r == nil {
		return 0
	}
	for {
		c := r.count.Load()
		if c <= 0 {
			return 0
		}
		if r.count.CompareAndSwap(c, c-1) {
			return c - 1
		}
	}
}

// RefCount returns the current number of references.
func (r *Ref) RefCount() int32 {
	if r == nil {
		return 0
	}
	return r.count.Load()
}

// Orphaned reports whether only the owning manager still holds r.
func (r *Ref) Orphaned() bool { return r.RefCount() <= 1 }
