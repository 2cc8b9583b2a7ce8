// Package slot provides the generation-tracking index allocator behind every
// gpures manager.
//
// Indices are never removed from the backing array: freeing an index bumps its
// generation and returns it to a free list, so any handle minted before the
// free keeps pointing at the same index and is detectable as stale.
package slot

import (
	"github.com/gogpu/gpures/handle"
	"github.com/gogpu/gpures/internal/logging"
)

type state uint8

const (
	stateFree state = iota
	stateLive
	stateRetired
)

// Allocator hands out (index, generation) pairs.
//
// Freed indices are reused in FIFO order, which maximises the time before a
// given index comes back. An index whose generation reaches
// handle.MaxGeneration is retired rather than wrapped, so a stale handle can
// never alias a live one.
//
// Allocator is not safe for concurrent use; owners guard it with their lock.
type Allocator struct {
	gens    []uint32
	states  []state
	free    []uint32
	retired int
}

// Alloc reserves an index. ok is false when every encodable index is in use.
func (a *Allocator) Alloc() (index, generation uint32, ok bool) {
	if len(a.free) > 0 {
		index = a.free[0]
		a.free = a.free[1:]
		a.states[index] = stateLive
		return index, a.gens[index], true
	}
	n := len(a.gens)
	if n >= handle.MaxIndex {
		logging.L().Error("slot: index space exhausted", "max", handle.MaxIndex)
		return 0, 0, false
	}
	a.gens = append(a.gens, 0)
	a.states = append(a.states, stateLive)
	return uint32(n), 0, true //nolint:gosec // bounded by handle.MaxIndex
}

// Free releases index. It reports false if index was not live.
func (a *Allocator) Free(index uint32) bool {
	if int(index) >= len(a.states) || a.states[index] != stateLive {
		return false
	}
	a.release(index)
	return true
}

func (a *Allocator) release(index uint32) {
	if a.gens[index] >= handle.MaxGeneration {
		a.states[index] = stateRetired
		a.retired++
		logging.L().Debug("slot: generation exhausted, retiring index", "index", index)
		return
	}
	a.states[index] = stateFree
	a.gens[index]++
	a.free = append(a.free, index)
}

// Bump advances the generation of a live index without freeing it, so
// handles minted before the call become stale. It reports false if index is
// not live or its generation is exhausted.
func (a *Allocator) Bump(index uint32) (generation uint32, ok bool) {
	if int(index) >= len(a.states) || a.states[index] != stateLive ||
		a.gens[index] >= handle.MaxGeneration {
		return 0, false
	}
	a.gens[index]++
	return a.gens[index], true
}

// Generation returns the current generation of index and whether it is live.
func (a *Allocator) Generation(index uint32) (generation uint32, live bool) {
	if int(index) >= len(a.gens) {
		return 0, false
	}
	return a.gens[index], a.states[index] == stateLive
}

// Valid reports whether h addresses a live index in its current generation.
func (a *Allocator) Valid(h handle.Handle) bool {
	if !h.IsValid() {
		return false
	}
	gen, live := a.Generation(h.Index())
	return live && gen == h.Generation()
}

// Len returns the number of indices ever handed out.
func (a *Allocator) Len() int { return len(a.gens) }

// Live returns the number of indices currently in use.
func (a *Allocator) Live() int { return len(a.gens) - len(a.free) - a.retired }

// Retired returns the number of indices taken out of circulation.
func (a *Allocator) Retired() int { return a.retired }

// Reset frees every live index at once, in index order.
func (a *Allocator) Reset() {
	for i, s := range a.states {
		if s == stateLive {
			a.release(uint32(i)) //nolint:gosec // bounded by handle.MaxIndex
		}
	}
}
