// Package deferred implements the frame-stamped destruction queue.
//
// State that the GPU may still read (node contexts, descriptor sets, HAL
// resources) is pushed with the frame counter at the time of the logical
// destroy and dropped only after the device has retired every frame that
// could reference it.
package deferred

// Entry is a queued value with the frame it was deferred at.
type Entry[T any] struct {
	Frame uint64
	Value T
}

// Queue is an ageing list of deferred values.
//
// Queue is not safe for concurrent use.
type Queue[T any] struct {
	entries []Entry[T]
}

// Push defers v, stamped with frame.
func (q *Queue[T]) Push(frame uint64, v T) {
	q.entries = append(q.entries, Entry[T]{Frame: frame, Value: v})
}

// Expired reports whether an entry stamped at frame may be dropped at
// current, given framesInFlight frames may still be executing.
//
// The entry survives for current in [frame, frame+framesInFlight] and
// expires once current >= frame+framesInFlight+1.
func Expired(frame, current uint64, framesInFlight uint32) bool {
	return current >= frame+uint64(framesInFlight)+1
}

// Age partitions the queue, calling drop on every expired entry in push
// order and keeping the rest. It returns the number of dropped entries.
func (q *Queue[T]) Age(current uint64, framesInFlight uint32, drop func(T)) int {
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if Expired(e.Frame, current, framesInFlight) {
			if drop != nil {
				drop(e.Value)
			}
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	var zero Entry[T]
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = zero
	}
	q.entries = kept
	return dropped
}

// Flush drops every entry regardless of age.
func (q *Queue[T]) Flush(drop func(T)) {
	for _, e := range q.entries {
		if drop != nil {
			drop(e.Value)
		}
	}
	clear(q.entries)
	q.entries = q.entries[:0]
}

// Len returns the number of pending entries.
func (q *Queue[T]) Len() int { return len(q.entries) }

// Entries returns the pending entries. The slice aliases the queue and must
// not be modified.
func (q *Queue[T]) Entries() []Entry[T] { return q.entries }
