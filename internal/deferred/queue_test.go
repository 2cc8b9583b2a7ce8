package deferred

import (
	"slices"
	"testing"
)

func TestExpiredWindow(t *testing.T) {
	const n, f = 10, 2
	for cur := uint64(n); cur <= n+f; cur++ {
		if Expired(n, cur, f) {
			t.Errorf("frame %d: expired too early", cur)
		}
	}
	if !Expired(n, n+f+1, f) {
		t.Error("entry should expire at N+F+1")
	}
}

func TestAgeKeepsOrder(t *testing.T) {
	var q Queue[string]
	q.Push(1, "a")
	q.Push(5, "b")
	q.Push(2, "c")
	q.Push(6, "d")

	var dropped []string
	n := q.Age(4, 1, func(s string) { dropped = append(dropped, s) })
	if n != 2 || !slices.Equal(dropped, []string{"a", "c"}) {
		t.Fatalf("dropped %v (n=%d), want [a c]", dropped, n)
	}
	var left []string
	for _, e := range q.Entries() {
		left = append(left, e.Value)
	}
	if !slices.Equal(left, []string{"b", "d"}) {
		t.Errorf("kept %v, want [b d]", left)
	}
}

func TestAgeZeroFramesInFlight(t *testing.T) {
	var q Queue[int]
	q.Push(3, 1)
	if q.Age(3, 0, nil) != 0 {
		t.Error("entry dropped in the frame it was deferred")
	}
	if q.Age(4, 0, nil) != 1 || q.Len() != 0 {
		t.Error("entry should drop one frame later")
	}
}

func TestFlush(t *testing.T) {
	var q Queue[int]
	q.Push(100, 1)
	q.Push(200, 2)
	sum := 0
	q.Flush(func(v int) { sum += v })
	if sum != 3 || q.Len() != 0 {
		t.Errorf("sum=%d len=%d", sum, q.Len())
	}
}
