package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Pool Creation Tests
// =============================================================================

func TestPool_Create(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestPool_Run(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	const n = 100
	seen := make([]atomic.Int32, n)
	pool.Run(n, func(i int) { seen[i].Add(1) })

	for i := range seen {
		if seen[i].Load() != 1 {
			t.Fatalf("job %d ran %d times, want 1", i, seen[i].Load())
		}
	}
}

func TestPool_RunEmpty(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	pool.Run(0, func(int) { t.Error("job ran for empty batch") })
}

func TestPool_RunSingleInline(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	// Plain variable: an inline job needs no synchronization.
	ran := false
	pool.Run(1, func(int) { ran = true })
	if !ran {
		t.Error("single job did not run")
	}
}

func TestPool_RunAfterClose(t *testing.T) {
	pool := NewPool(2)
	pool.Close()

	var count atomic.Int32
	pool.Run(5, func(int) { count.Add(1) })
	if count.Load() != 5 {
		t.Errorf("count = %d, want 5 (inline after Close)", count.Load())
	}
}

func TestPool_WorkStealing(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	// Job 0 blocks its worker; the jobs queued behind it must be stolen.
	release := make(chan struct{})
	var finished atomic.Int32
	go func() {
		deadline := time.After(2 * time.Second)
		for finished.Load() < 7 {
			select {
			case <-deadline:
				close(release)
				return
			default:
				runtime.Gosched()
			}
		}
		close(release)
	}()

	pool.Run(8, func(i int) {
		if i == 0 {
			<-release
		}
		finished.Add(1)
	})
	if finished.Load() != 8 {
		t.Errorf("finished = %d, want 8", finished.Load())
	}
}

func TestPool_Concurrent(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var total atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(50, func(int) { total.Add(1) })
		}()
	}
	wg.Wait()
	if total.Load() != 400 {
		t.Errorf("total = %d, want 400", total.Load())
	}
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(2)
	pool.Close()
	pool.Close()
	if pool.IsRunning() {
		t.Error("Pool should not be running after Close")
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkPool_Run(b *testing.B) {
	pool := NewPool(0)
	defer pool.Close()

	var sink atomic.Int64
	for b.Loop() {
		pool.Run(64, func(i int) { sink.Add(int64(i)) })
	}
}
