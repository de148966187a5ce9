package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool := NewWorkerPool(n)
		want := runtime.GOMAXPROCS(0)
		if pool.Workers() != want {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want %d", n, pool.Workers(), want)
		}
		pool.Close()
	}
}

// =============================================================================
// ExecuteAll Tests
// =============================================================================

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}

	pool.ExecuteAll(work)

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

// ExecuteAll is a barrier: writes made by one batch are visible to the next
// batch without extra synchronisation.
func TestWorkerPool_ExecuteAll_Barrier(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	const n = 256
	src := make([]int, n)
	dst := make([]int, n)

	for stage := 1; stage <= 5; stage++ {
		work := make([]func(), n)
		for i := range work {
			work[i] = func() {
				// Reads a neighbour written in the previous stage.
				dst[i] = src[(i+1)%n] + 1
			}
		}
		pool.ExecuteAll(work)
		src, dst = dst, src

		for i, v := range src {
			if v != stage {
				t.Fatalf("stage %d: src[%d] = %d, want %d", stage, i, v, stage)
			}
		}
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	pool.ExecuteAll(nil)
	pool.ExecuteAll([]func(){})
}

func TestWorkerPool_ExecuteAll_NilItem(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var ran atomic.Bool
	pool.ExecuteAll([]func(){nil, func() { ran.Store(true) }})
	if !ran.Load() {
		t.Error("non-nil item did not run")
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("Pool should not be running after Close")
	}
}

func TestWorkerPool_ExecuteAllAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	var counter atomic.Int64
	work := make([]func(), 10)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if got := counter.Load(); got != 10 {
		t.Errorf("counter after Close = %d, want 10", got)
	}
}

// =============================================================================
// Load Balancing Tests
// =============================================================================

func TestWorkerPool_WorkStealing(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	// Items 0, 4, 8, ... land on worker 0 and are slow; other workers must
	// steal or the batch takes far longer.
	var mu sync.Mutex
	seen := make(map[int]bool)
	work := make([]func(), 32)
	for i := range work {
		work[i] = func() {
			if i%4 == 0 {
				time.Sleep(2 * time.Millisecond)
			}
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		}
	}

	pool.ExecuteAll(work)

	if len(seen) != len(work) {
		t.Errorf("executed %d items, want %d", len(seen), len(work))
	}
}

func TestWorkerPool_NoGoroutineLeak(t *testing.T) {
	before := runtime.NumGoroutine()

	for range 10 {
		pool := NewWorkerPool(4)
		pool.ExecuteAll([]func(){func() {}, func() {}})
		pool.Close()
	}

	// Allow the scheduler to reap exited workers.
	time.Sleep(10 * time.Millisecond)
	after := runtime.NumGoroutine()
	if after > before+2 {
		t.Errorf("goroutines = %d after closing pools, started with %d", after, before)
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkWorkerPool_ExecuteAll_64(b *testing.B) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	var sink atomic.Int64
	work := make([]func(), 64)
	for i := range work {
		work[i] = func() { sink.Add(int64(i)) }
	}

	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		pool.ExecuteAll(work)
	}
}
