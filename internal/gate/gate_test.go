package gate

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_SameConversation_Serial(t *testing.T) {
	t.Parallel()

	g := New()

	// counter tracks goroutines inside the critical section. With
	// correct serialization it never exceeds 1.
	var counter atomic.Int32
	var maxConcurrent atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.WithLock("dm:alice", func() {
				cur := counter.Add(1)
				for {
					old := maxConcurrent.Load()
					if cur <= old || maxConcurrent.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				counter.Add(-1)
			})
		}()
	}
	wg.Wait()

	if peak := maxConcurrent.Load(); peak != 1 {
		t.Errorf("max concurrent executions = %d, want 1", peak)
	}
}

func TestGate_DifferentConversations_Parallel(t *testing.T) {
	t.Parallel()

	g := New()
	enteredA := make(chan struct{})
	enteredB := make(chan struct{})
	done := make(chan struct{})

	go func() {
		g.Acquire("dm:a")
		close(enteredA)
		<-enteredB
		g.Release("dm:a")
	}()
	go func() {
		g.Acquire("dm:b")
		close(enteredB)
		<-enteredA
		g.Release("dm:b")
		close(done)
	}()

	// If different conversations were serialized this would deadlock:
	// each goroutine waits for the other to enter before releasing.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: different conversations should run in parallel")
	}
}

func TestGate_Held(t *testing.T) {
	t.Parallel()

	g := New()
	if g.Held("dm:x") {
		t.Fatal("Held before any Acquire")
	}

	g.Acquire("dm:x")
	if !g.Held("dm:x") {
		t.Error("Held = false while locked")
	}
	g.Release("dm:x")
	if g.Held("dm:x") {
		t.Error("Held = true after release")
	}
}

func TestGate_Cleanup(t *testing.T) {
	t.Parallel()

	g := New()
	for _, id := range []string{"a", "b", "c"} {
		g.Acquire(id)
		g.Release(id)
	}

	g.Cleanup(map[string]struct{}{"b": {}})

	g.mu.Lock()
	_, hasA := g.locks["a"]
	_, hasB := g.locks["b"]
	_, hasC := g.locks["c"]
	g.mu.Unlock()

	if hasA || hasC {
		t.Error("inactive lock entries survived cleanup")
	}
	if !hasB {
		t.Error("active lock entry removed by cleanup")
	}
}

func TestGate_CleanupDefersHeldLocks(t *testing.T) {
	t.Parallel()

	g := New()
	g.Acquire("busy")

	// Cleanup while the lock is held must not delete the entry.
	g.Cleanup(map[string]struct{}{})
	if !g.Held("busy") {
		t.Fatal("held lock vanished during cleanup")
	}

	// The entry is reclaimed once the holder releases.
	g.Release("busy")
	g.mu.Lock()
	_, exists := g.locks["busy"]
	g.mu.Unlock()
	if exists {
		t.Error("stale entry not removed on final release")
	}
}

func TestGate_WithLockReleasesOnPanic(t *testing.T) {
	t.Parallel()

	g := New()
	func() {
		defer func() { _ = recover() }()
		g.WithLock("dm:p", func() { panic("boom") })
	}()

	acquired := make(chan struct{})
	go func() {
		g.WithLock("dm:p", func() {})
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock not released after panic in fn")
	}
}
