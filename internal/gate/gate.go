// Package gate provides per-conversation mutual exclusion: at most one
// pipeline execution is in flight per conversation, while different
// conversations proceed fully in parallel.
package gate

import "sync"

// Gate hands out one mutex per conversation id. A global mutex protects
// the lock map and is held only briefly to look up or create the
// per-conversation entry; the per-conversation mutex is locked outside
// it so unrelated conversations never block each other.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock stores per-conversation synchronization metadata. refs counts
// goroutines that acquired (or are waiting on) the lock; stale marks
// entries eligible for cleanup once refs drops to zero.
type convLock struct {
	mu    sync.Mutex
	refs  int
	stale bool
}

// New creates a ready-to-use Gate.
func New() *Gate {
	return &Gate{locks: make(map[string]*convLock)}
}

// Acquire gets or creates the per-conversation mutex and locks it.
// The caller must call Release with the same id when done.
func (g *Gate) Acquire(id string) {
	g.mu.Lock()
	cl, ok := g.locks[id]
	if !ok {
		cl = &convLock{}
		g.locks[id] = cl
	}
	cl.refs++
	cl.stale = false
	g.mu.Unlock()

	cl.mu.Lock()
}

// Release unlocks the per-conversation mutex for the given id.
// The caller must have previously called Acquire with the same id.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	cl, ok := g.locks[id]
	if !ok {
		g.mu.Unlock()
		return
	}
	cl.refs--
	if cl.refs == 0 && cl.stale {
		delete(g.locks, id)
	}
	g.mu.Unlock()

	cl.mu.Unlock()
}

// WithLock runs fn while holding the conversation's lock. The lock is
// released on every exit path, including a panic inside fn.
func (g *Gate) WithLock(id string, fn func()) {
	g.Acquire(id)
	defer g.Release(id)
	fn()
}

// Held reports whether the conversation's lock is currently held or
// has waiters. The registry consults this during eviction so a
// conversation is never dropped out from under an in-flight execution.
func (g *Gate) Held(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cl, ok := g.locks[id]
	return ok && cl.refs > 0
}

// Cleanup removes lock entries for conversations that are no longer
// live. activeIDs should contain only the ids of current conversations.
// Entries still referenced are marked stale and removed on final Release.
func (g *Gate) Cleanup(activeIDs map[string]struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, cl := range g.locks {
		if _, active := activeIDs[id]; !active {
			cl.stale = true
			if cl.refs == 0 {
				delete(g.locks, id)
			}
			continue
		}
		cl.stale = false
	}
}
