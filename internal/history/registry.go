// Package history provides the in-memory per-conversation rolling
// history: a bounded, TTL-expiring log of prior turns behind a
// size-bounded, access-ordered registry. History is deliberately
// process-local; long-term recall is the memory store's job.
package history

import (
	"sync"
	"time"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/provider"
)

// Defaults matching the rest of the pipeline's tuning.
const (
	DefaultContextRounds    = 5
	DefaultMaxConversations = 200
	DefaultTTL              = 24 * time.Hour
)

// Config bounds the registry.
type Config struct {
	// ContextRounds is the number of user/assistant exchanges kept per
	// conversation; the turn log holds at most 2×ContextRounds entries.
	ContextRounds int

	// MaxConversations caps the number of live conversations. The
	// least-recently-touched conversation is evicted beyond it.
	MaxConversations int

	// TTL expires conversations untouched for longer than this.
	// Zero disables TTL expiry.
	TTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.ContextRounds <= 0 {
		c.ContextRounds = DefaultContextRounds
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = DefaultMaxConversations
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	return c
}

// conversation is one live conversation's state. Owned by the registry;
// never escapes the registry mutex.
type conversation struct {
	turns       []provider.Message
	lastTouched time.Time
}

// Registry maps conversation ids to their rolling histories. It is safe
// for concurrent use. Eviction is lazy: every mutation runs a TTL sweep
// followed by an LRU trim, so no background goroutine is needed.
type Registry struct {
	mu     sync.Mutex
	convs  map[string]*conversation
	config Config

	// held reports whether a conversation's gate lock is currently
	// held. Eviction skips held conversations so an in-flight pipeline
	// execution always observes a valid history.
	held func(id string) bool

	// now is injectable for deterministic testing.
	now func() time.Time
}

// NewRegistry creates a Registry with the given bounds.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		convs:  make(map[string]*conversation),
		config: cfg.withDefaults(),
		now:    time.Now,
	}
}

// SetHeldCheck wires the gate's Held predicate. Must be called during
// wiring, before the registry receives traffic.
func (r *Registry) SetHeldCheck(fn func(id string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = fn
}

// maxTurns is the per-conversation turn bound.
func (r *Registry) maxTurns() int {
	return 2 * r.config.ContextRounds
}

// GetOrCreate ensures a conversation exists, marks it touched, and runs
// lazy eviction. It never blocks on anything but the registry mutex.
func (r *Registry) GetOrCreate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		c = &conversation{}
		r.convs[id] = c
	}
	c.lastTouched = r.now()
	r.sweepLocked()
}

// Snapshot returns a copy of the conversation's turns, oldest first.
// An absent conversation behaves as an empty history. The copy means
// request building never races with a concurrent append.
func (r *Registry) Snapshot(id string) []provider.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		return nil
	}
	c.lastTouched = r.now()
	out := make([]provider.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Append commits one completed exchange: the user turn and the
// assistant turn, in order. The log is then truncated to the most
// recent maxTurns entries and lazy eviction runs.
func (r *Registry) Append(id string, userTurn, assistantTurn provider.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.convs[id]
	if !ok {
		c = &conversation{}
		r.convs[id] = c
	}
	c.turns = append(c.turns, userTurn, assistantTurn)
	if limit := r.maxTurns(); len(c.turns) > limit {
		c.turns = c.turns[len(c.turns)-limit:]
	}
	c.lastTouched = r.now()
	r.sweepLocked()
}

// Forget drops a conversation immediately, unless its lock is held.
// Reports whether the conversation was removed.
func (r *Registry) Forget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.convs[id]; !ok {
		return false
	}
	if r.held != nil && r.held(id) {
		return false
	}
	delete(r.convs, id)
	return true
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// ActiveIDs returns a snapshot of live conversation ids, used by the
// gate to reclaim lock entries for evicted conversations.
func (r *Registry) ActiveIDs() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]struct{}, len(r.convs))
	for id := range r.convs {
		ids[id] = struct{}{}
	}
	return ids
}

// sweepLocked evicts expired conversations, then trims the registry to
// MaxConversations by dropping the least-recently-touched entries.
// Conversations whose gate lock is held are never evicted; the holder
// keeps them live until release, after which the next mutation's sweep
// reclaims them. Caller must hold r.mu.
func (r *Registry) sweepLocked() {
	if ttl := r.config.TTL; ttl > 0 {
		cutoff := r.now().Add(-ttl)
		for id, c := range r.convs {
			if c.lastTouched.Before(cutoff) && !r.heldLocked(id) {
				delete(r.convs, id)
			}
		}
	}

	for len(r.convs) > r.config.MaxConversations {
		oldestID := ""
		var oldest time.Time
		for id, c := range r.convs {
			if r.heldLocked(id) {
				continue
			}
			if oldestID == "" || c.lastTouched.Before(oldest) {
				oldestID = id
				oldest = c.lastTouched
			}
		}
		if oldestID == "" {
			// Every candidate is locked; give up until the next sweep.
			return
		}
		delete(r.convs, oldestID)
	}
}

func (r *Registry) heldLocked(id string) bool {
	return r.held != nil && r.held(id)
}

// Stats is a point-in-time summary of registry contents.
type Stats struct {
	Conversations   int `json:"conversations"`
	Turns           int `json:"turns"`
	EstimatedTokens int `json:"estimated_tokens"`
}

// Stats summarizes live conversations using the given estimator.
// A nil estimator reports zero tokens.
func (r *Registry) Stats(e budget.Estimator) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Conversations: len(r.convs)}
	for _, c := range r.convs {
		s.Turns += len(c.turns)
		if e != nil {
			s.EstimatedTokens += budget.EstimateMessages(e, c.turns)
		}
	}
	return s
}
