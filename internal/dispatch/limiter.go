// Package dispatch runs the request pipeline: global admission control,
// per-conversation serialization, context assembly, the completion call,
// and the history commit.
package dispatch

import "context"

// DefaultMaxConcurrency bounds simultaneous pipeline executions when no
// capacity is configured.
const DefaultMaxConcurrency = 5

// Limiter is a counting admission gate. It bounds total simultaneous
// pipeline executions system-wide, independent of how many
// conversations are active.
type Limiter struct {
	sem chan struct{}
}

// NewLimiter creates a Limiter with the given capacity.
// capacity <= 0 uses DefaultMaxConcurrency.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultMaxConcurrency
	}
	return &Limiter{sem: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot. Must be called exactly once per successful
// Acquire.
func (l *Limiter) Release() {
	<-l.sem
}

// InFlight returns the number of currently held slots.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

// Capacity returns the configured maximum.
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}
