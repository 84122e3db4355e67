package channel

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelayRange configures the randomized pause before a reply is sent, so
// responses read as typed rather than instantaneous.
type DelayRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Enabled reports whether the range produces a positive delay.
func (r DelayRange) Enabled() bool {
	return r.Max > 0 && r.Max >= r.Min
}

// Sleep pauses for a uniformly random duration within the range, or
// until ctx is done. A disabled range returns immediately.
func (r DelayRange) Sleep(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}

	min := r.Min
	if min < 0 {
		min = 0
	}
	d := min
	if span := r.Max - min; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
