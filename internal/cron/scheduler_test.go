package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubJob is a minimal Job for scheduler tests.
type stubJob struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func (j *stubJob) Name() string     { return j.name }
func (j *stubJob) Schedule() string { return j.schedule }
func (j *stubJob) Run(ctx context.Context) error {
	if j.run != nil {
		return j.run(ctx)
	}
	return nil
}

func TestSchedulerRejectsDuplicateJobName(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())

	if err := s.RegisterJob(&stubJob{name: "reload", schedule: "* * * * *"}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.RegisterJob(&stubJob{name: "reload", schedule: "0 * * * *"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestSchedulerStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&stubJob{name: "bad", schedule: "every minute"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Start(); err == nil {
		t.Fatal("expected error for an unparseable schedule")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&stubJob{name: "noop", schedule: "* * * * *"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSchedulerNilLoggerDefaults(t *testing.T) {
	t.Parallel()

	s := NewScheduler(nil)
	if s.logger == nil {
		t.Fatal("logger should fall back to slog.Default()")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	// A tick that arrives while the previous run still holds the job's
	// lock must be skipped, never queued behind it.
	var inFlight, peak atomic.Int32

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&stubJob{
		name:     "slow",
		schedule: "* * * * *",
		run: func(_ context.Context) error {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Hammer the job's lock the way simultaneous ticks would.
	lock := &s.byName["slow"].lock
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lock.TryLock() {
				inFlight.Add(1)
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := peak.Load(); got > 1 {
		t.Errorf("peak concurrent runs = %d, want <= 1", got)
	}
}

func TestSchedulerSurvivesJobError(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&stubJob{
		name:     "failing",
		schedule: "* * * * *",
		run: func(_ context.Context) error {
			return errors.New("job failed")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
