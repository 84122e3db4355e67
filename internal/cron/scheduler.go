package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// jobEntry pairs a job with the mutex that keeps its ticks from
// overlapping.
type jobEntry struct {
	job  Job
	lock sync.Mutex
}

// Scheduler drives registered jobs on their cron schedules. A tick that
// arrives while the job's previous run still holds its lock is skipped,
// not queued.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries []*jobEntry
	byName  map[string]*jobEntry
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		byName: make(map[string]*jobEntry),
		logger: logger,
	}
}

// RegisterJob adds a job. Must be called before Start(); duplicate names
// are rejected.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	e := &jobEntry{job: j}
	s.byName[name] = e
	s.entries = append(s.entries, e)
	return nil
}

// Start parses every job's schedule and begins ticking. An unparseable
// expression fails the whole start.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	for _, e := range s.entries {
		e := e
		if _, err := s.cron.AddFunc(e.job.Schedule(), func() {
			s.runOnce(ctx, e)
		}); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", e.job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.entries))
	return nil
}

// runOnce executes one tick of a job under its lock.
func (s *Scheduler) runOnce(ctx context.Context, e *jobEntry) {
	name := e.job.Name()
	if !e.lock.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick", "job", name)
		return
	}
	defer e.lock.Unlock()

	s.logger.Debug("cron: job started", "job", name)
	if err := e.job.Run(ctx); err != nil {
		s.logger.Error("cron: job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("cron: job completed", "job", name)
}

// Stop cancels the job context and waits for in-flight ticks to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
