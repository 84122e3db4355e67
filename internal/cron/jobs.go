package cron

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/history"
)

// Reloader reloads the application configuration. Defined here so jobs
// don't depend on the app wiring.
type Reloader interface {
	ReloadConfig() error
}

// StatsReportJob periodically logs conversation registry statistics.
type StatsReportJob struct {
	Registry     *history.Registry
	Estimator    budget.Estimator
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*StatsReportJob)(nil)

// Name implements Job.
func (j *StatsReportJob) Name() string { return "stats_report" }

// Schedule implements Job.
func (j *StatsReportJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run logs the current history footprint.
func (j *StatsReportJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: stats report cancelled: %w", ctx.Err())
	}

	stats := j.Registry.Stats(j.Estimator)
	j.Logger.Info("history stats",
		"conversations", stats.Conversations,
		"turns", stats.Turns,
		"estimated_tokens", stats.EstimatedTokens,
	)
	return nil
}

// ConfigReloadJob polls the config file's modification time and triggers
// a reload when it changes. The first tick records the baseline without
// reloading.
type ConfigReloadJob struct {
	Path         string
	Reloader     Reloader
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "* * * * *"

	mu      sync.Mutex
	lastMod time.Time
}

// Compile-time interface check.
var _ Job = (*ConfigReloadJob)(nil)

// Name implements Job.
func (j *ConfigReloadJob) Name() string { return "config_reload" }

// Schedule implements Job.
func (j *ConfigReloadJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run checks the config file mtime and reloads on change.
func (j *ConfigReloadJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: config reload cancelled: %w", ctx.Err())
	}

	info, err := os.Stat(j.Path)
	if err != nil {
		return fmt.Errorf("cron: stat config %s: %w", j.Path, err)
	}

	j.mu.Lock()
	baseline := j.lastMod
	mod := info.ModTime()
	j.lastMod = mod
	j.mu.Unlock()

	if baseline.IsZero() || !mod.After(baseline) {
		return nil
	}

	j.Logger.Info("config file changed, reloading", "path", j.Path)
	if err := j.Reloader.ReloadConfig(); err != nil {
		return fmt.Errorf("cron: reload config: %w", err)
	}
	return nil
}
