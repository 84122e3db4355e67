// Package cron runs periodic background tasks: config reload polling
// and history stats reporting.
package cron

import "context"

// Job is one periodic background task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression, e.g. "*/5 * * * *".
	Schedule() string

	// Run executes one tick. Implementations should honor ctx
	// cancellation for graceful shutdown.
	Run(ctx context.Context) error
}
