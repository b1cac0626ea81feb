// Package worker runs the periodic sweep of expired refresh tokens and login states.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperrnint/advent-calendar-be/core"
)

// Purger is the part of core.AuthService the job needs
type Purger interface {
	PurgeExpired(ctx context.Context) (core.PurgeStats, error)
}

// PurgeJob deletes expired records. Running it concurrently with requests is
// harmless: deleting an already-consumed record is a no-op.
type PurgeJob struct {
	purger   Purger
	logger   *slog.Logger
	Interval time.Duration
}

func NewPurgeJob(purger Purger, logger *slog.Logger, interval time.Duration) *PurgeJob {
	return &PurgeJob{
		purger:   purger,
		logger:   logger,
		Interval: interval,
	}
}

// Run performs one sweep
func (j *PurgeJob) Run(ctx context.Context) (core.PurgeStats, error) {
	start := time.Now()

	stats, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("purge job failed", slog.String("error", err.Error()))
		return stats, fmt.Errorf("purge failed: %w", err)
	}

	j.logger.Info("purge job completed",
		slog.Int64("refresh_tokens", stats.RefreshTokens),
		slog.Int64("login_states", stats.LoginStates),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)

	return stats, nil
}

// Start sweeps once immediately, then every Interval until ctx is done
func (j *PurgeJob) Start(ctx context.Context) error {
	if j.Interval <= 0 {
		return fmt.Errorf("purge interval must be positive (got %s)", j.Interval)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		// failures are logged in Run; the next tick retries
		_, _ = j.Run(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
