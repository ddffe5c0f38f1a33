// Package jobs contains the scheduled jobs of the bridge.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH SCHEDULE JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshScheduleJobName is the registered name of the refresh job.
const RefreshScheduleJobName = "refresh_schedule"

// Refresher runs one refresh cycle.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefreshScheduleJob triggers a refresh cycle on every scheduler tick.
type RefreshScheduleJob struct {
	refresher Refresher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewRefreshScheduleJob creates the refresh job. timeout bounds a whole
// cycle; zero leaves it to the per-request timeouts.
func NewRefreshScheduleJob(refresher Refresher, logger *slog.Logger, timeout time.Duration) *RefreshScheduleJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduleJob{
		refresher: refresher,
		logger:    logger,
		timeout:   timeout,
	}
}

// Name returns the job name.
func (j *RefreshScheduleJob) Name() string {
	return RefreshScheduleJobName
}

// Description returns a human-readable description.
func (j *RefreshScheduleJob) Description() string {
	return "Fetches the bus schedule and publishes next pickups and drop-offs"
}

// Run executes one refresh cycle. A cycle already started by a manual
// trigger counts as done.
func (j *RefreshScheduleJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	err := j.refresher.Refresh(ctx)
	if errors.Is(err, shared.ErrRefreshInFlight) {
		j.logger.Debug("refresh skipped, cycle already running")
		return nil
	}
	return err
}
