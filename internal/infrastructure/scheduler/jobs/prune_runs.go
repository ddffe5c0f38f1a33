package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PruneRunsJobName is the registered name of the pruning job.
const PruneRunsJobName = "prune_runs"

// RunPruner deletes refresh runs that finished before a cutoff.
type RunPruner interface {
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// PruneRunsJob keeps the run history bounded.
type PruneRunsJob struct {
	pruner    RunPruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruneRunsJob creates the pruning job.
func NewPruneRunsJob(pruner RunPruner, retention time.Duration, logger *slog.Logger) *PruneRunsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneRunsJob{
		pruner:    pruner,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Name returns the job name.
func (j *PruneRunsJob) Name() string {
	return PruneRunsJobName
}

// Description returns a human-readable description.
func (j *PruneRunsJob) Description() string {
	return fmt.Sprintf("Deletes refresh runs older than %s", j.retention)
}

// Run deletes expired runs. A non-positive retention keeps everything.
func (j *PruneRunsJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.pruner.PruneRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	if deleted > 0 {
		j.logger.Info("pruned refresh runs", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
