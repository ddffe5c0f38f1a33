package postgres

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/pkg/retry"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// AccountKey hashes an account id so email addresses are not stored.
func AccountKey(accountID string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(accountID))))
	return hex.EncodeToString(sum[:16])
}

// RunRepository implements schedule.RunRepository for PostgreSQL.
type RunRepository struct {
	db      Querier
	retrier *retry.Retrier
}

var _ schedule.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a run repository. Transient database errors are
// retried a few times.
func NewRunRepository(db Querier) *RunRepository {
	return &RunRepository{
		db:      db,
		retrier: retry.DatabaseRetrier(retry.WithRetryIf(IsTransient)),
	}
}

// RecordRun inserts a finished run. Recording the same id twice is a no-op.
func (r *RunRepository) RecordRun(ctx context.Context, run *schedule.RefreshRun) error {
	if run == nil {
		return nil
	}

	attempts := run.Attempts
	if attempts < 1 {
		attempts = 1
	}

	query := `
		INSERT INTO refresh_runs (
			id, account_key, started_at, finished_at, outcome,
			error_kind, error_message, attempts, students, trips, rejected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query,
			run.ID,
			AccountKey(run.AccountID),
			run.StartedAt.UTC(),
			run.FinishedAt.UTC(),
			string(run.Outcome),
			run.ErrorKind,
			run.ErrorMessage,
			attempts,
			run.Students,
			run.Trips,
			run.Rejected,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record refresh run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest runs for the account, newest first.
func (r *RunRepository) RecentRuns(ctx context.Context, accountID string, limit int) ([]*schedule.RefreshRun, error) {
	query := `
		SELECT id, started_at, finished_at, outcome, error_kind, error_message,
			   attempts, students, trips, rejected
		FROM refresh_runs
		WHERE account_key = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	var runs []*schedule.RefreshRun
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, AccountKey(accountID), clampLimit(limit))
		if err != nil {
			return err
		}
		defer rows.Close()

		runs = runs[:0]
		for rows.Next() {
			run := &schedule.RefreshRun{AccountID: accountID}
			var outcome string
			var attempts int16
			if err := rows.Scan(
				&run.ID,
				&run.StartedAt,
				&run.FinishedAt,
				&outcome,
				&run.ErrorKind,
				&run.ErrorMessage,
				&attempts,
				&run.Students,
				&run.Trips,
				&run.Rejected,
			); err != nil {
				return fmt.Errorf("failed to scan refresh run: %w", err)
			}
			run.Outcome = schedule.RunOutcome(outcome)
			run.Attempts = int(attempts)
			runs = append(runs, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh runs: %w", err)
	}
	return runs, nil
}

// PruneRuns deletes runs that finished before olderThan.
func (r *RunRepository) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	var deleted int64
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, `DELETE FROM refresh_runs WHERE finished_at < $1`, olderThan.UTC())
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh runs: %w", err)
	}
	return deleted, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRunLimit
	case limit > maxRunLimit:
		return maxRunLimit
	default:
		return limit
	}
}
