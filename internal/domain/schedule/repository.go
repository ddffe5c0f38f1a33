package schedule

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the last successfully fetched schedule for an account.
type Snapshot struct {
	AccountID string    `json:"account_id"`
	Students  []Student `json:"students"`
	Trips     []Trip    `json:"trips"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SnapshotRepository keeps the last-known-good schedule so a restarted
// process can serve data before its first refresh completes.
type SnapshotRepository interface {
	// SaveSnapshot replaces the stored snapshot for the account.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error

	// LoadSnapshot returns the stored snapshot.
	// Returns shared.ErrNotFound when nothing is stored.
	LoadSnapshot(ctx context.Context, accountID string) (*Snapshot, error)
}

// RunOutcome is the terminal phase of a refresh run.
type RunOutcome string

const (
	RunPublished RunOutcome = "published"
	RunFailed    RunOutcome = "failed"
)

// RefreshRun records one refresh cycle.
type RefreshRun struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Outcome      RunOutcome `json:"outcome"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	Students     int        `json:"students"`
	Trips        int        `json:"trips"`
	Rejected     int        `json:"rejected"`
}

// Duration returns how long the run took.
func (r RefreshRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRepository stores refresh run history.
type RunRepository interface {
	// RecordRun stores a finished run.
	RecordRun(ctx context.Context, run *RefreshRun) error

	// RecentRuns returns the latest runs for the account, newest first.
	RecentRuns(ctx context.Context, accountID string, limit int) ([]*RefreshRun, error)
}
