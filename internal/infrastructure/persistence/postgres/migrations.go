package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_refresh_runs",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "index_refresh_runs_failures",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE REFRESH RUNS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS refresh_runs (
    id UUID PRIMARY KEY,
    account_key VARCHAR(64) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    error_kind VARCHAR(16) NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    attempts SMALLINT NOT NULL DEFAULT 1,
    students INTEGER NOT NULL DEFAULT 0,
    trips INTEGER NOT NULL DEFAULT 0,
    rejected INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_outcome CHECK (outcome IN ('published', 'failed')),
    CONSTRAINT valid_attempts CHECK (attempts >= 1),
    CONSTRAINT valid_window CHECK (finished_at >= started_at)
);

CREATE INDEX IF NOT EXISTS idx_refresh_runs_account_started ON refresh_runs(account_key, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_refresh_runs_finished ON refresh_runs(finished_at);
`

const migration001Down = `
DROP TABLE IF EXISTS refresh_runs;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: FAILURE INDEX
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE INDEX IF NOT EXISTS idx_refresh_runs_failures
    ON refresh_runs(account_key, started_at DESC)
    WHERE outcome = 'failed';
`

const migration002Down = `
DROP INDEX IF EXISTS idx_refresh_runs_failures;
`
