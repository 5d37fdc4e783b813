// Package manifest provides the run catalog for tracking pipeline executions.
package manifest

// Schema contains the SQL schema definitions for the run catalog (runs.db).
// The run catalog is a SQLite database that records one row per pipeline run
// together with its rejection and match counters.

// CreateRunsTableSQL creates the core runs table.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    config_fingerprint TEXT NOT NULL,
    output_path TEXT,
    output_sha256 TEXT,
    row_count INTEGER NOT NULL DEFAULT 0,
    user_count INTEGER NOT NULL DEFAULT 0,
    feedback_matched INTEGER NOT NULL DEFAULT 0,
    feedback_absent INTEGER NOT NULL DEFAULT 0,
    dose_matched INTEGER NOT NULL DEFAULT 0,
    dose_absent INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
)`

// CreateRejectionsTableSQL creates the per-run rejection counters table.
// One row per (run, stream, reason) with the number of records dropped
// during normalization.
const CreateRejectionsTableSQL = `
CREATE TABLE IF NOT EXISTS rejections (
    run_id TEXT NOT NULL,
    stream TEXT NOT NULL,
    reason TEXT NOT NULL,
    count INTEGER NOT NULL,
    PRIMARY KEY (run_id, stream, reason),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateRunsIndexesSQL creates indexes for run listing and cleanup.
var CreateRunsIndexesSQL = []string{
	// Index for listing recent runs
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

	// Index for filtering by status
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
}

// AllSchemaSQL returns all schema statements in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateRunsTableSQL,
		CreateRejectionsTableSQL,
	}
	stmts = append(stmts, CreateRunsIndexesSQL...)
	return stmts
}
