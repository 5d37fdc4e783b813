package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
)

// Run status values recorded in the catalog.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Catalog records pipeline runs in runs.db.
type Catalog interface {
	// BeginRun registers a new run and returns its generated ID.
	BeginRun(ctx context.Context, configFingerprint string) (string, error)

	// CompleteRun marks a run as successful and stores its result counters.
	CompleteRun(ctx context.Context, runID string, result *RunResult) error

	// FailRun marks a run as failed with the given error message.
	FailRun(ctx context.Context, runID string, cause error) error

	// RecordRejections stores per-stream rejection counters for a run.
	RecordRejections(ctx context.Context, runID, stream string, counts map[string]int) error

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// GetRejections returns the rejection counters for a run keyed by
	// "stream/reason".
	GetRejections(ctx context.Context, runID string) (map[string]int, error)

	// Close closes the catalog database connections.
	Close() error
}

// RunResult carries the counters stored when a run completes.
type RunResult struct {
	OutputPath      string
	OutputSHA256    string
	RowCount        int64
	UserCount       int64
	FeedbackMatched int64
	FeedbackAbsent  int64
	DoseMatched     int64
	DoseAbsent      int64
}

// RunRecord represents a run row in the catalog.
type RunRecord struct {
	RunID             string
	Status            string
	ConfigFingerprint string
	OutputPath        string
	OutputSHA256      string
	RowCount          int64
	UserCount         int64
	FeedbackMatched   int64
	FeedbackAbsent    int64
	DoseMatched       int64
	DoseAbsent        int64
	ErrorMessage      string
	StartedAt         time.Time
	FinishedAt        *time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
}

// NewCatalog creates a new SQLite-based run catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
	}

	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	// Read connection pool opened after the schema exists, so a fresh
	// database file is valid before the read-only handle touches it.
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun registers a new run and returns its generated ID.
func (c *SQLiteCatalog) BeginRun(ctx context.Context, configFingerprint string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	runID := uuid.New().String()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, config_fingerprint, started_at) VALUES (?, ?, ?, ?)`,
		runID, StatusRunning, configFingerprint, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("manifest: failed to insert run: %w", err)
	}
	return runID, nil
}

// CompleteRun marks a run as successful and stores its result counters.
func (c *SQLiteCatalog) CompleteRun(ctx context.Context, runID string, result *RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET
			status = ?,
			output_path = ?,
			output_sha256 = ?,
			row_count = ?,
			user_count = ?,
			feedback_matched = ?,
			feedback_absent = ?,
			dose_matched = ?,
			dose_absent = ?,
			finished_at = ?
		WHERE run_id = ?`,
		StatusSuccess,
		result.OutputPath, result.OutputSHA256,
		result.RowCount, result.UserCount,
		result.FeedbackMatched, result.FeedbackAbsent,
		result.DoseMatched, result.DoseAbsent,
		time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to complete run: %w", err)
	}
	return c.requireRowUpdated(res, runID)
}

// FailRun marks a run as failed with the given error message.
func (c *SQLiteCatalog) FailRun(ctx context.Context, runID string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE run_id = ?`,
		StatusFailed, msg, time.Now().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to mark run failed: %w", err)
	}
	return c.requireRowUpdated(res, runID)
}

func (c *SQLiteCatalog) requireRowUpdated(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("manifest: failed to read affected rows: %w", err)
	}
	if n == 0 {
		return pipeerrors.NewManifestError(pipeerrors.CodeRunNotFound,
			fmt.Sprintf("run %s not found", runID), nil)
	}
	return nil
}

// RecordRejections stores per-stream rejection counters for a run.
func (c *SQLiteCatalog) RecordRejections(ctx context.Context, runID, stream string, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for reason, count := range counts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rejections (run_id, stream, reason, count) VALUES (?, ?, ?, ?)
			 ON CONFLICT(run_id, stream, reason) DO UPDATE SET count = count + excluded.count`,
			runID, stream, reason, count,
		)
		if err != nil {
			return fmt.Errorf("manifest: failed to insert rejection counter: %w", err)
		}
	}
	return tx.Commit()
}

const runColumns = `run_id, status, config_fingerprint,
	COALESCE(output_path, ''), COALESCE(output_sha256, ''),
	row_count, user_count,
	feedback_matched, feedback_absent, dose_matched, dose_absent,
	COALESCE(error_message, ''), started_at, finished_at`

// GetRun retrieves a single run by ID.
func (c *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)

	record, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, pipeerrors.NewManifestError(pipeerrors.CodeRunNotFound,
			fmt.Sprintf("run %s not found", runID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query run: %w", err)
	}
	return record, nil
}

// ListRuns returns the most recent runs, newest first.
func (c *SQLiteCatalog) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan run: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetRejections returns the rejection counters for a run keyed by "stream/reason".
func (c *SQLiteCatalog) GetRejections(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT stream, reason, count FROM rejections WHERE run_id = ? ORDER BY stream, reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query rejections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var stream, reason string
		var count int
		if err := rows.Scan(&stream, &reason, &count); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan rejection: %w", err)
		}
		counts[stream+"/"+reason] = count
	}
	return counts, rows.Err()
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&record.RunID, &record.Status, &record.ConfigFingerprint,
		&record.OutputPath, &record.OutputSHA256,
		&record.RowCount, &record.UserCount,
		&record.FeedbackMatched, &record.FeedbackAbsent,
		&record.DoseMatched, &record.DoseAbsent,
		&record.ErrorMessage, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	record.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		record.FinishedAt = &t
	}
	return &record, nil
}
