package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

// Job statuses stored in the catalog.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Catalog records jobs, their workers and their merged logs.
type Catalog interface {
	// CreateJob inserts a job in the running state.
	CreateJob(ctx context.Context, job *JobRecord) error

	// FinishJob records the terminal state of a job together with its
	// worker outcomes and merged logs in one transaction.
	FinishJob(ctx context.Context, job *JobRecord, workers []WorkerRecord, logs []LogRecord) error

	// GetJob retrieves a single job by ID.
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)

	// ListJobs returns the most recent jobs first.
	ListJobs(ctx context.Context, limit int) ([]*JobRecord, error)

	// ListWorkers returns the worker outcomes of a job ordered by worker.
	ListWorkers(ctx context.Context, jobID string) ([]WorkerRecord, error)

	// ListLogs returns the merged logs of a job ordered by name.
	ListLogs(ctx context.Context, jobID string) ([]LogRecord, error)

	// DeleteExpired removes finished jobs older than ttl.
	DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error)

	// Close closes the catalog database connection.
	Close() error
}

// JobRecord represents a job in the catalog.
type JobRecord struct {
	JobID         string
	Status        string
	Workers       int
	CaptureBytes  int64
	Packets       int64
	Fallbacks     int64
	FailurePolicy string
	Error         *string
	ArchivePath   *string
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// WorkerRecord is the outcome of one worker of a job.
type WorkerRecord struct {
	Worker   int
	Status   string
	Packets  int64
	Duration time.Duration
	Error    *string
}

// LogRecord is one merged log of a job.
type LogRecord struct {
	Name          string
	Rows          int64
	SchemaVersion int
	Path          string
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
	logger *slog.Logger
}

// NewCatalog creates a new SQLite-based catalog.
func NewCatalog(dbPath string, logger *slog.Logger) (*SQLiteCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	catalog := &SQLiteCatalog{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
		logger: logger,
	}

	if err := catalog.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

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

// CreateJob inserts a job in the running state.
func (c *SQLiteCatalog) CreateJob(ctx context.Context, job *JobRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if job.Status == "" {
		job.Status = JobRunning
	}
	if job.FailurePolicy == "" {
		job.FailurePolicy = "fail"
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, status, workers, capture_bytes, packets, fallbacks,
			failure_policy, error, archive_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.Status, job.Workers, job.CaptureBytes, job.Packets, job.Fallbacks,
		job.FailurePolicy, job.Error, job.ArchivePath, job.CreatedAt.Unix(),
	)
	if err != nil {
		return shardErrors.NewManifestError(shardErrors.CodeWriteFailed, "insert job "+job.JobID, err)
	}
	return nil
}

// FinishJob records the terminal state of a job.
func (c *SQLiteCatalog) FinishJob(ctx context.Context, job *JobRecord, workers []WorkerRecord, logs []LogRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	finished := time.Now()
	if job.FinishedAt != nil {
		finished = *job.FinishedAt
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, packets = ?, fallbacks = ?, error = ?,
			archive_path = ?, finished_at = ?
		WHERE job_id = ?`,
		job.Status, job.Packets, job.Fallbacks, job.Error, job.ArchivePath, finished.Unix(), job.JobID,
	)
	if err != nil {
		return shardErrors.NewManifestError(shardErrors.CodeWriteFailed, "update job "+job.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shardErrors.NewManifestError(shardErrors.CodeJobNotFound, "job "+job.JobID+" not found", nil)
	}

	for _, w := range workers {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO job_workers (job_id, worker, status, packets, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			job.JobID, w.Worker, w.Status, w.Packets, w.Duration.Milliseconds(), w.Error,
		)
		if err != nil {
			return shardErrors.NewManifestError(shardErrors.CodeWriteFailed,
				fmt.Sprintf("insert worker %d of job %s", w.Worker, job.JobID), err)
		}
	}

	for _, l := range logs {
		version := l.SchemaVersion
		if version == 0 {
			version = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO job_logs (job_id, name, row_count, schema_version, path)
			VALUES (?, ?, ?, ?, ?)`,
			job.JobID, l.Name, l.Rows, version, l.Path,
		)
		if err != nil {
			return shardErrors.NewManifestError(shardErrors.CodeWriteFailed,
				fmt.Sprintf("insert log %s of job %s", l.Name, job.JobID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: failed to commit transaction: %w", err)
	}

	job.FinishedAt = &finished
	c.logger.Debug("job recorded", "job_id", job.JobID, "status", job.Status,
		"workers", len(workers), "logs", len(logs))
	return nil
}

const selectJobSQL = `
	SELECT job_id, status, workers, capture_bytes, packets, fallbacks,
		failure_policy, error, archive_path, created_at, finished_at
	FROM jobs`

// GetJob retrieves a single job by ID.
func (c *SQLiteCatalog) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := c.readDB.QueryRowContext(ctx, selectJobSQL+" WHERE job_id = ?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, shardErrors.NewManifestError(shardErrors.CodeJobNotFound, "job "+jobID+" not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to scan job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs first. A limit below 1 returns all jobs.
func (c *SQLiteCatalog) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	query := selectJobSQL + " ORDER BY created_at DESC, job_id"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var job JobRecord
	var createdAtUnix int64
	var finishedAtUnix *int64

	err := row.Scan(
		&job.JobID, &job.Status, &job.Workers, &job.CaptureBytes, &job.Packets, &job.Fallbacks,
		&job.FailurePolicy, &job.Error, &job.ArchivePath, &createdAtUnix, &finishedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	job.CreatedAt = time.Unix(createdAtUnix, 0)
	if finishedAtUnix != nil {
		t := time.Unix(*finishedAtUnix, 0)
		job.FinishedAt = &t
	}
	return &job, nil
}

// ListWorkers returns the worker outcomes of a job ordered by worker.
func (c *SQLiteCatalog) ListWorkers(ctx context.Context, jobID string) ([]WorkerRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT worker, status, packets, duration_ms, error
		FROM job_workers WHERE job_id = ? ORDER BY worker`, jobID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []WorkerRecord
	for rows.Next() {
		var w WorkerRecord
		var durationMs int64
		if err := rows.Scan(&w.Worker, &w.Status, &w.Packets, &durationMs, &w.Error); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan worker: %w", err)
		}
		w.Duration = time.Duration(durationMs) * time.Millisecond
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating workers: %w", err)
	}
	return workers, nil
}

// ListLogs returns the merged logs of a job ordered by name.
func (c *SQLiteCatalog) ListLogs(ctx context.Context, jobID string) ([]LogRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT name, row_count, schema_version, path
		FROM job_logs WHERE job_id = ? ORDER BY name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []LogRecord
	for rows.Next() {
		var l LogRecord
		if err := rows.Scan(&l.Name, &l.Rows, &l.SchemaVersion, &l.Path); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("manifest: error iterating logs: %w", err)
	}
	return logs, nil
}

// DeleteExpired removes finished jobs created before now minus ttl.
// Running jobs are never removed.
func (c *SQLiteCatalog) DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-ttl).Unix()

	rows, err := c.db.QueryContext(ctx,
		`SELECT job_id FROM jobs WHERE status != ? AND created_at < ?`,
		JobRunning, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to query expired jobs: %w", err)
	}

	var expiredIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("manifest: failed to scan job ID: %w", err)
		}
		expiredIDs = append(expiredIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("manifest: error iterating expired jobs: %w", err)
	}
	rows.Close()

	for _, id := range expiredIDs {
		for _, table := range []string{"job_logs", "job_workers", "jobs"} {
			if _, err := c.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE job_id = ?", id); err != nil {
				return nil, fmt.Errorf("manifest: failed to delete job %s from %s: %w", id, table, err)
			}
		}
	}

	if len(expiredIDs) > 0 {
		c.logger.Info("expired jobs removed", "count", len(expiredIDs))
	}
	return expiredIDs, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
