// Package manifest provides the job catalog that records every pipeline run.
package manifest

// Schema contains the SQL schema definitions for the job catalog (catalog.db).
// The catalog is a SQLite database and the source of truth for which jobs
// exist, how their workers ended and which merged logs they produced.

// CreateJobsTableSQL creates the core jobs table.
const CreateJobsTableSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    workers INTEGER NOT NULL,
    capture_bytes INTEGER NOT NULL,
    packets INTEGER NOT NULL DEFAULT 0,
    fallbacks INTEGER NOT NULL DEFAULT 0,
    failure_policy TEXT NOT NULL DEFAULT 'fail',
    error TEXT,
    archive_path TEXT,
    created_at INTEGER NOT NULL,
    finished_at INTEGER
)`

// CreateJobWorkersTableSQL creates the per-worker outcome table.
const CreateJobWorkersTableSQL = `
CREATE TABLE IF NOT EXISTS job_workers (
    job_id TEXT NOT NULL,
    worker INTEGER NOT NULL,
    status TEXT NOT NULL,
    packets INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT,
    PRIMARY KEY (job_id, worker),
    FOREIGN KEY (job_id) REFERENCES jobs(job_id)
)`

// CreateJobLogsTableSQL creates the merged log table.
const CreateJobLogsTableSQL = `
CREATE TABLE IF NOT EXISTS job_logs (
    job_id TEXT NOT NULL,
    name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    path TEXT NOT NULL,
    PRIMARY KEY (job_id, name),
    FOREIGN KEY (job_id) REFERENCES jobs(job_id)
)`

// CreateLogSchemasTableSQL creates the log schema table.
// Each row is one observed field layout for a log name; the version
// increments whenever a job produces a layout different from the last one.
const CreateLogSchemasTableSQL = `
CREATE TABLE IF NOT EXISTS log_schemas (
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    fields_json TEXT NOT NULL,
    types_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (name, version)
)`

// CreateIndexesSQL creates indexes for listing and retention.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateJobsTableSQL,
		CreateJobWorkersTableSQL,
		CreateJobLogsTableSQL,
		CreateLogSchemasTableSQL,
	}
	statements = append(statements, CreateIndexesSQL...)
	return statements
}
