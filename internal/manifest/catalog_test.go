package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func strPtr(s string) *string { return &s }

func TestCatalog_CreateAndGetJob(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	job := &JobRecord{JobID: "a1b2c3d4e5f6", Workers: 4, CaptureBytes: 2048}
	if err := catalog.CreateJob(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	record, err := catalog.GetJob(ctx, "a1b2c3d4e5f6")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if record.Status != JobRunning {
		t.Errorf("status mismatch: got %s, want %s", record.Status, JobRunning)
	}
	if record.Workers != 4 || record.CaptureBytes != 2048 {
		t.Errorf("unexpected record %+v", record)
	}
	if record.FailurePolicy != "fail" {
		t.Errorf("failure policy should default to fail, got %s", record.FailurePolicy)
	}
	if record.FinishedAt != nil {
		t.Error("running job should not have a finish time")
	}
}

func TestCatalog_GetJobNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	_, err := catalog.GetJob(context.Background(), "missing")
	if shardErrors.GetCode(err) != shardErrors.CodeJobNotFound {
		t.Fatalf("expected JOB_NOT_FOUND, got %v", err)
	}
}

func TestCatalog_FinishJob(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	job := &JobRecord{JobID: "job1", Workers: 2, CaptureBytes: 100}
	if err := catalog.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	job.Status = JobSucceeded
	job.Packets = 10
	job.Fallbacks = 1
	job.ArchivePath = strPtr("jobs/job1.tar.sz")
	workers := []WorkerRecord{
		{Worker: 2, Status: "succeeded", Packets: 4, Duration: 1500 * time.Millisecond},
		{Worker: 1, Status: "succeeded", Packets: 6, Duration: time.Second},
	}
	logs := []LogRecord{
		{Name: "dns", Rows: 3, Path: "merged/dns.log"},
		{Name: "conn", Rows: 7, SchemaVersion: 2, Path: "merged/conn.log"},
	}
	if err := catalog.FinishJob(ctx, job, workers, logs); err != nil {
		t.Fatalf("failed to finish job: %v", err)
	}

	record, err := catalog.GetJob(ctx, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if record.Status != JobSucceeded || record.Packets != 10 || record.Fallbacks != 1 {
		t.Errorf("unexpected record %+v", record)
	}
	if record.FinishedAt == nil || record.ArchivePath == nil || *record.ArchivePath != "jobs/job1.tar.sz" {
		t.Error("finish time and archive path should be recorded")
	}

	gotWorkers, err := catalog.ListWorkers(ctx, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotWorkers) != 2 || gotWorkers[0].Worker != 1 || gotWorkers[1].Duration != 1500*time.Millisecond {
		t.Errorf("unexpected workers %+v", gotWorkers)
	}

	gotLogs, err := catalog.ListLogs(ctx, "job1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotLogs) != 2 || gotLogs[0].Name != "conn" || gotLogs[0].SchemaVersion != 2 {
		t.Errorf("unexpected logs %+v", gotLogs)
	}
	if gotLogs[1].SchemaVersion != 1 {
		t.Errorf("schema version should default to 1, got %d", gotLogs[1].SchemaVersion)
	}
}

func TestCatalog_FinishUnknownJob(t *testing.T) {
	catalog := newTestCatalog(t)

	err := catalog.FinishJob(context.Background(), &JobRecord{JobID: "ghost", Status: JobFailed}, nil, nil)
	if !errors.Is(err, shardErrors.NewManifestError(shardErrors.CodeJobNotFound, "", nil)) {
		t.Fatalf("expected JOB_NOT_FOUND, got %v", err)
	}
}

func TestCatalog_ListJobs(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		job := &JobRecord{JobID: id, Workers: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := catalog.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := catalog.ListJobs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 || jobs[0].JobID != "new" || jobs[1].JobID != "mid" {
		t.Errorf("unexpected job order: %v", jobIDs(jobs))
	}

	all, err := catalog.ListJobs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 jobs, got %d", len(all))
	}
}

func TestCatalog_DeleteExpired(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	finished := &JobRecord{JobID: "done", Workers: 1, CreatedAt: old}
	running := &JobRecord{JobID: "busy", Workers: 1, CreatedAt: old}
	fresh := &JobRecord{JobID: "fresh", Workers: 1}
	for _, j := range []*JobRecord{finished, running, fresh} {
		if err := catalog.CreateJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	finished.Status = JobFailed
	finished.Error = strPtr("worker 1 failed")
	if err := catalog.FinishJob(ctx, finished, []WorkerRecord{{Worker: 1, Status: "failed"}}, nil); err != nil {
		t.Fatal(err)
	}

	expired, err := catalog.DeleteExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0] != "done" {
		t.Fatalf("expected only the finished job to expire, got %v", expired)
	}
	if _, err := catalog.GetJob(ctx, "busy"); err != nil {
		t.Error("running job should survive expiry")
	}
	workers, _ := catalog.ListWorkers(ctx, "done")
	if len(workers) != 0 {
		t.Error("worker rows of expired job should be removed")
	}
}

func jobIDs(jobs []*JobRecord) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}
