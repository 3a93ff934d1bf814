// Package job runs the full capture pipeline: partition the upload by flow,
// analyze every slice, merge the per-worker logs and record the outcome.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/manifest"
	"github.com/zeekshard/zeekshard/internal/merge"
	"github.com/zeekshard/zeekshard/internal/observability"
	"github.com/zeekshard/zeekshard/internal/partition"
	"github.com/zeekshard/zeekshard/internal/runner"
	"github.com/zeekshard/zeekshard/internal/storage"
	"github.com/zeekshard/zeekshard/internal/viewer"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// IDLength is the number of hex characters in a job id.
const IDLength = 12

// Request is one pipeline run.
type Request struct {
	// Capture is the raw classic pcap upload
	Capture []byte
	// Script is the analysis script text
	Script string
	// Workers is the slice count; zero uses the configured default
	Workers int
}

// Outcome is the result of a run as reported to callers.
type Outcome struct {
	JobID  string          `json:"job_id,omitempty"`
	OK     bool            `json:"ok"`
	Logs   []string        `json:"logs,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Report *merge.Report   `json:"-"`
	Stats  partition.Stats `json:"-"`
}

// Options configures a Service.
type Options struct {
	// JobsDir holds one directory per job
	JobsDir string
	// MaxUploadBytes rejects larger captures; zero disables the check
	MaxUploadBytes int64
	// DefaultWorkers is used when a request leaves Workers at zero
	DefaultWorkers int
	FailurePolicy  merge.Policy
	Runner         runner.Options
}

// Deps are the collaborators of a Service. Catalog, Schemas, Archiver and
// Metrics are optional.
type Deps struct {
	Partitioner *partition.Partitioner
	Executor    runner.Executor
	Catalog     manifest.Catalog
	Schemas     *manifest.LogSchemaRegistry
	Archiver    *storage.Archiver
	Metrics     *observability.Metrics
}

// Service runs jobs. It is safe for concurrent use; jobs share no state
// besides the catalog.
type Service struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
	newID  func() string
}

// NewService creates a job service.
func NewService(opts Options, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Partitioner == nil {
		deps.Partitioner = partition.NewPartitioner(partition.Options{})
	}
	if opts.DefaultWorkers == 0 {
		opts.DefaultWorkers = 7
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = merge.PolicyFail
	}
	return &Service{opts: opts, deps: deps, logger: logger, newID: NewID}
}

// NewID returns a fresh job id: the first IDLength hex digits of a random UUID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// Layout returns the directory layout of a job.
func (s *Service) Layout(jobID string) types.JobLayout {
	return types.NewJobLayout(s.opts.JobsDir, jobID)
}

// Validate checks a request without running it.
func (s *Service) Validate(req Request) error {
	workers := req.Workers
	if workers == 0 {
		workers = s.opts.DefaultWorkers
	}
	if err := partition.ValidateWorkers(workers); err != nil {
		return err
	}
	if len(req.Capture) == 0 {
		return shardErrors.NewConfigError(shardErrors.CodeUnsupportedCapture, "empty capture upload")
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(req.Capture)) > s.opts.MaxUploadBytes {
		return shardErrors.NewConfigError(shardErrors.CodeUploadTooLarge,
			fmt.Sprintf("capture is %d bytes, limit is %d", len(req.Capture), s.opts.MaxUploadBytes))
	}
	return nil
}

// Run executes the pipeline for req. Requests that fail validation return
// an error and no job. Once a job exists the returned Outcome carries its id,
// and a failed job also returns the error that stopped it.
func (s *Service) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := s.Validate(req); err != nil {
		return &Outcome{Error: err.Error(), Code: shardErrors.GetCode(err)}, err
	}
	if req.Workers == 0 {
		req.Workers = s.opts.DefaultWorkers
	}

	id := s.newID()
	layout := s.Layout(id)
	if abs, err := filepath.Abs(layout.Dir); err == nil {
		layout.Dir = abs
	}
	if err := s.prepare(layout, req); err != nil {
		return &Outcome{JobID: id, Error: err.Error()}, err
	}

	runLog, err := os.OpenFile(layout.RunnerLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &Outcome{JobID: id, Error: err.Error()}, fmt.Errorf("job %s: open runner log: %w", id, err)
	}
	defer runLog.Close()
	jobLogger := slog.New(slog.NewTextHandler(runLog, &slog.HandlerOptions{Level: slog.LevelDebug})).With("job_id", id)

	record := &manifest.JobRecord{
		JobID:         id,
		Workers:       req.Workers,
		CaptureBytes:  int64(len(req.Capture)),
		FailurePolicy: string(s.opts.FailurePolicy),
	}
	if s.deps.Catalog != nil {
		if err := s.deps.Catalog.CreateJob(ctx, record); err != nil {
			return &Outcome{JobID: id, Error: err.Error()}, err
		}
	}

	start := time.Now()
	s.logger.Info("job started", "job_id", id, "workers", req.Workers, "capture_bytes", len(req.Capture))
	jobLogger.Info("job started", "workers", req.Workers, "capture_bytes", len(req.Capture))

	out := &Outcome{JobID: id}
	workers, logs, runErr := s.execute(ctx, layout, req, out, jobLogger)

	record.Packets = int64(out.Stats.Packets)
	record.Fallbacks = int64(out.Stats.Fallbacks)
	if runErr == nil {
		record.Status = manifest.JobSucceeded
		out.OK = true
		if s.deps.Archiver != nil {
			if path, err := s.deps.Archiver.ArchiveJob(ctx, id, layout.Dir); err != nil {
				s.logger.Warn("job archive failed", "job_id", id, "error", err)
			} else {
				record.ArchivePath = &path
			}
		}
	} else {
		record.Status = manifest.JobFailed
		msg := runErr.Error()
		record.Error = &msg
		out.Error = msg
		out.Code = shardErrors.GetCode(runErr)
	}

	if s.deps.Catalog != nil {
		// The job's own context may be canceled; the outcome must still be recorded.
		if err := s.deps.Catalog.FinishJob(context.WithoutCancel(ctx), record, workers, logs); err != nil {
			s.logger.Error("failed to record job", "job_id", id, "error", err)
		}
	}
	if m := s.deps.Metrics; m != nil {
		m.JobsTotal.WithLabelValues(record.Status).Inc()
		m.ObserveStage("job", start)
	}

	if runErr != nil {
		s.logger.Warn("job failed", "job_id", id, "duration", time.Since(start), "error", runErr)
		jobLogger.Error("job failed", "error", runErr)
		return out, runErr
	}
	s.logger.Info("job finished", "job_id", id, "duration", time.Since(start), "logs", len(out.Logs))
	jobLogger.Info("job finished", "logs", strings.Join(out.Logs, ","))
	return out, nil
}

// prepare creates the job directory with the capture and the script.
func (s *Service) prepare(layout types.JobLayout, req Request) error {
	if err := os.MkdirAll(layout.Dir, 0755); err != nil {
		return fmt.Errorf("job: create %s: %w", layout.Dir, err)
	}
	if err := os.WriteFile(layout.Input(), req.Capture, 0644); err != nil {
		return fmt.Errorf("job: write capture: %w", err)
	}
	if err := os.WriteFile(layout.Script(), []byte(req.Script), 0644); err != nil {
		return fmt.Errorf("job: write script: %w", err)
	}
	return nil
}

// execute runs partition, engine and merge, filling out as it goes.
func (s *Service) execute(ctx context.Context, layout types.JobLayout, req Request, out *Outcome, logger *slog.Logger) ([]manifest.WorkerRecord, []manifest.LogRecord, error) {
	m := s.deps.Metrics

	stageStart := time.Now()
	res, err := s.deps.Partitioner.Partition(ctx, req.Capture, req.Workers)
	if err != nil {
		return nil, nil, err
	}
	out.Stats = res.Stats
	if err := partition.WriteDir(res, layout.Slices()); err != nil {
		return nil, nil, err
	}
	if m != nil {
		m.ObserveStage("partition", stageStart)
		m.PacketsTotal.Add(float64(res.Stats.Packets))
		m.FallbacksTotal.Add(float64(res.Stats.Fallbacks))
	}
	logger.Info("capture partitioned", "packets", res.Stats.Packets, "fallbacks", res.Stats.Fallbacks,
		"per_worker", fmt.Sprint(res.Stats.PerWorker))

	if s.deps.Executor == nil {
		return nil, nil, shardErrors.NewInternalError("no engine executor configured", nil)
	}
	tasks := make([]runner.Task, req.Workers)
	for w := 1; w <= req.Workers; w++ {
		dir := layout.Worker(w)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("job: create worker dir: %w", err)
		}
		tasks[w-1] = runner.Task{
			Worker: w,
			Slice:  filepath.Join(layout.Slices(), partition.SliceName(w)),
			Script: layout.Script(),
			Dir:    dir,
		}
	}

	stageStart = time.Now()
	results := runner.New(s.deps.Executor, s.opts.Runner, logger).Run(ctx, tasks)
	if m != nil {
		m.ObserveStage("engine", stageStart)
	}

	workers := make([]manifest.WorkerRecord, len(results))
	for i, r := range results {
		workers[i] = manifest.WorkerRecord{
			Worker:   r.Worker,
			Status:   string(r.Status),
			Packets:  int64(res.Stats.PerWorker[r.Worker-1]),
			Duration: r.Duration,
		}
		if r.Err != nil {
			msg := r.Err.Error()
			workers[i].Error = &msg
		}
		if m != nil {
			m.WorkerRunsTotal.WithLabelValues(string(r.Status)).Inc()
		}
	}

	stageStart = time.Now()
	merged, report, err := merge.MergeResults(results, s.opts.FailurePolicy)
	out.Report = report
	if err != nil {
		return workers, nil, err
	}
	merge.AddWorkerMap(merged, res.WorkerMap, report)
	for _, w := range report.Warnings {
		logger.Warn("merge warning", "log", w.Log, "worker", w.Worker, "error", w.Err)
	}

	if err := merge.WriteDir(merged, layout.Merged()); err != nil {
		return workers, nil, fmt.Errorf("job: write merged logs: %w", err)
	}
	if m != nil {
		m.ObserveStage("merge", stageStart)
	}

	var logs []manifest.LogRecord
	for _, name := range merge.Names(merged) {
		ml := merged[name]
		rec := manifest.LogRecord{
			Name: name,
			Rows: int64(len(ml.Rows)),
			Path: filepath.Join(types.MergedDir, name+".log"),
		}
		if s.deps.Schemas != nil {
			v, err := s.deps.Schemas.Register(ctx, name, ml.Fields, ml.Types)
			if err != nil {
				logger.Warn("log schema not recorded", "log", name, "error", err)
			} else {
				rec.SchemaVersion = v
			}
		}
		if m != nil {
			m.MergedRowsTotal.WithLabelValues(name).Add(float64(len(ml.Rows)))
		}
		logs = append(logs, rec)
		out.Logs = append(out.Logs, name+".log")
	}
	return workers, logs, nil
}

// RunnerLog returns the runner log of a job.
func (s *Service) RunnerLog(jobID string) ([]byte, error) {
	if !viewer.ValidJobID(jobID) {
		return nil, shardErrors.NewManifestError(shardErrors.CodeJobNotFound,
			fmt.Sprintf("job %q not found", jobID), nil)
	}
	data, err := os.ReadFile(s.Layout(jobID).RunnerLog())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shardErrors.NewManifestError(shardErrors.CodeJobNotFound,
				fmt.Sprintf("job %q not found", jobID), nil)
		}
		return nil, err
	}
	return data, nil
}

// Expire removes finished jobs older than ttl from the catalog, the jobs
// directory and the archive.
func (s *Service) Expire(ctx context.Context, ttl time.Duration) ([]string, error) {
	if s.deps.Catalog == nil || ttl <= 0 {
		return nil, nil
	}
	ids, err := s.deps.Catalog.DeleteExpired(ctx, ttl)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := os.RemoveAll(s.Layout(id).Dir); err != nil {
			s.logger.Warn("failed to remove job directory", "job_id", id, "error", err)
		}
		if s.deps.Archiver != nil {
			if err := s.deps.Archiver.Delete(ctx, id); err != nil {
				s.logger.Warn("failed to delete job archive", "job_id", id, "error", err)
			}
		}
	}
	return ids, nil
}
