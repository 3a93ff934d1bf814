// Package runner executes the analysis engine once per capture slice.
// Executions are independent: no state is shared between workers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

// LogDirName is the directory inside a worker directory that receives its logs.
const LogDirName = "logs"

// Status is the lifecycle state of one worker execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Task describes one worker execution.
type Task struct {
	// Worker is the 1-based worker index
	Worker int
	// Slice is the capture file to analyze
	Slice string
	// Script is the analysis script passed to the engine
	Script string
	// Dir is the worker's working directory; it must exist
	Dir string
}

// LogDir returns the directory the task's logs are collected into.
func (t Task) LogDir() string {
	return filepath.Join(t.Dir, LogDirName)
}

// Result is the terminal outcome of one task.
type Result struct {
	Worker   int
	Status   Status
	Err      error
	Dir      string
	LogDir   string
	Duration time.Duration
}

// Executor runs the engine for one task inside task.Dir.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// Options bounds execution.
type Options struct {
	// Timeout bounds each execution; zero means no bound
	Timeout time.Duration
	// MaxParallel caps concurrent executions; zero or less means one per task
	MaxParallel int
}

// Runner fans tasks out to an Executor.
type Runner struct {
	exec   Executor
	opts   Options
	logger *slog.Logger
}

// New creates a runner.
func New(exec Executor, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{exec: exec, opts: opts, logger: logger}
}

// Run executes every task and returns one terminal Result per task, in task
// order. A failing task does not stop the others.
func (r *Runner) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = Result{Worker: t.Worker, Status: StatusPending, Dir: t.Dir, LogDir: t.LogDir()}
	}

	var g errgroup.Group
	if r.opts.MaxParallel > 0 {
		g.SetLimit(r.opts.MaxParallel)
	}
	for i := range tasks {
		g.Go(func() error {
			results[i] = r.runOne(ctx, tasks[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runOne(ctx context.Context, task Task) Result {
	res := Result{Worker: task.Worker, Status: StatusRunning, Dir: task.Dir, LogDir: task.LogDir()}

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := r.exec.Execute(runCtx, task)
	res.Duration = time.Since(start)

	// Logs are collected even after a failure so partial output stays inspectable.
	if cerr := CollectLogs(task.Dir, task.LogDir()); cerr != nil && err == nil {
		err = cerr
	}

	switch {
	case err == nil:
		res.Status = StatusSucceeded
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = StatusFailed
		res.Err = shardErrors.NewEngineError(shardErrors.CodeEngineTimeout,
			fmt.Sprintf("worker%d exceeded %s", task.Worker, r.opts.Timeout), err)
	default:
		res.Status = StatusFailed
		res.Err = shardErrors.NewEngineError(shardErrors.CodeEngineFailed,
			fmt.Sprintf("engine failed for worker%d", task.Worker), err)
	}

	if res.Err != nil {
		r.logger.Warn("worker failed", "worker", task.Worker, "duration", res.Duration, "error", res.Err)
	} else {
		r.logger.Info("worker finished", "worker", task.Worker, "duration", res.Duration)
	}
	return res
}

// CollectLogs moves every *.log file from dir into logDir.
func CollectLogs(dir, logDir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("runner: create log dir: %w", err)
	}
	for _, m := range matches {
		if err := os.Rename(m, filepath.Join(logDir, filepath.Base(m))); err != nil {
			return fmt.Errorf("runner: move %s: %w", filepath.Base(m), err)
		}
	}
	return nil
}

// Failed returns the results whose status is StatusFailed.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}
