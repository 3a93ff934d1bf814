package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

// fakeExecutor writes one log per task and can fail or hang selected workers.
type fakeExecutor struct {
	fail    map[int]bool
	hang    map[int]bool
	delay   time.Duration
	active  int32
	maxSeen int32
}

func (f *fakeExecutor) Execute(ctx context.Context, task Task) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	if f.hang[task.Worker] {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	content := fmt.Sprintf("#fields\tts\tworker\n1.0\t%d\n", task.Worker)
	if err := os.WriteFile(filepath.Join(task.Dir, "conn.log"), []byte(content), 0644); err != nil {
		return err
	}
	if f.fail[task.Worker] {
		return fmt.Errorf("exit status 1")
	}
	return nil
}

func makeTasks(t *testing.T, n int) []Task {
	t.Helper()
	root := t.TempDir()
	tasks := make([]Task, n)
	for i := range tasks {
		dir := filepath.Join(root, fmt.Sprintf("worker%d", i+1))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		tasks[i] = Task{Worker: i + 1, Dir: dir, Slice: "slice.pcap", Script: "user.zeek"}
	}
	return tasks
}

func TestRunAllSucceed(t *testing.T) {
	tasks := makeTasks(t, 3)
	r := New(&fakeExecutor{}, Options{}, nil)

	results := r.Run(context.Background(), tasks)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Worker != i+1 {
			t.Errorf("result %d has worker %d", i, res.Worker)
		}
		if res.Status != StatusSucceeded || res.Err != nil {
			t.Errorf("worker %d: status=%s err=%v", res.Worker, res.Status, res.Err)
		}
		if _, err := os.Stat(filepath.Join(res.LogDir, "conn.log")); err != nil {
			t.Errorf("worker %d: log not collected: %v", res.Worker, err)
		}
		if _, err := os.Stat(filepath.Join(res.Dir, "conn.log")); !os.IsNotExist(err) {
			t.Errorf("worker %d: log left in working directory", res.Worker)
		}
	}
}

func TestRunFailureIsIsolated(t *testing.T) {
	tasks := makeTasks(t, 3)
	r := New(&fakeExecutor{fail: map[int]bool{2: true}}, Options{}, nil)

	results := r.Run(context.Background(), tasks)
	if results[0].Status != StatusSucceeded || results[2].Status != StatusSucceeded {
		t.Error("healthy workers should succeed")
	}
	if results[1].Status != StatusFailed {
		t.Fatalf("worker 2 should fail, got %s", results[1].Status)
	}
	if shardErrors.GetCode(results[1].Err) != shardErrors.CodeEngineFailed {
		t.Errorf("expected ENGINE_FAILED, got %v", results[1].Err)
	}
	if _, err := os.Stat(filepath.Join(results[1].LogDir, "conn.log")); err != nil {
		t.Error("partial logs of a failed worker should be kept")
	}
	if got := Failed(results); len(got) != 1 || got[0].Worker != 2 {
		t.Errorf("Failed returned %+v", got)
	}
}

func TestRunTimeout(t *testing.T) {
	tasks := makeTasks(t, 2)
	r := New(&fakeExecutor{hang: map[int]bool{1: true}}, Options{Timeout: 50 * time.Millisecond}, nil)

	results := r.Run(context.Background(), tasks)
	if results[0].Status != StatusFailed {
		t.Fatalf("hung worker should fail, got %s", results[0].Status)
	}
	if !errors.Is(results[0].Err, shardErrors.NewEngineError(shardErrors.CodeEngineTimeout, "", nil)) {
		t.Errorf("expected ENGINE_TIMEOUT, got %v", results[0].Err)
	}
	if shardErrors.IsRetryable(results[0].Err) {
		t.Error("timeouts must not be retryable")
	}
	if results[1].Status != StatusSucceeded {
		t.Errorf("other worker should succeed, got %s", results[1].Status)
	}
}

func TestRunMaxParallel(t *testing.T) {
	tasks := makeTasks(t, 6)
	exec := &fakeExecutor{delay: 20 * time.Millisecond}
	r := New(exec, Options{MaxParallel: 2}, nil)

	for _, res := range r.Run(context.Background(), tasks) {
		if !res.Status.Terminal() {
			t.Errorf("worker %d not terminal: %s", res.Worker, res.Status)
		}
	}
	if got := atomic.LoadInt32(&exec.maxSeen); got > 2 {
		t.Errorf("expected at most 2 concurrent executions, saw %d", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := map[Status]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusSucceeded: true,
		StatusFailed:    true,
	}
	for s, want := range tests {
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", s, !want)
		}
	}
}

func TestZeekExecutor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}

	bin := filepath.Join(t.TempDir(), "zeek")
	script := "#!/bin/sh\n" +
		"echo \"args: $*\"\n" +
		"echo warning >&2\n" +
		"printf '#fields\\tts\\n1.0\\n' > conn.log\n" +
		"[ \"$ZEEKSHARD_FAIL\" = 1 ] && exit 3\n" +
		"exit 0\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	task := makeTasks(t, 1)[0]
	r := New(&ZeekExecutor{Path: bin}, Options{Timeout: 10 * time.Second}, nil)
	res := r.Run(context.Background(), []Task{task})[0]
	if res.Status != StatusSucceeded {
		t.Fatalf("expected success, got %s: %v", res.Status, res.Err)
	}

	stdout, err := os.ReadFile(filepath.Join(task.Dir, StdoutFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(stdout) == 0 {
		t.Error("stdout should be saved")
	}
	stderr, _ := os.ReadFile(filepath.Join(task.Dir, StderrFile))
	if string(stderr) != "warning\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(task.LogDir(), "conn.log")); err != nil {
		t.Errorf("conn.log not collected: %v", err)
	}

	t.Setenv("ZEEKSHARD_FAIL", "1")
	res = r.Run(context.Background(), []Task{task})[0]
	if res.Status != StatusFailed {
		t.Fatalf("non-zero exit should fail the worker, got %s", res.Status)
	}
}
