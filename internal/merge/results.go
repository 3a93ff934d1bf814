package merge

import (
	"fmt"
	"strings"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/runner"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
)

// Policy decides what happens when some workers fail.
type Policy string

const (
	// PolicyFail fails the whole job when any worker fails.
	PolicyFail Policy = "fail"
	// PolicyPartial merges the workers that succeeded.
	PolicyPartial Policy = "partial"
)

// ParsePolicy parses a configured failure policy. Empty means PolicyFail.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicyPartial:
		return PolicyPartial, nil
	default:
		return "", shardErrors.NewConfigError(shardErrors.CodeInvalidConfig,
			fmt.Sprintf("unknown failure policy %q (want fail or partial)", s))
	}
}

// MergeResults merges the logs of finished workers. It refuses to run while
// any worker is not in a terminal state.
func MergeResults(results []runner.Result, policy Policy) (map[string]*MergedLog, *Report, error) {
	for _, r := range results {
		if !r.Status.Terminal() {
			return nil, nil, shardErrors.New(shardErrors.ErrCategoryInternal, shardErrors.CodeMergeBarrier,
				fmt.Sprintf("worker%d is %s; merge needs every worker finished", r.Worker, r.Status))
		}
	}

	failed := runner.Failed(results)
	var failedIDs []int
	for _, r := range failed {
		failedIDs = append(failedIDs, r.Worker)
	}

	if len(failed) > 0 && (policy != PolicyPartial || len(failed) == len(results)) {
		report := &Report{Workers: len(results), FailedWorkers: failedIDs}
		return nil, report, shardErrors.Wrap(shardErrors.ErrCategoryMerge, shardErrors.CodeWorkerFailed,
			fmt.Sprintf("%d of %d workers failed", len(failed), len(results)), failed[0].Err)
	}

	perWorker := make(map[int]map[string]*zeeklog.Log, len(results))
	for _, r := range results {
		if r.Status != runner.StatusSucceeded {
			continue
		}
		logs, err := LoadWorkerLogs(r.LogDir)
		if err != nil {
			return nil, nil, fmt.Errorf("merge: worker%d logs: %w", r.Worker, err)
		}
		perWorker[r.Worker] = logs
	}

	merged, report := mergeWithReport(perWorker)
	report.Workers = len(results)
	report.FailedWorkers = failedIDs
	return merged, report, nil
}
