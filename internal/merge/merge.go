// Package merge combines per-worker logs into unified, time-ordered logs.
package merge

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// TimestampField is the field merged rows are ordered by.
const TimestampField = "ts"

// MergedLog is one log name combined across workers.
type MergedLog struct {
	Name string
	// Fields is the ordered union of the contributing workers' fields
	Fields []string
	// Types holds the first-seen Zeek type of each field
	Types []string
	Rows  []types.Record
	Total int
}

// Log converts the merged log into a writable Zeek log.
func (m *MergedLog) Log() *zeeklog.Log {
	l := zeeklog.New(m.Name, m.Fields, m.Types)
	l.Rows = m.Rows
	return l
}

// Warning is a recovered problem found while merging.
type Warning struct {
	Log    string
	Worker int
	Err    error
}

// Report summarizes a merge.
type Report struct {
	Workers       int
	FailedWorkers []int
	Warnings      []Warning
	// Rows is the merged row count per log name
	Rows map[string]int
}

// Merge combines the logs of every worker. perWorker maps a 1-based worker
// index to that worker's logs keyed by log name.
func Merge(perWorker map[int]map[string]*zeeklog.Log) map[string]*MergedLog {
	merged, _ := mergeWithReport(perWorker)
	return merged
}

func mergeWithReport(perWorker map[int]map[string]*zeeklog.Log) (map[string]*MergedLog, *Report) {
	report := &Report{Workers: len(perWorker), Rows: make(map[string]int)}

	workers := make([]int, 0, len(perWorker))
	for w := range perWorker {
		workers = append(workers, w)
	}
	sort.Ints(workers)

	names := make(map[string]struct{})
	for _, logs := range perWorker {
		for name := range logs {
			names[name] = struct{}{}
		}
	}

	merged := make(map[string]*MergedLog, len(names))
	for name := range names {
		m, warnings := mergeOne(name, workers, perWorker)
		merged[name] = m
		report.Rows[name] = m.Total
		report.Warnings = append(report.Warnings, warnings...)
	}
	sort.SliceStable(report.Warnings, func(i, j int) bool {
		a, b := report.Warnings[i], report.Warnings[j]
		if a.Log != b.Log {
			return a.Log < b.Log
		}
		return a.Worker < b.Worker
	})
	return merged, report
}

func mergeOne(name string, workers []int, perWorker map[int]map[string]*zeeklog.Log) (*MergedLog, []Warning) {
	m := &MergedLog{Name: name}
	seen := make(map[string]bool)

	var (
		warnings  []Warning
		reference []string
		haveRef   bool
	)
	for _, w := range workers {
		l, ok := perWorker[w][name]
		if !ok || l == nil {
			continue
		}

		if !haveRef {
			reference, haveRef = l.Fields, true
		} else if !sameFields(reference, l.Fields) {
			warnings = append(warnings, Warning{
				Log:    name,
				Worker: w,
				Err: shardErrors.NewMergeError(shardErrors.CodeSchemaMismatch,
					fmt.Sprintf("%s: worker%d fields [%s] differ from [%s]", name, w,
						strings.Join(l.Fields, " "), strings.Join(reference, " "))),
			})
		}

		for i, f := range l.Fields {
			if seen[f] {
				continue
			}
			seen[f] = true
			m.Fields = append(m.Fields, f)
			t := ""
			if i < len(l.Types) {
				t = l.Types[i]
			}
			m.Types = append(m.Types, t)
		}
		m.Rows = append(m.Rows, l.Rows...)
	}

	SortByTimestamp(m.Rows)
	m.Total = len(m.Rows)
	return m, warnings
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortByTimestamp stably orders rows by their ts field. Rows without a
// usable ts follow all rows with one and keep their relative order.
func SortByTimestamp(rows []types.Record) {
	keys := make([]float64, len(rows))
	ok := make([]bool, len(rows))
	for i, r := range rows {
		keys[i], ok[i] = timestamp(r)
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := idx[i], idx[j]
		switch {
		case ok[a] && ok[b]:
			return keys[a] < keys[b]
		default:
			return ok[a] && !ok[b]
		}
	})

	sorted := make([]types.Record, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func timestamp(r types.Record) (float64, bool) {
	v, ok := r.Get(TimestampField)
	if !ok || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// LoadWorkerLogs reads every *.log file in dir keyed by log name. A missing
// directory yields no logs.
func LoadWorkerLogs(dir string) (map[string]*zeeklog.Log, error) {
	logs := make(map[string]*zeeklog.Log)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return logs, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		l, err := zeeklog.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		logs[strings.TrimSuffix(e.Name(), ".log")] = l
	}
	return logs, nil
}

// WriteDir writes each merged log to dir as <name>.log.
func WriteDir(logs map[string]*MergedLog, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for name, m := range logs {
		if err := m.Log().WriteFile(filepath.Join(dir, name+".log")); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the log names in sorted order.
func Names(logs map[string]*MergedLog) []string {
	names := make([]string, 0, len(logs))
	for name := range logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
