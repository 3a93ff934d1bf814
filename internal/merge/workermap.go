package merge

import (
	"fmt"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
	"github.com/zeekshard/zeekshard/pkg/types"
)

const (
	// WorkerMapName is the log name of the synthesized worker assignment table.
	WorkerMapName = "worker_map"
	// EngineWorkerMapName holds an engine log that was itself named worker_map.
	EngineWorkerMapName = "worker_map_engine"
)

// WorkerMapLog builds the worker_map log from partitioner rows, in order.
func WorkerMapLog(rows []types.WorkerMapRow) *zeeklog.Log {
	l := zeeklog.New(WorkerMapName, types.WorkerMapFields, types.WorkerMapTypes)
	l.Rows = make([]types.Record, 0, len(rows))
	for _, r := range rows {
		l.Append(r.Record())
	}
	return l
}

// WorkerMapMerged wraps the worker_map log so it sits alongside merged logs.
func WorkerMapMerged(rows []types.WorkerMapRow) *MergedLog {
	l := WorkerMapLog(rows)
	return &MergedLog{
		Name:   WorkerMapName,
		Fields: l.Fields,
		Types:  l.Types,
		Rows:   l.Rows,
		Total:  l.Len(),
	}
}

// AddWorkerMap stores the worker_map built from rows in merged. An engine log
// already named worker_map moves to a free name starting at
// EngineWorkerMapName and the move is recorded as a warning in report.
func AddWorkerMap(merged map[string]*MergedLog, rows []types.WorkerMapRow, report *Report) {
	if engine, ok := merged[WorkerMapName]; ok {
		name := EngineWorkerMapName
		for i := 2; merged[name] != nil; i++ {
			name = fmt.Sprintf("%s%d", EngineWorkerMapName, i)
		}
		engine.Name = name
		merged[name] = engine
		if report != nil {
			if report.Rows != nil {
				delete(report.Rows, WorkerMapName)
				report.Rows[name] = engine.Total
			}
			report.Warnings = append(report.Warnings, Warning{
				Log: WorkerMapName,
				Err: shardErrors.NewMergeError(shardErrors.CodeLogNameClash,
					fmt.Sprintf("engine log %s.log renamed to %s.log", WorkerMapName, name)),
			})
		}
	}
	merged[WorkerMapName] = WorkerMapMerged(rows)
}
