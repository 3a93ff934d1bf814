package partition

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeekshard/zeekshard/internal/merge"
)

// SliceName returns the file name of a worker's slice.
func SliceName(worker int) string {
	return fmt.Sprintf("worker%d.pcap", worker)
}

// WorkerMapFile is the file name of the worker_map log.
const WorkerMapFile = merge.WorkerMapName + ".log"

// WriteDir writes one slice file per worker and the worker_map log into dir.
func WriteDir(res *Result, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("partition: create %s: %w", dir, err)
	}
	for i, slice := range res.Slices {
		path := filepath.Join(dir, SliceName(i+1))
		if err := os.WriteFile(path, slice, 0644); err != nil {
			return fmt.Errorf("partition: write slice: %w", err)
		}
	}
	if err := merge.WorkerMapLog(res.WorkerMap).WriteFile(filepath.Join(dir, WorkerMapFile)); err != nil {
		return fmt.Errorf("partition: write worker map: %w", err)
	}
	return nil
}
