package types

import (
	"fmt"
	"path/filepath"
)

// Names inside a job directory.
const (
	InputFile     = "input.pcap"
	ScriptFile    = "user.zeek"
	RunnerLogFile = "runner.log"
	SlicesDir     = "slices"
	WorkersDir    = "workers"
	MergedDir     = "merged"
)

// JobLayout locates the files of one job below its directory:
//
//	<dir>/input.pcap
//	<dir>/user.zeek
//	<dir>/slices/worker<i>.pcap
//	<dir>/workers/worker<i>/
//	<dir>/merged/<name>.log
//	<dir>/runner.log
type JobLayout struct {
	Dir string
}

// NewJobLayout returns the layout of job id below jobsDir.
func NewJobLayout(jobsDir, id string) JobLayout {
	return JobLayout{Dir: filepath.Join(jobsDir, id)}
}

func (l JobLayout) Input() string     { return filepath.Join(l.Dir, InputFile) }
func (l JobLayout) Script() string    { return filepath.Join(l.Dir, ScriptFile) }
func (l JobLayout) RunnerLog() string { return filepath.Join(l.Dir, RunnerLogFile) }
func (l JobLayout) Slices() string    { return filepath.Join(l.Dir, SlicesDir) }
func (l JobLayout) Merged() string    { return filepath.Join(l.Dir, MergedDir) }

// Worker returns the working directory of 1-based worker w.
func (l JobLayout) Worker(w int) string {
	return filepath.Join(l.Dir, WorkersDir, fmt.Sprintf("worker%d", w))
}
