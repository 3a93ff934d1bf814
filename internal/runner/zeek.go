package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Output files written next to the engine's logs.
const (
	StdoutFile = "zeek.stdout"
	StderrFile = "zeek.stderr"
)

// ZeekExecutor runs `zeek -r <slice> <script>` in the task directory.
type ZeekExecutor struct {
	// Path is the zeek binary; empty means "zeek" from PATH
	Path string
	// Args are extra arguments placed before -r
	Args []string
}

// Execute runs zeek and saves its stdout and stderr in task.Dir.
func (z *ZeekExecutor) Execute(ctx context.Context, task Task) error {
	bin := z.Path
	if bin == "" {
		bin = "zeek"
	}

	slice, err := filepath.Abs(task.Slice)
	if err != nil {
		return err
	}
	script, err := filepath.Abs(task.Script)
	if err != nil {
		return err
	}

	stdout, err := os.Create(filepath.Join(task.Dir, StdoutFile))
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(task.Dir, StderrFile))
	if err != nil {
		return err
	}
	defer stderr.Close()

	args := append(append([]string(nil), z.Args...), "-r", slice, script)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = task.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	if err := cmd.Run(); err != nil {
		if tail := tailFile(stderr.Name(), 512); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

func tailFile(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) > n {
		data = data[len(data)-n:]
	}
	return string(data)
}
