package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zeekshard/zeekshard/internal/app"
	"github.com/zeekshard/zeekshard/internal/config"
	"github.com/zeekshard/zeekshard/internal/job"
	"github.com/zeekshard/zeekshard/internal/merge"
	"github.com/zeekshard/zeekshard/internal/partition"
	"github.com/zeekshard/zeekshard/internal/viewer"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
)

// Command flags
var (
	// Partition flags
	partWorkers int
	partOutput  string

	// Merge flags
	mergeOutput string

	// Run flags
	runWorkers    int
	runScriptFile string
	runScriptText string

	// Query flags
	queryExpr   string
	queryOffset int
	queryLimit  int
	queryJob    string
	queryJSON   bool

	// Serve flags
	serveHTTPAddr string
	serveGRPCAddr string
	serveGRPC     bool
)

var partitionCmd = &cobra.Command{
	Use:   "partition <capture.pcap>",
	Short: "Split a capture into per-worker slices by flow hash",
	Long: `Split a classic pcap capture into one slice per worker. Both directions of a
flow land on the same worker. Writes worker<i>.pcap files and worker_map.log
into the output directory.

Examples:
  zeekshard partition -w 7 -o slices/ capture.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: runPartition,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <worker-dir>...",
	Short: "Merge per-worker logs into timestamp-ordered logs",
	Long: `Merge the *.log files of each worker directory. A directory named worker<N>
(or worker<N>/logs) is worker N; other directories are numbered by argument
position. Rows of each log are ordered by their ts field.

Examples:
  zeekshard merge -o merged/ workers/worker1 workers/worker2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

var runCmd = &cobra.Command{
	Use:   "run <capture.pcap>",
	Short: "Run the full pipeline on a capture",
	Long: `Partition a capture, analyze every slice in parallel, merge the logs and
record the job in the catalog under --data-dir. Prints the job outcome as JSON.

Examples:
  zeekshard run -w 4 --script local.zeek capture.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var queryCmd = &cobra.Command{
	Use:   "query <log-file | log-name>",
	Short: "Search a merged log",
	Long: `Filter a log with the search language and print one page of matches.

Terms are field:pattern or a bare pattern matching any field. Patterns are
case-insensitive globs (* and ?). Terms combine with AND, OR, NOT and
parentheses.

Examples:
  zeekshard query -q 'proto:tcp AND NOT id.resp_p:443' merged/conn.log
  zeekshard query --job 3f2a9c01b7de -q 'query:*.example.com' dns`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP job API",
	RunE:  runServe,
}

func init() {
	partitionCmd.Flags().IntVarP(&partWorkers, "workers", "w", 0, "Number of workers (1-16, default from config)")
	partitionCmd.Flags().StringVarP(&partOutput, "output", "o", "", "Output directory (required)")
	partitionCmd.MarkFlagRequired("output")

	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "Output directory (required)")
	mergeCmd.MarkFlagRequired("output")

	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Number of workers (1-16, default from config)")
	runCmd.Flags().StringVar(&runScriptFile, "script", "", "Analysis script file")
	runCmd.Flags().StringVar(&runScriptText, "script-text", "", "Analysis script text")

	queryCmd.Flags().StringVarP(&queryExpr, "query", "q", "", "Search expression")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Rows to skip")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Rows to print (default from config)")
	queryCmd.Flags().StringVar(&queryJob, "job", "", "Search a merged log of this job instead of a file")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the page as JSON")

	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", "", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC health service address")
	serveCmd.Flags().BoolVar(&serveGRPC, "grpc", false, "Enable the gRPC health service")
}

func runPartition(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	capture, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	workers := partWorkers
	if workers == 0 {
		workers = cfg.Partition.DefaultWorkers
	}

	p := partition.NewPartitioner(partition.Options{Concurrency: cfg.Partition.Concurrency})
	res, err := p.Partition(cmd.Context(), capture, workers)
	if err != nil {
		return err
	}
	if err := partition.WriteDir(res, partOutput); err != nil {
		return err
	}
	logger.Info("capture partitioned", "packets", res.Stats.Packets, "fallbacks", res.Stats.Fallbacks,
		"truncated", res.Stats.Truncated, "output", partOutput)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tSLICE\tPACKETS")
	for i, n := range res.Stats.PerWorker {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, partition.SliceName(i+1), n)
	}
	return tw.Flush()
}

func runMerge(cmd *cobra.Command, args []string) error {
	if _, _, err := setup(); err != nil {
		return err
	}
	perWorker := make(map[int]map[string]*zeeklog.Log, len(args))
	for i, dir := range args {
		w := workerIndex(dir, i+1)
		if _, dup := perWorker[w]; dup {
			return fmt.Errorf("worker %d given twice (%s)", w, dir)
		}
		logs, err := merge.LoadWorkerLogs(dir)
		if err != nil {
			return fmt.Errorf("worker %d (%s): %w", w, dir, err)
		}
		perWorker[w] = logs
	}

	merged := merge.Merge(perWorker)
	if err := merge.WriteDir(merged, mergeOutput); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOG\tROWS")
	for _, name := range merge.Names(merged) {
		fmt.Fprintf(tw, "%s.log\t%d\n", name, len(merged[name].Rows))
	}
	return tw.Flush()
}

// workerIndex takes the index from a worker<N> directory name so shell globs
// that sort worker10 before worker2 keep the right order. Other names use
// their argument position.
func workerIndex(dir string, position int) int {
	base := filepath.Base(filepath.Clean(dir))
	if base == "logs" {
		base = filepath.Base(filepath.Dir(filepath.Clean(dir)))
	}
	if n, ok := strings.CutPrefix(base, "worker"); ok {
		if w, err := strconv.Atoi(n); err == nil && w > 0 {
			return w
		}
	}
	return position
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	capture, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	script := runScriptText
	if runScriptFile != "" {
		data, err := os.ReadFile(runScriptFile)
		if err != nil {
			return err
		}
		script = string(data)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

	out, runErr := a.Jobs().Run(ctx, job.Request{Capture: capture, Script: script, Workers: runWorkers})
	if out != nil {
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	return runErr
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}

	req := viewer.Request{
		JobID:  queryJob,
		Log:    args[0],
		Offset: queryOffset,
		Limit:  queryLimit,
		Query:  queryExpr,
	}

	var page *viewer.Page
	if queryJob != "" {
		v := viewer.New(cfg.JobsDir(), viewer.Options{DefaultLimit: cfg.Viewer.DefaultLimit, MaxLimit: cfg.Viewer.MaxLimit})
		page, err = v.Page(cmd.Context(), req)
	} else {
		var l *zeeklog.Log
		l, err = zeeklog.ReadFile(args[0])
		if err != nil {
			return err
		}
		req.Log = strings.TrimSuffix(filepath.Base(args[0]), ".log")
		page, err = viewer.Paginate(l, req.Normalize(cfg.Viewer.DefaultLimit, cfg.Viewer.MaxLimit))
	}
	if err != nil {
		return err
	}

	if queryJSON {
		return printJSON(cmd.OutOrStdout(), page)
	}
	return printPage(cmd.OutOrStdout(), page)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if serveHTTPAddr != "" {
		cfg.HTTP.Addr = serveHTTPAddr
	}
	if serveGRPCAddr != "" {
		cfg.GRPC.Addr = serveGRPCAddr
	}
	if serveGRPC {
		cfg.GRPC.Enabled = true
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	printBanner(cmd.ErrOrStderr(), cfg, a.Addr())
	if err := a.WaitForShutdown(ctx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return a.Stop(context.Background())
}

func printBanner(w io.Writer, cfg *config.Config, httpAddr string) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                       ZEEKSHARD                           ║")
	fmt.Fprintln(w, "║      Flow-partitioned parallel analysis of captures       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Data Dir: %s\n", cfg.DataDir)
	fmt.Fprintf(w, "  Storage:  %s\n", cfg.Storage.Type)
	fmt.Fprintf(w, "  Engine:   %s (timeout %s, policy %s)\n", cfg.Runner.ZeekPath, cfg.Runner.Timeout, cfg.Runner.FailurePolicy)
	fmt.Fprintf(w, "  Workers:  %d default\n", cfg.Partition.DefaultWorkers)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Job API:")
	fmt.Fprintf(w, "  HTTP: %s\n", httpAddr)
	if cfg.GRPC.Enabled {
		fmt.Fprintf(w, "  gRPC health: %s\n", cfg.GRPC.Addr)
	}
	fmt.Fprintln(w)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPage writes a page as tab-separated rows under a field header.
func printPage(w io.Writer, page *viewer.Page) error {
	fmt.Fprintln(w, strings.Join(page.Fields, "\t"))
	for _, row := range page.Rows {
		values := make([]string, len(row))
		for i, f := range row {
			values[i] = f.Value
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	_, err := fmt.Fprintf(w, "# rows %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Rows), page.Total)
	return err
}
