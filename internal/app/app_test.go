package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zeekshard/zeekshard/internal/config"
	"github.com/zeekshard/zeekshard/internal/job"
	"github.com/zeekshard/zeekshard/internal/pcap/pcaptest"
	"github.com/zeekshard/zeekshard/internal/runner"
	"github.com/zeekshard/zeekshard/internal/viewer"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
	"github.com/zeekshard/zeekshard/pkg/types"
)

type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, task runner.Task) error {
	l := zeeklog.New("conn", []string{"ts", "worker"}, []string{"time", "count"})
	l.Append(types.Record{
		{Name: "ts", Value: fmt.Sprintf("%d.000000", task.Worker)},
		{Name: "worker", Value: fmt.Sprint(task.Worker)},
	})
	return l.WriteFile(filepath.Join(task.Dir, "conn.log"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Storage.Type = "local"
	cfg.Runner.Timeout = 10 * time.Second
	cfg.Partition.DefaultWorkers = 2
	return cfg
}

func testCapture() []byte {
	return pcaptest.Capture(
		pcaptest.TCP("10.0.0.1", 5000, "10.0.0.2", 80),
		pcaptest.UDP("10.0.0.3", 53000, "8.8.8.8", 53),
	)
}

func TestApp_StartServeStop(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, nil, WithExecutor(stubExecutor{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop(context.Background())

	base := "http://" + a.Addr()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("pcap", "capture.pcap")
	part.Write(testCapture())
	mw.WriteField("script_text", "event zeek_init() {}")
	mw.Close()

	resp, err = http.Post(base+"/api/run", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	var out job.Outcome
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !out.OK {
		t.Fatalf("run returned %d %+v", resp.StatusCode, out)
	}

	resp, err = http.Get(base + "/api/jobs/" + out.JobID + "/log/conn")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("log page returned %d", resp.StatusCode)
	}

	archive := filepath.Join(cfg.Storage.Path, "jobs", out.JobID+".tar.sz")
	if _, err := os.Stat(archive); err != nil {
		t.Errorf("job should be archived to local storage: %v", err)
	}
}

func TestApp_GRPCHealth(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = true
	a, err := New(cfg, nil, WithExecutor(stubExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Stop(context.Background())

	conn, err := grpc.NewClient(a.grpcListener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("unexpected status %v", resp.Status)
	}
}

func TestApp_SweepExpiresJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobTTL = time.Millisecond
	a, err := New(cfg, nil, WithExecutor(stubExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := a.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(ctx)

	out, err := a.Jobs().Run(ctx, job.Request{Capture: testCapture()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := a.Viewer().Page(ctx, viewer.Request{JobID: out.JobID, Log: "conn"}); err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	if a.Viewer().Cache().Len() != 1 {
		t.Fatalf("page should be cached")
	}

	time.Sleep(1100 * time.Millisecond)
	a.sweep(ctx)

	if _, err := os.Stat(a.Jobs().Layout(out.JobID).Dir); !os.IsNotExist(err) {
		t.Errorf("expired job directory should be removed, stat err=%v", err)
	}
	if a.Viewer().Cache().Len() != 0 {
		t.Errorf("expired job should leave the cache")
	}
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Partition.DefaultWorkers = 99
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected invalid configuration error")
	}
}

func TestJanitorInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{time.Second, time.Minute},
		{time.Hour, 6 * time.Minute},
		{7 * 24 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := janitorInterval(tt.ttl); got != tt.want {
			t.Errorf("janitorInterval(%v) = %v, want %v", tt.ttl, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "abc")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"job_id":"abc"`) {
		t.Errorf("unexpected log output %q", buf.String())
	}

	if _, err := NewLogger(config.LogConfig{Level: "loud"}, &buf); err == nil {
		t.Error("expected invalid level error")
	}
	if _, err := NewLogger(config.LogConfig{Format: "xml"}, &buf); err == nil {
		t.Error("expected invalid format error")
	}
}
