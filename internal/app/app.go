// Package app wires the zeekshard service together and manages its lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	httpapi "github.com/zeekshard/zeekshard/internal/api/http"
	"github.com/zeekshard/zeekshard/internal/config"
	"github.com/zeekshard/zeekshard/internal/job"
	"github.com/zeekshard/zeekshard/internal/manifest"
	"github.com/zeekshard/zeekshard/internal/merge"
	"github.com/zeekshard/zeekshard/internal/observability"
	"github.com/zeekshard/zeekshard/internal/partition"
	"github.com/zeekshard/zeekshard/internal/runner"
	"github.com/zeekshard/zeekshard/internal/server"
	"github.com/zeekshard/zeekshard/internal/storage"
	"github.com/zeekshard/zeekshard/internal/viewer"
)

// ServiceName is reported by the health endpoints.
const ServiceName = "zeekshard"

// searchStatsWindow is how long an unsearched field stays in the statistics.
const searchStatsWindow = time.Hour

// App owns the shared resources and servers of one zeekshard process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	storage  storage.ObjectStorage
	catalog  *manifest.SQLiteCatalog
	metrics  *observability.Metrics
	stats    *observability.SearchStats
	shutdown *server.ShutdownManager

	// Service components
	jobs         *job.Service
	viewer       *viewer.Viewer
	executor     runner.Executor
	httpServer   *http.Server
	httpAddr     string
	grpcServer   *grpc.Server
	grpcListener net.Listener
	health       *health.Server

	// Lifecycle
	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Option customizes an App.
type Option func(*App)

// WithExecutor replaces the engine executor, mainly for tests.
func WithExecutor(exec runner.Executor) Option {
	return func(a *App) { a.executor = exec }
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init opens the shared resources and builds the services without starting
// any listener. It is safe to call more than once.
func (a *App) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}
	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return err
	}
	if err := a.initServices(); err != nil {
		a.cleanup()
		return err
	}
	a.initialized = true
	return nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "", "none":
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
			s3Cfg.UsePathStyle = true
		}
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("storage initialized", "type", a.cfg.Storage.Type,
		"bucket", a.cfg.Storage.S3.Bucket, "path", a.cfg.Storage.Path)

	a.catalog, err = manifest.NewCatalog(a.cfg.ManifestPath(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job catalog: %w", err)
	}
	a.logger.Info("job catalog initialized", "path", a.cfg.ManifestPath())

	a.metrics = observability.NewMetrics()
	a.stats = observability.NewSearchStats(searchStatsWindow)
	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.Runner.Timeout + 30*time.Second,
		DrainTimeout:    a.cfg.Runner.Timeout + 15*time.Second,
	}, a.logger)
	return nil
}

func (a *App) initServices() error {
	policy, err := merge.ParsePolicy(a.cfg.Runner.FailurePolicy)
	if err != nil {
		return err
	}

	exec := a.executor
	if exec == nil {
		exec = &runner.ZeekExecutor{Path: a.cfg.Runner.ZeekPath}
	}

	var archiver *storage.Archiver
	if a.storage != nil {
		archiver = storage.NewArchiver(a.storage, "jobs", a.cfg.TmpDir(), a.logger)
	}

	a.jobs = job.NewService(job.Options{
		JobsDir:        a.cfg.JobsDir(),
		MaxUploadBytes: a.cfg.MaxUploadBytes(),
		DefaultWorkers: a.cfg.Partition.DefaultWorkers,
		FailurePolicy:  policy,
		Runner: runner.Options{
			Timeout:     a.cfg.Runner.Timeout,
			MaxParallel: a.cfg.Runner.MaxParallel,
		},
	}, job.Deps{
		Partitioner: partition.NewPartitioner(partition.Options{Concurrency: a.cfg.Partition.Concurrency}),
		Executor:    exec,
		Catalog:     a.catalog,
		Schemas:     manifest.NewLogSchemaRegistry(a.catalog),
		Archiver:    archiver,
		Metrics:     a.metrics,
	}, a.logger)

	a.viewer = viewer.New(a.cfg.JobsDir(), viewer.Options{
		DefaultLimit: a.cfg.Viewer.DefaultLimit,
		MaxLimit:     a.cfg.Viewer.MaxLimit,
		CacheBytes:   int64(a.cfg.Viewer.CacheMB) * 1024 * 1024,
	})
	a.metrics.RegisterLogCache(a.viewer.Cache())
	return nil
}

// Jobs returns the job service. Init must have been called.
func (a *App) Jobs() *job.Service {
	return a.jobs
}

// Viewer returns the log viewer. Init must have been called.
func (a *App) Viewer() *viewer.Viewer {
	return a.viewer
}

// Handler returns the HTTP API handler. Init must have been called.
func (a *App) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Jobs:           a.jobs,
		Viewer:         a.viewer,
		Catalog:        a.catalog,
		SearchStats:    a.stats,
		Metrics:        a.metrics,
		MaxUploadBytes: a.cfg.MaxUploadBytes(),
		Logger:         a.logger,
		Middleware:     []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	})
}

// Start initializes the app and starts the HTTP server, the gRPC health
// service when enabled and the expiry janitor.
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startHTTP(); err != nil {
		a.Stop(context.Background())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.Stop(context.Background())
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}
	if a.cfg.JobTTL > 0 {
		a.wg.Add(1)
		go a.janitor(ctx)
	}

	a.logger.Info("zeekshard started", "http", a.cfg.HTTP.Addr, "grpc_enabled", a.cfg.GRPC.Enabled,
		"default_workers", a.cfg.Partition.DefaultWorkers, "job_ttl", a.cfg.JobTTL)
	return nil
}

func (a *App) startHTTP() error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.httpAddr = ln.Addr().String()
	a.mu.Unlock()
	a.httpServer = &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.grpcServer = grpc.NewServer()
	a.health = health.NewServer()
	a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(a.grpcServer, a.health)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC health service listening", "addr", a.grpcListener.Addr().String())
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			a.logger.Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// janitor periodically expires old jobs and prunes search statistics.
func (a *App) janitor(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(janitorInterval(a.cfg.JobTTL))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

func (a *App) sweep(ctx context.Context) {
	ids, err := a.jobs.Expire(ctx, a.cfg.JobTTL)
	if err != nil {
		a.logger.Warn("job expiry failed", "error", err)
	}
	for _, id := range ids {
		a.viewer.Cache().Invalidate(a.jobs.Layout(id).Dir)
	}
	if len(ids) > 0 {
		a.logger.Info("expired jobs", "count", len(ids))
	}
	a.stats.Prune()
}

// janitorInterval is a tenth of the TTL, kept between one minute and one hour.
func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return interval
}

// Addr returns the bound HTTP address once the app is running.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpAddr
}

// Stop gracefully stops all servers and releases resources. In-flight
// requests, including running jobs, are drained first.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.initialized = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")

	if a.health != nil {
		a.health.Shutdown()
	}

	var shutdownErr error
	if a.shutdown != nil {
		shutdownErr = a.shutdown.Shutdown(ctx, "stop requested")
	}

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()
	a.logger.Info("zeekshard stopped")
	return shutdownErr
}

// cleanup releases all shared resources.
func (a *App) cleanup() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("catalog close error", "error", err)
		}
		a.catalog = nil
	}
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
