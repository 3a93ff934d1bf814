package http

import (
	"log/slog"
	"net/http"

	"github.com/zeekshard/zeekshard/internal/job"
	"github.com/zeekshard/zeekshard/internal/manifest"
	"github.com/zeekshard/zeekshard/internal/observability"
	"github.com/zeekshard/zeekshard/internal/viewer"
)

// RouterConfig holds the collaborators of the API router.
type RouterConfig struct {
	Jobs           *job.Service
	Viewer         *viewer.Viewer
	Catalog        manifest.Catalog
	SearchStats    *observability.SearchStats
	Metrics        *observability.Metrics
	MaxUploadBytes int64
	Logger         *slog.Logger

	// Middleware wraps every API route outside the default chain.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	jobs := NewJobHandler(cfg.Jobs, cfg.Catalog, cfg.MaxUploadBytes, cfg.Logger)
	logs := NewLogHandler(cfg.Viewer, cfg.SearchStats, cfg.Metrics)

	chain := make([]func(http.Handler) http.Handler, 0, len(cfg.Middleware)+1)
	chain = append(chain, cfg.Middleware...)
	chain = append(chain, DefaultMiddleware(cfg.Logger))
	base := ChainMiddleware(chain...)
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, MetricsMiddleware(cfg.Metrics, name)(base(h)))
	}

	route("POST /api/run", "run", jobs.Run)
	route("GET /api/jobs", "jobs", jobs.List)
	route("GET /api/jobs/{id}", "job", jobs.Get)
	route("GET /api/jobs/{id}/runner/log", "runner_log", jobs.RunnerLog)
	route("GET /api/jobs/{id}/logs", "logs", logs.List)
	route("GET /api/jobs/{id}/log/{name}", "log", logs.Page)
	route("GET /api/stats/fields", "fields", logs.Fields)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "zeekshard"})
	})
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	return mux
}
