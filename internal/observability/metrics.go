package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeekshard/zeekshard/internal/cache"
)

// Metrics holds the Prometheus collectors of one zeekshard process.
// Each Metrics owns its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal       *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	PacketsTotal    prometheus.Counter
	FallbacksTotal  prometheus.Counter
	WorkerRunsTotal *prometheus.CounterVec
	MergedRowsTotal *prometheus.CounterVec
	QueriesTotal    *prometheus.CounterVec
	RequestTotal    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeekshard_jobs_total",
				Help: "Total number of pipeline jobs by outcome",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zeekshard_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"stage"},
		),
		PacketsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "zeekshard_packets_partitioned_total",
			Help: "Total number of packets routed to workers",
		}),
		FallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "zeekshard_partition_fallbacks_total",
			Help: "Total number of packets routed by the raw-bytes fallback key",
		}),
		WorkerRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeekshard_worker_runs_total",
				Help: "Total number of engine executions by terminal status",
			},
			[]string{"status"},
		),
		MergedRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeekshard_merged_rows_total",
				Help: "Total number of rows written to merged logs",
			},
			[]string{"log"},
		),
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeekshard_queries_total",
				Help: "Total number of log searches by result",
			},
			[]string{"result"},
		),
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zeekshard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zeekshard_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveStage records the duration of a pipeline stage started at start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RegisterLogCache exposes the hit, miss and eviction counters of c.
func (m *Metrics) RegisterLogCache(c *cache.LogCache) {
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "zeekshard_log_cache_hits_total",
		Help: "Parsed log cache hits",
	}, func() float64 { h, _, _ := c.Stats(); return float64(h) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "zeekshard_log_cache_misses_total",
		Help: "Parsed log cache misses",
	}, func() float64 { _, m, _ := c.Stats(); return float64(m) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "zeekshard_log_cache_evictions_total",
		Help: "Parsed log cache evictions",
	}, func() float64 { _, _, e := c.Stats(); return float64(e) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "zeekshard_log_cache_bytes",
		Help: "Source file bytes held by the parsed log cache",
	}, func() float64 { return float64(c.Size()) })
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
