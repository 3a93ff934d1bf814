// Package config provides unified configuration for zeekshard.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of every zeekshard command.
type Config struct {
	// DataDir is the base directory for jobs, the catalog and local storage
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// MaxUploadMB caps the size of an uploaded capture
	MaxUploadMB int `json:"max_upload_mb" yaml:"max_upload_mb"`

	// JobTTL removes finished jobs older than this; zero keeps them forever
	JobTTL time.Duration `json:"job_ttl" yaml:"job_ttl"`

	HTTP      HTTPConfig      `json:"http" yaml:"http"`
	GRPC      GRPCConfig      `json:"grpc" yaml:"grpc"`
	Partition PartitionConfig `json:"partition" yaml:"partition"`
	Runner    RunnerConfig    `json:"runner" yaml:"runner"`
	Viewer    ViewerConfig    `json:"viewer" yaml:"viewer"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the job API
	Addr string `json:"addr" yaml:"addr"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the gRPC health service is served
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// PartitionConfig holds partitioner configuration.
type PartitionConfig struct {
	// DefaultWorkers is used when a request does not name a worker count (1-16)
	DefaultWorkers int `json:"default_workers" yaml:"default_workers"`

	// Concurrency is the number of goroutines decoding packet headers
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// RunnerConfig holds analysis engine configuration.
type RunnerConfig struct {
	// ZeekPath is the engine binary
	ZeekPath string `json:"zeek_path" yaml:"zeek_path"`

	// Timeout bounds each worker execution
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxParallel caps concurrent worker executions; 0 runs all at once
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`

	// FailurePolicy is "fail" (default) or "partial"
	FailurePolicy string `json:"failure_policy" yaml:"failure_policy"`
}

// ViewerConfig holds log paging configuration.
type ViewerConfig struct {
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`
	MaxLimit     int `json:"max_limit" yaml:"max_limit"`

	// CacheMB bounds the parsed-log cache
	CacheMB int `json:"cache_mb" yaml:"cache_mb"`
}

// StorageConfig holds artifact archive configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LogConfig selects the structured log output.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data/zeekshard",
		MaxUploadMB: 200,
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 15 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Partition: PartitionConfig{
			DefaultWorkers: 7,
			Concurrency:    4,
		},
		Runner: RunnerConfig{
			ZeekPath:      "zeek",
			Timeout:       10 * time.Minute,
			MaxParallel:   0,
			FailurePolicy: "fail",
		},
		Viewer: ViewerConfig{
			DefaultLimit: 200,
			MaxLimit:     5000,
			CacheMB:      256,
		},
		Storage: StorageConfig{
			Type: "none",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Resolve sets paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/zeekshard"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "archive")
	}
}

// JobsDir returns the directory holding one subdirectory per job.
func (c *Config) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

// TmpDir returns the staging directory for archives.
func (c *Config) TmpDir() string {
	return filepath.Join(c.DataDir, "tmp")
}

// ManifestPath returns the path to the job catalog database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// MaxUploadBytes returns MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}

	if c.JobTTL < 0 {
		return fmt.Errorf("job_ttl must not be negative, got %s", c.JobTTL)
	}

	if c.Partition.DefaultWorkers < 1 || c.Partition.DefaultWorkers > 16 {
		return fmt.Errorf("partition.default_workers must be between 1 and 16, got %d", c.Partition.DefaultWorkers)
	}

	if c.Partition.Concurrency < 0 {
		return fmt.Errorf("partition.concurrency must not be negative, got %d", c.Partition.Concurrency)
	}

	if c.Runner.Timeout < 0 {
		return fmt.Errorf("runner.timeout must not be negative, got %s", c.Runner.Timeout)
	}

	switch strings.ToLower(c.Runner.FailurePolicy) {
	case "", "fail", "partial":
	default:
		return fmt.Errorf("invalid runner.failure_policy: %s (must be fail or partial)", c.Runner.FailurePolicy)
	}

	if c.Viewer.DefaultLimit < 1 || c.Viewer.MaxLimit < c.Viewer.DefaultLimit {
		return fmt.Errorf("viewer limits must satisfy 1 <= default_limit <= max_limit, got %d and %d",
			c.Viewer.DefaultLimit, c.Viewer.MaxLimit)
	}

	switch c.Storage.Type {
	case "none", "local", "s3":
	default:
		return fmt.Errorf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration from ZEEKSHARD_* environment variables.
func LoadFromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("ZEEKSHARD_DATA_DIR", &cfg.DataDir)
	num("ZEEKSHARD_MAX_UPLOAD_MB", &cfg.MaxUploadMB)
	dur("ZEEKSHARD_JOB_TTL", &cfg.JobTTL)

	str("ZEEKSHARD_HTTP_ADDR", &cfg.HTTP.Addr)
	str("ZEEKSHARD_GRPC_ADDR", &cfg.GRPC.Addr)
	if v := os.Getenv("ZEEKSHARD_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	num("ZEEKSHARD_PARTITION_DEFAULT_WORKERS", &cfg.Partition.DefaultWorkers)
	num("ZEEKSHARD_PARTITION_CONCURRENCY", &cfg.Partition.Concurrency)

	str("ZEEKSHARD_ZEEK_PATH", &cfg.Runner.ZeekPath)
	dur("ZEEKSHARD_RUNNER_TIMEOUT", &cfg.Runner.Timeout)
	num("ZEEKSHARD_RUNNER_MAX_PARALLEL", &cfg.Runner.MaxParallel)
	str("ZEEKSHARD_RUNNER_FAILURE_POLICY", &cfg.Runner.FailurePolicy)

	num("ZEEKSHARD_VIEWER_DEFAULT_LIMIT", &cfg.Viewer.DefaultLimit)
	num("ZEEKSHARD_VIEWER_MAX_LIMIT", &cfg.Viewer.MaxLimit)

	str("ZEEKSHARD_STORAGE_TYPE", &cfg.Storage.Type)
	str("ZEEKSHARD_STORAGE_PATH", &cfg.Storage.Path)
	str("ZEEKSHARD_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("ZEEKSHARD_S3_REGION", &cfg.Storage.S3.Region)
	str("ZEEKSHARD_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)

	str("ZEEKSHARD_LOG_LEVEL", &cfg.Log.Level)
	str("ZEEKSHARD_LOG_FORMAT", &cfg.Log.Format)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.JobsDir(), c.TmpDir()}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
