// Package config provides the configuration for the Iceberg explorer.
//
// The configuration is organized into sections:
//   - Server: HTTP listener, CORS and shutdown behaviour
//   - Storage: which object store backend serves buckets and how it retries
//   - Iceberg: concurrency and sampling bounds of the metadata core
//   - BigQuery: the Iceberg table search feature
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg, err := config.Load("explorer.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Iceberg.GetWorkers())
package config

import (
	"runtime"
	"time"

	"github.com/Vadoid/iceberg-explorer/pkg/explorererrors"
)

// Storage backends understood by Storage.Backend.
const (
	BackendGCS  = "gcs"
	BackendS3   = "s3"
	BackendBlob = "blob"
)

// Config is the root configuration structure.
type Config struct {
	// Server settings for the HTTP API
	Server ServerConfig `yaml:"server" json:"server"`

	// Storage selects and tunes the object store
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Iceberg bounds the metadata core
	Iceberg IcebergConfig `yaml:"iceberg" json:"iceberg"`

	// BigQuery settings for the Iceberg table search
	BigQuery BigQueryConfig `yaml:"bigquery" json:"bigquery"`

	// Observability settings for logging, metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8000"
	Address string `yaml:"address" json:"address"`
	// CORSOrigins lists the origins allowed to call the API
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// ReadTimeout bounds reading a request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout bounds writing a response; table analysis can be slow
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// EnableGzip compresses responses
	EnableGzip bool `yaml:"enable_gzip" json:"enable_gzip"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	// Backend is one of gcs, s3 or blob
	Backend string `yaml:"backend" json:"backend"`
	// ProjectID is the default cloud project
	ProjectID string `yaml:"project_id" json:"project_id"`
	// CredentialsFile is a service account key used when no bearer token is supplied
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// BlobURL is a gocloud bucket URL template; "{bucket}" is replaced by the bucket name
	BlobURL string `yaml:"blob_url" json:"blob_url"`
	// Region is the S3 region
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, localstack)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// RetryAttempts is the number of attempts for retryable storage errors
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the backoff
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// IcebergConfig bounds the metadata core.
type IcebergConfig struct {
	// Workers limits concurrent manifest reads per request
	Workers int `yaml:"workers" json:"workers"`
	// UseLibrary tries the iceberg-go manifest decoder before the manual walk
	UseLibrary bool `yaml:"use_library" json:"use_library"`
	// MaxSampleFiles caps data file open attempts per sample
	MaxSampleFiles int `yaml:"max_sample_files" json:"max_sample_files"`
	// DefaultSampleLimit applies when a sample request has no limit
	DefaultSampleLimit int `yaml:"default_sample_limit" json:"default_sample_limit"`
	// MaxSampleLimit caps the rows a sample may request
	MaxSampleLimit int `yaml:"max_sample_limit" json:"max_sample_limit"`
}

// BigQueryConfig controls the BigQuery search feature.
type BigQueryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	// LogLevel is debug, info, warn or error
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// Development enables human friendly logs
	Development bool `yaml:"development" json:"development"`
	// EnableMetrics exposes Prometheus metrics on /metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing exports OpenTelemetry spans to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate is the fraction of traces kept
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// Default returns a configuration with defaults for every field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8000",
			CORSOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			EnableGzip:      true,
		},
		Storage: StorageConfig{
			Backend:       BackendGCS,
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
			MaxRetryDelay: 5 * time.Second,
		},
		Iceberg: IcebergConfig{
			Workers:            runtime.NumCPU(),
			MaxSampleFiles:     10,
			DefaultSampleLimit: 100,
			MaxSampleLimit:     10000,
		},
		BigQuery: BigQueryConfig{
			Enabled: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			EnableMetrics:     true,
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendGCS, BackendS3:
	case BackendBlob:
		if c.Storage.BlobURL == "" {
			return explorererrors.New(explorererrors.ErrorTypeValidation, "storage.blob_url is required for the blob backend")
		}
	default:
		return explorererrors.Newf(explorererrors.ErrorTypeValidation, "unsupported storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.RetryAttempts < 1 {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "storage.retry_attempts must be at least 1")
	}
	if c.Iceberg.Workers < 0 {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "iceberg.workers cannot be negative")
	}
	if c.Iceberg.MaxSampleFiles < 1 {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "iceberg.max_sample_files must be positive")
	}
	if c.Iceberg.DefaultSampleLimit < 1 || c.Iceberg.MaxSampleLimit < c.Iceberg.DefaultSampleLimit {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "iceberg sample limits must satisfy 0 < default_sample_limit <= max_sample_limit")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return explorererrors.New(explorererrors.ErrorTypeValidation, "observability.tracing_sample_rate must be within [0, 1]")
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (i *IcebergConfig) GetWorkers() int {
	if i.Workers <= 0 {
		return runtime.NumCPU()
	}
	return i.Workers
}
