// Package config provides centralized configuration management for the
// ingestion service. It loads settings from environment variables with
// sensible defaults and validates everything on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all service configuration.
// Every setting can be overridden via environment variables.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	ObjectStore ObjectStoreConfig
	OCR         OCRConfig
	Pipeline    PipelineConfig
	Poller      PollerConfig
	Rate        RateLimitConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the idle cutoff before a connection closes (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ObjectStoreConfig holds the upload bucket settings.
type ObjectStoreConfig struct {
	// Bucket is the bucket new uploads land in (required)
	Bucket string `env:"STORE_BUCKET" required:"true"`

	// Prefix narrows processing to keys under this prefix (default: none)
	Prefix string `env:"STORE_PREFIX"`
}

// OCRConfig holds text extraction settings.
type OCRConfig struct {
	// ProjectID is the cloud project hosting the model (required)
	ProjectID string `env:"OCR_PROJECT_ID" required:"true"`

	// Region is the model region (default: us-central1)
	Region string `env:"OCR_REGION" default:"us-central1"`

	// Model is the generative model used for extraction (default: gemini-2.0-flash)
	Model string `env:"OCR_MODEL" default:"gemini-2.0-flash"`

	// MaxPages caps how many PDF pages are extracted per file (default: 50)
	MaxPages int `env:"OCR_MAX_PAGES" default:"50"`

	// PageConcurrency bounds parallel page extractions per file (default: 4)
	PageConcurrency int `env:"OCR_PAGE_CONCURRENCY" default:"4"`

	// MinSuccessRatio is the fraction of pages that must extract for the
	// file to succeed; 0 tolerates any number of failed pages (default: 0)
	MinSuccessRatio float64 `env:"OCR_MIN_SUCCESS_RATIO" default:"0"`
}

// PipelineConfig holds pipeline execution settings.
type PipelineConfig struct {
	// Workers bounds the number of files processed concurrently (default: 4)
	Workers int `env:"PIPELINE_WORKERS" default:"4"`

	// StageTimeout bounds each pipeline stage per file (default: 2m)
	StageTimeout time.Duration `env:"PIPELINE_STAGE_TIMEOUT" default:"2m"`

	// MaxAttempts bounds retries of transient failures (default: 3)
	MaxAttempts int `env:"PIPELINE_MAX_ATTEMPTS" default:"3"`

	// RetryBackoff is the initial retry delay; it doubles per attempt (default: 1s)
	RetryBackoff time.Duration `env:"PIPELINE_RETRY_BACKOFF" default:"1s"`
}

// PollerConfig holds the bucket sweep fallback settings.
type PollerConfig struct {
	// Enabled turns the periodic bucket sweep on (default: false)
	Enabled bool `env:"POLLER_ENABLED" default:"false"`

	// Interval is the time between sweeps (default: 1m)
	Interval time.Duration `env:"POLLER_INTERVAL" default:"1m"`
}

// RateLimitConfig holds API rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
