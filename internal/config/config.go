// Package config provides centralized configuration management for the ingester.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database DatabaseConfig
	Sink     SinkConfig
	Dispatch DispatchConfig
	Storage  StorageConfig
	Server   ServerConfig
	Watch    WatchConfig
	Logging  LoggingConfig
}

// DatabaseConfig holds sink connection settings.
type DatabaseConfig struct {
	// Driver selects the SQL backend: postgres, mysql, sqlite, sqlserver (default: postgres)
	Driver string `env:"DB_DRIVER" default:"postgres"`

	// URL is a full connection string. When set it takes precedence over
	// the individual Host/Port/User/Password/Name settings.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`

	// Name is the database name (for sqlite, the database file path)
	Name string `env:"DB_NAME"`

	// SSLMode is passed through to postgres (default: prefer)
	SSLMode string `env:"DB_SSLMODE" default:"prefer"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 30m)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"30m"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 5m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"5m"`

	// ConnectTimeout bounds establishing the pool and its first ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// SinkConfig controls how rows are written.
type SinkConfig struct {
	// Table is the target table, optionally schema-qualified (default: csv_raw_rows)
	Table string `env:"DB_TABLE" default:"csv_raw_rows"`

	// BatchSize is the number of rows written per statement (default: 100)
	BatchSize int `env:"BATCH_SIZE" default:"100"`

	// Mode is json (one payload column) or columns (one column per header field)
	Mode string `env:"SINK_MODE" default:"json"`

	// WriteMethod is insert (multi-row INSERT) or copy (postgres COPY)
	WriteMethod string `env:"SINK_WRITE_METHOD" default:"insert"`

	// AutoCreate creates the target table if it does not exist (default: false)
	AutoCreate bool `env:"CREATE_TABLE_IF_NOT_EXISTS" default:"false"`

	// ReplaceExisting deletes rows previously ingested from the same object
	// inside the same transaction before inserting (default: true)
	ReplaceExisting bool `env:"SINK_REPLACE_EXISTING" default:"true"`

	// RollbackTimeout bounds a rollback issued after the caller's context ended (default: 10s)
	RollbackTimeout time.Duration `env:"SINK_ROLLBACK_TIMEOUT" default:"10s"`
}

// DispatchConfig controls the notification loop.
type DispatchConfig struct {
	// ThrowOnError aborts the invocation on the first failure (default: true)
	ThrowOnError bool `env:"THROW_ON_ERROR" default:"true"`

	// Concurrency is the number of objects processed in parallel (default: 1)
	Concurrency int `env:"DISPATCH_CONCURRENCY" default:"1"`

	// ObjectTimeout is a per-object deadline; zero disables it (default: 0)
	ObjectTimeout time.Duration `env:"OBJECT_TIMEOUT" default:"0s"`

	// ReportBatchItemFailures returns retryable SQS messages as partial batch failures
	ReportBatchItemFailures bool `env:"REPORT_BATCH_ITEM_FAILURES" default:"false"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	// Backend is s3, gcs or local (default: s3)
	Backend string `env:"STORAGE_BACKEND" default:"s3"`

	Region         string `env:"AWS_REGION" envAlt:"AWS_DEFAULT_REGION" default:"us-east-1"`
	EndpointURL    string `env:"AWS_ENDPOINT_URL"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" default:"false"`
	AccessKey      string `env:"S3_ACCESS_KEY"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	SessionToken   string `env:"S3_SESSION_TOKEN"`
	MaxAttempts    int    `env:"AWS_MAX_ATTEMPTS" default:"3"`

	// GCSCredentialsFile is a service account JSON file; empty uses ADC
	GCSCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`

	// LocalRoot is the directory holding <bucket>/<key> for the local backend
	LocalRoot string `env:"STORAGE_LOCAL_ROOT" default:"."`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxBodyBytes limits notification request bodies (default: 1MB)
	MaxBodyBytes int64 `env:"SERVER_MAX_BODY_BYTES" default:"1048576"`

	// APIKeys is a comma-separated list of keys accepted in X-API-Key.
	// Empty disables authentication (e.g. behind a private load balancer).
	APIKeys []string `env:"SERVER_API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// X-Real-IP / X-Forwarded-For headers are believed
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RateLimit is requests per minute per client IP; zero disables it (default: 0)
	RateLimit int `env:"SERVER_RATE_LIMIT" default:"0"`

	// RateBurst is the per-client burst; zero means RateLimit (default: 0)
	RateBurst int `env:"SERVER_RATE_BURST" default:"0"`
}

// WatchConfig holds local directory watcher settings.
type WatchConfig struct {
	// SettleDelay is how long a new file must stay quiet before ingestion (default: 500ms)
	SettleDelay time.Duration `env:"WATCH_SETTLE_DELAY" default:"500ms"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
