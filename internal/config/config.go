// Package config loads the service configuration from environment
// variables. Every setting has a default except the ones a chosen backend
// needs, and the whole struct is validated on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Import      ImportConfig
	Maintenance MaintenanceConfig
	Events      EventsConfig
	Backup      BackupConfig
	Schema      SchemaConfig
	Rate        RateLimitConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 120s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"120s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Backend is memory or postgres (default: memory)
	Backend string `env:"STORE_BACKEND" default:"memory"`
}

// DatabaseConfig holds database connection settings. Only used by the
// postgres store backend.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds import engine limits.
type ImportConfig struct {
	// MaxContentSize is the largest accepted upload in bytes (default: 100MB)
	MaxContentSize int64 `env:"IMPORT_MAX_CONTENT_SIZE" default:"104857600"`

	// MaxConcurrentCommits bounds commits running at once (default: 4)
	MaxConcurrentCommits int `env:"IMPORT_MAX_CONCURRENT_COMMITS" default:"4"`

	// CommitWait is how long a commit waits for a slot (default: 30s)
	CommitWait time.Duration `env:"IMPORT_COMMIT_WAIT" default:"30s"`

	// OperationTimeout bounds a single upload, commit or export (default: 10m)
	OperationTimeout time.Duration `env:"IMPORT_OPERATION_TIMEOUT" default:"10m"`
}

// MaintenanceConfig holds the background sweep settings.
type MaintenanceConfig struct {
	// StaleAfter fails importing batches older than this (default: 1h)
	StaleAfter time.Duration `env:"MAINTENANCE_STALE_AFTER" default:"1h"`

	// HistoryRetention is how long history entries are kept (default: 90 days)
	HistoryRetention time.Duration `env:"MAINTENANCE_HISTORY_RETENTION" default:"2160h"`

	// CheckInterval is how often the sweep runs (default: 15m)
	CheckInterval time.Duration `env:"MAINTENANCE_CHECK_INTERVAL" default:"15m"`
}

// EventsConfig selects where lifecycle events go.
type EventsConfig struct {
	// Backend is none, gochannel or kafka (default: gochannel)
	Backend string `env:"EVENTS_BACKEND" default:"gochannel"`

	// KafkaBrokers is a comma-separated broker list for the kafka backend
	KafkaBrokers []string `env:"EVENTS_KAFKA_BROKERS"`

	// TopicPrefix is prepended to event names to form topics (default: ledgermigrate)
	TopicPrefix string `env:"EVENTS_TOPIC_PREFIX" default:"ledgermigrate"`
}

// BackupConfig selects where backup bundles are kept.
type BackupConfig struct {
	// Backend is dir or minio (default: dir)
	Backend string `env:"BACKUP_BACKEND" default:"dir"`

	// Dir is the bundle directory for the dir backend (default: ./backups)
	Dir string `env:"BACKUP_DIR" default:"./backups"`

	MinioEndpoint  string `env:"BACKUP_MINIO_ENDPOINT"`
	MinioAccessKey string `env:"BACKUP_MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"BACKUP_MINIO_SECRET_KEY"`
	MinioBucket    string `env:"BACKUP_MINIO_BUCKET" default:"ledgermigrate-backups"`
	MinioPrefix    string `env:"BACKUP_MINIO_PREFIX" default:"bundles/"`
	MinioUseSSL    bool   `env:"BACKUP_MINIO_USE_SSL" default:"false"`
}

// SchemaConfig points at an optional vendor/collection profile override.
type SchemaConfig struct {
	// ProfilePath is a YAML file replacing the built-in profiles
	ProfilePath string `env:"SCHEMA_PROFILE_PATH"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for upload and commit endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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
