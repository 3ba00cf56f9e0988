// Package config provides centralized configuration management for the application.
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
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Tracking TrackingConfig
	Redis    RedisConfig
	Events   EventsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies the embedded schema on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// ImportConfig holds bulk import settings.
type ImportConfig struct {
	// Concurrency is the number of items written in parallel per import (default: 5)
	Concurrency int `env:"IMPORT_CONCURRENCY" default:"5"`

	// MaxRetries is the retry budget per item (default: 3)
	MaxRetries int `env:"IMPORT_MAX_RETRIES" default:"3"`

	// InitialDelay is the first backoff delay (default: 500ms)
	InitialDelay time.Duration `env:"IMPORT_INITIAL_DELAY" default:"500ms"`

	// MaxDelay caps every backoff delay (default: 5s)
	MaxDelay time.Duration `env:"IMPORT_MAX_DELAY" default:"5s"`

	// BackoffMultiplier grows the delay between attempts (default: 2)
	BackoffMultiplier float64 `env:"IMPORT_BACKOFF_MULTIPLIER" default:"2"`

	// ContinueOnError keeps processing after an item fails (default: true)
	ContinueOnError bool `env:"IMPORT_CONTINUE_ON_ERROR" default:"true"`

	// MaxItems rejects imports with more records than this (default: 10000)
	MaxItems int `env:"IMPORT_MAX_ITEMS" default:"10000"`

	// MaxBodySize is the maximum request or file size in bytes (default: 50MB)
	MaxBodySize int64 `env:"IMPORT_MAX_BODY_SIZE" default:"52428800"`

	// EmptyRecordPolicy decides what happens to a record whose every populated
	// field was removed by sanitization: keep or reject (default: keep)
	EmptyRecordPolicy string `env:"IMPORT_EMPTY_RECORD_POLICY" default:"keep"`

	// MaxConcurrentImports limits synchronous imports running at once (default: 4)
	MaxConcurrentImports int `env:"IMPORT_MAX_CONCURRENT" default:"4"`

	// ImportWait is how long a synchronous import waits for a slot (default: 30s)
	ImportWait time.Duration `env:"IMPORT_WAIT" default:"30s"`

	// MaxConcurrentJobs limits background import jobs (default: 3)
	MaxConcurrentJobs int `env:"IMPORT_MAX_CONCURRENT_JOBS" default:"3"`

	// JobTimeout bounds a single background job (default: 30m)
	JobTimeout time.Duration `env:"IMPORT_JOB_TIMEOUT" default:"30m"`

	// JobTTL is how long finished jobs stay queryable (default: 1h)
	JobTTL time.Duration `env:"IMPORT_JOB_TTL" default:"1h"`

	// JobCleanupInterval is how often expired jobs are dropped (default: 1m)
	JobCleanupInterval time.Duration `env:"IMPORT_JOB_CLEANUP_INTERVAL" default:"1m"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the sustained rate per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the token bucket size per IP (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// TrackingConfig holds 17track integration settings.
// Tracking is disabled when APIKey is empty.
type TrackingConfig struct {
	APIKey  string `env:"TRACK17_API_KEY"`
	BaseURL string `env:"TRACK17_BASE_URL" default:"https://api.17track.net/track/v2.2"`

	// PollInterval is how often active shipments are synced; 0 disables polling (default: 30m)
	PollInterval time.Duration `env:"TRACK17_POLL_INTERVAL" default:"30m"`

	RequestTimeout   time.Duration `env:"TRACK17_REQUEST_TIMEOUT" default:"5s"`
	BreakerThreshold int           `env:"TRACK17_BREAKER_THRESHOLD" default:"5"`
	BreakerReset     time.Duration `env:"TRACK17_BREAKER_RESET" default:"30s"`
	SyncConcurrency  int           `env:"TRACK17_SYNC_CONCURRENCY" default:"2"`
	MaxRetries       int           `env:"TRACK17_MAX_RETRIES" default:"2"`
}

// RedisConfig holds cache settings. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" default:"0"`
	CacheTTL time.Duration `env:"REDIS_CACHE_TTL" default:"10m"`
}

// EventsConfig holds NATS settings. An empty URL disables publishing.
type EventsConfig struct {
	NATSURL       string `env:"NATS_URL"`
	SubjectPrefix string `env:"EVENTS_SUBJECT_PREFIX" default:"stockroom"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// TrackingEnabled reports whether a 17track API key is configured.
func (c *TrackingConfig) TrackingEnabled() bool {
	return c.APIKey != ""
}
