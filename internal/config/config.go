// Package config loads application settings from environment variables,
// applies defaults, and validates everything at startup so misconfiguration
// fails fast with a list of every problem.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Reload   ReloadConfig
	Redis    RedisConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8000"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout must cover a synchronous reload response.
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"15m"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every route except reload.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig selects where the dataset is persisted.
type DatabaseConfig struct {
	// Driver is sqlite, postgres, or memory.
	Driver string `env:"DB_DRIVER" default:"sqlite"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Path is the SQLite database file.
	Path string `env:"DB_PATH" default:"data/addresses.db"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ReloadConfig holds dataset reload settings.
type ReloadConfig struct {
	BatchSize int `env:"RELOAD_BATCH_SIZE" default:"5000"`

	// MaxFileSize is the upload limit in bytes (default 200MB).
	MaxFileSize int64 `env:"RELOAD_MAX_FILE_SIZE" default:"209715200"`

	Timeout time.Duration `env:"RELOAD_TIMEOUT" default:"10m"`

	// AutoloadPath is loaded at startup when the store is empty. Empty disables autoload.
	AutoloadPath string `env:"RELOAD_AUTOLOAD_PATH" default:"data/uploads/addresses.xlsx"`

	// UploadDir receives uploaded workbooks while they are parsed.
	UploadDir string `env:"RELOAD_UPLOAD_DIR" default:"data/uploads"`

	HistoryLimit int `env:"RELOAD_HISTORY_LIMIT" default:"50"`

	// RefreshInterval is how often the server checks the database for a
	// dataset published by another process. Zero disables the check.
	RefreshInterval time.Duration `env:"RELOAD_REFRESH_INTERVAL" default:"15s"`
}

// RedisConfig configures the optional shared reload lock.
type RedisConfig struct {
	// URL enables the lock when set, e.g. redis://localhost:6379/0.
	URL         string        `env:"REDIS_URL"`
	LockKey     string        `env:"REDIS_LOCK_KEY" default:"viability:reload-lock"`
	LockTTL     time.Duration `env:"REDIS_LOCK_TTL" default:"15m"`
	DialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" default:"5s"`
}

// RateLimitConfig holds per-IP rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// ReloadLimit is requests per minute for reload and clear endpoints.
	ReloadLimit int `env:"RATE_LIMIT_RELOAD" default:"5"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs or addresses whose
	// X-Forwarded-For / X-Real-IP headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" default:"*"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
