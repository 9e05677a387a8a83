// Package config provides unified configuration for a crane server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CRANE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all configuration for a crane server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // default: "localhost"
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// Addr returns the listen address built from host and port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig holds connection pool settings. An empty driver disables
// the transactional layer.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`             // "", "postgres" or "sqlite"
	DSN             string        `yaml:"dsn"`                // connection string or sqlite path
	DSNFile         string        `yaml:"dsn_file"`           // _file variant for dsn
	MaxConns        int           `yaml:"max_conns"`          // default: 10
	MinConns        int           `yaml:"min_conns"`          // default: 2
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`  // default: 30m
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"` // default: 30s
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`    // default: 3s
}

// Enabled reports whether a database driver is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Driver != ""
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// BypassPaths are served without authentication.
	BypassPaths []string `yaml:"bypass_paths"` // default: ["/healthz", "/metrics"]
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds bearer token validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// RateLimitConfig holds per-subject rate limit settings. Zero disables
// rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn", "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	// Debug lists the debug categories to enable, comma separated
	// ("txn,dispatch,auth" or "all").
	Debug string `yaml:"debug"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 30 * time.Second,
			AcquireTimeout:  3 * time.Second,
		},
		Auth: AuthConfig{
			Type:        "none",
			BypassPaths: []string{"/healthz", "/metrics"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
