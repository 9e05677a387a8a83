package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be a valid TCP port.
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	// database.driver must be a known value.
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
		// valid
	default:
		errs = append(errs, fmt.Errorf("database.driver must be \"postgres\" or \"sqlite\", got %q", c.Database.Driver))
	}

	if c.Database.Enabled() {
		if c.Database.DSN == "" && c.Database.DSNFile == "" {
			errs = append(errs, fmt.Errorf("database.dsn or database.dsn_file is required when database.driver is set"))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, fmt.Errorf("database.max_conns must be > 0, got %d", c.Database.MaxConns))
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, fmt.Errorf("database.min_conns must be between 0 and max_conns (%d), got %d", c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.AcquireTimeout < 0 {
			errs = append(errs, fmt.Errorf("database.acquire_timeout must not be negative"))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "apikey" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
	}
	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}
	if c.Auth.RateLimit.RequestsPerSecond < 0 || c.Auth.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit values must not be negative"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}
