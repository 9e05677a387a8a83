package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CRANE_CONFIG env, ./crane.yaml, /etc/crane/crane.yaml)
//  3. CRANE_* environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CRANE_CONFIG environment variable
// 3. ./crane.yaml in the current directory
// 4. /etc/crane/crane.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("CRANE_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"crane.yaml",
		"/etc/crane/crane.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps CRANE_* environment variables to config fields.
// Malformed numbers and durations are reported rather than ignored.
func applyEnvOverrides(cfg *Config) error {
	e := envReader{}

	e.str("CRANE_SERVER_HOST", &cfg.Server.Host)
	e.int("CRANE_SERVER_PORT", &cfg.Server.Port)
	e.duration("CRANE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("CRANE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("CRANE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("CRANE_DATABASE_DRIVER", &cfg.Database.Driver)
	e.str("CRANE_DATABASE_DSN", &cfg.Database.DSN)
	e.str("CRANE_DATABASE_DSN_FILE", &cfg.Database.DSNFile)
	e.int("CRANE_DATABASE_MAX_CONNS", &cfg.Database.MaxConns)
	e.int("CRANE_DATABASE_MIN_CONNS", &cfg.Database.MinConns)
	e.duration("CRANE_DATABASE_MAX_CONN_LIFETIME", &cfg.Database.MaxConnLifetime)
	e.duration("CRANE_DATABASE_MAX_CONN_IDLE_TIME", &cfg.Database.MaxConnIdleTime)
	e.duration("CRANE_DATABASE_ACQUIRE_TIMEOUT", &cfg.Database.AcquireTimeout)

	e.str("CRANE_AUTH_TYPE", &cfg.Auth.Type)
	e.str("CRANE_AUTH_JWT_ISSUER", &cfg.Auth.JWT.Issuer)
	e.str("CRANE_AUTH_JWT_AUDIENCE", &cfg.Auth.JWT.Audience)
	e.str("CRANE_AUTH_JWT_JWKS_URL", &cfg.Auth.JWT.JWKSURL)
	e.float("CRANE_AUTH_RATE_LIMIT_RPS", &cfg.Auth.RateLimit.RequestsPerSecond)
	e.int("CRANE_AUTH_RATE_LIMIT_BURST", &cfg.Auth.RateLimit.Burst)

	// CRANE_AUTH_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("CRANE_AUTH_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("CRANE_AUTH_API_KEYS: %w", err))
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	e.str("CRANE_LOG_LEVEL", &cfg.Logging.Level)
	e.str("CRANE_LOG_FORMAT", &cfg.Logging.Format)
	e.str("CRANE_DEBUG", &cfg.Logging.Debug)

	e.bool("CRANE_METRICS_ENABLED", &cfg.Observability.Metrics.Enabled)
	e.str("CRANE_METRICS_PATH", &cfg.Observability.Metrics.Path)

	return e.err()
}

// envReader collects parse failures while applying overrides.
type envReader struct {
	errs []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// database.dsn_file -> database.dsn
	if cfg.Database.DSNFile != "" && cfg.Database.DSN == "" {
		val, err := readSecretFile(cfg.Database.DSNFile)
		if err != nil {
			return fmt.Errorf("database.dsn_file: %w", err)
		}
		cfg.Database.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
