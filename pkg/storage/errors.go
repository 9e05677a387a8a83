package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotConfigured is returned when no database driver is configured.
	// The server then runs without the transactional layer.
	ErrNotConfigured = errors.New("database not configured")

	// ErrConnClosed is returned when a connection is used after it was
	// released back to its pool.
	ErrConnClosed = errors.New("connection already released")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)

// Supported values for the database.driver setting.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)
