// Package sqlite provides an embedded SQLite connection pool for the
// transaction coordinator, built on database/sql and go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/rhuss/crane/pkg/storage"
	"github.com/rhuss/crane/pkg/txn"
)

// Config holds SQLite pool settings.
type Config struct {
	// DSN is a file path or a go-sqlite3 "file:" URI. ":memory:" opens a
	// private in-memory database shared by all connections of the pool.
	// Writers on an in-memory database lock whole tables, so such pools suit
	// tests and demos.
	DSN string

	// MaxConns caps open connections (default: 10).
	MaxConns int

	// MinConns is the number of idle connections kept open (default: 2).
	MinConns int

	// MaxConnLifetime is the maximum lifetime of a connection (default: 30 minutes).
	MaxConnLifetime time.Duration

	// MaxConnIdleTime closes connections idle for longer (default: 30 seconds).
	MaxConnIdleTime time.Duration

	// BusyTimeout is how long a statement waits on a locked database
	// (default: 5 seconds).
	BusyTimeout time.Duration
}

func (c *Config) defaults() {
	if c.DSN == ":memory:" {
		c.DSN = "file:crane-" + uuid.NewString() + "?mode=memory"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Second
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// dsn appends per-connection pragmas understood by go-sqlite3. database/sql
// opens connections lazily, so pragmas must travel in the DSN rather than
// be executed once.
func (c Config) dsn() string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", c.BusyTimeout.Milliseconds()),
		"_foreign_keys=on",
	}
	switch {
	case !c.inMemory():
		params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	case !strings.Contains(c.DSN, "cache=shared"):
		// Without a shared cache every connection gets its own empty database.
		params = append(params, "cache=shared")
	}

	sep := "?"
	if strings.Contains(c.DSN, "?") {
		sep = "&"
	}
	return c.DSN + sep + strings.Join(params, "&")
}

func (c Config) inMemory() bool {
	return strings.Contains(c.DSN, ":memory:") || strings.Contains(c.DSN, "mode=memory")
}

// Pool is a database/sql-backed txn.Pool.
type Pool struct {
	db *sql.DB
}

// Ensure Pool implements txn.Pool at compile time.
var _ txn.Pool = (*Pool)(nil)

// Open creates or opens the database and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("opening sqlite: %w", storage.ErrNotConfigured)
	}
	cfg.defaults()

	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	if cfg.inMemory() {
		// An in-memory database is dropped with its last connection.
		db.SetMaxIdleConns(max(cfg.MinConns, 1))
	} else {
		db.SetMaxIdleConns(cfg.MinConns)
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Acquire checks a connection out of the pool, waiting while the pool is
// exhausted until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (txn.Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// Exec runs a statement on a pooled connection outside any request scope.
// It is meant for schema setup.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

// QueryRow runs a query on a pooled connection outside any request scope.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// HealthCheck verifies the database connection.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database and all idle connections.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn is one checked-out connection. Statements run inside the open
// transaction, if any, and in autocommit mode otherwise.
type Conn struct {
	mu     sync.Mutex
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

// Ensure Conn implements txn.Conn at compile time.
var _ txn.Conn = (*Conn)(nil)

// FromContext returns the connection bound to the current request.
func FromContext(ctx context.Context) (*Conn, error) {
	c, ok := txn.Current[*Conn](ctx)
	if !ok {
		return nil, txn.ErrNoConnection
	}
	return c, nil
}

// SetAutoCommit(false) begins a transaction. SetAutoCommit(true) commits the
// open transaction, if any. A transaction is rolled back by database/sql if
// ctx is canceled before it ends.
func (c *Conn) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrConnClosed
	}

	switch {
	case !on && c.tx == nil:
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		c.tx = tx
	case on && c.tx != nil:
		err := c.tx.Commit()
		c.tx = nil
		if err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
	}
	return nil
}

// Commit commits the open transaction. It is a no-op in autocommit mode.
func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

// Rollback aborts the open transaction. It is a no-op in autocommit mode.
func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrConnClosed
	}
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		// Already rolled back after its context was canceled.
		return nil
	}
	return err
}

// Close rolls back any open transaction and returns the connection to the
// pool. Calling Close more than once has no effect.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, err)
		}
		c.tx = nil
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsClosed reports whether the connection was returned to the pool.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// InTransaction reports whether a transaction is open.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// querier is the statement surface shared by *sql.Tx and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec runs a statement that returns no rows. A uniqueness violation is
// reported as storage.ErrConflict.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return res, err
}

// Query runs a statement that returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

// QueryRow runs a statement that returns at most one row. It fails only
// when the connection was already released.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

func (c *Conn) querier() (querier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, storage.ErrConnClosed
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.conn, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
