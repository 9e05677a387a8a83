// Package postgres provides a PostgreSQL connection pool for the
// transaction coordinator. It uses pgx/v5 for pooling and transactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/crane/pkg/storage"
	"github.com/rhuss/crane/pkg/txn"
)

// Pool is a pgxpool-backed txn.Pool.
type Pool struct {
	pool *pgxpool.Pool
}

// Ensure Pool implements txn.Pool at compile time.
var _ txn.Pool = (*Pool)(nil)

// New creates a connection pool with the given configuration and verifies
// connectivity.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Acquire checks a connection out of the pool, waiting while the pool is
// exhausted until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (txn.Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

// HealthCheck verifies the database connection.
func (p *Pool) HealthCheck(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// querier is the statement surface shared by pgx.Tx and *pgxpool.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is one checked-out connection. Statements run inside the open
// transaction, if any, and in autocommit mode otherwise.
type Conn struct {
	mu     sync.Mutex
	conn   *pgxpool.Conn
	tx     pgx.Tx
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
// open transaction, if any.
func (c *Conn) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storage.ErrConnClosed
	}

	switch {
	case !on && c.tx == nil:
		tx, err := c.conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		c.tx = tx
	case on && c.tx != nil:
		err := c.tx.Commit(ctx)
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
	err := c.tx.Commit(ctx)
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
	err := c.tx.Rollback(ctx)
	c.tx = nil
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

	var err error
	if c.tx != nil {
		err = c.tx.Rollback(context.Background())
		c.tx = nil
	}
	c.conn.Release()
	return err
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

// Exec runs a statement that returns no rows. A unique violation is
// reported as storage.ErrConflict.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q, err := c.querier()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if isDuplicateKey(err) {
		return tag, fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return tag, err
}

// Query runs a statement that returns rows.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q, err := c.querier()
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, sql, args...)
}

// QueryRow runs a statement that returns at most one row.
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q, err := c.querier()
	if err != nil {
		return errRow{err: err}
	}
	return q.QueryRow(ctx, sql, args...)
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

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
