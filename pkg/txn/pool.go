package txn

import (
	"context"
	"errors"
)

// ErrNoConnection is returned when code asks for the ambient connection
// outside of a scope opened by a Coordinator.
var ErrNoConnection = errors.New("no connection bound to context")

// Conn is a pooled database connection as seen by the Coordinator.
//
// SetAutoCommit(false) opens a transaction and SetAutoCommit(true) returns to
// autocommit mode. Close returns the connection to its pool and must be safe
// to call more than once.
type Conn interface {
	SetAutoCommit(ctx context.Context, on bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
	IsClosed() bool
}

// Pool hands out connections. Acquire blocks while the pool is exhausted
// until a connection frees up or ctx is done.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}
