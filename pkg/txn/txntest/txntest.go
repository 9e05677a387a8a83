// Package txntest provides an in-memory txn.Pool that records every
// connection lifecycle call, for testing code built on the coordinator.
package txntest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rhuss/crane/pkg/txn"
)

// ErrClosed is returned by operations on a released connection.
var ErrClosed = errors.New("txntest: connection closed")

// Pool is a counting txn.Pool. The zero value is ready to use and has no
// connection limit.
type Pool struct {
	// AcquireErr, when set, is returned by every Acquire call.
	AcquireErr error
	// CommitErr and RollbackErr are returned by the matching Conn calls.
	CommitErr   error
	RollbackErr error

	mu       sync.Mutex
	conns    []*Conn
	nextID   atomic.Int64
	acquires atomic.Int64
}

// Acquire returns a fresh connection with a unique ID.
func (p *Pool) Acquire(ctx context.Context) (txn.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	p.acquires.Add(1)
	c := &Conn{ID: p.nextID.Add(1), pool: p, autoCommit: true}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

// Acquires returns the number of successful Acquire calls.
func (p *Pool) Acquires() int {
	return int(p.acquires.Load())
}

// Conns returns every connection handed out so far.
func (p *Pool) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Open returns the number of connections not yet closed.
func (p *Pool) Open() int {
	n := 0
	for _, c := range p.Conns() {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

// Conn records what the coordinator did with it.
type Conn struct {
	ID int64

	pool       *Pool
	mu         sync.Mutex
	autoCommit bool
	begins     int
	commits    int
	rollbacks  int
	closes     int
	closed     bool
}

func (c *Conn) SetAutoCommit(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if !on && c.autoCommit {
		c.begins++
	}
	c.autoCommit = on
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.commits++
	c.autoCommit = true
	return c.pool.CommitErr
}

func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.rollbacks++
	c.autoCommit = true
	return c.pool.RollbackErr
}

// Close marks the connection released. Only the first call counts as a
// release; later calls are recorded in Closes but do nothing.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.closed = true
	return nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Begins returns how many transactions were opened on the connection.
func (c *Conn) Begins() int { c.mu.Lock(); defer c.mu.Unlock(); return c.begins }

// Commits returns the number of Commit calls.
func (c *Conn) Commits() int { c.mu.Lock(); defer c.mu.Unlock(); return c.commits }

// Rollbacks returns the number of Rollback calls.
func (c *Conn) Rollbacks() int { c.mu.Lock(); defer c.mu.Unlock(); return c.rollbacks }

// Closes returns the number of Close calls.
func (c *Conn) Closes() int { c.mu.Lock(); defer c.mu.Unlock(); return c.closes }
