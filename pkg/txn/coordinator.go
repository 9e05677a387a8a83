package txn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/crane/pkg/debug"
	"github.com/rhuss/crane/pkg/observability"
	"github.com/rhuss/crane/pkg/transport"
)

// Coordinator opens, shares and closes the per-request connection scope.
//
// The outermost scope of a request acquires the connection. Every scope
// nested inside it runs on that same connection and never acquires a second
// one. A transactional scope nested in an autocommit scope begins a
// transaction on the shared connection and ends it before returning; a
// transactional scope nested in another one joins it without a savepoint, so
// a failure anywhere rolls back the whole transaction.
type Coordinator struct {
	pool           Pool
	logger         *slog.Logger
	acquireTimeout time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) {
		if l != nil {
			co.logger = l
		}
	}
}

// WithAcquireTimeout bounds how long a request waits for a free connection.
// Zero waits until the request context is done.
func WithAcquireTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.acquireTimeout = d }
}

// NewCoordinator creates a Coordinator drawing connections from pool.
func NewCoordinator(pool Pool, opts ...Option) *Coordinator {
	co := &Coordinator{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Middleware returns the coordinator as the innermost pipeline layer. It
// opens a transactional scope for requests marked transactional and a plain
// connection scope for all others.
func (co *Coordinator) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(c *transport.Context) error {
			return co.handle(c, c.IsTransactional(), next)
		})
	}
}

// Transactional wraps h so that it always runs inside a transaction. It joins
// the caller's transaction if one is open, begins one on the caller's
// connection if the caller runs in autocommit, and otherwise opens a new
// transactional scope. Use it for handlers that are invoked from other
// handlers.
func (co *Coordinator) Transactional(h transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(c *transport.Context) error {
		return co.handle(c, true, h)
	})
}

// InTransaction runs fn inside a transactional scope outside of the HTTP
// pipeline. fn receives a context carrying the connection.
func (co *Coordinator) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return co.run(ctx, true, fn)
}

// WithConn runs fn with a connection bound in autocommit mode, reusing the
// ambient connection if there is one.
func (co *Coordinator) WithConn(ctx context.Context, fn func(ctx context.Context) error) error {
	return co.run(ctx, false, fn)
}

func (co *Coordinator) handle(c *transport.Context, transactional bool, next transport.Handler) error {
	prev := c.Context()
	defer c.SetContext(prev)
	return co.run(prev, transactional, func(ctx context.Context) error {
		c.SetContext(ctx)
		return next.Handle(c)
	})
}

func (co *Coordinator) run(ctx context.Context, transactional bool, fn func(context.Context) error) error {
	h := HolderFrom(ctx)
	if h == nil {
		h = &Holder{}
		ctx = WithHolder(ctx, h)
	}
	if h.IsActive() {
		if !transactional || h.IsTransactional() {
			debug.Log(co.logger, debug.Txn, "reusing request connection",
				"request_id", transport.RequestIDFromContext(ctx),
				"transactional", h.IsTransactional(),
			)
			return fn(ctx)
		}
		return co.upgrade(ctx, h, fn)
	}

	conn, err := co.acquire(ctx)
	if err != nil {
		return err
	}
	defer co.release(ctx, h, conn)

	if !transactional {
		h.Set(conn)
		return fn(ctx)
	}
	return co.transact(ctx, h, conn, fn)
}

// upgrade runs fn in a transaction on the connection already bound in
// autocommit mode, then hands the connection back to the enclosing scope.
func (co *Coordinator) upgrade(ctx context.Context, h *Holder, fn func(context.Context) error) error {
	conn := h.Get()
	defer h.Set(conn)
	debug.Log(co.logger, debug.Txn, "beginning transaction on request connection",
		"request_id", transport.RequestIDFromContext(ctx),
	)
	return co.transact(ctx, h, conn, fn)
}

// transact begins a transaction on conn, runs fn and commits, or rolls back
// when fn fails or panics. Panics are re-raised after the rollback.
func (co *Coordinator) transact(ctx context.Context, h *Holder, conn Conn, fn func(context.Context) error) error {
	if err := conn.SetAutoCommit(ctx, false); err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	h.SetTransactional(conn)

	defer func() {
		if r := recover(); r != nil {
			co.rollback(ctx, conn, fmt.Errorf("panic: %v", r))
			observability.TransactionsTotal.WithLabelValues(observability.OutcomeRolledBack).Inc()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		co.rollback(ctx, conn, err)
		observability.TransactionsTotal.WithLabelValues(observability.OutcomeRolledBack).Inc()
		return err
	}

	if conn.IsClosed() {
		debug.Log(co.logger, debug.Txn, "connection closed by handler, skipping commit",
			"request_id", transport.RequestIDFromContext(ctx),
		)
		return nil
	}
	if err := conn.Commit(ctx); err != nil {
		co.rollback(ctx, conn, err)
		observability.TransactionsTotal.WithLabelValues(observability.OutcomeCommitFailed).Inc()
		return fmt.Errorf("committing transaction: %w", err)
	}
	observability.TransactionsTotal.WithLabelValues(observability.OutcomeCommitted).Inc()
	debug.Log(co.logger, debug.Txn, "transaction committed",
		"request_id", transport.RequestIDFromContext(ctx),
	)
	return nil
}

func (co *Coordinator) acquire(ctx context.Context) (Conn, error) {
	if co.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, co.acquireTimeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := co.pool.Acquire(ctx)
	wait := time.Since(start)
	observability.ConnectionAcquireDuration.Observe(wait.Seconds())
	if err != nil {
		observability.ConnectionAcquireErrorsTotal.Inc()
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	if conn == nil {
		observability.ConnectionAcquireErrorsTotal.Inc()
		return nil, fmt.Errorf("acquiring connection: %w", ErrNoConnection)
	}
	observability.ConnectionsInUse.Inc()
	debug.Log(co.logger, debug.Txn, "connection acquired",
		"request_id", transport.RequestIDFromContext(ctx),
		"wait", wait,
	)
	return conn, nil
}

// rollback undoes the open transaction. Its own failure is logged and
// counted; the caller keeps returning cause.
func (co *Coordinator) rollback(ctx context.Context, conn Conn, cause error) {
	if conn.IsClosed() {
		return
	}
	debug.Log(co.logger, debug.Txn, "rolling back transaction",
		"request_id", transport.RequestIDFromContext(ctx),
		"cause", cause.Error(),
	)
	if err := conn.Rollback(context.WithoutCancel(ctx)); err != nil {
		observability.CleanupErrorsTotal.WithLabelValues("rollback").Inc()
		co.logger.Error("transaction rollback failed",
			slog.String("request_id", transport.RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
			slog.String("cause", cause.Error()),
		)
	}
}

func (co *Coordinator) release(ctx context.Context, h *Holder, conn Conn) {
	h.Clear()
	observability.ConnectionsInUse.Dec()
	if conn.IsClosed() {
		return
	}
	if err := conn.Close(); err != nil {
		observability.CleanupErrorsTotal.WithLabelValues("release").Inc()
		co.logger.Error("connection release failed",
			slog.String("request_id", transport.RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
	}
}
