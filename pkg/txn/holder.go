package txn

import (
	"context"
	"sync"
)

// Holder carries the connection bound to one request. A non-nil connection
// means exactly one connection is checked out for the request; the
// transactional flag means autocommit is off and the transaction has been
// neither committed nor rolled back yet.
type Holder struct {
	mu            sync.Mutex
	conn          Conn
	transactional bool
}

// Set binds conn in autocommit mode.
func (h *Holder) Set(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
	h.transactional = false
}

// SetTransactional binds conn with an open transaction.
func (h *Holder) SetTransactional(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
	h.transactional = true
}

// Get returns the bound connection or nil.
func (h *Holder) Get() Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// IsActive reports whether a connection is bound.
func (h *Holder) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// IsTransactional reports whether the bound connection has an open
// transaction.
func (h *Holder) IsTransactional() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && h.transactional
}

// Clear unbinds the connection. It does not close it.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = nil
	h.transactional = false
}

type holderKey struct{}

// WithHolder returns a copy of ctx carrying h.
func WithHolder(ctx context.Context, h *Holder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}

// HolderFrom returns the holder carried by ctx, or nil.
func HolderFrom(ctx context.Context) *Holder {
	h, _ := ctx.Value(holderKey{}).(*Holder)
	return h
}

// ConnFrom returns the connection bound to the holder in ctx.
func ConnFrom(ctx context.Context) (Conn, bool) {
	h := HolderFrom(ctx)
	if h == nil {
		return nil, false
	}
	conn := h.Get()
	return conn, conn != nil
}

// Current returns the ambient connection as its concrete adapter type.
//
//	conn, ok := txn.Current[*postgres.Conn](ctx)
func Current[T Conn](ctx context.Context) (T, bool) {
	var zero T
	conn, ok := ConnFrom(ctx)
	if !ok {
		return zero, false
	}
	typed, ok := conn.(T)
	return typed, ok
}
