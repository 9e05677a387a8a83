// Package transport defines the handler contract, the per-request execution
// context, and the middleware chain for the crane request core.
//
// # Handler
//
// A [Handler] receives the per-request [Context] and either writes a response
// through it and returns nil, or returns an error. Errors propagate outward
// through the middleware chain until a layer handles them by writing a
// response (see [Recovery]).
//
// # Context
//
// A [Context] is created exactly once per inbound request by the dispatcher
// and is owned by the goroutine serving that request. It exposes the request
// (method, path, headers, query parameters, body) and a small response
// surface (status-only, text, JSON, structured error). It also carries a
// context.Context that request-scoped collaborators, such as the
// transactional connection holder, attach values to.
//
// # Middleware
//
// [Middleware] wraps a Handler to add cross-cutting behavior. [Chain] composes
// middleware so that the first one is the outermost layer: it runs first on
// the way in and last on the way out. Built-in middleware provides request
// ID assignment (X-Request-ID), structured logging via log/slog, and error
// and panic recovery into structured JSON responses.
package transport
