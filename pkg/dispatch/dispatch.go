// Package dispatch turns HTTP requests into pipeline executions. It
// resolves the route, builds the per-request Context and runs the composed
// middleware chain around the route handler.
package dispatch

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/rhuss/crane/pkg/api"
	dbg "github.com/rhuss/crane/pkg/debug"
	"github.com/rhuss/crane/pkg/route"
	"github.com/rhuss/crane/pkg/transport"
)

// Dispatcher is an http.Handler serving the routes of a Table. net/http runs
// every request on its own goroutine, so a slow or blocked request never
// holds up another one.
type Dispatcher struct {
	routes *route.Table
	chain  transport.Middleware
	logger *slog.Logger
}

// New creates a Dispatcher. The middleware list is composed once; the first
// element is the outermost layer.
func New(routes *route.Table, logger *slog.Logger, mws ...transport.Middleware) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes: routes,
		chain:  transport.Chain(mws...),
		logger: logger,
	}
}

// ServeHTTP dispatches one request. Unknown routes get an empty 404 and
// never enter the pipeline.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	desc, ok := d.routes.Resolve(r.Method, r.URL.Path)
	if !ok {
		dbg.Log(d.logger, dbg.Dispatch, "no route", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	dbg.Log(d.logger, dbg.Dispatch, "route resolved",
		"method", r.Method,
		"path", r.URL.Path,
		"transactional", desc.Transactional,
	)

	c := transport.NewContext(w, r)
	if desc.Transactional {
		c.MarkTransactional()
	}

	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic escaped pipeline",
				slog.String("request_id", transport.RequestIDFromContext(c.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			d.fail(c)
		}
	}()

	if err := d.chain(desc.Handler).Handle(c); err != nil {
		d.logger.Error("error escaped pipeline",
			slog.String("request_id", transport.RequestIDFromContext(c.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		d.fail(c)
	}
}

// fail answers with a generic server error unless a response is already
// on its way.
func (d *Dispatcher) fail(c *transport.Context) {
	if c.Written() {
		return
	}
	if err := c.Error(api.NewServerError(http.StatusText(http.StatusInternalServerError))); err != nil {
		d.logger.Error("writing fallback response", slog.String("error", err.Error()))
	}
}
