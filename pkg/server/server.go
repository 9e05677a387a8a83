// Package server is the application surface of crane: route registration,
// middleware registration, and the HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/crane/pkg/api"
	"github.com/rhuss/crane/pkg/dispatch"
	"github.com/rhuss/crane/pkg/observability"
	"github.com/rhuss/crane/pkg/route"
	"github.com/rhuss/crane/pkg/transport"
	"github.com/rhuss/crane/pkg/txn"
)

// Version is reported in the startup banner.
const Version = "1.0.0"

// Server owns the routing table and middleware list and serves them over
// HTTP. Routes and middleware must be registered before Start.
type Server struct {
	routes      *route.Table
	middleware  []transport.Middleware
	pool        txn.Pool
	coordinator *txn.Coordinator
	config      Config
	logger      *slog.Logger

	startOnce  sync.Once
	handler    http.Handler
	httpServer *http.Server
	startedAt  time.Time
}

// Config holds configuration for the server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AcquireTimeout  time.Duration
	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AcquireTimeout:  3 * time.Second,
		MetricsPath:     "/metrics",
	}
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.config.Addr = addr }
}

// WithReadTimeout sets the HTTP read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.config.ReadTimeout = d }
}

// WithWriteTimeout sets the HTTP write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.config.WriteTimeout = d }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithAcquireTimeout bounds how long a request waits for a database
// connection.
func WithAcquireTimeout(d time.Duration) Option {
	return func(s *Server) { s.config.AcquireTimeout = d }
}

// WithMetricsPath sets the Prometheus endpoint path. An empty path disables it.
func WithMetricsPath(path string) Option {
	return func(s *Server) { s.config.MetricsPath = path }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPool enables the transactional layer with connections from pool.
func WithPool(pool txn.Pool) Option {
	return func(s *Server) { s.pool = pool }
}

// New creates a server. Without WithPool the server runs without the
// transactional layer.
func New(opts ...Option) *Server {
	s := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes = route.NewTable(s.logger)
	if s.pool != nil {
		s.coordinator = txn.NewCoordinator(s.pool,
			txn.WithLogger(s.logger),
			txn.WithAcquireTimeout(s.config.AcquireTimeout),
		)
	}
	return s
}

// Get registers a GET route. GET routes are never transactional.
func (s *Server) Get(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodGet, path, h, false)
}

// Post registers a POST route.
func (s *Server) Post(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodPost, path, h, false)
}

// Put registers a PUT route.
func (s *Server) Put(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodPut, path, h, false)
}

// Delete registers a DELETE route.
func (s *Server) Delete(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodDelete, path, h, false)
}

// PostTransactional registers a POST route that runs inside a transaction.
func (s *Server) PostTransactional(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodPost, path, h, true)
}

// PutTransactional registers a PUT route that runs inside a transaction.
func (s *Server) PutTransactional(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodPut, path, h, true)
}

// DeleteTransactional registers a DELETE route that runs inside a transaction.
func (s *Server) DeleteTransactional(path string, h transport.HandlerFunc) {
	s.Handle(route.MethodDelete, path, h, true)
}

// Handle registers h for method and path. Registering a transactional route
// on a server without a pool logs a warning; the route then runs without a
// connection.
func (s *Server) Handle(method route.Method, path string, h transport.Handler, transactional bool) {
	if transactional && method == route.MethodGet {
		panic("server: GET routes cannot be transactional")
	}
	if transactional && s.pool == nil {
		s.logger.Warn("transactional route registered without a database",
			slog.String("method", string(method)),
			slog.String("path", path),
		)
	}
	s.routes.Register(method, path, h, transactional)
}

// Use appends middleware. Middleware runs in registration order, inside the
// built-in request ID, logging and recovery layers and outside the
// transaction coordinator.
func (s *Server) Use(mws ...transport.Middleware) {
	if s.routes.Frozen() {
		panic("server: Use called after Start")
	}
	s.middleware = append(s.middleware, mws...)
}

// Coordinator returns the transaction coordinator, or nil when no pool is
// configured. Use Coordinator().Transactional to call one transactional
// handler from another.
func (s *Server) Coordinator() *txn.Coordinator {
	return s.coordinator
}

// Routes returns the registered routes.
func (s *Server) Routes() []route.Descriptor {
	return s.routes.Routes()
}

// Start freezes routes and middleware and assembles the request pipeline.
// It is called by ListenAndServe, ServeOn and Handler, and only runs once.
func (s *Server) Start() {
	s.startOnce.Do(s.start)
}

func (s *Server) start() {
	s.startedAt = time.Now()
	s.logger.Info("CRANE FRAMEWORK", slog.String("version", Version))

	mws := []transport.Middleware{
		transport.RequestID(),
		transport.Logging(s.logger),
		transport.Recovery(s.logger),
	}
	mws = append(mws, s.middleware...)

	if s.coordinator != nil {
		mws = append(mws, s.coordinator.Middleware())
		s.logger.Info("transaction coordinator enabled",
			slog.Duration("acquire_timeout", s.config.AcquireTimeout),
		)
	} else {
		s.logger.Warn("database not configured, DB layer disabled")
	}

	s.routes.Freeze()
	s.logger.Info("routes registered", slog.Int("count", s.routes.Len()))
	for _, d := range s.routes.Routes() {
		s.logger.Debug("route registered",
			slog.String("method", string(d.Method)),
			slog.String("path", d.Path),
			slog.Bool("transactional", d.Transactional),
		)
	}

	d := dispatch.New(s.routes, s.logger, mws...)

	mux := http.NewServeMux()
	mux.Handle("/", observability.MetricsMiddleware(d))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.config.MetricsPath != "" {
		mux.Handle("GET "+s.config.MetricsPath, promhttp.Handler())
	}
	s.handler = mux

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if hc, ok := s.pool.(healthChecker); ok {
		if err := hc.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("health check failed", slog.String("error", err.Error()))
			transport.WriteErrorResponse(w, api.NewServerError("database unavailable"), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Handler returns the assembled HTTP handler, starting the server pipeline
// if needed.
func (s *Server) Handler() http.Handler {
	s.Start()
	return s.handler
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down,
// waiting for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	s.Start()
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ln)
}

// ServeOn serves on the given listener until a shutdown signal is received.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.serveWithContext(ctx, ln)
}

func (s *Server) serveWithContext(ctx context.Context, ln net.Listener) error {
	s.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("server started",
		slog.String("addr", "http://"+ln.Addr().String()),
		slog.Duration("startup", time.Since(s.startedAt)),
	)

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Start()
	return s.httpServer.Shutdown(ctx)
}
