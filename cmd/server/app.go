package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/rhuss/crane/pkg/auth"
	"github.com/rhuss/crane/pkg/auth/apikey"
	"github.com/rhuss/crane/pkg/auth/jwt"
	"github.com/rhuss/crane/pkg/auth/noop"
	"github.com/rhuss/crane/pkg/config"
	"github.com/rhuss/crane/pkg/debug"
	"github.com/rhuss/crane/pkg/server"
	"github.com/rhuss/crane/pkg/storage"
	"github.com/rhuss/crane/pkg/storage/postgres"
	"github.com/rhuss/crane/pkg/storage/sqlite"
	"github.com/rhuss/crane/pkg/transport"
	"github.com/rhuss/crane/pkg/txn"
)

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}

func serve(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	debug.Init(cfg.Logging.Debug)
	if cats := debug.Categories(); len(cats) > 0 {
		logger.Info("debug categories enabled", slog.Any("categories", cats))
	}

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return srv.ListenAndServe()
}

// buildServer wires config into a ready-to-serve server. cleanup closes the
// database pool and is safe to call when none was opened.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Server, func(), error) {
	pool, closer, err := openPool(ctx, cfg.Database)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		logger.Info("no database driver configured")
	case err != nil:
		return nil, nil, err
	}
	cleanup := func() {
		if closer != nil {
			if err := closer.Close(); err != nil {
				logger.Warn("closing database pool", slog.String("error", err.Error()))
			}
		}
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	opts := []server.Option{
		server.WithAddr(cfg.Server.Addr()),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		server.WithAcquireTimeout(cfg.Database.AcquireTimeout),
		server.WithMetricsPath(metricsPath),
		server.WithLogger(logger),
	}
	if pool != nil {
		opts = append(opts, server.WithPool(pool))
	}
	srv := server.New(opts...)

	if mw := authMiddleware(cfg.Auth, logger); mw != nil {
		srv.Use(mw)
	}

	var notes noteStore
	if pool != nil {
		notes = newNoteStore(cfg.Database.Driver)
		if err := srv.Coordinator().InTransaction(ctx, notes.Migrate); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrating notes schema: %w", err)
		}
	}
	registerRoutes(srv, notes)

	return srv, cleanup, nil
}

// openPool opens the pool selected by cfg.Driver. It returns
// storage.ErrNotConfigured when no driver is set.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (txn.Pool, io.Closer, error) {
	switch cfg.Driver {
	case "":
		return nil, nil, storage.ErrNotConfigured
	case storage.DriverPostgres:
		p, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case storage.DriverSQLite:
		p, err := sqlite.Open(ctx, sqlite.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// authMiddleware builds the authentication middleware for cfg. It returns
// nil when neither authentication nor rate limiting is configured.
func authMiddleware(cfg config.AuthConfig, logger *slog.Logger) transport.Middleware {
	var limiter auth.Limiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = auth.NewSubjectLimiter(auth.Tier{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, nil)
	}

	chain := &auth.Chain{DefaultDecision: auth.No}
	switch cfg.Type {
	case "apikey":
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.Entry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					TenantID:    k.TenantID,
					ServiceTier: k.ServiceTier,
				},
			})
		}
		chain.Authenticators = append(chain.Authenticators, apikey.New(entries))
	case "jwt":
		chain.Authenticators = append(chain.Authenticators, jwt.New(jwt.Config{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			JWKSURL:  cfg.JWT.JWKSURL,
			Logger:   logger,
		}))
	default:
		if limiter == nil {
			return nil
		}
		chain.Authenticators = append(chain.Authenticators, noop.Authenticator{})
	}

	logger.Info("authentication enabled",
		slog.String("type", cfg.Type),
		slog.Bool("rate_limit", limiter != nil),
	)
	return auth.Middleware(auth.Options{
		Chain:       chain,
		Limiter:     limiter,
		BypassPaths: cfg.BypassPaths,
		Logger:      logger,
	})
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: debug.ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printRoutes(w io.Writer, srv *server.Server) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tTRANSACTIONAL")
	for _, d := range srv.Routes() {
		fmt.Fprintf(tw, "%s\t%s\t%t\n", d.Method, d.Path, d.Transactional)
	}
	tw.Flush()
}
