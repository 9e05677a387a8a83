package auth

import (
	"log/slog"

	"github.com/rhuss/crane/pkg/api"
	"github.com/rhuss/crane/pkg/debug"
	"github.com/rhuss/crane/pkg/observability"
	"github.com/rhuss/crane/pkg/transport"
)

// DefaultBypassPaths lists the paths served without authentication.
var DefaultBypassPaths = []string{"/healthz", "/metrics"}

// Options configures the authentication middleware.
type Options struct {
	// Chain decides who the caller is. Required.
	Chain *Chain

	// Limiter, when set, is consulted after a successful authentication.
	Limiter Limiter

	// BypassPaths are passed through without authentication or rate
	// limiting.
	BypassPaths []string

	Logger *slog.Logger
}

// Middleware returns a transport.Middleware that authenticates each request
// with opts.Chain, enforces opts.Limiter and stores the identity in the
// request context.
//
// Rejections are returned as *api.APIError values (401 or 429) so the
// error-handling middleware renders them.
func Middleware(opts Options) transport.Middleware {
	if opts.Chain == nil {
		panic("auth: Middleware requires a Chain")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bypass := make(map[string]struct{}, len(opts.BypassPaths))
	for _, p := range opts.BypassPaths {
		bypass[p] = struct{}{}
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(c *transport.Context) error {
			if _, ok := bypass[c.Path()]; ok {
				return next.Handle(c)
			}

			res := opts.Chain.Authenticate(c)
			if res.Decision != Yes || res.Identity == nil {
				logger.Warn("authentication failed",
					slog.String("request_id", transport.RequestIDFromContext(c.Context())),
					slog.String("path", c.Path()),
					slog.String("remote_addr", c.Request().RemoteAddr),
					slog.Any("error", res.Err),
				)
				return api.NewUnauthorizedError(ErrUnauthenticated.Error())
			}

			id := res.Identity
			if id.Subject == "" {
				logger.Error("authenticator returned identity with empty subject")
				return api.NewServerError("internal authentication error")
			}

			if opts.Limiter != nil {
				if err := opts.Limiter.Allow(c.Context(), id); err != nil {
					logger.Warn("rate limit exceeded",
						slog.String("subject", id.Subject),
						slog.String("tier", id.ServiceTier),
					)
					observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(id.ServiceTier)).Inc()
					return api.NewTooManyRequestsError(err.Error())
				}
			}

			debug.Log(logger, debug.Auth, "authentication succeeded",
				"subject", id.Subject,
				"tenant", id.TenantID,
				"path", c.Path(),
			)

			c.SetContext(WithIdentity(c.Context(), id))
			return next.Handle(c)
		})
	}
}

func tierLabel(tier string) string {
	if tier == "" {
		return "default"
	}
	return tier
}
