package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// Logging returns middleware that emits one structured log entry per
// request with method, path, status, duration, and request ID (from
// context). Requests that end with a 5xx status or an escaping error are
// logged at error level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Context) error {
			start := time.Now()

			err := next.Handle(c)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(c.Context())),
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.Int("status", c.StatusCode()),
				slog.Bool("transactional", c.IsTransactional()),
				slog.Duration("duration", time.Since(start)),
			}

			switch {
			case err != nil:
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(c.Context(), slog.LevelError, "request failed", attrs...)
			case c.StatusCode() >= http.StatusInternalServerError:
				logger.LogAttrs(c.Context(), slog.LevelError, "request failed", attrs...)
			default:
				logger.LogAttrs(c.Context(), slog.LevelInfo, "request completed", attrs...)
			}

			return err
		})
	}
}
