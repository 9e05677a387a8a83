package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/crane/pkg/api"
)

// Recovery returns the error-handling middleware. It catches errors and
// panics raised by the layers it wraps and converts them to structured JSON
// error responses, so the request ends with a well-formed response and the
// error stops propagating.
//
// An *api.APIError keeps its type and is answered with the matching status
// code. Any other error becomes a 500 server_error whose message is the
// error text. If the handler already wrote a response before failing, the
// error is only logged.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Context) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						slog.String("request_id", RequestIDFromContext(c.Context())),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
					retErr = respondError(c, logger, fmt.Errorf("internal server error: %v", r))
				}
			}()

			if err := next.Handle(c); err != nil {
				return respondError(c, logger, err)
			}
			return nil
		})
	}
}

// respondError writes err as a structured error response. It returns a
// non-nil error only when the response itself could not be written.
func respondError(c *Context, logger *slog.Logger, err error) error {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}

	status := HTTPStatusFromError(apiErr)
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	logger.LogAttrs(c.Context(), level, "handler error",
		slog.String("request_id", RequestIDFromContext(c.Context())),
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	if c.Written() {
		return nil
	}
	return c.Error(apiErr)
}
