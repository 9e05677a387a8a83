package transport

import "github.com/google/uuid"

// RequestIDHeader is the header used to receive and echo request IDs.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns a unique request ID to each
// request. If the client sent an X-Request-ID header, that value is used.
// Otherwise, a new UUID is generated.
//
// The request ID is stored in the context (see RequestIDFromContext) and
// echoed in the X-Request-ID response header.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(c *Context) error {
			id := RequestIDFromContext(c.Context())
			if id == "" {
				id = c.Header(RequestIDHeader)
			}
			if id == "" {
				id = uuid.NewString()
			}
			c.SetContext(ContextWithRequestID(c.Context(), id))
			c.ResponseWriter().Header().Set(RequestIDHeader, id)
			return next.Handle(c)
		})
	}
}
