package transport

// Handler processes a single request. The implementation writes its
// response through the Context and returns nil, or returns an error that
// propagates to the nearest enclosing error-handling middleware.
type Handler interface {
	Handle(c *Context) error
}

// HandlerFunc is an adapter that allows using an ordinary function
// as a Handler.
type HandlerFunc func(c *Context) error

// Handle calls f(c).
func (f HandlerFunc) Handle(c *Context) error {
	return f(c)
}
