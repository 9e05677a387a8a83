package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rhuss/crane/pkg/api"
)

// ErrResponseWritten is returned when a handler tries to write a second
// response for the same request.
var ErrResponseWritten = errors.New("response already written")

// Context is the per-request execution context. It is not safe for use by
// more than one goroutine at a time.
type Context struct {
	ctx           context.Context
	w             http.ResponseWriter
	r             *http.Request
	query         url.Values
	transactional bool
	written       bool
	status        int
}

// NewContext creates the execution context for one request. The request's
// context.Context becomes the initial value of Context().
func NewContext(w http.ResponseWriter, r *http.Request) *Context {
	return &Context{
		ctx: r.Context(),
		w:   w,
		r:   r,
	}
}

// Context returns the request-scoped context.Context.
func (c *Context) Context() context.Context {
	return c.ctx
}

// SetContext replaces the request-scoped context.Context. Middleware uses
// this to attach values that must be visible to everything it wraps.
func (c *Context) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// Request returns the underlying HTTP request.
func (c *Context) Request() *http.Request {
	return c.r
}

// ResponseWriter returns the underlying HTTP response writer. Writing to it
// directly bypasses Written() tracking.
func (c *Context) ResponseWriter() http.ResponseWriter {
	return c.w
}

// Method returns the request method as sent by the client.
func (c *Context) Method() string {
	return c.r.Method
}

// Path returns the decoded request path without the query string.
func (c *Context) Path() string {
	return c.r.URL.Path
}

// Header returns the first value of the named request header.
func (c *Context) Header(key string) string {
	return c.r.Header.Get(key)
}

// QueryParam returns the first value of the named query parameter, or ""
// when absent.
func (c *Context) QueryParam(key string) string {
	return c.queryValues().Get(key)
}

// QueryParams returns the query parameters flattened to one value per key.
// When a key repeats, the last value wins.
func (c *Context) QueryParams() map[string]string {
	values := c.queryValues()
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[len(v)-1]
		}
	}
	return params
}

func (c *Context) queryValues() url.Values {
	if c.query == nil {
		c.query = c.r.URL.Query()
	}
	return c.query
}

// Body returns the request body stream.
func (c *Context) Body() io.Reader {
	return c.r.Body
}

// BindJSON decodes the request body into v. Decoding failures are reported
// as an invalid request APIError so the recovery middleware answers 400.
func (c *Context) BindJSON(v any) error {
	if err := json.NewDecoder(c.r.Body).Decode(v); err != nil {
		return api.NewInvalidRequestError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// IsTransactional reports whether the matched route requires an ambient
// database transaction.
func (c *Context) IsTransactional() bool {
	return c.transactional
}

// MarkTransactional flags the request as requiring an ambient transaction.
// The dispatcher calls it before the pipeline runs.
func (c *Context) MarkTransactional() {
	c.transactional = true
}

// Written reports whether a response has already been sent.
func (c *Context) Written() bool {
	return c.written
}

// StatusCode returns the status of the written response, or 0 if nothing
// has been written yet.
func (c *Context) StatusCode() int {
	return c.status
}

// Status writes a header-only response with the given status code.
func (c *Context) Status(code int) error {
	if c.written {
		return ErrResponseWritten
	}
	c.markWritten(code)
	c.w.WriteHeader(code)
	return nil
}

// Text writes a plain text response.
func (c *Context) Text(code int, body string) error {
	return c.write(code, "text/plain; charset=UTF-8", []byte(body))
}

// JSON serializes v and writes it as a JSON response. Serialization happens
// before anything is sent, so an encoding failure leaves the response unwritten.
func (c *Context) JSON(code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return c.write(code, "application/json; charset=UTF-8", data)
}

// Error writes a structured error response, deriving the status code from
// the error type.
func (c *Context) Error(apiErr *api.APIError) error {
	return c.JSON(HTTPStatusFromError(apiErr), api.ErrorResponse{Error: apiErr})
}

func (c *Context) write(code int, contentType string, body []byte) error {
	if c.written {
		return ErrResponseWritten
	}
	c.markWritten(code)
	c.w.Header().Set("Content-Type", contentType)
	c.w.WriteHeader(code)
	if _, err := c.w.Write(body); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

func (c *Context) markWritten(code int) {
	c.written = true
	c.status = code
}
