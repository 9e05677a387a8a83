package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rhuss/crane/pkg/api"
)

func newTestContext(method, target string) (*Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	return NewContext(rec, httptest.NewRequest(method, target, nil)), rec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(c *Context) error {
				order = append(order, name+":before")
				err := next.Handle(c)
				order = append(order, name+":after")
				return err
			})
		}
	}

	handler := HandlerFunc(func(c *Context) error {
		order = append(order, "handler")
		return nil
	})

	chain := Chain(mw("first"), mw("second"), mw("third"))
	wrapped := chain(handler)

	c, _ := newTestContext("GET", "/")
	wrapped.Handle(c)

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestChainEmptyReturnsHandler(t *testing.T) {
	called := false
	handler := HandlerFunc(func(c *Context) error {
		called = true
		return nil
	})

	c, _ := newTestContext("GET", "/")
	Chain()(handler).Handle(c)

	if !called {
		t.Error("expected handler to be called through an empty chain")
	}
}

func TestChainPropagatesErrorsOutward(t *testing.T) {
	sentinel := errors.New("boom")
	var seen []error

	observe := func(next Handler) Handler {
		return HandlerFunc(func(c *Context) error {
			err := next.Handle(c)
			seen = append(seen, err)
			return err
		})
	}

	handler := HandlerFunc(func(c *Context) error { return sentinel })
	c, _ := newTestContext("GET", "/")
	err := Chain(observe, observe)(handler).Handle(c)

	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected both layers to observe the error, got %d", len(seen))
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := HandlerFunc(func(c *Context) error {
		panic("test panic")
	})

	c, rec := newTestContext("GET", "/")
	err := Recovery(discardLogger())(handler).Handle(c)

	if err != nil {
		t.Fatalf("expected panic to be handled, got %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error.Type != api.ErrorTypeServerError {
		t.Errorf("error type = %q, want %q", resp.Error.Type, api.ErrorTypeServerError)
	}
	if !strings.Contains(resp.Error.Message, "test panic") {
		t.Errorf("error message = %q, should contain %q", resp.Error.Message, "test panic")
	}
}

func TestRecoveryConvertsErrorToStructuredResponse(t *testing.T) {
	handler := HandlerFunc(func(c *Context) error {
		return errors.New("save failed")
	})

	c, rec := newTestContext("POST", "/save")
	if err := Recovery(discardLogger())(handler).Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var resp api.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp.Error.Code != api.CodeInternal {
		t.Errorf("error code = %q, want %q", resp.Error.Code, api.CodeInternal)
	}
	if resp.Error.Message != "save failed" {
		t.Errorf("error message = %q, want %q", resp.Error.Message, "save failed")
	}
}

func TestRecoveryKeepsAPIErrorStatus(t *testing.T) {
	handler := HandlerFunc(func(c *Context) error {
		return api.NewInvalidRequestError("name", "is required")
	})

	c, rec := newTestContext("POST", "/save")
	Recovery(discardLogger())(handler).Handle(c)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRecoveryDoesNotWriteTwice(t *testing.T) {
	handler := HandlerFunc(func(c *Context) error {
		c.Text(http.StatusAccepted, "partial")
		return errors.New("late failure")
	})

	c, rec := newTestContext("POST", "/save")
	if err := Recovery(discardLogger())(handler).Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "partial")
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	handler := HandlerFunc(func(c *Context) error {
		return c.Text(http.StatusOK, "ok")
	})

	c, rec := newTestContext("GET", "/")
	if err := Recovery(discardLogger())(handler).Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := HandlerFunc(func(c *Context) error {
		capturedID = RequestIDFromContext(c.Context())
		return nil
	})

	c, rec := newTestContext("GET", "/")
	RequestID()(handler).Handle(c)

	if capturedID == "" {
		t.Fatal("expected a generated request ID, got empty string")
	}
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Errorf("request ID %q is not a UUID: %v", capturedID, err)
	}
	if got := rec.Header().Get(RequestIDHeader); got != capturedID {
		t.Errorf("response header = %q, want %q", got, capturedID)
	}
}

func TestRequestIDPropagatesHeader(t *testing.T) {
	var capturedID string

	handler := HandlerFunc(func(c *Context) error {
		capturedID = RequestIDFromContext(c.Context())
		return nil
	})

	c, _ := newTestContext("GET", "/")
	c.Request().Header.Set(RequestIDHeader, "existing-id-123")
	RequestID()(handler).Handle(c)

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := HandlerFunc(func(c *Context) error {
		ids[RequestIDFromContext(c.Context())] = true
		return nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		c, _ := newTestContext("GET", "/")
		wrapped.Handle(c)
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := HandlerFunc(func(c *Context) error {
		return c.Text(http.StatusOK, "pong")
	})

	c, _ := newTestContext("GET", "/ping")
	c.SetContext(ContextWithRequestID(c.Context(), "req-log-test"))
	Logging(logger)(handler).Handle(c)

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "method=GET", "path=/ping", "status=200", "request completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := HandlerFunc(func(c *Context) error {
		return api.NewServerError("test failure")
	})

	c, _ := newTestContext("POST", "/save")
	Logging(logger)(handler).Handle(c)

	output := buf.String()
	if !strings.Contains(output, "request failed") {
		t.Errorf("log output missing 'request failed' in:\n%s", output)
	}
	if !strings.Contains(output, "test failure") {
		t.Errorf("log output missing error message in:\n%s", output)
	}
}
