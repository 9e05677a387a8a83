package transport

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/crane/pkg/api"
)

func TestContextRequestAccessors(t *testing.T) {
	req := httptest.NewRequest("POST", "/items?name=a%20b&tag=x&tag=y&flag", strings.NewReader("payload"))
	req.Header.Set("X-Tenant", "acme")
	c := NewContext(httptest.NewRecorder(), req)

	if c.Method() != "POST" {
		t.Errorf("Method() = %q, want POST", c.Method())
	}
	if c.Path() != "/items" {
		t.Errorf("Path() = %q, want /items", c.Path())
	}
	if c.Header("X-Tenant") != "acme" {
		t.Errorf("Header() = %q, want acme", c.Header("X-Tenant"))
	}
	if c.QueryParam("name") != "a b" {
		t.Errorf("QueryParam(name) = %q, want %q", c.QueryParam("name"), "a b")
	}
	if c.QueryParam("missing") != "" {
		t.Errorf("QueryParam(missing) = %q, want empty", c.QueryParam("missing"))
	}

	params := c.QueryParams()
	if params["tag"] != "y" {
		t.Errorf("QueryParams()[tag] = %q, want last value %q", params["tag"], "y")
	}
	if v, ok := params["flag"]; !ok || v != "" {
		t.Errorf("QueryParams()[flag] = %q (present=%v), want empty and present", v, ok)
	}

	body, _ := io.ReadAll(c.Body())
	if string(body) != "payload" {
		t.Errorf("Body() = %q, want payload", body)
	}
}

func TestContextTransactionalMarker(t *testing.T) {
	c, _ := newTestContext("POST", "/save")
	if c.IsTransactional() {
		t.Fatal("new context should not be transactional")
	}
	c.MarkTransactional()
	if !c.IsTransactional() {
		t.Fatal("expected context to be transactional after MarkTransactional")
	}
}

func TestContextText(t *testing.T) {
	c, rec := newTestContext("GET", "/ping")
	if err := c.Text(http.StatusOK, "pong"); err != nil {
		t.Fatalf("Text: %v", err)
	}

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("response = %d %q, want 200 pong", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=UTF-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !c.Written() || c.StatusCode() != http.StatusOK {
		t.Errorf("Written()=%v StatusCode()=%d, want true 200", c.Written(), c.StatusCode())
	}
}

func TestContextJSON(t *testing.T) {
	c, rec := newTestContext("GET", "/item")
	if err := c.JSON(http.StatusCreated, api.Saved(map[string]int{"id": 7})); err != nil {
		t.Fatalf("JSON: %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"id":7`) {
		t.Errorf("body = %s, want data.id", rec.Body.String())
	}
}

func TestContextJSONEncodingFailureLeavesResponseUnwritten(t *testing.T) {
	c, _ := newTestContext("GET", "/item")
	if err := c.JSON(http.StatusOK, make(chan int)); err == nil {
		t.Fatal("expected encoding error")
	}
	if c.Written() {
		t.Error("encoding failure must not mark the response written")
	}
}

func TestContextStatusOnly(t *testing.T) {
	c, rec := newTestContext("DELETE", "/item")
	if err := c.Status(http.StatusNoContent); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Errorf("response = %d %q, want 204 empty", rec.Code, rec.Body.String())
	}
}

func TestContextSecondWriteFails(t *testing.T) {
	c, rec := newTestContext("GET", "/ping")
	c.Text(http.StatusOK, "first")

	if err := c.Text(http.StatusOK, "second"); !errors.Is(err, ErrResponseWritten) {
		t.Errorf("second write error = %v, want ErrResponseWritten", err)
	}
	if rec.Body.String() != "first" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "first")
	}
}

func TestContextBindJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/save", strings.NewReader(`{"name":"crane"}`))
	c := NewContext(httptest.NewRecorder(), req)

	var body struct {
		Name string `json:"name"`
	}
	if err := c.BindJSON(&body); err != nil {
		t.Fatalf("BindJSON: %v", err)
	}
	if body.Name != "crane" {
		t.Errorf("Name = %q, want crane", body.Name)
	}
}

func TestContextBindJSONInvalid(t *testing.T) {
	req := httptest.NewRequest("POST", "/save", strings.NewReader(`{not json`))
	c := NewContext(httptest.NewRecorder(), req)

	var body map[string]any
	err := c.BindJSON(&body)

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *api.APIError, got %T: %v", err, err)
	}
	if apiErr.Type != api.ErrorTypeInvalidRequest {
		t.Errorf("error type = %q, want %q", apiErr.Type, api.ErrorTypeInvalidRequest)
	}
}
