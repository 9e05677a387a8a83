package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rhuss/crane/pkg/api"
	"github.com/rhuss/crane/pkg/config"
	"github.com/rhuss/crane/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Driver = storage.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "notes.db")
	return &cfg
}

func startApp(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	srv, cleanup, err := buildServer(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(cleanup)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, headers ...string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func expectStatus(t *testing.T, got, want int, body string) {
	t.Helper()
	if got != want {
		t.Fatalf("status = %d, want %d: %s", got, want, body)
	}
}

func listNotes(t *testing.T, base string) []note {
	t.Helper()
	status, body := do(t, "GET", base+"/notes", "")
	expectStatus(t, status, http.StatusOK, body)

	var payload struct {
		Data []note `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decoding notes: %v", err)
	}
	return payload.Data
}

func TestPingWithoutDatabase(t *testing.T) {
	cfg := config.Defaults()
	ts := startApp(t, &cfg)

	status, body := do(t, "GET", ts.URL+"/ping", "")
	if status != http.StatusOK || body != "pong" {
		t.Errorf("response = %d %q, want 200 pong", status, body)
	}

	if status, _ = do(t, "GET", ts.URL+"/notes", ""); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404: notes routes need a database", status)
	}
}

func TestNotesLifecycle(t *testing.T) {
	ts := startApp(t, sqliteConfig(t))

	status, body := do(t, "POST", ts.URL+"/notes", `{"text":"first"}`)
	expectStatus(t, status, http.StatusCreated, body)

	var created struct {
		Data note `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatalf("decoding created note: %v", err)
	}
	if created.Data.Text != "first" || created.Data.ID == 0 {
		t.Errorf("created = %+v, want text first and an ID", created.Data)
	}

	notes := listNotes(t, ts.URL)
	if len(notes) != 1 || notes[0].Text != "first" {
		t.Fatalf("notes = %+v, want the created note", notes)
	}

	if status, _ = do(t, "GET", fmt.Sprintf("%s/note?id=%d", ts.URL, created.Data.ID), ""); status != http.StatusOK {
		t.Errorf("get status = %d, want 200", status)
	}

	status, body = do(t, "GET", ts.URL+"/note?id=9999", "")
	if status != http.StatusNotFound || !strings.Contains(body, api.MessageNotFound) {
		t.Errorf("missing note = %d %q, want 404 with %q", status, body, api.MessageNotFound)
	}

	if status, _ = do(t, "GET", ts.URL+"/note?id=abc", ""); status != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", status)
	}

	if status, _ = do(t, "DELETE", ts.URL+"/notes", ""); status != http.StatusOK {
		t.Errorf("delete status = %d, want 200", status)
	}
	if notes := listNotes(t, ts.URL); len(notes) != 0 {
		t.Errorf("notes after delete = %d, want 0", len(notes))
	}
}

func TestNotesValidation(t *testing.T) {
	ts := startApp(t, sqliteConfig(t))

	if status, _ := do(t, "POST", ts.URL+"/notes", `{"text":"  "}`); status != http.StatusBadRequest {
		t.Errorf("blank text status = %d, want 400", status)
	}
	if status, _ := do(t, "POST", ts.URL+"/notes", `{not json`); status != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", status)
	}

	status, body := do(t, "POST", ts.URL+"/notes", `{"text":"dup"}`)
	expectStatus(t, status, http.StatusCreated, body)
	status, body = do(t, "POST", ts.URL+"/notes", `{"text":"dup"}`)
	if status != http.StatusBadRequest || !strings.Contains(body, "already exists") {
		t.Errorf("duplicate = %d %q, want 400 already exists", status, body)
	}

	if notes := listNotes(t, ts.URL); len(notes) != 1 {
		t.Errorf("notes = %d, want 1", len(notes))
	}
}

func TestBatchIsAllOrNothing(t *testing.T) {
	ts := startApp(t, sqliteConfig(t))

	status, body := do(t, "POST", ts.URL+"/notes/batch", `[{"text":"a"},{"text":"b"},{"text":""}]`)
	expectStatus(t, status, http.StatusBadRequest, body)
	if notes := listNotes(t, ts.URL); len(notes) != 0 {
		t.Errorf("notes = %d, want 0: a failed batch must leave no rows behind", len(notes))
	}

	status, body = do(t, "POST", ts.URL+"/notes/batch", `[{"text":"a"},{"text":"b"}]`)
	expectStatus(t, status, http.StatusCreated, body)
	if notes := listNotes(t, ts.URL); len(notes) != 2 {
		t.Errorf("notes = %d, want 2", len(notes))
	}
}

func TestNotesWithInMemoryDatabase(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.Driver = storage.DriverSQLite
	cfg.Database.DSN = ":memory:"
	ts := startApp(t, &cfg)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/notes")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				errs <- fmt.Errorf("request %d: status %d: %s", i, resp.StatusCode, body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	status, body := do(t, "POST", ts.URL+"/notes", `{"text":"kept"}`)
	expectStatus(t, status, http.StatusCreated, body)
	if notes := listNotes(t, ts.URL); len(notes) != 1 {
		t.Errorf("notes = %d, want 1", len(notes))
	}
}

func TestHealthzWithDatabase(t *testing.T) {
	ts := startApp(t, sqliteConfig(t))

	if status, body := do(t, "GET", ts.URL+"/healthz", ""); status != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", status, body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.Type = "apikey"
	cfg.Auth.APIKeys = []config.APIKeyConfig{{Key: "sk-test", Subject: "alice"}}
	ts := startApp(t, &cfg)

	if status, _ := do(t, "GET", ts.URL+"/ping", ""); status != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", status)
	}

	status, body := do(t, "GET", ts.URL+"/ping", "", "Authorization", "Bearer sk-test")
	if status != http.StatusOK || body != "pong" {
		t.Errorf("valid key = %d %q, want 200 pong", status, body)
	}

	if status, _ := do(t, "GET", ts.URL+"/ping", "", "Authorization", "Bearer sk-wrong"); status != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", status)
	}

	if status, _ := do(t, "GET", ts.URL+"/healthz", ""); status != http.StatusOK {
		t.Errorf("healthz status = %d, want 200: health endpoint bypasses auth", status)
	}
}

func TestRateLimitWithoutAuth(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	ts := startApp(t, &cfg)

	for i := 0; i < 2; i++ {
		status, body := do(t, "GET", ts.URL+"/ping", "")
		expectStatus(t, status, http.StatusOK, body)
	}
	if status, _ := do(t, "GET", ts.URL+"/ping", ""); status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	cfg := config.Defaults()
	if mw := authMiddleware(cfg.Auth, discardLogger()); mw != nil {
		t.Error("expected no auth middleware without auth or rate limiting")
	}
}

func TestOpenPool(t *testing.T) {
	_, _, err := openPool(context.Background(), config.DatabaseConfig{})
	if !errors.Is(err, storage.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}

	_, _, err = openPool(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	if err == nil || !strings.Contains(err.Error(), "unsupported database driver") {
		t.Errorf("error = %v, want unsupported database driver", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level:\n%s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("warn line missing from JSON output:\n%s", out)
	}

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("details")
	if !strings.Contains(buf.String(), "msg=details") {
		t.Errorf("debug line missing from text output:\n%s", buf.String())
	}
}

func TestRoutesCommand(t *testing.T) {
	t.Setenv("CRANE_CONFIG", "")
	t.Setenv("CRANE_DATABASE_DRIVER", "sqlite")
	t.Setenv("CRANE_DATABASE_DSN", filepath.Join(t.TempDir(), "routes.db"))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"routes"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("routes: %v", err)
	}

	for _, want := range []string{"/ping", "/notes/batch", "DELETE"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("routes output missing %q:\n%s", want, out.String())
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "crane ") {
		t.Errorf("output = %q, want crane <version>", out.String())
	}
}
