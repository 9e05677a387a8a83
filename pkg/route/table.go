package route

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rhuss/crane/pkg/transport"
)

// Method is an HTTP method accepted by the routing table.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// ParseMethod upper-cases s and reports whether it names a supported method.
func ParseMethod(s string) (Method, bool) {
	switch m := Method(strings.ToUpper(s)); m {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
		return m, true
	default:
		return "", false
	}
}

// Descriptor binds a handler to a method and an exact path.
type Descriptor struct {
	Method        Method
	Path          string
	Handler       transport.Handler
	Transactional bool
}

type key struct {
	method Method
	path   string
}

// Table maps (method, path) pairs to descriptors.
type Table struct {
	mu     sync.RWMutex
	routes map[key]Descriptor
	frozen atomic.Bool
	logger *slog.Logger
}

// NewTable creates an empty routing table. A nil logger uses slog.Default().
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		routes: make(map[key]Descriptor),
		logger: logger,
	}
}

// Register inserts or overwrites the descriptor for (method, path). It
// returns true when an existing descriptor was replaced. Registering an
// unsupported method, an empty path, a nil handler, or registering after
// Freeze panics.
func (t *Table) Register(method Method, path string, h transport.Handler, transactional bool) bool {
	m, ok := ParseMethod(string(method))
	if !ok {
		panic(fmt.Sprintf("route: unsupported method %q", method))
	}
	if path == "" {
		panic("route: empty path")
	}
	if h == nil {
		panic(fmt.Sprintf("route: nil handler for %s %s", m, path))
	}
	if t.frozen.Load() {
		panic(fmt.Sprintf("route: register %s %s after the table was frozen", m, path))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{method: m, path: path}
	_, replaced := t.routes[k]
	t.routes[k] = Descriptor{Method: m, Path: path, Handler: h, Transactional: transactional}

	if replaced {
		t.logger.Warn("route overwritten",
			slog.String("method", string(m)),
			slog.String("path", path),
		)
	}
	return replaced
}

// Resolve returns the descriptor for the given method and path. The method
// is matched case-insensitively and the path exactly.
func (t *Table) Resolve(method, path string) (Descriptor, bool) {
	m, ok := ParseMethod(method)
	if !ok {
		return Descriptor{}, false
	}
	k := key{method: m, path: path}

	if t.frozen.Load() {
		d, ok := t.routes[k]
		return d, ok
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.routes[k]
	return d, ok
}

// Routes returns all descriptors sorted by path, then method.
func (t *Table) Routes() []Descriptor {
	t.mu.RLock()
	out := make([]Descriptor, 0, len(t.routes))
	for _, d := range t.routes {
		out = append(out, d)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Freeze makes the table read-only. Resolve no longer takes the lock once
// the table is frozen.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool {
	return t.frozen.Load()
}
