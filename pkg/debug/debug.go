// Package debug provides category-gated debug logging for crane.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): logging.debug in config or CRANE_DEBUG
//   - Levels (HOW MUCH detail): logging.level in config or CRANE_LOG_LEVEL
//
// Usage:
//
//	debug.Log(logger, debug.Txn, "connection acquired", "wait", d)
//	if debug.Enabled(debug.Dispatch) { /* expensive formatting */ }
//
// Categories: txn, dispatch, auth, all.
// Levels: error, warn, info, debug, trace.
package debug

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// Known categories.
const (
	Txn      = "txn"
	Dispatch = "dispatch"
	Auth     = "auth"
	All      = "all"
)

// EnvVar names the environment variable holding the enabled categories.
const EnvVar = "CRANE_DEBUG"

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

var categories atomic.Pointer[map[string]bool]

func init() {
	set(parseCategories(os.Getenv(EnvVar)))
}

func set(m map[string]bool) {
	categories.Store(&m)
}

// Init enables the comma separated categories in list, replacing any
// previous selection.
func Init(list string) {
	set(parseCategories(list))
}

// Enabled reports whether debug output is active for category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m[All] || m[category]
}

// Log emits a debug record tagged with category when the category is
// enabled. A nil logger uses slog.Default().
func Log(l *slog.Logger, category, msg string, args ...any) {
	emit(l, slog.LevelDebug, category, msg, args)
}

// Trace is Log at LevelTrace.
func Trace(l *slog.Logger, category, msg string, args ...any) {
	emit(l, LevelTrace, category, msg, args)
}

func emit(l *slog.Logger, level slog.Level, category, msg string, args []any) {
	if !Enabled(category) {
		return
	}
	if l == nil {
		l = slog.Default()
	}
	l.Log(context.Background(), level, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order.
func Categories() []string {
	m := *categories.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
