// Package debug provides category-based debug logging for weiche.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): WEICHE_DEBUG env or the logging.debug config key
//   - Levels (HOW MUCH detail): WEICHE_LOG_LEVEL env or the logging.level config key
//
// Usage:
//
//	debug.Log("providers", "provider request", "vendor", v, "endpoint", url)
//	if debug.Enabled("normalize") { /* expensive formatting */ }
//
// Categories: providers, router, resilience, normalize, als, transport, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, raw provider bodies are written with Raw.
const LevelTrace = slog.LevelDebug - 4

// Options configures Init. Environment values override these.
type Options struct {
	Categories string
	Level      string

	// Format is "text" (default) or "json".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// categories holds the set of enabled debug categories. It is swapped
// atomically by Init so tests and late reconfiguration stay race-free.
var categories atomic.Pointer[map[string]bool]

func init() {
	setCategories(parseCategories(os.Getenv("WEICHE_DEBUG")))
}

// Init configures categories and installs the default slog logger.
func Init(opts Options) *slog.Logger {
	cats := os.Getenv("WEICHE_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	setCategories(parseCategories(cats))

	level := os.Getenv("WEICHE_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}
	format := os.Getenv("WEICHE_LOG_FORMAT")
	if format == "" {
		format = opts.Format
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(out, handlerOpts)
	} else {
		h = slog.NewTextHandler(out, handlerOpts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m["all"] || m[category]
}

// Log emits a debug message for the given category. A disabled category
// costs one map lookup.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes plain text to stderr when the category is enabled at TRACE.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level string to a slog.Level.
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

// Categories returns the enabled categories.
func Categories() []string {
	var result []string
	for k := range *categories.Load() {
		result = append(result, k)
	}
	return result
}

// Truncate returns s cut to maxLen bytes with "..." appended if cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Redact masks a secret for logging, keeping only the last four characters.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}

func setCategories(m map[string]bool) {
	categories.Store(&m)
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
