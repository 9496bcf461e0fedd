// Package logging configures the process-wide structured logger and hands out
// component-scoped children of it.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

var (
	mu     sync.RWMutex
	global = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// ParseLevel maps a level name onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// Init replaces the global logger and installs it as the slog default.
func Init(cfg Config) (*slog.Logger, error) {
	l, err := New(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	mu.Lock()
	global = l
	mu.Unlock()
	slog.SetDefault(l)
	return l, nil
}

// Global returns the process logger.
func Global() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Module returns a logger tagged with the component name.
func Module(name string) *slog.Logger {
	return Global().With("module", name)
}

// OrModule returns l, or the named module logger when l is nil.
func OrModule(l *slog.Logger, name string) *slog.Logger {
	if l != nil {
		return l
	}
	return Module(name)
}

// Discard is a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
