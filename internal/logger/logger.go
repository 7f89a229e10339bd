// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	levelMu     sync.RWMutex
	globalLevel = slog.LevelInfo
)

// SetLevel sets the global log level from a string.
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	levelMu.Lock()
	defer levelMu.Unlock()
	globalLevel = level
}

// ParseLevel parses a string to an slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handler writes "[HH:MM:SS] [LEVEL] msg k=v" lines to one or more outputs.
type handler struct {
	mu   sync.Mutex
	outs []io.Writer
}

// Handle implements slog.Handler.
func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	levelMu.RLock()
	enabled := record.Level >= globalLevel
	levelMu.RUnlock()
	if !enabled {
		return nil
	}

	timestamp := record.Time.Format("15:04:05")
	message := record.Message

	var attrs []string
	record.Attrs(func(a slog.Attr) bool {
		if a.Key != "time" && a.Key != "level" && a.Key != "msg" {
			attrs = append(attrs, a.Key+"="+a.Value.String())
		}
		return true
	})
	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}

	line := "[" + timestamp + "] [" + strings.ToUpper(record.Level.String()) + "] " + message + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(line))
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *handler) WithGroup(name string) slog.Handler {
	return h
}

// Enabled implements slog.Handler.
func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return level >= globalLevel
}

// Init installs the default logger writing to the given outputs.
func Init(outputs ...io.Writer) {
	slog.SetDefault(slog.New(&handler{outs: outputs}))
}
