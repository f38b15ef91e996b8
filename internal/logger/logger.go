// Package logger builds the process-wide slog.Logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to stderr. See NewWithWriter.
func New(level string, dev bool) *slog.Logger {
	return NewWithWriter(os.Stderr, level, dev)
}

// NewWithWriter returns a JSON logger, or a colorized text logger when dev
// is set.
func NewWithWriter(w io.Writer, level string, dev bool) *slog.Logger {
	lvl := ParseLevel(level)
	if dev {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
