package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/stepfile/internal/config"
)

// Logger wraps a slog.Logger and the optional log file it tees into, so
// users can inspect failures after the terminal output is gone.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds a logger writing to w and, when the project config names a log
// file, appending to that file as well.
func New(cfg *config.Config, w io.Writer) (*Logger, error) {
	level, format := "info", "text"
	var path string
	if cfg != nil {
		level, format = cfg.Project.Log.Level, cfg.Project.Log.Format
		path = cfg.LogFilePath()
	}
	l := &Logger{}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		if w == nil {
			w = f
		} else {
			w = io.MultiWriter(w, f)
		}
	}
	if w == nil {
		w = io.Discard
	}
	l.Logger = NewSlog(level, format, w)
	return l, nil
}

// NewSlog creates a slog.Logger for the given level and format. Unknown
// levels fall back to info, unknown formats to text.
func NewSlog(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

type ctxKey struct{}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts the logger stored by WithLogger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
