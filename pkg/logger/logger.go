package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger represents a simple logger interface
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
	With(keyvals ...interface{}) Logger
}

type slogLogger struct {
	l *slog.Logger
}

// NewLogger creates a new logger with the specified level writing text to stdout
func NewLogger(level string) Logger {
	return New(os.Stdout, level, "text")
}

// New creates a logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{l: slog.New(h)}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return New(io.Discard, "error", "text")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func (s *slogLogger) Debug(msg string, keyvals ...interface{}) {
	s.l.Debug(msg, normalize(keyvals)...)
}

func (s *slogLogger) Info(msg string, keyvals ...interface{}) {
	s.l.Info(msg, normalize(keyvals)...)
}

func (s *slogLogger) Warn(msg string, keyvals ...interface{}) {
	s.l.Warn(msg, normalize(keyvals)...)
}

func (s *slogLogger) Error(msg string, keyvals ...interface{}) {
	s.l.Error(msg, normalize(keyvals)...)
}

func (s *slogLogger) With(keyvals ...interface{}) Logger {
	return &slogLogger{l: s.l.With(normalize(keyvals)...)}
}

// normalize pads odd-length key/value lists so a dangling key is still visible.
func normalize(keyvals []interface{}) []interface{} {
	if len(keyvals)%2 == 1 {
		return append(keyvals, "missing")
	}
	return keyvals
}
