package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with component scoping. All output goes to
// stderr: stdout is reserved for protocol frames in both MCP roles.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to stderr at the given level.
func New(level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return &Logger{slog.New(handler)}
}

// NewFromEnv creates a logger with the level taken from FLIPGOD_LOG_LEVEL
// (debug, info, warn, error). Unset or unrecognized values mean info.
func NewFromEnv() *Logger {
	return New(ParseLevel(os.Getenv("FLIPGOD_LOG_LEVEL")))
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a new logger with a component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{l.With("component", component)}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{slog.New(slog.DiscardHandler)}
}
