package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else yields info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// NewJSONLogger writes JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *SlogLogger {
	return NewSlogLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// NewStdoutLogger is the server default.
func NewStdoutLogger(level slog.Level) *SlogLogger {
	return NewJSONLogger(os.Stdout, level)
}

// NewFileLogger writes JSON records to a size-rotated file. The returned
// closer flushes and closes the current segment.
func NewFileLogger(path string, maxSizeMB int, level slog.Level) (*SlogLogger, io.Closer) {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	return NewJSONLogger(w, level), w
}

// NewNopLogger discards everything.
func NewNopLogger() *SlogLogger {
	return NewJSONLogger(io.Discard, slog.LevelError)
}
