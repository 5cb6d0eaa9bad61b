package logging

import (
	"context"
	"log/slog"
)

// ModuleKey is the attribute naming the component that logged a record.
const ModuleKey = "module"

// SlogLogger adapts *slog.Logger to Logger. Attributes stored in the
// context with ContextWith are added to every record logged with it.
type SlogLogger struct {
	l      *slog.Logger
	module string
}

func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

func (s *SlogLogger) log(ctx context.Context, level slog.Level, msg string, args []any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.l.Enabled(ctx, level) {
		return
	}
	if extra := FromContext(ctx); len(extra) > 0 {
		args = append(extra, args...)
	}
	s.l.Log(ctx, level, msg, args...)
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelDebug, msg, args)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelInfo, msg, args)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelWarn, msg, args)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.log(ctx, slog.LevelError, msg, args)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...), module: s.module}
}

// Module tags records with module=name. A module inside another one is
// logged as "parent.name".
func (s *SlogLogger) Module(name string) Logger {
	full := name
	if s.module != "" {
		full = s.module + "." + name
	}
	return &SlogLogger{l: s.l.With(ModuleKey, full), module: full}
}

type attrsKey struct{}

// ContextWith returns ctx carrying extra key/value pairs for every record
// logged with it, after the ones it already carries.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev := FromContext(ctx)
	return context.WithValue(ctx, attrsKey{}, append(prev, args...))
}

// FromContext returns a copy of the pairs stored by ContextWith.
func FromContext(ctx context.Context) []any {
	v, _ := ctx.Value(attrsKey{}).([]any)
	if len(v) == 0 {
		return nil
	}
	return append(make([]any, 0, len(v)+4), v...)
}
