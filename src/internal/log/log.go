// Package log implements context-scoped structured logging on top of zap.
//
// A logger travels inside a context.Context.  Code logs with log.Debug(ctx, ...),
// log.Info(ctx, ...) and log.Error(ctx, ...); the logger's name and fields come from whoever
// created the context (see package pctx).  A context without a logger falls back to the global
// zap logger, after complaining about it in development builds.
package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a typed log field.  It is an alias of zap.Field so that zap's constructors can be used
// directly.
type Field = zap.Field

type loggerKey struct{}

// level is the process-wide level used by loggers built with InitLogger.
var level = NewResettableLevelAt(zapcore.InfoLevel)

// SetLevel changes the level of every logger built by InitLogger.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ParseLevel parses a level name ("debug", "info", "error", ...) and applies it with SetLevel.
func ParseLevel(s string) error {
	return level.UnmarshalText([]byte(s))
}

// InitLogger builds the process-wide logger and installs it as the zap global.  Logs go to stderr
// in a human-readable console format; SEEKIDX_LOG_FORMAT=json switches to JSON.
func InitLogger() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewConsoleEncoder(cfg)
	if os.Getenv("SEEKIDX_LOG_FORMAT") == "json" {
		enc = zapcore.NewJSONEncoder(cfg)
	}
	l := zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level), zap.AddCaller())
	zap.ReplaceGlobals(l)
	return l
}

// AddLogger returns a context carrying the global logger.
func AddLogger(ctx context.Context) context.Context {
	return withLogger(ctx, zap.L())
}

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return withLogger(ctx, l)
}

func withLogger(ctx context.Context, l *zap.Logger) context.Context {
	if l == nil {
		zap.L().DPanic("log: attempt to add nil logger to context")
		l = zap.L()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// HasLogger reports whether ctx carries a logger.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	l, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok && l != nil
}

func extractLogger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		zap.L().DPanic("log: nil context")
		return zap.L()
	}
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	zap.L().DPanic("log: context has no logger")
	return zap.L()
}

// LogOption modifies a child logger.
type LogOption func(l *zap.Logger) *zap.Logger

// WithFields adds fields to every line logged by the child.
func WithFields(fields ...Field) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.With(fields...)
	}
}

// WithOptions applies zap options to the child.
func WithOptions(opts ...zap.Option) LogOption {
	return func(l *zap.Logger) *zap.Logger {
		return l.WithOptions(opts...)
	}
}

// ChildLogger returns a context whose logger is named name (appended to the parent's name) and
// modified by opts.  An empty name keeps the parent's name.
func ChildLogger(ctx context.Context, name string, opts ...LogOption) context.Context {
	l := extractLogger(ctx)
	if name != "" {
		l = l.Named(name)
	}
	for _, opt := range opts {
		l = opt(l)
	}
	return withLogger(ctx, l)
}

// ContextInfo is a Field that records the state of ctx: its deadline and whether it's done.
func ContextInfo(ctx context.Context) Field {
	if ctx == nil {
		return zap.Skip()
	}
	if err := ctx.Err(); err != nil {
		return zap.NamedError("contextErr", context.Cause(ctx))
	}
	if d, ok := ctx.Deadline(); ok {
		return zap.Time("deadline", d)
	}
	return zap.Skip()
}

func logAt(ctx context.Context, lvl zapcore.Level, msg string, fields []Field) {
	l := extractLogger(ctx).WithOptions(zap.AddCallerSkip(2))
	if ce := l.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Debug logs a message at level debug.
func Debug(ctx context.Context, msg string, fields ...Field) {
	logAt(ctx, zapcore.DebugLevel, msg, fields)
}

// Info logs a message at level info.
func Info(ctx context.Context, msg string, fields ...Field) {
	logAt(ctx, zapcore.InfoLevel, msg, fields)
}

// Error logs a message at level error.
func Error(ctx context.Context, msg string, fields ...Field) {
	logAt(ctx, zapcore.ErrorLevel, msg, fields)
}
