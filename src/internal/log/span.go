package log

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the level at which to generate Span logs.
type Level int

const (
	DebugLevel Level = 1
	InfoLevel  Level = 2
	ErrorLevel Level = 3
)

func (l Level) coreLevel() zapcore.Level {
	switch l { //exhaustive:enforce
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	}
	zap.L().DPanic("unknown log level in (log.Level).coreLevel", zap.Int("level", int(l)))
	return zapcore.DebugLevel
}

// EndSpanFunc is a function that ends a span.
type EndSpanFunc = func(fields ...Field)

const errorpType = zapcore.InlineMarshalerType + 100

// Errorp is a Field that marks a span as failed if *err is non-nil when the span ends.  Spans
// that fail are logged at level error regardless of the level they started at.
func Errorp(err *error) Field {
	return zapcore.Field{
		Key:       "error",
		Type:      errorpType,
		Interface: err,
	}
}

type spanStatus string

const (
	spanStarting spanStatus = "span start"
	spanOK       spanStatus = "span finished ok"
	spanFailed   spanStatus = "span failed"
)

func makeSpanEndFunc(ctx context.Context, l *zap.Logger, event string, level Level, start time.Time) EndSpanFunc {
	return func(rawFields ...Field) {
		fields := []zap.Field{zap.Duration("spanDuration", time.Since(start))}
		msg := spanOK
		for _, f := range rawFields {
			if f.Type == errorpType {
				if errp, ok := f.Interface.(*error); ok && *errp != nil {
					msg = spanFailed
					level = ErrorLevel
					fields = append(fields, zap.Error(*errp))
				}
				continue
			}
			if f.Type == zapcore.ErrorType && f.Interface != nil {
				msg = spanFailed
				level = ErrorLevel
			}
			fields = append(fields, f)
		}
		if e := l.Check(level.coreLevel(), event+": "+string(msg)); e != nil {
			fields = append(fields, ContextInfo(ctx))
			e.Write(fields...)
		}
	}
}

// SpanContextL starts a new span, returning a context with a logger scoped to that span and a
// function to end the span.  To end a span in failure pass log.Errorp(&err) or zap.Error(err)
// to the end function.
//
// The returned EndSpanFunc must be called from defer().
func SpanContextL(rctx context.Context, event string, level Level, fields ...Field) (context.Context, EndSpanFunc) {
	l := extractLogger(rctx).Named(event).With(fields...)
	if e := l.WithOptions(zap.AddCallerSkip(1)).Check(level.coreLevel(), event+": "+string(spanStarting)); e != nil {
		e.Write(ContextInfo(rctx))
	}
	ctx := withLogger(rctx, l)
	return ctx, makeSpanEndFunc(ctx, l, event, level, time.Now())
}

// SpanContext starts a new span at level debug.
func SpanContext(rctx context.Context, event string, fields ...Field) (context.Context, EndSpanFunc) {
	return SpanContextL(rctx, event, DebugLevel, fields...)
}

// Span starts a new span at level debug, returning only the end function.
func Span(ctx context.Context, event string, fields ...Field) EndSpanFunc {
	_, end := SpanContextL(ctx, event, DebugLevel, fields...)
	return end
}
