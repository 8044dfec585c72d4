package log

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// Test returns a context whose logger writes to t.Log at level debug.
func Test(t testing.TB) context.Context {
	l := zaptest.NewLogger(t, zaptest.Level(zapcore.DebugLevel), zaptest.WrapOptions(zap.AddCaller(), zap.Development()))
	return withLogger(context.Background(), l)
}

// TestWithCapture returns a context whose logger records every entry, and the recorded logs.
func TestWithCapture(t testing.TB) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(zapcore.NewTee(core, zaptest.NewLogger(t).Core()), zap.Development())
	return withLogger(context.Background(), l), logs
}
