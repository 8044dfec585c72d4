package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

func TestBasics(t *testing.T) {
	ctx, logs := TestWithCapture(t)
	Debug(ctx, "hello")
	Info(ctx, "hello", zap.Int("n", 1))
	Error(ctx, "hello")

	var got []string
	for _, e := range logs.All() {
		got = append(got, e.Level.String()+": "+e.Message)
	}
	require.Equal(t, []string{"debug: hello", "info: hello", "error: hello"}, got)
	require.Equal(t, int64(1), logs.All()[1].ContextMap()["n"])
}

func TestSpan(t *testing.T) {
	ctx, logs := TestWithCapture(t)
	func() (retErr error) {
		defer Span(ctx, "ok")(Errorp(&retErr))
		return nil
	}()
	func() (retErr error) {
		defer Span(ctx, "bad")(Errorp(&retErr))
		return errors.New("boom")
	}()

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, "ok: span start", entries[0].Message)
	require.Equal(t, "ok: span finished ok", entries[1].Message)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, "bad: span failed", entries[3].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	require.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestResettableLevel(t *testing.T) {
	rl := NewResettableLevelAt(zapcore.InfoLevel)
	require.False(t, rl.Enabled(zapcore.DebugLevel))
	require.NoError(t, rl.UnmarshalText([]byte("debug")))
	require.True(t, rl.Enabled(zapcore.DebugLevel))
	require.Error(t, rl.UnmarshalText([]byte("chatty")))
	require.Equal(t, "debug", rl.String())
}

func TestContextInfo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.Equal(t, zapcore.SkipType, ContextInfo(ctx).Type)
	cancel()
	require.Equal(t, zapcore.ErrorType, ContextInfo(ctx).Type)
}
