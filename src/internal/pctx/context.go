package pctx

import (
	"context"
	"testing"

	"github.com/pachyderm/seekidx/src/internal/log"
	"go.uber.org/zap"
)

// TODO returns a context for code that will be updated to take a proper context.  It should
// not be used in new code.
func TODO() context.Context {
	return log.AddLogger(context.TODO())
}

// Background returns a root context for a process, carrying the global logger.
func Background(process string) context.Context {
	ctx := log.AddLogger(context.Background())
	return Child(ctx, process)
}

// TestContext returns a context for a test, logging to t.
func TestContext(t testing.TB) context.Context {
	return log.Test(t)
}

// Option is an option for customizing a child context.
type Option struct {
	modifyContext func(context.Context) context.Context
	modifyLogger  log.LogOption
}

// WithFields returns a context that includes additional fields that appear on each log line.
func WithFields(fields ...zap.Field) Option {
	return Option{
		modifyLogger: log.WithFields(fields...),
	}
}

// WithOptions returns a context that modifies the logger with additional zap options.
func WithOptions(opts ...zap.Option) Option {
	return Option{
		modifyLogger: log.WithOptions(opts...),
	}
}

// WithCancel returns a cancellable child context.  It exists so that callers of this package
// don't need to import both pctx and context for the common case.
func WithCancel(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

// Child returns a named child context, with additional options.  The new name can be empty.
func Child(ctx context.Context, name string, opts ...Option) context.Context {
	var logOptions []log.LogOption
	for _, opt := range opts {
		if o := opt.modifyLogger; o != nil {
			logOptions = append(logOptions, o)
		}
		if o := opt.modifyContext; o != nil {
			ctx = o(ctx)
		}
	}
	return log.ChildLogger(ctx, name, logOptions...)
}
