package index

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
)

// Opener is implemented by Writer and Reader.
type Opener interface {
	Open(ctx context.Context) error
}

// DefaultBackOff returns the backoff used by RetryOpen when none is given: exponential, up to
// one minute in total.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// RetryOpen calls o.Open until it succeeds, fails with anything other than ErrLockContention,
// b gives up or ctx is done.  A nil b means DefaultBackOff.
func RetryOpen(ctx context.Context, o Opener, b backoff.BackOff) error {
	if b == nil {
		b = DefaultBackOff()
	}
	err := backoff.RetryNotify(func() error {
		err := o.Open(ctx)
		if err != nil && !errors.Is(err, ErrLockContention) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		log.Debug(ctx, "resource busy; retrying open", zap.Error(err), zap.Duration("after", d))
	})
	return errors.EnsureStack(err)
}
