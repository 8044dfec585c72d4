package lock

import (
	"context"
	"path"
	"sync"
	"time"

	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/pctx"
	"github.com/pachyderm/seekidx/src/internal/uuid"
)

var _ Locker = &EtcdLocker{}

// EtcdLocker is a reader/writer lock in etcd.  The writer holds <prefix>/<name>/writer and each
// reader holds <prefix>/<name>/readers/<token>, all attached to a session lease so that a dead
// holder's keys expire with the lease.
type EtcdLocker struct {
	client        *etcd.Client
	writerKey     string
	readersPrefix string
	ttl           int
	token         string

	mu       sync.Mutex
	mode     Mode
	session  *concurrency.Session
	released chan struct{}
}

// NewEtcdLocker returns an EtcdLocker for name under prefix.  ttl is rounded up to whole seconds.
func NewEtcdLocker(client *etcd.Client, prefix, name string, ttl time.Duration) *EtcdLocker {
	base := path.Join(prefix, name)
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &EtcdLocker{
		client:        client,
		writerKey:     base + "/writer",
		readersPrefix: base + "/readers/",
		ttl:           secs,
		token:         uuid.NewWithoutDashes(),
	}
}

func (l *EtcdLocker) TryShared(ctx context.Context) (_ bool, retErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.mode {
	case Shared:
		return true, nil
	case Exclusive:
		return false, nil
	}
	ctx = pctx.Child(ctx, "", pctx.WithFields(zap.String("withLock", l.writerKey)))
	defer log.Span(ctx, "EtcdLocker.TryShared")(log.Errorp(&retErr))
	session, err := l.newSession(ctx)
	if err != nil {
		return false, err
	}
	resp, err := l.client.Txn(ctx).
		If(etcd.Compare(etcd.CreateRevision(l.writerKey), "=", 0)).
		Then(etcd.OpPut(l.readersPrefix+l.token, "", etcd.WithLease(session.Lease()))).
		Commit()
	if err != nil || !resp.Succeeded {
		errors.JoinInto(&err, session.Close())
		if err == nil {
			contended("etcd", Shared)
		}
		return false, errors.EnsureStack(err)
	}
	l.holdLocked(ctx, Shared, session)
	return true, nil
}

func (l *EtcdLocker) TryExclusive(ctx context.Context) (_ bool, retErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != None {
		return false, nil
	}
	ctx = pctx.Child(ctx, "", pctx.WithFields(zap.String("withLock", l.writerKey)))
	defer log.Span(ctx, "EtcdLocker.TryExclusive")(log.Errorp(&retErr))
	session, err := l.newSession(ctx)
	if err != nil {
		return false, err
	}
	// The put and the reader count are one transaction, so a reader either registered before
	// us and is counted, or runs after us and sees the writer key.
	resp, err := l.client.Txn(ctx).
		If(etcd.Compare(etcd.CreateRevision(l.writerKey), "=", 0)).
		Then(
			etcd.OpPut(l.writerKey, l.token, etcd.WithLease(session.Lease())),
			etcd.OpGet(l.readersPrefix, etcd.WithPrefix(), etcd.WithCountOnly()),
		).
		Commit()
	busy := err == nil && (!resp.Succeeded || resp.Responses[1].GetResponseRange().Count > 0)
	if err != nil || busy {
		// Revoking the lease withdraws the writer key if we put it.
		errors.JoinInto(&err, session.Close())
		if err == nil {
			contended("etcd", Exclusive)
		}
		return false, errors.EnsureStack(err)
	}
	l.holdLocked(ctx, Exclusive, session)
	return true, nil
}

func (l *EtcdLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(ctx)
}

func (l *EtcdLocker) Held() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *EtcdLocker) newSession(ctx context.Context) (*concurrency.Session, error) {
	// The session outlives the acquiring call; it ends on Release.
	session, err := concurrency.NewSession(l.client,
		concurrency.WithContext(context.WithoutCancel(ctx)),
		concurrency.WithTTL(l.ttl))
	return session, errors.EnsureStack(err)
}

func (l *EtcdLocker) holdLocked(ctx context.Context, m Mode, session *concurrency.Session) {
	l.mode, l.session = m, session
	released := make(chan struct{})
	l.released = released
	start := time.Now()
	log.Debug(ctx, "acquired lock ok", zap.Stringer("mode", m))
	go func() {
		select {
		case <-released:
		case <-session.Done():
			select {
			case <-released:
				return
			default:
			}
			log.Error(ctx, "lock's session expired before release", zap.Stringer("mode", m), zap.Duration("lockLifetime", time.Since(start)))
		}
	}()
}

func (l *EtcdLocker) releaseLocked(ctx context.Context) (retErr error) {
	if l.mode == None {
		return nil
	}
	defer log.Span(ctx, "EtcdLocker.Release", zap.String("key", l.writerKey), zap.Stringer("mode", l.mode))(log.Errorp(&retErr))
	close(l.released)
	session := l.session
	l.mode, l.session, l.released = None, nil, nil
	return errors.EnsureStack(session.Close())
}
