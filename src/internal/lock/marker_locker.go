package lock

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/obj"
	"github.com/pachyderm/seekidx/src/internal/uuid"
)

var _ Locker = &MarkerLocker{}

// MarkerLocker approximates a reader/writer lock in object storage.  A writer holds
// <name>.lock/writer; each reader holds <name>.lock/readers/<token>.  Acquiring checks for
// conflicting markers, puts its own marker, then checks again and backs off if a conflicting
// marker appeared in between.  Markers older than the TTL are ignored as abandoned, so a holder
// rewrites its marker every third of the TTL until Release.  Release only deletes a marker that
// still carries the handle's token.
//
// A marker that cannot be decoded is treated as abandoned once a TTL is set.  Puts are atomic
// on every obj.Client, so such a marker is corrupt rather than half written.  With no TTL it
// blocks the resource until it is deleted by hand.
//
// See the package documentation for why this is weaker than the other strategies.
type MarkerLocker struct {
	client obj.Client
	prefix string
	ttl    time.Duration
	token  string
	now    func() time.Time

	mu     sync.Mutex
	mode   Mode
	marker string
	stop   context.CancelFunc
}

// NewMarkerLocker returns a MarkerLocker for the object name in client.  A ttl <= 0 disables
// stale marker expiry.
func NewMarkerLocker(client obj.Client, name string, ttl time.Duration) *MarkerLocker {
	return &MarkerLocker{
		client: client,
		prefix: strings.Trim(name, "/") + ".lock/",
		ttl:    ttl,
		token:  uuid.NewWithoutDashes(),
		now:    time.Now,
	}
}

func (l *MarkerLocker) writerKey() string     { return l.prefix + "writer" }
func (l *MarkerLocker) readersPrefix() string { return l.prefix + "readers/" }

func (l *MarkerLocker) TryShared(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.mode {
	case Shared:
		return true, nil
	case Exclusive:
		return false, nil
	}
	if busy, err := l.writerLiveLocked(ctx, ""); err != nil || busy {
		if busy {
			contended("marker", Shared)
		}
		return false, err
	}
	key := l.readersPrefix() + l.token
	if err := l.putMarkerLocked(ctx, key); err != nil {
		return false, err
	}
	if busy, err := l.writerLiveLocked(ctx, ""); err != nil || busy {
		errors.JoinInto(&err, errors.Wrap(l.client.Delete(ctx, key), "withdraw reader marker"))
		if busy {
			contended("marker", Shared)
		}
		return false, err
	}
	l.holdLocked(ctx, Shared, key)
	return true, nil
}

func (l *MarkerLocker) TryExclusive(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != None {
		return false, nil
	}
	busy, err := l.writerLiveLocked(ctx, "")
	if err == nil && !busy {
		busy, err = l.readersLiveLocked(ctx)
	}
	if err != nil || busy {
		if busy {
			contended("marker", Exclusive)
		}
		return false, err
	}
	key := l.writerKey()
	if err := l.putMarkerLocked(ctx, key); err != nil {
		return false, err
	}
	// A concurrent writer may have replaced our marker; only withdraw it if it is still ours.
	busy, err = l.writerLiveLocked(ctx, l.token)
	if err == nil && !busy {
		if busy, err = l.readersLiveLocked(ctx); err == nil && busy {
			errors.JoinInto(&err, errors.Wrap(l.client.Delete(ctx, key), "withdraw writer marker"))
		}
	}
	if err != nil || busy {
		if busy {
			contended("marker", Exclusive)
		}
		return false, err
	}
	l.holdLocked(ctx, Exclusive, key)
	return true, nil
}

func (l *MarkerLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(ctx)
}

func (l *MarkerLocker) Held() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// holdLocked records the lock and starts rewriting its marker until release.
func (l *MarkerLocker) holdLocked(ctx context.Context, mode Mode, key string) {
	l.mode, l.marker = mode, key
	if l.ttl <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.stop = cancel
	go func() {
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			l.mu.Lock()
			if ctx.Err() != nil {
				l.mu.Unlock()
				return
			}
			err := l.refreshLocked(ctx)
			held := l.mode != None
			l.mu.Unlock()
			if err != nil {
				log.Error(ctx, "problem refreshing lock marker", zap.String("key", key), zap.Error(err))
			}
			if !held {
				return
			}
		}
	}()
}

// refreshLocked rewrites the held marker with the current time.  If the marker was deleted or
// taken over, the handle no longer holds the lock.
func (l *MarkerLocker) refreshLocked(ctx context.Context) error {
	if l.mode == None {
		return nil
	}
	key := l.marker
	m, ok, err := l.getMarkerLocked(ctx, key)
	if err != nil {
		return err
	}
	if !ok || m.token != l.token {
		l.dropLocked()
		return errors.Errorf("lock marker %s is no longer held by this handle", key)
	}
	return l.putMarkerLocked(ctx, key)
}

func (l *MarkerLocker) dropLocked() {
	if l.stop != nil {
		l.stop()
	}
	l.mode, l.marker, l.stop = None, "", nil
}

func (l *MarkerLocker) releaseLocked(ctx context.Context) error {
	if l.mode == None {
		return nil
	}
	key := l.marker
	l.dropLocked()
	m, ok, err := l.getMarkerLocked(ctx, key)
	if err != nil {
		return err
	}
	if !ok || m.token != l.token {
		log.Info(ctx, "lock marker is no longer ours; leaving it", zap.String("key", key))
		return nil
	}
	if err := l.client.Delete(ctx, key); err != nil {
		log.Error(ctx, "problem deleting lock marker", zap.String("key", key), zap.Error(err))
		return errors.Wrapf(err, "delete lock marker %s", key)
	}
	return nil
}

// writerLiveLocked reports whether a live writer marker exists that is not owned by except.
func (l *MarkerLocker) writerLiveLocked(ctx context.Context, except string) (bool, error) {
	m, ok, err := l.getMarkerLocked(ctx, l.writerKey())
	if err != nil || !ok {
		return false, err
	}
	if except != "" && m.token == except {
		return false, nil
	}
	return !l.staleLocked(ctx, l.writerKey(), m), nil
}

func (l *MarkerLocker) readersLiveLocked(ctx context.Context) (bool, error) {
	var keys []string
	if err := l.client.Walk(ctx, l.readersPrefix(), func(name string) error {
		keys = append(keys, name)
		return nil
	}); err != nil {
		return false, errors.Wrap(err, "list reader markers")
	}
	for _, key := range keys {
		m, ok, err := l.getMarkerLocked(ctx, key)
		if err != nil {
			return false, err
		}
		if ok && !l.staleLocked(ctx, key, m) {
			return true, nil
		}
	}
	return false, nil
}

func (l *MarkerLocker) staleLocked(ctx context.Context, key string, m marker) bool {
	if l.ttl <= 0 || l.now().Sub(m.created) <= l.ttl {
		return false
	}
	log.Info(ctx, "ignoring stale lock marker", zap.String("key", key), zap.Time("created", m.created), zap.Duration("ttl", l.ttl))
	return true
}

func (l *MarkerLocker) putMarkerLocked(ctx context.Context, key string) error {
	m := marker{token: l.token, created: l.now()}
	return errors.Wrapf(l.client.Put(ctx, key, bytes.NewReader(m.encode())), "put lock marker %s", key)
}

// getMarkerLocked returns the marker at key, with ok false if there is none.  An unreadable
// marker is reported as one owned by nobody and created at the zero time.
func (l *MarkerLocker) getMarkerLocked(ctx context.Context, key string) (marker, bool, error) {
	buf := &bytes.Buffer{}
	if err := l.client.Get(ctx, key, buf); err != nil {
		if obj.IsNotExist(err) {
			return marker{}, false, nil
		}
		return marker{}, false, errors.Wrapf(err, "get lock marker %s", key)
	}
	m, err := decodeMarker(buf.Bytes())
	if err != nil {
		log.Info(ctx, "unreadable lock marker", zap.String("key", key), zap.Error(err))
		return marker{}, true, nil
	}
	return m, true, nil
}

type marker struct {
	token   string
	created time.Time
}

// encode renders "<token> <unix nanos> <xxh3 of the preceding text>".
func (m marker) encode() []byte {
	body := m.token + " " + strconv.FormatInt(m.created.UnixNano(), 10)
	return []byte(fmt.Sprintf("%s %016x", body, xxh3.HashString(body)))
}

func decodeMarker(data []byte) (marker, error) {
	s := strings.TrimSpace(string(data))
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return marker{}, errors.Errorf("malformed marker %q", s)
	}
	body, sum := s[:i], s[i+1:]
	if fmt.Sprintf("%016x", xxh3.HashString(body)) != sum {
		return marker{}, errors.Errorf("marker checksum mismatch in %q", s)
	}
	token, nanos, ok := strings.Cut(body, " ")
	if !ok {
		return marker{}, errors.Errorf("malformed marker %q", s)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return marker{}, errors.Wrapf(err, "parse marker time %q", nanos)
	}
	return marker{token: token, created: time.Unix(0, n)}, nil
}
