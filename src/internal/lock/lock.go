// Package lock provides non-blocking reader/writer locks over named resources.
//
// A Locker grants at most one of no lock, a shared lock or an exclusive lock per handle.  Every
// acquire attempts once and reports contention as (false, nil); errors are reserved for failures
// of the underlying mechanism.  Callers own any retry policy.
//
// Strategies differ in strength.  FileLocker and EtcdLocker provide real mutual exclusion.
// MarkerLocker approximates a lock with marker objects in object storage, which lacks a native
// lock primitive: two holders racing within the same instant can both observe the other's
// marker and back off, and a holder whose marker refreshes stop for longer than the TTL (a
// paused process, a partitioned network) can lose its lock to another holder.  It must never be treated as equivalent to the other strategies.
package lock

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mode is the kind of lock held by a handle.
type Mode int

const (
	// None means no lock is held.
	None Mode = iota
	// Shared is held by readers; any number may coexist.
	Shared
	// Exclusive is held by a single writer and excludes every other holder.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	}
	return "unknown"
}

// Locker is a non-blocking reader/writer lock over one named resource.
type Locker interface {
	// TryShared acquires a shared lock.  It returns false if an exclusive lock is held by this
	// handle or another holder, and true without side effects if this handle is already shared.
	TryShared(ctx context.Context) (bool, error)
	// TryExclusive acquires an exclusive lock.  It returns false if this handle already holds
	// any lock, or if any other holder does.
	TryExclusive(ctx context.Context) (bool, error)
	// Release drops whatever lock is held.  It is safe to call with no lock held.
	Release(ctx context.Context) error
	// Held reports the lock currently held by this handle.
	Held() Mode
}

var contentionMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seekidx",
	Subsystem: "lock",
	Name:      "contention_total",
	Help:      "The number of lock attempts that found the resource busy, by strategy and mode.",
}, []string{"strategy", "mode"})

func contended(strategy string, m Mode) {
	contentionMetric.WithLabelValues(strategy, m.String()).Inc()
}
