package lock

import (
	"context"
	"sync"
)

var _ Locker = &MemLocker{}

// MemTable is a process-local table of reader/writer locks keyed by name.
type MemTable struct {
	mu      sync.Mutex
	readers map[string]int
	writers map[string]bool
}

// NewMemTable returns an empty table.
func NewMemTable() *MemTable {
	return &MemTable{readers: map[string]int{}, writers: map[string]bool{}}
}

var defaultMemTable = NewMemTable()

// MemLocker locks a name in a MemTable.
type MemLocker struct {
	name  string
	table *MemTable

	mu   sync.Mutex
	mode Mode
}

// NewMemLocker returns a MemLocker for name in the process-wide table.
func NewMemLocker(name string) *MemLocker {
	return defaultMemTable.Locker(name)
}

// Locker returns a new handle on name in t.
func (t *MemTable) Locker(name string) *MemLocker {
	return &MemLocker{name: name, table: t}
}

func (l *MemLocker) TryShared(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.mode {
	case Shared:
		return true, nil
	case Exclusive:
		return false, nil
	}
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writers[l.name] {
		contended("mem", Shared)
		return false, nil
	}
	t.readers[l.name]++
	l.mode = Shared
	return true, nil
}

func (l *MemLocker) TryExclusive(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != None {
		return false, nil
	}
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writers[l.name] || t.readers[l.name] > 0 {
		contended("mem", Exclusive)
		return false, nil
	}
	t.writers[l.name] = true
	l.mode = Exclusive
	return true, nil
}

func (l *MemLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
	return nil
}

func (l *MemLocker) Held() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *MemLocker) releaseLocked() {
	t := l.table
	t.mu.Lock()
	defer t.mu.Unlock()
	switch l.mode {
	case Shared:
		if t.readers[l.name]--; t.readers[l.name] <= 0 {
			delete(t.readers, l.name)
		}
	case Exclusive:
		delete(t.writers, l.name)
	}
	l.mode = None
}
