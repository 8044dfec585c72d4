package lock

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
)

var _ Locker = &FileLocker{}

// FileLocker locks a local file with flock(2) on a companion file, <path>.lock.  The lock
// file is left in place on release; removing it would let two holders lock different inodes.
type FileLocker struct {
	path string

	mu   sync.Mutex
	f    *os.File
	mode Mode
}

// NewFileLocker returns a FileLocker for the resource at path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path + ".lock"}
}

// Path returns the path of the companion lock file.
func (l *FileLocker) Path() string {
	return l.path
}

func (l *FileLocker) TryShared(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.mode {
	case Shared:
		return true, nil
	case Exclusive:
		return false, nil
	}
	return l.flockLocked(ctx, Shared)
}

func (l *FileLocker) TryExclusive(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mode != None {
		return false, nil
	}
	return l.flockLocked(ctx, Exclusive)
}

func (l *FileLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(ctx)
}

func (l *FileLocker) Held() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *FileLocker) flockLocked(ctx context.Context, m Mode) (bool, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return false, errors.Wrapf(err, "open lock file %s", l.path)
	}
	how := unix.LOCK_SH
	if m == Exclusive {
		how = unix.LOCK_EX
	}
	for {
		err = unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close() //nolint:errcheck
		if errors.Is(err, unix.EWOULDBLOCK) {
			contended("file", m)
			log.Debug(ctx, "file lock busy", zap.String("path", l.path), zap.Stringer("mode", m))
			return false, nil
		}
		return false, errors.Wrapf(err, "flock %s", l.path)
	}
	l.f, l.mode = f, m
	return true, nil
}

func (l *FileLocker) releaseLocked(ctx context.Context) error {
	if l.mode == None {
		return nil
	}
	f := l.f
	l.f, l.mode = nil, None
	err := errors.Wrapf(unix.Flock(int(f.Fd()), unix.LOCK_UN), "unlock %s", l.path)
	if cerr := f.Close(); cerr != nil {
		errors.JoinInto(&err, errors.Wrap(cerr, "close lock file"))
	}
	if err != nil {
		log.Error(ctx, "problem releasing file lock", zap.String("path", l.path), zap.Error(err))
	}
	return err
}
