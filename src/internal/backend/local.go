package backend

import (
	"bufio"
	"context"
	"os"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/lock"
)

var _ Resource = &Local{}

// Local is a file on the local file system, locked with flock on <path>.lock.
type Local struct {
	*lock.FileLocker
	path string
}

// NewLocal returns a Local resource for path.
func NewLocal(path string) *Local {
	return &Local{FileLocker: lock.NewFileLocker(path), path: path}
}

func (l *Local) Name() string { return l.path }

func (l *Local) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errors.EnsureStack(err)
	}
	return true, nil
}

func (l *Local) OpenForRead(ctx context.Context) (Source, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &fileSource{Reader: bufio.NewReader(f), f: f}, nil
}

func (l *Local) OpenForWrite(ctx context.Context) (Sink, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	return newFileSink(f, nil), nil
}

type fileSource struct {
	*bufio.Reader
	f *os.File
}

func (s *fileSource) Close() error {
	return errors.EnsureStack(s.f.Close())
}

// fileSink buffers sequential writes to f.  onFlush, if set, runs after every flush with the
// buffer drained, with the context of that Flush or Close.
type fileSink struct {
	f       *os.File
	w       *bufio.Writer
	onFlush func(ctx context.Context) error
	closed  bool
}

func newFileSink(f *os.File, onFlush func(ctx context.Context) error) *fileSink {
	return &fileSink{f: f, w: bufio.NewWriter(f), onFlush: onFlush}
}

func (s *fileSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.EnsureStack(os.ErrClosed)
	}
	n, err := s.w.Write(p)
	return n, errors.EnsureStack(err)
}

func (s *fileSink) WriteAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, errors.EnsureStack(os.ErrClosed)
	}
	if err := s.w.Flush(); err != nil {
		return 0, errors.EnsureStack(err)
	}
	n, err := s.f.WriteAt(p, off)
	return n, errors.EnsureStack(err)
}

func (s *fileSink) Flush(ctx context.Context) error {
	if s.closed {
		return errors.EnsureStack(os.ErrClosed)
	}
	if err := s.w.Flush(); err != nil {
		return errors.EnsureStack(err)
	}
	if s.onFlush != nil {
		return s.onFlush(ctx)
	}
	return nil
}

func (s *fileSink) Close(ctx context.Context) (retErr error) {
	if s.closed {
		return nil
	}
	defer errors.Close(&retErr, s.f, "close file")
	if err := s.Flush(ctx); err != nil {
		s.closed = true
		return err
	}
	s.closed = true
	return errors.EnsureStack(s.f.Sync())
}
