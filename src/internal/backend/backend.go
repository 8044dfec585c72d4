// Package backend provides byte-addressable resources that an index can be written to and read
// from, each carrying its own lock.
package backend

import (
	"context"
	"io"

	"github.com/pachyderm/seekidx/src/internal/lock"
)

// Source reads a resource from the beginning.
type Source interface {
	io.ReadCloser
}

// Sink writes a resource sequentially, with positioned writes into what was already written.
type Sink interface {
	io.Writer
	// WriteAt overwrites bytes at off.  Buffered bytes are written first, so off may refer to
	// anything passed to Write before.  It does not move the sequential write position.
	WriteAt(p []byte, off int64) (int, error)
	// Flush pushes buffered bytes to the resource.
	Flush(ctx context.Context) error
	// Close flushes and releases the sink.
	Close(ctx context.Context) error
}

// Resource is a named, lockable resource.
type Resource interface {
	lock.Locker
	// Name identifies the resource in messages.
	Name() string
	Exists(ctx context.Context) (bool, error)
	OpenForRead(ctx context.Context) (Source, error)
	// OpenForWrite creates the resource, or truncates it if it exists.
	OpenForWrite(ctx context.Context) (Sink, error)
}
