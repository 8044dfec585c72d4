package backend

import (
	"bytes"
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/lock"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/obj"
)

var _ Resource = &Object{}

// Object is an object in an obj.Client.  Object storage has no partial writes, so a sink spools
// to a local temporary file and uploads the whole file on every Flush and on Close, using the
// context passed to that call.
type Object struct {
	lock.Locker
	client   obj.Client
	key      string
	spoolDir string
}

// NewObject returns a resource for key in client, locked by locker.  Sinks spool in spoolDir,
// or the system temporary directory if it is empty.
func NewObject(client obj.Client, key string, locker lock.Locker, spoolDir string) *Object {
	return &Object{Locker: locker, client: client, key: key, spoolDir: spoolDir}
}

func (o *Object) Name() string {
	u := o.client.BucketURL()
	u.Object = o.key
	return u.String()
}

func (o *Object) Exists(ctx context.Context) (bool, error) {
	return o.client.Exists(ctx, o.key) //nolint:wrapcheck
}

func (o *Object) OpenForRead(ctx context.Context) (Source, error) {
	if exists, err := o.client.Exists(ctx, o.key); err != nil {
		return nil, errors.EnsureStack(err)
	} else if !exists {
		return nil, obj.NewNotExist(o.client.BucketURL().String(), o.key)
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := o.client.Get(ctx, o.key, pw)
		pw.CloseWithError(err)
		done <- err
	}()
	return &pipeSource{PipeReader: pr, done: done}, nil
}

func (o *Object) OpenForWrite(ctx context.Context) (_ Sink, retErr error) {
	f, err := os.CreateTemp(o.spoolDir, "seekidx-spool-*")
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	defer func() {
		if retErr != nil {
			f.Close()           //nolint:errcheck
			os.Remove(f.Name()) //nolint:errcheck
		}
	}()
	// Truncate now, like a local file would be.
	if err := o.client.Put(ctx, o.key, bytes.NewReader(nil)); err != nil {
		return nil, errors.EnsureStack(err)
	}
	log.Debug(ctx, "spooling object writes", zap.String("object", o.Name()), zap.String("spool", f.Name()))
	upload := func(ctx context.Context) error {
		fi, err := f.Stat()
		if err != nil {
			return errors.EnsureStack(err)
		}
		return errors.Wrapf(o.client.Put(ctx, o.key, io.NewSectionReader(f, 0, fi.Size())), "upload %s", o.Name())
	}
	return &spoolSink{fileSink: newFileSink(f, upload), path: f.Name()}, nil
}

type pipeSource struct {
	*io.PipeReader
	done chan error
}

// Close stops the download and waits for it to finish.
func (s *pipeSource) Close() error {
	s.PipeReader.Close() //nolint:errcheck
	err := <-s.done
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	return err
}

type spoolSink struct {
	*fileSink
	path string
}

func (s *spoolSink) Close(ctx context.Context) error {
	err := s.fileSink.Close(ctx)
	if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		errors.JoinInto(&err, errors.Wrap(rerr, "remove spool file"))
	}
	return err
}
