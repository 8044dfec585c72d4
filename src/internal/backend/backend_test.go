package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/seekidx/src/internal/config"
	"github.com/pachyderm/seekidx/src/internal/lock"
	"github.com/pachyderm/seekidx/src/internal/obj"
	"github.com/pachyderm/seekidx/src/internal/pctx"
	"github.com/pachyderm/seekidx/src/internal/uuid"
)

func readAll(t *testing.T, r Resource) []byte {
	t.Helper()
	ctx := pctx.TestContext(t)
	src, err := r.OpenForRead(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(src)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	return data
}

// testResource checks the Sink and Source contract of a fresh resource.
func testResource(t *testing.T, newResource func(t *testing.T) Resource) {
	t.Run("Lifecycle", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		r := newResource(t)
		exists, err := r.Exists(ctx)
		require.NoError(t, err)
		require.False(t, exists)

		sink, err := r.OpenForWrite(ctx)
		require.NoError(t, err)
		exists, err = r.Exists(ctx)
		require.NoError(t, err)
		require.True(t, exists)

		_, err = sink.Write([]byte("hello world"))
		require.NoError(t, err)
		require.NoError(t, sink.Flush(ctx))
		require.NoError(t, sink.Flush(ctx))
		require.Equal(t, "hello world", string(readAll(t, r)))

		_, err = sink.Write([]byte("!"))
		require.NoError(t, err)
		_, err = sink.WriteAt([]byte("HELLO"), 0)
		require.NoError(t, err)
		_, err = sink.Write([]byte("?"))
		require.NoError(t, err)
		require.NoError(t, sink.Close(ctx))
		require.NoError(t, sink.Close(ctx))
		require.Equal(t, "HELLO world!?", string(readAll(t, r)))

		_, err = sink.Write([]byte("late"))
		require.ErrorIs(t, err, os.ErrClosed)
	})

	t.Run("OpenForWriteTruncates", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		r := newResource(t)
		sink, err := r.OpenForWrite(ctx)
		require.NoError(t, err)
		_, err = sink.Write(bytes.Repeat([]byte("x"), 1000))
		require.NoError(t, err)
		require.NoError(t, sink.Close(ctx))

		sink, err = r.OpenForWrite(ctx)
		require.NoError(t, err)
		require.Empty(t, readAll(t, r))
		require.NoError(t, sink.Close(ctx))
		require.Empty(t, readAll(t, r))
	})

	t.Run("EarlyCloseOfSource", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		r := newResource(t)
		sink, err := r.OpenForWrite(ctx)
		require.NoError(t, err)
		_, err = sink.Write(bytes.Repeat([]byte("y"), 1<<20))
		require.NoError(t, err)
		require.NoError(t, sink.Close(ctx))

		src, err := r.OpenForRead(ctx)
		require.NoError(t, err)
		buf := make([]byte, 10)
		_, err = io.ReadFull(src, buf)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	})

	t.Run("ReadMissing", func(t *testing.T) {
		ctx := pctx.TestContext(t)
		_, err := newResource(t).OpenForRead(ctx)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestLocal(t *testing.T) {
	testResource(t, func(t *testing.T) Resource {
		return NewLocal(filepath.Join(t.TempDir(), "a.idx"))
	})
}

func TestObject(t *testing.T) {
	testResource(t, func(t *testing.T) Resource {
		client := obj.NewMemClient("")
		return NewObject(client, "dir/a.idx", lock.NewMemTable().Locker("a"), t.TempDir())
	})
}

func TestObjectLocalClient(t *testing.T) {
	testResource(t, func(t *testing.T) Resource {
		return NewObject(obj.NewTestClient(t), "a.idx", lock.NewMemTable().Locker("a"), t.TempDir())
	})
}

func TestObjectSpoolIsRemoved(t *testing.T) {
	ctx := pctx.TestContext(t)
	spool := t.TempDir()
	r := NewObject(obj.NewMemClient(""), "a.idx", lock.NewMemTable().Locker("a"), spool)
	sink, err := r.OpenForWrite(ctx)
	require.NoError(t, err)
	ents, err := os.ReadDir(spool)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.NoError(t, sink.Close(ctx))
	ents, err = os.ReadDir(spool)
	require.NoError(t, err)
	require.Empty(t, ents)
}

func TestObjectSinkUsesCallContext(t *testing.T) {
	ctx := pctx.TestContext(t)
	client := obj.NewMemClient("")
	r := NewObject(client, "a.idx", lock.NewMemTable().Locker("a"), t.TempDir())
	openCtx, cancel := context.WithCancel(ctx)
	sink, err := r.OpenForWrite(openCtx)
	require.NoError(t, err)
	cancel()
	_, err = sink.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, sink.Flush(ctx))
	canceled, cancelFlush := context.WithCancel(ctx)
	cancelFlush()
	require.ErrorIs(t, sink.Flush(canceled), context.Canceled)
	require.NoError(t, sink.Close(ctx))

	buf := &bytes.Buffer{}
	require.NoError(t, client.Get(ctx, "a.idx", buf))
	require.Equal(t, "data", buf.String())
}

func TestOpen(t *testing.T) {
	ctx := pctx.TestContext(t)
	dir := t.TempDir()
	conf := config.Default()
	conf.Storage.Root = t.TempDir()

	r, err := Open(ctx, filepath.Join(dir, "plain.idx"), conf)
	require.NoError(t, err)
	require.IsType(t, &Local{}, r)
	require.Equal(t, filepath.Join(dir, "plain.idx"), r.Name())

	r, err = Open(ctx, "file://"+filepath.Join(dir, "url.idx"), conf)
	require.NoError(t, err)
	require.IsType(t, &Local{}, r)
	require.Equal(t, filepath.Join(dir, "url.idx"), r.Name())

	bucket := "open-test-" + uuid.NewWithoutDashes()
	r, err = Open(ctx, "mem://"+bucket+"/x/a.idx", conf)
	require.NoError(t, err)
	require.Equal(t, "mem://"+bucket+"/x/a.idx", r.Name())
	require.IsType(t, &lock.MemLocker{}, r.(*Object).Locker)

	r, err = Open(ctx, "local://"+dir+"//x/a.idx", conf)
	require.NoError(t, err)
	require.Equal(t, "local://"+dir+"//x/a.idx", r.Name())
	require.IsType(t, &lock.MarkerLocker{}, r.(*Object).Locker)

	_, err = Open(ctx, "mem://"+bucket, conf)
	require.Error(t, err)
	_, err = Open(ctx, "ftp://host/a.idx", conf)
	require.Error(t, err)
}

func TestOpenMemSharesData(t *testing.T) {
	ctx := pctx.TestContext(t)
	u := "mem://shared-" + uuid.NewWithoutDashes() + "/a.idx"
	w, err := Open(ctx, u, nil)
	require.NoError(t, err)
	ok, err := w.TryExclusive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	sink, err := w.OpenForWrite(ctx)
	require.NoError(t, err)
	_, err = sink.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, sink.Close(ctx))

	r, err := Open(ctx, u, nil)
	require.NoError(t, err)
	ok, err = r.TryShared(ctx)
	require.NoError(t, err)
	require.False(t, ok, "the writer still holds the lock")
	require.NoError(t, w.Release(ctx))
	ok, err = r.TryShared(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "data", string(readAll(t, r)))
	require.NoError(t, r.Release(ctx))
}
