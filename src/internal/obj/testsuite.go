package obj

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"path"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"

	"github.com/pachyderm/seekidx/src/internal/pctx"
	"github.com/pachyderm/seekidx/src/internal/uuid"
)

// TestSuite runs tests to ensure the object returned by newClient implements Client.
// newClient should register cleanup of the returned object using testing.T.Cleanup.
// All of the subtests call t.Parallel, but the top level test does not.
func TestSuite(t *testing.T, newClient func(t testing.TB) Client) {
	t.Run("TestMissingObject", func(t *testing.T) {
		t.Parallel()
		ctx := pctx.TestContext(t)
		client := newClient(t)
		object := "test-missing-object-" + uuid.NewWithoutDashes()
		requireExists(t, client, object, false)

		err := client.Get(ctx, object, &bytes.Buffer{})
		require.Error(t, err)
		require.True(t, IsNotExist(err), "%v should be a not-exist error", err)
		require.NoError(t, client.Delete(ctx, object))
	})

	t.Run("TestSingleWrite", func(t *testing.T) {
		t.Parallel()
		client := newClient(t)
		doWriteTest(t, client, "test-single-write-"+uuid.NewWithoutDashes(), []byte("foo bar"))
	})

	t.Run("TestEmptyWrite", func(t *testing.T) {
		t.Parallel()
		client := newClient(t)
		doWriteTest(t, client, "test-empty-write-"+uuid.NewWithoutDashes(), []byte{})
	})

	t.Run("TestSubdirectory", func(t *testing.T) {
		t.Parallel()
		client := newClient(t)
		object := path.Join("test-subdirectory-"+uuid.NewWithoutDashes(), "object")
		doWriteTest(t, client, object, []byte("foo bar"))
	})

	t.Run("TestOverwrite", func(t *testing.T) {
		t.Parallel()
		ctx := pctx.TestContext(t)
		client := newClient(t)
		object := "test-overwrite-" + uuid.NewWithoutDashes()
		require.NoError(t, client.Put(ctx, object, bytes.NewReader([]byte("first"))))
		require.NoError(t, client.Put(ctx, object, bytes.NewReader([]byte("2nd"))))
		buf := &bytes.Buffer{}
		require.NoError(t, client.Get(ctx, object, buf))
		require.Equal(t, "2nd", buf.String())
		require.NoError(t, client.Delete(ctx, object))
	})

	t.Run("TestWalk", func(t *testing.T) {
		t.Parallel()
		ctx := pctx.TestContext(t)
		client := newClient(t)
		prefix := "test-walk-" + uuid.NewWithoutDashes() + "/"
		want := []string{prefix + "a", prefix + "b/c", prefix + "d"}
		for _, name := range want {
			require.NoError(t, client.Put(ctx, name, bytes.NewReader([]byte(name))))
		}
		require.NoError(t, client.Put(ctx, "other-"+uuid.NewWithoutDashes(), bytes.NewReader(nil)))
		var got []string
		require.NoError(t, client.Walk(ctx, prefix, func(name string) error {
			got = append(got, name)
			return nil
		}))
		sort.Strings(got)
		require.Equal(t, want, got)
	})

	t.Run("TestIntegrity", func(t *testing.T) {
		t.Parallel()
		ctx := pctx.TestContext(t)
		client := newClient(t)
		name := "prefix/test-object-" + uuid.NewWithoutDashes()
		expectedData, err := io.ReadAll(io.LimitReader(rand.Reader, 1<<20))
		require.NoError(t, err)
		require.NoError(t, client.Put(ctx, name, bytes.NewReader(expectedData)))
		buf := &bytes.Buffer{}
		require.NoError(t, client.Get(ctx, name, buf))
		require.Equal(t, xxh3.Hash128(expectedData), xxh3.Hash128(buf.Bytes()))
	})
}

// TestInterruption checks that every operation fails with context.Canceled on a canceled
// context.
func TestInterruption(t *testing.T, client Client) {
	ctx, cancel := context.WithCancel(pctx.TestContext(t))
	cancel()

	object := "test-interruption-" + uuid.NewWithoutDashes()
	defer requireExists(t, client, object, false)

	err := client.Put(ctx, object, bytes.NewReader(nil))
	require.ErrorIs(t, err, context.Canceled)

	err = client.Get(ctx, object, &bytes.Buffer{})
	require.ErrorIs(t, err, context.Canceled)

	err = client.Delete(ctx, object)
	require.ErrorIs(t, err, context.Canceled)

	err = client.Walk(ctx, object, func(name string) error {
		require.Fail(t, "walk callback called on a canceled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = client.Exists(ctx, object)
	require.ErrorIs(t, err, context.Canceled)
}

func requireExists(t testing.TB, client Client, object string, expected bool) {
	exists, err := client.Exists(pctx.TestContext(t), object)
	require.NoError(t, err)
	require.Equal(t, expected, exists)
}

func doWriteTest(t testing.TB, client Client, object string, data []byte) {
	requireExists(t, client, object, false)
	defer requireExists(t, client, object, false)

	ctx := pctx.TestContext(t)
	require.NoError(t, client.Put(ctx, object, bytes.NewReader(data)))
	defer func() {
		require.NoError(t, client.Delete(ctx, object))
	}()

	requireExists(t, client, object, true)

	actualBuf := &bytes.Buffer{}
	require.NoError(t, client.Get(ctx, object, actualBuf))
	require.Equal(t, len(data), actualBuf.Len())
	if len(data) > 0 {
		require.Equal(t, data, actualBuf.Bytes())
	}
}
