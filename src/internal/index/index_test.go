package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pachyderm/seekidx/src/internal/backend"
	"github.com/pachyderm/seekidx/src/internal/diag"
	"github.com/pachyderm/seekidx/src/internal/lock"
	"github.com/pachyderm/seekidx/src/internal/obj"
	"github.com/pachyderm/seekidx/src/internal/pctx"
	"github.com/pachyderm/seekidx/src/internal/randutil"
)

// backends returns constructors for fresh resources of every kind.  Constructors called
// twice within a test return handles on the same resource.
func backends() map[string]func(t *testing.T) func() backend.Resource {
	return map[string]func(t *testing.T) func() backend.Resource{
		"Local": func(t *testing.T) func() backend.Resource {
			path := filepath.Join(t.TempDir(), "a.idx")
			return func() backend.Resource { return backend.NewLocal(path) }
		},
		"ObjectMarker": func(t *testing.T) func() backend.Resource {
			client, spool := obj.NewTestClient(t), t.TempDir()
			return func() backend.Resource {
				return backend.NewObject(client, "dir/a.idx", lock.NewMarkerLocker(client, "dir/a.idx", time.Minute), spool)
			}
		},
		"ObjectMem": func(t *testing.T) func() backend.Resource {
			client, table, spool := obj.NewMemClient(""), lock.NewMemTable(), t.TempDir()
			return func() backend.Resource {
				return backend.NewObject(client, "a.idx", table.Locker("a.idx"), spool)
			}
		},
	}
}

func forEachBackend(t *testing.T, f func(t *testing.T, newResource func() backend.Resource)) {
	for name, newBackend := range backends() {
		t.Run(name, func(t *testing.T) {
			f(t, newBackend(t))
		})
	}
}

func rawBytes(t *testing.T, res backend.Resource) []byte {
	t.Helper()
	src, err := res.OpenForRead(pctx.TestContext(t))
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	_, err = buf.ReadFrom(src)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	return buf.Bytes()
}

func writeIndex(t *testing.T, res backend.Resource, records uint64, entries []Entry, opts ...Option) {
	t.Helper()
	ctx := pctx.TestContext(t)
	w := NewWriter(res, opts...)
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.WriteHeader(NewHeader()))
	for _, e := range entries {
		require.NoError(t, w.WriteEntry(e))
	}
	require.NoError(t, w.SetRecordCount(records))
	require.NoError(t, w.Close(ctx))
}

func readIndex(t *testing.T, res backend.Resource) (Header, []Entry) {
	t.Helper()
	ctx := pctx.TestContext(t)
	r := NewReader(res)
	require.NoError(t, r.Open(ctx))
	defer func() { require.NoError(t, r.Close(ctx)) }()
	entries, err := r.Entries(ctx)
	require.NoError(t, err)
	return r.Header(), entries
}

func TestConcreteScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		state := []byte("0123456789abcdef")
		w := NewWriter(newResource())
		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.WriteHeader(Header{Version: 1}))
		require.NoError(t, w.AddCheckpoint(0, 0, nil))
		require.NoError(t, w.AddCheckpoint(1000, 512, state))
		require.NoError(t, w.AddCheckpoint(2000, 1024, nil))
		require.NoError(t, w.SetRecordCount(2500))
		require.NoError(t, w.Close(ctx))

		r := NewReader(newResource())
		require.NoError(t, r.Open(ctx))
		h := r.Header()
		require.Equal(t, uint64(3), h.NumberOfEntries)
		require.Equal(t, uint64(2500), h.NumberOfRecordsIndexed)
		require.Equal(t, uint32(1), h.Version)
		require.True(t, h.Finalized())
		entries, err := r.Entries(ctx)
		require.NoError(t, err)
		require.Equal(t, []Entry{
			{LogicalRecordOffset: 0, CompressedStreamOffset: 0},
			{LogicalRecordOffset: 1000, CompressedStreamOffset: 512, State: state},
			{LogicalRecordOffset: 2000, CompressedStreamOffset: 1024},
		}, entries)
		require.NoError(t, r.Close(ctx))

		require.Len(t, rawBytes(t, newResource()), HeaderSize+3*FixedEntrySize+16)
	})
}

func TestRoundTrip(t *testing.T) {
	random := rand.New(rand.NewSource(time.Now().UnixNano()))
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		n := 500
		logical := randutil.Increasing(random, n, 0, 1000)
		compressed := randutil.Increasing(random, n, 0, 1<<16)
		var entries []Entry
		for i := 0; i < n; i++ {
			e := Entry{LogicalRecordOffset: logical[i], CompressedStreamOffset: compressed[i]}
			if random.Intn(4) == 0 {
				e.State = randutil.Bytes(random, 1+random.Intn(1<<15))
			}
			entries = append(entries, e)
		}
		// Logical offsets may repeat.
		entries[10].LogicalRecordOffset = entries[9].LogicalRecordOffset
		total := logical[n-1] + 1
		writeIndex(t, newResource(), total, entries)

		h, got := readIndex(t, newResource())
		require.Equal(t, uint64(n), h.NumberOfEntries)
		require.Equal(t, total, h.NumberOfRecordsIndexed)
		require.Equal(t, entries, got)
	})
}

func TestVariableFraming(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.idx")
	state := bytes.Repeat([]byte{0xab}, 7)
	writeIndex(t, backend.NewLocal(path), 30, []Entry{
		{LogicalRecordOffset: 10, CompressedStreamOffset: 100},
		{LogicalRecordOffset: 20, CompressedStreamOffset: 200, State: state},
		{LogicalRecordOffset: 30, CompressedStreamOffset: 300},
	})
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+FixedEntrySize+(FixedEntrySize+7)+FixedEntrySize)

	e := data[HeaderSize:]
	require.Equal(t, uint64(10), binary.LittleEndian.Uint64(e[0:]))
	require.Equal(t, uint64(100), binary.LittleEndian.Uint64(e[8:]))
	require.Equal(t, uint32(0), binary.LittleEndian.Uint32(e[16:]))
	e = e[FixedEntrySize:]
	require.Equal(t, uint64(20), binary.LittleEndian.Uint64(e[0:]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(e[16:]))
	require.Equal(t, state, e[FixedEntrySize:FixedEntrySize+7])
	e = e[FixedEntrySize+7:]
	require.Equal(t, uint64(30), binary.LittleEndian.Uint64(e[0:]))
	require.Len(t, e, FixedEntrySize)
}

func TestWriteHeaderTwice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		res := newResource()
		w := NewWriter(res)
		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.WriteHeader(NewHeader()))
		require.NoError(t, w.Flush(ctx))
		before := rawBytes(t, res)
		require.Len(t, before, HeaderSize)

		err := w.WriteHeader(Header{Version: 1, NumberOfEntries: 99})
		require.ErrorIs(t, err, ErrPrecondition)
		require.NoError(t, w.Flush(ctx))
		require.Equal(t, before, rawBytes(t, res))

		require.NoError(t, w.AddCheckpoint(1, 1, nil))
		require.NoError(t, w.Close(ctx))
		h, entries := readIndex(t, newResource())
		require.Equal(t, uint64(1), h.NumberOfEntries)
		require.Len(t, entries, 1)
	})
}

func TestAbandonedIndexIsRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		w := NewWriter(newResource())
		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.WriteHeader(NewHeader()))
		require.NoError(t, w.AddCheckpoint(0, 0, nil))
		require.NoError(t, w.AddCheckpoint(10, 20, []byte("window")))
		require.NoError(t, w.SetRecordCount(15))
		require.NoError(t, w.Abort(ctx))

		data := rawBytes(t, newResource())
		require.Greater(t, len(data), HeaderSize)
		var h Header
		require.NoError(t, h.UnmarshalBinary(data[:HeaderSize]))
		require.False(t, h.Finalized())
		require.Zero(t, h.NumberOfEntries)
		require.Zero(t, h.NumberOfRecordsIndexed)

		sink := diag.New()
		r := NewReader(newResource(), WithDiagnostics(sink))
		err := r.Open(ctx)
		require.ErrorIs(t, err, ErrFormat)
		require.Equal(t, 1, sink.Len())
		require.Contains(t, sink.String(), "not finalized")

		// The failed reader does not keep its lock.
		w = NewWriter(newResource(), WithOverwrite())
		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.Abort(ctx))
	})
}

func TestCloseWithoutHeader(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		w := NewWriter(newResource())
		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.Close(ctx))
		require.Empty(t, rawBytes(t, newResource()))

		err := NewReader(newResource()).Open(ctx)
		require.ErrorIs(t, err, ErrFormat)
		require.Contains(t, err.Error(), "empty")
	})
}

func TestCloseOutlivesOpenContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		openCtx, cancel := context.WithCancel(ctx)
		w := NewWriter(newResource())
		require.NoError(t, w.Open(openCtx))
		cancel()
		require.NoError(t, w.WriteHeader(NewHeader()))
		require.NoError(t, w.AddCheckpoint(0, 0, nil))
		require.NoError(t, w.AddCheckpoint(10, 20, []byte("window")))
		require.NoError(t, w.Flush(ctx))
		require.NoError(t, w.Close(ctx))

		h, entries := readIndex(t, newResource())
		require.Equal(t, uint64(2), h.NumberOfEntries)
		require.Equal(t, []byte("window"), entries[1].State)
	})
}

func TestEmptyFinalizedIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		writeIndex(t, newResource(), 0, nil)
		h, entries := readIndex(t, newResource())
		require.True(t, h.Finalized())
		require.Zero(t, h.NumberOfEntries)
		require.Empty(t, entries)
	})
}

func TestOverwriteRefused(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		writeIndex(t, newResource(), 5, []Entry{{LogicalRecordOffset: 5, CompressedStreamOffset: 5}})
		before := rawBytes(t, newResource())

		res := newResource()
		w := NewWriter(res)
		err := w.Open(ctx)
		require.ErrorIs(t, err, ErrOverwriteRefused)
		require.Equal(t, before, rawBytes(t, newResource()))
		require.Equal(t, lock.None, res.Held())
		require.ErrorIs(t, w.WriteHeader(NewHeader()), ErrPrecondition)

		writeIndex(t, newResource(), 9, []Entry{{LogicalRecordOffset: 9, CompressedStreamOffset: 9}}, WithOverwrite())
		h, _ := readIndex(t, newResource())
		require.Equal(t, uint64(9), h.NumberOfRecordsIndexed)
	})
}

func TestLockContention(t *testing.T) {
	forEachBackend(t, func(t *testing.T, newResource func() backend.Resource) {
		ctx := pctx.TestContext(t)
		writeIndex(t, newResource(), 1, []Entry{{LogicalRecordOffset: 1, CompressedStreamOffset: 1}})

		r1, r2 := NewReader(newResource()), NewReader(newResource())
		require.NoError(t, r1.Open(ctx))
		require.NoError(t, r2.Open(ctx), "readers share the resource")
		w := NewWriter(newResource(), WithOverwrite())
		require.ErrorIs(t, w.Open(ctx), ErrLockContention)
		require.NoError(t, r1.Close(ctx))
		require.NoError(t, r2.Close(ctx))
		require.NoError(t, r2.Close(ctx))

		require.NoError(t, w.Open(ctx))
		require.NoError(t, w.Open(ctx), "open is idempotent")
		require.ErrorIs(t, NewReader(newResource()).Open(ctx), ErrLockContention)
		require.ErrorIs(t, NewWriter(newResource(), WithOverwrite()).Open(ctx), ErrLockContention)
		require.NoError(t, w.WriteHeader(NewHeader()))
		require.NoError(t, w.Close(ctx))

		h, _ := readIndex(t, newResource())
		require.Zero(t, h.NumberOfEntries)
	})
}

func TestPreconditions(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["ObjectMem"](t)

	w := NewWriter(newResource())
	require.ErrorIs(t, w.WriteHeader(NewHeader()), ErrPrecondition, "header before open")
	require.ErrorIs(t, w.Flush(ctx), ErrPrecondition, "flush before open")
	require.NoError(t, w.Open(ctx))
	require.ErrorIs(t, w.AddCheckpoint(0, 0, nil), ErrPrecondition, "entry before header")
	require.ErrorIs(t, w.WriteHeader(Header{Version: MaxSupportedVersion + 1}), ErrPrecondition)
	require.NoError(t, w.WriteHeader(NewHeader()))
	require.NoError(t, w.AddCheckpoint(10, 100, nil))
	require.ErrorIs(t, w.AddCheckpoint(9, 200, nil), ErrPrecondition, "logical offset decreases")
	require.ErrorIs(t, w.AddCheckpoint(11, 100, nil), ErrPrecondition, "compressed offset repeats")
	require.ErrorIs(t, w.AddCheckpoint(11, 101, make([]byte, MaxStateSize+1)), ErrPrecondition)
	require.ErrorIs(t, w.SetRecordCount(9), ErrPrecondition)
	require.NoError(t, w.SetRecordCount(20))
	require.ErrorIs(t, w.AddCheckpoint(21, 300, nil), ErrPrecondition, "past the declared total")
	require.NoError(t, w.AddCheckpoint(20, 300, nil))
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))
	require.ErrorIs(t, w.AddCheckpoint(30, 400, nil), ErrPrecondition, "entry after close")
	require.ErrorIs(t, w.Open(ctx), ErrPrecondition)

	h, entries := readIndex(t, newResource())
	require.Equal(t, uint64(2), h.NumberOfEntries)
	require.Equal(t, uint64(20), h.NumberOfRecordsIndexed)
	require.Len(t, entries, 2)

	r := NewReader(newResource())
	require.ErrorIs(t, r.Iterate(ctx, func(Entry) error { return nil }), ErrPrecondition)
}

func TestRecordCountDefaultsPastLastCheckpoint(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["ObjectMem"](t)
	w := NewWriter(newResource())
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.WriteHeader(NewHeader()))
	require.NoError(t, w.AddCheckpoint(0, 0, nil))
	require.NoError(t, w.AddCheckpoint(42, 7, []byte("tail")))
	require.NoError(t, w.Close(ctx))
	require.Equal(t, uint64(43), w.Header().NumberOfRecordsIndexed)
	h, _ := readIndex(t, newResource())
	require.Equal(t, uint64(43), h.NumberOfRecordsIndexed)

	r := NewReader(newResource())
	require.NoError(t, r.Open(ctx))
	defer func() { require.NoError(t, r.Close(ctx)) }()
	e, ok, err := r.Lookup(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok, "the last checkpoint can be looked up")
	require.Equal(t, uint64(7), e.CompressedStreamOffset)
	require.Equal(t, []byte("tail"), e.State)
	_, ok, err = r.Lookup(ctx, 43)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentWriterCalls(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["Local"](t)
	w := NewWriter(newResource())
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.WriteHeader(NewHeader()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			w.Flush(ctx) //nolint:errcheck
		}
	}()
	for i := uint64(0); i < 100; i++ {
		require.NoError(t, w.AddCheckpoint(i, i, nil))
	}
	<-done
	require.NoError(t, w.Close(ctx))
	h, entries := readIndex(t, newResource())
	require.Equal(t, uint64(100), h.NumberOfEntries)
	require.Len(t, entries, 100)
}

func TestIterateBreak(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["Local"](t)
	writeIndex(t, newResource(), 100, []Entry{
		{LogicalRecordOffset: 0, CompressedStreamOffset: 0},
		{LogicalRecordOffset: 50, CompressedStreamOffset: 10},
		{LogicalRecordOffset: 100, CompressedStreamOffset: 20},
	})
	r := NewReader(newResource())
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx) //nolint:errcheck
	var seen int
	require.NoError(t, r.Iterate(ctx, func(e Entry) error {
		seen++
		if e.LogicalRecordOffset == 50 {
			return ErrBreak
		}
		return nil
	}))
	require.Equal(t, 2, seen)
}

func TestLookup(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["Local"](t)
	writeIndex(t, newResource(), 2500, []Entry{
		{LogicalRecordOffset: 0, CompressedStreamOffset: 0},
		{LogicalRecordOffset: 1000, CompressedStreamOffset: 512, State: []byte("s")},
		{LogicalRecordOffset: 2000, CompressedStreamOffset: 1024},
	})
	r := NewReader(newResource())
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx) //nolint:errcheck
	for _, tc := range []struct {
		record     uint64
		ok         bool
		compressed uint64
	}{
		{0, true, 0},
		{999, true, 0},
		{1000, true, 512},
		{1999, true, 512},
		{2000, true, 1024},
		{2499, true, 1024},
		{2500, false, 0},
	} {
		e, ok, err := r.Lookup(ctx, tc.record)
		require.NoError(t, err)
		require.Equal(t, tc.ok, ok, "record %d", tc.record)
		require.Equal(t, tc.compressed, e.CompressedStreamOffset, "record %d", tc.record)
	}
}

func TestLookupBeforeFirstCheckpoint(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["Local"](t)
	writeIndex(t, newResource(), 100, []Entry{{LogicalRecordOffset: 10, CompressedStreamOffset: 5}})
	r := NewReader(newResource())
	require.NoError(t, r.Open(ctx))
	defer r.Close(ctx) //nolint:errcheck
	_, ok, err := r.Lookup(ctx, 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["Local"](t)
	writeIndex(t, newResource(), 2500, []Entry{
		{LogicalRecordOffset: 0, CompressedStreamOffset: 0},
		{LogicalRecordOffset: 1000, CompressedStreamOffset: 512, State: make([]byte, 16)},
		{LogicalRecordOffset: 2000, CompressedStreamOffset: 1024, State: make([]byte, 4)},
	})
	s, err := Verify(ctx, newResource())
	require.NoError(t, err)
	require.Equal(t, uint64(3), s.Header.NumberOfEntries)
	require.Equal(t, uint64(HeaderSize+3*FixedEntrySize+20), s.Size)
	require.Equal(t, uint64(2), s.EntriesWithState)
	require.Equal(t, uint64(20), s.StateBytes)
	require.Equal(t, uint32(16), s.MaxStateSize)
	require.Equal(t, uint64(2000), s.Last.LogicalRecordOffset)

	// The lock is released afterwards.
	w := NewWriter(newResource(), WithOverwrite())
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.Abort(ctx))
}

func TestVerifyCheckpointPastRecords(t *testing.T) {
	ctx := pctx.TestContext(t)
	path := filepath.Join(t.TempDir(), "a.idx")
	h := Header{Version: 1, Flags: FlagFinalized, NumberOfEntries: 1, NumberOfRecordsIndexed: 5}
	require.NoError(t, os.WriteFile(path, encode(t, h, Entry{LogicalRecordOffset: 6, CompressedStreamOffset: 1}), 0o644))
	sink := diag.New()
	_, err := Verify(ctx, backend.NewLocal(path), WithDiagnostics(sink))
	require.ErrorIs(t, err, ErrFormat)
	require.Equal(t, 1, sink.Len())
}

func TestDiagnosticsOrder(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["ObjectMem"](t)
	writerSink, readerSink := diag.New(), diag.New()
	w := NewWriter(newResource(), WithDiagnostics(writerSink))
	require.Error(t, w.AddCheckpoint(0, 0, nil))
	require.NoError(t, w.Open(ctx))
	require.Error(t, w.WriteEntry(Entry{}))
	require.NoError(t, w.Close(ctx))

	require.Error(t, NewReader(newResource(), WithDiagnostics(readerSink)).Open(ctx))

	merged := diag.Merge(writerSink, readerSink)
	msgs := merged.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "writer", msgs[0].Component)
	require.Equal(t, "writer", msgs[1].Component)
	require.Equal(t, "reader", msgs[2].Component)
}

func TestRetryOpen(t *testing.T) {
	ctx := pctx.TestContext(t)
	newResource := backends()["ObjectMem"](t)
	writeIndex(t, newResource(), 1, []Entry{{LogicalRecordOffset: 1, CompressedStreamOffset: 1}})

	w := NewWriter(newResource(), WithOverwrite())
	require.NoError(t, w.Open(ctx))
	require.NoError(t, w.WriteHeader(NewHeader()))
	go func() {
		time.Sleep(100 * time.Millisecond)
		w.Close(ctx) //nolint:errcheck
	}()
	r := NewReader(newResource())
	require.NoError(t, RetryOpen(ctx, r, nil))
	require.Zero(t, r.Header().NumberOfEntries)
	require.NoError(t, r.Close(ctx))

	// Anything but contention is not retried.
	missing := NewReader(backends()["ObjectMem"](t)())
	start := time.Now()
	err := RetryOpen(ctx, missing, nil)
	require.ErrorIs(t, err, ErrBackendIO)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Less(t, time.Since(start), 10*time.Second)
}
