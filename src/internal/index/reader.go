package index

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/backend"
	"github.com/pachyderm/seekidx/src/internal/diag"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/pctx"
)

// Reader reads a finalized index.  Open takes the resource's shared lock and validates the
// header; the lock is held until Close.  A Reader never modifies the resource.
type Reader struct {
	res  backend.Resource
	diag *diag.Sink

	mu      sync.Mutex
	open    bool
	header  Header
	encoded []byte
	entries []Entry
}

// NewReader returns a Reader for res.
func NewReader(res backend.Resource, opts ...Option) *Reader {
	o := makeOptions(opts)
	return &Reader{res: res, diag: o.diag}
}

// Open takes the shared lock and reads the header.  It fails with ErrLockContention if a
// writer holds the resource, and with ErrFormat if the resource is empty, shorter than a
// header, not an index, or was never finalized.  Calling Open again on an open Reader does
// nothing.
func (r *Reader) Open(ctx context.Context) (retErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx = pctx.Child(ctx, "reader", pctx.WithFields(zap.String("resource", r.res.Name())))
	defer r.finish(ctx, "open", &retErr)
	if r.open {
		return nil
	}
	defer log.Span(ctx, "Reader.Open")(log.Errorp(&retErr))
	ok, err := r.res.TryShared(ctx)
	if err != nil {
		return backendErr(err, "acquire shared lock")
	}
	if !ok {
		return errors.Wrapf(ErrLockContention, "%s", r.res.Name())
	}
	h, encoded, err := r.readHeader(ctx)
	if err != nil {
		errors.JoinInto(&err, backendErr(r.res.Release(ctx), "release lock"))
		return err
	}
	r.open, r.header, r.encoded, r.entries = true, h, encoded, nil
	return nil
}

func (r *Reader) readHeader(ctx context.Context) (_ Header, _ []byte, retErr error) {
	src, err := r.res.OpenForRead(ctx)
	if err != nil {
		return Header{}, nil, backendErr(err, "open for read")
	}
	defer func() {
		errors.JoinInto(&retErr, backendErr(src.Close(), "close"))
	}()
	br := bufio.NewReader(src)
	encoded := make([]byte, HeaderSize)
	h, err := readHeaderFrom(br, encoded)
	if err != nil {
		return Header{}, nil, err
	}
	// The first entry byte, or its absence, must agree with the entry count.
	_, err = br.Peek(1)
	switch {
	case err == nil && h.NumberOfEntries == 0:
		return Header{}, nil, formatf("header declares no entries but entries follow")
	case errors.Is(err, io.EOF) && h.NumberOfEntries > 0:
		return Header{}, nil, formatf("header declares %d entries but none follow", h.NumberOfEntries)
	case err != nil && !errors.Is(err, io.EOF):
		return Header{}, nil, backendErr(err, "read")
	}
	return h, encoded, nil
}

// readHeaderFrom reads and decodes a header into buf, which must be HeaderSize bytes.
func readHeaderFrom(r io.Reader, buf []byte) (Header, error) {
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if n == 0 {
				return Header{}, formatf("resource is empty")
			}
			return Header{}, formatf("resource is %d bytes, shorter than a header", n)
		}
		return Header{}, backendErr(err, "read header")
	}
	var h Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return Header{}, err
	}
	if !h.Finalized() {
		return Header{}, formatf("index was not finalized; its writer did not finish")
	}
	return h, nil
}

// Header returns the header read by Open.
func (r *Reader) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// Iterate calls cb with each entry in order.  Returning ErrBreak from cb stops iteration
// without an error.  The whole index is checked as it is read: a truncated entry, an entry out
// of order, a count different from the header's or trailing bytes fail with ErrFormat.
func (r *Reader) Iterate(ctx context.Context, cb func(e Entry) error) (retErr error) {
	r.mu.Lock()
	open, h, encoded := r.open, r.header, r.encoded
	r.mu.Unlock()
	ctx = pctx.Child(ctx, "reader", pctx.WithFields(zap.String("resource", r.res.Name())))
	defer r.finish(ctx, "iterate", &retErr)
	if !open {
		return preconditionf("iterate an unopened reader")
	}
	src, err := r.res.OpenForRead(ctx)
	if err != nil {
		return backendErr(err, "open for read")
	}
	defer func() {
		errors.JoinInto(&retErr, backendErr(src.Close(), "close"))
	}()
	br := bufio.NewReader(src)
	buf := make([]byte, HeaderSize)
	if _, err := readHeaderFrom(br, buf); err != nil {
		return err
	}
	if !bytes.Equal(buf, encoded) {
		return formatf("header changed since the reader was opened")
	}
	fixed := make([]byte, FixedEntrySize)
	var prev Entry
	for i := uint64(0); i < h.NumberOfEntries; i++ {
		if err := ctx.Err(); err != nil {
			return errors.EnsureStack(err)
		}
		e, err := readEntry(br, fixed, i)
		if err != nil {
			return err
		}
		if i > 0 {
			if msg := checkOrder(prev, e); msg != "" {
				return formatf("entry %d out of order: %s", i, msg)
			}
		}
		prev = e
		entriesReadMetric.Inc()
		if err := cb(e); err != nil {
			if errors.Is(err, ErrBreak) {
				return nil
			}
			return err
		}
	}
	if _, err := br.Peek(1); err == nil {
		return formatf("trailing bytes after %d entries", h.NumberOfEntries)
	} else if !errors.Is(err, io.EOF) {
		return backendErr(err, "read")
	}
	return nil
}

func readEntry(r io.Reader, fixed []byte, i uint64) (Entry, error) {
	if _, err := io.ReadFull(r, fixed); err != nil {
		return Entry{}, truncated(err, i)
	}
	e, size := decodeFixed(fixed)
	if size > MaxStateSize {
		return Entry{}, formatf("entry %d declares %d bytes of state, more than %d", i, size, MaxStateSize)
	}
	if size > 0 {
		e.State = make([]byte, size)
		if _, err := io.ReadFull(r, e.State); err != nil {
			return Entry{}, truncated(err, i)
		}
	}
	return e, nil
}

func truncated(err error, i uint64) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatf("entry %d is truncated", i)
	}
	return backendErr(err, "read entry")
}

// Entries returns every entry.  The result is kept for later calls and for Lookup.
func (r *Reader) Entries(ctx context.Context) ([]Entry, error) {
	r.mu.Lock()
	cached := r.entries
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	entries := []Entry{}
	if err := r.Iterate(ctx, func(e Entry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.open {
		r.entries = entries
	}
	r.mu.Unlock()
	return entries, nil
}

// Lookup returns the checkpoint to resume from to reach record: the last entry whose logical
// offset is at most record.  ok is false if no entry precedes record, or record is not among
// the records indexed.
func (r *Reader) Lookup(ctx context.Context, record uint64) (_ Entry, ok bool, _ error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if record >= r.Header().NumberOfRecordsIndexed {
		return Entry{}, false, nil
	}
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].LogicalRecordOffset > record
	})
	if i == 0 {
		return Entry{}, false, nil
	}
	return entries[i-1], true, nil
}

// Close releases the lock.  Closing a closed Reader does nothing.
func (r *Reader) Close(ctx context.Context) (retErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.finish(ctx, "close", &retErr)
	if !r.open {
		return nil
	}
	r.open, r.entries = false, nil
	return backendErr(r.res.Release(ctx), "release lock")
}

func (r *Reader) finish(ctx context.Context, op string, err *error) {
	observe("reader", op, *err)
	if *err != nil {
		r.diag.Reportf(ctx, "reader", "%s %s: %v", op, r.res.Name(), *err)
	}
}
