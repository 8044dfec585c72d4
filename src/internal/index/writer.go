package index

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/backend"
	"github.com/pachyderm/seekidx/src/internal/diag"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/pctx"
)

type writerState int

const (
	writerCreated writerState = iota
	writerOpened
	writerHeaderWritten
	writerClosed
)

func (s writerState) String() string {
	switch s {
	case writerCreated:
		return "created"
	case writerOpened:
		return "opened"
	case writerHeaderWritten:
		return "header written"
	case writerClosed:
		return "closed"
	}
	return "unknown"
}

// Writer writes an index to a resource.  It moves through Open, WriteHeader, any number of
// WriteEntry or AddCheckpoint calls, and Close, which finalizes the index.  A Writer is safe
// for concurrent use, but entries are ordered by call order.
type Writer struct {
	res       backend.Resource
	overwrite bool
	diag      *diag.Sink

	mu      sync.Mutex
	ctx     context.Context
	state   writerState
	sink    backend.Sink
	header  Header
	entries uint64
	records uint64
	counted bool
	last    Entry
}

// NewWriter returns a Writer for res.  Nothing happens to res until Open.
func NewWriter(res backend.Resource, opts ...Option) *Writer {
	o := makeOptions(opts)
	return &Writer{
		res:       res,
		overwrite: o.overwrite,
		diag:      o.diag,
		ctx:       pctx.TODO(),
	}
}

// Open takes the exclusive lock and truncates the resource.  It fails with ErrOverwriteRefused
// if the resource exists and WithOverwrite was not given, and with ErrLockContention if the
// lock is held elsewhere.  Calling Open again on an open Writer does nothing.
func (w *Writer) Open(ctx context.Context) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx = pctx.Child(ctx, "writer", pctx.WithFields(zap.String("resource", w.res.Name())))
	defer w.finish(ctx, "open", &retErr)
	switch w.state {
	case writerOpened, writerHeaderWritten:
		return nil
	case writerClosed:
		return preconditionf("open a closed writer")
	}
	defer log.Span(ctx, "Writer.Open", zap.Bool("overwrite", w.overwrite))(log.Errorp(&retErr))
	if err := w.refuseOverwriteLocked(ctx); err != nil {
		return err
	}
	ok, err := w.res.TryExclusive(ctx)
	if err != nil {
		return backendErr(err, "acquire exclusive lock")
	}
	if !ok {
		return errors.Wrapf(ErrLockContention, "%s", w.res.Name())
	}
	// The resource may have been created while we were not holding the lock.
	if err := w.refuseOverwriteLocked(ctx); err != nil {
		errors.JoinInto(&err, backendErr(w.res.Release(ctx), "release lock"))
		return err
	}
	sink, err := w.res.OpenForWrite(ctx)
	if err != nil {
		errors.JoinInto(&err, w.res.Release(ctx))
		return backendErr(err, "open for write")
	}
	w.ctx, w.sink, w.state = ctx, sink, writerOpened
	return nil
}

func (w *Writer) refuseOverwriteLocked(ctx context.Context) error {
	if w.overwrite {
		return nil
	}
	exists, err := w.res.Exists(ctx)
	if err != nil {
		return backendErr(err, "check existence")
	}
	if exists {
		return errors.Wrapf(ErrOverwriteRefused, "%s", w.res.Name())
	}
	return nil
}

// WriteHeader writes h.  It may be called once, after Open.  The counts and flags of h are
// ignored; Close fills them in.  A zero version means CurrentVersion.
func (w *Writer) WriteHeader(h Header) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finish(w.ctx, "write_header", &retErr)
	switch w.state {
	case writerHeaderWritten:
		return preconditionf("header already written")
	case writerOpened:
	default:
		return preconditionf("write header to a %s writer", w.state)
	}
	if h.Version == 0 {
		h.Version = CurrentVersion
	}
	h.Flags, h.NumberOfEntries, h.NumberOfRecordsIndexed = 0, 0, 0
	data, err := h.MarshalBinary()
	if err != nil {
		return preconditionf("%v", err)
	}
	if _, err := w.sink.Write(data); err != nil {
		return backendErr(err, "write header")
	}
	w.header, w.state = h, writerHeaderWritten
	return nil
}

// WriteEntry appends e.  Entries must have non-decreasing logical offsets and strictly
// increasing compressed offsets, and may not pass a record count set by SetRecordCount.
func (w *Writer) WriteEntry(e Entry) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finish(w.ctx, "write_entry", &retErr)
	if w.state != writerHeaderWritten {
		return preconditionf("write entry to a %s writer", w.state)
	}
	if len(e.State) > MaxStateSize {
		return preconditionf("state of %d bytes exceeds %d", len(e.State), MaxStateSize)
	}
	if w.entries > 0 {
		if msg := checkOrder(w.last, e); msg != "" {
			return preconditionf("entry %d out of order: %s", w.entries, msg)
		}
	}
	if w.counted && e.LogicalRecordOffset > w.records {
		return preconditionf("entry at record %d is past the declared total %d", e.LogicalRecordOffset, w.records)
	}
	if _, err := w.sink.Write(appendEntry(make([]byte, 0, e.EncodedSize()), e)); err != nil {
		return backendErr(err, "write entry")
	}
	w.entries++
	w.last = Entry{LogicalRecordOffset: e.LogicalRecordOffset, CompressedStreamOffset: e.CompressedStreamOffset}
	entriesWrittenMetric.Inc()
	stateBytesWrittenMetric.Add(float64(len(e.State)))
	return nil
}

// AddCheckpoint appends a checkpoint at logical record offset logical and compressed offset
// compressed.  state may be nil.
func (w *Writer) AddCheckpoint(logical, compressed uint64, state []byte) error {
	return w.WriteEntry(Entry{LogicalRecordOffset: logical, CompressedStreamOffset: compressed, State: state})
}

// SetRecordCount declares the number of records covered by the index.  It must not be less
// than the logical offset of the last entry.  Without it, Close records one past the last
// entry's logical offset, so every checkpoint can be looked up.
func (w *Writer) SetRecordCount(total uint64) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finish(w.ctx, "set_record_count", &retErr)
	if w.state == writerClosed {
		return preconditionf("set record count on a closed writer")
	}
	if w.entries > 0 && total < w.last.LogicalRecordOffset {
		return preconditionf("record count %d is less than the last checkpoint at %d", total, w.last.LogicalRecordOffset)
	}
	w.records, w.counted = total, true
	return nil
}

// Flush pushes buffered data to the resource.
func (w *Writer) Flush(ctx context.Context) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finish(ctx, "flush", &retErr)
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if w.sink == nil {
		return preconditionf("flush a %s writer", w.state)
	}
	return backendErr(w.sink.Flush(ctx), "flush")
}

// Close finalizes the index: it rewrites the header with the counts and the finalized flag,
// closes the resource and releases the lock.  A Writer closed before WriteHeader leaves an
// empty resource, which readers reject.  Closing a closed Writer does nothing.
func (w *Writer) Close(ctx context.Context) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx = pctx.Child(ctx, "writer", pctx.WithFields(zap.String("resource", w.res.Name())))
	defer w.finish(ctx, "close", &retErr)
	switch w.state {
	case writerCreated:
		w.state = writerClosed
		return nil
	case writerClosed:
		return nil
	case writerOpened:
		log.Info(ctx, "closing writer without a header")
		return w.closeLocked(ctx)
	}
	defer log.Span(ctx, "Writer.Close")(log.Errorp(&retErr))
	if err := w.finalizeLocked(ctx); err != nil {
		errors.JoinInto(&err, w.closeLocked(ctx))
		return err
	}
	if err := w.closeLocked(ctx); err != nil {
		return err
	}
	log.Info(ctx, "finalized index", zap.Uint64("entries", w.header.NumberOfEntries), zap.Uint64("records", w.header.NumberOfRecordsIndexed))
	return nil
}

func (w *Writer) finalizeLocked(ctx context.Context) error {
	if err := w.flushLocked(ctx); err != nil {
		return err
	}
	h := w.header
	h.Flags |= FlagFinalized
	h.NumberOfEntries = w.entries
	if w.entries > 0 {
		h.NumberOfRecordsIndexed = w.last.LogicalRecordOffset + 1
	}
	if w.counted {
		h.NumberOfRecordsIndexed = w.records
	}
	data, err := h.MarshalBinary()
	if err != nil {
		return preconditionf("%v", err)
	}
	if _, err := w.sink.WriteAt(data, 0); err != nil {
		return backendErr(err, "rewrite header")
	}
	if err := w.flushLocked(ctx); err != nil {
		return err
	}
	w.header = h
	return nil
}

// Abort closes the resource and releases the lock without finalizing, leaving an index that
// readers reject as incomplete.
func (w *Writer) Abort(ctx context.Context) (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ctx = pctx.Child(ctx, "writer", pctx.WithFields(zap.String("resource", w.res.Name())))
	defer w.finish(ctx, "abort", &retErr)
	switch w.state {
	case writerCreated, writerClosed:
		w.state = writerClosed
		return nil
	}
	log.Info(ctx, "aborting writer", zap.Uint64("entries", w.entries))
	return w.closeLocked(ctx)
}

// closeLocked closes the sink and releases the lock.  The writer is closed even if either
// fails.
func (w *Writer) closeLocked(ctx context.Context) error {
	err := backendErr(w.sink.Close(ctx), "close")
	errors.JoinInto(&err, backendErr(w.res.Release(ctx), "release lock"))
	w.sink, w.state = nil, writerClosed
	return err
}

// Header returns the header as written so far.  Its counts are set once Close succeeds.
func (w *Writer) Header() Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header
}

// finish records the outcome of op.
func (w *Writer) finish(ctx context.Context, op string, err *error) {
	observe("writer", op, *err)
	if *err != nil {
		w.diag.Reportf(ctx, "writer", "%s %s: %v", op, w.res.Name(), *err)
	}
}
