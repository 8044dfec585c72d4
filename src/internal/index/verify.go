package index

import (
	"context"

	"github.com/pachyderm/seekidx/src/internal/backend"
	"github.com/pachyderm/seekidx/src/internal/errors"
)

// Summary describes a verified index.
type Summary struct {
	Header Header
	// Size is the encoded size of the index in bytes.
	Size uint64
	// EntriesWithState counts the entries that carry decompressor state.
	EntriesWithState uint64
	StateBytes       uint64
	MaxStateSize     uint32
	First, Last      Entry
}

// Verify reads the whole index in res under a shared lock and checks every structural
// invariant, including that no checkpoint lies past the number of records indexed.
func Verify(ctx context.Context, res backend.Resource, opts ...Option) (_ *Summary, retErr error) {
	o := makeOptions(opts)
	r := NewReader(res, opts...)
	if err := r.Open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		errors.JoinInto(&retErr, r.Close(ctx))
	}()
	s := &Summary{Header: r.Header(), Size: HeaderSize}
	var n uint64
	if err := r.Iterate(ctx, func(e Entry) error {
		if n == 0 {
			s.First = e
		}
		s.Last = e
		n++
		s.Size += uint64(e.EncodedSize())
		if len(e.State) > 0 {
			s.EntriesWithState++
			s.StateBytes += uint64(len(e.State))
			if e.StateSize() > s.MaxStateSize {
				s.MaxStateSize = e.StateSize()
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if n > 0 && s.Last.LogicalRecordOffset > s.Header.NumberOfRecordsIndexed {
		err := formatf("last checkpoint at record %d is past the %d records indexed", s.Last.LogicalRecordOffset, s.Header.NumberOfRecordsIndexed)
		o.diag.Reportf(ctx, "verify", "%s: %v", res.Name(), err)
		return nil, err
	}
	return s, nil
}
