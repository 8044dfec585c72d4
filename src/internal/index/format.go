package index

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

const (
	// HeaderSize is the size of the encoded Header.
	HeaderSize = 64
	// FixedEntrySize is the size of an encoded Entry without state.
	FixedEntrySize = 20
	// CurrentVersion is the version written by this package.
	CurrentVersion uint32 = 1
	// MaxSupportedVersion is the newest version this package can read.
	MaxSupportedVersion uint32 = 1
	// MaxStateSize bounds a single entry's decompressor state.
	MaxStateSize = 16 << 20
)

const (
	// FlagFinalized is set by the writer once the counts in the header are final.
	FlagFinalized uint32 = 1 << 0

	knownFlags = FlagFinalized
)

// Magic starts every index.
var Magic = [8]byte{'S', 'E', 'E', 'K', 'I', 'D', 'X', 0}

const (
	offMagic    = 0
	offVersion  = 8
	offFlags    = 12
	offEntries  = 16
	offRecords  = 24
	offReserved = 32
)

// Header is the fixed-size preamble of an index.
type Header struct {
	Version uint32
	Flags   uint32
	// NumberOfEntries and NumberOfRecordsIndexed are only meaningful once Finalized.
	NumberOfEntries        uint64
	NumberOfRecordsIndexed uint64
}

// NewHeader returns an empty header at CurrentVersion.
func NewHeader() Header {
	return Header{Version: CurrentVersion}
}

// Finalized reports whether the writer completed the index.
func (h Header) Finalized() bool {
	return h.Flags&FlagFinalized != 0
}

func (h Header) String() string {
	return fmt.Sprintf("version=%d finalized=%t entries=%d records=%d", h.Version, h.Finalized(), h.NumberOfEntries, h.NumberOfRecordsIndexed)
}

// MarshalBinary encodes h.  The same encoding is used for the initial header and for the
// finalized one.
func (h Header) MarshalBinary() ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	copy(buf[offMagic:], Magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offEntries:], h.NumberOfEntries)
	binary.LittleEndian.PutUint64(buf[offRecords:], h.NumberOfRecordsIndexed)
	return buf, nil
}

// UnmarshalBinary decodes an encoded header, failing with ErrFormat if it is not one this
// package can read.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return formatf("header is %d bytes, want %d", len(data), HeaderSize)
	}
	if !bytes.Equal(data[offMagic:offVersion], Magic[:]) {
		return formatf("bad magic %q", data[offMagic:offVersion])
	}
	for _, b := range data[offReserved:] {
		if b != 0 {
			return formatf("reserved header bytes are not zero")
		}
	}
	dec := Header{
		Version:                binary.LittleEndian.Uint32(data[offVersion:]),
		Flags:                  binary.LittleEndian.Uint32(data[offFlags:]),
		NumberOfEntries:        binary.LittleEndian.Uint64(data[offEntries:]),
		NumberOfRecordsIndexed: binary.LittleEndian.Uint64(data[offRecords:]),
	}
	if err := dec.validate(); err != nil {
		return formatf("%v", err)
	}
	*h = dec
	return nil
}

func (h Header) validate() error {
	if h.Version == 0 || h.Version > MaxSupportedVersion {
		return errors.Errorf("unsupported version %d (supported 1 to %d)", h.Version, MaxSupportedVersion)
	}
	if unknown := h.Flags &^ knownFlags; unknown != 0 {
		return errors.Errorf("unknown flags %#x", unknown)
	}
	return nil
}

// Entry is one checkpoint.
type Entry struct {
	// LogicalRecordOffset is the number of records decoded before this checkpoint.
	LogicalRecordOffset uint64
	// CompressedStreamOffset is the byte offset in the compressed stream where decoding
	// resumes.
	CompressedStreamOffset uint64
	// State is the decompressor state needed to resume.  Empty means decoding resumes from a
	// clean state.
	State []byte
}

// StateSize is the encoded state size.
func (e Entry) StateSize() uint32 {
	return uint32(len(e.State))
}

// EncodedSize is the number of bytes e occupies in an index.
func (e Entry) EncodedSize() int {
	return FixedEntrySize + len(e.State)
}

func (e Entry) String() string {
	return fmt.Sprintf("logical=%d compressed=%d state=%d", e.LogicalRecordOffset, e.CompressedStreamOffset, len(e.State))
}

// appendEntry appends the encoding of e to buf.
func appendEntry(buf []byte, e Entry) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, e.LogicalRecordOffset)
	buf = binary.LittleEndian.AppendUint64(buf, e.CompressedStreamOffset)
	buf = binary.LittleEndian.AppendUint32(buf, e.StateSize())
	return append(buf, e.State...)
}

// decodeFixed decodes the fixed part of an entry.
func decodeFixed(data []byte) (e Entry, stateSize uint32) {
	e.LogicalRecordOffset = binary.LittleEndian.Uint64(data[0:])
	e.CompressedStreamOffset = binary.LittleEndian.Uint64(data[8:])
	return e, binary.LittleEndian.Uint32(data[16:])
}

// checkOrder returns a description of how next breaks ordering after prev, or "".
func checkOrder(prev, next Entry) string {
	if next.LogicalRecordOffset < prev.LogicalRecordOffset {
		return fmt.Sprintf("logical offset %d after %d", next.LogicalRecordOffset, prev.LogicalRecordOffset)
	}
	if next.CompressedStreamOffset <= prev.CompressedStreamOffset {
		return fmt.Sprintf("compressed offset %d after %d", next.CompressedStreamOffset, prev.CompressedStreamOffset)
	}
	return ""
}
