/*
Package index reads and writes seek indexes: side files that let a consumer start decoding a
sequentially compressed, record-oriented stream from the middle.

An index is a fixed [Header] followed by a sequence of [Entry] checkpoints.  Each checkpoint
pairs a logical record offset with the compressed stream offset at which decoding may resume,
and optionally the decompressor state (the window) needed to resume there.  All integers are
little-endian.

	header   [0, 64)
	  magic              8 bytes  "SEEKIDX\x00"
	  version            uint32
	  flags              uint32   bit 0 set once the writer finalized the index
	  number of entries  uint64
	  records indexed    uint64
	  reserved           32 zero bytes
	entries  [64, EOF), no padding between them
	  logical offset     uint64
	  compressed offset  uint64
	  state size k       uint32
	  state              k bytes, absent when k is 0

Most checkpoints carry no state, since a decoder often realigns to an empty window on its own;
those entries occupy exactly [FixedEntrySize] bytes.

The two counts in the header are zero until the [Writer] finalizes the index in Close, which
rewrites the whole header in place with the counts and the finalized flag.  A writer that dies
before that leaves a header without the flag, and the [Reader] rejects it with [ErrFormat]
rather than treating it as an empty index.

Writers hold the resource's exclusive lock from Open to Close, readers hold its shared lock
from Open to Close.  Locks are never waited for: a busy resource fails with
[ErrLockContention], and callers that want to wait use [RetryOpen].
*/
package index
