package block

import (
	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/encoding"
)

// DefaultRestartInterval is the default number of records between restart
// points (spec.md section 4.1: "configurable size R, default 16").
const DefaultRestartInterval = 16

// hashBucketFree marks a hash-index bucket that no key has ever hashed to.
const hashBucketFree = 254

// hashBucketConflict marks a hash-index bucket that two or more keys
// mapping to different restart intervals have hashed to; readers fall back
// to binary search for these.
const hashBucketConflict = 255

// maxHashableRestarts is the largest restart count the hash index can
// address, since bucket values 254 and 255 are reserved (spec.md 4.1).
const maxHashableRestarts = 253

// minBytesForHashIndex is the size below which a hash index is not worth
// the extra space (spec.md 4.1: "built only when the block is large enough
// to benefit").
const minBytesForHashIndex = 1024

// Builder accumulates (user_key, seqno, value_type, value) records into one
// data block: records are grouped into restart intervals, every record but
// the first in an interval stores only the suffix that differs from the
// interval's base key (spec.md section 4.1).
type Builder struct {
	buf             []byte
	restarts        []uint32
	restartInterval int
	sinceRestart    int
	lastKey         []byte
	entryCount      int

	buildHashIndex bool
}

// NewBuilder returns a Builder using restartInterval records per restart
// point. A non-positive value is replaced with DefaultRestartInterval.
func NewBuilder(restartInterval int) *Builder {
	if restartInterval <= 0 {
		restartInterval = DefaultRestartInterval
	}
	return &Builder{
		buf:             make([]byte, 0, 4096),
		restartInterval: restartInterval,
		restarts:        []uint32{0},
		buildHashIndex:  true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:1]
	b.restarts[0] = 0
	b.sinceRestart = 0
	b.lastKey = b.lastKey[:0]
	b.entryCount = 0
}

// Empty reports whether Add has never been called since the last Reset.
func (b *Builder) Empty() bool { return b.entryCount == 0 }

// EstimatedSize returns the current approximate size of the finished block,
// used by the table writer to decide when to cut a new block.
func (b *Builder) EstimatedSize() int {
	return len(b.buf) + len(b.restarts)*4 + trailerSize
}

// Add appends one record. userKey must be >= the previous call's userKey
// under the table's comparator; the builder trusts this and does not
// re-validate it (spec.md section 4.4: "records must arrive in ascending
// internal-key order; the writer trusts this").
func (b *Builder) Add(userKey []byte, seq dbformat.SeqNo, vtype dbformat.ValueType, value []byte) {
	shared := 0
	switch {
	case b.entryCount == 0:
		// restarts already seeded with offset 0 by NewBuilder/Reset.
	case b.sinceRestart < b.restartInterval:
		shared = encoding.SharedPrefixLen(b.lastKey, userKey)
	default:
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.sinceRestart = 0
	}
	unshared := len(userKey) - shared

	b.buf = append(b.buf, byte(vtype))
	b.buf = encoding.AppendVarint64(b.buf, uint64(seq))
	b.buf = encoding.AppendVarint32(b.buf, uint32(shared))
	b.buf = encoding.AppendVarint32(b.buf, uint32(unshared))
	b.buf = append(b.buf, userKey[shared:]...)
	if vtype.HasPayload() {
		b.buf = encoding.AppendVarint32(b.buf, uint32(len(value)))
		b.buf = append(b.buf, value...)
	}

	b.lastKey = append(b.lastKey[:0], userKey...)
	b.sinceRestart++
	b.entryCount++
}

// Finish serializes the binary index, the optional hash index, and the
// trailer, returning the complete block bytes. The builder must not be
// reused without calling Reset first.
func (b *Builder) Finish() []byte {
	entriesEnd := uint32(len(b.buf))

	width := uint32(4)
	if entriesEnd+uint32(len(b.restarts))*2 < 1<<16 {
		width = 2
	}

	binaryIndexOffset := uint32(len(b.buf))
	for _, off := range b.restarts {
		if width == 2 {
			b.buf = append(b.buf, byte(off), byte(off>>8))
		} else {
			b.buf = encoding.AppendFixed32(b.buf, off)
		}
	}
	binaryIndexCount := uint32(len(b.restarts))

	var hashIndexOffset, hashIndexCount uint32
	if b.buildHashIndex && len(b.restarts) <= maxHashableRestarts && entriesEnd >= minBytesForHashIndex {
		hashIndexOffset = uint32(len(b.buf))
		buckets := hashBucketCount(len(b.restarts))
		table := make([]byte, buckets)
		for i := range table {
			table[i] = hashBucketFree
		}
		b.populateHashTable(table, entriesEnd)
		b.buf = append(b.buf, table...)
		hashIndexCount = uint32(buckets)
	}

	tr := trailer{
		itemCount:             uint32(b.entryCount),
		restartInterval:       uint32(b.restartInterval),
		binaryIndexOffset:     binaryIndexOffset,
		binaryIndexCount:      binaryIndexCount,
		binaryIndexEntryWidth: width,
		hashIndexOffset:       hashIndexOffset,
		hashIndexCount:        hashIndexCount,
	}
	b.buf = tr.appendTo(b.buf)
	return b.buf
}

func hashBucketCount(numRestarts int) int {
	n := numRestarts * 2
	if n < 8 {
		n = 8
	}
	if n > 512 {
		n = 512
	}
	return n
}

// populateHashTable walks every record once more, hashing each entry's
// user key and recording which restart interval it belongs to.
func (b *Builder) populateHashTable(table []byte, entriesEnd uint32) {
	buckets := len(table)
	var lastKey []byte
	restartIdx := -1
	pos := uint32(0)
	nextRestart := 0
	for pos < entriesEnd {
		if nextRestart < len(b.restarts) && b.restarts[nextRestart] == pos {
			restartIdx = nextRestart
			nextRestart++
			lastKey = lastKey[:0]
		}
		rec, n, err := decodeRecord(b.buf[pos:entriesEnd], lastKey)
		if err != nil {
			// Add trusts its caller to supply well-formed keys; a corrupt
			// encoding here means a bug in Add itself.
			panic("block: corrupt record while building hash index: " + err.Error())
		}
		lastKey = append(lastKey[:0], rec.userKey...)

		bucket := int(checksum.Fingerprint64(rec.userKey) % uint64(buckets))
		switch table[bucket] {
		case hashBucketFree:
			table[bucket] = byte(restartIdx)
		case hashBucketConflict:
			// already conflicted
		default:
			if int(table[bucket]) != restartIdx {
				table[bucket] = hashBucketConflict
			}
		}
		pos += uint32(n)
	}
}
