package block

import (
	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/encoding"
)

// trailerSize is the fixed-width trailer spec.md section 4.1 calls for:
// item count, restart interval, binary-index offset/count/entry-width, and
// hash-index offset/count (0 count means absent). Seven uint32 fields.
const trailerSize = 7 * 4

type trailer struct {
	itemCount             uint32
	restartInterval       uint32
	binaryIndexOffset     uint32
	binaryIndexCount      uint32
	binaryIndexEntryWidth uint32
	hashIndexOffset       uint32
	hashIndexCount        uint32
}

func (t trailer) appendTo(dst []byte) []byte {
	dst = encoding.AppendFixed32(dst, t.itemCount)
	dst = encoding.AppendFixed32(dst, t.restartInterval)
	dst = encoding.AppendFixed32(dst, t.binaryIndexOffset)
	dst = encoding.AppendFixed32(dst, t.binaryIndexCount)
	dst = encoding.AppendFixed32(dst, t.binaryIndexEntryWidth)
	dst = encoding.AppendFixed32(dst, t.hashIndexOffset)
	dst = encoding.AppendFixed32(dst, t.hashIndexCount)
	return dst
}

func decodeTrailer(data []byte) (trailer, error) {
	if len(data) < trailerSize {
		return trailer{}, ErrCorrupt
	}
	d := data[len(data)-trailerSize:]
	return trailer{
		itemCount:             encoding.DecodeFixed32(d[0:4]),
		restartInterval:       encoding.DecodeFixed32(d[4:8]),
		binaryIndexOffset:     encoding.DecodeFixed32(d[8:12]),
		binaryIndexCount:      encoding.DecodeFixed32(d[12:16]),
		binaryIndexEntryWidth: encoding.DecodeFixed32(d[16:20]),
		hashIndexOffset:       encoding.DecodeFixed32(d[20:24]),
		hashIndexCount:        encoding.DecodeFixed32(d[24:28]),
	}, nil
}

// record is one decoded data-block entry.
type record struct {
	vtype   dbformat.ValueType
	seq     dbformat.SeqNo
	userKey []byte
	value   []byte
}

// decodeRecord parses one entry starting at the front of data, given the
// fully-assembled previous key in this restart interval (nil/empty at a
// restart point, where shared is always 0). It returns the record and the
// number of bytes consumed.
func decodeRecord(data []byte, prevKey []byte) (record, int, error) {
	if len(data) < 1 {
		return record{}, 0, ErrCorrupt
	}
	vtype := dbformat.ValueType(data[0])
	if !vtype.Valid() {
		return record{}, 0, ErrCorrupt
	}
	rest := data[1:]
	consumed := 1

	seq, n, err := encoding.DecodeVarint64(rest)
	if err != nil {
		return record{}, 0, ErrCorrupt
	}
	rest = rest[n:]
	consumed += n

	shared, n, err := encoding.DecodeVarint32(rest)
	if err != nil {
		return record{}, 0, ErrCorrupt
	}
	rest = rest[n:]
	consumed += n

	unshared, n, err := encoding.DecodeVarint32(rest)
	if err != nil {
		return record{}, 0, ErrCorrupt
	}
	rest = rest[n:]
	consumed += n

	if int(shared) > len(prevKey) || int(unshared) > len(rest) {
		return record{}, 0, ErrCorrupt
	}
	userKey := make([]byte, 0, int(shared)+int(unshared))
	userKey = append(userKey, prevKey[:shared]...)
	userKey = append(userKey, rest[:unshared]...)
	rest = rest[unshared:]
	consumed += int(unshared)

	var value []byte
	if vtype.HasPayload() {
		valueLen, n, err := encoding.DecodeVarint32(rest)
		if err != nil {
			return record{}, 0, ErrCorrupt
		}
		rest = rest[n:]
		consumed += n
		if int(valueLen) > len(rest) {
			return record{}, 0, ErrCorrupt
		}
		value = rest[:valueLen]
		consumed += int(valueLen)
	}

	return record{vtype: vtype, seq: dbformat.SeqNo(seq), userKey: userKey, value: value}, consumed, nil
}

// Reader parses a finished block's trailer and index structures and serves
// point lookups and iteration. It does not copy the block bytes; the
// caller (typically the block cache) owns the lifetime of data.
type Reader struct {
	data    []byte // entries only, [0:entriesEnd)
	full    []byte // entire block including index/trailer, for index math
	trailer trailer
	cmp     func(a, b []byte) int
}

// NewReader parses a block previously produced by Builder.Finish.
func NewReader(data []byte, userCmp func(a, b []byte) int) (*Reader, error) {
	tr, err := decodeTrailer(data)
	if err != nil {
		return nil, err
	}
	if userCmp == nil {
		userCmp = dbformat.UserCompare
	}
	entriesEnd := tr.binaryIndexOffset
	if tr.hashIndexCount > 0 {
		if tr.hashIndexOffset < entriesEnd {
			return nil, ErrCorrupt
		}
	}
	if int(entriesEnd) > len(data) {
		return nil, ErrCorrupt
	}
	return &Reader{data: data[:entriesEnd], full: data, trailer: tr, cmp: userCmp}, nil
}

func (r *Reader) restartOffset(i int) uint32 {
	width := int(r.trailer.binaryIndexEntryWidth)
	base := int(r.trailer.binaryIndexOffset) + i*width
	if width == 2 {
		return uint32(r.full[base]) | uint32(r.full[base+1])<<8
	}
	return encoding.DecodeFixed32(r.full[base : base+4])
}

func (r *Reader) numRestarts() int { return int(r.trailer.binaryIndexCount) }

// decodeAt decodes the record starting at offset off, which must be a
// restart point (shared is always 0 there, so prevKey is unused).
func (r *Reader) decodeAt(off uint32) (record, int, error) {
	return decodeRecord(r.data[off:], nil)
}

// scanInterval decodes every record in the restart interval starting at
// offset start, calling visit for each until visit returns false or the
// interval is exhausted (the next restart point, or entriesEnd, is
// reached). It returns early without error if visit stops iteration.
func (r *Reader) scanInterval(start uint32, end uint32, visit func(rec record, offset uint32) bool) error {
	pos := start
	var prevKey []byte
	for pos < end {
		rec, n, err := decodeRecord(r.data[pos:end], prevKey)
		if err != nil {
			return err
		}
		if !visit(rec, pos) {
			return nil
		}
		prevKey = rec.userKey
		pos += uint32(n)
	}
	return nil
}

func (r *Reader) intervalEnd(restartIdx int) uint32 {
	if restartIdx+1 < r.numRestarts() {
		return r.restartOffset(restartIdx + 1)
	}
	return uint32(len(r.data))
}

// findRestartLE returns the index of the rightmost restart point whose
// first key is <= target under the user-key comparator.
func (r *Reader) findRestartLE(target []byte) (int, error) {
	lo, hi := 0, r.numRestarts()-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		rec, _, err := r.decodeAt(r.restartOffset(mid))
		if err != nil {
			return 0, err
		}
		if r.cmp(rec.userKey, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// Get performs a point lookup for userKey at readSeq, per spec.md section
// 4.1: hash-lookup first (when a hash index is present), answering
// not-found on FREE and falling back to binary search on CONFLICT, then
// linear-probing the candidate restart interval until a key greater than
// userKey is reached.
func (r *Reader) Get(userKey []byte, readSeq dbformat.SeqNo) (value []byte, vtype dbformat.ValueType, found bool, err error) {
	restartIdx := -1
	if r.trailer.hashIndexCount > 0 {
		buckets := int(r.trailer.hashIndexCount)
		bucket := int(checksum.Fingerprint64(userKey) % uint64(buckets))
		slot := r.full[int(r.trailer.hashIndexOffset)+bucket]
		switch slot {
		case hashBucketFree:
			return nil, 0, false, nil
		case hashBucketConflict:
			// fall through to binary search below
		default:
			restartIdx = int(slot)
		}
	}
	if restartIdx < 0 {
		if r.numRestarts() == 0 {
			return nil, 0, false, nil
		}
		idx, ferr := r.findRestartLE(userKey)
		if ferr != nil {
			return nil, 0, false, ferr
		}
		restartIdx = idx
	}

	start := r.restartOffset(restartIdx)
	end := r.intervalEnd(restartIdx)

	var bestVal []byte
	var bestType dbformat.ValueType
	hit := false
	scanErr := r.scanInterval(start, end, func(rec record, _ uint32) bool {
		c := r.cmp(rec.userKey, userKey)
		if c > 0 {
			return false // sorted ascending by user key; gone past it
		}
		if c < 0 {
			return true
		}
		// Equal user key: records are ordered newest-seqno-first within a
		// key's run. Visibility is strict: a record stamped with exactly
		// readSeq is not yet visible to a read at readSeq, so the first one
		// with seq < readSeq is the answer.
		if rec.seq < readSeq && !hit {
			bestVal, bestType, hit = rec.value, rec.vtype, true
			return false
		}
		return true
	})
	if scanErr != nil {
		return nil, 0, false, scanErr
	}
	return bestVal, bestType, hit, nil
}
