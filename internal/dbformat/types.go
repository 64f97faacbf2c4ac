// Package dbformat defines the internal key format shared by the memtable,
// the block codec, and every read path: an internal key is a user key glued
// to an 8-byte trailer packing a sequence number and a value type
// (spec.md section 3, "Internal key").
package dbformat

import (
	"errors"
	"fmt"

	"github.com/aalhour/ridgekv/internal/encoding"
)

// SeqNo is the monotonic 64-bit write identifier described in spec.md
// section 3. The top 8 bits are reserved to leave room for the packed
// ValueType trailer byte, giving a 56-bit usable counter — ample for any
// embedding that doesn't outlive 2^56 writes.
type SeqNo uint64

// MaxSeqNo is the largest representable sequence number.
const MaxSeqNo SeqNo = (1 << 56) - 1

// NumTrailerBytes is the size of the (seqno, type) trailer appended to
// every user key to form an internal key.
const NumTrailerBytes = 8

// MaxUserKeyLen is the largest permitted user key, per spec.md section 1.
const MaxUserKeyLen = 65535

// MaxUserValueLen is the largest permitted user value, per spec.md section 1.
const MaxUserValueLen = 1<<32 - 1

// ValueType distinguishes what an internal-key record means, per spec.md
// section 3. Values are part of the on-disk format and must not be
// reordered once anything has been written with them.
type ValueType uint8

const (
	// TypeValue carries a payload.
	TypeValue ValueType = 0
	// TypeTombstone deletes the preceding visible value of its user key.
	TypeTombstone ValueType = 1
	// TypeWeakTombstone deletes at most one preceding Value of its user key,
	// and only during compaction GC below the watermark.
	TypeWeakTombstone ValueType = 2
	// TypeIndirection carries a reference into an external blob store instead
	// of an inline payload.
	TypeIndirection ValueType = 3
)

// String implements fmt.Stringer for debugging and log lines.
func (t ValueType) String() string {
	switch t {
	case TypeValue:
		return "Value"
	case TypeTombstone:
		return "Tombstone"
	case TypeWeakTombstone:
		return "WeakTombstone"
	case TypeIndirection:
		return "Indirection"
	default:
		return fmt.Sprintf("ValueType(%d)", t)
	}
}

// Valid reports whether t is one of the known value types.
func (t ValueType) Valid() bool {
	return t <= TypeIndirection
}

// HasPayload reports whether records of this type carry a value (or blob
// reference) following the key, as opposed to tombstones which don't.
func (t ValueType) HasPayload() bool {
	return t == TypeValue || t == TypeIndirection
}

var (
	// ErrKeyTooShort is returned when a byte slice is too small to contain
	// an internal-key trailer.
	ErrKeyTooShort = errors.New("dbformat: internal key shorter than trailer")
	// ErrInvalidValueType is returned when a decoded trailer names an
	// unrecognized value type.
	ErrInvalidValueType = errors.New("dbformat: invalid value type")
)

// packTrailer packs a sequence number and value type into the 8-byte
// trailer. Layout: seqno occupies bits [8:64), type occupies bits [0:8).
func packTrailer(seq SeqNo, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

func unpackTrailer(packed uint64) (SeqNo, ValueType) {
	return SeqNo(packed >> 8), ValueType(packed & 0xFF)
}

// ParsedKey is a decomposed internal key.
type ParsedKey struct {
	UserKey []byte
	Seq     SeqNo
	Type    ValueType
}

func (p ParsedKey) String() string {
	return fmt.Sprintf("%q@%d/%s", p.UserKey, p.Seq, p.Type)
}

// AppendInternalKey appends the encoding of p to dst and returns the result.
func AppendInternalKey(dst []byte, p ParsedKey) []byte {
	dst = append(dst, p.UserKey...)
	return encoding.AppendFixed64(dst, packTrailer(p.Seq, p.Type))
}

// NewInternalKey builds a standalone internal key.
func NewInternalKey(userKey []byte, seq SeqNo, t ValueType) InternalKey {
	return AppendInternalKey(make([]byte, 0, len(userKey)+NumTrailerBytes), ParsedKey{userKey, seq, t})
}

// ParseInternalKey decomposes an encoded internal key.
func ParseInternalKey(data []byte) (ParsedKey, error) {
	if len(data) < NumTrailerBytes {
		return ParsedKey{}, ErrKeyTooShort
	}
	n := len(data)
	seq, t := unpackTrailer(encoding.DecodeFixed64(data[n-NumTrailerBytes:]))
	if !t.Valid() {
		return ParsedKey{}, ErrInvalidValueType
	}
	return ParsedKey{UserKey: data[:n-NumTrailerBytes], Seq: seq, Type: t}, nil
}

// InternalKey is an internal key stored as a flat byte slice: user key bytes
// followed by the 8-byte trailer.
type InternalKey []byte

// UserKey returns the user-key portion.
func (k InternalKey) UserKey() []byte {
	if len(k) < NumTrailerBytes {
		return k
	}
	return k[:len(k)-NumTrailerBytes]
}

// Seq returns the sequence number.
func (k InternalKey) Seq() SeqNo {
	if len(k) < NumTrailerBytes {
		return 0
	}
	seq, _ := unpackTrailer(encoding.DecodeFixed64(k[len(k)-NumTrailerBytes:]))
	return seq
}

// Type returns the value type.
func (k InternalKey) Type() ValueType {
	if len(k) < NumTrailerBytes {
		return TypeValue
	}
	_, t := unpackTrailer(encoding.DecodeFixed64(k[len(k)-NumTrailerBytes:]))
	return t
}

// UserCompare orders two user keys lexicographically ascending.
func UserCompare(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Comparator orders internal keys: user_key ascending, then seqno
// descending, then value_type ascending (spec.md section 3). The descending
// seqno means the newest version of a user key always sorts first among its
// versions, so a forward scan naturally yields the visible record first.
type Comparator struct {
	UserCmp func(a, b []byte) int
}

// DefaultComparator uses lexicographic byte ordering on user keys.
var DefaultComparator = &Comparator{UserCmp: UserCompare}

// Compare implements the three-way internal-key order.
func (c *Comparator) Compare(a, b []byte) int {
	ua, ub := InternalKey(a).UserKey(), InternalKey(b).UserKey()
	if cmp := c.userCompare()(ua, ub); cmp != 0 {
		return cmp
	}
	// Equal user keys: higher seqno sorts first (descending).
	sa, sb := InternalKey(a).Seq(), InternalKey(b).Seq()
	if sa != sb {
		if sa > sb {
			return -1
		}
		return 1
	}
	// Equal seqno: value type ascending.
	ta, tb := InternalKey(a).Type(), InternalKey(b).Type()
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}

func (c *Comparator) userCompare() func(a, b []byte) int {
	if c.UserCmp != nil {
		return c.UserCmp
	}
	return UserCompare
}

// CompareUserKey compares only the user-key portion of two internal keys.
func (c *Comparator) CompareUserKey(a, b []byte) int {
	return c.userCompare()(InternalKey(a).UserKey(), InternalKey(b).UserKey())
}
