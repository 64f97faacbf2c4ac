// Package block implements the data-block and index-block codec: prefix-
// compressed records grouped into restart intervals, a binary index for
// O(log R) seek, an optional hash index for O(1) point lookups, and a
// fixed-size trailer (spec.md section 4.1, 4.2).
package block

import (
	"errors"

	"github.com/aalhour/ridgekv/internal/encoding"
)

var (
	// ErrBadHandle is returned when a block handle fails to decode.
	ErrBadHandle = errors.New("block: bad block handle")
	// ErrCorrupt is returned when a block's trailer or index is corrupted.
	ErrCorrupt = errors.New("block: corrupted block")
)

// Handle is a pointer to the extent of a file holding a block: its offset
// and length. Index records and the table's outer trailer both use it.
type Handle struct {
	Offset uint64
	Size   uint64
}

// NullHandle points at nothing.
var NullHandle = Handle{}

// IsNull reports whether h is the zero handle.
func (h Handle) IsNull() bool { return h.Offset == 0 && h.Size == 0 }

// EncodeTo appends the varint encoding of h to dst.
func (h Handle) EncodeTo(dst []byte) []byte {
	dst = encoding.AppendVarint64(dst, h.Offset)
	dst = encoding.AppendVarint64(dst, h.Size)
	return dst
}

// EncodedLength returns the number of bytes EncodeTo would append.
func (h Handle) EncodedLength() int {
	return encoding.VarintLen(h.Offset) + encoding.VarintLen(h.Size)
}

// DecodeHandle decodes a Handle from the front of data, returning the
// remaining bytes.
func DecodeHandle(data []byte) (Handle, []byte, error) {
	offset, n1, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, ErrBadHandle
	}
	data = data[n1:]
	size, n2, err := encoding.DecodeVarint64(data)
	if err != nil {
		return Handle{}, nil, ErrBadHandle
	}
	data = data[n2:]
	return Handle{Offset: offset, Size: size}, data, nil
}
