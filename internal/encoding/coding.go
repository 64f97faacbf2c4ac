// Package encoding provides the binary primitives used to serialize the
// engine's on-disk formats: little-endian fixed-width integers and 7-bit
// continuation varints, matching the layouts in spec.md section 6.
package encoding

import (
	"encoding/binary"
	"errors"
)

// MaxVarint32Len is the maximum number of bytes a varint32 can occupy.
const MaxVarint32Len = 5

// MaxVarint64Len is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Len = 10

var (
	// ErrVarintTruncated is returned when a varint runs off the end of its buffer.
	ErrVarintTruncated = errors.New("encoding: varint truncated")
	// ErrVarintOverflow is returned when a varint exceeds 64 bits.
	ErrVarintOverflow = errors.New("encoding: varint overflow")
)

// EncodeFixed32 writes v to dst in little-endian order. REQUIRES len(dst) >= 4.
func EncodeFixed32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

// DecodeFixed32 reads a little-endian uint32 from src. REQUIRES len(src) >= 4.
func DecodeFixed32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// EncodeFixed64 writes v to dst in little-endian order. REQUIRES len(dst) >= 8.
func EncodeFixed64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// DecodeFixed64 reads a little-endian uint64 from src. REQUIRES len(src) >= 8.
func DecodeFixed64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// AppendFixed32 appends v to dst in little-endian order.
func AppendFixed32(dst []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(dst, v) }

// AppendFixed64 appends v to dst in little-endian order.
func AppendFixed64(dst []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(dst, v) }

// EncodeVarint32 writes v as a varint into dst, returning the number of bytes used.
// REQUIRES len(dst) >= MaxVarint32Len.
func EncodeVarint32(dst []byte, v uint32) int { return encodeVarint(dst, uint64(v)) }

// AppendVarint32 appends v to dst as a varint.
func AppendVarint32(dst []byte, v uint32) []byte { return AppendVarint64(dst, uint64(v)) }

// EncodeVarint64 writes v as a varint into dst, returning the number of bytes used.
// REQUIRES len(dst) >= MaxVarint64Len.
func EncodeVarint64(dst []byte, v uint64) int { return encodeVarint(dst, v) }

// AppendVarint64 appends v to dst as a varint.
func AppendVarint64(dst []byte, v uint64) []byte {
	var buf [MaxVarint64Len]byte
	n := encodeVarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func encodeVarint(dst []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		dst[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	dst[i] = byte(v)
	return i + 1
}

// DecodeVarint32 decodes a varint32 from src, returning the value and bytes consumed.
func DecodeVarint32(src []byte) (value uint32, n int, err error) {
	v, n, err := DecodeVarint64(src)
	if err != nil {
		return 0, 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, 0, ErrVarintOverflow
	}
	return uint32(v), n, nil
}

// DecodeVarint64 decodes a varint64 from src, returning the value and bytes consumed.
func DecodeVarint64(src []byte) (value uint64, n int, err error) {
	var result uint64
	for shift := uint(0); shift < 64; shift += 7 {
		if n >= len(src) {
			return 0, 0, ErrVarintTruncated
		}
		b := src[n]
		n++
		if b < 0x80 {
			result |= uint64(b) << shift
			return result, n, nil
		}
		result |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// VarintLen returns the number of bytes needed to varint-encode v.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// SharedPrefixLen returns the length of the common prefix of a and b.
func SharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
