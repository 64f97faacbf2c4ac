// Package checksum computes the xxh3 digests used throughout the table and
// manifest formats (spec.md section 6): a 64-bit fingerprint for the block
// hash-index and Bloom filter, a 128-bit digest for per-block integrity
// checks, and the same 128-bit digest over a whole file, which the table
// writer records in the manifest and internal/verify rechecks.
//
// The digests are computed with the real xxh3 implementation rather than a
// hand-rolled port, since correctness and speed here are load bearing for
// every read path.
package checksum

import (
	"io"

	"github.com/zeebo/xxh3"
)

// Fingerprint64 returns the 64-bit xxh3 hash of data. Used for block
// hash-index buckets and Bloom filter probes; not required to be
// cryptographically strong, only fast and well distributed.
func Fingerprint64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Digest128 is a 128-bit xxh3 checksum.
type Digest128 struct {
	Hi, Lo uint64
}

// Equal reports whether two digests match.
func (d Digest128) Equal(o Digest128) bool { return d.Hi == o.Hi && d.Lo == o.Lo }

// Bytes returns the big-endian 16-byte encoding of the digest, the form
// stored on disk in block headers and the manifest (spec.md section 6).
func (d Digest128) Bytes() [16]byte {
	u := xxh3.Uint128{Hi: d.Hi, Lo: d.Lo}
	return u.Bytes()
}

// Sum128 computes the 128-bit xxh3 checksum of data, used for per-block
// checksums in table files (spec.md section 6).
func Sum128(data []byte) Digest128 {
	u := xxh3.Hash128(data)
	return Digest128{Hi: u.Hi, Lo: u.Lo}
}

// StreamHasher accumulates a 128-bit xxh3 digest over data written to it in
// chunks, used by internal/verify to checksum an entire table or blob file
// without holding it in memory at once.
type StreamHasher struct {
	h *xxh3.Hasher
}

// NewStreamHasher returns a fresh StreamHasher.
func NewStreamHasher() *StreamHasher {
	return &StreamHasher{h: xxh3.New()}
}

// Write implements io.Writer.
func (s *StreamHasher) Write(p []byte) (int, error) { return s.h.Write(p) }

// Sum128 returns the digest of all bytes written so far.
func (s *StreamHasher) Sum128() Digest128 {
	u := s.h.Sum128()
	return Digest128{Hi: u.Hi, Lo: u.Lo}
}

// Reset clears accumulated state for reuse.
func (s *StreamHasher) Reset() { s.h.Reset() }

var _ io.Writer = (*StreamHasher)(nil)
