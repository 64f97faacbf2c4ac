// Package filter implements the per-table Bloom filter described in
// spec.md section 4.3: a cache-local Bloom filter (all probes for a key
// land in a single 64-byte cache line), an optional prefix extractor that
// trades full-key hashing for prefix hashing, and a partitioned variant
// that splits a large key space into ~4 KiB filter partitions indexed by
// a small top-level index of partition last-keys.
package filter

import "github.com/aalhour/ridgekv/internal/checksum"

const (
	// cacheLineSize is the size of a CPU cache line in bytes.
	cacheLineSize = 64
	// cacheLineBits is the number of addressable bits in one cache line.
	cacheLineBits = cacheLineSize * 8

	// metadataLen is the number of trailing metadata bytes on a built filter.
	metadataLen = 5
)

// bitset is the cache-line-aligned Bloom bit array shared by the builder
// and the reader. Each key's probes all land in one cache line, selected
// by the low half of its hash; probe positions within the line are
// selected by the high half via a golden-ratio multiplicative sequence
// (FastLocalBloom, as used by RocksDB's block-based table format).
type bitset struct {
	data      []byte
	numProbes int
}

func fastRange32(h, n uint32) uint32 {
	return uint32((uint64(h) * uint64(n)) >> 32)
}

func (b bitset) addHash(hash uint64) {
	h1, h2 := uint32(hash), uint32(hash>>32)
	numCacheLines := uint32(len(b.data)) >> 6
	if numCacheLines == 0 {
		return
	}
	line := b.data[fastRange32(h1, numCacheLines)<<6:]
	line = line[:cacheLineSize]
	h := h2
	for range b.numProbes {
		bitpos := h >> (32 - 9)
		line[bitpos>>3] |= 1 << (bitpos & 7)
		h *= 0x9e3779b9
	}
}

func (b bitset) mayMatch(hash uint64) bool {
	if b.numProbes == 0 || len(b.data) == 0 {
		return false
	}
	h1, h2 := uint32(hash), uint32(hash>>32)
	numCacheLines := uint32(len(b.data)) >> 6
	if numCacheLines == 0 {
		return false
	}
	line := b.data[fastRange32(h1, numCacheLines)<<6:]
	line = line[:cacheLineSize]
	h := h2
	for range b.numProbes {
		bitpos := h >> (32 - 9)
		if line[bitpos>>3]&(1<<(bitpos&7)) == 0 {
			return false
		}
		h *= 0x9e3779b9
	}
	return true
}

// chooseNumProbes picks the number of hash probes per key that minimizes
// the false positive rate for the given bits-per-key budget.
func chooseNumProbes(bitsPerKey float64) int {
	millibits := int(bitsPerKey * 1000)
	switch {
	case millibits <= 2080:
		return 1
	case millibits <= 3580:
		return 2
	case millibits <= 5100:
		return 3
	case millibits <= 6640:
		return 4
	case millibits <= 8300:
		return 5
	case millibits <= 10070:
		return 6
	case millibits <= 11720:
		return 7
	case millibits <= 14001:
		return 8
	case millibits <= 16050:
		return 9
	case millibits <= 18300:
		return 10
	case millibits <= 22001:
		return 11
	case millibits <= 25501:
		return 12
	case millibits > 50000:
		return 24
	default:
		return (millibits-1)/2000 - 1
	}
}

func keyFingerprint(key []byte) uint64 { return checksum.Fingerprint64(key) }

// sizeForKeys returns the cache-line-aligned byte size (including
// metadata) of a filter holding numKeys keys at the given bits-per-key.
func sizeForKeys(numKeys int, bitsPerKey float64) int {
	if numKeys == 0 {
		return 0
	}
	totalBits := float64(numKeys) * bitsPerKey
	numCacheLines := (int(totalBits) + cacheLineBits - 1) / cacheLineBits
	if numCacheLines == 0 {
		numCacheLines = 1
	}
	return numCacheLines*cacheLineSize + metadataLen
}
