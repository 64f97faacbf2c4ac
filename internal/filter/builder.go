package filter

import "github.com/aalhour/ridgekv/internal/prefixext"

// newBloomMarker / fastLocalBloomMarker tag the metadata trailer so a
// reader can reject unrecognized filter formats instead of misreading
// them; the layout mirrors the cache-local scheme that influenced it.
const (
	newBloomMarker       = byte(0xFF)
	fastLocalBloomMarker = byte(0x00)
)

// filterKeyFor returns the bytes a key should be hashed under: the
// extractor's transform when one is configured and the key is in its
// domain, the whole key otherwise. Builder and Reader must apply this
// identically, since a point read replays the same decision the write
// path made for the same key.
func filterKeyFor(key []byte, extractor prefixext.Extractor) []byte {
	if extractor != nil && extractor.InDomain(key) {
		return extractor.Transform(key)
	}
	return key
}

// Builder accumulates keys for one table's filter.
type Builder struct {
	policy        Policy
	extractor     prefixext.Extractor
	hashes        []uint64
	extractorName string
}

// NewBuilder returns a Builder sizing its filter per policy. extractor may
// be nil, in which case whole keys are hashed.
func NewBuilder(policy Policy, extractor prefixext.Extractor) *Builder {
	name := ""
	if extractor != nil {
		name = extractor.Name()
	}
	return &Builder{
		policy:        policy,
		extractor:     extractor,
		hashes:        make([]uint64, 0, 256),
		extractorName: name,
	}
}

// Add adds userKey to the filter.
func (b *Builder) Add(userKey []byte) {
	b.hashes = append(b.hashes, keyFingerprint(filterKeyFor(userKey, b.extractor)))
}

// NumKeys returns the number of keys added since the last Reset.
func (b *Builder) NumKeys() int { return len(b.hashes) }

// Reset clears the builder for reuse.
func (b *Builder) Reset() { b.hashes = b.hashes[:0] }

// EstimatedSize returns the approximate size in bytes the finished filter
// will occupy.
func (b *Builder) EstimatedSize() int {
	if len(b.hashes) == 0 {
		return 0
	}
	bits := b.policy.BitsForKeys(len(b.hashes))
	return sizeForKeys(len(b.hashes), float64(bits)/float64(len(b.hashes)))
}

// ExtractorName returns the name recorded for the prefix extractor this
// builder used, or "" if none. This is what the table writer persists as
// the table's `prefix_extractor_name?` meta entry (spec.md section 4.3).
func (b *Builder) ExtractorName() string { return b.extractorName }

// Finish builds and returns the filter bytes, including the metadata
// trailer. An empty builder returns an always-false filter.
func (b *Builder) Finish() []byte {
	numKeys := len(b.hashes)
	if numKeys == 0 {
		return []byte{newBloomMarker, fastLocalBloomMarker, 0, 0, 0}
	}

	bitsPerKey := bitsPerKeyFor(b.policy, numKeys)
	total := sizeForKeys(numKeys, bitsPerKey)
	filterLen := total - metadataLen
	numProbes := chooseNumProbes(bitsPerKey)

	data := make([]byte, total)
	bs := bitset{data: data[:filterLen], numProbes: numProbes}
	for _, h := range b.hashes {
		bs.addHash(h)
	}

	data[filterLen+0] = newBloomMarker
	data[filterLen+1] = fastLocalBloomMarker
	data[filterLen+2] = byte(numProbes)
	data[filterLen+3] = 0
	data[filterLen+4] = 0

	b.hashes = b.hashes[:0]
	return data
}
