package filter

import "github.com/aalhour/ridgekv/internal/prefixext"

// Reader answers MayContain queries against a filter previously produced
// by Builder.Finish.
type Reader struct {
	bs         bitset
	extractor  prefixext.Extractor
	compatible bool
}

// NewReader parses filter data written with extractorName recorded in the
// table's metadata. configuredExtractor is the extractor currently
// configured for reads; if its name doesn't match extractorName the
// filter is marked incompatible and MayContain always reports "maybe"
// (spec.md section 4.3: bypass, never misapply). A nil configuredExtractor
// matches only a table with no recorded extractor.
func NewReader(data []byte, extractorName string, configuredExtractor prefixext.Extractor) *Reader {
	configuredName := ""
	if configuredExtractor != nil {
		configuredName = configuredExtractor.Name()
	}
	compatible := configuredName == extractorName

	if len(data) < metadataLen {
		return &Reader{compatible: false}
	}
	filterLen := len(data) - metadataLen
	if data[filterLen] != newBloomMarker || data[filterLen+1] != fastLocalBloomMarker {
		return &Reader{compatible: false}
	}
	numProbes := int(data[filterLen+2])

	r := &Reader{
		bs:         bitset{data: data[:filterLen], numProbes: numProbes},
		compatible: compatible,
	}
	if compatible {
		r.extractor = configuredExtractor
	}
	return r
}

// Compatible reports whether the reader's configured extractor matches the
// one the filter was built with. An incompatible filter must be bypassed
// rather than consulted.
func (r *Reader) Compatible() bool { return r != nil && r.compatible }

// MayContain reports whether userKey may be present. Callers must check
// Compatible first; calling on an incompatible reader always returns true
// (equivalent to bypassing the filter) so a careless caller fails open,
// never closed.
func (r *Reader) MayContain(userKey []byte) bool {
	if r == nil || !r.compatible {
		return true
	}
	return r.bs.mayMatch(keyFingerprint(filterKeyFor(userKey, r.extractor)))
}
