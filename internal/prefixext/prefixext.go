// Package prefixext implements the pluggable prefix extractor named in
// spec.md section 4.3: an optional `user_key → prefix-bytes` function that
// lets the filter store prefix hashes instead of full-key hashes, and lets
// prefix scans prove an entire table holds no matching records.
package prefixext

import "fmt"

// Extractor maps a user key to the prefix bytes the filter hashes, and
// reports whether a key falls inside the extractor's domain. Per spec.md
// section 4.3, Extractor and the key comparator together must satisfy: if
// k1 <= k2 <= k3 under the comparator, and k1 and k3 are both in-domain with
// equal transforms, then k2 is in-domain with the same transform — i.e. all
// keys sharing a prefix must be contiguous in key order. Violating this
// invariant silently corrupts prefix-scan filter elision.
type Extractor interface {
	// Name uniquely identifies the extractor and is persisted in a table's
	// metadata (`prefix_extractor_name?`). At open time a mismatch between
	// the configured extractor's name and a table's recorded name makes
	// the filter for that table incompatible: it is bypassed, never
	// misapplied (spec.md section 4.3).
	Name() string

	// Transform extracts the prefix from key. The returned slice may alias
	// key's backing array. Only called when InDomain(key) is true.
	Transform(key []byte) []byte

	// InDomain reports whether key has a valid prefix under this
	// extractor. Out-of-domain keys never participate in prefix filtering.
	InDomain(key []byte) bool
}

// FixedPrefix returns an extractor using exactly the first n bytes of each
// key as its prefix. Keys shorter than n bytes are out of domain, since a
// fixed-width comparison against a short key would otherwise silently
// compare fewer bytes than intended.
func FixedPrefix(n int) Extractor {
	if n <= 0 {
		n = 1
	}
	return fixedPrefix{n: n}
}

type fixedPrefix struct{ n int }

func (e fixedPrefix) Name() string             { return fmt.Sprintf("fixed-prefix(%d)", e.n) }
func (e fixedPrefix) Transform(key []byte) []byte { return key[:e.n] }
func (e fixedPrefix) InDomain(key []byte) bool { return len(key) >= e.n }

// FixedLength returns an extractor using up to n bytes of each key — keys
// shorter than n contribute their entire length. Every key is in domain,
// unlike FixedPrefix.
func FixedLength(n int) Extractor {
	if n <= 0 {
		n = 1
	}
	return fixedLength{n: n}
}

type fixedLength struct{ n int }

func (e fixedLength) Name() string { return fmt.Sprintf("fixed-length(%d)", e.n) }
func (e fixedLength) Transform(key []byte) []byte {
	if len(key) <= e.n {
		return key
	}
	return key[:e.n]
}
func (e fixedLength) InDomain(key []byte) bool { return true }

// FullKey returns an extractor whose prefix is the entire key, effectively
// disabling prefix-based filter elision while still giving filters a
// consistent extractor identity to record.
func FullKey() Extractor { return fullKey{} }

type fullKey struct{}

func (fullKey) Name() string                { return "full-key" }
func (fullKey) Transform(key []byte) []byte { return key }
func (fullKey) InDomain(key []byte) bool    { return true }

// Custom wraps an embedder-supplied transform function under a stable name,
// for prefix schemes none of the built-ins cover (e.g. a length-prefixed
// composite key format). The embedder is responsible for upholding the
// contiguity invariant documented on Extractor.
func Custom(name string, transform func(key []byte) []byte, inDomain func(key []byte) bool) Extractor {
	if inDomain == nil {
		inDomain = func([]byte) bool { return true }
	}
	return customExtractor{name: name, transform: transform, inDomain: inDomain}
}

type customExtractor struct {
	name      string
	transform func(key []byte) []byte
	inDomain  func(key []byte) bool
}

func (e customExtractor) Name() string                { return e.name }
func (e customExtractor) Transform(key []byte) []byte { return e.transform(key) }
func (e customExtractor) InDomain(key []byte) bool    { return e.inDomain(key) }
