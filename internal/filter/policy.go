package filter

import "math"

// Policy is a filter construction policy (spec.md section 4.3): given the
// number of keys a table's filter will hold, it reports how many bits the
// filter needs. Levels may each carry their own Policy.
type Policy interface {
	// Name identifies the policy in a human-readable form for logging; it
	// is not part of the on-disk format (the table records bits actually
	// used, not the policy that chose them).
	Name() string
	// BitsForKeys returns the total bit budget for a filter over numKeys
	// keys.
	BitsForKeys(numKeys int) uint64
}

type bitsPerKeyPolicy struct{ bits float64 }

// BitsPerKey returns a Policy that allocates a fixed number of bits per
// key, the classic Bloom filter knob (10 bits/key is ~1% false positives).
func BitsPerKey(bits float32) Policy {
	b := float64(bits)
	if b < 1 {
		b = 1
	}
	return bitsPerKeyPolicy{bits: b}
}

func (p bitsPerKeyPolicy) Name() string { return "bits_per_key" }
func (p bitsPerKeyPolicy) BitsForKeys(numKeys int) uint64 {
	return uint64(math.Ceil(float64(numKeys) * p.bits))
}

type fprPolicy struct{ fpr float64 }

// Fpr returns a Policy that sizes the filter to target the given false
// positive rate, via bits_per_key = -log2(fpr) / ln(2).
func Fpr(fpr float32) Policy {
	f := float64(fpr)
	if f <= 0 {
		f = 1e-6
	}
	if f >= 1 {
		f = 0.999
	}
	return fprPolicy{fpr: f}
}

func (p fprPolicy) Name() string { return "fpr" }
func (p fprPolicy) BitsForKeys(numKeys int) uint64 {
	bitsPerKey := -math.Log(p.fpr) / (math.Ln2 * math.Ln2)
	return uint64(math.Ceil(float64(numKeys) * bitsPerKey))
}

type fixedPolicy struct{ bytes uint64 }

// Fixed returns a Policy that always allocates exactly the given number of
// bytes for the filter, regardless of key count.
func Fixed(bytes uint64) Policy {
	return fixedPolicy{bytes: bytes}
}

func (p fixedPolicy) Name() string { return "fixed" }
func (p fixedPolicy) BitsForKeys(int) uint64 { return p.bytes * 8 }

// bitsPerKeyFor derives an effective bits-per-key figure from a Policy and
// an expected key count, used to pick the probe count; a policy that does
// not scale linearly with numKeys (Fixed) is normalized against numKeys so
// chooseNumProbes still gets a sane density figure.
func bitsPerKeyFor(p Policy, numKeys int) float64 {
	if numKeys <= 0 {
		return 10
	}
	bits := float64(p.BitsForKeys(numKeys)) / float64(numKeys)
	if bits < 1 {
		bits = 1
	}
	return bits
}
