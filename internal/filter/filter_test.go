package filter

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/aalhour/ridgekv/internal/prefixext"
)

func TestBuilderReaderRoundTripNoFalseNegatives(t *testing.T) {
	b := NewBuilder(BitsPerKey(10), nil)
	keys := make([][]byte, 500)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
		b.Add(keys[i])
	}
	data := b.Finish()

	r := NewReader(data, "", nil)
	if !r.Compatible() {
		t.Fatal("reader with matching (empty) extractor name should be compatible")
	}
	for _, k := range keys {
		if !r.MayContain(k) {
			t.Fatalf("false negative for key %q", k)
		}
	}
}

func TestBuilderReaderHasLowFalsePositiveRate(t *testing.T) {
	b := NewBuilder(BitsPerKey(10), nil)
	for i := range 10000 {
		b.Add([]byte(fmt.Sprintf("present-%05d", i)))
	}
	r := NewReader(b.Finish(), "", nil)

	falsePositives := 0
	const trials = 10000
	for i := range trials {
		if r.MayContain([]byte(fmt.Sprintf("absent-%05d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	if rate > 0.05 {
		t.Fatalf("false positive rate %.4f too high for 10 bits/key", rate)
	}
}

func TestEmptyFilterNeverMatches(t *testing.T) {
	b := NewBuilder(BitsPerKey(10), nil)
	data := b.Finish()
	r := NewReader(data, "", nil)
	if r.MayContain([]byte("anything")) {
		t.Fatal("empty filter should never match")
	}
}

func TestExtractorMismatchMarksIncompatibleAndFailsOpen(t *testing.T) {
	e4 := prefixext.FixedPrefix(4)
	b := NewBuilder(BitsPerKey(10), e4)
	b.Add([]byte("abcd1234"))
	data := b.Finish()

	e8 := prefixext.FixedPrefix(8)
	r := NewReader(data, b.ExtractorName(), e8)
	if r.Compatible() {
		t.Fatal("mismatched extractor names should be incompatible")
	}
	if !r.MayContain([]byte("zzzzzzzz")) {
		t.Fatal("incompatible filter must fail open (bypassed), never report a false negative")
	}

	rMatch := NewReader(data, b.ExtractorName(), e4)
	if !rMatch.Compatible() {
		t.Fatal("matching extractor names should be compatible")
	}
}

func TestPrefixExtractorHashesSharedPrefixTogether(t *testing.T) {
	e := prefixext.FixedPrefix(4)
	b := NewBuilder(BitsPerKey(10), e)
	b.Add([]byte("abcd-0001"))
	data := b.Finish()

	r := NewReader(data, e.Name(), e)
	// Any key sharing the "abcd" prefix must also be reported present,
	// since the filter only ever saw the prefix hash.
	if !r.MayContain([]byte("abcd-9999")) {
		t.Fatal("key sharing the indexed prefix should match")
	}
}

func TestPartitionedBuilderCutsMultiplePartitions(t *testing.T) {
	pb := NewPartitionedBuilder(BitsPerKey(10), nil, 256)
	var keys [][]byte
	for i := range 2000 {
		k := []byte(fmt.Sprintf("pk-%05d", i))
		keys = append(keys, k)
		pb.Add(k)
	}
	parts := pb.Finish()
	if len(parts) < 2 {
		t.Fatalf("expected multiple partitions for a small target size, got %d", len(parts))
	}
	for i := 1; i < len(parts); i++ {
		if bytes.Compare(parts[i-1].LastKey, parts[i].LastKey) >= 0 {
			t.Fatalf("partition last keys must be strictly increasing: %q >= %q", parts[i-1].LastKey, parts[i].LastKey)
		}
	}

	pr := NewPartitionedReader(bytes.Compare, "", nil, parts)
	for _, k := range keys {
		if !pr.MayContain(k) {
			t.Fatalf("false negative for key %q across partitions", k)
		}
	}
}

func TestPartitionedReaderIncompatibleExtractorFailsOpen(t *testing.T) {
	e4 := prefixext.FixedPrefix(4)
	pb := NewPartitionedBuilder(BitsPerKey(10), e4, 256)
	for i := range 50 {
		pb.Add([]byte(fmt.Sprintf("abcd%04d", i)))
	}
	parts := pb.Finish()

	pr := NewPartitionedReader(bytes.Compare, pb.ExtractorName(), prefixext.FixedPrefix(8), parts)
	if pr.Compatible() {
		t.Fatal("expected incompatible extractor across all partitions")
	}
	if !pr.MayContain([]byte("zzzzzzzz")) {
		t.Fatal("incompatible partitioned filter must fail open")
	}
}

func TestFprPolicyProducesReasonableBitBudget(t *testing.T) {
	p := Fpr(0.01)
	bits := p.BitsForKeys(1000)
	// ~9.6 bits/key for 1% fpr; generous bounds to avoid a brittle test.
	if bits < 5000 || bits > 15000 {
		t.Fatalf("Fpr(0.01) for 1000 keys = %d bits, expected roughly 9600", bits)
	}
}

func TestFixedPolicyIgnoresKeyCount(t *testing.T) {
	p := Fixed(128)
	if got := p.BitsForKeys(1); got != 128*8 {
		t.Fatalf("got %d", got)
	}
	if got := p.BitsForKeys(100000); got != 128*8 {
		t.Fatalf("Fixed policy should not scale with key count, got %d", got)
	}
}
