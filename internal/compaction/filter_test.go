package compaction

import (
	"testing"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

func rec(seq dbformat.SeqNo, vtype dbformat.ValueType, value string) record {
	return record{seq: seq, vtype: vtype, value: []byte(value)}
}

func seqs(recs []record) []dbformat.SeqNo {
	out := make([]dbformat.SeqNo, len(recs))
	for i, r := range recs {
		out[i] = r.seq
	}
	return out
}

func TestFilterGroupKeepsEverythingAtOrAboveWatermark(t *testing.T) {
	group := []record{
		rec(10, dbformat.TypeValue, "v10"),
		rec(9, dbformat.TypeValue, "v9"),
	}
	kept := filterGroup(group, 5, false)
	if got := seqs(kept); len(got) != 2 {
		t.Fatalf("expected both versions above watermark kept, got %v", got)
	}
}

func TestFilterGroupKeepsOnlyNewestBelowWatermarkOnNonMaxLevel(t *testing.T) {
	group := []record{
		rec(10, dbformat.TypeValue, "newest"),
		rec(4, dbformat.TypeValue, "older"),
		rec(3, dbformat.TypeValue, "oldest"),
	}
	kept := filterGroup(group, 5, false)
	if len(kept) != 2 {
		t.Fatalf("expected newest-at-watermark kept plus newest-below-watermark, got %v", kept)
	}
	if kept[1].seq != 4 {
		t.Fatalf("expected the newest below-watermark version (seq 4) to survive, got seq %d", kept[1].seq)
	}
}

func TestFilterGroupDropsTombstoneBelowWatermarkOnlyAtMaxLevel(t *testing.T) {
	group := []record{
		rec(3, dbformat.TypeTombstone, ""),
	}
	keptNonMax := filterGroup(group, 5, false)
	if len(keptNonMax) != 1 {
		t.Fatalf("a below-watermark tombstone must survive on a non-max level, got %v", keptNonMax)
	}
	keptMax := filterGroup(group, 5, true)
	if len(keptMax) != 0 {
		t.Fatalf("a below-watermark tombstone must be dropped at Lmax, got %v", keptMax)
	}
}

func TestFilterGroupWeakTombstoneSuppressesFollowingValue(t *testing.T) {
	group := []record{
		rec(10, dbformat.TypeWeakTombstone, ""),
		rec(9, dbformat.TypeValue, "suppressed"),
		rec(8, dbformat.TypeValue, "unrelated older version"),
	}
	// Watermark above the whole group: the weak tombstone is the newest
	// below-watermark version, it suppresses seq 9, and seq 8 is an older
	// below-watermark version.
	kept := filterGroup(group, 11, false)
	if len(kept) != 1 {
		t.Fatalf("expected only the weak tombstone kept, its paired value suppressed, got %v", kept)
	}
	if kept[0].vtype != dbformat.TypeWeakTombstone || kept[0].seq != 10 {
		t.Fatalf("unexpected survivors: %+v", kept)
	}
}

func TestFilterGroupWeakTombstonePairDroppedTogetherAtMaxLevelBelowWatermark(t *testing.T) {
	group := []record{
		rec(3, dbformat.TypeWeakTombstone, ""),
		rec(2, dbformat.TypeValue, "suppressed"),
	}
	kept := filterGroup(group, 5, true)
	if len(kept) != 0 {
		t.Fatalf("expected both the weak tombstone and its suppressed value dropped at Lmax, got %v", kept)
	}
}

func TestFilterGroupWeakTombstoneWithoutFollowingValueIsOrdinaryEntry(t *testing.T) {
	// A weak tombstone with no trailing Value in its group has nothing to
	// pair with and is not itself a Tombstone, so unlike a plain tombstone
	// it survives even at Lmax below the watermark.
	group := []record{
		rec(3, dbformat.TypeWeakTombstone, ""),
	}
	keptNonMax := filterGroup(group, 5, false)
	if len(keptNonMax) != 1 {
		t.Fatalf("a weak tombstone with nothing to suppress must survive on a non-max level, got %v", keptNonMax)
	}
	keptMax := filterGroup(group, 5, true)
	if len(keptMax) != 1 {
		t.Fatalf("a lone weak tombstone is not a Tombstone, should still survive at Lmax, got %v", keptMax)
	}
}
