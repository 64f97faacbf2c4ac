package compaction

import (
	"testing"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/version"
	"github.com/aalhour/ridgekv/internal/vfs"
)

func tableInfo(id uint64, smallest, largest string, size uint64) manifest.Info {
	return manifest.Info{
		TableID:  id,
		Size:     size,
		Smallest: dbformat.NewInternalKey([]byte(smallest), dbformat.SeqNo(id), dbformat.TypeValue),
		Largest:  dbformat.NewInternalKey([]byte(largest), dbformat.SeqNo(id), dbformat.TypeValue),
		SeqLo:    dbformat.SeqNo(id),
		SeqHi:    dbformat.SeqNo(id + 1),
		Checksum: checksum.Sum128([]byte{byte(id)}),
	}
}

func newVersionSet(t *testing.T) *version.VersionSet {
	t.Helper()
	mf, err := manifest.Open(vfs.Default(), t.TempDir())
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	return version.New(mf, dbformat.UserCompare)
}

func buildVersion(t *testing.T, vs *version.VersionSet, byLevel map[int][]manifest.Info) *version.Version {
	t.Helper()
	var edit manifest.Edit
	for level, infos := range byLevel {
		for _, info := range infos {
			edit.Added = append(edit.Added, manifest.LeveledTable{Level: level, Info: info})
		}
	}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	return v
}

func TestPickerDoesNothingBelowThreshold(t *testing.T) {
	vs := newVersionSet(t)
	v := buildVersion(t, vs, map[int][]manifest.Info{
		0: {tableInfo(1, "a", "b", 100)},
	})
	p := NewLeveledPicker(4, 1000, 10)
	if c := p.Pick(v); c != nil {
		t.Fatalf("expected no compaction below threshold, got %+v", c)
	}
}

func TestPickerL0ThresholdTriggersMergeWithOverlap(t *testing.T) {
	vs := newVersionSet(t)
	byLevel := map[int][]manifest.Info{
		0: {
			tableInfo(1, "a", "c", 100),
			tableInfo(2, "b", "d", 100),
			tableInfo(3, "e", "f", 100),
			tableInfo(4, "g", "h", 100),
		},
		1: {tableInfo(5, "a", "z", 100)},
	}
	// Fill L2..L6 so no level gets the forced 2.0 score an empty next
	// level gives, which would outrank L0's 1.0.
	for level := 2; level <= 6; level++ {
		byLevel[level] = []manifest.Info{tableInfo(uint64(level+4), "a", "z", 100)}
	}
	v := buildVersion(t, vs, byLevel)
	p := NewLeveledPicker(4, 1000, 10)
	c := p.Pick(v)
	if c == nil {
		t.Fatal("expected a compaction once L0 hits its threshold")
	}
	if c.Kind != Merge || c.Reason != ReasonL0Threshold {
		t.Fatalf("got Kind=%v Reason=%v, want Merge/L0Threshold", c.Kind, c.Reason)
	}
	if c.OutputLevel != 1 {
		t.Fatalf("OutputLevel = %d, want 1", c.OutputLevel)
	}
	if len(c.Inputs) != 2 || len(c.Inputs[0].Tables) != 4 || len(c.Inputs[1].Tables) != 1 {
		t.Fatalf("unexpected inputs: %+v", c.Inputs)
	}
}

func TestPickerTrivialMoveWhenNextLevelEmpty(t *testing.T) {
	vs := newVersionSet(t)
	v := buildVersion(t, vs, map[int][]manifest.Info{
		1: {tableInfo(1, "a", "b", 100), tableInfo(2, "c", "d", 100)},
	})
	p := NewLeveledPicker(4, 1000, 10)
	c := p.Pick(v)
	if c == nil {
		t.Fatal("expected a trivial move when L2 is empty")
	}
	if c.Kind != Move || c.Reason != ReasonTrivialMove {
		t.Fatalf("got Kind=%v Reason=%v, want Move/TrivialMove", c.Kind, c.Reason)
	}
	if c.OutputLevel != 2 {
		t.Fatalf("OutputLevel = %d, want 2", c.OutputLevel)
	}
	if len(c.Inputs) != 1 || len(c.Inputs[0].Tables) != 2 {
		t.Fatalf("expected both L1 tables moved, got %+v", c.Inputs)
	}
}

func TestPickerTrivialMoveOnlyWhenWholeLevelDisjointFromNext(t *testing.T) {
	vs := newVersionSet(t)
	byLevel := map[int][]manifest.Info{
		1: {tableInfo(1, "a", "b", 20), tableInfo(2, "m", "z", 20)},
		2: {tableInfo(3, "n", "p", 10)},
	}
	// Fill L3..L6 so L2 does not get the forced 2.0 score an empty next
	// level gives, which would outrank L1's 1.0.
	for level := 3; level <= 6; level++ {
		byLevel[level] = []manifest.Info{tableInfo(uint64(level+1), "a", "z", 10)}
	}
	v := buildVersion(t, vs, byLevel)
	// base = TargetTableSize(10) * L0Threshold(4) = 40, matching L1's total
	// size so its score reaches the 1.0 pick threshold.
	p := NewLeveledPicker(4, 10, 10)
	c := p.Pick(v)
	if c == nil {
		t.Fatal("expected a compaction, L1 overlaps L2")
	}
	if c.Kind != Merge {
		t.Fatalf("table 2 overlaps L2's table 3, expected Merge not Move, got %+v", c)
	}
}

func TestPickerHidesInputsUntilReleased(t *testing.T) {
	vs := newVersionSet(t)
	v := buildVersion(t, vs, map[int][]manifest.Info{
		0: {
			tableInfo(1, "a", "c", 100),
			tableInfo(2, "b", "d", 100),
			tableInfo(3, "e", "f", 100),
			tableInfo(4, "g", "h", 100),
		},
	})
	p := NewLeveledPicker(4, 1000, 10)
	first := p.Pick(v)
	if first == nil {
		t.Fatal("expected a compaction")
	}
	if second := p.Pick(v); second != nil {
		t.Fatalf("expected nil once every L0 table is hidden, got %+v", second)
	}
	p.Release(first)
	if third := p.Pick(v); third == nil {
		t.Fatal("expected a compaction again after Release")
	}
}

func TestPickerWindowSizeCapBoundsInputSelection(t *testing.T) {
	vs := newVersionSet(t)
	// Four huge, disjoint L1 tables overlapping nothing in L2 would trigger a
	// trivial move; give L2 a single small table overlapping every L1 table
	// so bestWindow has to choose a bounded contiguous subset instead.
	byLevel := map[int][]manifest.Info{
		1: {
			tableInfo(1, "a", "b", 40),
			tableInfo(2, "c", "d", 40),
			tableInfo(3, "e", "f", 40),
			tableInfo(4, "g", "h", 40),
		},
		2: {tableInfo(5, "a", "h", 10)},
	}
	v := buildVersion(t, vs, byLevel)
	p := NewLeveledPicker(4, 1, 10) // TargetTableSize=1 -> cap is 50
	c := p.Pick(v)
	if c == nil {
		t.Fatal("expected a compaction, L1 way over target size")
	}
	if c.Kind != Merge {
		t.Fatalf("expected Merge, got %+v", c)
	}
	var total uint64
	for _, in := range c.Inputs {
		for _, f := range in.Tables {
			total += f.Size
		}
	}
	if total > windowSizeCap*p.TargetTableSize {
		t.Fatalf("total input size %d exceeds cap %d", total, windowSizeCap*p.TargetTableSize)
	}
}

func TestPickerLmaxNeverScored(t *testing.T) {
	vs := newVersionSet(t)
	byLevel := make(map[int][]manifest.Info)
	for i := 0; i < version.NumLevels; i++ {
		byLevel[i] = []manifest.Info{tableInfo(uint64(i+1), "a", "b", 1_000_000_000)}
	}
	v := buildVersion(t, vs, byLevel)
	p := NewLeveledPicker(1, 1, 10)
	c := p.Pick(v)
	if c != nil && c.StartLevel() == version.NumLevels-1 {
		t.Fatalf("Lmax must never be picked as a compaction's input level, got %+v", c)
	}
}
