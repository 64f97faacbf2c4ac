package version

import (
	"testing"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/vfs"
)

func info(id uint64, smallest, largest string) manifest.Info {
	return manifest.Info{
		TableID:  id,
		Size:     100,
		Smallest: dbformat.NewInternalKey([]byte(smallest), dbformat.SeqNo(id), dbformat.TypeValue),
		Largest:  dbformat.NewInternalKey([]byte(largest), dbformat.SeqNo(id), dbformat.TypeValue),
		SeqLo:    dbformat.SeqNo(id),
		SeqHi:    dbformat.SeqNo(id + 1),
		Checksum: checksum.Sum128([]byte{byte(id)}),
	}
}

func openManifest(t *testing.T) *manifest.File {
	t.Helper()
	mf, err := manifest.Open(vfs.Default(), t.TempDir())
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	return mf
}

func TestNewVersionSetBuildsCurrentFromManifest(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)
	v := vs.Current()
	if v.TotalFiles() != 0 {
		t.Fatalf("fresh version should be empty, got %d files", v.TotalFiles())
	}
}

func TestLogAndApplyInstallsNewCurrentSortedByKey(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	edit := manifest.Edit{Added: []manifest.LeveledTable{
		{Level: 1, Info: info(1, "m", "z")},
		{Level: 1, Info: info(2, "a", "f")},
	}}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	files := v.Files(1)
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	if files[0].TableID != 2 || files[1].TableID != 1 {
		t.Fatalf("level 1 not sorted by smallest key: %v", files)
	}
	if vs.Current() != v {
		t.Fatal("VersionSet.Current should be the version just installed")
	}
}

func TestOldVersionSurvivesWhilePinned(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	old := vs.Current()
	old.Ref()
	defer old.Unref()

	_, err := vs.LogAndApply(manifest.Edit{Added: []manifest.LeveledTable{{Level: 0, Info: info(5, "a", "b")}}})
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	if old.TotalFiles() != 0 {
		t.Fatal("the old version's file list must not be mutated by a later edit")
	}
	if vs.Current().TotalFiles() != 1 {
		t.Fatal("the new version should see the added table")
	}
}

func TestNextTableIDIsMonotonicAndRecoversPastMax(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	first := vs.NextTableID()
	second := vs.NextTableID()
	if second != first+1 {
		t.Fatalf("table ids not monotonic: %d then %d", first, second)
	}

	if _, err := vs.LogAndApply(manifest.Edit{Added: []manifest.LeveledTable{{Level: 0, Info: info(50, "a", "b")}}}); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	vs2 := New(mf, dbformat.UserCompare)
	if got := vs2.NextTableID(); got <= 50 {
		t.Fatalf("recovered next table id %d should exceed the highest existing id 50", got)
	}
}

func TestLastSeqNoReflectsHighestTableSeqHi(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	if got := vs.LastSeqNo(); got != 0 {
		t.Fatalf("empty version should report seqno 0, got %d", got)
	}

	tbl := info(9, "a", "z")
	tbl.SeqHi = 42
	if _, err := vs.LogAndApply(manifest.Edit{Added: []manifest.LeveledTable{{Level: 0, Info: tbl}}}); err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	if got := vs.LastSeqNo(); got != 42 {
		t.Fatalf("LastSeqNo = %d, want 42", got)
	}
}

func TestOverlappingInputsFindsIntersectingTables(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	edit := manifest.Edit{Added: []manifest.LeveledTable{
		{Level: 1, Info: info(1, "a", "c")},
		{Level: 1, Info: info(2, "d", "f")},
		{Level: 1, Info: info(3, "g", "i")},
	}}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	got := v.OverlappingInputs(1, []byte("b"), []byte("e"), dbformat.UserCompare)
	if len(got) != 2 || got[0].TableID != 1 || got[1].TableID != 2 {
		t.Fatalf("got %v, want tables 1 and 2", got)
	}

	all := v.OverlappingInputs(1, nil, nil, dbformat.UserCompare)
	if len(all) != 3 {
		t.Fatalf("unbounded range should match all 3 tables, got %d", len(all))
	}
}

func TestFindFileLocatesDisjointTableByKey(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	edit := manifest.Edit{Added: []manifest.LeveledTable{
		{Level: 1, Info: info(1, "a", "c")},
		{Level: 1, Info: info(2, "d", "f")},
	}}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	f, ok := v.FindFile(1, []byte("e"), dbformat.UserCompare)
	if !ok || f.TableID != 2 {
		t.Fatalf("FindFile(e) = %v, %v, want table 2", f, ok)
	}

	if _, ok := v.FindFile(1, []byte("z"), dbformat.UserCompare); ok {
		t.Fatal("FindFile should report no match past every table's range")
	}
	if _, ok := v.FindFile(0, []byte("a"), dbformat.UserCompare); ok {
		t.Fatal("FindFile on level 0 (not disjoint) should always report no match")
	}
}

func TestAllTableIDsCoversEveryLevel(t *testing.T) {
	mf := openManifest(t)
	vs := New(mf, dbformat.UserCompare)

	edit := manifest.Edit{Added: []manifest.LeveledTable{
		{Level: 0, Info: info(1, "a", "b")},
		{Level: 3, Info: info(2, "c", "d")},
	}}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	ids := v.AllTableIDs()
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
}
