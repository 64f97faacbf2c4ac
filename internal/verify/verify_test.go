package verify

import (
	"os"
	"sync"
	"testing"

	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/table"
	"github.com/aalhour/ridgekv/internal/version"
	"github.com/aalhour/ridgekv/internal/vfs"
)

func buildTestVersion(t *testing.T, fs vfs.FS, dir string, keysPerTable [][]string) *version.Version {
	t.Helper()
	mf, err := manifest.Open(fs, dir)
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	vs := version.New(mf, dbformat.UserCompare)

	var edit manifest.Edit
	for i, keys := range keysPerTable {
		id := vs.NextTableID()
		path := table.TablePath(dir, id)
		w, err := table.NewWriter(fs, path, table.WriterOptions{TableID: id, InitialLevel: 1})
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		for j, k := range keys {
			w.Add([]byte(k), dbformat.SeqNo(j+1), dbformat.TypeValue, []byte("value-"+k))
		}
		info, err := w.Finish()
		if err != nil {
			t.Fatalf("Finish: %v", err)
		}
		edit.Added = append(edit.Added, manifest.LeveledTable{Level: i%6 + 1, Info: info})
	}
	v, err := vs.LogAndApply(edit)
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}
	return v
}

func TestChecksumsAllTablesOK(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()
	v := buildTestVersion(t, fs, dir, [][]string{{"a", "b"}, {"m", "n"}, {"x", "y"}})

	res := Checksums(fs, dir, v, Options{})
	if !res.OK {
		t.Fatalf("expected every untouched table to verify ok, got %+v", res)
	}
	if len(res.Tables) != 3 {
		t.Fatalf("expected 3 table results, got %d", len(res.Tables))
	}
	for _, tr := range res.Tables {
		if !tr.OK {
			t.Errorf("table %d: expected OK, got %+v", tr.TableID, tr)
		}
	}
}

func TestChecksumsDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()
	v := buildTestVersion(t, fs, dir, [][]string{{"a", "b", "c", "d", "e"}})

	corrupt := v.Files(1)[0]
	path := table.TablePath(dir, corrupt.TableID)
	corruptBytesAt(t, path, 10, 10)

	res := Checksums(fs, dir, v, Options{})
	if res.OK {
		t.Fatal("expected the audit to report corruption")
	}
	if len(res.Tables) != 1 {
		t.Fatalf("expected 1 table result, got %d", len(res.Tables))
	}
	tr := res.Tables[0]
	if tr.OK {
		t.Fatal("expected the corrupted table to fail")
	}
	if tr.Expected.Equal(tr.Actual) {
		t.Fatal("expected Expected and Actual digests to differ after corruption")
	}
}

func TestChecksumsDeepScanCatchesBlockLevelCorruptionWholeFileDigestMisses(t *testing.T) {
	// Corrupt a data block's payload, then recompute the whole-file digest
	// over the corrupted bytes and store that as the "expected" checksum —
	// as if the corruption happened before the table was ever registered.
	// The stage-1 whole-file check then trivially passes, isolating
	// DeepScan's per-block header check as the only thing that can still
	// catch the corruption.
	dir := t.TempDir()
	fs := vfs.Default()

	mf, err := manifest.Open(fs, dir)
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	vs := version.New(mf, dbformat.UserCompare)
	id := vs.NextTableID()
	path := table.TablePath(dir, id)
	w, err := table.NewWriter(fs, path, table.WriterOptions{TableID: id, InitialLevel: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for j, k := range []string{"a", "b", "c"} {
		w.Add([]byte(k), dbformat.SeqNo(j+1), dbformat.TypeValue, []byte("value-"+k))
	}
	info, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	// Flip bytes inside the first data block's payload, just past its
	// fixed 32-byte header, leaving the footer/index/meta sections (which
	// Open must parse successfully) untouched.
	corruptBytesAt(t, path, 34, 2)
	info.Checksum = wholeFileDigest(t, fs, path)

	v, err := vs.LogAndApply(manifest.Edit{Added: []manifest.LeveledTable{{Level: 1, Info: info}}})
	if err != nil {
		t.Fatalf("LogAndApply: %v", err)
	}

	shallow := Checksums(fs, dir, v, Options{})
	if !shallow.OK {
		t.Fatalf("whole-file digest was recomputed over the corrupted bytes, stage-1 should pass: %+v", shallow)
	}

	deep := Checksums(fs, dir, v, Options{DeepScan: true})
	if deep.OK {
		t.Fatal("expected DeepScan to catch the block-level corruption stage-1 missed")
	}
}

func wholeFileDigest(t *testing.T, fs vfs.FS, path string) checksum.Digest128 {
	t.Helper()
	f, err := fs.Open(path)
	if err != nil {
		t.Fatalf("open for digest: %v", err)
	}
	defer f.Close()
	h := checksum.NewStreamHasher()
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return h.Sum128()
}

func TestChecksumsCancellationReportsWasCancelled(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()
	v := buildTestVersion(t, fs, dir, [][]string{{"a"}, {"b"}, {"c"}, {"d"}})

	token := NewCancelToken()
	token.Cancel()

	res := Checksums(fs, dir, v, Options{Cancel: token})
	if !res.WasCancelled {
		t.Fatal("expected WasCancelled once the token is pre-cancelled")
	}
	if res.OK {
		t.Fatal("a cancelled audit must never report OK")
	}
}

func TestChecksumsProgressCallbackFiresOncePerTable(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()
	v := buildTestVersion(t, fs, dir, [][]string{{"a"}, {"b"}, {"c"}})

	var seen int
	var mu sync.Mutex
	res := Checksums(fs, dir, v, Options{Progress: func(p Progress) {
		mu.Lock()
		seen++
		mu.Unlock()
	}})
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if seen != 3 {
		t.Fatalf("expected progress called once per table (3), got %d", seen)
	}
}

func corruptBytesAt(t *testing.T, path string, offset int64, n int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, offset); err != nil {
		t.Fatalf("read for corruption: %v", err)
	}
	for i := range buf {
		buf[i] ^= 0xFF
	}
	if _, err := f.WriteAt(buf, offset); err != nil {
		t.Fatalf("write corruption: %v", err)
	}
}
