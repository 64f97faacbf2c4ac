package ridgekv

import (
	"errors"
	"testing"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

func openTestTree(t *testing.T) *Tree {
	t.Helper()
	opts := DefaultOptions()
	opts.MemtableByteLimit = 1 << 30 // keep writes in the active memtable unless a test wants a flush
	tr, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestInsertGet(t *testing.T) {
	tr := openTestTree(t)
	if err := tr.Insert([]byte("a"), []byte("1"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := tr.Get([]byte("a"), dbformat.MaxSeqNo)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("Get = %q, want %q", v, "1")
	}
}

func TestGetNotFound(t *testing.T) {
	tr := openTestTree(t)
	if _, err := tr.Get([]byte("missing"), dbformat.MaxSeqNo); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	tr := openTestTree(t)
	mustInsert(t, tr, "a", "1", 1)
	if err := tr.Remove([]byte("a"), 2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := tr.Get([]byte("a"), dbformat.MaxSeqNo); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestRemoveWeakSuppressesUntilGCWatermark(t *testing.T) {
	tr := openTestTree(t)
	mustInsert(t, tr, "a", "1", 1)
	if err := tr.RemoveWeak([]byte("a"), 2); err != nil {
		t.Fatalf("RemoveWeak: %v", err)
	}
	// A weak tombstone still hides the key from reads above it, same as a
	// regular tombstone; only compaction below the GC watermark treats it
	// differently (see the TestFilterGroupWeakTombstone tests in
	// internal/compaction).
	if _, err := tr.Get([]byte("a"), dbformat.MaxSeqNo); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after RemoveWeak = %v, want ErrNotFound", err)
	}
}

func TestContainsKey(t *testing.T) {
	tr := openTestTree(t)
	mustInsert(t, tr, "a", "1", 1)
	ok, err := tr.ContainsKey([]byte("a"), dbformat.MaxSeqNo)
	if err != nil || !ok {
		t.Fatalf("ContainsKey(a) = %v, %v, want true, nil", ok, err)
	}
	ok, err = tr.ContainsKey([]byte("b"), dbformat.MaxSeqNo)
	if err != nil || ok {
		t.Fatalf("ContainsKey(b) = %v, %v, want false, nil", ok, err)
	}
}

func TestClosedTreeRejectsEverything(t *testing.T) {
	tr := openTestTree(t)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tr.Insert([]byte("a"), []byte("1"), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close = %v, want ErrClosed", err)
	}
	if _, err := tr.Get([]byte("a"), dbformat.MaxSeqNo); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close = %v, want ErrClosed", err)
	}
	if err := tr.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
}

func TestOversizedKeyAndValueRejected(t *testing.T) {
	tr := openTestTree(t)
	bigKey := make([]byte, dbformat.MaxUserKeyLen+1)
	if err := tr.Insert(bigKey, []byte("v"), 1); err == nil {
		t.Fatal("expected an error inserting an oversized key")
	}
}

// Property 1: read-after-write. For any insert(k, v, s) followed by a read
// at s' > s with no intervening write of k, the read returns v.
func TestPropertyReadAfterWrite(t *testing.T) {
	tr := openTestTree(t)
	for i, k := range []string{"a", "b", "c", "d"} {
		seq := dbformat.SeqNo(i + 1)
		mustInsert(t, tr, k, "v-"+k, seq)
		v, err := tr.Get([]byte(k), seq+1)
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if string(v) != "v-"+k {
			t.Fatalf("Get(%s) = %q, want %q", k, v, "v-"+k)
		}
	}
}

func mustInsert(t *testing.T, tr *Tree, key, value string, seq dbformat.SeqNo) {
	t.Helper()
	if err := tr.Insert([]byte(key), []byte(value), seq); err != nil {
		t.Fatalf("Insert(%s): %v", key, err)
	}
}
