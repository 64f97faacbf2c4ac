package table

import (
	"sort"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

// RunEntry names one table within a disjoint, key-sorted run (spec.md's
// per-level table list for L1..L6, where tables never overlap in user-key
// range).
type RunEntry struct {
	TableID uint64
	Path    string
}

// RunIterator iterates a disjoint, key-sorted run of tables as a single
// logical stream of internal-key records, switching between per-table
// Iterators at exhaustion instead of running every table through the k-way
// merge heap internal/miter otherwise uses. This is only correct because a
// run's tables are non-overlapping: original_source's run_reader.rs /
// run_scanner.rs take the same shortcut for the same reason, and
// spec.md's merge_iterator section already calls out the target ordering
// ("ordered by internal-key order") that a disjoint run gets for free from
// the tables' own sort order.
type RunIterator struct {
	cache       *Cache
	entries     []RunEntry
	bypassCache bool

	idx int
	cur *Iterator
	err error
}

// NewRunIterator returns a double-ended iterator over entries, which must
// already be sorted by ascending key range (the order tables are kept in
// within a Version's level). bypassCache mirrors Reader.NewScanIterator:
// set it for a one-pass compaction scan so hot blocks aren't evicted.
func NewRunIterator(c *Cache, entries []RunEntry, bypassCache bool) *RunIterator {
	return &RunIterator{cache: c, entries: entries, bypassCache: bypassCache}
}

func (r *RunIterator) releaseCurrent() {
	if r.cur != nil {
		r.cur.Close()
		r.cache.Release(r.entries[r.idx].TableID)
		r.cur = nil
	}
}

// loadTable opens entries[i]'s reader and positions a fresh Iterator over
// it, releasing whatever table was previously open.
func (r *RunIterator) loadTable(i int) *Iterator {
	r.releaseCurrent()
	if i < 0 || i >= len(r.entries) {
		r.idx = i
		return nil
	}
	e := r.entries[i]
	reader, err := r.cache.Get(e.TableID, e.Path)
	if err != nil {
		r.err = err
		r.idx = i
		return nil
	}
	r.idx = i
	if r.bypassCache {
		r.cur = reader.NewScanIterator()
	} else {
		r.cur = reader.NewIterator()
	}
	return r.cur
}

// SeekToFirst positions the iterator at the run's first record.
func (r *RunIterator) SeekToFirst() {
	if len(r.entries) == 0 {
		r.loadTable(-1)
		return
	}
	if it := r.loadTable(0); it != nil {
		it.SeekToFirst()
		r.skipEmptyForward()
	}
}

// SeekToLast positions the iterator at the run's last record.
func (r *RunIterator) SeekToLast() {
	if len(r.entries) == 0 {
		r.loadTable(-1)
		return
	}
	if it := r.loadTable(len(r.entries) - 1); it != nil {
		it.SeekToLast()
		r.skipEmptyBackward()
	}
}

// Seek positions the iterator at the first record with user key >= target,
// binary searching the run's tables by key range since they are disjoint
// and sorted.
func (r *RunIterator) Seek(target []byte) {
	if len(r.entries) == 0 {
		r.loadTable(-1)
		return
	}
	// The first table whose max key is >= target is the only table that
	// can contain target or anything after it; every earlier table's keys
	// all sort below target.
	i := sort.Search(len(r.entries), func(i int) bool {
		reader, err := r.cache.Get(r.entries[i].TableID, r.entries[i].Path)
		if err != nil {
			return true
		}
		_, max := reader.KeyRange()
		defer r.cache.Release(r.entries[i].TableID)
		return dbformat.UserCompare(max, target) >= 0
	})
	if i >= len(r.entries) {
		r.loadTable(len(r.entries))
		return
	}
	if it := r.loadTable(i); it != nil {
		it.Seek(target)
		r.skipEmptyForward()
	}
}

func (r *RunIterator) skipEmptyForward() {
	for r.err == nil && r.cur != nil && !r.cur.Valid() && r.cur.Err() == nil {
		if it := r.loadTable(r.idx + 1); it != nil {
			it.SeekToFirst()
			continue
		}
		return
	}
}

func (r *RunIterator) skipEmptyBackward() {
	for r.err == nil && r.cur != nil && !r.cur.Valid() && r.cur.Err() == nil {
		if it := r.loadTable(r.idx - 1); it != nil {
			it.SeekToLast()
			continue
		}
		return
	}
}

// Next moves forward one record, crossing into the next table if the
// current one is exhausted.
func (r *RunIterator) Next() {
	if !r.Valid() {
		return
	}
	r.cur.Next()
	r.skipEmptyForward()
}

// Prev moves backward one record, crossing into the previous table if the
// current one is exhausted.
func (r *RunIterator) Prev() {
	if !r.Valid() {
		return
	}
	r.cur.Prev()
	r.skipEmptyBackward()
}

// Valid reports whether the iterator is positioned at a record.
func (r *RunIterator) Valid() bool { return r.err == nil && r.cur != nil && r.cur.Valid() }

// Key returns the current record's user key.
func (r *RunIterator) Key() []byte { return r.cur.Key() }

// Seq returns the current record's sequence number.
func (r *RunIterator) Seq() dbformat.SeqNo { return r.cur.Seq() }

// ValueType returns the current record's value type.
func (r *RunIterator) ValueType() dbformat.ValueType { return r.cur.ValueType() }

// Value returns the current record's payload.
func (r *RunIterator) Value() []byte { return r.cur.Value() }

// Err returns the first error encountered, if any.
func (r *RunIterator) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.cur != nil {
		return r.cur.Err()
	}
	return nil
}

// Close releases whatever table is currently open.
func (r *RunIterator) Close() { r.releaseCurrent() }
