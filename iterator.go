package ridgekv

import (
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/memtable"
	"github.com/aalhour/ridgekv/internal/miter"
	"github.com/aalhour/ridgekv/internal/pathnames"
	"github.com/aalhour/ridgekv/internal/table"
)

// RangeIterator is a double-ended, snapshot-isolated cursor over a key
// range: every memtable and table that can hold a key in range is merged
// into one internal-key-ordered stream, with MVCC visibility and range
// tombstone suppression applied as the cursor moves. It holds a single
// position: Next and Prev move the same cursor, so alternating them does
// not consume the range from both ends. A RangeIterator must be closed
// after use to release the table handles it opened.
type RangeIterator struct {
	merge      *miter.MergeIterator
	lo, hi     []byte
	readSeq    dbformat.SeqNo
	tombstones []rangeTombstone
	release    []func()
	done       bool
}

type rangeTombstone struct {
	Start, End []byte
	Seq        dbformat.SeqNo
}

func (rt rangeTombstone) covers(key []byte) bool {
	return dbformat.UserCompare(rt.Start, key) <= 0 && dbformat.UserCompare(key, rt.End) < 0
}

// Range returns an iterator over every key visible at readSeq within
// [lo, hi). A nil lo starts from the first key; a nil hi runs to the last.
func (t *Tree) Range(lo, hi []byte, readSeq dbformat.SeqNo) (*RangeIterator, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	t.mu.RLock()
	memtables := t.memtablesNewestFirstLocked()
	t.mu.RUnlock()

	v := t.vset.Current()
	v.Ref()

	it := &RangeIterator{lo: lo, hi: hi, readSeq: readSeq}
	ready := false
	defer func() {
		if !ready {
			it.releaseAll()
			v.Unref()
		}
	}()

	var sources []miter.Source
	for _, m := range memtables {
		sources = append(sources, miter.NewMemtableSource(m.NewKeyIterator()))
		it.tombstones = appendMemtableTombstones(it.tombstones, m.RangeTombstones().All())
	}

	tablesDir := pathnames.TablesDir(t.dir)

	for _, info := range v.Files(0) {
		if !rangesOverlap(info.Smallest.UserKey(), info.Largest.UserKey(), lo, hi) {
			continue
		}
		path := table.TablePath(tablesDir, info.TableID)
		r, err := t.tableCache.Get(info.TableID, path)
		if err != nil {
			return nil, newIoError(path, err)
		}
		tableID := info.TableID
		it.release = append(it.release, func() { t.tableCache.Release(tableID) })
		tit := r.NewIterator()
		it.release = append(it.release, func() { tit.Close() })
		sources = append(sources, tit)
		it.tombstones = appendTableTombstones(it.tombstones, r.RangeTombstones())
	}

	for level := 1; level < v.NumLevels(); level++ {
		infos := v.OverlappingInputs(level, lo, hi, t.cmp.UserCmp)
		if len(infos) == 0 {
			continue
		}
		entries := make([]table.RunEntry, len(infos))
		for i, info := range infos {
			path := table.TablePath(tablesDir, info.TableID)
			entries[i] = table.RunEntry{TableID: info.TableID, Path: path}
			r, err := t.tableCache.Get(info.TableID, path)
			if err != nil {
				return nil, newIoError(path, err)
			}
			it.tombstones = appendTableTombstones(it.tombstones, r.RangeTombstones())
			t.tableCache.Release(info.TableID)
		}
		run := table.NewRunIterator(t.tableCache, entries, false)
		it.release = append(it.release, func() { run.Close() })
		sources = append(sources, run)
	}

	it.merge = miter.New(sources, miter.Options{EvictOldVersions: true, FilterBySeqNo: true, ReadSeqNo: readSeq})
	it.release = append(it.release, func() { it.merge.Close() }, func() { v.Unref() })
	ready = true
	return it, nil
}

// Prefix returns an iterator over every key visible at readSeq sharing the
// given prefix. It is equivalent to Range(prefix, nextKeyAfterPrefix(prefix)).
func (t *Tree) Prefix(prefix []byte, readSeq dbformat.SeqNo) (*RangeIterator, error) {
	return t.Range(prefix, nextKeyAfterPrefix(prefix), readSeq)
}

// nextKeyAfterPrefix returns the smallest key that is not prefixed by p,
// or nil if every key is (p consists entirely of 0xFF bytes, or is empty).
func nextKeyAfterPrefix(p []byte) []byte {
	out := append([]byte(nil), p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func rangesOverlap(tableMin, tableMax, lo, hi []byte) bool {
	if hi != nil && dbformat.UserCompare(tableMin, hi) >= 0 {
		return false
	}
	if lo != nil && dbformat.UserCompare(tableMax, lo) < 0 {
		return false
	}
	return true
}

func appendMemtableTombstones(dst []rangeTombstone, src []memtable.RangeTombstone) []rangeTombstone {
	for _, rt := range src {
		dst = append(dst, rangeTombstone{Start: rt.Start, End: rt.End, Seq: rt.Seq})
	}
	return dst
}

func appendTableTombstones(dst []rangeTombstone, src []table.RangeTombstone) []rangeTombstone {
	for _, rt := range src {
		dst = append(dst, rangeTombstone{Start: rt.Start, End: rt.End, Seq: rt.Seq})
	}
	return dst
}

func (it *RangeIterator) suppressed(key []byte, seq dbformat.SeqNo) bool {
	for _, rt := range it.tombstones {
		if rt.Seq > seq && rt.Seq < it.readSeq && rt.covers(key) {
			return true
		}
	}
	return false
}

// SeekToFirst positions the iterator at the range's first visible key.
func (it *RangeIterator) SeekToFirst() {
	if it.lo != nil {
		it.merge.Seek(it.lo)
	} else {
		it.merge.SeekToFirst()
	}
	it.skipForward()
}

// SeekToLast positions the iterator at the range's last visible key.
func (it *RangeIterator) SeekToLast() {
	if it.hi != nil {
		it.merge.Seek(it.hi)
		if it.merge.Valid() {
			it.merge.Prev()
		} else {
			it.merge.SeekToLast()
		}
	} else {
		it.merge.SeekToLast()
	}
	it.skipBackward()
}

// Next moves forward to the next visible key.
func (it *RangeIterator) Next() {
	if !it.Valid() {
		return
	}
	it.merge.Next()
	it.skipForward()
}

// Prev moves backward to the previous visible key.
func (it *RangeIterator) Prev() {
	if !it.Valid() {
		return
	}
	it.merge.Prev()
	it.skipBackward()
}

func (it *RangeIterator) skipForward() {
	for {
		if !it.merge.Valid() {
			it.done = true
			return
		}
		key := it.merge.Key()
		if it.hi != nil && dbformat.UserCompare(key, it.hi) >= 0 {
			it.done = true
			return
		}
		if !it.merge.ValueType().HasPayload() || it.suppressed(key, it.merge.Seq()) {
			it.merge.Next()
			continue
		}
		it.done = false
		return
	}
}

func (it *RangeIterator) skipBackward() {
	for {
		if !it.merge.Valid() {
			it.done = true
			return
		}
		key := it.merge.Key()
		if it.lo != nil && dbformat.UserCompare(key, it.lo) < 0 {
			it.done = true
			return
		}
		if !it.merge.ValueType().HasPayload() || it.suppressed(key, it.merge.Seq()) {
			it.merge.Prev()
			continue
		}
		it.done = false
		return
	}
}

// Valid reports whether the iterator is positioned at a visible key.
func (it *RangeIterator) Valid() bool { return !it.done && it.merge.Valid() && it.merge.Err() == nil }

// Key returns the current record's user key.
func (it *RangeIterator) Key() []byte { return it.merge.Key() }

// Value returns the current record's payload. For a TypeIndirection
// record this is a blob reference, not the value itself; check ValueType.
func (it *RangeIterator) Value() []byte { return it.merge.Value() }

// Seq returns the current record's sequence number.
func (it *RangeIterator) Seq() dbformat.SeqNo { return it.merge.Seq() }

// ValueType returns the current record's value type.
func (it *RangeIterator) ValueType() dbformat.ValueType { return it.merge.ValueType() }

// Err returns the first error encountered, if any.
func (it *RangeIterator) Err() error { return it.merge.Err() }

// Close releases every table handle this iterator opened.
func (it *RangeIterator) Close() { it.releaseAll() }

func (it *RangeIterator) releaseAll() {
	for i := len(it.release) - 1; i >= 0; i-- {
		it.release[i]()
	}
	it.release = nil
}

// FirstKeyValue returns the first visible key/value pair at readSeq, or
// ErrNotFound if the tree has none.
func (t *Tree) FirstKeyValue(readSeq dbformat.SeqNo) (key, value []byte, err error) {
	it, err := t.Range(nil, nil, readSeq)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()
	it.SeekToFirst()
	if !it.Valid() {
		if err := it.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...), nil
}

// LastKeyValue returns the last visible key/value pair at readSeq, or
// ErrNotFound if the tree has none.
func (t *Tree) LastKeyValue(readSeq dbformat.SeqNo) (key, value []byte, err error) {
	it, err := t.Range(nil, nil, readSeq)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()
	it.SeekToLast()
	if !it.Valid() {
		if err := it.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), it.Key()...), append([]byte(nil), it.Value()...), nil
}
