package table

import (
	"github.com/aalhour/ridgekv/internal/block"
	"github.com/aalhour/ridgekv/internal/cache"
	"github.com/aalhour/ridgekv/internal/dbformat"
)

// Iterator is a double-ended cursor over one table's records, lazily
// loading data blocks as it crosses them (spec.md section 4.5: "range(): a
// double-ended iterator... lazy block loading; independent forward and
// backward cursors"). The zero value is not usable; obtain one from
// Reader.NewIterator or Reader.NewScanIterator.
type Iterator struct {
	r           *Reader
	idx         tableIndex
	bypassCache bool

	cur        *block.Iterator
	curEntry   indexEntry
	curRelease func()

	err error
}

// NewIterator returns a double-ended iterator suitable for range and prefix
// scans, with data blocks routed through the shared cache.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, idx: r.index}
}

// NewScanIterator returns a forward-only iterator suitable for compaction,
// which bypasses the block cache so a one-pass read doesn't evict hot
// blocks a concurrent reader needs (spec.md section 4.5: "scan(): forward-
// only, cheaper... may bypass cache").
func (r *Reader) NewScanIterator() *Iterator {
	return &Iterator{r: r, idx: r.index, bypassCache: true}
}

func (it *Iterator) release() {
	if it.curRelease != nil {
		it.curRelease()
		it.curRelease = nil
	}
	it.cur = nil
}

func (it *Iterator) loadEntry(e indexEntry, ok bool) {
	it.release()
	if !ok {
		return
	}
	br, release, err := it.r.loadBlock(cache.TagData, e.Handle, it.bypassCache)
	if err != nil {
		it.err = err
		return
	}
	it.cur = br.NewIterator()
	it.curRelease = release
	it.curEntry = e
}

func (it *Iterator) advanceForward() {
	e, ok := it.idx.entryAfter(it.curEntry)
	it.loadEntry(e, ok)
	if it.Valid() {
		it.cur.SeekToFirst()
		if !it.cur.Valid() {
			it.advanceForward()
		}
	}
}

func (it *Iterator) advanceBackward() {
	e, ok := it.idx.entryBefore(it.curEntry)
	it.loadEntry(e, ok)
	if it.Valid() {
		it.cur.SeekToLast()
		if !it.cur.Valid() {
			it.advanceBackward()
		}
	}
}

// SeekToFirst positions the iterator at the table's first record.
func (it *Iterator) SeekToFirst() {
	it.loadEntry(it.idx.first())
	if it.Valid() {
		it.cur.SeekToFirst()
		if !it.cur.Valid() {
			it.advanceForward()
		}
	}
}

// SeekToLast positions the iterator at the table's last record.
func (it *Iterator) SeekToLast() {
	it.loadEntry(it.idx.last())
	if it.Valid() {
		it.cur.SeekToLast()
		if !it.cur.Valid() {
			it.advanceBackward()
		}
	}
}

// Seek positions the iterator at the first record with user key >= target.
func (it *Iterator) Seek(target []byte) {
	it.loadEntry(it.idx.seekGE(target))
	if it.Valid() {
		it.cur.Seek(target)
		if !it.cur.Valid() {
			it.advanceForward()
		}
	}
}

// Next moves forward one record.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.cur.Next()
	if !it.cur.Valid() {
		it.advanceForward()
	}
}

// Prev moves backward one record. Not used by NewScanIterator's forward-
// only consumers (compaction).
func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	it.cur.Prev()
	if !it.cur.Valid() {
		it.advanceBackward()
	}
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool { return it.err == nil && it.cur != nil && it.cur.Valid() }

// Key returns the current record's user key.
func (it *Iterator) Key() []byte { return it.cur.Key() }

// Seq returns the current record's sequence number.
func (it *Iterator) Seq() dbformat.SeqNo { return it.cur.Seq() }

// ValueType returns the current record's value type.
func (it *Iterator) ValueType() dbformat.ValueType { return it.cur.ValueType() }

// Value returns the current record's payload.
func (it *Iterator) Value() []byte { return it.cur.Value() }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.cur != nil {
		return it.cur.Err()
	}
	return nil
}

// Close releases the currently loaded block's cache handle, if any.
func (it *Iterator) Close() { it.release() }
