package block

import "github.com/aalhour/ridgekv/internal/dbformat"

// Iterator walks a data block's entries in stored (ascending internal-key)
// order. A zero Iterator is not usable; construct one with Reader.NewIterator.
type Iterator struct {
	r       *Reader
	current uint32 // offset of the current entry, valid only when ok
	next    uint32 // offset just past the current entry
	key     []byte // fully assembled current user key
	seq     dbformat.SeqNo
	vtype   dbformat.ValueType
	value   []byte
	ok      bool
	err     error
}

// NewIterator returns an Iterator over r's entries.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.ok && it.err == nil }

// Key returns the current entry's user key.
func (it *Iterator) Key() []byte { return it.key }

// Seq returns the current entry's sequence number.
func (it *Iterator) Seq() dbformat.SeqNo { return it.seq }

// ValueType returns the current entry's value type.
func (it *Iterator) ValueType() dbformat.ValueType { return it.vtype }

// Value returns the current entry's payload, or nil for types without one.
func (it *Iterator) Value() []byte { return it.value }

// Err returns any error encountered while parsing the block.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) invalidate() {
	it.ok = false
	it.key = it.key[:0]
	it.value = nil
}

// SeekToFirst positions the iterator at the block's first entry.
func (it *Iterator) SeekToFirst() {
	if it.err != nil {
		return
	}
	it.key = it.key[:0]
	it.current = 0
	it.next = 0
	it.ok = false
	it.advance()
}

// SeekToLast positions the iterator at the block's last entry.
func (it *Iterator) SeekToLast() {
	if it.err != nil {
		return
	}
	n := it.r.numRestarts()
	if n == 0 {
		it.invalidate()
		return
	}
	it.seekToRestart(n - 1)
	var lastKey []byte
	var lastSeq dbformat.SeqNo
	var lastType dbformat.ValueType
	var lastValue []byte
	var lastCurrent, lastNext uint32
	found := false
	for {
		it.advance()
		if !it.Valid() {
			break
		}
		lastKey = append(lastKey[:0], it.key...)
		lastSeq, lastType, lastValue = it.seq, it.vtype, it.value
		lastCurrent, lastNext = it.current, it.next
		found = true
	}
	if found {
		it.key, it.seq, it.vtype, it.value = lastKey, lastSeq, lastType, lastValue
		it.current, it.next, it.ok = lastCurrent, lastNext, true
	}
}

// Next moves to the next entry.
func (it *Iterator) Next() {
	if it.err != nil {
		it.invalidate()
		return
	}
	it.current = it.next
	it.advance()
}

// advance decodes the entry at it.next (treated as it.current) into the
// iterator's fields, using it.key as the previous key for prefix expansion.
func (it *Iterator) advance() {
	if it.next >= uint32(len(it.r.data)) {
		it.invalidate()
		return
	}
	it.current = it.next
	rec, n, err := decodeRecord(it.r.data[it.current:], it.key)
	if err != nil {
		it.err = err
		it.invalidate()
		return
	}
	it.key = append(it.key[:0], rec.userKey...)
	it.seq = rec.seq
	it.vtype = rec.vtype
	it.value = rec.value
	it.next = it.current + uint32(n)
	it.ok = true
}

// Prev moves to the entry before the current one. REQUIRES Valid().
func (it *Iterator) Prev() {
	if it.err != nil {
		it.invalidate()
		return
	}
	original := it.current
	idx := it.restartIndexContaining(original)
	if it.r.restartOffset(idx) == original && idx > 0 {
		idx--
	}
	it.seekToRestart(idx)

	var prevKey []byte
	var prevSeq dbformat.SeqNo
	var prevType dbformat.ValueType
	var prevValue []byte
	var prevCurrent, prevNext uint32
	found := false
	for {
		it.advance()
		if !it.Valid() || it.current >= original {
			break
		}
		prevKey = append(prevKey[:0], it.key...)
		prevSeq, prevType, prevValue = it.seq, it.vtype, it.value
		prevCurrent, prevNext = it.current, it.next
		found = true
	}
	if found {
		it.key, it.seq, it.vtype, it.value = prevKey, prevSeq, prevType, prevValue
		it.current, it.next, it.ok = prevCurrent, prevNext, true
	} else {
		it.invalidate()
	}
}

// restartIndexContaining returns the index of the restart point whose
// interval contains byte offset target.
func (it *Iterator) restartIndexContaining(target uint32) int {
	n := it.r.numRestarts()
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if it.r.restartOffset(mid) <= target {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (it *Iterator) seekToRestart(idx int) {
	it.key = it.key[:0]
	it.value = nil
	it.ok = false
	off := it.r.restartOffset(idx)
	it.current = off
	it.next = off
}

// Seek positions the iterator at the first entry whose user key is >=
// target under the reader's comparator.
func (it *Iterator) Seek(target []byte) {
	if it.err != nil {
		return
	}
	n := it.r.numRestarts()
	if n == 0 {
		it.invalidate()
		return
	}
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestart(mid)
		it.advance()
		if !it.Valid() || it.r.cmp(it.key, target) > 0 {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	it.seekToRestart(lo)
	for {
		it.advance()
		if !it.Valid() {
			return
		}
		if it.r.cmp(it.key, target) >= 0 {
			return
		}
	}
}
