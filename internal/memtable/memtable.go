package memtable

import (
	"sync/atomic"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

// MemTable is the write buffer at the top of the LSM-tree: an ordered map
// from internal key to value (SkipList) plus an interval tree of range
// tombstones, per spec.md section 3. A single writer inserts entries with
// strictly ascending seqnos per user key; any number of readers may query
// concurrently without locking (spec.md section 5).
//
// approximate_size monotonically increases until the memtable is sealed.
// Once Seal is called the memtable is immutable: Put and PutRangeTombstone
// panic on a sealed memtable.
type MemTable struct {
	skip    *SkipList
	ranges  *RangeTombstoneTree
	cmp     *dbformat.Comparator
	sealed  atomic.Bool
	created int64 // monotonic id assigned by the owner, for log lines only
}

// New creates an empty memtable ordered by cmp. If cmp is nil,
// dbformat.DefaultComparator is used.
func New(cmp *dbformat.Comparator) *MemTable {
	if cmp == nil {
		cmp = dbformat.DefaultComparator
	}
	return &MemTable{
		skip:   NewSkipList(cmp.Compare),
		ranges: NewRangeTombstoneTree(),
		cmp:    cmp,
	}
}

// Put inserts a single internal-key record (spec.md section 9: insert,
// remove and remove_weak all push an entry this way, differing only in the
// ValueType the caller encodes into the internal key). It panics if the
// memtable is sealed, since the write path must never mutate a sealed
// memtable — this is a programmer-error invariant, not a runtime condition
// reachable through the public API.
func (m *MemTable) Put(userKey []byte, seq dbformat.SeqNo, t dbformat.ValueType, value []byte) bool {
	if m.sealed.Load() {
		panic("memtable: Put on sealed memtable")
	}
	ikey := dbformat.NewInternalKey(userKey, seq, t)
	return m.skip.Insert(ikey, value)
}

// PutRangeTombstone records a range tombstone covering [start, end) at seq.
// Range tombstones are not stored inline with values; they live in the
// interval tree and are written into the table's metadata section at flush
// (spec.md section 9).
func (m *MemTable) PutRangeTombstone(start, end []byte, seq dbformat.SeqNo) {
	if m.sealed.Load() {
		panic("memtable: PutRangeTombstone on sealed memtable")
	}
	m.ranges.Insert(start, end, seq)
}

// Get looks up the newest visible record for userKey at readSeq, applying
// both point tombstones (via the ValueType encoded in the winning internal
// key) and range tombstones (spec.md section 9, query steps 1-3).
//
// It returns (value, type, true) when a record matches; found is false if no
// internal key for userKey is visible at readSeq, or if a range tombstone
// suppresses the winning record.
//
// Visibility is strict: a record stamped with exactly readSeq is not yet
// visible to a read at readSeq, only seq < readSeq is. Seek lands on the
// newest record with seq <= readSeq, so a record landed on with seq ==
// readSeq is skipped to the next (older) one for the same user key.
func (m *MemTable) Get(userKey []byte, readSeq dbformat.SeqNo) (value []byte, t dbformat.ValueType, found bool) {
	seekKey := dbformat.NewInternalKey(userKey, readSeq, dbformat.TypeValue)

	it := m.skip.NewIterator()
	it.Seek(seekKey)
	if it.Valid() && dbformat.InternalKey(it.Key()).Seq() == readSeq &&
		m.cmp.CompareUserKey(dbformat.InternalKey(it.Key()), seekKey) == 0 {
		it.Next()
	}
	if !it.Valid() {
		return nil, 0, false
	}
	ik := dbformat.InternalKey(it.Key())
	if m.cmp.CompareUserKey(ik, seekKey) != 0 {
		return nil, 0, false
	}
	winSeq, winType := ik.Seq(), ik.Type()
	winVal := it.Value()

	if m.ranges.QuerySuppression(userKey, winSeq, readSeq) {
		return nil, 0, false
	}
	return winVal, winType, true
}

// NewKeyIterator returns a fresh point-record iterator over internal keys.
func (m *MemTable) NewKeyIterator() *Iterator { return m.skip.NewIterator() }

// RangeTombstones returns the interval tree of range tombstones recorded in
// this memtable.
func (m *MemTable) RangeTombstones() *RangeTombstoneTree { return m.ranges }

// Comparator returns the internal-key comparator this memtable was built with.
func (m *MemTable) Comparator() *dbformat.Comparator { return m.cmp }

// ApproximateSize returns the current estimate of memory consumed by stored
// keys and values (spec.md section 3's approximate_size), used by the owner
// to decide when to seal and flush.
func (m *MemTable) ApproximateSize() int64 {
	return m.skip.ByteSize()
}

// Len returns the number of point records stored.
func (m *MemTable) Len() int64 { return m.skip.Count() }

// Seal marks the memtable immutable. Seal is idempotent.
func (m *MemTable) Seal() { m.sealed.Store(true) }

// Sealed reports whether Seal has been called.
func (m *MemTable) Sealed() bool { return m.sealed.Load() }
