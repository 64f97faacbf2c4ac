// Package miter implements the k-way merge iterator spec.md section 4.8
// describes: a double-ended cursor over any mix of memtable and table
// iterators, ordered by internal-key order, with two compaction-facing
// options (evict_old_versions, seqno_filter) layered on top.
package miter

import (
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/memtable"
)

// Source is one input stream to a MergeIterator: a double-ended cursor
// over internal-key records, ordered by user key ascending / seqno
// descending / value type ascending (dbformat.Comparator's tie-break).
// internal/table.Iterator and internal/table.RunIterator already satisfy
// this directly; MemtableSource adapts internal/memtable.Iterator, whose
// Key() returns a raw encoded internal key rather than split fields.
type Source interface {
	SeekToFirst()
	SeekToLast()
	// Seek positions at the first record with user key >= target.
	Seek(target []byte)
	Next()
	Prev()
	Valid() bool
	Key() []byte
	Seq() dbformat.SeqNo
	ValueType() dbformat.ValueType
	Value() []byte
	Err() error
}

// MemtableSource adapts a memtable.Iterator (which stores whole encoded
// internal keys) to the Source interface the merge iterator expects.
type MemtableSource struct {
	it  *memtable.Iterator
	cur dbformat.ParsedKey
	err error
}

// NewMemtableSource wraps it as a Source.
func NewMemtableSource(it *memtable.Iterator) *MemtableSource {
	return &MemtableSource{it: it}
}

func (s *MemtableSource) parseCurrent() {
	if !s.it.Valid() {
		return
	}
	pk, err := dbformat.ParseInternalKey(s.it.Key())
	if err != nil {
		s.err = err
		return
	}
	s.cur = pk
}

// SeekToFirst positions at the memtable's first record.
func (s *MemtableSource) SeekToFirst() {
	s.it.SeekToFirst()
	s.parseCurrent()
}

// SeekToLast positions at the memtable's last record.
func (s *MemtableSource) SeekToLast() {
	s.it.SeekToLast()
	s.parseCurrent()
}

// Seek positions at the first record with user key >= target. Searching
// with dbformat.MaxSeqNo as the trailer lands on the newest version of
// target when present, since the comparator sorts higher seqnos first for
// equal user keys.
func (s *MemtableSource) Seek(target []byte) {
	s.it.Seek(dbformat.NewInternalKey(target, dbformat.MaxSeqNo, dbformat.TypeValue))
	s.parseCurrent()
}

// Next moves forward one record.
func (s *MemtableSource) Next() {
	s.it.Next()
	s.parseCurrent()
}

// Prev moves backward one record.
func (s *MemtableSource) Prev() {
	s.it.Prev()
	s.parseCurrent()
}

// Valid reports whether the iterator is positioned at a record.
func (s *MemtableSource) Valid() bool { return s.err == nil && s.it.Valid() }

// Key returns the current record's user key.
func (s *MemtableSource) Key() []byte { return s.cur.UserKey }

// Seq returns the current record's sequence number.
func (s *MemtableSource) Seq() dbformat.SeqNo { return s.cur.Seq }

// ValueType returns the current record's value type.
func (s *MemtableSource) ValueType() dbformat.ValueType { return s.cur.Type }

// Value returns the current record's payload.
func (s *MemtableSource) Value() []byte { return s.it.Value() }

// Err returns the first error encountered, if any.
func (s *MemtableSource) Err() error { return s.err }
