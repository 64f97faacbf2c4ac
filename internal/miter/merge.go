package miter

import (
	"container/heap"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

// Options configures a MergeIterator (spec.md section 4.8). The zero value
// yields every record from every source exactly once, in internal-key
// order.
type Options struct {
	// EvictOldVersions skips every record after the first (newest) visible
	// version of a user key, across all sources — the view compaction
	// wants: one winner per key, everything else dropped.
	EvictOldVersions bool
	// FilterBySeqNo, if true, hides every record with Seq() >= ReadSeqNo —
	// the snapshot-read view a point lookup or range scan at a fixed
	// read_seqno wants. Visibility is strict: a record stamped with exactly
	// ReadSeqNo is not yet visible to that read.
	FilterBySeqNo bool
	ReadSeqNo     dbformat.SeqNo
}

type direction int

const (
	dirNone direction = iota
	dirForward
	dirBackward
)

// entry is one source's current position, cached for heap comparisons
// without re-reading the source (whose own buffers may be reused on the
// next Next/Prev call).
type entry struct {
	idx   int
	key   []byte
	seq   dbformat.SeqNo
	vtype dbformat.ValueType
}

// compareEntries mirrors dbformat.Comparator.Compare's tie-break rule
// (user key ascending, seqno descending, value type ascending) but works
// against already-split fields instead of re-encoding an internal key.
func compareEntries(a, b entry) int {
	if c := dbformat.UserCompare(a.key, b.key); c != 0 {
		return c
	}
	if a.seq != b.seq {
		if a.seq > b.seq {
			return -1
		}
		return 1
	}
	switch {
	case a.vtype < b.vtype:
		return -1
	case a.vtype > b.vtype:
		return 1
	default:
		return 0
	}
}

// entryHeap is a container/heap.Interface over entry, ordered as a min-heap
// by internal-key order, or as a max-heap when max is set — the "symmetric
// max heap" spec.md's merge_iterator section calls for to drive reverse
// iteration.
type entryHeap struct {
	items []entry
	max   bool
}

func (h *entryHeap) Len() int { return len(h.items) }
func (h *entryHeap) Less(i, j int) bool {
	c := compareEntries(h.items[i], h.items[j])
	if h.max {
		return c > 0
	}
	return c < 0
}
func (h *entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *entryHeap) Push(x any)    { h.items = append(h.items, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// MergeIterator is a k-way merge over sources, ordered by internal-key
// order (spec.md section 4.8). It is double-ended: forward iteration
// drives a min-heap of each source's current position, reverse iteration
// drives a symmetric max-heap. Switching direction mid-scan realigns every
// source relative to the current record, the same maneuver a classic
// LSM merging iterator uses, generalized here to compare whole (key, seq,
// type) entries rather than raw encoded bytes.
type MergeIterator struct {
	sources []Source
	opts    Options

	dir  direction
	heap *entryHeap

	curValid bool
	// curPurged is true once the current record has already been advanced
	// past in every source (acceptNewestOfGroup does this eagerly); a plain
	// heap pop-and-advance would double-advance in that case, so Next/Prev
	// skip it when curPurged is set.
	curPurged bool
	curKey    []byte
	curSeq    dbformat.SeqNo
	curType   dbformat.ValueType
	curValue  []byte

	lastKey  []byte
	haveLast bool
	err      error
}

// New returns a MergeIterator over sources.
func New(sources []Source, opts Options) *MergeIterator {
	return &MergeIterator{sources: sources, opts: opts}
}

func (m *MergeIterator) entryFor(idx int) entry {
	s := m.sources[idx]
	return entry{idx: idx, key: append([]byte(nil), s.Key()...), seq: s.Seq(), vtype: s.ValueType()}
}

func (m *MergeIterator) buildHeap(max bool) {
	h := &entryHeap{max: max, items: make([]entry, 0, len(m.sources))}
	for i, s := range m.sources {
		if s.Valid() {
			h.items = append(h.items, m.entryFor(i))
		}
	}
	heap.Init(h)
	m.heap = h
}

func (m *MergeIterator) acceptCurrent(e entry) {
	m.curValid = true
	m.curPurged = false
	m.curKey = append(m.curKey[:0], e.key...)
	m.curSeq = e.seq
	m.curType = e.vtype
	m.curValue = append(m.curValue[:0], m.sources[e.idx].Value()...)
}

func (m *MergeIterator) popAdvance(forward bool) {
	top := heap.Pop(m.heap).(entry)
	s := m.sources[top.idx]
	if forward {
		s.Next()
	} else {
		s.Prev()
	}
	if s.Valid() {
		heap.Push(m.heap, m.entryFor(top.idx))
	}
}

// settleForward skips records hidden by the seqno filter or by
// evict_old_versions, landing on the next visible record (or leaving the
// iterator invalid if none remain). Forward order visits a user key's
// newest version first (the comparator sorts higher seqnos first for equal
// user keys), so simply discarding later heap tops that repeat the last
// accepted user key is exact.
func (m *MergeIterator) settleForward() {
	m.curPurged = false
	for m.heap.Len() > 0 {
		top := m.heap.items[0]
		if m.opts.FilterBySeqNo && top.seq >= m.opts.ReadSeqNo {
			m.popAdvance(true)
			continue
		}
		if m.opts.EvictOldVersions && m.haveLast && dbformat.UserCompare(top.key, m.lastKey) == 0 {
			m.popAdvance(true)
			continue
		}
		m.acceptCurrent(top)
		m.lastKey = append(m.lastKey[:0], top.key...)
		m.haveLast = true
		return
	}
	m.curValid = false
	m.haveLast = false
}

// settleBackward is settleForward's mirror, with one asymmetry: reverse
// order visits a user key's OLDEST version first (the group's tail in
// ascending order), so evict_old_versions can't just discard repeats of
// the last accepted key — the first member of a newly-entered group is
// exactly the one that must NOT be yielded. acceptNewestOfGroup resolves
// this by searching every source for that user key's true newest version
// before accepting anything.
func (m *MergeIterator) settleBackward() {
	m.curPurged = false
	for m.heap.Len() > 0 {
		top := m.heap.items[0]
		if m.opts.FilterBySeqNo && top.seq >= m.opts.ReadSeqNo {
			m.popAdvance(false)
			continue
		}
		if !m.opts.EvictOldVersions {
			m.acceptCurrent(top)
			m.lastKey = append(m.lastKey[:0], top.key...)
			m.haveLast = true
			return
		}
		if m.haveLast && dbformat.UserCompare(top.key, m.lastKey) == 0 {
			m.popAdvance(false)
			continue
		}
		m.acceptNewestOfGroup(top.key)
		return
	}
	m.curValid = false
	m.haveLast = false
}

// acceptNewestOfGroup finds userKey's newest version across every source
// (the smallest entry under compareEntries, since higher seqnos sort
// first), accepts it as current, and repositions every source strictly
// before it — purging the whole group from view so a later Prev() resumes
// cleanly from the heap without revisiting any of userKey's versions.
func (m *MergeIterator) acceptNewestOfGroup(userKey []byte) {
	key := append([]byte(nil), userKey...)

	var best entry
	var bestValue []byte
	haveBest := false
	for i, s := range m.sources {
		s.Seek(key)
		if s.Valid() && dbformat.UserCompare(s.Key(), key) == 0 {
			e := m.entryFor(i)
			if !haveBest || compareEntries(e, best) < 0 {
				best, bestValue, haveBest = e, append([]byte(nil), s.Value()...), true
			}
		}
	}

	for i, s := range m.sources {
		s.Seek(key)
		if !s.Valid() {
			s.SeekToLast()
		}
		for s.Valid() {
			e := m.entryFor(i)
			if compareEntries(e, best) < 0 {
				break
			}
			s.Prev()
		}
	}
	m.buildHeap(true)

	m.lastKey = key
	m.haveLast = true
	m.curPurged = true
	m.curValid = haveBest
	if haveBest {
		m.curKey = append(m.curKey[:0], best.key...)
		m.curSeq = best.seq
		m.curType = best.vtype
		m.curValue = append(m.curValue[:0], bestValue...)
	}
}

func (m *MergeIterator) currentAsEntry() entry {
	return entry{key: m.curKey, seq: m.curSeq, vtype: m.curType}
}

// switchToForward repositions every source to just after the current
// record and rebuilds the min-heap, so iteration can resume forward
// regardless of which direction produced the current position.
func (m *MergeIterator) switchToForward() {
	cur := m.currentAsEntry()
	for i, s := range m.sources {
		s.Seek(cur.key)
		for s.Valid() {
			if compareEntries(m.entryFor(i), cur) > 0 {
				break
			}
			s.Next()
		}
	}
	m.dir = dirForward
	m.buildHeap(false)
}

// switchToBackward is switchToForward's mirror for reverse iteration.
func (m *MergeIterator) switchToBackward() {
	cur := m.currentAsEntry()
	for i, s := range m.sources {
		s.Seek(cur.key)
		if !s.Valid() {
			s.SeekToLast()
		}
		for s.Valid() {
			if compareEntries(m.entryFor(i), cur) < 0 {
				break
			}
			s.Prev()
		}
	}
	m.dir = dirBackward
	m.buildHeap(true)
}

// SeekToFirst positions the iterator at the smallest visible internal key
// across every source.
func (m *MergeIterator) SeekToFirst() {
	for _, s := range m.sources {
		s.SeekToFirst()
	}
	m.dir = dirForward
	m.haveLast = false
	m.buildHeap(false)
	m.settleForward()
}

// SeekToLast positions the iterator at the largest visible internal key
// across every source.
func (m *MergeIterator) SeekToLast() {
	for _, s := range m.sources {
		s.SeekToLast()
	}
	m.dir = dirBackward
	m.haveLast = false
	m.buildHeap(true)
	m.settleBackward()
}

// Seek positions the iterator at the first visible record with user key >=
// target.
func (m *MergeIterator) Seek(target []byte) {
	for _, s := range m.sources {
		s.Seek(target)
	}
	m.dir = dirForward
	m.haveLast = false
	m.buildHeap(false)
	m.settleForward()
}

// Next moves forward one visible record.
func (m *MergeIterator) Next() {
	if !m.Valid() {
		return
	}
	if m.dir != dirForward {
		m.switchToForward()
	} else if !m.curPurged {
		m.popAdvance(true)
	}
	m.settleForward()
}

// Prev moves backward one visible record.
func (m *MergeIterator) Prev() {
	if !m.Valid() {
		return
	}
	if m.dir != dirBackward {
		m.switchToBackward()
	} else if !m.curPurged {
		m.popAdvance(false)
	}
	m.settleBackward()
}

// Valid reports whether the iterator is positioned at a record.
func (m *MergeIterator) Valid() bool { return m.err == nil && m.curValid }

// Key returns the current record's user key.
func (m *MergeIterator) Key() []byte { return m.curKey }

// Seq returns the current record's sequence number.
func (m *MergeIterator) Seq() dbformat.SeqNo { return m.curSeq }

// ValueType returns the current record's value type.
func (m *MergeIterator) ValueType() dbformat.ValueType { return m.curType }

// Value returns the current record's payload.
func (m *MergeIterator) Value() []byte { return m.curValue }

// Err returns the first error encountered across the merge or any source.
func (m *MergeIterator) Err() error {
	if m.err != nil {
		return m.err
	}
	for _, s := range m.sources {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases any source that holds cache references (internal/table
// iterators), via an optional io.Closer-style assertion rather than adding
// Close to Source itself, since memtable sources need nothing to release.
func (m *MergeIterator) Close() {
	for _, s := range m.sources {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
