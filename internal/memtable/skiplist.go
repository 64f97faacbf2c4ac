// Package memtable implements the write buffer at the top of the LSM-tree:
// a lock-free concurrent skiplist ordered by internal key (spec.md section
// 4.7), plus an AVL interval tree of range tombstones (rangetree.go), and
// the MemTable type that glues the two together (memtable.go).
package memtable

import (
	"math/rand/v2"
	"sync/atomic"

	"github.com/aalhour/ridgekv/internal/arena"
)

// MaxHeight caps skiplist node height at 20, per spec.md section 4.7.
const MaxHeight = 20

// branchingP is the geometric-distribution parameter for node heights: each
// additional level is promoted with probability 1/e, per spec.md section 4.7.
const branchingP = 1.0 / 2.718281828459045

// Comparator orders two keys.
type Comparator func(a, b []byte) int

// node is a skiplist node. The node itself is an ordinary heap allocation;
// only its key and value bytes are copied into the list's Arena. next[i] is
// an atomic pointer to the next node at level i; readers walk these
// without locking.
type node struct {
	key   []byte
	value []byte
	next  []atomic.Pointer[node]
}

// SkipList is a lock-free (for reads and inserts of distinct keys)
// concurrent ordered map from key to value. Writers must not concurrently
// insert the same key — the memtable's single-writer contract (spec.md
// section 5) relies on the embedder serializing seqno generation and insert.
type SkipList struct {
	arena   *arena.Arena
	head    *node
	height  atomic.Int32
	cmp     Comparator
	count   atomic.Int64
	byteSum atomic.Int64
}

// NewSkipList creates an empty skiplist ordered by cmp.
func NewSkipList(cmp Comparator) *SkipList {
	a := arena.New()
	sl := &SkipList{arena: a, cmp: cmp}
	sl.head = sl.newNode(nil, nil, MaxHeight)
	sl.height.Store(1)
	return sl
}

func (sl *SkipList) newNode(key, value []byte, height int) *node {
	n := &node{key: key, value: value, next: make([]atomic.Pointer[node], height)}
	return n
}

func randomHeight() int {
	h := 1
	for h < MaxHeight && rand.Float64() < branchingP {
		h++
	}
	return h
}

// findGreaterOrEqual returns the first node with key >= target, filling prev
// with the per-level predecessor when non-nil (used by Insert).
func (sl *SkipList) findGreaterOrEqual(target []byte, prev []*node) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node with key strictly less than target.
func (sl *SkipList) findLessThan(target []byte) *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && sl.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

func (sl *SkipList) findLast() *node {
	x := sl.head
	level := int(sl.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			if x == sl.head {
				return nil
			}
			return x
		}
		level--
	}
}

// Insert adds key->value to the list. If key already exists, the insert is
// rejected: Insert returns false and leaves the list unchanged, so the
// memtable never stores two entries under one internal key.
//
// Level 0 is the authoritative, CAS-linked total order: once a node is
// linked at level 0 the insert is published and duplicate checks against it
// are valid. Levels above 0 are a search accelerator only; linking them is
// retried independently per level and never needs to roll back level 0,
// since a momentarily short upper level only makes concurrent lookups
// slower, never wrong.
func (sl *SkipList) Insert(key, value []byte) bool {
	height := randomHeight()
	var n *node

	// Publish at level 0 first; this is the linearization point.
	for {
		var prev0 [1]*node
		existing := sl.findGreaterOrEqualAt(key, 0, prev0[:])
		if existing != nil && sl.cmp(existing.key, key) == 0 {
			return false
		}
		if n == nil {
			keyBuf := sl.arena.Allocate(len(key))
			copy(keyBuf, key)
			valBuf := sl.arena.Allocate(len(value))
			copy(valBuf, value)
			n = sl.newNode(keyBuf, valBuf, height)
		}
		n.next[0].Store(existing)
		if prev0[0].next[0].CompareAndSwap(existing, n) {
			break
		}
	}

	sl.count.Add(1)
	sl.byteSum.Add(int64(len(key) + len(value)))

	if height > int(sl.height.Load()) {
		for {
			cur := sl.height.Load()
			if int(cur) >= height || sl.height.CompareAndSwap(cur, int32(height)) {
				break
			}
		}
	}

	// Link remaining levels best-effort; each level is independent.
	for level := 1; level < height; level++ {
		for {
			var prev [1]*node
			next := sl.findGreaterOrEqualAt(key, level, prev[:])
			n.next[level].Store(next)
			if prev[0].next[level].CompareAndSwap(next, n) {
				break
			}
		}
	}
	return true
}

// findGreaterOrEqualAt returns the first node at exactly the given level with
// key >= target (by walking down from the top), recording the immediate
// level-`level` predecessor in prev[0] when non-nil.
func (sl *SkipList) findGreaterOrEqualAt(target []byte, level int, prev []*node) *node {
	x := sl.head
	l := int(sl.height.Load()) - 1
	if l < level {
		l = level
	}
	for {
		var next *node
		if l < len(x.next) {
			next = x.next[l].Load()
		}
		if next != nil && sl.cmp(next.key, target) < 0 {
			x = next
			continue
		}
		if l == level {
			if prev != nil {
				prev[0] = x
			}
			return next
		}
		l--
	}
}

// Get returns the value stored for key, if present.
func (sl *SkipList) Get(key []byte) (value []byte, found bool) {
	n := sl.findGreaterOrEqual(key, nil)
	if n != nil && sl.cmp(n.key, key) == 0 {
		return n.value, true
	}
	return nil, false
}

// Count returns the number of entries.
func (sl *SkipList) Count() int64 { return sl.count.Load() }

// ByteSize returns the sum of key and value bytes inserted (excluding node
// and arena overhead), used for the memtable's approximate_size invariant.
func (sl *SkipList) ByteSize() int64 { return sl.byteSum.Load() }

// Iterator walks the skiplist at level 0.
type Iterator struct {
	sl  *SkipList
	cur *node
}

// NewIterator returns a fresh, unpositioned Iterator.
func (sl *SkipList) NewIterator() *Iterator { return &Iterator{sl: sl} }

// SeekToFirst positions at the smallest key.
func (it *Iterator) SeekToFirst() { it.cur = it.sl.head.next[0].Load() }

// SeekToLast positions at the largest key.
func (it *Iterator) SeekToLast() { it.cur = it.sl.findLast() }

// Seek positions at the first key >= target.
func (it *Iterator) Seek(target []byte) { it.cur = it.sl.findGreaterOrEqual(target, nil) }

// SeekForPrev positions at the last key <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if it.Valid() && it.sl.cmp(it.Key(), target) == 0 {
		return
	}
	it.cur = it.sl.findLessThan(target)
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.cur != nil }

// Key returns the key at the current position.
func (it *Iterator) Key() []byte { return it.cur.key }

// Value returns the value at the current position.
func (it *Iterator) Value() []byte { return it.cur.value }

// Next advances to the next entry.
func (it *Iterator) Next() { it.cur = it.cur.next[0].Load() }

// Prev moves to the previous entry (O(log n), walks from head).
func (it *Iterator) Prev() { it.cur = it.sl.findLessThan(it.cur.key) }
