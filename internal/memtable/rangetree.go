package memtable

import (
	"bytes"

	"github.com/aalhour/ridgekv/internal/dbformat"
)

// RangeTombstone is a half-open [Start, End) interval at Seq, per spec.md
// section 3: it suppresses any record whose user key falls in the interval
// and whose seqno is less than Seq.
type RangeTombstone struct {
	Start, End []byte
	Seq        dbformat.SeqNo
}

// rtNode is an AVL tree node keyed by Start, augmented per spec.md section
// 4.7 with subtreeMaxEnd / subtreeMaxSeqno / subtreeMinSeqno so the two
// query shapes below can prune whole subtrees instead of visiting every
// tombstone.
type rtNode struct {
	tomb   RangeTombstone
	height int
	left   *rtNode
	right  *rtNode

	subtreeMaxEnd   []byte
	subtreeMaxSeqno dbformat.SeqNo
	subtreeMinSeqno dbformat.SeqNo
}

// RangeTombstoneTree is an AVL tree of range tombstones keyed by start key,
// supporting the two query shapes spec.md section 4.7 names: point
// suppression and whole-range covering lookup (used to skip blocks/tables).
// It is not safe for concurrent mutation; the memtable serializes writers
// the same way it does for the skiplist (spec.md section 5).
type RangeTombstoneTree struct {
	root *rtNode
	n    int
}

// NewRangeTombstoneTree returns an empty tree.
func NewRangeTombstoneTree() *RangeTombstoneTree { return &RangeTombstoneTree{} }

// Len returns the number of tombstones stored.
func (t *RangeTombstoneTree) Len() int { return t.n }

// IsEmpty reports whether the tree has no tombstones.
func (t *RangeTombstoneTree) IsEmpty() bool { return t.n == 0 }

// Insert adds a range tombstone to the tree.
func (t *RangeTombstoneTree) Insert(start, end []byte, seq dbformat.SeqNo) {
	t.root = insertRT(t.root, RangeTombstone{Start: start, End: end, Seq: seq})
	t.n++
}

// All returns every tombstone in start-key order, used when flushing the
// memtable's tombstones into a table's metadata section (spec.md section 9).
func (t *RangeTombstoneTree) All() []RangeTombstone {
	out := make([]RangeTombstone, 0, t.n)
	var walk func(*rtNode)
	walk = func(n *rtNode) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, n.tomb)
		walk(n.right)
	}
	walk(t.root)
	return out
}

func height(n *rtNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func maxEndOf(n *rtNode) []byte {
	if n == nil {
		return nil
	}
	return n.subtreeMaxEnd
}

func maxBytes(a, b []byte) []byte {
	if bytes.Compare(a, b) >= 0 {
		return a
	}
	return b
}

func recompute(n *rtNode) {
	n.height = 1 + max(height(n.left), height(n.right))

	maxEnd := n.tomb.End
	maxEnd = maxBytes(maxEnd, maxEndOf(n.left))
	maxEnd = maxBytes(maxEnd, maxEndOf(n.right))
	n.subtreeMaxEnd = maxEnd

	maxSeq, minSeq := n.tomb.Seq, n.tomb.Seq
	for _, c := range [2]*rtNode{n.left, n.right} {
		if c == nil {
			continue
		}
		if c.subtreeMaxSeqno > maxSeq {
			maxSeq = c.subtreeMaxSeqno
		}
		if c.subtreeMinSeqno < minSeq {
			minSeq = c.subtreeMinSeqno
		}
	}
	n.subtreeMaxSeqno = maxSeq
	n.subtreeMinSeqno = minSeq
}

func balanceFactor(n *rtNode) int { return height(n.left) - height(n.right) }

func rotateRight(y *rtNode) *rtNode {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	recompute(y)
	recompute(x)
	return x
}

func rotateLeft(x *rtNode) *rtNode {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	recompute(x)
	recompute(y)
	return y
}

func rebalance(n *rtNode) *rtNode {
	recompute(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

func insertRT(n *rtNode, t RangeTombstone) *rtNode {
	if n == nil {
		leaf := &rtNode{tomb: t}
		recompute(leaf)
		return leaf
	}
	if bytes.Compare(t.Start, n.tomb.Start) < 0 {
		n.left = insertRT(n.left, t)
	} else {
		n.right = insertRT(n.right, t)
	}
	return rebalance(n)
}

// QuerySuppression reports whether a visible range tombstone with
// rt.Seq > keySeq covers key at readSeq. Visibility is strict (rt.Seq <
// readSeq, not <=). It prunes subtrees whose subtreeMinSeqno is already at
// or past readSeq (entirely invisible) or whose subtreeMaxEnd is below key
// (cannot cover it).
func (t *RangeTombstoneTree) QuerySuppression(key []byte, keySeq, readSeq dbformat.SeqNo) bool {
	return querySuppression(t.root, key, keySeq, readSeq)
}

func querySuppression(n *rtNode, key []byte, keySeq, readSeq dbformat.SeqNo) bool {
	if n == nil {
		return false
	}
	// Every tombstone in this subtree is invisible (seq >= readSeq, so not
	// yet committed as of the read) -- prune via subtreeMinSeqno.
	if n.subtreeMinSeqno >= readSeq {
		return false
	}
	// Every tombstone in this subtree is at or below keySeq (cannot
	// suppress a newer record) -- prune via subtreeMaxSeqno.
	if n.subtreeMaxSeqno <= keySeq {
		return false
	}
	// No tombstone in this subtree extends far enough to cover key.
	if bytes.Compare(n.subtreeMaxEnd, key) <= 0 {
		return false
	}

	if n.tomb.Seq > keySeq && n.tomb.Seq < readSeq &&
		bytes.Compare(n.tomb.Start, key) <= 0 && bytes.Compare(key, n.tomb.End) < 0 {
		return true
	}

	// Both children are searched; each still gets the seq/end prunes above.
	if querySuppression(n.left, key, keySeq, readSeq) {
		return true
	}
	return querySuppression(n.right, key, keySeq, readSeq)
}

// QueryCoveringRange returns, among tombstones whose [Start,End) fully
// covers [min,max], the one with the highest Seq visible at readSeq, or
// found=false if none covers the whole range. Used to skip entire
// blocks/tables during a scan (spec.md section 4.7).
func (t *RangeTombstoneTree) QueryCoveringRange(min, max []byte, readSeq dbformat.SeqNo) (RangeTombstone, bool) {
	var best RangeTombstone
	found := false
	var walk func(*rtNode)
	walk = func(n *rtNode) {
		if n == nil {
			return
		}
		if n.subtreeMinSeqno >= readSeq {
			// Even the oldest tombstone in this subtree is not yet visible
			// at readSeq, so none of them can be the answer.
			return
		}
		if bytes.Compare(n.subtreeMaxEnd, max) <= 0 {
			return
		}
		if n.tomb.Seq < readSeq &&
			bytes.Compare(n.tomb.Start, min) <= 0 && bytes.Compare(max, n.tomb.End) < 0 {
			if !found || n.tomb.Seq > best.Seq {
				best, found = n.tomb, true
			}
		}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return best, found
}
