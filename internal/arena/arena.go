// Package arena implements a bump allocator for skiplist nodes, following
// spec.md section 2's "Slice & arena" component: the memtable never frees a
// node individually, so a simple growable-block bump allocator avoids the
// per-node malloc overhead a general-purpose allocator would impose under
// heavy concurrent insert load.
package arena

import (
	"sync"
	"sync/atomic"
)

const blockSize = 4096

// Arena is a concurrent bump allocator. The fast path (allocating within the
// current block) is lock-free via an atomic add on the block's cursor; only
// rolling over to a fresh block takes the mutex, so concurrent memtable
// writers rarely contend.
type Arena struct {
	mu       sync.Mutex
	current  atomic.Pointer[block]
	size     int64
	numAlloc int64
}

type block struct {
	buf []byte
	off int64 // atomically advanced allocation cursor
}

// New returns an empty Arena.
func New() *Arena {
	a := &Arena{}
	a.current.Store(&block{buf: make([]byte, blockSize)})
	return a
}

// Allocate reserves n bytes and returns a slice into arena-owned memory.
// The returned slice is never moved or reclaimed individually; it remains
// valid for the lifetime of the Arena.
func (a *Arena) Allocate(n int) []byte {
	atomic.AddInt64(&a.numAlloc, 1)
	atomic.AddInt64(&a.size, int64(n))

	for {
		b := a.current.Load()
		start := atomic.AddInt64(&b.off, int64(n)) - int64(n)
		if start+int64(n) <= int64(len(b.buf)) {
			return b.buf[start : start+int64(n)]
		}
		a.growFor(n, b)
	}
}

// growFor installs a fresh block sized to fit at least n bytes, unless
// another goroutine already did so (the block's identity changed under us).
func (a *Arena) growFor(n int, stale *block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.Load() != stale {
		return // someone else already grew the arena
	}
	size := blockSize
	if n > size {
		size = n
	}
	a.current.Store(&block{buf: make([]byte, size)})
}

// Size returns the total number of bytes handed out so far. Used by the
// memtable to track its approximate_size invariant (spec.md section 3).
func (a *Arena) Size() int64 { return atomic.LoadInt64(&a.size) }

// NumAllocations returns how many Allocate calls have been served.
func (a *Arena) NumAllocations() int64 { return atomic.LoadInt64(&a.numAlloc) }
