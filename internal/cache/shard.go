package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// shard is a single lock-protected LRU cache, one of many composing a
// Sharded cache.
type shard struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

type shardEntry struct {
	handle *Handle
}

func entryOf(elem *list.Element) *shardEntry {
	e, _ := elem.Value.(*shardEntry)
	return e
}

func newShard(capacity uint64) *shard {
	return &shard{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

func (s *shard) Insert(key Key, value []byte, charge uint64) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.table[key]; ok {
		entry := entryOf(elem)
		s.usage -= entry.handle.charge
		entry.handle.value = value
		entry.handle.charge = charge
		entry.handle.deleted = false
		s.usage += charge
		s.lru.MoveToFront(elem)
		entry.handle.refs++
		return entry.handle
	}

	handle := &Handle{key: key, value: value, charge: charge, refs: 1}
	for s.usage+charge > s.capacity && s.lru.Len() > 0 {
		if !s.evictOne() {
			break
		}
	}
	elem := s.lru.PushFront(&shardEntry{handle: handle})
	s.table[key] = elem
	s.usage += charge
	return handle
}

func (s *shard) Lookup(key Key) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.table[key]; ok {
		entry := entryOf(elem)
		if !entry.handle.deleted {
			s.lru.MoveToFront(elem)
			entry.handle.refs++
			s.hits.Add(1)
			return entry.handle
		}
	}
	s.misses.Add(1)
	return nil
}

func (s *shard) Release(handle *Handle) {
	if handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	handle.refs--
	if handle.refs == 0 && handle.deleted {
		s.removeHandle(handle)
	}
}

func (s *shard) Erase(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.table[key]; ok {
		entry := entryOf(elem)
		entry.handle.deleted = true
		if entry.handle.refs == 0 {
			s.removeHandle(entry.handle)
		}
	}
}

func (s *shard) SetCapacity(capacity uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.capacity = capacity
	for s.usage > s.capacity && s.lru.Len() > 0 {
		if !s.evictOne() {
			break
		}
	}
}

func (s *shard) Capacity() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

func (s *shard) Usage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *shard) PinnedUsage() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pinned uint64
	for _, elem := range s.table {
		entry := entryOf(elem)
		if entry.handle.refs > 0 {
			pinned += entry.handle.charge
		}
	}
	return pinned
}

func (s *shard) EntryCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.table))
}

// evictOne removes the least recently used unpinned entry. Returns false
// if every entry is currently pinned, so the caller's eviction loop can
// stop instead of spinning.
func (s *shard) evictOne() bool {
	for e := s.lru.Back(); e != nil; e = e.Prev() {
		entry := entryOf(e)
		if entry.handle.refs == 0 && !entry.handle.deleted {
			s.removeElement(e)
			return true
		}
	}
	return false
}

func (s *shard) removeElement(elem *list.Element) {
	entry := entryOf(elem)
	delete(s.table, entry.handle.key)
	s.lru.Remove(elem)
	s.usage -= entry.handle.charge
}

func (s *shard) removeHandle(handle *Handle) {
	if elem, ok := s.table[handle.key]; ok {
		s.removeElement(elem)
	}
}
