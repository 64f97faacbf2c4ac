// Package cache implements the shared weighted block cache described in
// spec.md section 4.6: a single concurrent cache mapping
// (tag, tree_id, table_id, block_offset) to a decoded block, sharded for
// reduced lock contention, with approximate-LRU eviction by weight and
// reference-counted handles so a borrowed block survives eviction until
// its holder releases it.
package cache

// Tag distinguishes the kind of block a Key refers to, since a data block,
// an index block, and a filter partition at the same file offset are
// still logically distinct cache entries.
type Tag uint8

const (
	TagData Tag = iota
	TagIndex
	TagTopLevelIndex
	TagFilter
)

// Key uniquely identifies a cached block (spec.md section 4.6).
type Key struct {
	Tag         Tag
	TreeID      uint64
	TableID     uint64
	BlockOffset uint64
}

// Cache is the interface implemented by both a single Shard and the
// sharded cache composing them.
type Cache interface {
	// Insert adds a block to the cache, or updates it if key already
	// exists, returning a handle pinning it in place until Release.
	Insert(key Key, value []byte, charge uint64) *Handle

	// Lookup returns a pinned handle for key, or nil if not cached.
	Lookup(key Key) *Handle

	// Release unpins a handle obtained from Insert or Lookup. The caller
	// must not use the handle's Value after calling Release.
	Release(handle *Handle)

	// Erase removes key from the cache. An entry still pinned by an
	// outstanding handle is removed once its last handle is released
	// (spec.md 4.6: a table's entries become unreachable once its id
	// leaves every live version, but the cache may hold them briefly).
	Erase(key Key)

	// SetCapacity changes the cache's maximum weight, evicting immediately
	// if the new capacity is below current usage.
	SetCapacity(capacity uint64)

	Capacity() uint64
	Usage() uint64
	PinnedUsage() uint64
	EntryCount() uint64
}

// Handle is a pinned reference to one cached block. Concurrent holders
// each get their own Handle pointer but share the same entry.
type Handle struct {
	key     Key
	value   []byte
	charge  uint64
	refs    int32
	deleted bool
}

// Value returns the decoded block bytes. Valid until Release.
func (h *Handle) Value() []byte { return h.value }

// Charge returns the entry's weight (header_size + uncompressed_length,
// per spec.md section 4.6).
func (h *Handle) Charge() uint64 { return h.charge }
