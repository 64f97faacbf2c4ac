package table

import (
	"sync"

	"github.com/aalhour/ridgekv/internal/vfs"
)

// Cache caches open table Readers by table id, avoiding a reopen and a
// fresh footer/meta parse on every lookup (spec.md section 4.6 names the
// block cache; keeping file descriptors open across reads is this package's
// own concern, grounded on the same open-handle LRU shape). Entries still
// referenced by an in-flight caller survive past MaxOpenTables until
// released.
type Cache struct {
	mu sync.Mutex

	fs   vfs.FS
	opts ReaderOptions

	entries map[uint64]*cachedReader
	lruHead *cachedReader
	lruTail *cachedReader
	size    int
	maxSize int
}

type cachedReader struct {
	tableID uint64
	reader  *Reader
	prev    *cachedReader
	next    *cachedReader
	refs    int
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// MaxOpenTables bounds the number of idle (unreferenced) readers kept
	// open. Zero uses DefaultMaxOpenTables.
	MaxOpenTables int
	Reader        ReaderOptions
}

// DefaultMaxOpenTables is the default ceiling on idle open table files.
const DefaultMaxOpenTables = 500

// NewCache returns a Cache that opens table files through fs.
func NewCache(fs vfs.FS, opts CacheOptions) *Cache {
	maxSize := opts.MaxOpenTables
	if maxSize <= 0 {
		maxSize = DefaultMaxOpenTables
	}
	return &Cache{fs: fs, opts: opts.Reader, entries: make(map[uint64]*cachedReader), maxSize: maxSize}
}

// Get returns the Reader for tableID, opening path if not already cached.
// The caller must call Release(tableID) exactly once when done.
func (c *Cache) Get(tableID uint64, path string) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cr, ok := c.entries[tableID]; ok {
		cr.refs++
		c.moveToFront(cr)
		return cr.reader, nil
	}

	opts := c.opts
	opts.TreeID = c.opts.TreeID
	reader, err := Open(c.fs, path, tableID, opts)
	if err != nil {
		return nil, err
	}

	cr := &cachedReader{tableID: tableID, reader: reader, refs: 1}
	c.entries[tableID] = cr
	c.addToFront(cr)
	c.size++
	c.evictIfNeeded()
	return reader, nil
}

// Release decrements tableID's reference count, allowing it to be evicted
// once no caller still holds it.
func (c *Cache) Release(tableID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cr, ok := c.entries[tableID]; ok && cr.refs > 0 {
		cr.refs--
	}
}

// Evict removes tableID from the cache immediately if unreferenced, closing
// its Reader. Used once a table id is no longer reachable from any live
// version (spec.md section 3).
func (c *Cache) Evict(tableID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cr, ok := c.entries[tableID]; ok && cr.refs == 0 {
		c.remove(cr)
	}
}

// Close closes every cached reader.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cr := range c.entries {
		_ = cr.reader.Close()
	}
	c.entries = make(map[uint64]*cachedReader)
	c.lruHead, c.lruTail = nil, nil
	c.size = 0
	return nil
}

// Size returns the number of readers currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) addToFront(cr *cachedReader) {
	cr.prev, cr.next = nil, c.lruHead
	if c.lruHead != nil {
		c.lruHead.prev = cr
	}
	c.lruHead = cr
	if c.lruTail == nil {
		c.lruTail = cr
	}
}

func (c *Cache) moveToFront(cr *cachedReader) {
	if cr == c.lruHead {
		return
	}
	if cr.prev != nil {
		cr.prev.next = cr.next
	}
	if cr.next != nil {
		cr.next.prev = cr.prev
	}
	if cr == c.lruTail {
		c.lruTail = cr.prev
	}
	cr.prev, cr.next = nil, c.lruHead
	if c.lruHead != nil {
		c.lruHead.prev = cr
	}
	c.lruHead = cr
}

func (c *Cache) remove(cr *cachedReader) {
	if cr.prev != nil {
		cr.prev.next = cr.next
	} else {
		c.lruHead = cr.next
	}
	if cr.next != nil {
		cr.next.prev = cr.prev
	} else {
		c.lruTail = cr.prev
	}
	delete(c.entries, cr.tableID)
	c.size--
	_ = cr.reader.Close()
}

func (c *Cache) evictIfNeeded() {
	for c.size > c.maxSize && c.lruTail != nil {
		if c.lruTail.refs > 0 {
			break
		}
		c.remove(c.lruTail)
	}
}
