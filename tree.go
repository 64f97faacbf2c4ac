package ridgekv

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/aalhour/ridgekv/internal/cache"
	"github.com/aalhour/ridgekv/internal/compaction"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/logging"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/memtable"
	"github.com/aalhour/ridgekv/internal/pathnames"
	"github.com/aalhour/ridgekv/internal/table"
	"github.com/aalhour/ridgekv/internal/version"
	"github.com/aalhour/ridgekv/internal/vfs"
)

// Tree is an open LSM-tree rooted at a directory: an active memtable, any
// number of sealed-but-unflushed memtables awaiting a flush, and a
// leveled set of table files tracked by a manifest.
type Tree struct {
	dir  string
	opts Options
	fs   vfs.FS
	cmp  *dbformat.Comparator
	log  logging.Logger

	lock io.Closer

	mfile      *manifest.File
	vset       *version.VersionSet
	tableCache *table.Cache
	blockCache *cache.Sharded
	picker     *compaction.LeveledPicker

	mu     sync.RWMutex
	active *memtable.MemTable
	sealed []*memtable.MemTable

	seqCounter atomic.Uint64
	closed     atomic.Bool
	poisoned   atomic.Bool
}

// Open opens the tree rooted at dir, creating it if it does not already
// exist. Open fails if another Tree already holds dir's lock.
func Open(dir string, opts Options) (*Tree, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	fs := opts.FS
	logger := logging.OrDefault(opts.Logger)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, newIoError(dir, err)
	}
	tablesDir := pathnames.TablesDir(dir)
	if err := fs.MkdirAll(tablesDir, 0o755); err != nil {
		return nil, newIoError(tablesDir, err)
	}

	lock, err := fs.Lock(pathnames.LockPath(dir))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAlreadyLocked, dir, err)
	}

	mfile, err := manifest.Open(fs, dir)
	if err != nil {
		_ = lock.Close()
		return nil, newUnrecoverableError(dir, err)
	}

	cmp := dbformat.DefaultComparator
	vset := version.New(mfile, cmp.UserCmp)

	var blockCache *cache.Sharded
	if opts.BlockCacheCapacityBytes > 0 {
		blockCache = cache.New(opts.BlockCacheCapacityBytes, 0)
	}

	tableCache := table.NewCache(fs, table.CacheOptions{
		MaxOpenTables: opts.MaxOpenTables,
		Reader: table.ReaderOptions{
			Cache:           blockCache,
			PrefixExtractor: opts.PrefixExtractor,
			VerifyChecksums: opts.VerifyChecksumsOnRead,
		},
	})

	t := &Tree{
		dir: dir, opts: opts, fs: fs, cmp: cmp, log: logger,
		lock: lock, mfile: mfile, vset: vset,
		tableCache: tableCache, blockCache: blockCache,
		picker: compaction.NewLeveledPicker(opts.L0Threshold, opts.TargetTableSize, opts.LevelRatio),
		active: memtable.New(cmp),
	}
	t.seqCounter.Store(uint64(vset.LastSeqNo()))

	// A DefaultLogger's FatalHandler is the tree's one hook for an
	// unrecoverable condition raised deep in a background operation (flush,
	// compaction) to flip the tree into a poisoned state without the
	// library calling os.Exit itself.
	if dl, ok := logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(string) { t.poisoned.Store(true) })
	}
	return t, nil
}

// fatal marks the tree poisoned and logs msg at FATAL level. Call sites are
// conditions spec.md section 7 calls unrecoverable: a manifest install that
// fails durably, or a checksum mismatch surfacing from a background flush
// or compaction rather than a synchronous caller-driven Get.
func (t *Tree) fatal(format string, args ...any) {
	t.poisoned.Store(true)
	t.log.Fatalf(format, args...)
}

// errIfPoisoned returns ErrUnrecoverable if a prior background failure has
// poisoned the tree. A poisoned tree keeps serving reads but refuses every
// write, since its on-disk state may no longer match what Open recovered.
func (t *Tree) errIfPoisoned() error {
	if t.poisoned.Load() {
		return fmt.Errorf("%w: tree is poisoned by a prior fatal error", ErrUnrecoverable)
	}
	return nil
}

// Close releases the tree's file handles and its directory lock. Close
// does not flush the active memtable; flushing is always explicit
// (FlushActiveMemtable), matching the rest of the engine's write path.
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	closeErr := t.tableCache.Close()
	lockErr := t.lock.Close()
	if closeErr != nil {
		return closeErr
	}
	return lockErr
}

// NextSeqNo returns the next sequence number a caller without a sequence
// number authority of its own can use. It delegates to Options.SeqnoSource
// if one was configured, otherwise hands out a number one past the
// highest seqno observed in the tree at Open, monotonically increasing
// from there for the life of this Tree.
func (t *Tree) NextSeqNo() dbformat.SeqNo {
	if t.opts.SeqnoSource != nil {
		return t.opts.SeqnoSource.Next()
	}
	return dbformat.SeqNo(t.seqCounter.Add(1))
}

// Insert writes value for key, visible to any read at a seqno > seq. seq
// must be strictly greater than every seqno previously used for key.
func (t *Tree) Insert(key, value []byte, seq dbformat.SeqNo) error {
	return t.write(key, seq, dbformat.TypeValue, value)
}

// Remove writes a tombstone for key: any read at a seqno > seq sees key
// as absent, regardless of what compaction later does with the record.
func (t *Tree) Remove(key []byte, seq dbformat.SeqNo) error {
	return t.write(key, seq, dbformat.TypeTombstone, nil)
}

// RemoveWeak writes a weak tombstone for key. Unlike Remove, a weak
// tombstone only suppresses the single preceding Value for key, and only
// during compaction garbage collection below a tree's GC watermark; a
// weak tombstone visible above the watermark still hides key from reads,
// but once it crosses the watermark it and at most one shadowed value are
// both dropped together rather than retained indefinitely.
func (t *Tree) RemoveWeak(key []byte, seq dbformat.SeqNo) error {
	return t.write(key, seq, dbformat.TypeWeakTombstone, nil)
}

// RemoveRange records a tombstone covering every key in [start, end) as of
// seq, without enumerating them. A range tombstone is visible to reads and
// range scans immediately; the keys it shadows are only actually removed
// from disk once a compaction below the GC watermark processes them.
func (t *Tree) RemoveRange(start, end []byte, seq dbformat.SeqNo) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.errIfPoisoned(); err != nil {
		return err
	}
	t.mu.Lock()
	t.active.PutRangeTombstone(start, end, seq)
	full := t.active.ApproximateSize() >= t.opts.MemtableByteLimit
	t.mu.Unlock()
	if full {
		return t.FlushActiveMemtable()
	}
	return nil
}

func (t *Tree) write(key []byte, seq dbformat.SeqNo, vtype dbformat.ValueType, value []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := t.errIfPoisoned(); err != nil {
		return err
	}
	if len(key) > dbformat.MaxUserKeyLen {
		return fmt.Errorf("ridgekv: key length %d exceeds MaxUserKeyLen", len(key))
	}
	if len(value) > dbformat.MaxUserValueLen {
		return fmt.Errorf("ridgekv: value length %d exceeds MaxUserValueLen", len(value))
	}

	t.mu.Lock()
	t.active.Put(key, seq, vtype, value)
	full := t.active.ApproximateSize() >= t.opts.MemtableByteLimit
	t.mu.Unlock()

	if full {
		return t.FlushActiveMemtable()
	}
	return nil
}

// Get returns the value visible for key at readSeq: the newest record with
// seq < readSeq across every memtable and table, skipping anything a later
// tombstone or range tombstone shadows. Visibility is strict — a record
// written with seq == readSeq is not yet visible to a read at readSeq, only
// to a read at readSeq+1 or later. It returns ErrNotFound if no such record
// exists.
func (t *Tree) Get(key []byte, readSeq dbformat.SeqNo) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	t.mu.RLock()
	memtables := t.memtablesNewestFirstLocked()
	t.mu.RUnlock()

	for _, m := range memtables {
		if val, vtype, found := m.Get(key, readSeq); found {
			return resolveValue(vtype, val)
		}
		if m.RangeTombstones().QuerySuppression(key, 0, readSeq) {
			return nil, ErrNotFound
		}
	}

	v := t.vset.Current()
	v.Ref()
	defer v.Unref()

	l0 := v.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		val, vtype, found, suppressed, err := t.getFromTable(l0[i], key, readSeq)
		if err != nil {
			return nil, err
		}
		if found {
			return resolveValue(vtype, val)
		}
		if suppressed {
			return nil, ErrNotFound
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		info, ok := v.FindFile(level, key, t.cmp.UserCmp)
		if !ok {
			continue
		}
		val, vtype, found, suppressed, err := t.getFromTable(info, key, readSeq)
		if err != nil {
			return nil, err
		}
		if found {
			return resolveValue(vtype, val)
		}
		if suppressed {
			return nil, ErrNotFound
		}
	}
	return nil, ErrNotFound
}

// ContainsKey reports whether key is visible at readSeq, without paying
// for the value copy Get would make.
func (t *Tree) ContainsKey(key []byte, readSeq dbformat.SeqNo) (bool, error) {
	_, err := t.Get(key, readSeq)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (t *Tree) memtablesNewestFirstLocked() []*memtable.MemTable {
	out := make([]*memtable.MemTable, 0, len(t.sealed)+1)
	out = append(out, t.active)
	for i := len(t.sealed) - 1; i >= 0; i-- {
		out = append(out, t.sealed[i])
	}
	return out
}

func resolveValue(vtype dbformat.ValueType, val []byte) ([]byte, error) {
	if vtype == dbformat.TypeIndirection {
		return nil, fmt.Errorf("%w: resolving an indirection record requires an external blob store collaborator", ErrBlobStoreError)
	}
	if !vtype.HasPayload() {
		return nil, ErrNotFound
	}
	return val, nil
}

func (t *Tree) getFromTable(info manifest.Info, key []byte, readSeq dbformat.SeqNo) (val []byte, vtype dbformat.ValueType, found, suppressed bool, err error) {
	path := table.TablePath(pathnames.TablesDir(t.dir), info.TableID)
	r, err := t.tableCache.Get(info.TableID, path)
	if err != nil {
		return nil, 0, false, false, newIoError(path, err)
	}
	defer t.tableCache.Release(info.TableID)

	val, vtype, found, err = r.Get(key, readSeq)
	if err != nil {
		if errors.Is(err, table.ErrChecksumMismatch) {
			return nil, 0, false, false, newChecksumError(path, info.TableID, 0)
		}
		return nil, 0, false, false, fmt.Errorf("%w: table %d: %v", ErrDecodeFailure, info.TableID, err)
	}
	if found {
		return val, vtype, true, false, nil
	}
	if tableRangeTombstonesSuppress(r.RangeTombstones(), key, readSeq) {
		return nil, 0, false, true, nil
	}
	return nil, 0, false, false, nil
}

func tableRangeTombstonesSuppress(tombs []table.RangeTombstone, key []byte, readSeq dbformat.SeqNo) bool {
	for _, rt := range tombs {
		if rt.Seq < readSeq && dbformat.UserCompare(rt.Start, key) <= 0 && dbformat.UserCompare(key, rt.End) < 0 {
			return true
		}
	}
	return false
}

func (t *Tree) writerOptions(tableID uint64, level int) table.WriterOptions {
	filterPartitionSize := 0
	if t.opts.FilterBlockPartitioning {
		filterPartitionSize = t.opts.MetaPartitionSize
	}
	return table.WriterOptions{
		BlockSize:           t.opts.DataBlockSize,
		RestartInterval:     t.opts.DataBlockRestartInterval,
		IndexPartitionSize:  t.opts.MetaPartitionSize,
		FilterPolicy:        t.opts.FilterPolicy,
		FilterPartitionSize: filterPartitionSize,
		PrefixExtractor:     t.opts.PrefixExtractor,
		Compression:         t.opts.DataCompression,
		TableID:             tableID,
		InitialLevel:        level,
	}
}
