package ridgekv

import (
	"fmt"

	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/filter"
	"github.com/aalhour/ridgekv/internal/logging"
	"github.com/aalhour/ridgekv/internal/prefixext"
	"github.com/aalhour/ridgekv/internal/vfs"
)

// SeqnoSource hands out strictly increasing sequence numbers. It is an
// optional convenience: every write still takes an explicit seqno, since
// the caller is the one responsible for assigning them in a consistent
// order across an embedder's own transaction or batch boundaries. A
// SeqnoSource only saves a caller who has no such boundary of its own from
// hand-rolling a counter.
type SeqnoSource interface {
	Next() dbformat.SeqNo
}

// LevelCount is the fixed number of levels every tree has. It matches
// internal/manifest.NumLevels and is not configurable: the manifest wire
// format hard-codes the level count into its layout.
const LevelCount = 7

// Options configures a Tree at Open. Open fills zero-valued fields from
// DefaultOptions (see withDefaults), so the zero value opens a tree with no
// filter and no block cache, the two fields whose zero value is kept.
type Options struct {
	// FS is the filesystem a tree's directory lives on. Defaults to
	// vfs.Default(), the real OS filesystem.
	FS vfs.FS
	// Logger receives diagnostic output from flushes, compactions, and
	// manifest swaps. A nil Logger is replaced by a Warn-level
	// logging.DefaultLogger (logging.OrDefault).
	Logger logging.Logger
	// SeqnoSource, if set, lets Tree.NextSeqNo hand out sequence numbers on
	// the caller's behalf. Optional.
	SeqnoSource SeqnoSource

	// DataBlockSize is the target uncompressed size of a data block before
	// it is flushed to the table file.
	DataBlockSize int
	// DataBlockRestartInterval is the number of keys between restart
	// points in a data block's prefix-compressed key stream. The same
	// interval is reused for index blocks, which share the same builder.
	DataBlockRestartInterval int
	// MetaPartitionSize is the byte threshold at which a table's index and
	// filter sections are split into partitions instead of one full block.
	// Zero builds unpartitioned index and filter blocks.
	MetaPartitionSize int

	// DataCompression names the codec (internal/codec registry) applied to
	// data blocks: "none", "snappy", "lz4", or "zstd". Index, filter, and
	// properties sections are always stored uncompressed, since they're
	// already far smaller than the data they describe.
	DataCompression string

	// FilterPolicy builds a per-table filter over inserted keys. Nil
	// disables filtering.
	FilterPolicy filter.Policy
	// FilterBlockPartitioning, if true, partitions the filter the same way
	// MetaPartitionSize partitions the index.
	FilterBlockPartitioning bool
	// PrefixExtractor restricts filters (and SeekForPrefix-style scans) to
	// a derived prefix of each key. Nil uses the whole key.
	PrefixExtractor prefixext.Extractor

	// L0Threshold is the number of L0 tables at which L0 scores 1.0, the
	// score at which the picker compacts a level. The score keeps growing
	// with further L0 tables.
	L0Threshold int
	// LevelRatio is each level's target size multiplier over the level
	// below it, L1's own target being TargetTableSize * L0Threshold. A
	// single float rather than a per-level vector: every level past L1
	// scales uniformly, which covers the overwhelming majority of leveled
	// configurations and keeps Options flat.
	LevelRatio float64
	// TargetTableSize bounds a compaction output table's size, and
	// doubles as the unit L1's target size is computed from.
	TargetTableSize uint64

	// MemtableByteLimit is the approximate size at which the active
	// memtable is sealed and flushed.
	MemtableByteLimit int64
	// BlockCacheCapacityBytes bounds the shared block cache's total
	// weight across all shards. Zero disables block caching.
	BlockCacheCapacityBytes uint64
	// MaxOpenTables bounds the number of idle table file handles kept
	// open by the table cache.
	MaxOpenTables int

	// VerifyChecksumsOnRead, if true, verifies a block's checksum every
	// time the block is read, including the blocks read when a table is
	// opened. If false, block checksums are not checked on reads.
	VerifyChecksumsOnRead bool

	// GCWatermark, if set, returns the lowest sequence number any live
	// reader might still need — records at or above it are never dropped
	// by a compaction, and weak tombstones or shadowed values below it are
	// eligible for removal. A nil GCWatermark means no seqno is ever
	// considered safe to collect, the conservative default for an
	// embedder that hasn't wired up its own snapshot tracking.
	GCWatermark func() dbformat.SeqNo
}

// DefaultOptions returns an Options populated with the engine's defaults: a
// 4KiB data block, snappy compression, a 10-bits-per-key Bloom filter, 7
// levels with a 10x size ratio, a 64MiB memtable budget, and a 64MiB block
// cache. Open uses these values for zero-valued fields, except that a nil
// FilterPolicy and a zero BlockCacheCapacityBytes are kept as given.
func DefaultOptions() Options {
	return Options{
		FS:                        vfs.Default(),
		DataBlockSize:             4096,
		DataBlockRestartInterval:  16,
		DataCompression:           "snappy",
		FilterPolicy:              filter.BitsPerKey(10),
		L0Threshold:               4,
		LevelRatio:                10,
		TargetTableSize:           64 << 20,
		MemtableByteLimit:         64 << 20,
		BlockCacheCapacityBytes:   64 << 20,
		MaxOpenTables:             500,
	}
}

// Validate reports whether o can be used to Open a tree.
func (o Options) Validate() error {
	if o.L0Threshold <= 0 {
		return fmt.Errorf("ridgekv: L0Threshold must be positive, got %d", o.L0Threshold)
	}
	if o.LevelRatio <= 1 {
		return fmt.Errorf("ridgekv: LevelRatio must be greater than 1, got %v", o.LevelRatio)
	}
	if o.TargetTableSize == 0 {
		return fmt.Errorf("ridgekv: TargetTableSize must be positive")
	}
	if o.MemtableByteLimit <= 0 {
		return fmt.Errorf("ridgekv: MemtableByteLimit must be positive")
	}
	return nil
}

// withDefaults fills zero-valued fields from DefaultOptions, leaving every
// explicitly set field untouched. FilterPolicy and BlockCacheCapacityBytes
// are not filled: nil and zero disable filtering and block caching.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FS == nil {
		o.FS = d.FS
	}
	if o.DataBlockSize <= 0 {
		o.DataBlockSize = d.DataBlockSize
	}
	if o.DataBlockRestartInterval <= 0 {
		o.DataBlockRestartInterval = d.DataBlockRestartInterval
	}
	if o.DataCompression == "" {
		o.DataCompression = d.DataCompression
	}
	if o.L0Threshold <= 0 {
		o.L0Threshold = d.L0Threshold
	}
	if o.LevelRatio <= 0 {
		o.LevelRatio = d.LevelRatio
	}
	if o.TargetTableSize == 0 {
		o.TargetTableSize = d.TargetTableSize
	}
	if o.MemtableByteLimit <= 0 {
		o.MemtableByteLimit = d.MemtableByteLimit
	}
	if o.MaxOpenTables <= 0 {
		o.MaxOpenTables = d.MaxOpenTables
	}
	return o
}
