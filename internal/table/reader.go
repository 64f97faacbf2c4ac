package table

import (
	"github.com/aalhour/ridgekv/internal/block"
	"github.com/aalhour/ridgekv/internal/cache"
	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/codec"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/filter"
	"github.com/aalhour/ridgekv/internal/prefixext"
	"github.com/aalhour/ridgekv/internal/vfs"
)

// ReaderOptions configures how a Reader opens and serves a table file
// (spec.md section 4.5).
type ReaderOptions struct {
	// Cache routes block reads through the shared block cache. Nil disables
	// caching; every read goes straight to the file.
	Cache *cache.Sharded
	// TreeID distinguishes this table's cache entries from another tree's
	// sharing the same cache (spec.md section 4.6).
	TreeID uint64
	// PrefixExtractor is the extractor currently configured for reads; it
	// is compared against the extractor the table's filter was built with,
	// and the filter is bypassed (not misapplied) on a mismatch.
	PrefixExtractor prefixext.Extractor
	// VerifyChecksums, if true, checks a block's xxh3-128 checksum against
	// its header every time the block is read, including the blocks read at
	// open. If false, block checksums are not checked.
	VerifyChecksums bool
}

// Reader serves point lookups, range scans, and forward compaction scans
// against one table file (spec.md section 4.5).
type Reader struct {
	fs   vfs.FS
	path string
	raf  vfs.RandomAccessFile

	tableID uint64
	treeID  uint64
	cmp     func(a, b []byte) int
	cache   *cache.Sharded
	codec   codec.Codec
	verify  bool

	props Properties
	index tableIndex

	filterFull *filter.Reader
	filterPart *filter.PartitionedReader

	rangeTombstones []RangeTombstone
}

// RangeTombstone is one [Start, End) deletion recorded in a table's range
// tombstone section.
type RangeTombstone struct {
	Start, End []byte
	Seq        dbformat.SeqNo
}

// Open opens an existing table file for reading.
func Open(fs vfs.FS, path string, tableID uint64, opts ReaderOptions) (*Reader, error) {
	raf, err := fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		fs: fs, path: path, raf: raf,
		tableID: tableID, treeID: opts.TreeID,
		cmp: dbformat.UserCompare, cache: opts.Cache, verify: opts.VerifyChecksums,
	}

	size := raf.Size()
	if size < FooterSize {
		_ = raf.Close()
		return nil, ErrCorrupt
	}
	footerBuf := make([]byte, FooterSize)
	if _, err := raf.ReadAt(footerBuf, size-FooterSize); err != nil {
		_ = raf.Close()
		return nil, err
	}
	footer, err := decodeFooter(footerBuf)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}
	if footer.FileSize != uint64(size) {
		_ = raf.Close()
		return nil, ErrCorrupt
	}

	none := codec.MustByName("none")
	sectionData, err := readBlockAt(raf, footer.MetaOffset, none, r.verify)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}
	sections, err := decodeSectionTable(sectionData)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}

	metaHandle, ok := sections[sectionMeta]
	if !ok {
		_ = raf.Close()
		return nil, ErrCorrupt
	}
	metaData, err := readBlockAt(raf, metaHandle.Offset, none, r.verify)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}
	props, err := parseProperties(metaData)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}
	if props.TableVersion > FormatVersionCurrent {
		_ = raf.Close()
		return nil, ErrInvalidVersion
	}
	r.props = props
	r.codec = codec.MustByName(orDefault(props.Compression, "none"))

	if err := r.openIndex(sections, none); err != nil {
		_ = raf.Close()
		return nil, err
	}
	if err := r.openFilter(sections, none, opts.PrefixExtractor); err != nil {
		_ = raf.Close()
		return nil, err
	}
	if h, ok := sections[sectionRangeTombstones]; ok {
		data, err := readBlockAt(raf, h.Offset, none, r.verify)
		if err != nil {
			_ = raf.Close()
			return nil, err
		}
		if r.rangeTombstones, err = decodeRangeTombstones(data); err != nil {
			_ = raf.Close()
			return nil, err
		}
	}

	return r, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (r *Reader) openIndex(sections map[string]block.Handle, none codec.Codec) error {
	if h, ok := sections[sectionIndex]; ok {
		data, err := readBlockAt(r.raf, h.Offset, none, r.verify)
		if err != nil {
			return err
		}
		br, err := block.NewReader(data, r.cmp)
		if err != nil {
			return err
		}
		r.index = &fullIndex{r: br}
		return nil
	}
	if h, ok := sections[sectionTLI]; ok {
		data, err := readBlockAt(r.raf, h.Offset, none, r.verify)
		if err != nil {
			return err
		}
		tli, err := block.NewReader(data, r.cmp)
		if err != nil {
			return err
		}
		r.index = &partitionedIndex{reader: r, tli: tli}
		return nil
	}
	if r.props.ItemCount == 0 {
		// A merge can produce a table with surviving range tombstones but no
		// point records; there is nothing to build an index over.
		r.index = emptyIndex{}
		return nil
	}
	return ErrCorrupt
}

func (r *Reader) openFilter(sections map[string]block.Handle, none codec.Codec, extractor prefixext.Extractor) error {
	if h, ok := sections[sectionFilter]; ok {
		data, err := readBlockAt(r.raf, h.Offset, none, r.verify)
		if err != nil {
			return err
		}
		r.filterFull = filter.NewReader(data, r.props.PrefixExtractorName, extractor)
		return nil
	}
	if h, ok := sections[sectionFilterTLI]; ok {
		data, err := readBlockAt(r.raf, h.Offset, none, r.verify)
		if err != nil {
			return err
		}
		tli, err := block.NewReader(data, r.cmp)
		if err != nil {
			return err
		}
		it := tli.NewIterator()
		var parts []filter.Partition
		for it.SeekToFirst(); it.Valid(); it.Next() {
			handle, _, err := block.DecodeHandle(it.Value())
			if err != nil {
				return err
			}
			partData, err := readBlockAt(r.raf, handle.Offset, none, r.verify)
			if err != nil {
				return err
			}
			parts = append(parts, filter.Partition{LastKey: append([]byte(nil), it.Key()...), Data: partData})
		}
		if it.Err() != nil {
			return it.Err()
		}
		r.filterPart = filter.NewPartitionedReader(r.cmp, r.props.PrefixExtractorName, extractor, parts)
	}
	return nil
}

func decodeSectionTable(data []byte) (map[string]block.Handle, error) {
	br, err := block.NewReader(data, dbformat.UserCompare)
	if err != nil {
		return nil, err
	}
	it := br.NewIterator()
	sections := map[string]block.Handle{}
	for it.SeekToFirst(); it.Valid(); it.Next() {
		name := string(it.Key())
		if name == sectionTableVersion {
			continue
		}
		h, _, err := block.DecodeHandle(it.Value())
		if err != nil {
			return nil, err
		}
		sections[name] = h
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return sections, nil
}

func decodeRangeTombstones(data []byte) ([]RangeTombstone, error) {
	br, err := block.NewReader(data, dbformat.UserCompare)
	if err != nil {
		return nil, err
	}
	it := br.NewIterator()
	var out []RangeTombstone
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, RangeTombstone{
			Start: append([]byte(nil), it.Key()...),
			End:   append([]byte(nil), it.Value()...),
			Seq:   it.Seq(),
		})
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	return out, nil
}

// readBlockAt reads and, if necessary, decompresses the block located at
// offset, verifying its checksum when verify is true.
func readBlockAt(raf vfs.RandomAccessFile, offset uint64, c codec.Codec, verify bool) ([]byte, error) {
	hdrBuf := make([]byte, blockHeaderSize)
	if _, err := raf.ReadAt(hdrBuf, int64(offset)); err != nil {
		return nil, err
	}
	hdr, err := decodeBlockHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, hdr.CompressedLen)
	if _, err := raf.ReadAt(payload, int64(offset)+int64(blockHeaderSize)); err != nil {
		return nil, err
	}
	raw := payload
	if hdr.CompressedLen != hdr.UncompressedLen {
		raw, err = c.Decompress(payload, int(hdr.UncompressedLen))
		if err != nil {
			return nil, err
		}
	}
	if verify && !checksum.Sum128(raw).Equal(hdr.Checksum) {
		return nil, checksumMismatchError(offset)
	}
	return raw, nil
}

// Properties returns the table's parsed properties block.
func (r *Reader) Properties() Properties { return r.props }

// KeyRange returns the table's smallest and largest user keys.
func (r *Reader) KeyRange() (min, max []byte) { return r.props.KeyMin, r.props.KeyMax }

// RangeTombstones returns every range tombstone recorded in this table.
func (r *Reader) RangeTombstones() []RangeTombstone { return r.rangeTombstones }

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.raf.Close() }

// mayContain consults the configured filter, if any and compatible,
// failing open (true) when no filter applies.
func (r *Reader) mayContain(userKey []byte) bool {
	switch {
	case r.filterFull != nil:
		if !r.filterFull.Compatible() {
			return true
		}
		return r.filterFull.MayContain(userKey)
	case r.filterPart != nil:
		if !r.filterPart.Compatible() {
			return true
		}
		return r.filterPart.MayContain(userKey)
	default:
		return true
	}
}

// Get looks up userKey, returning the newest record visible at readSeq
// (spec.md section 4.5). found is false if no visible record exists in
// this table.
func (r *Reader) Get(userKey []byte, readSeq dbformat.SeqNo) (value []byte, vtype dbformat.ValueType, found bool, err error) {
	if r.cmp(userKey, r.props.KeyMin) < 0 || r.cmp(userKey, r.props.KeyMax) > 0 {
		return nil, 0, false, nil
	}
	if !r.mayContain(userKey) {
		return nil, 0, false, nil
	}
	entry, ok := r.index.seekGE(userKey)
	if !ok {
		return nil, 0, false, nil
	}
	blk, release, err := r.loadDataBlock(entry.Handle, false)
	if err != nil {
		return nil, 0, false, err
	}
	defer release()
	return blk.Get(userKey, readSeq)
}

// loadDataBlock returns a block.Reader over the data block at handle,
// routed through the shared cache unless bypassCache is set (the
// compaction scan path, spec.md section 4.5's "may bypass cache").
func (r *Reader) loadDataBlock(handle block.Handle, bypassCache bool) (*block.Reader, func(), error) {
	return r.loadBlock(cache.TagData, handle, bypassCache)
}

func (r *Reader) loadBlock(tag cache.Tag, handle block.Handle, bypassCache bool) (*block.Reader, func(), error) {
	key := cache.Key{Tag: tag, TreeID: r.treeID, TableID: r.tableID, BlockOffset: handle.Offset}
	if r.cache != nil && !bypassCache {
		if h := r.cache.Lookup(key); h != nil {
			br, err := block.NewReader(h.Value(), r.cmp)
			if err != nil {
				r.cache.Release(h)
				return nil, nil, err
			}
			return br, func() { r.cache.Release(h) }, nil
		}
	}
	raw, err := readBlockAt(r.raf, handle.Offset, r.codec, r.verify)
	if err != nil {
		return nil, nil, err
	}
	br, err := block.NewReader(raw, r.cmp)
	if err != nil {
		return nil, nil, err
	}
	if r.cache != nil && !bypassCache {
		h := r.cache.Insert(key, raw, uint64(blockHeaderSize)+uint64(len(raw)))
		return br, func() { r.cache.Release(h) }, nil
	}
	return br, func() {}, nil
}
