package table

import (
	"sort"

	"github.com/aalhour/ridgekv/internal/block"
	"github.com/aalhour/ridgekv/internal/checksum"
	"github.com/aalhour/ridgekv/internal/codec"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/encoding"
	"github.com/aalhour/ridgekv/internal/filter"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/prefixext"
	"github.com/aalhour/ridgekv/internal/vfs"
)

// WriterOptions configures one table's construction (spec.md section 4.4).
type WriterOptions struct {
	// BlockSize is the target uncompressed size at which a data block is
	// flushed. Zero uses DefaultBlockSize.
	BlockSize int
	// RestartInterval is passed through to the data and index block
	// builders. Zero uses block.DefaultRestartInterval.
	RestartInterval int
	// IndexPartitionSize, if positive, builds a partitioned index
	// (spec.md section 4.2) cutting a new index partition once it grows
	// past this many bytes; the top-level index (TLI) is always pinned.
	// Zero builds a single full index block.
	IndexPartitionSize int
	// FilterPolicy builds a Bloom filter over every key added, or disables
	// filtering entirely if nil.
	FilterPolicy filter.Policy
	// FilterPartitionSize, if positive (and FilterPolicy is set), builds a
	// partitioned filter the same way IndexPartitionSize does for the
	// index. Zero builds one full filter.
	FilterPartitionSize int
	// PrefixExtractor restricts the filter to a derived prefix of each key
	// instead of the whole key. Nil hashes whole keys.
	PrefixExtractor prefixext.Extractor
	// Compression names the codec (internal/codec registry) applied to
	// data blocks. Empty means "none".
	Compression string
	// TableID is the identifier this table will be known by in the
	// manifest and table cache (spec.md section 6: "tables/<id>").
	TableID uint64
	// InitialLevel records which level this table is first installed at,
	// persisted in the properties block for diagnostics.
	InitialLevel int
}

// DefaultBlockSize is spec.md section 4.1's block size default.
const DefaultBlockSize = 4096

func (o WriterOptions) blockSize() int {
	if o.BlockSize <= 0 {
		return DefaultBlockSize
	}
	return o.BlockSize
}

func (o WriterOptions) restartInterval() int {
	if o.RestartInterval <= 0 {
		return block.DefaultRestartInterval
	}
	return o.RestartInterval
}

func (o WriterOptions) codec() codec.Codec {
	name := o.Compression
	if name == "" {
		name = "none"
	}
	return codec.MustByName(name)
}

// Writer streams internal-key records into a new table file in one forward
// pass, accumulating a data block, an index, an optional filter, and a
// properties block, finishing with the section table and fixed trailer
// (spec.md section 4.4). Records must arrive in ascending internal-key
// order; Writer trusts this and does not re-validate it.
type Writer struct {
	opts WriterOptions
	fs   vfs.FS
	path string
	file vfs.WritableFile

	offset          uint64
	lastBlock       uint64
	fileHasher      *checksum.StreamHasher
	dataBuilder     *block.Builder
	rangeDelBuilder *block.Builder
	index           indexWriter
	filterBuild     filterWriter

	numEntries        int
	numRangeTomb      int
	smallest, largest dbformat.InternalKey
	seqLo, seqHi      dbformat.SeqNo

	pendingKey []byte
	pendingSeq dbformat.SeqNo

	err error
}

// NewWriter creates path via fs and returns a Writer ready for Add calls.
func NewWriter(fs vfs.FS, path string, opts WriterOptions) (*Writer, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		opts:        opts,
		fs:          fs,
		path:        path,
		file:        f,
		lastBlock:       noPreviousBlock,
		fileHasher:      checksum.NewStreamHasher(),
		dataBuilder:     block.NewBuilder(opts.restartInterval()),
		rangeDelBuilder: block.NewBuilder(1),
	}
	if opts.IndexPartitionSize > 0 {
		w.index = newPartitionedIndexWriter(opts.restartInterval(), opts.IndexPartitionSize)
	} else {
		w.index = newFullIndexWriter(opts.restartInterval())
	}
	if opts.FilterPolicy != nil {
		if opts.FilterPartitionSize > 0 {
			w.filterBuild = filter.NewPartitionedBuilder(opts.FilterPolicy, opts.PrefixExtractor, opts.FilterPartitionSize)
		} else {
			w.filterBuild = filter.NewBuilder(opts.FilterPolicy, opts.PrefixExtractor)
		}
	}
	return w, nil
}

// filterWriter is implemented by both filter.Builder and
// filter.PartitionedBuilder.
type filterWriter interface {
	Add(userKey []byte)
	ExtractorName() string
}

// Add appends one internal-key record to the table. A size-triggered block
// cut is only taken at a user-key boundary (never between two versions of
// the same key): an index entry names one end key per data block, so
// splitting one key's versions across two blocks would strand the older
// versions where a point lookup's seekGE on that key could never reach
// them.
func (w *Writer) Add(userKey []byte, seq dbformat.SeqNo, vtype dbformat.ValueType, value []byte) {
	if w.err != nil {
		return
	}
	if w.numEntries > 0 && dbformat.UserCompare(userKey, w.pendingKey) != 0 && w.dataBuilder.EstimatedSize() >= w.opts.blockSize() {
		w.flushDataBlock()
	}

	if w.numEntries == 0 {
		w.smallest = dbformat.NewInternalKey(userKey, seq, vtype)
		w.seqLo, w.seqHi = seq, seq
	}
	w.largest = dbformat.NewInternalKey(userKey, seq, vtype)
	if seq < w.seqLo {
		w.seqLo = seq
	}
	if seq > w.seqHi {
		w.seqHi = seq
	}

	w.dataBuilder.Add(userKey, seq, vtype, value)
	if w.filterBuild != nil {
		w.filterBuild.Add(userKey)
	}
	w.pendingKey = append(w.pendingKey[:0], userKey...)
	w.pendingSeq = seq
	w.numEntries++
}

// AddRangeTombstone records a [start, end) deletion, written into the
// table's range-tombstone section alongside the data blocks (spec.md
// section 3, "Range tombstones are first-class data"). A table whose merge
// dropped every point record but still carries live range tombstones must
// report a key and seqno range wide enough for FindFile/OverlappingInputs
// to still route lookups to it, so AddRangeTombstone folds start/end and
// seq into the same bookkeeping Add uses when no point record has set it
// yet.
func (w *Writer) AddRangeTombstone(start, end []byte, seq dbformat.SeqNo) {
	if w.err != nil {
		return
	}
	if w.numEntries == 0 && w.numRangeTomb == 0 {
		w.smallest = dbformat.NewInternalKey(start, seq, dbformat.TypeValue)
		w.largest = dbformat.NewInternalKey(end, seq, dbformat.TypeValue)
		w.seqLo, w.seqHi = seq, seq
	} else {
		if dbformat.UserCompare(start, w.smallest.UserKey()) < 0 {
			w.smallest = dbformat.NewInternalKey(start, seq, dbformat.TypeValue)
		}
		if dbformat.UserCompare(end, w.largest.UserKey()) > 0 {
			w.largest = dbformat.NewInternalKey(end, seq, dbformat.TypeValue)
		}
		if seq < w.seqLo {
			w.seqLo = seq
		}
		if seq > w.seqHi {
			w.seqHi = seq
		}
	}
	w.numRangeTomb++
	w.rangeDelBuilder.Add(start, seq, dbformat.TypeValue, end)
}

// ApproximateSize returns the file's size so far, including the pending
// (not yet flushed) data block — the compaction executor polls this to
// decide when to roll to a new output table.
func (w *Writer) ApproximateSize() uint64 {
	return w.offset + uint64(w.dataBuilder.EstimatedSize())
}

func (w *Writer) flushDataBlock() {
	if w.dataBuilder.Empty() {
		return
	}
	raw := w.dataBuilder.Finish()
	handle, err := w.writeBlock(raw, true)
	w.dataBuilder.Reset()
	if err != nil {
		w.err = err
		return
	}
	w.index.addEntry(w.pendingKey, w.pendingSeq, handle)
}

// writeBlock writes block data (compressed if compress is true and doing so
// shrinks it) preceded by its blockHeader, updating the running whole-file
// hash and the previous-block-offset chain.
func (w *Writer) writeBlock(raw []byte, compress bool) (block.Handle, error) {
	payload := raw
	if compress {
		if c := w.opts.codec(); c.Name() != "none" {
			if out, err := c.Compress(raw); err == nil && len(out) < len(raw) {
				payload = out
			}
		}
	}

	hdr := blockHeader{
		Checksum:        checksum.Sum128(raw),
		CompressedLen:   uint32(len(payload)),
		UncompressedLen: uint32(len(raw)),
		PrevBlockOffset: w.lastBlock,
	}
	out := hdr.appendTo(make([]byte, 0, blockHeaderSize+len(payload)))
	out = append(out, payload...)

	if _, err := w.file.Write(out); err != nil {
		return block.Handle{}, err
	}
	w.fileHasher.Write(out)

	handle := block.Handle{Offset: w.offset, Size: uint64(len(out))}
	w.lastBlock = w.offset
	w.offset += uint64(len(out))
	return handle, nil
}

// Finish completes the table: flushes the last data block, serializes the
// index, filter, and properties, writes the section table and footer, and
// syncs the file. If no records and no range tombstones were ever added it
// deletes the file and returns ErrEmptyTable, the "nothing to do" case
// spec.md section 4.4 calls for. A table holding only range tombstones (a
// merge that dropped every point record but whose tombstones still cover
// live keys) is not empty and is written out normally.
func (w *Writer) Finish() (manifest.Info, error) {
	if w.err != nil {
		_ = w.file.Close()
		return manifest.Info{}, w.err
	}
	if w.numEntries == 0 && w.numRangeTomb == 0 {
		_ = w.file.Close()
		_ = w.fs.Remove(w.path)
		return manifest.Info{}, ErrEmptyTable
	}
	w.flushDataBlock()
	if w.err != nil {
		_ = w.file.Close()
		return manifest.Info{}, w.err
	}

	sections := map[string]block.Handle{}

	indexHandles, err := w.index.finish(w)
	if err != nil {
		_ = w.file.Close()
		return manifest.Info{}, err
	}
	for name, h := range indexHandles {
		sections[name] = h
	}

	if w.filterBuild != nil {
		filterHandles, err := w.writeFilterSections()
		if err != nil {
			_ = w.file.Close()
			return manifest.Info{}, err
		}
		for name, h := range filterHandles {
			sections[name] = h
		}
	}

	if !w.rangeDelBuilder.Empty() {
		h, err := w.writeBlock(w.rangeDelBuilder.Finish(), false)
		if err != nil {
			_ = w.file.Close()
			return manifest.Info{}, err
		}
		sections[sectionRangeTombstones] = h
	}

	props := w.buildProperties()
	propsHandle, err := w.writeBlock(props, false)
	if err != nil {
		_ = w.file.Close()
		return manifest.Info{}, err
	}
	sections[sectionMeta] = propsHandle

	sectionTableHandle, err := w.writeSectionTable(sections)
	if err != nil {
		_ = w.file.Close()
		return manifest.Info{}, err
	}

	footer := Footer{
		ChecksumType: checksumTypeXXH3,
		MetaOffset:   sectionTableHandle.Offset,
		FileSize:     w.offset + FooterSize,
	}
	footerBytes := footer.encode()
	if _, err := w.file.Write(footerBytes); err != nil {
		_ = w.file.Close()
		return manifest.Info{}, err
	}
	w.fileHasher.Write(footerBytes)
	w.offset += uint64(len(footerBytes))

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return manifest.Info{}, err
	}
	if err := w.file.Close(); err != nil {
		return manifest.Info{}, err
	}

	return manifest.Info{
		TableID:  w.opts.TableID,
		Size:     w.offset,
		Smallest: w.smallest,
		Largest:  w.largest,
		SeqLo:    w.seqLo,
		SeqHi:    w.seqHi,
		Checksum: w.fileHasher.Sum128(),
	}, nil
}

// writeFilterSections writes either a single filter block or a set of
// partitions plus a TLI, depending on which kind of builder was configured.
func (w *Writer) writeFilterSections() (map[string]block.Handle, error) {
	switch fb := w.filterBuild.(type) {
	case *filter.Builder:
		data := fb.Finish()
		h, err := w.writeBlock(data, false)
		if err != nil {
			return nil, err
		}
		return map[string]block.Handle{sectionFilter: h}, nil
	case *filter.PartitionedBuilder:
		parts := fb.Finish()
		tli := block.NewBuilder(1)
		for _, p := range parts {
			h, err := w.writeBlock(p.Data, false)
			if err != nil {
				return nil, err
			}
			tli.Add(p.LastKey, 0, dbformat.TypeValue, h.EncodeTo(nil))
		}
		tliHandle, err := w.writeBlock(tli.Finish(), false)
		if err != nil {
			return nil, err
		}
		return map[string]block.Handle{sectionFilterTLI: tliHandle}, nil
	default:
		return nil, nil
	}
}

// buildProperties serializes the sorted key/value properties block
// (spec.md section 4.4's Finish step): counts, key and sequence ranges,
// compression and filter configuration, the table id and initial level.
func (w *Writer) buildProperties() []byte {
	props := map[string]string{
		propItemCount:       formatUint(uint64(w.numEntries)),
		propSeqMin:          formatUint(uint64(w.seqLo)),
		propSeqMax:          formatUint(uint64(w.seqHi)),
		propKeyMin:          string(w.smallest.UserKey()),
		propKeyMax:          string(w.largest.UserKey()),
		propCompression:     w.opts.codec().Name(),
		propRestartInterval: formatUint(uint64(w.opts.restartInterval())),
		propTableVersion:    formatUint(uint64(FormatVersionCurrent)),
		propTableID:         formatUint(w.opts.TableID),
		propInitialLevel:    formatUint(uint64(w.opts.InitialLevel)),
		propRangeTombCount:  formatUint(uint64(w.numRangeTomb)),
	}
	if w.opts.FilterPolicy != nil {
		props[propFilterHashType] = "xxh3"
		if name := w.filterBuild.ExtractorName(); name != "" {
			props[propPrefixExtractor] = name
		}
	}

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	b := block.NewBuilder(1)
	for _, name := range names {
		b.Add([]byte(name), 0, dbformat.TypeValue, []byte(props[name]))
	}
	return b.Finish()
}

// writeSectionTable writes the small sorted key/value block that locates
// every other section by name (the "sfa container", spec.md section 6).
func (w *Writer) writeSectionTable(sections map[string]block.Handle) (block.Handle, error) {
	names := make([]string, 0, len(sections)+1)
	for name := range sections {
		names = append(names, name)
	}
	names = append(names, sectionTableVersion)
	sort.Strings(names)

	b := block.NewBuilder(1)
	for _, name := range names {
		if name == sectionTableVersion {
			b.Add([]byte(name), 0, dbformat.TypeValue, encoding.AppendVarint64(nil, FormatVersionCurrent))
			continue
		}
		b.Add([]byte(name), 0, dbformat.TypeValue, sections[name].EncodeTo(nil))
	}
	return w.writeBlock(b.Finish(), false)
}

func formatUint(v uint64) string {
	return string(encoding.AppendVarint64(nil, v))
}
