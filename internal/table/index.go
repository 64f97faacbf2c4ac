package table

import (
	"github.com/aalhour/ridgekv/internal/block"
	"github.com/aalhour/ridgekv/internal/cache"
	"github.com/aalhour/ridgekv/internal/dbformat"
)

// DefaultIndexPartitionSize is the target size of one index partition
// (spec.md section 4.2: "~4 KiB partitions" for a partitioned index).
const DefaultIndexPartitionSize = 4096

// indexWriter accumulates (end_key, max_seqno, handle) entries, one per
// data block, into either a single full index block or a partitioned index
// plus a top-level index (TLI). Both reuse block.Builder directly: an index
// entry's "value" is just an encoded block.Handle, exactly the shape
// block.Builder already knows how to store (spec.md section 4.2's index
// record is (end_key, max_seqno, offset, size), and block.Builder.Add
// already carries a seqno alongside each key).
type indexWriter interface {
	addEntry(lastKeyInBlock []byte, maxSeq dbformat.SeqNo, handle block.Handle)
	finish(w *Writer) (map[string]block.Handle, error)
}

type fullIndexWriter struct {
	b *block.Builder
}

func newFullIndexWriter(restartInterval int) *fullIndexWriter {
	return &fullIndexWriter{b: block.NewBuilder(restartInterval)}
}

func (f *fullIndexWriter) addEntry(lastKeyInBlock []byte, maxSeq dbformat.SeqNo, handle block.Handle) {
	f.b.Add(lastKeyInBlock, maxSeq, dbformat.TypeValue, handle.EncodeTo(nil))
}

func (f *fullIndexWriter) finish(w *Writer) (map[string]block.Handle, error) {
	if f.b.Empty() {
		return nil, nil
	}
	h, err := w.writeBlock(f.b.Finish(), false)
	if err != nil {
		return nil, err
	}
	return map[string]block.Handle{sectionIndex: h}, nil
}

type indexPartition struct {
	lastKey []byte
	data    []byte
}

type partitionedIndexWriter struct {
	restartInterval int
	targetSize      int

	cur          *block.Builder
	lastKeyInCur []byte
	partitions   []indexPartition
}

func newPartitionedIndexWriter(restartInterval, targetSize int) *partitionedIndexWriter {
	if targetSize <= 0 {
		targetSize = DefaultIndexPartitionSize
	}
	return &partitionedIndexWriter{
		restartInterval: restartInterval,
		targetSize:      targetSize,
		cur:             block.NewBuilder(restartInterval),
	}
}

func (p *partitionedIndexWriter) addEntry(lastKeyInBlock []byte, maxSeq dbformat.SeqNo, handle block.Handle) {
	p.cur.Add(lastKeyInBlock, maxSeq, dbformat.TypeValue, handle.EncodeTo(nil))
	p.lastKeyInCur = append(p.lastKeyInCur[:0], lastKeyInBlock...)
	if p.cur.EstimatedSize() >= p.targetSize {
		p.cutPartition()
	}
}

func (p *partitionedIndexWriter) cutPartition() {
	if p.cur.Empty() {
		return
	}
	p.partitions = append(p.partitions, indexPartition{
		lastKey: append([]byte(nil), p.lastKeyInCur...),
		data:    p.cur.Finish(),
	})
	p.cur = block.NewBuilder(p.restartInterval)
}

func (p *partitionedIndexWriter) finish(w *Writer) (map[string]block.Handle, error) {
	p.cutPartition()
	if len(p.partitions) == 0 {
		return nil, nil
	}
	tli := block.NewBuilder(1)
	for _, part := range p.partitions {
		h, err := w.writeBlock(part.data, false)
		if err != nil {
			return nil, err
		}
		tli.Add(part.lastKey, 0, dbformat.TypeValue, h.EncodeTo(nil))
	}
	tliHandle, err := w.writeBlock(tli.Finish(), false)
	if err != nil {
		return nil, err
	}
	return map[string]block.Handle{sectionTLI: tliHandle}, nil
}

// indexEntry is one (end_key, max_seqno, handle) index record, plus — for a
// partitioned index — the TLI key of the partition it came from, so the
// iterator can relocate that partition without retaining extra state.
type indexEntry struct {
	EndKey    []byte
	MaxSeq    dbformat.SeqNo
	Handle    block.Handle
	partition []byte
}

// tableIndex is the read-side interface both a full index block and a
// partitioned index (TLI + on-demand partitions) implement, so the table
// Iterator and Reader.Get don't need to know which kind a given table uses.
type tableIndex interface {
	seekGE(userKey []byte) (indexEntry, bool)
	first() (indexEntry, bool)
	last() (indexEntry, bool)
	entryAfter(e indexEntry) (indexEntry, bool)
	entryBefore(e indexEntry) (indexEntry, bool)
}

func entryFromIter(it *block.Iterator) indexEntry {
	handle, _, _ := block.DecodeHandle(it.Value())
	return indexEntry{
		EndKey: append([]byte(nil), it.Key()...),
		MaxSeq: it.Seq(),
		Handle: handle,
	}
}

// emptyIndex answers every index query with "no such entry". It backs a
// table whose merge dropped every point record but kept surviving range
// tombstones: there is no data block to index, but the table is not empty
// and must still open and iterate cleanly.
type emptyIndex struct{}

func (emptyIndex) seekGE(userKey []byte) (indexEntry, bool)     { return indexEntry{}, false }
func (emptyIndex) first() (indexEntry, bool)                    { return indexEntry{}, false }
func (emptyIndex) last() (indexEntry, bool)                     { return indexEntry{}, false }
func (emptyIndex) entryAfter(e indexEntry) (indexEntry, bool)   { return indexEntry{}, false }
func (emptyIndex) entryBefore(e indexEntry) (indexEntry, bool)  { return indexEntry{}, false }

// fullIndex answers index queries against a single in-memory index block,
// always pinned for the table's lifetime (spec.md section 4.2).
type fullIndex struct {
	r *block.Reader
}

func (f *fullIndex) seekGE(userKey []byte) (indexEntry, bool) {
	it := f.r.NewIterator()
	it.Seek(userKey)
	if !it.Valid() {
		return indexEntry{}, false
	}
	return entryFromIter(it), true
}

func (f *fullIndex) first() (indexEntry, bool) {
	it := f.r.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		return indexEntry{}, false
	}
	return entryFromIter(it), true
}

func (f *fullIndex) last() (indexEntry, bool) {
	it := f.r.NewIterator()
	it.SeekToLast()
	if !it.Valid() {
		return indexEntry{}, false
	}
	return entryFromIter(it), true
}

func (f *fullIndex) entryAfter(e indexEntry) (indexEntry, bool) {
	it := f.r.NewIterator()
	it.Seek(e.EndKey)
	if it.Valid() {
		it.Next()
	}
	if !it.Valid() {
		return indexEntry{}, false
	}
	return entryFromIter(it), true
}

func (f *fullIndex) entryBefore(e indexEntry) (indexEntry, bool) {
	it := f.r.NewIterator()
	it.Seek(e.EndKey)
	if it.Valid() {
		it.Prev()
	} else {
		it.SeekToLast()
	}
	if !it.Valid() {
		return indexEntry{}, false
	}
	return entryFromIter(it), true
}

// partitionedIndex answers index queries by routing through the pinned TLI
// to find the one partition that could hold the answer, then loading that
// partition through the table's block cache (spec.md section 4.2: "only the
// TLI is pinned; index blocks are demand-loaded").
type partitionedIndex struct {
	reader *Reader
	tli    *block.Reader
}

func (p *partitionedIndex) loadPartition(tliKey []byte, handle block.Handle) (*block.Iterator, func(), error) {
	br, release, err := p.reader.loadBlock(cache.TagIndex, handle, false)
	if err != nil {
		return nil, nil, err
	}
	return br.NewIterator(), release, nil
}

func (p *partitionedIndex) tliSeek(userKey []byte) (*block.Iterator, bool) {
	it := p.tli.NewIterator()
	it.Seek(userKey)
	return it, it.Valid()
}

func withPartition(e indexEntry, partitionKey []byte) indexEntry {
	e.partition = append([]byte(nil), partitionKey...)
	return e
}

func (p *partitionedIndex) seekGE(userKey []byte) (indexEntry, bool) {
	tliIt, ok := p.tliSeek(userKey)
	for ok {
		handle, _, err := block.DecodeHandle(tliIt.Value())
		if err != nil {
			return indexEntry{}, false
		}
		partKey := append([]byte(nil), tliIt.Key()...)
		partIt, release, err := p.loadPartition(partKey, handle)
		if err != nil {
			return indexEntry{}, false
		}
		partIt.Seek(userKey)
		if partIt.Valid() {
			e := withPartition(entryFromIter(partIt), partKey)
			release()
			return e, true
		}
		release()
		tliIt.Next()
		ok = tliIt.Valid()
	}
	return indexEntry{}, false
}

func (p *partitionedIndex) first() (indexEntry, bool) {
	tliIt := p.tli.NewIterator()
	tliIt.SeekToFirst()
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err := block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	partKey := append([]byte(nil), tliIt.Key()...)
	partIt, release, err := p.loadPartition(partKey, handle)
	if err != nil {
		return indexEntry{}, false
	}
	defer release()
	partIt.SeekToFirst()
	if !partIt.Valid() {
		return indexEntry{}, false
	}
	return withPartition(entryFromIter(partIt), partKey), true
}

func (p *partitionedIndex) last() (indexEntry, bool) {
	tliIt := p.tli.NewIterator()
	tliIt.SeekToLast()
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err := block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	partKey := append([]byte(nil), tliIt.Key()...)
	partIt, release, err := p.loadPartition(partKey, handle)
	if err != nil {
		return indexEntry{}, false
	}
	defer release()
	partIt.SeekToLast()
	if !partIt.Valid() {
		return indexEntry{}, false
	}
	return withPartition(entryFromIter(partIt), partKey), true
}

func (p *partitionedIndex) entryAfter(e indexEntry) (indexEntry, bool) {
	tliIt := p.tli.NewIterator()
	tliIt.Seek(e.partition)
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err := block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	partIt, release, err := p.loadPartition(e.partition, handle)
	if err != nil {
		return indexEntry{}, false
	}
	partIt.Seek(e.EndKey)
	if partIt.Valid() {
		partIt.Next()
	}
	if partIt.Valid() {
		result := withPartition(entryFromIter(partIt), e.partition)
		release()
		return result, true
	}
	release()

	tliIt.Next()
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err = block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	nextPartKey := append([]byte(nil), tliIt.Key()...)
	partIt, release, err = p.loadPartition(nextPartKey, handle)
	if err != nil {
		return indexEntry{}, false
	}
	defer release()
	partIt.SeekToFirst()
	if !partIt.Valid() {
		return indexEntry{}, false
	}
	return withPartition(entryFromIter(partIt), nextPartKey), true
}

func (p *partitionedIndex) entryBefore(e indexEntry) (indexEntry, bool) {
	tliIt := p.tli.NewIterator()
	tliIt.Seek(e.partition)
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err := block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	partIt, release, err := p.loadPartition(e.partition, handle)
	if err != nil {
		return indexEntry{}, false
	}
	partIt.Seek(e.EndKey)
	if partIt.Valid() {
		partIt.Prev()
	} else {
		partIt.SeekToLast()
	}
	if partIt.Valid() {
		result := withPartition(entryFromIter(partIt), e.partition)
		release()
		return result, true
	}
	release()

	tliIt.Seek(e.partition)
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	tliIt.Prev()
	if !tliIt.Valid() {
		return indexEntry{}, false
	}
	handle, _, err = block.DecodeHandle(tliIt.Value())
	if err != nil {
		return indexEntry{}, false
	}
	prevPartKey := append([]byte(nil), tliIt.Key()...)
	partIt, release, err = p.loadPartition(prevPartKey, handle)
	if err != nil {
		return indexEntry{}, false
	}
	defer release()
	partIt.SeekToLast()
	if !partIt.Valid() {
		return indexEntry{}, false
	}
	return withPartition(entryFromIter(partIt), prevPartKey), true
}
