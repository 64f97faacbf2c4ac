package filter

import (
	"sort"

	"github.com/aalhour/ridgekv/internal/prefixext"
)

// DefaultPartitionSize is the target size of one filter partition
// (spec.md section 4.3: "~4 KiB filter partitions").
const DefaultPartitionSize = 4096

// Partition is one finished filter partition plus the last key written to
// it, the entry the filter top-level index (TLI) records for routing
// point queries to exactly one partition.
type Partition struct {
	LastKey []byte
	Data    []byte
}

// PartitionedBuilder splits a table's keys across multiple Bloom filter
// partitions, cutting a new partition once the current one's estimated
// size reaches targetPartitionSize.
type PartitionedBuilder struct {
	policy        Policy
	extractor     prefixext.Extractor
	extractorName string
	targetSize    int

	cur          *Builder
	lastKeyInCur []byte
	partitions   []Partition
}

// NewPartitionedBuilder returns a PartitionedBuilder. A non-positive
// targetPartitionSize is replaced with DefaultPartitionSize.
func NewPartitionedBuilder(policy Policy, extractor prefixext.Extractor, targetPartitionSize int) *PartitionedBuilder {
	if targetPartitionSize <= 0 {
		targetPartitionSize = DefaultPartitionSize
	}
	name := ""
	if extractor != nil {
		name = extractor.Name()
	}
	return &PartitionedBuilder{
		policy:        policy,
		extractor:     extractor,
		extractorName: name,
		targetSize:    targetPartitionSize,
		cur:           NewBuilder(policy, extractor),
	}
}

// Add adds userKey to the current partition, cutting it if it has grown
// past the target size. Keys must arrive in ascending key order so that
// each partition's recorded last key is a true upper bound.
func (p *PartitionedBuilder) Add(userKey []byte) {
	p.cur.Add(userKey)
	p.lastKeyInCur = append(p.lastKeyInCur[:0], userKey...)
	if p.cur.EstimatedSize() >= p.targetSize {
		p.cutPartition()
	}
}

func (p *PartitionedBuilder) cutPartition() {
	if p.cur.NumKeys() == 0 {
		return
	}
	p.partitions = append(p.partitions, Partition{
		LastKey: append([]byte(nil), p.lastKeyInCur...),
		Data:    p.cur.Finish(),
	})
	p.cur = NewBuilder(p.policy, p.extractor)
}

// ExtractorName returns the name of the prefix extractor used to build
// every partition, for the table's `prefix_extractor_name?` meta entry.
func (p *PartitionedBuilder) ExtractorName() string { return p.extractorName }

// Finish flushes any partial partition and returns the complete partition
// list (the TLI plus each partition's filter bytes).
func (p *PartitionedBuilder) Finish() []Partition {
	p.cutPartition()
	return p.partitions
}

// partitionReader pairs one partition's last key with its parsed filter,
// for PartitionedReader's binary search.
type partitionReader struct {
	lastKey []byte
	reader  *Reader
}

// PartitionedReader answers MayContain queries by locating the single
// partition whose key range could contain the needle and consulting only
// that partition's filter (spec.md section 4.3).
type PartitionedReader struct {
	cmp        func(a, b []byte) int
	partitions []partitionReader
}

// NewPartitionedReader parses every partition in parts, each built with
// extractorName, against the currently configured extractor.
func NewPartitionedReader(cmp func(a, b []byte) int, extractorName string, configuredExtractor prefixext.Extractor, parts []Partition) *PartitionedReader {
	pr := &PartitionedReader{cmp: cmp, partitions: make([]partitionReader, len(parts))}
	for i, part := range parts {
		pr.partitions[i] = partitionReader{
			lastKey: part.LastKey,
			reader:  NewReader(part.Data, extractorName, configuredExtractor),
		}
	}
	return pr
}

// MayContain reports whether userKey may be present in any partition. A
// key greater than every recorded partition boundary fails open (true),
// since that should only happen on a malformed or mid-write table.
func (p *PartitionedReader) MayContain(userKey []byte) bool {
	n := len(p.partitions)
	idx := sort.Search(n, func(i int) bool {
		return p.cmp(p.partitions[i].lastKey, userKey) >= 0
	})
	if idx == n {
		return true
	}
	return p.partitions[idx].reader.MayContain(userKey)
}

// Compatible reports whether every partition's extractor matched the
// configured one. A partitioned filter is all-or-nothing: if the table
// was built with a different extractor every partition will report
// incompatible, so checking the first partition suffices (and an empty
// filter is trivially compatible).
func (p *PartitionedReader) Compatible() bool {
	if len(p.partitions) == 0 {
		return true
	}
	return p.partitions[0].reader.Compatible()
}
