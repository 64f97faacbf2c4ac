package table

import (
	"github.com/aalhour/ridgekv/internal/block"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/encoding"
)

// Property names for the table's meta/properties block (spec.md section
// 4.4's Finish step: "item_count, seqno#min/max, key#min/max,
// compression#*, filter_hash_type, restart_interval#*, table_version,
// table_id, initial_level, prefix_extractor_name?").
const (
	propItemCount       = "item_count"
	propSeqMin          = "seqno#min"
	propSeqMax          = "seqno#max"
	propKeyMin          = "key#min"
	propKeyMax          = "key#max"
	propCompression     = "compression#data"
	propRestartInterval = "restart_interval#data"
	propTableVersion    = "table_version"
	propTableID         = "table_id"
	propInitialLevel    = "initial_level"
	propRangeTombCount  = "range_tombstone_count"
	propFilterHashType  = "filter_hash_type"
	propPrefixExtractor = "prefix_extractor_name"
)

// Properties is the parsed form of a table's properties block, surfaced to
// callers that need it (verification, diagnostics, compaction heuristics)
// without re-parsing the raw block.
type Properties struct {
	ItemCount            uint64
	SeqMin, SeqMax       dbformat.SeqNo
	KeyMin, KeyMax       []byte
	Compression          string
	RestartInterval      uint64
	TableVersion         uint64
	TableID              uint64
	InitialLevel         int
	RangeTombstoneCount  uint64
	FilterHashType       string
	PrefixExtractorName  string
}

func parseProperties(data []byte) (Properties, error) {
	r, err := block.NewReader(data, dbformat.UserCompare)
	if err != nil {
		return Properties{}, err
	}
	it := r.NewIterator()
	var p Properties
	for it.SeekToFirst(); it.Valid(); it.Next() {
		name := string(it.Key())
		val := it.Value()
		switch name {
		case propItemCount:
			p.ItemCount = decodeUint(val)
		case propSeqMin:
			p.SeqMin = dbformat.SeqNo(decodeUint(val))
		case propSeqMax:
			p.SeqMax = dbformat.SeqNo(decodeUint(val))
		case propKeyMin:
			p.KeyMin = append([]byte(nil), val...)
		case propKeyMax:
			p.KeyMax = append([]byte(nil), val...)
		case propCompression:
			p.Compression = string(val)
		case propRestartInterval:
			p.RestartInterval = decodeUint(val)
		case propTableVersion:
			p.TableVersion = decodeUint(val)
		case propTableID:
			p.TableID = decodeUint(val)
		case propInitialLevel:
			p.InitialLevel = int(decodeUint(val))
		case propRangeTombCount:
			p.RangeTombstoneCount = decodeUint(val)
		case propFilterHashType:
			p.FilterHashType = string(val)
		case propPrefixExtractor:
			p.PrefixExtractorName = string(val)
		}
	}
	if it.Err() != nil {
		return Properties{}, it.Err()
	}
	return p, nil
}

func decodeUint(b []byte) uint64 {
	v, _, err := encoding.DecodeVarint64(b)
	if err != nil {
		return 0
	}
	return v
}
