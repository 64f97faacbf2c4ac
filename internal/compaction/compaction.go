// Package compaction implements the leveled compaction strategy and
// executor spec.md sections 4.9 and 4.10 describe: a picker that scores
// every level and selects a minimal-write input set (respecting an
// in-flight hidden set so concurrent compactors never race on the same
// table), and an executor that streams the chosen inputs through a merge
// iterator, drops what an MVCC GC watermark makes unreachable, and installs
// the resulting tables as a new Version.
package compaction

import (
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
)

// Kind distinguishes the two ways a Compaction can satisfy a picker's
// choice (spec.md 4.9's "choose(version, config, state) -> {DoNothing |
// Move(input) | Merge(input)}").
type Kind int

const (
	// Move relabels input tables into the output level without rewriting
	// any bytes — spec.md 4.10 point 4, "on trivial move: no data is
	// read."
	Move Kind = iota
	// Merge streams inputs through a merge iterator into new output
	// tables.
	Merge
)

// Reason records why a compaction was picked, for logging only.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonL0Threshold
	ReasonLevelSize
	ReasonTrivialMove
	ReasonManual
)

func (r Reason) String() string {
	switch r {
	case ReasonL0Threshold:
		return "L0 threshold"
	case ReasonLevelSize:
		return "level size"
	case ReasonTrivialMove:
		return "trivial move"
	case ReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Input is one level's contribution to a Compaction: the tables read from
// (or, for a Move, relabeled) at that level.
type Input struct {
	Level  int
	Tables []manifest.Info
}

// Compaction describes one unit of work a Picker has chosen: read Inputs,
// produce new tables at OutputLevel.
type Compaction struct {
	Kind        Kind
	Reason      Reason
	Score       float64
	Inputs      []Input
	OutputLevel int

	// TargetTableSize bounds a Merge compaction's output file size — the
	// executor rolls to a new table once the current one reaches it.
	TargetTableSize uint64
}

// StartLevel returns the lowest level among the compaction's inputs, -1 if
// it has none.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

// AllTables returns every input table across every level, in input order.
func (c *Compaction) AllTables() []manifest.Info {
	var out []manifest.Info
	for _, in := range c.Inputs {
		out = append(out, in.Tables...)
	}
	return out
}

// KeyRange returns the smallest and largest user key spanned by every
// input table.
func (c *Compaction) KeyRange(userCmp func(a, b []byte) int) (smallest, largest []byte) {
	for _, in := range c.Inputs {
		for _, f := range in.Tables {
			s := dbformat.InternalKey(f.Smallest).UserKey()
			l := dbformat.InternalKey(f.Largest).UserKey()
			if smallest == nil || userCmp(s, smallest) < 0 {
				smallest = s
			}
			if largest == nil || userCmp(l, largest) > 0 {
				largest = l
			}
		}
	}
	return smallest, largest
}
