package compaction

import (
	"sync"

	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/version"
)

// Picker selects the next compaction to run against a Version, if any.
type Picker interface {
	// Pick scores every level and returns the chosen Compaction, or nil if
	// every score is below 1.0 (spec.md 4.9: "DoNothing").
	Pick(v *version.Version) *Compaction
	// Release unhides a compaction's input tables once it has completed
	// (successfully or not), spec.md 4.9's "after a successful compaction
	// its inputs are unhidden."
	Release(c *Compaction)
}

// windowSizeCap is the multiple of TargetTableSize spec.md 4.9 caps total
// input at: "Cap total input at 50x the target table size."
const windowSizeCap = 50

// LeveledPicker implements spec.md 4.9's leveled strategy: L0 scored by run
// count against L0Threshold, L1+ scored by level size against a
// geometrically growing target, with a hidden set guarding against two
// compactions racing on the same tables.
type LeveledPicker struct {
	// L0Threshold is the run count at which L0 scores 1.0.
	L0Threshold int
	// TargetTableSize is one output table's target size, and L1's target
	// level size is TargetTableSize * L0Threshold (spec.md 4.9:
	// "L1_base is target_table_size * L0_threshold").
	TargetTableSize uint64
	// Ratio is each level's target size multiplier over the level below it
	// (spec.md 4.9: "level_target_size(i) is L1_base * ratio^(i-1)").
	Ratio float64

	userCmp func(a, b []byte) int

	mu     sync.Mutex
	hidden map[uint64]bool
}

// NewLeveledPicker returns a Picker with the given tuning parameters.
func NewLeveledPicker(l0Threshold int, targetTableSize uint64, ratio float64) *LeveledPicker {
	return &LeveledPicker{
		L0Threshold:     l0Threshold,
		TargetTableSize: targetTableSize,
		Ratio:           ratio,
		userCmp:         dbformat.UserCompare,
		hidden:          make(map[uint64]bool),
	}
}

func (p *LeveledPicker) isHidden(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hidden[id]
}

func (p *LeveledPicker) hide(ids ...uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.hidden[id] = true
	}
}

// Release unhides c's input tables.
func (p *LeveledPicker) Release(c *Compaction) {
	if c == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range c.Inputs {
		for _, f := range in.Tables {
			delete(p.hidden, f.TableID)
		}
	}
}

// levelTargetSize returns Li's target size, level >= 1.
func (p *LeveledPicker) levelTargetSize(level int) uint64 {
	base := p.TargetTableSize * uint64(p.L0Threshold)
	size := float64(base)
	for i := 1; i < level; i++ {
		size *= p.Ratio
	}
	return uint64(size)
}

func (p *LeveledPicker) available(v *version.Version, level int) []manifest.Info {
	var out []manifest.Info
	for _, f := range v.Files(level) {
		if !p.isHidden(f.TableID) {
			out = append(out, f)
		}
	}
	return out
}

// Pick implements Picker.
func (p *LeveledPicker) Pick(v *version.Version) *Compaction {
	numLevels := v.NumLevels()

	bestLevel := -1
	bestScore := 1.0
	for level := 0; level < numLevels-1; level++ {
		score := p.score(v, level)
		if score >= bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	if bestLevel < 0 {
		return nil
	}

	c := p.pickLevel(v, bestLevel, bestScore)
	if c == nil {
		return nil
	}
	p.hide(tableIDs(c.AllTables())...)
	return c
}

func (p *LeveledPicker) score(v *version.Version, level int) float64 {
	if level == 0 {
		if v.NumFiles(0) == 0 {
			return 0
		}
		return float64(v.NumFiles(0)) / float64(p.L0Threshold)
	}
	if v.NumFiles(level) == 0 {
		return 0
	}
	if v.NumFiles(level+1) == 0 {
		// The level above (the level this one promotes into) is empty: a
		// trivial move is free, so force a high score to trigger it.
		return 2.0
	}
	target := p.levelTargetSize(level)
	if target == 0 {
		return 0
	}
	return float64(v.NumLevelBytes(level)) / float64(target)
}

func (p *LeveledPicker) pickLevel(v *version.Version, level int, score float64) *Compaction {
	files := p.available(v, level)
	if len(files) == 0 {
		return nil
	}
	outputLevel := level + 1

	smallest, largest := keyRange(files, p.userCmp)
	overlapAll := filterAvailable(v.OverlappingInputs(outputLevel, smallest, largest, p.userCmp), p)
	if len(overlapAll) == 0 {
		return &Compaction{
			Kind:        Move,
			Reason:      ReasonTrivialMove,
			Score:       score,
			Inputs:      []Input{{Level: level, Tables: files}},
			OutputLevel: outputLevel,
		}
	}

	if level == 0 {
		return &Compaction{
			Kind:            Merge,
			Reason:          ReasonL0Threshold,
			Score:           score,
			Inputs:          []Input{{Level: 0, Tables: files}, {Level: outputLevel, Tables: overlapAll}},
			OutputLevel:     outputLevel,
			TargetTableSize: p.TargetTableSize,
		}
	}

	window, overlap := p.bestWindow(v, level, outputLevel, files)
	if window == nil {
		return nil
	}
	inputs := []Input{{Level: level, Tables: window}}
	if len(overlap) > 0 {
		inputs = append(inputs, Input{Level: outputLevel, Tables: overlap})
	}
	return &Compaction{
		Kind:            Merge,
		Reason:          ReasonLevelSize,
		Score:           score,
		Inputs:          inputs,
		OutputLevel:     outputLevel,
		TargetTableSize: p.TargetTableSize,
	}
}

// bestWindow finds the contiguous window of files (level's disjoint,
// sorted run) that, combined with its overlap in outputLevel, minimizes
// combined size without exceeding the 50x target-table-size cap (spec.md
// 4.9's "find the smallest contiguous window... that minimises
// (next_level_size + curr_level_size). Cap total input at 50x the target
// table size").
func (p *LeveledPicker) bestWindow(v *version.Version, level, outputLevel int, files []manifest.Info) ([]manifest.Info, []manifest.Info) {
	sizeCap := windowSizeCap * p.TargetTableSize
	var bestTotal uint64
	var bestWindow, bestOverlap []manifest.Info
	found := false

	for i := range files {
		var windowSize uint64
		for j := i; j < len(files); j++ {
			windowSize += files[j].Size
			window := files[i : j+1]
			smallest, largest := keyRange(window, p.userCmp)
			overlap := filterAvailable(v.OverlappingInputs(outputLevel, smallest, largest, p.userCmp), p)
			var overlapSize uint64
			for _, f := range overlap {
				overlapSize += f.Size
			}
			total := windowSize + overlapSize
			if sizeCap > 0 && total > sizeCap {
				break
			}
			if !found || total < bestTotal {
				found = true
				bestTotal = total
				bestWindow = append([]manifest.Info(nil), window...)
				bestOverlap = overlap
			}
		}
	}
	return bestWindow, bestOverlap
}

func tableIDs(infos []manifest.Info) []uint64 {
	ids := make([]uint64, len(infos))
	for i, f := range infos {
		ids[i] = f.TableID
	}
	return ids
}

func keyRange(infos []manifest.Info, userCmp func(a, b []byte) int) (smallest, largest []byte) {
	for _, f := range infos {
		s := dbformat.InternalKey(f.Smallest).UserKey()
		l := dbformat.InternalKey(f.Largest).UserKey()
		if smallest == nil || userCmp(s, smallest) < 0 {
			smallest = s
		}
		if largest == nil || userCmp(l, largest) > 0 {
			largest = l
		}
	}
	return smallest, largest
}

func filterAvailable(infos []manifest.Info, p *LeveledPicker) []manifest.Info {
	var out []manifest.Info
	for _, f := range infos {
		if !p.isHidden(f.TableID) {
			out = append(out, f)
		}
	}
	return out
}
