package ridgekv

import (
	"errors"

	"github.com/aalhour/ridgekv/internal/compaction"
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/logging"
	"github.com/aalhour/ridgekv/internal/pathnames"
	"github.com/aalhour/ridgekv/internal/table"
	"github.com/aalhour/ridgekv/internal/verify"
)

// Compact asks strategy to pick one unit of compaction work against the
// tree's current version and runs it, if it picks anything. A nil
// strategy uses the tree's own configured LeveledPicker (tuned from
// Options.L0Threshold, TargetTableSize and LevelRatio). Compact returns
// nil without doing anything if strategy finds nothing worth compacting.
func (t *Tree) Compact(strategy compaction.Picker) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if strategy == nil {
		strategy = t.picker
	}

	v := t.vset.Current()
	v.Ref()
	defer v.Unref()

	c := strategy.Pick(v)
	if c == nil {
		return nil
	}
	defer strategy.Release(c)

	job := t.compactionJob()
	newVersion, err := job.Execute(c, t.gcWatermark())
	if err != nil {
		t.poisonOnBackgroundChecksumFailure(err)
		return err
	}
	t.log.Infof("%sran %s compaction: %d input table(s) -> level %d", logging.NSCompact, c.Reason, len(c.AllTables()), c.OutputLevel)
	t.log.Debugf("%sinstalled version %d", logging.NSVersion, newVersion.Number())
	return nil
}

// MajorCompact forces every table in the tree into a single merge pass,
// rewriting everything into the bottom level with output tables bounded by
// targetTableSize. It is the explicit, caller-driven analogue of the
// leveled picker's normal incremental compactions, useful after a bulk
// load or a large RemoveRange to reclaim space immediately rather than
// waiting for compaction pressure to build up level by level.
func (t *Tree) MajorCompact(targetTableSize uint64) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if targetTableSize == 0 {
		targetTableSize = t.opts.TargetTableSize
	}

	v := t.vset.Current()
	v.Ref()
	defer v.Unref()

	var inputs []compaction.Input
	for level := 0; level < v.NumLevels(); level++ {
		files := v.Files(level)
		if len(files) == 0 {
			continue
		}
		inputs = append(inputs, compaction.Input{Level: level, Tables: files})
	}
	if len(inputs) == 0 {
		return nil
	}

	c := &compaction.Compaction{
		Kind:            compaction.Merge,
		Reason:          compaction.ReasonManual,
		Inputs:          inputs,
		OutputLevel:     v.NumLevels() - 1,
		TargetTableSize: targetTableSize,
	}

	job := t.compactionJob()
	newVersion, err := job.Execute(c, t.gcWatermark())
	if err != nil {
		t.poisonOnBackgroundChecksumFailure(err)
		return err
	}
	t.log.Infof("%smajor compaction rewrote %d table(s) into level %d", logging.NSCompact, len(c.AllTables()), c.OutputLevel)
	t.log.Debugf("%sinstalled version %d", logging.NSVersion, newVersion.Number())
	return nil
}

// poisonOnBackgroundChecksumFailure poisons the tree when a compaction — a
// background operation with no caller around to react to a single bad
// read — turns up a corrupt input table. A foreground Get surfacing the
// same ErrChecksumMismatch just returns it to its caller; the tree itself
// is not known bad from one unlucky read.
func (t *Tree) poisonOnBackgroundChecksumFailure(err error) {
	if errors.Is(err, table.ErrChecksumMismatch) {
		t.fatal("%sinput table failed checksum verification during compaction: %v", logging.NSCompact, err)
	}
}

func (t *Tree) compactionJob() *compaction.Job {
	return &compaction.Job{
		FS:            t.fs,
		Dir:           pathnames.TablesDir(t.dir),
		Cache:         t.tableCache,
		VersionSet:    t.vset,
		WriterOptions: t.writerOptions(0, 0),
	}
}

func (t *Tree) gcWatermark() dbformat.SeqNo {
	if t.opts.GCWatermark != nil {
		return t.opts.GCWatermark()
	}
	return 0
}

// VerifyChecksums walks every table file reachable from the tree's current
// version and recomputes its checksum, reporting any mismatch without
// modifying the tree.
func (t *Tree) VerifyChecksums(opts verify.Options) verify.Result {
	v := t.vset.Current()
	v.Ref()
	defer v.Unref()

	if opts.Logger == nil {
		opts.Logger = t.log
	}
	return verify.Checksums(t.fs, pathnames.TablesDir(t.dir), v, opts)
}
