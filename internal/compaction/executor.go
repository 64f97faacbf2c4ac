package compaction

import (
	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/miter"
	"github.com/aalhour/ridgekv/internal/table"
	"github.com/aalhour/ridgekv/internal/version"
	"github.com/aalhour/ridgekv/internal/vfs"
)

// Job executes Compactions a Picker has chosen (spec.md 4.10). It owns no
// state of its own beyond the dependencies every execution needs, so one
// Job can run many compactions sequentially or be shared by several
// goroutines driving independent compactions.
type Job struct {
	FS         vfs.FS
	Dir        string
	Cache      *table.Cache
	VersionSet *version.VersionSet

	// WriterOptions is the template every output table is built with;
	// TableID and InitialLevel are overridden per output file.
	WriterOptions table.WriterOptions
}

// Execute runs c to completion: a Move relabels tables without touching
// any bytes, a Merge streams inputs through a merge iterator and installs
// newly written tables. On any failure the new Version is left untouched
// (spec.md 4.10 point 3: "old Version remains current") and any output
// files already written are removed.
func (j *Job) Execute(c *Compaction, gcWatermark dbformat.SeqNo) (*version.Version, error) {
	if c.Kind == Move {
		return j.executeMove(c)
	}
	return j.executeMerge(c, gcWatermark)
}

func (j *Job) executeMove(c *Compaction) (*version.Version, error) {
	in := c.Inputs[0]
	edit := manifest.Edit{}
	for _, f := range in.Tables {
		edit.Removed = append(edit.Removed, f.TableID)
		edit.Added = append(edit.Added, manifest.LeveledTable{Level: c.OutputLevel, Info: f})
	}
	return j.VersionSet.LogAndApply(edit)
}

// record is one internal-key entry surfaced by the merge iterator, copied
// out of the iterator's reused buffers so it survives past the next
// Next() call.
type record struct {
	seq   dbformat.SeqNo
	vtype dbformat.ValueType
	value []byte
}

func (j *Job) executeMerge(c *Compaction, gcWatermark dbformat.SeqNo) (*version.Version, error) {
	sources, closeSources, err := j.openSources(c)
	if err != nil {
		return nil, err
	}
	defer closeSources()

	rangeTombstones := j.collectRangeTombstones(c)
	isMaxLevel := c.OutputLevel == version.NumLevels-1

	mi := miter.New(sources, miter.Options{})
	defer mi.Close()

	var outputs []manifest.Info
	var paths []string
	rollback := func() {
		for _, p := range paths {
			_ = j.FS.Remove(p)
		}
	}

	w, path, err := j.newWriter(c.OutputLevel)
	if err != nil {
		return nil, err
	}
	paths = append(paths, path)
	for _, rt := range rangeTombstones {
		w.AddRangeTombstone(rt.Start, rt.End, rt.Seq)
	}

	flushWriter := func() error {
		info, err := w.Finish()
		if err != nil {
			return err
		}
		outputs = append(outputs, info)
		return nil
	}

	var groupKey []byte
	var group []record
	emit := func() error {
		if len(group) == 0 {
			return nil
		}
		kept := filterGroup(group, gcWatermark, isMaxLevel)
		for _, r := range kept {
			if c.TargetTableSize > 0 && w.ApproximateSize() >= c.TargetTableSize {
				if err := flushWriter(); err != nil {
					rollback()
					return err
				}
				w, path, err = j.newWriter(c.OutputLevel)
				if err != nil {
					rollback()
					return err
				}
				paths = append(paths, path)
				for _, rt := range rangeTombstones {
					w.AddRangeTombstone(rt.Start, rt.End, rt.Seq)
				}
			}
			w.Add(groupKey, r.seq, r.vtype, r.value)
		}
		group = group[:0]
		return nil
	}

	for mi.SeekToFirst(); mi.Valid(); mi.Next() {
		key := mi.Key()
		if groupKey != nil && dbformat.UserCompare(key, groupKey) != 0 {
			if err := emit(); err != nil {
				return nil, err
			}
		}
		if groupKey == nil || dbformat.UserCompare(key, groupKey) != 0 {
			groupKey = append(groupKey[:0], key...)
		}
		group = append(group, record{seq: mi.Seq(), vtype: mi.ValueType(), value: append([]byte(nil), mi.Value()...)})
	}
	if err := mi.Err(); err != nil {
		rollback()
		return nil, err
	}
	if err := emit(); err != nil {
		return nil, err
	}

	if w.ApproximateSize() > 0 || len(outputs) == 0 {
		if err := flushWriter(); err != nil {
			rollback()
			return nil, err
		}
	}

	edit := manifest.Edit{}
	for _, f := range c.AllTables() {
		edit.Removed = append(edit.Removed, f.TableID)
	}
	for _, info := range outputs {
		edit.Added = append(edit.Added, manifest.LeveledTable{Level: c.OutputLevel, Info: info})
	}

	v, err := j.VersionSet.LogAndApply(edit)
	if err != nil {
		rollback()
		return nil, err
	}
	return v, nil
}

func (j *Job) newWriter(outputLevel int) (*table.Writer, string, error) {
	opts := j.WriterOptions
	opts.TableID = j.VersionSet.NextTableID()
	opts.InitialLevel = outputLevel
	path := table.TablePath(j.Dir, opts.TableID)
	w, err := table.NewWriter(j.FS, path, opts)
	if err != nil {
		return nil, "", err
	}
	return w, path, nil
}

// openSources opens one miter.Source per input level: a level whose tables
// are a disjoint run (L1+) is wrapped in a single table.RunIterator; L0's
// tables can overlap, so each gets its own table.Iterator.
func (j *Job) openSources(c *Compaction) ([]miter.Source, func(), error) {
	var sources []miter.Source
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, in := range c.Inputs {
		if in.Level == 0 {
			for _, f := range in.Tables {
				r, err := j.Cache.Get(f.TableID, table.TablePath(j.Dir, f.TableID))
				if err != nil {
					closeAll()
					return nil, nil, err
				}
				it := r.NewScanIterator()
				id := f.TableID
				closers = append(closers, func() { it.Close(); j.Cache.Release(id) })
				sources = append(sources, it)
			}
			continue
		}
		entries := make([]table.RunEntry, len(in.Tables))
		for i, f := range in.Tables {
			entries[i] = table.RunEntry{TableID: f.TableID, Path: table.TablePath(j.Dir, f.TableID)}
		}
		ri := table.NewRunIterator(j.Cache, entries, true)
		closers = append(closers, ri.Close)
		sources = append(sources, ri)
	}
	return sources, closeAll, nil
}

func (j *Job) collectRangeTombstones(c *Compaction) []table.RangeTombstone {
	var out []table.RangeTombstone
	for _, f := range c.AllTables() {
		r, err := j.Cache.Get(f.TableID, table.TablePath(j.Dir, f.TableID))
		if err != nil {
			continue
		}
		out = append(out, r.RangeTombstones()...)
		j.Cache.Release(f.TableID)
	}
	return out
}

// filterGroup applies spec.md 4.10's MVCC GC policy to one user key's
// versions, newest first (the order the merge iterator produces them in):
// every version at or above gcWatermark is kept, since a live snapshot may
// still need to distinguish between them; of the versions below
// gcWatermark, only the first (the newest one no snapshot below the
// watermark could miss) survives, and it is dropped entirely if it is a
// Tombstone and this compaction output is the bottom level — nothing
// remains below Lmax for a deleted key to resurface from. A WeakTombstone
// below gcWatermark suppresses exactly the Value immediately following it in
// the group: that Value is dropped, and on an Lmax compaction the
// WeakTombstone is dropped with it. A WeakTombstone at or above gcWatermark
// suppresses nothing here, so every version after it follows the rules
// above.
func filterGroup(entries []record, gcWatermark dbformat.SeqNo, isMaxLevel bool) []record {
	kept := make([]record, 0, len(entries))
	belowKept := false
	skipNext := false

	for i, e := range entries {
		if skipNext {
			skipNext = false
			continue
		}
		suppressesNext := e.vtype == dbformat.TypeWeakTombstone && i+1 < len(entries) && entries[i+1].vtype == dbformat.TypeValue

		if e.seq >= gcWatermark {
			kept = append(kept, e)
			continue
		}
		if belowKept {
			if suppressesNext {
				skipNext = true
			}
			continue
		}
		belowKept = true
		if isMaxLevel && e.vtype == dbformat.TypeTombstone {
			continue
		}
		if isMaxLevel && e.vtype == dbformat.TypeWeakTombstone && suppressesNext {
			skipNext = true
			continue
		}
		kept = append(kept, e)
		if suppressesNext {
			skipNext = true
		}
	}
	return kept
}
