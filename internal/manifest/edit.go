package manifest

import "fmt"

// Edit describes a single atomic change to a Snapshot: a flush or a
// compaction removes some tables and installs others, possibly in
// different levels (spec.md section 4.10 "install a new Version: remove I,
// add the new tables"). Edit is a transient, in-memory description; only
// the resulting Snapshot is ever persisted, matching spec.md section 6's
// "rewritten atomically on every edit" (the file holds a full snapshot,
// not an edit log).
type Edit struct {
	Removed []uint64
	Added   []LeveledTable
}

// LeveledTable pairs a table's Info with the level it belongs in.
type LeveledTable struct {
	Level int
	Info  Info
}

// Apply returns the Snapshot that results from applying e to base, without
// mutating base. It fails if e removes a table base does not contain or
// adds a table id already present.
func (e Edit) Apply(base Snapshot) (Snapshot, error) {
	next := base.Clone()

	removedSet := make(map[uint64]bool, len(e.Removed))
	for _, id := range e.Removed {
		if _, ok := next.Tables[id]; !ok {
			return Snapshot{}, fmt.Errorf("manifest: edit removes unknown table %d", id)
		}
		removedSet[id] = true
		delete(next.Tables, id)
	}
	for level := range next.Levels {
		if len(next.Levels[level]) == 0 {
			continue
		}
		kept := next.Levels[level][:0:0]
		for _, id := range next.Levels[level] {
			if !removedSet[id] {
				kept = append(kept, id)
			}
		}
		next.Levels[level] = kept
	}

	for _, lt := range e.Added {
		if lt.Level < 0 || lt.Level >= NumLevels {
			return Snapshot{}, fmt.Errorf("manifest: edit adds table %d to invalid level %d", lt.Info.TableID, lt.Level)
		}
		if _, ok := next.Tables[lt.Info.TableID]; ok {
			return Snapshot{}, fmt.Errorf("manifest: edit adds already-present table %d", lt.Info.TableID)
		}
		next.Tables[lt.Info.TableID] = lt.Info
		next.Levels[lt.Level] = append(next.Levels[lt.Level], lt.Info.TableID)
	}

	if err := next.Validate(); err != nil {
		return Snapshot{}, err
	}
	return next, nil
}
