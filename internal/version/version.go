// Package version manages the tree's levelled layout as a sequence of
// immutable, reference-counted snapshots (spec.md section 3 "Version",
// "Level and run"): L0 holds zero or more overlapping runs (one per
// flush), L1..L6 each hold exactly one run of non-overlapping,
// ascending-key tables. A new Version is installed atomically by applying
// a manifest.Edit; older Versions stay alive exactly as long as a reader
// holds them.
package version

import (
	"sort"
	"sync/atomic"

	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
)

// NumLevels is the fixed level count spec.md names (manifest.NumLevels).
const NumLevels = manifest.NumLevels

// Version is an immutable snapshot of all levels, reference-counted so a
// table file is only ever deleted once no live Version refers to it
// (spec.md section 3 "Version").
type Version struct {
	files [NumLevels][]manifest.Info

	refs   int32
	number uint64
	vset   *VersionSet

	prev *Version
	next *Version
}

func newVersion(vset *VersionSet, number uint64) *Version {
	return &Version{vset: vset, number: number}
}

// fromSnapshot builds a Version from a manifest.Snapshot. Level 0's table
// order is preserved as given (oldest flush first, matching the order
// tables accumulate in the manifest); levels 1..N-1 are sorted ascending
// by smallest user key, the disjoint-run invariant spec.md 3 requires.
func fromSnapshot(vset *VersionSet, number uint64, snap manifest.Snapshot, userCmp func(a, b []byte) int) *Version {
	v := newVersion(vset, number)
	for level := 0; level < NumLevels; level++ {
		ids := snap.Levels[level]
		infos := make([]manifest.Info, 0, len(ids))
		for _, id := range ids {
			infos = append(infos, snap.Tables[id])
		}
		if level > 0 {
			sort.Slice(infos, func(i, j int) bool {
				return userCmp(dbformat.InternalKey(infos[i].Smallest).UserKey(), dbformat.InternalKey(infos[j].Smallest).UserKey()) < 0
			})
		}
		v.files[level] = infos
	}
	return v
}

// Ref increments the reference count. Callers that intend to hold onto a
// Version past the next version swap (an iterator, a snapshot read) must
// Ref it and Unref when done.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count, unlinking the Version from its
// VersionSet's tracking list once it reaches zero. It does not delete any
// table file; that is the tree's obsolete-file sweep's job, informed by
// which table ids no longer appear in any live Version.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev, v.next = nil, nil
	}
}

// NumLevels returns the fixed level count.
func (v *Version) NumLevels() int { return NumLevels }

// NumFiles returns the number of tables at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= NumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the tables at level, in the order described on Version.
func (v *Version) Files(level int) []manifest.Info {
	if level < 0 || level >= NumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the number of tables across every level.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range v.files {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total on-disk size of tables at level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= NumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.Size
	}
	return size
}

// Number returns the Version's monotonic sequence number, for logging.
func (v *Version) Number() uint64 { return v.number }

// AllTableIDs returns every table id referenced by any level, used by the
// tree's obsolete-file sweep to compute which on-disk tables are no longer
// reachable from any live Version.
func (v *Version) AllTableIDs() []uint64 {
	var ids []uint64
	for level := range v.files {
		for _, f := range v.files[level] {
			ids = append(ids, f.TableID)
		}
	}
	return ids
}

// OverlappingInputs returns the tables at level whose key range intersects
// [begin, end]. A nil begin or end means "unbounded" on that side. Used by
// the read path to find L0 candidates and by the compaction picker to find
// a level's overlap with a chosen input range (spec.md sections 4.9, 4.12).
func (v *Version) OverlappingInputs(level int, begin, end []byte, userCmp func(a, b []byte) int) []manifest.Info {
	if level < 0 || level >= NumLevels {
		return nil
	}
	var result []manifest.Info
	for _, f := range v.files[level] {
		smallest := dbformat.InternalKey(f.Smallest).UserKey()
		largest := dbformat.InternalKey(f.Largest).UserKey()
		if end != nil && userCmp(smallest, end) > 0 {
			continue
		}
		if begin != nil && userCmp(largest, begin) < 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// FindFile returns the table at level (1..N-1, where the run is disjoint
// and sorted) that may contain userKey, via binary search on each table's
// largest key. Returns false if level is empty or out of range, or if
// userKey falls past every table's range. Callers must not use this for L0,
// whose runs can overlap; use OverlappingInputs there instead.
func (v *Version) FindFile(level int, userKey []byte, userCmp func(a, b []byte) int) (manifest.Info, bool) {
	if level <= 0 || level >= NumLevels {
		return manifest.Info{}, false
	}
	files := v.files[level]
	idx := sort.Search(len(files), func(i int) bool {
		return userCmp(dbformat.InternalKey(files[i].Largest).UserKey(), userKey) >= 0
	})
	if idx >= len(files) {
		return manifest.Info{}, false
	}
	f := files[idx]
	if userCmp(dbformat.InternalKey(f.Smallest).UserKey(), userKey) > 0 {
		return manifest.Info{}, false
	}
	return f, true
}
