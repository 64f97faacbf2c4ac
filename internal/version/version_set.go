package version

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/manifest"
)

// VersionSet owns the manifest.File and the chain of Versions derived from
// it, and is the single point through which a new Version is installed
// (spec.md section 5: "Manifest file: protected by a single writer mutex;
// readers work off the in-memory current Version").
type VersionSet struct {
	mu     sync.Mutex // serializes LogAndApply
	listMu sync.Mutex // protects the Version linked list

	manifest *manifest.File
	userCmp  func(a, b []byte) int

	current *Version
	dummy   Version // sentinel head/tail of the doubly linked version list

	nextTableID   atomic.Uint64
	versionNumber uint64
}

// newVersionSet is the real constructor, taking an already-opened
// manifest.File so callers (the tree's Open path) control filesystem
// wiring in one place. Recovers nextTableID from the highest table id
// referenced by the manifest — spec.md section 6's manifest format carries
// no separate "next file number" field, so this is derived rather than
// stored.
func newVersionSet(mf *manifest.File, userCmp func(a, b []byte) int) *VersionSet {
	vs := &VersionSet{manifest: mf, userCmp: userCmp}
	vs.dummy.prev = &vs.dummy
	vs.dummy.next = &vs.dummy

	v := fromSnapshot(vs, 0, mf.Current(), userCmp)
	vs.appendVersion(v)
	vs.setCurrent(v)
	vs.recoverNextTableID(mf.Current())
	return vs
}

// New builds a VersionSet around an already-open manifest.File, the shape
// the tree's Open path uses once it owns the vfs.FS and directory.
func New(mf *manifest.File, userCmp func(a, b []byte) int) *VersionSet {
	return newVersionSet(mf, userCmp)
}

func (vs *VersionSet) recoverNextTableID(snap manifest.Snapshot) {
	var max uint64
	for id := range snap.Tables {
		if id > max {
			max = id
		}
	}
	vs.nextTableID.Store(max + 1)
}

// NextTableID allocates the next monotonic table id, the file-naming
// scheme spec.md section 6 ("tables/<id>, id monotonic") requires.
func (vs *VersionSet) NextTableID() uint64 {
	return vs.nextTableID.Add(1) - 1
}

// LastSeqNo returns the highest sequence number recorded in any table the
// current Version references, the recovery-time high-water mark the
// write path resumes its external seqno counter from.
func (vs *VersionSet) LastSeqNo() dbformat.SeqNo {
	vs.listMu.Lock()
	v := vs.current
	vs.listMu.Unlock()

	var max dbformat.SeqNo
	for level := range v.files {
		for _, f := range v.files[level] {
			if f.SeqHi > max {
				max = f.SeqHi
			}
		}
	}
	return max
}

// Current returns the current Version. The caller must Ref it before
// relying on it beyond the current goroutine's immediate use, since a
// concurrent LogAndApply can install a new current at any time.
func (vs *VersionSet) Current() *Version {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	return vs.current
}

func (vs *VersionSet) setCurrent(v *Version) {
	vs.listMu.Lock()
	prev := vs.current
	vs.current = v
	vs.listMu.Unlock()

	v.Ref() // the VersionSet itself pins "current"
	if prev != nil {
		prev.Unref()
	}
}

func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummy.prev
	v.next = &vs.dummy
	vs.dummy.prev.next = v
	vs.dummy.prev = v
}

// LogAndApply durably applies edit to the manifest and installs the
// resulting state as a new current Version, matching spec.md section
// 4.10's install step: "remove I, add the new tables... If the install
// fails... old Version remains current — the system is unchanged." The
// VersionSet's mu serializes concurrent callers (flush, compaction) so
// edits apply against a consistent base one at a time.
func (vs *VersionSet) LogAndApply(edit manifest.Edit) (*Version, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	snap, err := vs.manifest.Apply(edit)
	if err != nil {
		return nil, err
	}

	vs.versionNumber++
	v := fromSnapshot(vs, vs.versionNumber, snap, vs.userCmp)
	vs.appendVersion(v)
	vs.setCurrent(v)
	return v, nil
}
