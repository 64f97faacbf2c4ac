package manifest

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/aalhour/ridgekv/internal/vfs"
)

// FileName is the manifest file's name within a tree's directory
// (spec.md section 6 "Directory layout").
const FileName = "MANIFEST"

// tmpFileName is the staging file a write lands in before the atomic
// rename, per spec.md section 6.
const tmpFileName = "MANIFEST.tmp"

// File is the atomically-rewritten manifest file for one tree directory.
// It holds the most recently written Snapshot in memory, replaced only
// after a successful durable write. File does no locking of its own.
type File struct {
	fs      vfs.FS
	dir     string
	current Snapshot
}

// Open reads the manifest in dir, creating an empty one if none exists
// yet (a brand new tree directory). The returned File's Current reflects
// what was read.
func Open(fs vfs.FS, dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	if !fs.Exists(path) {
		f := &File{fs: fs, dir: dir, current: NewSnapshot()}
		if err := f.Write(f.current); err != nil {
			return nil, fmt.Errorf("manifest: creating initial manifest: %w", err)
		}
		return f, nil
	}

	data, err := readAll(fs, path)
	if err != nil {
		return nil, fmt.Errorf("manifest: reading %s: %w", path, err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}
	return &File{fs: fs, dir: dir, current: snap}, nil
}

// Current returns the most recently installed Snapshot.
func (f *File) Current() Snapshot { return f.current }

// Write durably installs snapshot as the tree's current state: encode,
// write to MANIFEST.tmp, fsync the temp file, rename over MANIFEST, fsync
// the containing directory (spec.md section 6). A crash at any point before
// the directory fsync leaves the prior MANIFEST intact; a crash after
// leaves the new one — never a blend of the two, since the rename is a
// single filesystem operation.
func (f *File) Write(snapshot Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	data := Encode(snapshot)

	tmpPath := filepath.Join(f.dir, tmpFileName)
	finalPath := filepath.Join(f.dir, FileName)

	wf, err := f.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("manifest: creating %s: %w", tmpPath, err)
	}
	if _, err := wf.Write(data); err != nil {
		_ = wf.Close()
		return fmt.Errorf("manifest: writing %s: %w", tmpPath, err)
	}
	if err := wf.Sync(); err != nil {
		_ = wf.Close()
		return fmt.Errorf("manifest: fsyncing %s: %w", tmpPath, err)
	}
	if err := wf.Close(); err != nil {
		return fmt.Errorf("manifest: closing %s: %w", tmpPath, err)
	}
	if err := f.fs.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("manifest: renaming %s to %s: %w", tmpPath, finalPath, err)
	}
	if err := f.fs.SyncDir(f.dir); err != nil {
		return fmt.Errorf("manifest: fsyncing directory %s: %w", f.dir, err)
	}

	f.current = snapshot
	return nil
}

// Apply is a convenience wrapper applying edit to Current and installing
// the result, the shape internal/version uses after a flush or compaction
// commits a new Version (spec.md section 4.10).
func (f *File) Apply(edit Edit) (Snapshot, error) {
	next, err := edit.Apply(f.current)
	if err != nil {
		return Snapshot{}, err
	}
	if err := f.Write(next); err != nil {
		return Snapshot{}, err
	}
	return next, nil
}

func readAll(fs vfs.FS, path string) ([]byte, error) {
	rf, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer rf.Close()
	return io.ReadAll(rf)
}
