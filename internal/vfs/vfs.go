// Package vfs is the filesystem seam table, manifest, and lock-file I/O go
// through, so an embedder can substitute an in-memory or fault-injecting FS
// in tests without the core depending on a specific backing store.
package vfs

import (
	"io"
	"os"
)

// FS is the filesystem interface the tree depends on.
type FS interface {
	// Create creates a new writable file, truncating it if it already exists.
	Create(name string) (WritableFile, error)

	// Open opens an existing file for sequential reading.
	Open(name string) (SequentialFile, error)

	// OpenRandomAccess opens an existing file for random-access reading,
	// used by table readers to serve point lookups against arbitrary block
	// offsets.
	OpenRandomAccess(name string) (RandomAccessFile, error)

	// Rename atomically renames a file. Used for the write-temp-then-rename
	// pattern manifest writes rely on.
	Rename(oldname, newname string) error

	Remove(name string) error
	RemoveAll(path string) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Exists(name string) bool
	ListDir(path string) ([]string, error)

	// Lock acquires an exclusive advisory lock on name, enforcing the
	// single-writer-per-directory invariant. The returned Closer releases it.
	Lock(name string) (io.Closer, error)

	// SyncDir fsyncs a directory so a preceding rename or create within it
	// is durable.
	SyncDir(path string) error
}

// WritableFile is an open file being written.
type WritableFile interface {
	io.Writer
	io.Closer
	Sync() error
	Truncate(size int64) error
	Size() (int64, error)
}

// SequentialFile is an open file being read front-to-back.
type SequentialFile interface {
	io.Reader
	io.Closer
	Skip(n int64) error
}

// RandomAccessFile is an open file read at arbitrary offsets, the shape a
// table reader needs to serve a block at a given offset without re-reading
// everything before it.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// OSFilesystem implements FS over the host OS filesystem. It is the sole
// production FS implementation; Options.FS defaults to it.
type OSFilesystem struct{}

// Default returns the OS filesystem.
func Default() FS { return &OSFilesystem{} }

func (fs *OSFilesystem) Create(name string) (WritableFile, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &osWritableFile{f: f}, nil
}

func (fs *OSFilesystem) Open(name string) (SequentialFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &osSequentialFile{f: f}, nil
}

func (fs *OSFilesystem) OpenRandomAccess(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &osRandomAccessFile{f: f, size: info.Size()}, nil
}

func (fs *OSFilesystem) Rename(oldname, newname string) error { return os.Rename(oldname, newname) }
func (fs *OSFilesystem) Remove(name string) error              { return os.Remove(name) }
func (fs *OSFilesystem) RemoveAll(path string) error           { return os.RemoveAll(path) }
func (fs *OSFilesystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (fs *OSFilesystem) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (fs *OSFilesystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (fs *OSFilesystem) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (fs *OSFilesystem) Lock(name string) (io.Closer, error) { return lockFile(name) }

func (fs *OSFilesystem) SyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

type osWritableFile struct{ f *os.File }

func (wf *osWritableFile) Write(p []byte) (int, error) { return wf.f.Write(p) }
func (wf *osWritableFile) Close() error                { return wf.f.Close() }
func (wf *osWritableFile) Sync() error                 { return wf.f.Sync() }
func (wf *osWritableFile) Truncate(size int64) error   { return wf.f.Truncate(size) }

func (wf *osWritableFile) Size() (int64, error) {
	info, err := wf.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type osSequentialFile struct{ f *os.File }

func (sf *osSequentialFile) Read(p []byte) (int, error) { return sf.f.Read(p) }
func (sf *osSequentialFile) Close() error                { return sf.f.Close() }

func (sf *osSequentialFile) Skip(n int64) error {
	_, err := sf.f.Seek(n, io.SeekCurrent)
	return err
}

type osRandomAccessFile struct {
	f    *os.File
	size int64
}

func (rf *osRandomAccessFile) ReadAt(p []byte, off int64) (int, error) { return rf.f.ReadAt(p, off) }
func (rf *osRandomAccessFile) Close() error                            { return rf.f.Close() }
func (rf *osRandomAccessFile) Size() int64                             { return rf.size }
