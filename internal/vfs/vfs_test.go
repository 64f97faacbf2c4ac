package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystemCreateWriteRead(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := f.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want hello", data)
	}
}

func TestOSFilesystemOpenSequential(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := fs.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 5)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q", buf)
	}

	if err := f.Skip(1); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	rest := make([]byte, 5)
	n, _ := f.Read(rest)
	if string(rest[:n]) != "world" {
		t.Errorf("after skip got %q", rest[:n])
	}
}

func TestOSFilesystemRandomAccess(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := fs.OpenRandomAccess(path)
	if err != nil {
		t.Fatalf("OpenRandomAccess failed: %v", err)
	}
	defer f.Close()

	if f.Size() != 11 {
		t.Errorf("Size = %d, want 11", f.Size())
	}
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 6); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("ReadAt = %q, want world", buf)
	}
}

func TestOSFilesystemRenameAndExists(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(oldPath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := fs.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if fs.Exists(oldPath) {
		t.Error("old path should no longer exist")
	}
	if !fs.Exists(newPath) {
		t.Error("new path should exist")
	}
}

func TestOSFilesystemListDir(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := fs.ListDir(dir)
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d entries, want 2", len(names))
	}
}

func TestOSFilesystemLockExcludesSecondLocker(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	path := filepath.Join(dir, "LOCK")

	closer, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	defer closer.Close()

	if _, err := fs.Lock(path); err == nil {
		t.Fatal("expected the second Lock on the same file to fail")
	}
}

func TestOSFilesystemSyncDir(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	if err := fs.SyncDir(dir); err != nil {
		t.Fatalf("SyncDir failed: %v", err)
	}
}

func TestOSFilesystemMkdirAllAndRemoveAll(t *testing.T) {
	fs := Default()
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := fs.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fs.Exists(nested) {
		t.Fatal("nested directory should exist")
	}
	if err := fs.RemoveAll(filepath.Join(dir, "a")); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if fs.Exists(nested) {
		t.Fatal("nested directory should be gone")
	}
}
