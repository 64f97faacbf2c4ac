// Package pathnames centralizes a tree's on-disk directory layout, so the
// root package and every internal package that touches a tree directory
// agree on where things live without duplicating filepath.Join calls.
//
//	<root>/
//	  MANIFEST            current manifest (atomically rewritten)
//	  MANIFEST.tmp        write-to-temp staging file
//	  LOCK                advisory single-writer lock
//	  tables/<id>.sst     one file per table, id monotonic, zero-padded to 6 digits
//	  blobs/<id>          one file per blob file (managed by external collab)
package pathnames

import "path/filepath"

// LockFileName is the advisory lock file within a tree's root directory,
// enforcing the single-writer-per-directory invariant.
const LockFileName = "LOCK"

// TablesDirName is the subdirectory holding table files.
const TablesDirName = "tables"

// LockPath returns the path of the lock file within root.
func LockPath(root string) string {
	return filepath.Join(root, LockFileName)
}

// TablesDir returns the subdirectory table files live in, the dir argument
// internal/table.TablePath and internal/table.Cache expect.
func TablesDir(root string) string {
	return filepath.Join(root, TablesDirName)
}
