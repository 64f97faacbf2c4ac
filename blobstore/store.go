// Package blobstore is the external value-log collaborator's seam: an
// id-addressable byte store the tree never implements itself. An Indirection
// record's payload is a blobstore.ID; the tree compares and orders it like
// any other value but never decodes it or reaches into the blob file format
// behind it.
package blobstore

import (
	"bytes"
	"errors"
)

// ErrNotFound is returned by Store.Get when no blob is stored under the
// given ID.
var ErrNotFound = errors.New("blobstore: blob not found")

// ID identifies a blob in the external store. It is opaque to the tree: the
// tree only ever compares IDs byte-for-byte (bytes.Compare, via the same key
// comparator every other value type uses) and never interprets their
// contents. A real collaborator might encode a file number, offset, and
// length into it, the way the teacher's blob.BlobIndex does; blobstore does
// not prescribe a layout.
type ID []byte

// Equal reports whether two IDs name the same blob.
func (id ID) Equal(other ID) bool {
	return bytes.Equal(id, other)
}

// Bytes returns the raw ID bytes, the form an Indirection record's payload
// carries on disk.
func (id ID) Bytes() []byte {
	return []byte(id)
}

// Store resolves a blobstore.ID to the value it names. Implementations live
// entirely outside this module in production; MemStore exists only so tests
// exercising Indirection records have somewhere to attach without standing
// up a real value-log service.
type Store interface {
	// Get returns the blob named by id, or ErrNotFound if none exists.
	Get(id ID) ([]byte, error)
}
