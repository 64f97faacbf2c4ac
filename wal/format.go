package wal

// FileWriter and FileReader store records in fixed-size blocks, fragmenting
// a logical record across block boundaries the same way the teacher's own
// log format does, trimmed to what a reference implementation of an
// out-of-scope collaborator needs: no recyclable-file variant (that exists
// in the teacher to let RocksDB reuse preallocated log files across WAL
// rotations, a lifecycle concern this engine doesn't own), and an xxh3
// fingerprint in place of masked CRC32C, matching the checksum this engine
// uses everywhere else (internal/checksum) instead of introducing a second
// hash algorithm solely for this seam.
//
// Record header (11 bytes):
//
//	Checksum (8 bytes, xxh3 Fingerprint64 of type+payload)
//	Length   (2 bytes, little-endian)
//	Type     (1 byte)
const (
	blockSize  = 32 * 1024
	headerSize = 11
)

// recordType marks how a physical record relates to the logical record it
// is part of.
type recordType uint8

const (
	recordZero recordType = iota
	recordFull
	recordFirst
	recordMiddle
	recordLast
)
