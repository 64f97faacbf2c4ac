/*
Package ridgekv implements an embeddable LSM-tree storage engine: ordered
byte-string keys, MVCC point and range reads, range deletes, and leveled
compaction, all driven by an explicit caller-supplied sequence number
rather than an internal clock.

# Usage

Open a tree directory with Open, write through Insert/Remove/RemoveWeak,
and read through Get/Range/Prefix. The caller owns sequence number
assignment; every write takes a dbformat.SeqNo that must strictly increase
per key so reads at a given seqno have a well-defined, repeatable answer.

# Concurrency

A Tree is safe for concurrent use by multiple goroutines. Exactly one
writer may hold the tree's on-disk lock at a time (Open fails if another
process already holds it); any number of readers may run concurrently with
the writer. Reads see the active memtable as well as sealed memtables and
immutable table files. Individual range iterators are not
safe for concurrent use by multiple goroutines.

# On-disk layout

A tree directory holds a MANIFEST file naming the current set of table
files, a LOCK file enforcing single-writer access, and a tables/
subdirectory of individual sorted-table files. See internal/pathnames.
*/
package ridgekv
