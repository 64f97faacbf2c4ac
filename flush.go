package ridgekv

import (
	"fmt"

	"github.com/aalhour/ridgekv/internal/dbformat"
	"github.com/aalhour/ridgekv/internal/logging"
	"github.com/aalhour/ridgekv/internal/manifest"
	"github.com/aalhour/ridgekv/internal/memtable"
	"github.com/aalhour/ridgekv/internal/pathnames"
	"github.com/aalhour/ridgekv/internal/table"
)

// FlushActiveMemtable seals the active memtable, writes it out as a new L0
// table, and installs that table into the tree's current version. It is a
// no-op if the active memtable is empty. The engine never flushes on its
// own background thread; the write path calls this synchronously once the
// active memtable crosses MemtableByteLimit, and a caller may call it
// directly at any other time (e.g. before a graceful shutdown).
func (t *Tree) FlushActiveMemtable() error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	m := t.active
	if m.Len() == 0 && m.RangeTombstones().IsEmpty() {
		t.mu.Unlock()
		return nil
	}
	m.Seal()
	t.active = memtable.New(t.cmp)
	t.sealed = append(t.sealed, m)
	t.mu.Unlock()

	info, err := t.flushOne(m)

	t.mu.Lock()
	t.removeSealedLocked(m)
	t.mu.Unlock()

	if err != nil {
		if err == table.ErrEmptyTable {
			return nil
		}
		return err
	}

	edit := manifest.Edit{Added: []manifest.LeveledTable{{Level: 0, Info: info}}}
	newVersion, err := t.vset.LogAndApply(edit)
	if err != nil {
		wrapped := newUnrecoverableError(t.dir, err)
		t.fatal("%sinstalling flushed table %d failed: %v", logging.NSManifest, info.TableID, wrapped)
		return wrapped
	}
	t.log.Infof("%sflushed memtable (%d records) to table %d, %d bytes", logging.NSFlush, m.Len(), info.TableID, info.Size)
	t.log.Debugf("%sinstalled version %d (table %d added to level 0)", logging.NSVersion, newVersion.Number(), info.TableID)
	return nil
}

func (t *Tree) removeSealedLocked(m *memtable.MemTable) {
	for i, s := range t.sealed {
		if s == m {
			t.sealed = append(t.sealed[:i], t.sealed[i+1:]...)
			return
		}
	}
}

func (t *Tree) flushOne(m *memtable.MemTable) (manifest.Info, error) {
	tableID := t.vset.NextTableID()
	path := table.TablePath(pathnames.TablesDir(t.dir), tableID)

	w, err := table.NewWriter(t.fs, path, t.writerOptions(tableID, 0))
	if err != nil {
		return manifest.Info{}, newIoError(path, err)
	}

	it := m.NewKeyIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		pk, perr := dbformat.ParseInternalKey(it.Key())
		if perr != nil {
			return manifest.Info{}, fmt.Errorf("%w: flushing table %d: %v", ErrDecodeFailure, tableID, perr)
		}
		w.Add(pk.UserKey, pk.Seq, pk.Type, it.Value())
	}
	for _, rt := range m.RangeTombstones().All() {
		w.AddRangeTombstone(rt.Start, rt.End, rt.Seq)
	}

	info, err := w.Finish()
	if err != nil {
		return manifest.Info{}, err
	}
	return info, nil
}
