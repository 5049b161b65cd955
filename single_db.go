package flintkv

import (
	"github.com/flintkv/flintkv/internal/dbformat"
)

// SingleDB is the single-threaded facade over core: it runs no
// background goroutine, so Write drives flush and compaction work
// inline before returning. Not safe for concurrent use by multiple
// goroutines; intended for callers that already serialize access to
// the database themselves and want to avoid the overhead of a
// dedicated compaction goroutine.
type SingleDB struct {
	c *core
}

// OpenSingle opens (or creates, per Options.CreateIfMissing) the
// database at dirname in single-threaded mode: no background
// goroutine is started, and every Write call drains pending flush and
// compaction work synchronously before returning.
func OpenSingle(dirname string, opts Options) (*SingleDB, error) {
	c, err := openCore(dirname, opts)
	if err != nil {
		return nil, err
	}
	return &SingleDB{c: c}, nil
}

// Close releases every resource the database holds: the table cache,
// the MANIFEST, the active WAL, and the directory lock. The SingleDB
// must not be used afterward.
func (db *SingleDB) Close() error {
	c := db.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.walFile != nil {
		record(c.walFile.Close())
	}
	record(c.versions.Close())
	record(c.tableCache.Close())
	if c.blockCache != nil {
		c.blockCache.Close()
	}
	record(c.lock.Close())
	return firstErr
}

// Put atomically applies a single Put.
func (db *SingleDB) Put(key, value []byte, wo WriteOptions) error {
	wb := NewWriteBatch()
	wb.Put(key, value)
	return db.Write(wb, wo)
}

// Delete atomically applies a single Delete (a tombstone covering key).
func (db *SingleDB) Delete(key []byte, wo WriteOptions) error {
	wb := NewWriteBatch()
	wb.Delete(key)
	return db.Write(wb, wo)
}

// Write atomically applies every operation in wb, then synchronously
// drains any flush or compaction work the write made runnable since
// there is no background goroutine to do it.
func (db *SingleDB) Write(wb *WriteBatch, wo WriteOptions) error {
	c := db.c
	c.mu.Lock()
	err := c.write(wb.wb, wo)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	// drainBackgroundWork takes c.mu itself, same as the DB compactor
	// goroutine does; it must not be called with the lock held.
	c.drainBackgroundWork()
	return nil
}

// Get returns the value most recently written for key, or ErrNotFound
// if it has none (or was deleted). ro.Snapshot, if set, pins the read
// to that snapshot's point in time.
func (db *SingleDB) Get(key []byte, ro ReadOptions) ([]byte, error) {
	c := db.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDBClosed
	}
	latest := dbformat.SequenceNumber(c.versions.LastSequence())
	c.mu.Unlock()
	seq := ro.Snapshot.sequenceNumber(latest)
	return c.get(key, seq)
}

// NewIterator returns an Iterator over the whole keyspace as of
// ro.Snapshot (or the latest committed state, if nil). The iterator
// must be closed with Iterator.Close when done.
func (db *SingleDB) NewIterator(ro ReadOptions) *Iterator {
	c := db.c
	c.mu.Lock()
	latest := dbformat.SequenceNumber(c.versions.LastSequence())
	c.mu.Unlock()
	seq := ro.Snapshot.sequenceNumber(latest)
	return newExportedIterator(c.newIterator(seq))
}

// NewSnapshot pins the database's current state so later Get/Iterator
// calls made with this snapshot keep seeing it, regardless of writes
// or compactions that happen afterward. Release it with
// ReleaseSnapshot once done.
func (db *SingleDB) NewSnapshot() *Snapshot {
	return db.c.newSnapshot()
}

// ReleaseSnapshot releases a snapshot taken with NewSnapshot. Passing
// nil is a no-op.
func (db *SingleDB) ReleaseSnapshot(s *Snapshot) {
	db.c.releaseSnapshot(s)
}

// CompactRange forces compaction of the key range [begin, end]. A nil
// begin or end means "from the start" / "to the end" respectively.
func (db *SingleDB) CompactRange(begin, end []byte) error {
	return db.c.compactRange(begin, end)
}

// BackgroundError returns the first fatal error encountered while
// flushing or compacting, or nil if none has occurred. Once set,
// every subsequent Write also fails with this error.
func (db *SingleDB) BackgroundError() error {
	return db.c.backgroundError()
}

// GetProperty returns an internal diagnostic property. Supported names
// are "flintkv.num-files-at-level<N>" and "flintkv.approximate-bytes".
func (db *SingleDB) GetProperty(name string) (string, bool) {
	db.c.mu.Lock()
	defer db.c.mu.Unlock()
	return db.c.getProperty(name)
}
