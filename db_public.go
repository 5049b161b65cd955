package flintkv

import (
	"github.com/flintkv/flintkv/internal/dbformat"
)

// DB is the concurrent facade over core: every exported method takes
// core.mu for the duration of its critical section, and a dedicated
// goroutine drives background flushes and compactions so a caller's
// Write never blocks on them beyond the L0 back-pressure limits in
// §4.7. Safe for concurrent use from multiple goroutines.
type DB struct {
	c *core
}

// Open opens (or creates, per Options.CreateIfMissing) the database at
// dirname and starts its background compaction goroutine.
func Open(dirname string, opts Options) (*DB, error) {
	c, err := openCore(dirname, opts)
	if err != nil {
		return nil, err
	}
	c.background = &backgroundWork{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	db := &DB{c: c}
	c.background.wg.Add(1)
	go db.compactionLoop()
	return db, nil
}

// compactionLoop is the dedicated background goroutine: it wakes on
// every scheduleCompaction signal (or Close) and drains all pending
// flush/compaction work before going back to sleep.
func (db *DB) compactionLoop() {
	defer db.c.background.wg.Done()
	for {
		select {
		case <-db.c.background.stop:
			return
		case <-db.c.background.signal:
			db.c.drainBackgroundWork()
		}
	}
}

// Close stops the background compactor and releases every resource
// the database holds: the table cache, the MANIFEST, the active WAL,
// and the directory lock. The DB must not be used afterward.
func (db *DB) Close() error {
	c := db.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.immCond.Broadcast()
	c.mu.Unlock()

	close(c.background.stop)
	c.background.wg.Wait()

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
func (db *DB) Put(key, value []byte, wo WriteOptions) error {
	wb := NewWriteBatch()
	wb.Put(key, value)
	return db.Write(wb, wo)
}

// Delete atomically applies a single Delete (a tombstone covering key).
func (db *DB) Delete(key []byte, wo WriteOptions) error {
	wb := NewWriteBatch()
	wb.Delete(key)
	return db.Write(wb, wo)
}

// Write atomically applies every operation in wb.
func (db *DB) Write(wb *WriteBatch, wo WriteOptions) error {
	c := db.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(wb.wb, wo)
}

// Get returns the value most recently written for key, or ErrNotFound
// if it has none (or was deleted). ro.Snapshot, if set, pins the read
// to that snapshot's point in time.
func (db *DB) Get(key []byte, ro ReadOptions) ([]byte, error) {
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
func (db *DB) NewIterator(ro ReadOptions) *Iterator {
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
func (db *DB) NewSnapshot() *Snapshot {
	return db.c.newSnapshot()
}

// ReleaseSnapshot releases a snapshot taken with NewSnapshot. Passing
// nil is a no-op.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	db.c.releaseSnapshot(s)
}

// CompactRange forces compaction of the key range [begin, end]. A nil
// begin or end means "from the start" / "to the end" respectively.
func (db *DB) CompactRange(begin, end []byte) error {
	return db.c.compactRange(begin, end)
}

// BackgroundError returns the first fatal error encountered by a
// background flush or compaction, or nil if none has occurred. Once
// set, every subsequent Write also fails with this error.
func (db *DB) BackgroundError() error {
	return db.c.backgroundError()
}

// GetProperty returns an internal diagnostic property. Supported names
// are "flintkv.num-files-at-level<N>" and "flintkv.approximate-bytes".
func (db *DB) GetProperty(name string) (string, bool) {
	db.c.mu.Lock()
	defer db.c.mu.Unlock()
	return db.c.getProperty(name)
}
