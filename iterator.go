package flintkv

import (
	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/iterator"
)

// dbIterator composes the merging iterator over memtable(s) and SSTs
// (built by core.newIterator) with the sequence-visibility and
// tombstone-collapsing rules of spec §4.8: entries whose sequence
// exceeds the pinned read sequence are invisible, and a run of entries
// sharing a user key collapses to the newest visible one.
type dbIterator struct {
	merged  *iterator.MergingIterator
	seq     dbformat.SequenceNumber
	cmp     Comparator
	release func()

	valid bool
	key   []byte
	value []byte
	err   error
}

// Iterator walks the database's keyspace in ascending key order as of
// the sequence it was created with. Not safe for concurrent use; close
// it with Close when done so the SSTs and memtables it pinned can be
// released.
type Iterator struct {
	it *dbIterator
}

func newExportedIterator(it *dbIterator) *Iterator {
	return &Iterator{it: it}
}

// SeekToFirst positions the iterator at the smallest visible key.
func (it *Iterator) SeekToFirst() {
	it.it.merged.SeekToFirst()
	it.it.findNextVisible()
}

// SeekToLast positions the iterator at the largest visible key.
func (it *Iterator) SeekToLast() {
	it.it.merged.SeekToLast()
	it.it.findPrevVisible()
}

// Seek positions the iterator at the first visible key >= target.
func (it *Iterator) Seek(target []byte) {
	lookup := dbformat.NewLookupKey(target, it.it.seq)
	it.it.merged.Seek([]byte(lookup))
	it.it.findNextVisible()
}

// Next advances to the next visible key. Valid must be true before
// calling Next. findNextVisible always leaves merged positioned at the
// start of the following distinct user key's run, so no extra Next is
// needed here.
func (it *Iterator) Next() {
	it.it.findNextVisible()
}

// Prev moves to the previous visible key. Valid must be true before
// calling Prev.
func (it *Iterator) Prev() {
	it.it.prev()
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.it.valid }

// Key returns the current user key. Valid until the next Next/Prev/Seek call.
func (it *Iterator) Key() []byte { return it.it.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.it.value }

// Error returns any error encountered while reading an underlying SST.
func (it *Iterator) Error() error { return it.it.err }

// Close releases the memtables and SSTs this iterator pinned. Must be
// called exactly once when the iterator is no longer needed.
func (it *Iterator) Close() {
	if it.it.release != nil {
		it.it.release()
		it.it.release = nil
	}
}

// findNextVisible advances mi (already positioned, e.g. just after a
// Next or Seek) until it sits on the first user key whose newest entry
// at or below it.seq is a value, skipping invisible entries (sequence
// above the snapshot) and collapsing every other entry sharing that
// user key.
func (it *dbIterator) findNextVisible() {
	mi := it.merged
	for mi.Valid() {
		parsed, err := dbformat.ParseInternalKey(mi.Key())
		if err != nil {
			it.err = err
			mi.Next()
			continue
		}
		if parsed.Sequence > it.seq {
			mi.Next()
			continue
		}
		// parsed is the newest entry for this user key at or below
		// it.seq, since CompareInternalKeys orders equal user keys by
		// descending sequence. Skip every other entry for this key
		// before returning.
		userKey := append([]byte{}, parsed.UserKey...)
		typ := parsed.Type
		value := append([]byte{}, mi.Value()...)
		mi.Next()
		for mi.Valid() {
			next, nerr := dbformat.ParseInternalKey(mi.Key())
			if nerr != nil || it.cmp.Compare(next.UserKey, userKey) != 0 {
				break
			}
			mi.Next()
		}
		if typ == dbformat.TypeDeletion {
			continue
		}
		it.valid = true
		it.key = userKey
		it.value = value
		return
	}
	if err := mi.Error(); err != nil {
		it.err = err
	}
	it.valid = false
	it.key = nil
	it.value = nil
}

// prev steps mi backward past every remaining entry of the user key
// currently displayed, then hands off to findPrevVisible to surface
// whatever user key comes before it. Valid must be true on entry (so
// it.key names the run to step past).
func (it *dbIterator) prev() {
	mi := it.merged
	savedKey := it.key
	for {
		mi.Prev()
		if !mi.Valid() {
			break
		}
		parsed, err := dbformat.ParseInternalKey(mi.Key())
		if err != nil {
			it.err = err
			continue
		}
		if it.cmp.Compare(parsed.UserKey, savedKey) < 0 {
			break
		}
	}
	it.findPrevVisible()
}

// findPrevVisible scans mi backward from its current position,
// mirroring LevelDB's FindPrevUserEntry: internal keys for the same
// user key appear in increasing-sequence order when walked backward,
// so the last entry seen with sequence <= it.seq before the user key
// changes is the newest visible one. A trailing Deletion makes that
// key invisible; iteration continues to the key before it.
func (it *dbIterator) findPrevVisible() {
	mi := it.merged
	typ := dbformat.TypeDeletion
	var key, value []byte
	for mi.Valid() {
		parsed, err := dbformat.ParseInternalKey(mi.Key())
		if err != nil {
			it.err = err
			mi.Prev()
			continue
		}
		if parsed.Sequence <= it.seq {
			if typ != dbformat.TypeDeletion && it.cmp.Compare(parsed.UserKey, key) < 0 {
				break
			}
			typ = parsed.Type
			if typ == dbformat.TypeDeletion {
				key = nil
				value = nil
			} else {
				key = append([]byte{}, parsed.UserKey...)
				value = append([]byte{}, mi.Value()...)
			}
		}
		mi.Prev()
	}
	if err := mi.Error(); err != nil {
		it.err = err
	}
	if typ == dbformat.TypeDeletion {
		it.valid = false
		it.key = nil
		it.value = nil
		return
	}
	it.valid = true
	it.key = key
	it.value = value
}
