package flintkv

import "github.com/flintkv/flintkv/internal/dbformat"

// Snapshot pins a sequence number so Get and iterators see the database
// exactly as it stood the moment the snapshot was taken, regardless of
// later writes or compactions. Release it with DB.ReleaseSnapshot once
// done; an unreleased snapshot holds its pinned sequence's tombstones
// and superseded values live forever.
type Snapshot struct {
	sequence dbformat.SequenceNumber

	prev, next *Snapshot
}

// sequenceNumber returns the sequence number a nil-safe Snapshot pins:
// the latest sequence when s is nil, meaning "read everything so far".
func (s *Snapshot) sequenceNumber(latest dbformat.SequenceNumber) dbformat.SequenceNumber {
	if s == nil {
		return latest
	}
	return s.sequence
}

// snapshotList is a doubly linked list of live snapshots ordered by
// creation, matching the teacher's GetSnapshot/ReleaseSnapshot linked
// list. head and tail are sentinels that are never themselves returned
// to callers.
type snapshotList struct {
	head, tail Snapshot
}

func newSnapshotList() *snapshotList {
	l := &snapshotList{}
	l.head.next = &l.tail
	l.tail.prev = &l.head
	return l
}

func (l *snapshotList) empty() bool {
	return l.head.next == &l.tail
}

// newest returns the most recently created snapshot, or nil if none.
func (l *snapshotList) newest() *Snapshot {
	if l.empty() {
		return nil
	}
	return l.tail.prev
}

// oldestSequenceOr returns the oldest live snapshot's sequence number, or
// fallback if there are none.
func (l *snapshotList) oldestSequenceOr(fallback dbformat.SequenceNumber) dbformat.SequenceNumber {
	if l.empty() {
		return fallback
	}
	return l.head.next.sequence
}

func (l *snapshotList) add(seq dbformat.SequenceNumber) *Snapshot {
	s := &Snapshot{sequence: seq}
	s.prev = l.tail.prev
	s.next = &l.tail
	l.tail.prev.next = s
	l.tail.prev = s
	return s
}

func (l *snapshotList) remove(s *Snapshot) {
	if s.prev == nil && s.next == nil {
		return // already released, or never inserted
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}
