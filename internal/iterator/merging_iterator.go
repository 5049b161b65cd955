// Package iterator provides iterator implementations used to walk the
// memtable and SST children that make up a read.
//
// MergingIterator provides the union of data from multiple child
// iterators, merging them in sorted order.
package iterator

import (
	"github.com/flintkv/flintkv/internal/block"
)

// Iterator is the interface for all iterators in this package.
type Iterator interface {
	// Valid returns true if the iterator is positioned at a valid entry.
	Valid() bool

	// Key returns the current key. The key is valid until the next call to Next/Seek/etc.
	Key() []byte

	// Value returns the current value.
	Value() []byte

	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()

	// SeekToLast positions the iterator at the last entry.
	SeekToLast()

	// Seek positions the iterator at the first entry with key >= target.
	Seek(target []byte)

	// Next advances to the next entry.
	Next()

	// Prev moves to the previous entry.
	Prev()

	// Error returns any error encountered during iteration.
	Error() error
}

// -----------------------------------------------------------------------------
// MergingIterator
// -----------------------------------------------------------------------------

// MergingIterator merges multiple sorted iterators into one sorted
// iterator. It scans its children directly rather than maintaining a
// heap: an LSM read merges the memtable plus one iterator per
// overlapping SST, typically a handful of children, so a linear scan
// to find the smallest (or largest) current key costs less than the
// bookkeeping a heap would add and needs no auxiliary structure at
// all. This is used for compaction (merging multiple SST files) and
// for DB iteration (merging memtable + immutable memtables + SST
// files).
type MergingIterator struct {
	children   []Iterator
	comparator func(a, b []byte) int
	current    int // index of current iterator in children, -1 if invalid
	err        error
}

// NewMergingIterator creates a new merging iterator over the given children.
// The comparator should compare internal keys.
func NewMergingIterator(children []Iterator, comparator func(a, b []byte) int) *MergingIterator {
	if comparator == nil {
		comparator = block.CompareInternalKeys
	}
	return &MergingIterator{
		children:   children,
		comparator: comparator,
		current:    -1,
	}
}

// Valid returns true if the iterator is positioned at a valid entry.
func (mi *MergingIterator) Valid() bool {
	return mi.current >= 0 && mi.current < len(mi.children)
}

// Key returns the current key.
func (mi *MergingIterator) Key() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Key()
}

// Value returns the current value.
func (mi *MergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Value()
}

// SeekToFirst positions every child at its first entry, then positions
// the merge at the smallest resulting key.
func (mi *MergingIterator) SeekToFirst() {
	mi.err = nil
	for _, child := range mi.children {
		child.SeekToFirst()
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
	}
	mi.findSmallest()
}

// SeekToLast positions every child at its last entry, then positions
// the merge at the largest resulting key.
func (mi *MergingIterator) SeekToLast() {
	mi.err = nil
	for _, child := range mi.children {
		child.SeekToLast()
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
	}
	mi.findLargest()
}

// Seek positions every child at the first key >= target, then
// positions the merge at the smallest resulting key.
func (mi *MergingIterator) Seek(target []byte) {
	mi.err = nil
	for _, child := range mi.children {
		child.Seek(target)
		if err := child.Error(); err != nil {
			mi.err = err
			mi.current = -1
			return
		}
	}
	mi.findSmallest()
}

// Next advances the current child and re-scans for the new smallest key.
func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}

	mi.children[mi.current].Next()
	if err := mi.children[mi.current].Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}

	mi.findSmallest()
}

// Prev moves the current child back and re-scans for the new largest
// key smaller than the position just left.
func (mi *MergingIterator) Prev() {
	if !mi.Valid() {
		return
	}

	currentKey := append([]byte(nil), mi.children[mi.current].Key()...)
	mi.children[mi.current].Prev()
	if err := mi.children[mi.current].Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}

	mi.findLargestBelow(currentKey)
}

// Error returns any error encountered during iteration.
func (mi *MergingIterator) Error() error {
	return mi.err
}

// findSmallest sets current to the valid child with the smallest key.
func (mi *MergingIterator) findSmallest() {
	smallestIdx := -1
	var smallestKey []byte

	for i, child := range mi.children {
		if !child.Valid() {
			continue
		}
		key := child.Key()
		if smallestIdx == -1 || mi.comparator(key, smallestKey) < 0 {
			smallestIdx = i
			smallestKey = key
		}
	}

	mi.current = smallestIdx
}

// findLargest sets current to the valid child with the largest key.
func (mi *MergingIterator) findLargest() {
	largestIdx := -1
	var largestKey []byte

	for i, child := range mi.children {
		if !child.Valid() {
			continue
		}
		key := child.Key()
		if largestIdx == -1 || mi.comparator(key, largestKey) > 0 {
			largestIdx = i
			largestKey = key
		}
	}

	mi.current = largestIdx
}

// findLargestBelow sets current to the valid child with the largest
// key strictly less than bound.
func (mi *MergingIterator) findLargestBelow(bound []byte) {
	largestIdx := -1
	var largestKey []byte

	for i, child := range mi.children {
		if !child.Valid() {
			continue
		}
		key := child.Key()
		if mi.comparator(key, bound) >= 0 {
			continue
		}
		if largestIdx == -1 || mi.comparator(key, largestKey) > 0 {
			largestIdx = i
			largestKey = key
		}
	}

	mi.current = largestIdx
}
