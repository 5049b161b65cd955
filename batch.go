package flintkv

import "github.com/flintkv/flintkv/internal/batch"

// WriteBatch batches Put and Delete operations for atomic application
// via DB.Write or SingleDB.Write: either every operation in the batch
// becomes visible together, or (on a write failure) none do.
type WriteBatch struct {
	wb *batch.WriteBatch
}

// NewWriteBatch returns an empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{wb: batch.New()}
}

// Put adds a Put record to the batch.
func (b *WriteBatch) Put(key, value []byte) {
	b.wb.Put(key, value)
}

// Delete adds a Delete record to the batch.
func (b *WriteBatch) Delete(key []byte) {
	b.wb.Delete(key)
}

// Len returns the number of operations queued in the batch.
func (b *WriteBatch) Len() int {
	return int(b.wb.Count())
}

// Clear empties the batch so it can be reused for another Write call.
func (b *WriteBatch) Clear() {
	b.wb.Clear()
}
