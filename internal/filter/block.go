// block.go implements the filter block: one policy-generated filter per
// 2KiB (2^BaseLg) region of data-block offsets, followed by an array of
// filter offsets and a trailing base-log byte.
//
// Filter Block Format:
//
//	filter 0
//	filter 1
//	...
//	filter N-1
//	offset of filter 0       (fixed32)
//	offset of filter 1       (fixed32)
//	...
//	offset of filter N-1     (fixed32)
//	offset of the offset array above (fixed32)
//	base_lg (1 byte)
package filter

import "encoding/binary"

// BaseLg is the log2 of the data-block region size each filter
// entry covers: one new filter is generated every 2^BaseLg bytes of
// cumulative data-block offset.
const BaseLg = 11

// Base is 2^BaseLg: 2048 bytes.
const Base = 1 << BaseLg

// BlockBuilder accumulates keys and, as data-block offsets advance past
// filter-region boundaries, emits one filter per boundary crossed.
type BlockBuilder struct {
	policy Policy

	keys      []byte   // flattened key bytes
	keyStarts []int    // start offset of each key within keys

	result        []byte   // filters emitted so far, concatenated
	filterOffsets []uint32 // result[] offset of each emitted filter

	tmpKeys [][]byte // scratch, reused across GenerateFilter calls
}

// NewBlockBuilder returns a filter block builder using policy.
func NewBlockBuilder(policy Policy) *BlockBuilder {
	return &BlockBuilder{policy: policy}
}

// StartBlock is called when a data block starting at blockOffset is
// about to be written; it emits any filters for regions fully preceding
// blockOffset.
func (b *BlockBuilder) StartBlock(blockOffset uint64) {
	filterIndex := blockOffset / Base
	for filterIndex > uint64(len(b.filterOffsets)) {
		b.generateFilter()
	}
}

// AddKey adds a key to the filter currently being accumulated.
func (b *BlockBuilder) AddKey(key []byte) {
	b.keyStarts = append(b.keyStarts, len(b.keys))
	b.keys = append(b.keys, key...)
}

// Finish emits any pending filter, appends the offset array and base_lg
// trailer, and returns the completed filter block contents.
func (b *BlockBuilder) Finish() []byte {
	if len(b.keyStarts) > 0 {
		b.generateFilter()
	}

	arrayOffset := len(b.result)
	for _, offset := range b.filterOffsets {
		b.result = appendFixed32(b.result, offset)
	}
	b.result = appendFixed32(b.result, uint32(arrayOffset))
	b.result = append(b.result, byte(BaseLg))

	return b.result
}

func (b *BlockBuilder) generateFilter() {
	numKeys := len(b.keyStarts)
	if numKeys == 0 {
		// Record an empty filter (start == limit) for a region no key
		// fell in, so offsets stay indexed by region number.
		b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
		return
	}

	b.keyStarts = append(b.keyStarts, len(b.keys)) // sentinel
	b.tmpKeys = b.tmpKeys[:0]
	for i := range numKeys {
		start := b.keyStarts[i]
		end := b.keyStarts[i+1]
		b.tmpKeys = append(b.tmpKeys, b.keys[start:end])
	}

	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))
	b.result = append(b.result, b.policy.CreateFilter(b.tmpKeys)...)

	b.keys = b.keys[:0]
	b.keyStarts = b.keyStarts[:0]
}

// BlockReader looks up the filter covering a given data-block offset
// and consults it for key membership.
type BlockReader struct {
	policy Policy
	data   []byte // filters, offset array, base_lg trailer

	offsetArrayStart int // byte offset of the start of the offset array
	numFilters       int
	baseLg           int
}

// NewBlockReader parses contents (as produced by BlockBuilder.Finish)
// using policy. Malformed contents yield a reader that treats every key
// as a possible match (the safe default; false negatives are never
// acceptable).
func NewBlockReader(policy Policy, contents []byte) *BlockReader {
	n := len(contents)
	if n < 5 {
		return &BlockReader{policy: policy}
	}

	baseLg := int(contents[n-1])
	lastWord := readFixed32(contents[n-5:])
	if lastWord > uint32(n-5) {
		return &BlockReader{policy: policy}
	}

	numFilters := (uint32(n-5) - lastWord) / 4
	return &BlockReader{
		policy:           policy,
		data:             contents,
		offsetArrayStart: int(lastWord),
		numFilters:       int(numFilters),
		baseLg:           baseLg,
	}
}

// KeyMayMatch reports whether key may be present in the data block
// starting at blockOffset.
func (r *BlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := blockOffset >> uint(r.baseLg)
	if r.data == nil || index >= uint64(r.numFilters) {
		// No filter information available: be conservative.
		return true
	}

	start := readFixed32(r.data[r.offsetArrayStart+4*int(index):])
	limit := readFixed32(r.data[r.offsetArrayStart+4*int(index)+4:])
	if start > limit || int(limit) > r.offsetArrayStart {
		// Corrupt filter data: be conservative.
		return true
	}
	if start == limit {
		// Empty region filter: be conservative.
		return true
	}

	return r.policy.KeyMayMatch(key, r.data[start:limit])
}

func appendFixed32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func readFixed32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
