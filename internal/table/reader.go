// Package table provides SST file reading and writing functionality.
// This implements a LevelDB-bit-compatible block-based table format.
//
// SST File Layout:
//
//	[data block 1]
//	[data block 2]
//	...
//	[data block N]
//	[filter block]      (optional)
//	[properties block]
//	[index block]
//	[metaindex block]
//	[Footer]            (fixed size, at end of file)
package table

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/flintkv/flintkv/internal/block"
	"github.com/flintkv/flintkv/internal/cache"
	"github.com/flintkv/flintkv/internal/checksum"
	"github.com/flintkv/flintkv/internal/compression"
	"github.com/flintkv/flintkv/internal/encoding"
	"github.com/flintkv/flintkv/internal/filter"
)

var (
	// ErrInvalidSST indicates the file is not a valid SST file.
	ErrInvalidSST = errors.New("table: invalid SST file")

	// ErrChecksumMismatch indicates a block checksum verification failed.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")

	// ErrBlockNotFound indicates a requested block was not found.
	ErrBlockNotFound = errors.New("table: block not found")

	// ErrUnsupportedPartitionedIndex indicates the SST uses partitioned index which is not supported.
	// Partitioned index splits the index across multiple blocks; our reader treats the index
	// as a single block and would produce incorrect results.
	ErrUnsupportedPartitionedIndex = errors.New("table: partitioned index not supported")
)

// ReadableFile is an interface for reading from an SST file.
type ReadableFile interface {
	io.Closer

	// ReadAt reads len(p) bytes from the file starting at offset.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total size of the file.
	Size() int64
}

// ReaderOptions controls the behavior of the table reader.
type ReaderOptions struct {
	// VerifyChecksums enables checksum verification for all blocks.
	VerifyChecksums bool

	// CacheBlocks enables caching of data blocks. Requires BlockCache
	// and FileNumber to be set; otherwise every block is read straight
	// from disk.
	CacheBlocks bool

	// BlockCache, when non-nil and CacheBlocks is true, is consulted
	// and populated on every block read, keyed by (FileNumber,
	// block offset).
	BlockCache cache.Cache

	// FileNumber identifies this table file for BlockCache keys. Set
	// by whatever opens the file (normally a TableCache) to the file's
	// number in the version manifest.
	FileNumber uint64

	// Registry resolves the compression id stored in each block's
	// trailer to a decompressor. Defaults to a standard-dialect
	// registry when nil.
	Registry *compression.Registry
}

// Reader reads an SST file in the block-based table format.
type Reader struct {
	file    ReadableFile
	size    int64
	options ReaderOptions
	registry *compression.Registry

	// Parsed from footer.
	footer *block.Footer

	// Block handles from metaindex.
	indexHandle      block.Handle
	propertiesHandle block.Handle
	filterHandle     block.Handle

	indexBlock *block.Block
	properties *TableProperties

	// Filter reader (nil if no filter block is present).
	filterReader *filter.BlockReader
}

// Open opens an SST file for reading.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < int64(block.FooterEncodedLength) {
		return nil, ErrInvalidSST
	}

	registry := opts.Registry
	if registry == nil {
		registry = compression.NewRegistry(compression.DialectStandard)
	}

	r := &Reader{
		file:     file,
		size:     size,
		options:  opts,
		registry: registry,
	}

	if err := r.readFooter(); err != nil {
		return nil, err
	}

	if err := r.readMetaindex(); err != nil {
		return nil, err
	}

	// Check for unsupported index types before reading the index: this
	// prevents misinterpreting corruption as a valid but unusual table.
	if err := r.checkUnsupportedFeatures(); err != nil {
		return nil, err
	}

	if err := r.readIndex(); err != nil {
		return nil, err
	}

	if err := r.readFilter(); err != nil {
		// Filter reading failure is not fatal: it just means we won't use the filter.
		r.filterReader = nil
	}

	return r, nil
}

// readFooter reads and parses the footer from the end of the file.
func (r *Reader) readFooter() error {
	buf := make([]byte, block.FooterEncodedLength)
	offset := r.size - int64(block.FooterEncodedLength)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return err
	}

	footer, err := block.DecodeFooter(buf)
	if err != nil {
		return err
	}

	r.footer = footer
	return nil
}

// readMetaindex reads and parses the metaindex block.
func (r *Reader) readMetaindex() error {
	if r.footer.MetaindexHandle.IsNull() {
		return nil
	}

	metaBlock, err := r.readBlock(r.footer.MetaindexHandle)
	if err != nil {
		return err
	}

	iter := metaBlock.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		name := string(iter.Key())
		handle, _, err := block.DecodeHandle(iter.Value())
		if err != nil {
			continue // Skip invalid entries.
		}

		switch {
		case name == PropMetaBlockName:
			r.propertiesHandle = handle
		case strings.HasPrefix(name, "filter."):
			r.filterHandle = handle
		}
	}

	return nil
}

// checkUnsupportedFeatures reads properties and returns an error if the SST
// uses a feature this reader doesn't support (a partitioned index). This
// check runs early so it isn't confused with ordinary corruption.
func (r *Reader) checkUnsupportedFeatures() error {
	if r.propertiesHandle.IsNull() {
		return nil
	}

	props, err := r.Properties()
	if err != nil {
		// Prefer to try reading the SST even if properties are malformed,
		// since the data blocks may still be readable.
		return nil //nolint:nilerr // intentional: skip check on properties read failure
	}

	if props.IndexPartitions > 0 {
		return ErrUnsupportedPartitionedIndex
	}

	return nil
}

// readIndex reads and caches the index block.
func (r *Reader) readIndex() error {
	handle := r.footer.IndexHandle
	if handle.IsNull() {
		return ErrBlockNotFound
	}

	indexBlock, err := r.readBlock(handle)
	if err != nil {
		return err
	}

	r.indexBlock = indexBlock
	return nil
}

// readFilter reads and caches the filter block if present.
func (r *Reader) readFilter() error {
	if r.filterHandle.IsNull() {
		return nil
	}

	blk, err := r.readBlockUncached(r.filterHandle)
	if err != nil {
		return err
	}

	r.filterReader = filter.NewBlockReader(filter.NewBloomPolicy(10), blk.Data())
	return nil
}

// KeyMayMatch returns true if key may be present in the data block that
// begins at blockOffset. Returns true (conservatively) if no filter is
// present.
func (r *Reader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.KeyMayMatch(blockOffset, key)
}

// HasFilter returns true if this table has a filter block.
func (r *Reader) HasFilter() bool {
	return r.filterReader != nil
}

// maxBlockSize is the maximum size allocated for a single block read, to
// prevent memory exhaustion from a corrupted block handle.
const maxBlockSize = 256 * 1024 * 1024

// readBlock reads and optionally verifies a block from the file, consulting
// r.options.BlockCache first when block caching is enabled. The data block
// iteself is never cached under its compressed form; decompression happens
// before insertion so cache hits skip it entirely.
func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	useCache := r.options.CacheBlocks && r.options.BlockCache != nil
	var cacheKey cache.CacheKey
	if useCache {
		cacheKey = cache.CacheKey{FileNumber: r.options.FileNumber, BlockOffset: handle.Offset}
		if h := r.options.BlockCache.Lookup(cacheKey); h != nil {
			defer r.options.BlockCache.Release(h)
			return block.NewBlock(h.Value())
		}
	}

	blk, err := r.readBlockUncached(handle)
	if err != nil {
		return nil, err
	}

	if useCache {
		h := r.options.BlockCache.Insert(cacheKey, blk.Data(), uint64(len(blk.Data())))
		r.options.BlockCache.Release(h)
	}

	return blk, nil
}

// readBlockUncached reads, verifies, and decompresses a block from the file.
func (r *Reader) readBlockUncached(handle block.Handle) (*block.Block, error) {
	const maxInt64AsUint64 = ^uint64(0) >> 1
	if handle.Offset > maxInt64AsUint64 {
		return nil, fmt.Errorf("block offset %d exceeds maximum %d: %w", handle.Offset, maxInt64AsUint64, ErrInvalidSST)
	}
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("block size %d exceeds maximum %d: %w", handle.Size, maxBlockSize, ErrInvalidSST)
	}

	totalSize := int(handle.Size) + block.BlockTrailerSize

	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("block at offset %d size %d exceeds file size %d: %w",
			handle.Offset, totalSize, r.size, ErrInvalidSST)
	}

	buf := make([]byte, totalSize)
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		return nil, err
	}
	if n < totalSize {
		return nil, ErrInvalidSST
	}

	payload := buf[:handle.Size]
	compressionByte := buf[len(buf)-block.BlockTrailerSize]
	storedChecksum := encoding.DecodeFixed32(buf[len(buf)-4:])

	if r.options.VerifyChecksums {
		computed := checksum.ComputeBlockChecksum(payload, compressionByte)
		if computed != storedChecksum {
			return nil, ErrChecksumMismatch
		}
	}

	id := compression.ID(compressionByte)
	if id == compression.NoCompression {
		return block.NewBlock(payload)
	}

	compressor, ok := r.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("table: unknown compression id %d: %w", id, ErrInvalidSST)
	}
	decoded, err := compressor.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decompress block: %w", err)
	}

	return block.NewBlock(decoded)
}

// NewIterator returns an iterator over the table contents.
// The iterator is initially invalid; call SeekToFirst or Seek before use.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{
		reader:    r,
		indexIter: r.indexBlock.NewIterator(),
	}
}

// Close releases resources associated with the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Footer returns the parsed footer.
func (r *Reader) Footer() *block.Footer {
	return r.footer
}

// Properties returns the table properties, loading them if necessary.
func (r *Reader) Properties() (*TableProperties, error) {
	if r.properties != nil {
		return r.properties, nil
	}

	if r.propertiesHandle.IsNull() {
		return nil, ErrBlockNotFound
	}

	propsBlock, err := r.readBlock(r.propertiesHandle)
	if err != nil {
		return nil, err
	}

	props, err := ParsePropertiesBlock(propsBlock.Data())
	if err != nil {
		return nil, err
	}

	r.properties = props
	return props, nil
}

// TableIterator iterates over key-value pairs in an SST file.
type TableIterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataBlock *block.Block
	dataIter  *block.Iterator
	err       error
}

// Valid returns true if the iterator is positioned at a valid entry.
func (it *TableIterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// SeekToFirst positions the iterator at the first entry.
func (it *TableIterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the last entry.
func (it *TableIterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
	}
}

// Next moves to the next entry.
func (it *TableIterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Prev moves to the previous entry.
func (it *TableIterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	if !it.dataIter.Valid() {
		it.indexIter.Prev()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// Key returns the current key.
func (it *TableIterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current value.
func (it *TableIterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// Error returns any error encountered during iteration.
func (it *TableIterator) Error() error {
	return it.err
}

// loadDataBlock loads the data block pointed to by the current index entry.
func (it *TableIterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	dataBlock, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	it.dataBlock = dataBlock
	it.dataIter = dataBlock.NewIterator()
}
