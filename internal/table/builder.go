// Package table provides SST file reading and writing.
//
// TableBuilder creates SST files in the block-based table format: a
// sequence of compressed, checksummed data blocks, a filter block, a
// properties block, an index block mapping the last key of each data
// block to its handle, a metaindex block, and a fixed-size footer.
package table

import (
	"encoding/binary"
	"errors"
	"io"
	"sort"

	"github.com/flintkv/flintkv/internal/block"
	"github.com/flintkv/flintkv/internal/checksum"
	"github.com/flintkv/flintkv/internal/compression"
	"github.com/flintkv/flintkv/internal/encoding"
	"github.com/flintkv/flintkv/internal/filter"
)

// BuilderOptions configures the TableBuilder.
type BuilderOptions struct {
	// BlockSize is the target size for data blocks (default: 4KB).
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points (default: 16).
	BlockRestartInterval int

	// ComparatorName is the name of the key comparator, recorded in the
	// properties block. Reader does not compare it against anything when
	// opening a table.
	ComparatorName string

	// FilterBitsPerKey controls Bloom filter accuracy (default: 10 = ~1% FP rate).
	// Set to 0 to disable the filter block.
	FilterBitsPerKey int

	// Compression selects the data-block compressor. It is looked up in
	// Registry each time a data block is written, from Add as well as from
	// Finish; NoCompression never touches the registry.
	Compression compression.ID

	// Registry resolves Compression to a compression.Compressor. Defaults
	// to a standard-dialect registry when nil.
	Registry *compression.Registry
}

// DefaultBuilderOptions returns default options for TableBuilder.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		ComparatorName:       "leveldb.BytewiseComparator",
		FilterBitsPerKey:     10,
		Compression:          compression.NoCompression,
	}
}

// TableBuilder builds SST files in the block-based table format.
type TableBuilder struct {
	writer  io.Writer
	options BuilderOptions
	registry *compression.Registry

	// Current data block being built.
	dataBlock *block.Builder

	// Index block builder (maps last key of each data block to its handle).
	indexBlock *block.Builder

	// Filter block builder (nil if disabled).
	filterBuilder *filter.BlockBuilder

	// Pending index entry for the last flushed data block.
	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	// File offset tracking.
	offset uint64

	// Statistics for the properties block.
	numEntries    uint64
	numDataBlocks uint64
	rawKeySize    uint64
	rawValueSize  uint64
	dataSize      uint64
	indexSize     uint64
	filterSize    uint64

	finished bool
	err      error
}

// NewTableBuilder creates a new TableBuilder that writes to w.
func NewTableBuilder(w io.Writer, opts BuilderOptions) *TableBuilder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.BlockRestartInterval <= 0 {
		opts.BlockRestartInterval = 16
	}
	if opts.ComparatorName == "" {
		opts.ComparatorName = "leveldb.BytewiseComparator"
	}

	registry := opts.Registry
	if registry == nil {
		registry = compression.NewRegistry(compression.DialectStandard)
	}

	tb := &TableBuilder{
		writer:     w,
		options:    opts,
		registry:   registry,
		dataBlock:  block.NewBuilder(opts.BlockRestartInterval),
		indexBlock: block.NewBuilder(1),
	}

	if opts.FilterBitsPerKey > 0 {
		tb.filterBuilder = filter.NewBlockBuilder(filter.NewBloomPolicy(opts.FilterBitsPerKey))
		tb.filterBuilder.StartBlock(0)
	}

	return tb
}

// Add adds a key-value pair to the table. Keys must be added in sorted order.
func (tb *TableBuilder) Add(key, value []byte) error {
	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}

	// If we have a pending index entry, add it now that we have the next key.
	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	tb.dataBlock.Add(key, value)
	tb.numEntries++
	tb.rawKeySize += uint64(len(key))
	tb.rawValueSize += uint64(len(value))

	if tb.filterBuilder != nil {
		userKey := key
		if len(key) > dbformatInternalKeyTrailerLen {
			userKey = key[:len(key)-dbformatInternalKeyTrailerLen]
		}
		tb.filterBuilder.AddKey(userKey)
	}

	tb.lastKey = append(tb.lastKey[:0], key...)

	if tb.dataBlock.EstimatedSize() >= tb.options.BlockSize {
		if err := tb.flushDataBlock(); err != nil {
			tb.err = err
			return err
		}
	}

	return nil
}

// dbformatInternalKeyTrailerLen is the length of the (sequence<<8|type)
// trailer appended to every internal key.
const dbformatInternalKeyTrailerLen = 8

// flushDataBlock writes the current data block to the file.
func (tb *TableBuilder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}

	blockContents := tb.dataBlock.Finish()

	handle, err := tb.writeBlockWithTrailer(blockContents, true)
	if err != nil {
		return err
	}

	tb.dataSize += handle.Size
	tb.numDataBlocks++

	tb.pendingHandle = handle
	tb.pendingIndexEntry = true

	tb.dataBlock.Reset()
	if tb.filterBuilder != nil {
		tb.filterBuilder.StartBlock(tb.offset)
	}

	return nil
}

// writeBlockWithTrailer writes a block with its trailer (compression id +
// checksum). compressible is false for blocks that are never worth
// compressing (index, metaindex, filter, properties). Returns the handle
// (offset, size) of the written block.
func (tb *TableBuilder) writeBlockWithTrailer(blockData []byte, compressible bool) (block.Handle, error) {
	payload := blockData
	id := compression.NoCompression

	if compressible && tb.options.Compression != compression.NoCompression {
		compressor, ok := tb.registry.Get(tb.options.Compression)
		if ok {
			encoded, err := compressor.Encode(blockData)
			if err == nil && len(encoded) < len(blockData) {
				payload = encoded
				id = tb.options.Compression
			}
		}
	}

	handle := block.Handle{
		Offset: tb.offset,
		Size:   uint64(len(payload)),
	}

	n, err := tb.writer.Write(payload)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(id)
	cksum := checksum.ComputeBlockChecksum(payload, trailer[0])
	binary.LittleEndian.PutUint32(trailer[1:], cksum)

	n, err = tb.writer.Write(trailer)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	return handle, nil
}

// Finish finalizes the table and writes the footer.
// After calling Finish, the TableBuilder should not be used.
func (tb *TableBuilder) Finish() error {
	if tb.finished {
		return errors.New("table: builder already finished")
	}
	if tb.err != nil {
		return tb.err
	}
	tb.finished = true

	if err := tb.flushDataBlock(); err != nil {
		tb.err = err
		return err
	}

	if tb.pendingIndexEntry {
		tb.indexBlock.Add(tb.lastKey, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	type metaEntry struct {
		key   string
		value []byte
	}
	var metaEntries []metaEntry

	if tb.filterBuilder != nil {
		filterHandle, err := tb.writeFilterBlock()
		if err != nil {
			tb.err = err
			return err
		}
		metaEntries = append(metaEntries, metaEntry{"filter." + filter.NewBloomPolicy(tb.options.FilterBitsPerKey).Name(), filterHandle.EncodeToSlice()})
	}

	propertiesHandle, err := tb.writePropertiesBlock()
	if err != nil {
		tb.err = err
		return err
	}
	metaEntries = append(metaEntries, metaEntry{PropMetaBlockName, propertiesHandle.EncodeToSlice()})

	indexContents := tb.indexBlock.Finish()
	indexHandle, err := tb.writeBlockWithTrailer(indexContents, false)
	if err != nil {
		tb.err = err
		return err
	}
	tb.indexSize = indexHandle.Size

	// C++ uses std::map which maintains sorted order; we must do the same.
	sort.Slice(metaEntries, func(i, j int) bool {
		return metaEntries[i].key < metaEntries[j].key
	})

	metaindexBuilder := block.NewBuilder(1)
	for _, entry := range metaEntries {
		metaindexBuilder.Add([]byte(entry.key), entry.value)
	}

	metaindexContents := metaindexBuilder.Finish()
	metaindexHandle, err := tb.writeBlockWithTrailer(metaindexContents, false)
	if err != nil {
		tb.err = err
		return err
	}

	if err := tb.writeFooter(metaindexHandle, indexHandle); err != nil {
		tb.err = err
		return err
	}

	return nil
}

// writeFilterBlock writes the filter block.
func (tb *TableBuilder) writeFilterBlock() (block.Handle, error) {
	filterData := tb.filterBuilder.Finish()
	tb.filterSize = uint64(len(filterData))
	return tb.writeBlockWithTrailer(filterData, false)
}

// writePropertiesBlock writes the table properties block.
func (tb *TableBuilder) writePropertiesBlock() (block.Handle, error) {
	type prop struct {
		name  string
		value []byte
	}
	var properties []prop

	addUint64Prop := func(name string, value uint64) {
		properties = append(properties, prop{name: name, value: encoding.AppendVarint64(nil, value)})
	}
	addStringProp := func(name string, value string) {
		if value == "" {
			return
		}
		properties = append(properties, prop{name: name, value: []byte(value)})
	}

	addStringProp(PropComparator, tb.options.ComparatorName)
	addUint64Prop(PropDataSize, tb.dataSize)
	if tb.filterBuilder != nil {
		addStringProp(PropFilterPolicy, filter.NewBloomPolicy(tb.options.FilterBitsPerKey).Name())
	}
	addUint64Prop(PropFilterSize, tb.filterSize)
	addUint64Prop(PropIndexSize, tb.indexSize)
	addUint64Prop(PropNumDataBlocks, tb.numDataBlocks)
	addUint64Prop(PropNumEntries, tb.numEntries)
	addUint64Prop(PropRawKeySize, tb.rawKeySize)
	addUint64Prop(PropRawValueSize, tb.rawValueSize)

	sort.Slice(properties, func(i, j int) bool {
		return properties[i].name < properties[j].name
	})

	props := block.NewBuilder(1)
	for _, p := range properties {
		props.Add([]byte(p.name), p.value)
	}

	propsContents := props.Finish()
	return tb.writeBlockWithTrailer(propsContents, false)
}

// writeFooter writes the SST file footer.
func (tb *TableBuilder) writeFooter(metaindexHandle, indexHandle block.Handle) error {
	footer := &block.Footer{
		MetaindexHandle: metaindexHandle,
		IndexHandle:     indexHandle,
	}

	footerData := footer.EncodeTo()
	n, err := tb.writer.Write(footerData)
	if err != nil {
		return err
	}
	tb.offset += uint64(n)

	return nil
}

// Abandon abandons the table being built.
// After calling Abandon, the TableBuilder should not be used.
func (tb *TableBuilder) Abandon() {
	tb.finished = true
}

// NumEntries returns the number of entries added so far.
func (tb *TableBuilder) NumEntries() uint64 {
	return tb.numEntries
}

// FileSize returns the size of the file generated so far.
func (tb *TableBuilder) FileSize() uint64 {
	return tb.offset
}

// Status returns any error encountered during building.
func (tb *TableBuilder) Status() error {
	return tb.err
}
