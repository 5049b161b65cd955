// Package compression implements the block compressor registry: a map
// from a 1-byte compressor id (as stored in each block trailer) to an
// encode/decode pair. The id space is fixed by the on-disk format and
// carries two conflicting dialects for id 2, selected per Options.
//
// Reference: spec's block trailer and compressor-registry sections.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ID identifies a compressor by the byte stored in a block trailer.
type ID uint8

const (
	// NoCompression stores blocks uncompressed.
	NoCompression ID = 0

	// SnappyCompression uses Google Snappy.
	SnappyCompression ID = 1

	// DialectCompression is id 2: its meaning depends on the active
	// Dialect. Under DialectMCBE it is zlib with a standard zlib
	// header; under DialectStandard it is Zstandard. The two meanings
	// are mutually exclusive per database, never auto-detected.
	DialectCompression ID = 2

	// ZlibRawCompression is id 4, used only under the MCBE dialect:
	// raw DEFLATE with no zlib header, matching Minecraft Bedrock
	// Edition's leveldb-mcpe fork.
	ZlibRawCompression ID = 4
)

// Dialect selects what compressor id 2 means. The two dialects are
// mutually incompatible: a database written under one must be read
// under the same one, since both claim byte value 2 for different
// algorithms.
type Dialect int

const (
	// DialectStandard is the vanilla LevelDB/RocksDB-adjacent meaning:
	// id 2 is Zstandard, if enabled at all.
	DialectStandard Dialect = iota

	// DialectMCBE is the Minecraft Bedrock Edition world-format
	// dialect: id 2 is zlib with header, id 4 is raw deflate.
	DialectMCBE
)

// Compressor encodes and decodes blocks for a single compressor id.
type Compressor interface {
	ID() ID
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// Registry maps compressor ids to their Compressor implementation. A
// zero Registry has no entries; use NewRegistry to build one seeded
// for a given Dialect.
type Registry struct {
	compressors map[ID]Compressor
}

// NewRegistry returns a Registry populated with the compressors valid
// under dialect: {none, snappy} always, plus id 2's dialect-dependent
// meaning, plus raw-deflate id 4 under DialectMCBE.
func NewRegistry(dialect Dialect) *Registry {
	r := &Registry{compressors: make(map[ID]Compressor, 4)}
	r.Register(noneCompressor{})
	r.Register(snappyCompressor{})
	switch dialect {
	case DialectMCBE:
		r.Register(zlibHeaderCompressor{})
		r.Register(zlibRawCompressor{})
	case DialectStandard:
		r.Register(zstdCompressor{})
	}
	return r
}

// Register adds or replaces the Compressor for its own ID.
func (r *Registry) Register(c Compressor) {
	if r.compressors == nil {
		r.compressors = make(map[ID]Compressor)
	}
	r.compressors[c.ID()] = c
}

// Get returns the Compressor for id, or false if none is registered.
func (r *Registry) Get(id ID) (Compressor, bool) {
	c, ok := r.compressors[id]
	return c, ok
}

// Encode compresses data with the compressor registered for id.
func (r *Registry) Encode(id ID, data []byte) ([]byte, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("compression: no compressor registered for id %d", id)
	}
	return c.Encode(data)
}

// Decode decompresses data with the compressor registered for id.
func (r *Registry) Decode(id ID, data []byte) ([]byte, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("compression: no compressor registered for id %d", id)
	}
	return c.Decode(data)
}

type noneCompressor struct{}

func (noneCompressor) ID() ID                          { return NoCompression }
func (noneCompressor) Encode(src []byte) ([]byte, error) { return src, nil }
func (noneCompressor) Decode(src []byte) ([]byte, error) { return src, nil }

type snappyCompressor struct{}

func (snappyCompressor) ID() ID { return SnappyCompression }

func (snappyCompressor) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decode(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

// zlibHeaderCompressor is compressor id 2 under DialectMCBE: zlib with
// its standard 2-byte header and Adler-32 trailer.
type zlibHeaderCompressor struct{}

func (zlibHeaderCompressor) ID() ID { return DialectCompression }

func (zlibHeaderCompressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibHeaderCompressor) Decode(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// zlibRawCompressor is compressor id 4, used only under DialectMCBE:
// raw DEFLATE with no zlib header or trailer.
type zlibRawCompressor struct{}

func (zlibRawCompressor) ID() ID { return ZlibRawCompression }

func (zlibRawCompressor) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("raw deflate writer: %w", err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("raw deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("raw deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

func (zlibRawCompressor) Decode(src []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// zstdCompressor is compressor id 2 under DialectStandard.
type zstdCompressor struct{}

func (zstdCompressor) ID() ID { return DialectCompression }

func (zstdCompressor) Encode(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer func() { _ = enc.Close() }()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCompressor) Decode(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}
