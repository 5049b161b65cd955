package flintkv

import (
	"github.com/flintkv/flintkv/internal/cache"
	"github.com/flintkv/flintkv/internal/compression"
	"github.com/flintkv/flintkv/internal/filter"
	"github.com/flintkv/flintkv/internal/logging"
)

// Logger is an alias for the logging.Logger interface, so callers never
// need to import internal/logging to supply their own.
type Logger = logging.Logger

// Options configures Open. The zero value is not valid for every field
// (see DefaultOptions); fields left unset where DefaultOptions wouldn't
// leave them zero fall back to the documented default.
type Options struct {
	// CreateIfMissing causes Open to create the database directory and a
	// genesis MANIFEST if dirname doesn't already hold one.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if the database already exists.
	ErrorIfExists bool

	// ParanoidChecks escalates checksum mismatches found during
	// compaction (not just at read time) to a fatal background error,
	// per §7.
	ParanoidChecks bool

	// WriteBufferSize is the size, in bytes, a memtable is allowed to
	// grow to before a write rotates it to immutable and starts a fresh
	// one. Default: 4MB.
	WriteBufferSize int

	// MaxOpenFiles bounds how many SST files the table cache keeps open
	// concurrently. Default: 1000.
	MaxOpenFiles int

	// MaxFileSize is the target size of a compaction output file,
	// before it's cut into a new one. Aliased as FileSizeLimit; if both
	// are set, FileSizeLimit wins. Default: 2MB.
	MaxFileSize int64

	// BlockCacheCapacityBytes sizes the LRU block cache shared by every
	// SST this DB opens, keyed (file number, block offset). A capacity
	// of 0 disables the block cache.
	BlockCacheCapacityBytes uint64

	// BlockSize is the target uncompressed size of a data block.
	// Default: 4KB.
	BlockSize int

	// BlockRestartInterval is the number of keys between prefix-shared
	// restart points within a block. Default: 16.
	BlockRestartInterval int

	// TryReuseManifest, when true and the most recent MANIFEST is under
	// MaxManifestFileSize, appends to it on Open instead of starting a
	// fresh one. Currently has no effect: Open always rolls a fresh
	// MANIFEST on recovery (see DESIGN.md).
	TryReuseManifest bool

	// TryReuseMemtableLogs, when true, lets recovery reuse the last log
	// file as the fresh memtable's WAL instead of rotating to a new one,
	// provided it didn't need flushing.
	TryReuseMemtableLogs bool

	// FileSizeLimit is the canonical name for MaxFileSize; see above.
	FileSizeLimit int64

	// SelectedCompressorID chooses which registered compressor encodes
	// new data blocks. Interpreted against CompressorRegistry's dialect.
	SelectedCompressorID compression.ID

	// CompressorRegistry resolves SelectedCompressorID (and every id a
	// reader encounters) to a compressor. Nil defaults to a
	// standard-dialect registry (snappy=1, zstd=2).
	CompressorRegistry *compression.Registry

	// FilterPolicy builds and probes the per-table bloom filter block.
	// Nil disables filter blocks entirely.
	FilterPolicy filter.Policy

	// Comparator orders user keys. Nil defaults to BytewiseComparator.
	// A database opened once with a given comparator must always be
	// reopened with a comparator of the same Name().
	Comparator Comparator

	// Logger receives lifecycle and diagnostic messages. Nil defaults
	// to a DefaultLogger writing to stderr at LevelWarn.
	Logger Logger

	// OnCorruption, if set, is invoked with the classified ErrCorruption
	// error whenever one is detected, before it's returned to the
	// caller. Called best-effort; errors or panics from the handler
	// itself are never propagated.
	OnCorruption func(err error)
}

// DefaultOptions returns the Options an Open call uses for any field
// left at its zero value.
func DefaultOptions() Options {
	return Options{
		WriteBufferSize:         4 * 1024 * 1024,
		MaxOpenFiles:            1000,
		MaxFileSize:             2 * 1024 * 1024,
		FileSizeLimit:           2 * 1024 * 1024,
		BlockCacheCapacityBytes: 8 * 1024 * 1024,
		BlockSize:               4096,
		BlockRestartInterval:    16,
	}
}

// fileSizeLimit resolves the MaxFileSize/FileSizeLimit alias, preferring
// FileSizeLimit when both are set.
func (o Options) fileSizeLimit() int64 {
	if o.FileSizeLimit > 0 {
		return o.FileSizeLimit
	}
	if o.MaxFileSize > 0 {
		return o.MaxFileSize
	}
	return DefaultOptions().FileSizeLimit
}

// WriteOptions controls a single Write/Put/Delete call.
type WriteOptions struct {
	// Sync causes the WAL record to be fsynced before the call returns,
	// the strongest durability guarantee this engine offers.
	Sync bool
}

// DefaultWriteOptions returns WriteOptions with Sync disabled.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{}
}

// ReadOptions controls a single Get/NewIterator call.
type ReadOptions struct {
	// Snapshot pins the read to a prior point in time. Nil reads the
	// most recent committed state.
	Snapshot *Snapshot
}

// DefaultReadOptions returns ReadOptions reading the latest state.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{}
}

// blockCache builds the shared LRU block cache Options asks for, or nil
// if BlockCacheCapacityBytes is 0.
func (o Options) blockCache() cache.Cache {
	if o.BlockCacheCapacityBytes == 0 {
		return nil
	}
	return cache.NewLRUCache(o.BlockCacheCapacityBytes)
}
