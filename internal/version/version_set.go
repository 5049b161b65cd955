// version_set.go implements VersionSet, which owns the current Version
// and the MANIFEST file it was built from.
package version

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/logging"
	"github.com/flintkv/flintkv/internal/manifest"
	"github.com/flintkv/flintkv/internal/table"
	"github.com/flintkv/flintkv/internal/wal"
	"github.com/flintkv/flintkv/vfs"
)

// Errors returned by VersionSet operations.
var (
	ErrNotFound           = errors.New("version: not found")
	ErrCorruption         = errors.New("version: corruption")
	ErrInvalidManifest    = errors.New("version: invalid manifest")
	ErrNoCurrentManifest  = errors.New("version: no current manifest")
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
)

// VersionSetOptions configures a VersionSet.
type VersionSetOptions struct {
	// DBName is the database directory path.
	DBName string

	// FS is the filesystem collaborator every file operation goes through.
	FS vfs.FS

	// MaxManifestFileSize is the size at which a fresh MANIFEST is
	// started instead of appending to the current one.
	MaxManifestFileSize uint64

	// NumLevels is the number of levels in the LSM-tree.
	NumLevels int

	// ComparatorName is validated against the comparator name recorded
	// in the MANIFEST's genesis edit. Empty defaults to
	// "leveldb.BytewiseComparator".
	ComparatorName string

	// Finalizer, if set, is called on every freshly built Version
	// before it becomes current, right after it's populated and before
	// any other goroutine can see it. The compaction package supplies
	// this to score the Version (Picker.Finalize) without version
	// needing to import compaction.
	Finalizer func(*Version)

	// Logger receives MANIFEST and recovery lifecycle messages. Nil is
	// equivalent to logging.Discard.
	Logger logging.Logger
}

// DefaultVersionSetOptions returns the options a normally opened
// database uses.
func DefaultVersionSetOptions(dbname string) VersionSetOptions {
	return VersionSetOptions{
		DBName:              dbname,
		FS:                  vfs.Default(),
		MaxManifestFileSize: 1024 * 1024 * 1024,
		NumLevels:           MaxNumLevels,
	}
}

// VersionSet owns the current Version, the list of all live versions,
// and the MANIFEST file that records the edits that produced them.
type VersionSet struct {
	mu sync.Mutex

	// listMu protects the version linked list (prev/next pointers) so
	// Version.Unref never has to take mu, which LogAndApply holds for
	// the duration of a MANIFEST write.
	listMu sync.Mutex

	opts VersionSetOptions

	current       *Version
	dummyVersions Version

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       uint64
	logNumber          uint64
	prevLogNumber      uint64

	currentVersionNumber uint64

	manifestFile     vfs.WritableFile
	manifestWriter   *wal.Writer
	manifestFileSize uint64

	// compactPointers[level] is the key at which the next compaction at
	// that level should resume, round-robin across the key space.
	// Persisted in every edit that sets it so it survives a restart.
	compactPointers [MaxNumLevels]dbformat.InternalKey
}

// NewVersionSet returns an empty VersionSet. Call Create for a brand
// new database or Recover to load an existing one.
func NewVersionSet(opts VersionSetOptions) *VersionSet {
	opts.Logger = logging.OrDefault(opts.Logger)
	vs := &VersionSet{
		opts:           opts,
		nextFileNumber: 2, // numbering starts at 2; the genesis MANIFEST takes 2 and 1 is never used
	}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	return vs
}

// Current returns the current version. Callers that keep it past the
// call should Ref() it first.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NextFileNumber allocates and returns the next unused file number.
func (vs *VersionSet) NextFileNumber() uint64 {
	return atomic.AddUint64(&vs.nextFileNumber, 1) - 1
}

// NextVersionNumber allocates a debugging-only monotonic version id.
func (vs *VersionSet) NextVersionNumber() uint64 {
	return atomic.AddUint64(&vs.currentVersionNumber, 1)
}

// CurrentVersionNumber returns the id of the current version.
func (vs *VersionSet) CurrentVersionNumber() uint64 {
	return atomic.LoadUint64(&vs.currentVersionNumber)
}

// NumLiveVersions returns how many versions are still referenced.
func (vs *VersionSet) NumLiveVersions() int {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	count := 0
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		count++
	}
	return count
}

// GetManifestFileNumber returns the file number of the active MANIFEST.
func (vs *VersionSet) GetManifestFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFileNumber
}

// LastSequence returns the last sequence number assigned.
func (vs *VersionSet) LastSequence() uint64 {
	return atomic.LoadUint64(&vs.lastSequence)
}

// SetLastSequence records the last sequence number assigned.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	atomic.StoreUint64(&vs.lastSequence, seq)
}

// LogNumber returns the WAL file number writes are currently going to.
func (vs *VersionSet) LogNumber() uint64 {
	return vs.logNumber
}

// ManifestFileNumber returns the active MANIFEST's file number.
func (vs *VersionSet) ManifestFileNumber() uint64 {
	return vs.manifestFileNumber
}

// CompactPointer returns the resume key for the next compaction at
// level, or nil if that level has never been compacted.
func (vs *VersionSet) CompactPointer(level int) dbformat.InternalKey {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return vs.compactPointers[level]
}

// Recover reads CURRENT and the MANIFEST it names, replaying every
// logged edit to rebuild the current Version.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.opts.Logger.Infof("%srecovering from %s", logging.NSRecovery, vs.opts.DBName)

	currentPath := filepath.Join(vs.opts.DBName, "CURRENT")
	currentFile, err := vs.opts.FS.Open(currentPath)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return ErrNoCurrentManifest
		}
		return err
	}
	data, err := io.ReadAll(currentFile)
	_ = currentFile.Close()
	if err != nil {
		return err
	}

	manifestName := strings.TrimSpace(string(data))
	numStr, ok := strings.CutPrefix(manifestName, "MANIFEST-")
	if !ok {
		return ErrInvalidManifest
	}
	manifestNum, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return ErrInvalidManifest
	}

	manifestPath := filepath.Join(vs.opts.DBName, manifestName)
	manifestFile, err := vs.opts.FS.Open(manifestPath)
	if err != nil {
		return err
	}
	manifestData, err := io.ReadAll(manifestFile)
	_ = manifestFile.Close()
	if err != nil {
		return err
	}

	builder := NewBuilder(vs, nil)
	reader := wal.NewReader(bytes.NewReader(manifestData), nil, true)

	var hasLogNumber, hasNextFileNumber, hasLastSequence bool
	maxFileNumSeen := manifestNum

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}

		var edit manifest.VersionEdit
		if err := edit.DecodeFrom(record); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		if err := builder.Apply(&edit); err != nil {
			return err
		}

		for _, nf := range edit.NewFiles {
			if nf.Meta.Number > maxFileNumSeen {
				maxFileNumSeen = nf.Meta.Number
			}
		}
		if edit.HasLogNumber && edit.LogNumber > maxFileNumSeen {
			maxFileNumSeen = edit.LogNumber
		}
		if edit.HasPrevLogNumber && edit.PrevLogNumber > maxFileNumSeen {
			maxFileNumSeen = edit.PrevLogNumber
		}

		if edit.HasComparator {
			expected := vs.opts.ComparatorName
			if expected == "" {
				expected = "leveldb.BytewiseComparator"
			}
			if !comparatorNamesMatch(edit.Comparator, expected) {
				return fmt.Errorf("%w: database uses %q, but opening with %q",
					ErrComparatorMismatch, edit.Comparator, expected)
			}
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
		}
		if edit.HasPrevLogNumber {
			vs.prevLogNumber = edit.PrevLogNumber
		}
		if edit.HasNextFileNumber {
			hasNextFileNumber = true
			atomic.StoreUint64(&vs.nextFileNumber, edit.NextFileNumber)
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
		}
		for _, cp := range edit.CompactPointers {
			if cp.Level >= 0 && cp.Level < MaxNumLevels {
				vs.compactPointers[cp.Level] = cp.Key
			}
		}
	}

	if !hasLogNumber {
		return fmt.Errorf("%w: missing log number", ErrInvalidManifest)
	}
	if !hasNextFileNumber {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}
	if !hasLastSequence {
		return fmt.Errorf("%w: missing last sequence", ErrInvalidManifest)
	}

	// Never reuse a file number an edit referenced.
	if n := atomic.LoadUint64(&vs.nextFileNumber); n <= maxFileNumSeen {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}

	// A file or sequence number can exist on disk without being in the
	// MANIFEST yet if the process crashed between writing the SST and
	// logging the edit that adds it. Scanning the directory and every
	// orphaned SST's key range closes that gap.
	if maxOnDisk := vs.scanForMaxFileNumber(); maxOnDisk >= atomic.LoadUint64(&vs.nextFileNumber) {
		atomic.StoreUint64(&vs.nextFileNumber, maxOnDisk+1)
	}
	if maxSeqOnDisk := vs.scanForMaxSequenceNumber(); maxSeqOnDisk > atomic.LoadUint64(&vs.lastSequence) {
		atomic.StoreUint64(&vs.lastSequence, maxSeqOnDisk)
	}

	vs.manifestFileNumber = manifestNum
	vs.current = builder.SaveTo(vs)
	if vs.opts.Finalizer != nil {
		vs.opts.Finalizer(vs.current)
	}
	vs.current.Ref()
	vs.appendVersion(vs.current)

	vs.opts.Logger.Infof("%srecovered manifest %s, last sequence %d, next file %d",
		logging.NSRecovery, manifestName, vs.lastSequence, atomic.LoadUint64(&vs.nextFileNumber))

	return nil
}

// scanForMaxFileNumber returns the highest file number named by any
// .sst, .log, or MANIFEST-* entry in the database directory.
func (vs *VersionSet) scanForMaxFileNumber() uint64 {
	entries, err := vs.opts.FS.Children(vs.opts.DBName)
	if err != nil {
		return 0
	}

	var maxNum uint64
	for _, name := range entries {
		var num uint64
		switch {
		case strings.HasSuffix(name, ".sst"), strings.HasSuffix(name, ".log"):
			numStr := strings.TrimSuffix(strings.TrimSuffix(name, ".sst"), ".log")
			if parsed, err := strconv.ParseUint(numStr, 10, 64); err == nil {
				num = parsed
			}
		default:
			if numStr, ok := strings.CutPrefix(name, "MANIFEST-"); ok {
				if parsed, err := strconv.ParseUint(numStr, 10, 64); err == nil {
					num = parsed
				}
			}
		}
		if num > maxNum {
			maxNum = num
		}
	}
	return maxNum
}

// scanForMaxSequenceNumber returns the highest sequence number found
// among every .sst file's keys, preferring the properties block's
// recorded maximum and falling back to a full scan when that's absent.
func (vs *VersionSet) scanForMaxSequenceNumber() uint64 {
	entries, err := vs.opts.FS.Children(vs.opts.DBName)
	if err != nil {
		return 0
	}

	var maxSeq uint64
	for _, name := range entries {
		if !strings.HasSuffix(name, ".sst") {
			continue
		}
		sstPath := filepath.Join(vs.opts.DBName, name)

		file, err := vs.opts.FS.OpenRandomAccess(sstPath)
		if err != nil {
			continue
		}

		reader, err := table.Open(file, table.ReaderOptions{VerifyChecksums: false})
		if err != nil {
			_ = file.Close()
			continue
		}

		if props, err := reader.Properties(); err == nil && props != nil && props.KeyLargestSeqno > 0 {
			if props.KeyLargestSeqno > maxSeq {
				maxSeq = props.KeyLargestSeqno
			}
			_ = reader.Close()
			continue
		}

		iter := reader.NewIterator()
		for iter.SeekToFirst(); iter.Valid(); iter.Next() {
			key := iter.Key()
			if len(key) >= 8 {
				trailer := uint64(key[len(key)-8]) |
					uint64(key[len(key)-7])<<8 |
					uint64(key[len(key)-6])<<16 |
					uint64(key[len(key)-5])<<24 |
					uint64(key[len(key)-4])<<32 |
					uint64(key[len(key)-3])<<40 |
					uint64(key[len(key)-2])<<48 |
					uint64(key[len(key)-1])<<56
				if seq := trailer >> 8; seq > maxSeq {
					maxSeq = seq
				}
			}
		}
		_ = reader.Close()
	}

	return maxSeq
}

// LogAndApply folds edit onto the current version, persists it to the
// MANIFEST, and installs the resulting version as current.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	builder := NewBuilder(vs, vs.current)
	if err := builder.Apply(edit); err != nil {
		return err
	}
	newVersion := builder.SaveTo(vs)
	if vs.opts.Finalizer != nil {
		vs.opts.Finalizer(newVersion)
	}

	// Persist NextFileNumber with every edit so recovery never reuses
	// a file number, even one never otherwise referenced.
	edit.HasNextFileNumber = true
	edit.NextFileNumber = atomic.LoadUint64(&vs.nextFileNumber)

	encoded := edit.EncodeTo()

	// A fresh manifest is needed on the very first write, or once the
	// active one has grown past MaxManifestFileSize; either way we
	// start it with a snapshot edit rather than the oversized file's
	// full history.
	needsFreshManifest := vs.manifestWriter == nil ||
		(vs.opts.MaxManifestFileSize > 0 && vs.manifestFileSize >= vs.opts.MaxManifestFileSize)

	newManifest := false
	if needsFreshManifest {
		oldFile := vs.manifestFile
		manifestNum := vs.NextFileNumber()
		manifestPath := vs.manifestFilePath(manifestNum)

		file, err := vs.opts.FS.Create(manifestPath)
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file)
		vs.manifestFileNumber = manifestNum
		vs.manifestFileSize = 0
		newManifest = true

		vs.opts.Logger.Infof("%srolling manifest to %s", logging.NSManifest, manifestPath)

		snapshot := vs.writeSnapshot()
		snapshotEncoded := snapshot.EncodeTo()
		n, err := vs.manifestWriter.AddRecord(snapshotEncoded)
		if err != nil {
			return err
		}
		vs.manifestFileSize += uint64(n)

		if oldFile != nil {
			_ = oldFile.Close()
		}
	}

	n, err := vs.manifestWriter.AddRecord(encoded)
	if err != nil {
		return err
	}
	vs.manifestFileSize += uint64(n)

	// Sync the MANIFEST before CURRENT can possibly point at it, so a
	// crash never leaves CURRENT naming a manifest with a dangling tail.
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}

	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}

	if edit.HasLastSequence && uint64(edit.LastSequence) > atomic.LoadUint64(&vs.lastSequence) {
		atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
	}

	for _, cp := range edit.CompactPointers {
		if cp.Level >= 0 && cp.Level < MaxNumLevels {
			vs.compactPointers[cp.Level] = cp.Key
		}
	}

	vs.appendVersion(newVersion)
	newVersion.Ref()
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = newVersion

	return nil
}

// SyncManifest fsyncs the active MANIFEST file.
func (vs *VersionSet) SyncManifest() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile == nil {
		return nil
	}
	return vs.manifestFile.Sync()
}

// writeSnapshot builds a genesis-style VersionEdit whose added-files
// list reconstitutes the entire current Version, the record a fresh
// MANIFEST always opens with.
func (vs *VersionSet) writeSnapshot() *manifest.VersionEdit {
	edit := &manifest.VersionEdit{
		HasComparator:     true,
		Comparator:        "leveldb.BytewiseComparator",
		HasLogNumber:      true,
		LogNumber:         vs.logNumber,
		HasNextFileNumber: true,
		NextFileNumber:    atomic.LoadUint64(&vs.nextFileNumber),
		HasLastSequence:   true,
		LastSequence:      manifest.SequenceNumber(atomic.LoadUint64(&vs.lastSequence)),
	}

	if vs.current != nil {
		for level := range MaxNumLevels {
			for _, f := range vs.current.files[level] {
				edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{Level: level, Meta: f})
			}
		}
	}

	return edit
}

// setCurrentFile atomically repoints CURRENT at manifestNum: write a
// temp file, sync it, rename over CURRENT, then sync the directory so
// the rename itself survives a crash.
func (vs *VersionSet) setCurrentFile(manifestNum uint64) error {
	manifestName := fmt.Sprintf("MANIFEST-%06d", manifestNum)
	tempPath := filepath.Join(vs.opts.DBName, "CURRENT.tmp")
	currentPath := filepath.Join(vs.opts.DBName, "CURRENT")

	tempFile, err := vs.opts.FS.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create CURRENT.tmp: %w", err)
	}
	if _, err := tempFile.Write([]byte(manifestName + "\n")); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("write CURRENT.tmp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("sync CURRENT.tmp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("close CURRENT.tmp: %w", err)
	}
	if err := vs.opts.FS.Rename(tempPath, currentPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("rename CURRENT: %w", err)
	}
	if err := vs.opts.FS.SyncDir(vs.opts.DBName); err != nil {
		return fmt.Errorf("sync dir after CURRENT rename: %w", err)
	}
	return nil
}

// manifestFilePath returns the path of the MANIFEST file numbered num.
func (vs *VersionSet) manifestFilePath(num uint64) string {
	return filepath.Join(vs.opts.DBName, fmt.Sprintf("MANIFEST-%06d", num))
}

// appendVersion links v at the tail of the live-version list.
func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

// Create initializes a brand new database: an empty current version
// and a genesis MANIFEST recording the comparator name.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.opts.Logger.Infof("%screating new database at %s", logging.NSDB, vs.opts.DBName)

	vs.current = NewVersion(vs, vs.NextVersionNumber())
	if vs.opts.Finalizer != nil {
		vs.opts.Finalizer(vs.current)
	}
	vs.current.Ref()
	vs.appendVersion(vs.current)

	comparatorName := vs.opts.ComparatorName
	if comparatorName == "" {
		comparatorName = "leveldb.BytewiseComparator"
	}

	edit := &manifest.VersionEdit{
		HasComparator:     true,
		Comparator:        comparatorName,
		HasLogNumber:      true,
		LogNumber:         0,
		HasNextFileNumber: true,
		NextFileNumber:    atomic.LoadUint64(&vs.nextFileNumber),
		HasLastSequence:   true,
		LastSequence:      0,
	}

	return vs.logAndApplyLocked(edit)
}

// logAndApplyLocked is LogAndApply's genesis path: caller already holds
// vs.mu and there is no prior version to fold the edit onto.
func (vs *VersionSet) logAndApplyLocked(edit *manifest.VersionEdit) error {
	encoded := edit.EncodeTo()

	if vs.manifestWriter == nil {
		manifestNum := vs.NextFileNumber()
		manifestPath := vs.manifestFilePath(manifestNum)

		file, err := vs.opts.FS.Create(manifestPath)
		if err != nil {
			return err
		}
		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file)
		vs.manifestFileNumber = manifestNum
		vs.manifestFileSize = 0
	}

	n, err := vs.manifestWriter.AddRecord(encoded)
	if err != nil {
		return err
	}
	vs.manifestFileSize += uint64(n)
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}
	return vs.setCurrentFile(vs.manifestFileNumber)
}

// Close releases the MANIFEST file handle.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.manifestFile != nil {
		if err := vs.manifestFile.Close(); err != nil {
			return err
		}
		vs.manifestFile = nil
		vs.manifestWriter = nil
	}
	return nil
}

// NumLevelFiles returns the current version's file count at level.
func (vs *VersionSet) NumLevelFiles(level int) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return 0
	}
	return vs.current.NumFiles(level)
}

// NumLevelBytes returns the current version's byte total at level.
func (vs *VersionSet) NumLevelBytes(level int) uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return 0
	}
	return vs.current.NumLevelBytes(level)
}

// comparatorNamesMatch reports whether a MANIFEST's recorded comparator
// name matches the one the database is being opened with.
func comparatorNamesMatch(diskName, optName string) bool {
	return diskName == optName
}
