// Package version manages database versions and the LSM-tree structure.
//
// A Version is an immutable snapshot of the database state: the set of
// SST files at each level. A VersionSet owns the current Version, the
// MANIFEST file that records every edit applied to reach it, and the
// file-number/sequence-number counters a fresh Version is built from.
package version

import (
	"sync/atomic"

	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/manifest"
)

// MaxNumLevels is the number of levels in the LSM-tree.
const MaxNumLevels = 7

// Version is a reference-counted, immutable snapshot of the SST files at
// each level. New versions are produced by folding VersionEdits onto an
// existing one through a Builder; a Version itself is never mutated
// after NewVersion's caller finishes populating it.
type Version struct {
	files [MaxNumLevels][]*manifest.FileMetaData

	refs int32
	vset *VersionSet

	versionNumber uint64

	// prev/next link this Version into vset's list of live versions;
	// protected by vset.listMu, not the main vset.mu, so Unref never
	// has to take the lock LogAndApply holds while building an edit.
	prev *Version
	next *Version

	compactionScore float64
	compactionLevel int

	seekCompactionFile  *manifest.FileMetaData
	seekCompactionLevel int
}

// seekCompactionPerFileSize and minAllowedSeeks parameterize
// AllowedSeeksForFileSize the same way classic LevelDB does: one
// wasted seek is tolerated per 16 KiB of file, with a floor so small
// files aren't punished for a handful of unlucky reads.
const (
	seekCompactionPerFileSize = 16384
	minAllowedSeeks           = 100
	maxAllowedSeeks           = 1<<31 - 1
)

// AllowedSeeksForFileSize returns the number of wasted seeks a file of
// fileSize bytes tolerates before it becomes a seek-compaction
// candidate: max(minAllowedSeeks, fileSize/seekCompactionPerFileSize),
// clamped to what a 31-bit counter can hold.
func AllowedSeeksForFileSize(fileSize uint64) int64 {
	seeks := int64(fileSize / seekCompactionPerFileSize)
	if seeks < minAllowedSeeks {
		seeks = minAllowedSeeks
	}
	if seeks > maxAllowedSeeks {
		seeks = maxAllowedSeeks
	}
	return seeks
}

// NewVersion returns an empty Version with no files at any level.
func NewVersion(vset *VersionSet, versionNumber uint64) *Version {
	return &Version{vset: vset, versionNumber: versionNumber}
}

// Ref increments the reference count.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refs, 1)
}

// Unref decrements the reference count, unlinking the Version from its
// VersionSet's list once the count reaches zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) != 0 {
		return
	}
	if v.vset != nil {
		v.vset.listMu.Lock()
		defer v.vset.listMu.Unlock()
	}
	if v.prev != nil {
		v.prev.next = v.next
	}
	if v.next != nil {
		v.next.prev = v.prev
	}
	v.prev = nil
	v.next = nil
}

// NumLevels returns the number of levels a Version tracks.
func (v *Version) NumLevels() int { return MaxNumLevels }

// NumFiles returns the file count at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

// Files returns the files at level, L0 sorted oldest-first by file
// number, L1+ sorted by smallest key.
func (v *Version) Files(level int) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

// TotalFiles returns the file count summed across every level.
func (v *Version) TotalFiles() int {
	total := 0
	for level := range MaxNumLevels {
		total += len(v.files[level])
	}
	return total
}

// NumLevelBytes returns the total size in bytes of files at level.
func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FileSize
	}
	return size
}

// VersionNumber returns a monotonically increasing id useful for
// debugging and for ordering versions created within one process.
func (v *Version) VersionNumber() uint64 { return v.versionNumber }

// CompactionScore and CompactionLevel report the level most in need of
// compaction, as computed by the compaction package's Finalize step and
// stashed on the Version it was computed for.
func (v *Version) CompactionScore() float64 { return v.compactionScore }
func (v *Version) CompactionLevel() int     { return v.compactionLevel }

// SetCompactionTrigger records the outcome of scoring this Version,
// called once by the compaction package right after the Version is
// built and before it becomes the VersionSet's current Version.
func (v *Version) SetCompactionTrigger(score float64, level int) {
	v.compactionScore = score
	v.compactionLevel = level
}

// OverlappingInputs returns the files at level whose key range
// intersects [begin, end]. A nil begin or end means unbounded on that
// side.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*manifest.FileMetaData {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}

	var result []*manifest.FileMetaData
	for _, f := range v.files[level] {
		if begin != nil && len(f.Largest) > 0 && dbformat.CompareInternalKeys(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && len(f.Smallest) > 0 && dbformat.CompareInternalKeys(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// RecordReadSample debits the seek budget of the first file found to
// contain userKey whenever a second file at any level is also found to
// contain it: needing a second file to answer a lookup means the first
// file's presence there was a wasted seek. Once a file's budget is
// exhausted it becomes this Version's pending seek-compaction
// candidate (at most one per Version). Returns true the first time
// this call gives the Version a seek-compaction candidate it didn't
// already have.
func (v *Version) RecordReadSample(userKey []byte) bool {
	var matches int
	var firstFile *manifest.FileMetaData
	var firstLevel int

	for level := 0; level < MaxNumLevels && matches < 2; level++ {
		for _, f := range v.files[level] {
			if dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Smallest)) < 0 {
				continue
			}
			if dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Largest)) > 0 {
				continue
			}
			matches++
			if matches == 1 {
				firstFile = f
				firstLevel = level
			}
			if matches >= 2 {
				break
			}
		}
	}

	if matches < 2 || firstFile == nil {
		return false
	}

	firstFile.AllowedSeeks--
	if firstFile.AllowedSeeks > 0 || v.seekCompactionFile != nil {
		return false
	}
	v.seekCompactionFile = firstFile
	v.seekCompactionLevel = firstLevel
	return true
}

// PendingSeekCompaction returns the file (and its level) whose seek
// budget this Version has exhausted, or (nil, -1) if none.
func (v *Version) PendingSeekCompaction() (*manifest.FileMetaData, int) {
	if v.seekCompactionFile == nil {
		return nil, -1
	}
	return v.seekCompactionFile, v.seekCompactionLevel
}
