// job.go implements Job, which executes a single Compaction: merging
// its input files in internal-key order, dropping entries the
// compaction is allowed to garbage-collect, and writing the surviving
// entries to one or more new output files.
package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/iterator"
	"github.com/flintkv/flintkv/internal/logging"
	"github.com/flintkv/flintkv/internal/manifest"
	"github.com/flintkv/flintkv/internal/table"
	"github.com/flintkv/flintkv/internal/version"
	"github.com/flintkv/flintkv/vfs"
)

// Job executes a single Compaction against a Version, producing a
// VersionEdit that deletes the inputs and adds the outputs.
type Job struct {
	compaction *Compaction
	dbPath     string
	fs         vfs.FS
	tableCache *table.TableCache
	version    *version.Version

	nextFileNum func() uint64

	// oldestSnapshot is the lowest sequence number any live snapshot
	// pins; entries at or below it are the only ones eligible to be
	// dropped by dedup or tombstone collection.
	oldestSnapshot dbformat.SequenceNumber

	outputFiles []*manifest.FileMetaData

	logger logging.Logger
}

// SetLogger sets the logger j reports compaction lifecycle events to.
// A nil logger is equivalent to logging.Discard.
func (j *Job) SetLogger(l logging.Logger) {
	j.logger = logging.OrDefault(l)
}

// NewJob builds a Job that will execute c against v, the Version it
// was picked from, allocating output file numbers from nextFileNum and
// treating any entry at or below oldestSnapshot as unobserved by a
// live snapshot.
func NewJob(c *Compaction, v *version.Version, dbPath string, fs vfs.FS, tableCache *table.TableCache, nextFileNum func() uint64, oldestSnapshot dbformat.SequenceNumber) *Job {
	return &Job{
		compaction:     c,
		version:        v,
		dbPath:         dbPath,
		fs:             fs,
		tableCache:     tableCache,
		nextFileNum:    nextFileNum,
		oldestSnapshot: oldestSnapshot,
		logger:         logging.Discard,
	}
}

// Run executes the compaction and returns the output files it
// produced. On error, any output files already written are removed
// before returning.
func (j *Job) Run() ([]*manifest.FileMetaData, error) {
	j.logger.Infof("%scompacting %d files (reason=%s) into level %d",
		logging.NSCompact, j.compaction.NumInputFiles(), j.compaction.Reason, j.compaction.OutputLevel)

	if j.compaction.IsTrivialMove {
		return j.doTrivialMove(), nil
	}

	iters, releases, err := j.openInputs()
	defer releases()
	if err != nil {
		j.logger.Errorf("%sopen compaction inputs: %v", logging.NSCompact, err)
		return nil, fmt.Errorf("open compaction inputs: %w", err)
	}

	merged := iterator.NewMergingIterator(iters, dbformat.CompareInternalKeys)
	if err := j.mergeInto(merged); err != nil {
		j.logger.Errorf("%scompaction failed: %v", logging.NSCompact, err)
		j.cleanupOutputs()
		return nil, err
	}

	j.logger.Infof("%scompaction produced %d output files", logging.NSCompact, len(j.outputFiles))
	return j.outputFiles, nil
}

// doTrivialMove relinks a single input file to OutputLevel without
// rewriting it, recording the move as a delete-then-add in the edit.
func (j *Job) doTrivialMove() []*manifest.FileMetaData {
	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			j.logger.Infof("%strivial move: file %d level %d -> %d", logging.NSCompact, f.Number, in.Level, j.compaction.OutputLevel)
			j.compaction.Edit.DeleteFile(in.Level, f.Number)
			j.compaction.Edit.AddFile(j.compaction.OutputLevel, f)
		}
	}
	return nil
}

func (j *Job) sstPath(fileNum uint64) string {
	return filepath.Join(j.dbPath, fmt.Sprintf("%06d.sst", fileNum))
}

// openInputs opens a table iterator per input file. The returned func
// releases every opened reader back to the table cache; call it
// whether or not Run succeeds.
func (j *Job) openInputs() ([]iterator.Iterator, func(), error) {
	var iters []iterator.Iterator
	var opened []uint64

	release := func() {
		for _, num := range opened {
			j.tableCache.Release(num)
		}
	}

	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			path := j.sstPath(f.Number)
			reader, err := j.tableCache.Get(f.Number, path)
			if err != nil {
				return nil, release, fmt.Errorf("open input file %d: %w", f.Number, err)
			}
			opened = append(opened, f.Number)
			iters = append(iters, &tableIteratorWrapper{iter: reader.NewIterator()})
		}
	}

	return iters, release, nil
}

// mergeInto walks merged in internal-key order, keeping or dropping
// each entry per spec's compaction rules, and writes survivors to
// output files, cutting a new one whenever the current one is full or
// growing further would blow the grandparent-overlap budget.
func (j *Job) mergeInto(merged *iterator.MergingIterator) error {
	var out *outputFile
	var builder *table.TableBuilder

	var currentUserKey []byte
	hasCurrentUserKey := false
	lastSequenceForKey := dbformat.MaxSequenceNumber

	finish := func() error {
		if builder == nil {
			return nil
		}
		if err := j.finishOutput(builder, out); err != nil {
			return err
		}
		builder = nil
		out = nil
		return nil
	}

	for merged.SeekToFirst(); merged.Valid(); merged.Next() {
		key := merged.Key()
		value := merged.Value()

		parsed, err := dbformat.ParseInternalKey(key)
		if err != nil {
			// Corrupt entries are dropped, never propagated to an
			// output file.
			continue
		}

		if !hasCurrentUserKey || dbformat.BytewiseCompare(parsed.UserKey, currentUserKey) != 0 {
			currentUserKey = append(currentUserKey[:0], parsed.UserKey...)
			hasCurrentUserKey = true
			lastSequenceForKey = dbformat.MaxSequenceNumber
		}

		drop := false
		if lastSequenceForKey <= j.oldestSnapshot {
			// A newer version of this user key already survived at or
			// below the oldest snapshot; this older one can never be
			// observed.
			drop = true
		} else if parsed.Type == dbformat.TypeDeletion &&
			parsed.Sequence <= j.oldestSnapshot &&
			j.isBaseLevelForKey(parsed.UserKey) {
			drop = true
		}
		lastSequenceForKey = parsed.Sequence

		if drop {
			continue
		}

		if builder != nil && j.shouldCutOutput(builder, out.smallest, key) {
			if err := finish(); err != nil {
				return err
			}
		}

		if builder == nil {
			var err error
			out, builder, err = j.startOutput()
			if err != nil {
				return err
			}
		}

		if err := builder.Add(key, value); err != nil {
			return fmt.Errorf("add to compaction output: %w", err)
		}
		if out.smallest == nil {
			out.smallest = append([]byte{}, key...)
		}
		out.largest = append(out.largest[:0], key...)
	}

	if err := merged.Error(); err != nil {
		return fmt.Errorf("compaction merge iterator: %w", err)
	}

	return finish()
}

// isBaseLevelForKey reports whether no file at a level deeper than
// OutputLevel could also hold userKey, the condition under which a
// tombstone for it is safe to drop.
func (j *Job) isBaseLevelForKey(userKey []byte) bool {
	for level := j.compaction.OutputLevel + 1; level < j.version.NumLevels(); level++ {
		for _, f := range j.version.Files(level) {
			if dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Largest)) <= 0 &&
				dbformat.BytewiseCompare(userKey, dbformat.ExtractUserKey(f.Smallest)) >= 0 {
				return false
			}
		}
	}
	return true
}

// shouldCutOutput reports whether the current output file should be
// finished before adding key: either it has reached MaxOutputFileSize,
// or extending it further would push its overlap with the grandparent
// (OutputLevel+1) set past the same budget re-expand uses, which would
// make some future compaction of those grandparents unnecessarily
// expensive. start is the current output file's first key.
func (j *Job) shouldCutOutput(builder *table.TableBuilder, start, key []byte) bool {
	if j.compaction.MaxOutputFileSize > 0 && builder.FileSize() >= j.compaction.MaxOutputFileSize {
		return true
	}
	if len(j.compaction.Grandparents) == 0 {
		return false
	}
	var overlapBytes uint64
	for _, g := range j.compaction.Grandparents {
		if dbformat.CompareInternalKeys(g.Smallest, key) <= 0 &&
			dbformat.CompareInternalKeys(g.Largest, start) >= 0 {
			overlapBytes += g.FileSize
		}
	}
	return overlapBytes > ExpandedCompactionSizeFactor*j.compaction.MaxOutputFileSize
}

type outputFile struct {
	fileNumber uint64
	file       vfs.WritableFile
	path       string
	smallest   []byte
	largest    []byte
}

func (j *Job) startOutput() (*outputFile, *table.TableBuilder, error) {
	fileNum := j.nextFileNum()
	path := j.sstPath(fileNum)

	file, err := j.fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create compaction output %s: %w", path, err)
	}

	builder := table.NewTableBuilder(file, table.DefaultBuilderOptions())
	return &outputFile{fileNumber: fileNum, file: file, path: path}, builder, nil
}

func (j *Job) finishOutput(builder *table.TableBuilder, out *outputFile) error {
	if err := builder.Finish(); err != nil {
		_ = out.file.Close()
		return fmt.Errorf("finish compaction output: %w", err)
	}
	fileSize := builder.FileSize()

	if err := out.file.Sync(); err != nil {
		_ = out.file.Close()
		return fmt.Errorf("sync compaction output: %w", err)
	}
	if err := out.file.Close(); err != nil {
		return fmt.Errorf("close compaction output: %w", err)
	}
	if err := j.fs.SyncDir(j.dbPath); err != nil {
		return fmt.Errorf("sync dir after compaction output: %w", err)
	}

	if err := j.validateOutput(out.path, fileSize); err != nil {
		return err
	}

	meta := &manifest.FileMetaData{
		Number:       out.fileNumber,
		FileSize:     fileSize,
		Smallest:     out.smallest,
		Largest:      out.largest,
		AllowedSeeks: version.AllowedSeeksForFileSize(fileSize),
	}
	j.outputFiles = append(j.outputFiles, meta)
	j.compaction.Edit.AddFile(j.compaction.OutputLevel, meta)
	return nil
}

// validateOutput reopens a just-written output file and scans it end
// to end, the sanity check spec.md requires before an output is
// trusted enough to enter the edit.
func (j *Job) validateOutput(path string, fileSize uint64) error {
	file, err := j.fs.OpenRandomAccess(path)
	if err != nil {
		return fmt.Errorf("reopen compaction output for validation: %w", err)
	}
	defer file.Close()

	reader, err := table.Open(file, table.ReaderOptions{VerifyChecksums: true})
	if err != nil {
		return fmt.Errorf("open compaction output for validation: %w", err)
	}
	defer reader.Close()

	it := reader.NewIterator()
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	return it.Error()
}

// cleanupOutputs removes every output file this job has already
// written, used when a later step of the same compaction fails.
func (j *Job) cleanupOutputs() {
	for _, f := range j.outputFiles {
		_ = j.fs.Remove(j.sstPath(f.Number))
	}
}

// tableIteratorWrapper adapts a *table.TableIterator to iterator.Iterator.
type tableIteratorWrapper struct {
	iter *table.TableIterator
}

func (w *tableIteratorWrapper) Valid() bool        { return w.iter.Valid() }
func (w *tableIteratorWrapper) Key() []byte        { return w.iter.Key() }
func (w *tableIteratorWrapper) Value() []byte      { return w.iter.Value() }
func (w *tableIteratorWrapper) SeekToFirst()       { w.iter.SeekToFirst() }
func (w *tableIteratorWrapper) SeekToLast()        { w.iter.SeekToLast() }
func (w *tableIteratorWrapper) Seek(target []byte) { w.iter.Seek(target) }
func (w *tableIteratorWrapper) Next()              { w.iter.Next() }
func (w *tableIteratorWrapper) Prev()              { w.iter.Prev() }
func (w *tableIteratorWrapper) Error() error        { return w.iter.Error() }
