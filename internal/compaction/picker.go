// picker.go scores each Version for compaction need and selects the
// files a triggered compaction reads, following spec.md §4.5-4.6:
// priority order manual range > size > seek > none.
package compaction

import (
	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/manifest"
	"github.com/flintkv/flintkv/internal/version"
)

// L0CompactionTrigger is the L0 file count at which its compaction
// score reaches 1.0.
const L0CompactionTrigger = 4

// baseLevelBytes is L1's size budget; every deeper level's budget is
// ×10 of the level above it.
const baseLevelBytes = 10 * 1024 * 1024

// ExpandedCompactionSizeFactor bounds how much extra input-level data
// the re-expand step is willing to pull in, as a multiple of
// FileSizeLimit, so growing today's compaction never creates next
// compaction's oversized input.
const ExpandedCompactionSizeFactor = 25

// maxBytesForLevel returns Ln's size budget for n >= 1.
func maxBytesForLevel(level int) uint64 {
	bytes := uint64(baseLevelBytes)
	for i := 1; i < level; i++ {
		bytes *= 10
	}
	return bytes
}

// Picker scores Versions and selects compactions for a leveled LSM-tree.
type Picker struct {
	NumLevels     int
	FileSizeLimit uint64
}

// NewPicker returns a Picker for a tree with numLevels levels, cutting
// output files at fileSizeLimit bytes.
func NewPicker(numLevels int, fileSizeLimit uint64) *Picker {
	return &Picker{NumLevels: numLevels, FileSizeLimit: fileSizeLimit}
}

// Finalizer returns a version.VersionSetOptions.Finalizer bound to p,
// so every Version a VersionSet builds gets scored without version
// needing to import this package.
func (p *Picker) Finalizer() func(*version.Version) {
	return p.Finalize
}

// Finalize computes v's size-compaction score and the level it names,
// then stashes the result on v via SetCompactionTrigger. Called once,
// right after v is built and before it becomes the VersionSet's
// current Version, so PickCompaction never has to rescore.
func (p *Picker) Finalize(v *version.Version) {
	bestLevel := 0
	bestScore := float64(v.NumFiles(0)) / float64(L0CompactionTrigger)

	for level := 1; level < p.NumLevels-1; level++ {
		score := float64(v.NumLevelBytes(level)) / float64(maxBytesForLevel(level))
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}

	v.SetCompactionTrigger(bestScore, bestLevel)
}

// NeedsCompaction reports whether v has a size or seek compaction
// pending.
func (p *Picker) NeedsCompaction(v *version.Version) bool {
	if v.CompactionScore() >= 1.0 {
		return true
	}
	f, _ := v.PendingSeekCompaction()
	return f != nil
}

// PickCompaction selects the next compaction for v, in priority order
// manual range (when manualLevel >= 0) > size > seek > none (nil).
func (p *Picker) PickCompaction(v *version.Version, vs *version.VersionSet, manualLevel int, manualBegin, manualEnd []byte) *Compaction {
	if manualLevel >= 0 {
		if c := p.pickManualCompaction(v, manualLevel, manualBegin, manualEnd); c != nil {
			c.Reason = ReasonManual
			return c
		}
		return nil
	}

	if v.CompactionScore() >= 1.0 {
		if c := p.pickSizeCompaction(v, vs, v.CompactionLevel(), v.CompactionScore()); c != nil {
			return c
		}
	}

	if f, level := v.PendingSeekCompaction(); f != nil {
		if c := p.pickSeekCompaction(v, level, f); c != nil {
			return c
		}
	}

	return nil
}

// pickSizeCompaction builds a Compaction for the level the size score
// named: at L0, every non-busy L0 file (since they may overlap each
// other); at L1+, the first non-busy file past the level's compaction
// pointer, falling back to the first file in the level.
func (p *Picker) pickSizeCompaction(v *version.Version, vs *version.VersionSet, level int, score float64) *Compaction {
	var startFiles []*manifest.FileMetaData

	if level == 0 {
		startFiles = availableFiles(v.Files(0))
		if len(startFiles) == 0 {
			return nil
		}
	} else {
		picked := pickFileAfterCompactPointer(v.Files(level), vs.CompactPointer(level))
		if picked == nil {
			return nil
		}
		startFiles = []*manifest.FileMetaData{picked}
	}

	c := p.buildCompaction(v, level, startFiles)
	if c == nil {
		return nil
	}
	c.Score = score
	c.Reason = ReasonSize
	return c
}

// pickSeekCompaction builds a Compaction around the single file whose
// seek budget a Version has exhausted.
func (p *Picker) pickSeekCompaction(v *version.Version, level int, f *manifest.FileMetaData) *Compaction {
	if f.BeingCompacted {
		return nil
	}
	c := p.buildCompaction(v, level, []*manifest.FileMetaData{f})
	if c == nil {
		return nil
	}
	c.Reason = ReasonSeek
	return c
}

// pickManualCompaction builds a Compaction over every non-busy file at
// manualLevel overlapping [begin, end], the CompactRange entry point.
func (p *Picker) pickManualCompaction(v *version.Version, manualLevel int, begin, end []byte) *Compaction {
	files := availableFiles(v.OverlappingInputs(manualLevel, begin, end))
	if len(files) == 0 {
		return nil
	}
	return p.buildCompaction(v, manualLevel, files)
}

// buildCompaction expands startFiles (already chosen at level) into a
// full Compaction: grows to cover any overlapping L0 siblings when
// level is 0, pulls in every overlapping file at level+1, then
// re-expands the start level when doing so is free. Returns nil if
// every candidate file is already being compacted.
func (p *Picker) buildCompaction(v *version.Version, level int, startFiles []*manifest.FileMetaData) *Compaction {
	inputFiles := startFiles
	if level == 0 {
		inputFiles = p.expandL0(v, startFiles)
	}
	if len(inputFiles) == 0 {
		return nil
	}

	smallest, largest := keyRange(inputFiles)
	outputLevel := level + 1

	nextLevelFiles := availableFiles(v.OverlappingInputs(outputLevel, smallest, largest))

	if level > 0 {
		inputFiles = p.reexpandStartLevel(v, level, inputFiles, nextLevelFiles, smallest, largest)
	}

	inputs := []*InputFiles{{Level: level, Files: inputFiles}}
	if len(nextLevelFiles) > 0 {
		inputs = append(inputs, &InputFiles{Level: outputLevel, Files: nextLevelFiles})
	}

	c := NewCompaction(inputs, outputLevel)
	c.MaxOutputFileSize = p.FileSizeLimit
	if outputLevel+1 < p.NumLevels {
		c.Grandparents = v.OverlappingInputs(outputLevel+1, c.SmallestKey, c.LargestKey)
	}
	c.IsTrivialMove = p.isTrivialMove(c)
	return c
}

// expandL0 grows an initial L0 file set to every other L0 file
// overlapping its key range, repeating until the set stops growing
// (L0 files may overlap transitively through a chain of ranges).
func (p *Picker) expandL0(v *version.Version, startFiles []*manifest.FileMetaData) []*manifest.FileMetaData {
	selected := make(map[uint64]*manifest.FileMetaData, len(startFiles))
	for _, f := range startFiles {
		selected[f.Number] = f
	}

	for {
		smallest, largest := keyRangeOf(selected)
		grew := false
		for _, f := range v.Files(0) {
			if f.BeingCompacted {
				continue
			}
			if _, already := selected[f.Number]; already {
				continue
			}
			if rangesOverlap(f.Smallest, f.Largest, smallest, largest) {
				selected[f.Number] = f
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	result := make([]*manifest.FileMetaData, 0, len(selected))
	for _, f := range selected {
		result = append(result, f)
	}
	return result
}

// reexpandStartLevel grows inputFiles (all from level) to include any
// other non-busy file at level whose range falls inside [smallest,
// largest]'s enlargement by nextLevelFiles, provided doing so neither
// changes nextLevelFiles nor pushes the combined input size past
// ExpandedCompactionSizeFactor * FileSizeLimit.
func (p *Picker) reexpandStartLevel(v *version.Version, level int, inputFiles, nextLevelFiles []*manifest.FileMetaData, smallest, largest []byte) []*manifest.FileMetaData {
	if len(nextLevelFiles) == 0 || p.FileSizeLimit == 0 {
		return inputFiles
	}

	expandedSmallest, expandedLargest := smallest, largest
	for _, f := range nextLevelFiles {
		if dbformat.CompareInternalKeys(f.Smallest, expandedSmallest) < 0 {
			expandedSmallest = f.Smallest
		}
		if dbformat.CompareInternalKeys(f.Largest, expandedLargest) > 0 {
			expandedLargest = f.Largest
		}
	}

	candidate := availableFiles(v.OverlappingInputs(level, expandedSmallest, expandedLargest))
	if len(candidate) <= len(inputFiles) {
		return inputFiles
	}

	recheck := availableFiles(v.OverlappingInputs(level+1, candidate[0].Smallest, candidate[len(candidate)-1].Largest))
	if len(recheck) != len(nextLevelFiles) {
		return inputFiles
	}

	var combinedSize uint64
	for _, f := range candidate {
		combinedSize += f.FileSize
	}
	for _, f := range nextLevelFiles {
		combinedSize += f.FileSize
	}
	if combinedSize > ExpandedCompactionSizeFactor*p.FileSizeLimit {
		return inputFiles
	}

	return candidate
}

// isTrivialMove reports whether c has exactly one input file, no
// overlap at the output level, and grandparent overlap of at most
// ExpandedCompactionSizeFactor * FileSizeLimit bytes, so it can be
// relinked to OutputLevel without rewriting any data.
func (p *Picker) isTrivialMove(c *Compaction) bool {
	if c.NumInputFiles() != 1 || len(c.Inputs) != 1 {
		return false
	}
	if len(c.Grandparents) > 0 {
		var grandparentBytes uint64
		for _, f := range c.Grandparents {
			grandparentBytes += f.FileSize
		}
		if grandparentBytes > ExpandedCompactionSizeFactor*p.FileSizeLimit {
			return false
		}
	}
	return true
}

func pickFileAfterCompactPointer(files []*manifest.FileMetaData, pointer dbformat.InternalKey) *manifest.FileMetaData {
	for _, f := range files {
		if f.BeingCompacted {
			continue
		}
		if pointer == nil || dbformat.CompareInternalKeys(f.Largest, pointer) > 0 {
			return f
		}
	}
	for _, f := range files {
		if !f.BeingCompacted {
			return f
		}
	}
	return nil
}

func availableFiles(files []*manifest.FileMetaData) []*manifest.FileMetaData {
	var out []*manifest.FileMetaData
	for _, f := range files {
		if !f.BeingCompacted {
			out = append(out, f)
		}
	}
	return out
}

func keyRange(files []*manifest.FileMetaData) (smallest, largest []byte) {
	for _, f := range files {
		if smallest == nil || dbformat.CompareInternalKeys(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if largest == nil || dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}

func keyRangeOf(files map[uint64]*manifest.FileMetaData) (smallest, largest []byte) {
	for _, f := range files {
		if smallest == nil || dbformat.CompareInternalKeys(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if largest == nil || dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}

// rangesOverlap reports whether internal-key ranges [aSmall, aLarge]
// and [bSmall, bLarge] intersect.
func rangesOverlap(aSmall, aLarge, bSmall, bLarge []byte) bool {
	if dbformat.CompareInternalKeys(aLarge, bSmall) < 0 {
		return false
	}
	if dbformat.CompareInternalKeys(aSmall, bLarge) > 0 {
		return false
	}
	return true
}
