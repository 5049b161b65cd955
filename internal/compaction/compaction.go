// Package compaction picks and executes the background merges that
// keep the LSM-tree's per-level invariants (L0 may overlap, L1+ is
// disjoint and size-bounded) from drifting as writes and flushes add
// files faster than reads want to search through them.
package compaction

import (
	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/manifest"
)

// Reason records which trigger selected a Compaction, surfaced through
// logging and metrics so an operator can tell size pressure apart from
// seek pressure apart from an explicit CompactRange call.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonManual
	ReasonSize
	ReasonSeek
)

func (r Reason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonSize:
		return "size"
	case ReasonSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// InputFiles is one level's contribution to a Compaction: every file
// from that level the compaction will read and, for the lowest input
// level, ultimately delete.
type InputFiles struct {
	Level int
	Files []*manifest.FileMetaData
}

// Compaction describes one merge: which files to read, which level the
// merged output lands on, and the VersionEdit that will delete the
// inputs and add the outputs once the merge succeeds.
type Compaction struct {
	Inputs      []*InputFiles
	OutputLevel int

	// MaxOutputFileSize cuts a new output file once the current one
	// reaches this size.
	MaxOutputFileSize uint64

	// Grandparents are the OutputLevel+1 files the output key range
	// overlaps; growing overlap with them degrades the next
	// compaction's cost, so Job cuts a new output file once the current
	// one's overlap passes ExpandedCompactionSizeFactor*MaxOutputFileSize.
	Grandparents []*manifest.FileMetaData

	SmallestKey []byte
	LargestKey  []byte

	Edit *manifest.VersionEdit

	// IsTrivialMove is true when the compaction has exactly one input
	// file, nothing at the output level overlaps it, and its grandparent
	// overlap is at most ExpandedCompactionSizeFactor times the file
	// size limit: the file can be relinked to OutputLevel without
	// being rewritten.
	IsTrivialMove bool

	Score  float64
	Reason Reason
}

// NewCompaction builds a Compaction over inputs, landing on outputLevel.
func NewCompaction(inputs []*InputFiles, outputLevel int) *Compaction {
	c := &Compaction{
		Inputs:      inputs,
		OutputLevel: outputLevel,
		Edit:        manifest.NewVersionEdit(),
	}
	c.computeKeyRange()
	return c
}

// NumInputFiles returns the total file count across all input levels.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel returns the lowest (innermost) input level.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

func (c *Compaction) computeKeyRange() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			if c.SmallestKey == nil || dbformat.CompareInternalKeys(f.Smallest, c.SmallestKey) < 0 {
				c.SmallestKey = f.Smallest
			}
			if c.LargestKey == nil || dbformat.CompareInternalKeys(f.Largest, c.LargestKey) > 0 {
				c.LargestKey = f.Largest
			}
		}
	}
}

// AddInputDeletions records every input file's deletion in the edit,
// prior to AddFile calls for whatever the job produces.
func (c *Compaction) AddInputDeletions() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			c.Edit.DeleteFile(in.Level, f.Number)
		}
	}
}

// MarkFilesBeingCompacted flags (or unflags) every input file so the
// picker never selects it for a second, concurrent compaction.
func (c *Compaction) MarkFilesBeingCompacted(beingCompacted bool) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			f.BeingCompacted = beingCompacted
		}
	}
}
