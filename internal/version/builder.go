// builder.go implements Builder for applying edits to versions.
//
// Builder accumulates a sequence of edits and produces the next Version
// without materializing an intermediate copy per edit.
package version

import (
	"sort"

	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/manifest"
)

// Builder accumulates changes to a Version and produces a new Version.
//
// Usage:
//
//	b := NewBuilder(vset, baseVersion)
//	b.Apply(edit1)
//	b.Apply(edit2)
//	next := b.SaveTo(vset)
type Builder struct {
	vset *VersionSet
	base *Version

	addedFiles   [MaxNumLevels]map[uint64]*manifest.FileMetaData
	deletedFiles [MaxNumLevels]map[uint64]struct{}
}

// NewBuilder creates a Builder seeded from base.
func NewBuilder(vset *VersionSet, base *Version) *Builder {
	b := &Builder{vset: vset, base: base}
	for i := range MaxNumLevels {
		b.addedFiles[i] = make(map[uint64]*manifest.FileMetaData)
		b.deletedFiles[i] = make(map[uint64]struct{})
	}
	return b
}

// Apply folds one VersionEdit's deleted and added files into the builder.
func (b *Builder) Apply(edit *manifest.VersionEdit) error {
	for _, df := range edit.DeletedFiles {
		if df.Level < 0 || df.Level >= MaxNumLevels {
			continue
		}
		if _, wasAdded := b.addedFiles[df.Level][df.FileNumber]; wasAdded {
			delete(b.addedFiles[df.Level], df.FileNumber)
			continue
		}
		if _, alreadyDeleted := b.deletedFiles[df.Level][df.FileNumber]; alreadyDeleted {
			continue
		}
		b.deletedFiles[df.Level][df.FileNumber] = struct{}{}
	}

	for _, nf := range edit.NewFiles {
		if nf.Level < 0 || nf.Level >= MaxNumLevels {
			continue
		}
		delete(b.deletedFiles[nf.Level], nf.Meta.Number)
		b.addedFiles[nf.Level][nf.Meta.Number] = nf.Meta
	}

	return nil
}

// SaveTo materializes a new Version carrying base's files plus every
// accumulated edit.
func (b *Builder) SaveTo(vset *VersionSet) *Version {
	v := NewVersion(vset, vset.NextVersionNumber())

	for level := range MaxNumLevels {
		var files []*manifest.FileMetaData
		if b.base != nil {
			for _, f := range b.base.files[level] {
				if _, deleted := b.deletedFiles[level][f.Number]; deleted {
					continue
				}
				files = append(files, f)
			}
		}
		for _, f := range b.addedFiles[level] {
			if f.AllowedSeeks == 0 {
				f.AllowedSeeks = AllowedSeeksForFileSize(f.FileSize)
			}
			files = append(files, f)
		}

		if level == 0 {
			// L0 files may overlap; sort oldest-first so Get scans newest-first.
			sortL0FilesByFileNumber(files)
		} else {
			sortFilesBySmallestKey(files)
		}
		v.files[level] = files
	}

	return v
}

func sortL0FilesByFileNumber(files []*manifest.FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Number < files[j].Number
	})
}

func sortFilesBySmallestKey(files []*manifest.FileMetaData) {
	sort.Slice(files, func(i, j int) bool {
		return dbformat.CompareInternalKeys(files[i].Smallest, files[j].Smallest) < 0
	})
}
