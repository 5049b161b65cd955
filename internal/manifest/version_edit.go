// version_edit.go implements VersionEdit encoding and decoding.
//
// VersionEdit describes a set of changes to be applied to a Version:
// the comparator name (genesis edit only), log file numbers, the next
// file number, the last sequence number, per-level compaction
// pointers, deleted files, and added files. It is serialized as the
// payload of a single write-log record (see internal/wal) and appended
// to the MANIFEST file; recovery replays every logged edit in order to
// rebuild the current Version.
package manifest

import (
	"errors"

	"github.com/flintkv/flintkv/internal/dbformat"
	"github.com/flintkv/flintkv/internal/encoding"
)

// Errors returned during VersionEdit encoding/decoding.
var (
	ErrUnexpectedEndOfInput = errors.New("manifest: unexpected end of input")
	ErrInvalidFileMetadata  = errors.New("manifest: invalid file metadata")
	ErrUnknownTag           = errors.New("manifest: unknown tag")
)

// SequenceNumber represents a database sequence number.
type SequenceNumber = dbformat.SequenceNumber

// MaxSequenceNumber is the maximum valid sequence number.
const MaxSequenceNumber = dbformat.MaxSequenceNumber

// FileMetaData describes one SST file. Number, FileSize, Smallest, and
// Largest are the only fields that travel through the MANIFEST;
// AllowedSeeks and BeingCompacted are runtime bookkeeping a Version
// keeps alongside the persisted fields and never serializes.
type FileMetaData struct {
	Number   uint64
	FileSize uint64
	Smallest dbformat.InternalKey
	Largest  dbformat.InternalKey

	// AllowedSeeks counts down as reads land in this file; reaching
	// zero schedules it for a seek-driven compaction. Seeded on load
	// from FileSize (see the version package).
	AllowedSeeks int64

	// BeingCompacted marks a file already claimed by an in-flight
	// compaction, so a second compaction doesn't pick it again.
	BeingCompacted bool
}

// NewFileMetaData returns a zero-valued FileMetaData.
func NewFileMetaData() *FileMetaData {
	return &FileMetaData{}
}

// CompactPointerEntry records the key at which the next compaction at
// Level should resume, so round-robin compaction survives a restart.
type CompactPointerEntry struct {
	Level int
	Key   dbformat.InternalKey
}

// DeletedFileEntry names a file removed from Level by this edit.
type DeletedFileEntry struct {
	Level      int
	FileNumber uint64
}

// NewFileEntry adds Meta to Level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetaData
}

// VersionEdit is a delta applied to a Version to produce the next
// Version. Only the fields with their Has flag set are encoded.
type VersionEdit struct {
	HasComparator bool
	Comparator    string

	HasLogNumber bool
	LogNumber    uint64

	HasPrevLogNumber bool
	PrevLogNumber    uint64

	HasNextFileNumber bool
	NextFileNumber    uint64

	HasLastSequence bool
	LastSequence    SequenceNumber

	CompactPointers []CompactPointerEntry
	DeletedFiles    []DeletedFileEntry
	NewFiles        []NewFileEntry
}

// NewVersionEdit returns an empty VersionEdit.
func NewVersionEdit() *VersionEdit {
	return &VersionEdit{}
}

// Clear resets the edit to its zero value.
func (e *VersionEdit) Clear() {
	*e = VersionEdit{}
}

// SetComparatorName records the comparator name. Only the genesis edit
// (the first edit ever written for a database) sets this.
func (e *VersionEdit) SetComparatorName(name string) {
	e.HasComparator = true
	e.Comparator = name
}

// SetLogNumber records the WAL file number writes are currently going to.
func (e *VersionEdit) SetLogNumber(num uint64) {
	e.HasLogNumber = true
	e.LogNumber = num
}

// SetPrevLogNumber records the previous WAL file number, retained only
// to distinguish an old-format manifest during recovery.
func (e *VersionEdit) SetPrevLogNumber(num uint64) {
	e.HasPrevLogNumber = true
	e.PrevLogNumber = num
}

// SetNextFileNumber records the next file number to allocate.
func (e *VersionEdit) SetNextFileNumber(num uint64) {
	e.HasNextFileNumber = true
	e.NextFileNumber = num
}

// SetLastSequence records the last sequence number assigned.
func (e *VersionEdit) SetLastSequence(seq SequenceNumber) {
	e.HasLastSequence = true
	e.LastSequence = seq
}

// SetCompactPointer records the resume key for the next compaction at level.
func (e *VersionEdit) SetCompactPointer(level int, key dbformat.InternalKey) {
	e.CompactPointers = append(e.CompactPointers, CompactPointerEntry{Level: level, Key: key})
}

// DeleteFile records that fileNumber is no longer part of level.
func (e *VersionEdit) DeleteFile(level int, fileNumber uint64) {
	e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: level, FileNumber: fileNumber})
}

// AddFile records that meta is now part of level.
func (e *VersionEdit) AddFile(level int, meta *FileMetaData) {
	e.NewFiles = append(e.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// EncodeTo returns the edit's encoding, suitable as a write-log record
// payload.
func (e *VersionEdit) EncodeTo() []byte {
	var dst []byte
	if e.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(e.Comparator))
	}
	if e.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, e.LogNumber)
	}
	if e.HasPrevLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagPrevLogNumber))
		dst = encoding.AppendVarint64(dst, e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, e.NextFileNumber)
	}
	if e.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(e.LastSequence))
	}
	for _, cp := range e.CompactPointers {
		dst = encoding.AppendVarint32(dst, uint32(TagCompactPointer))
		dst = encoding.AppendVarint32(dst, uint32(cp.Level))
		dst = encoding.AppendLengthPrefixedSlice(dst, cp.Key)
	}
	for _, df := range e.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.FileNumber)
	}
	for _, nf := range e.NewFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagNewFile))
		dst = encoding.AppendVarint32(dst, uint32(nf.Level))
		dst = encoding.AppendVarint64(dst, nf.Meta.Number)
		dst = encoding.AppendVarint64(dst, nf.Meta.FileSize)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Smallest)
		dst = encoding.AppendLengthPrefixedSlice(dst, nf.Meta.Largest)
	}
	return dst
}

// DecodeFrom replaces the edit's contents with the edit encoded in src.
func (e *VersionEdit) DecodeFrom(src []byte) error {
	e.Clear()

	s := encoding.NewSlice(src)
	for s.Remaining() > 0 {
		rawTag, ok := s.GetVarint32()
		if !ok {
			return ErrUnexpectedEndOfInput
		}

		switch Tag(rawTag) {
		case TagComparator:
			name, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.HasComparator = true
			e.Comparator = string(name)

		case TagLogNumber:
			v, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.HasLogNumber = true
			e.LogNumber = v

		case TagPrevLogNumber:
			v, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.HasPrevLogNumber = true
			e.PrevLogNumber = v

		case TagNextFileNumber:
			v, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.HasNextFileNumber = true
			e.NextFileNumber = v

		case TagLastSequence:
			v, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.HasLastSequence = true
			e.LastSequence = SequenceNumber(v)

		case TagCompactPointer:
			level, ok := s.GetVarint32()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			key, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.CompactPointers = append(e.CompactPointers, CompactPointerEntry{
				Level: int(level),
				Key:   dbformat.InternalKey(append([]byte(nil), key...)),
			})

		case TagDeletedFile:
			level, ok := s.GetVarint32()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			num, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{
				Level:      int(level),
				FileNumber: num,
			})

		case TagNewFile:
			level, ok := s.GetVarint32()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			number, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			size, ok := s.GetVarint64()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			smallest, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			largest, ok := s.GetLengthPrefixedSlice()
			if !ok {
				return ErrUnexpectedEndOfInput
			}
			if !dbformat.InternalKey(smallest).Valid() || !dbformat.InternalKey(largest).Valid() {
				return ErrInvalidFileMetadata
			}
			e.NewFiles = append(e.NewFiles, NewFileEntry{
				Level: int(level),
				Meta: &FileMetaData{
					Number:   number,
					FileSize: size,
					Smallest: dbformat.InternalKey(append([]byte(nil), smallest...)),
					Largest:  dbformat.InternalKey(append([]byte(nil), largest...)),
				},
			})

		default:
			return ErrUnknownTag
		}
	}

	return nil
}
