package manifest

import (
	"bytes"
	"testing"

	"github.com/flintkv/flintkv/internal/dbformat"
)

func internalKey(userKey string, seq dbformat.SequenceNumber) dbformat.InternalKey {
	return dbformat.NewInternalKey([]byte(userKey), seq, dbformat.TypeValue)
}

func TestTagConstants(t *testing.T) {
	tests := []struct {
		tag  Tag
		want uint32
	}{
		{TagComparator, 1},
		{TagLogNumber, 2},
		{TagNextFileNumber, 3},
		{TagLastSequence, 4},
		{TagCompactPointer, 5},
		{TagDeletedFile, 6},
		{TagNewFile, 7},
		{TagPrevLogNumber, 9},
	}
	for _, tt := range tests {
		if uint32(tt.tag) != tt.want {
			t.Errorf("tag %v = %d, want %d", tt.tag, uint32(tt.tag), tt.want)
		}
	}
}

func TestVersionEditEmpty(t *testing.T) {
	ve := NewVersionEdit()
	encoded := ve.EncodeTo()

	if len(encoded) != 0 {
		t.Errorf("empty VersionEdit encoded to %d bytes, want 0", len(encoded))
	}

	ve2 := NewVersionEdit()
	if err := ve2.DecodeFrom(encoded); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
}

func TestVersionEditComparator(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetComparatorName("leveldb.BytewiseComparator")

	ve2 := roundTrip(t, ve)
	if !ve2.HasComparator || ve2.Comparator != "leveldb.BytewiseComparator" {
		t.Errorf("Comparator: has=%v, val=%q", ve2.HasComparator, ve2.Comparator)
	}
}

func TestVersionEditLogNumbers(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetLogNumber(100)
	ve.SetPrevLogNumber(99)

	ve2 := roundTrip(t, ve)
	if !ve2.HasLogNumber || ve2.LogNumber != 100 {
		t.Errorf("LogNumber: has=%v, val=%d", ve2.HasLogNumber, ve2.LogNumber)
	}
	if !ve2.HasPrevLogNumber || ve2.PrevLogNumber != 99 {
		t.Errorf("PrevLogNumber: has=%v, val=%d", ve2.HasPrevLogNumber, ve2.PrevLogNumber)
	}
}

func TestVersionEditNextFileAndSequence(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetNextFileNumber(1000)
	ve.SetLastSequence(999)

	ve2 := roundTrip(t, ve)
	if !ve2.HasNextFileNumber || ve2.NextFileNumber != 1000 {
		t.Errorf("NextFileNumber: has=%v, val=%d", ve2.HasNextFileNumber, ve2.NextFileNumber)
	}
	if !ve2.HasLastSequence || ve2.LastSequence != 999 {
		t.Errorf("LastSequence: has=%v, val=%d", ve2.HasLastSequence, ve2.LastSequence)
	}
}

func TestVersionEditCompactPointer(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetCompactPointer(1, internalKey("cursor", 7))
	ve.SetCompactPointer(0, internalKey("other", 3))

	ve2 := roundTrip(t, ve)
	if len(ve2.CompactPointers) != 2 {
		t.Fatalf("CompactPointers count = %d, want 2", len(ve2.CompactPointers))
	}
	if ve2.CompactPointers[0].Level != 1 || !bytes.Equal(ve2.CompactPointers[0].Key, internalKey("cursor", 7)) {
		t.Errorf("CompactPointers[0] = %+v", ve2.CompactPointers[0])
	}
}

func TestVersionEditDeletedFiles(t *testing.T) {
	ve := NewVersionEdit()
	ve.DeleteFile(0, 10)
	ve.DeleteFile(1, 20)
	ve.DeleteFile(2, 30)

	ve2 := roundTrip(t, ve)
	if len(ve2.DeletedFiles) != 3 {
		t.Fatalf("DeletedFiles count = %d, want 3", len(ve2.DeletedFiles))
	}
	expected := []DeletedFileEntry{
		{Level: 0, FileNumber: 10},
		{Level: 1, FileNumber: 20},
		{Level: 2, FileNumber: 30},
	}
	for i, df := range ve2.DeletedFiles {
		if df != expected[i] {
			t.Errorf("DeletedFiles[%d] = %+v, want %+v", i, df, expected[i])
		}
	}
}

func TestVersionEditNewFile(t *testing.T) {
	ve := NewVersionEdit()

	meta := NewFileMetaData()
	meta.Number = 100
	meta.FileSize = 5000
	meta.Smallest = internalKey("aaa", 10)
	meta.Largest = internalKey("zzz", 50)

	ve.AddFile(2, meta)

	ve2 := roundTrip(t, ve)
	if len(ve2.NewFiles) != 1 {
		t.Fatalf("NewFiles count = %d, want 1", len(ve2.NewFiles))
	}

	nf := ve2.NewFiles[0]
	if nf.Level != 2 {
		t.Errorf("Level = %d, want 2", nf.Level)
	}
	m := nf.Meta
	if m.Number != 100 {
		t.Errorf("Number = %d, want 100", m.Number)
	}
	if m.FileSize != 5000 {
		t.Errorf("FileSize = %d, want 5000", m.FileSize)
	}
	if !bytes.Equal(m.Smallest, meta.Smallest) {
		t.Errorf("Smallest = %x, want %x", m.Smallest, meta.Smallest)
	}
	if !bytes.Equal(m.Largest, meta.Largest) {
		t.Errorf("Largest = %x, want %x", m.Largest, meta.Largest)
	}
}

func TestVersionEditClear(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetComparatorName("test")
	ve.SetLogNumber(100)
	ve.DeleteFile(0, 10)

	ve.Clear()

	if ve.HasComparator || ve.HasLogNumber || len(ve.DeletedFiles) != 0 {
		t.Error("Clear() did not reset all fields")
	}
}

func TestVersionEditComplex(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetComparatorName("leveldb.BytewiseComparator")
	ve.SetLogNumber(100)
	ve.SetNextFileNumber(200)
	ve.SetLastSequence(50)

	ve.DeleteFile(0, 10)
	ve.DeleteFile(1, 20)

	meta1 := NewFileMetaData()
	meta1.Number = 30
	meta1.FileSize = 1000
	meta1.Smallest = internalKey("a", 1)
	meta1.Largest = internalKey("m", 10)
	ve.AddFile(0, meta1)

	meta2 := NewFileMetaData()
	meta2.Number = 31
	meta2.FileSize = 2000
	meta2.Smallest = internalKey("n", 11)
	meta2.Largest = internalKey("z", 20)
	ve.AddFile(1, meta2)

	ve2 := roundTrip(t, ve)

	if ve2.Comparator != "leveldb.BytewiseComparator" {
		t.Errorf("Comparator = %q", ve2.Comparator)
	}
	if ve2.LogNumber != 100 {
		t.Errorf("LogNumber = %d", ve2.LogNumber)
	}
	if ve2.NextFileNumber != 200 {
		t.Errorf("NextFileNumber = %d", ve2.NextFileNumber)
	}
	if ve2.LastSequence != 50 {
		t.Errorf("LastSequence = %d", ve2.LastSequence)
	}
	if len(ve2.DeletedFiles) != 2 {
		t.Errorf("DeletedFiles count = %d", len(ve2.DeletedFiles))
	}
	if len(ve2.NewFiles) != 2 {
		t.Errorf("NewFiles count = %d", len(ve2.NewFiles))
	}
}

func TestVersionEditDecodeError(t *testing.T) {
	ve := NewVersionEdit()
	err := ve.DecodeFrom([]byte{0x01}) // tag with no value
	if err != ErrUnexpectedEndOfInput {
		t.Errorf("err = %v, want ErrUnexpectedEndOfInput", err)
	}
}

func TestVersionEditUnknownTag(t *testing.T) {
	ve := NewVersionEdit()
	err := ve.DecodeFrom([]byte{99}) // tag 99 does not exist
	if err != ErrUnknownTag {
		t.Errorf("err = %v, want ErrUnknownTag", err)
	}
}

func TestVersionEditEncodeDecodeConsistency(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetComparatorName("test-db")
	ve.SetLogNumber(100)

	encoded1 := ve.EncodeTo()
	ve2 := NewVersionEdit()
	if err := ve2.DecodeFrom(encoded1); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	encoded2 := ve2.EncodeTo()

	if !bytes.Equal(encoded1, encoded2) {
		t.Error("double encode-decode is not idempotent")
	}
}

func TestVersionEditMultipleFiles(t *testing.T) {
	ve := NewVersionEdit()
	for level := range 7 {
		for i := range 10 {
			meta := NewFileMetaData()
			meta.Number = uint64(level*100 + i)
			meta.FileSize = uint64(1000 + i)
			meta.Smallest = internalKey(string(rune('a'+i)), dbformat.SequenceNumber(i))
			meta.Largest = internalKey(string(rune('z'-i)), dbformat.SequenceNumber(i+10))
			ve.AddFile(level, meta)
		}
	}

	ve2 := roundTrip(t, ve)
	if len(ve2.NewFiles) != 70 {
		t.Errorf("NewFiles count = %d, want 70", len(ve2.NewFiles))
	}
}

func TestVersionEditDeletedFilesVarious(t *testing.T) {
	ve := NewVersionEdit()
	for level := range 7 {
		for i := range 5 {
			ve.DeleteFile(level, uint64(level*100+i))
		}
	}

	ve2 := roundTrip(t, ve)
	if len(ve2.DeletedFiles) != 35 {
		t.Errorf("DeletedFiles count = %d, want 35", len(ve2.DeletedFiles))
	}
}

func TestVersionEditEmptyComparatorString(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetComparatorName("")

	ve2 := roundTrip(t, ve)
	if !ve2.HasComparator || ve2.Comparator != "" {
		t.Errorf("Comparator: has=%v, val=%q", ve2.HasComparator, ve2.Comparator)
	}
}

func TestVersionEditLargeSequenceNumbers(t *testing.T) {
	ve := NewVersionEdit()
	ve.SetLastSequence(MaxSequenceNumber)
	ve.SetLogNumber(uint64(MaxSequenceNumber) - 1)
	ve.SetNextFileNumber(uint64(MaxSequenceNumber) - 2)

	ve2 := roundTrip(t, ve)
	if ve2.LastSequence != MaxSequenceNumber {
		t.Errorf("LastSequence = %d, want %d", ve2.LastSequence, MaxSequenceNumber)
	}
}

func TestVersionEditNewFileMinimalMetadata(t *testing.T) {
	ve := NewVersionEdit()

	meta := NewFileMetaData()
	meta.Number = 1
	meta.FileSize = 100
	meta.Smallest = internalKey("", 0)
	meta.Largest = internalKey("", 0)

	ve.AddFile(0, meta)

	ve2 := roundTrip(t, ve)
	if len(ve2.NewFiles) != 1 {
		t.Fatalf("NewFiles count = %d, want 1", len(ve2.NewFiles))
	}
	if ve2.NewFiles[0].Meta.Number != 1 {
		t.Errorf("Number = %d, want 1", ve2.NewFiles[0].Meta.Number)
	}
}

// Fuzz test for VersionEdit.
func FuzzVersionEditRoundtrip(f *testing.F) {
	ve := NewVersionEdit()
	ve.SetLogNumber(100)
	f.Add(ve.EncodeTo())

	f.Fuzz(func(t *testing.T, data []byte) {
		ve := NewVersionEdit()
		if err := ve.DecodeFrom(data); err != nil {
			return // invalid input is fine
		}

		encoded := ve.EncodeTo()

		ve2 := NewVersionEdit()
		if err := ve2.DecodeFrom(encoded); err != nil {
			t.Errorf("re-decode failed: %v", err)
		}
	})
}

func roundTrip(t *testing.T, ve *VersionEdit) *VersionEdit {
	t.Helper()
	encoded := ve.EncodeTo()
	ve2 := NewVersionEdit()
	if err := ve2.DecodeFrom(encoded); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	return ve2
}
