package block

import (
	"bytes"
	"errors"
	"testing"
)

// -----------------------------------------------------------------------------
// Footer tests
// -----------------------------------------------------------------------------

func TestFooterEncodeDecodeRoundtrip(t *testing.T) {
	footer := &Footer{
		MetaindexHandle: Handle{Offset: 100, Size: 200},
		IndexHandle:     Handle{Offset: 500, Size: 1000},
	}

	encoded := footer.EncodeTo()
	if len(encoded) != FooterEncodedLength {
		t.Fatalf("encoded length = %d, want %d", len(encoded), FooterEncodedLength)
	}

	decoded, err := DecodeFooter(encoded)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}
	if decoded.MetaindexHandle != footer.MetaindexHandle {
		t.Errorf("MetaindexHandle = %+v, want %+v", decoded.MetaindexHandle, footer.MetaindexHandle)
	}
	if decoded.IndexHandle != footer.IndexHandle {
		t.Errorf("IndexHandle = %+v, want %+v", decoded.IndexHandle, footer.IndexHandle)
	}
}

func TestFooterEncodeDecodeLargeHandles(t *testing.T) {
	footer := &Footer{
		MetaindexHandle: Handle{Offset: 1 << 40, Size: 1 << 20},
		IndexHandle:     Handle{Offset: 1 << 50, Size: 1 << 30},
	}
	encoded := footer.EncodeTo()
	decoded, err := DecodeFooter(encoded)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}
	if decoded.MetaindexHandle != footer.MetaindexHandle || decoded.IndexHandle != footer.IndexHandle {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
}

func TestFooterDecodeFromTrailingBytes(t *testing.T) {
	// DecodeFooter reads the last FooterEncodedLength bytes, so it should
	// tolerate a preceding data prefix (as when reading the tail of a file).
	footer := &Footer{
		MetaindexHandle: Handle{Offset: 10, Size: 20},
		IndexHandle:     Handle{Offset: 30, Size: 40},
	}
	encoded := footer.EncodeTo()
	withPrefix := append([]byte("some preceding table data"), encoded...)

	decoded, err := DecodeFooter(withPrefix)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}
	if decoded.MetaindexHandle != footer.MetaindexHandle || decoded.IndexHandle != footer.IndexHandle {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
}

func TestDecodeFooterErrors(t *testing.T) {
	// Too short.
	_, err := DecodeFooter([]byte{1, 2, 3})
	if !errors.Is(err, ErrBadFooter) {
		t.Errorf("expected ErrBadFooter for short data, got %v", err)
	}

	// Wrong magic number.
	buf := make([]byte, FooterEncodedLength)
	_, err = DecodeFooter(buf)
	if !errors.Is(err, ErrBadFooter) {
		t.Errorf("expected ErrBadFooter for zeroed magic, got %v", err)
	}
}

// -----------------------------------------------------------------------------
// Block accessor tests
// -----------------------------------------------------------------------------

func TestBlockAccessors(t *testing.T) {
	builder := NewBuilder(16)
	builder.Add([]byte("key1"), []byte("value1"))
	builder.Add([]byte("key2"), []byte("value2"))
	builder.Add([]byte("key3"), []byte("value3"))
	data := builder.Finish()

	block, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	if block.Size() != len(data) {
		t.Errorf("Size() = %d, want %d", block.Size(), len(data))
	}
	if !bytes.Equal(block.Data(), data) {
		t.Errorf("Data() mismatch")
	}

	dataEnd := block.DataEnd()
	if dataEnd <= 0 || dataEnd > len(data) {
		t.Errorf("DataEnd() = %d, invalid for block size %d", dataEnd, len(data))
	}
}

func TestBlockIteratorError(t *testing.T) {
	builder := NewBuilder(16)
	builder.Add([]byte("key1"), []byte("value1"))
	data := builder.Finish()

	block, err := NewBlock(data)
	if err != nil {
		t.Fatalf("NewBlock failed: %v", err)
	}

	iter := block.NewIterator()

	if iter.Error() != nil {
		t.Errorf("expected no error initially, got %v", iter.Error())
	}

	iter.SeekToFirst()
	if iter.Error() != nil {
		t.Errorf("expected no error after SeekToFirst, got %v", iter.Error())
	}
}

// -----------------------------------------------------------------------------
// Handle tests
// -----------------------------------------------------------------------------

func TestDecodeHandleFrom(t *testing.T) {
	tests := []Handle{
		{Offset: 0, Size: 0},
		{Offset: 100, Size: 200},
		{Offset: 1 << 32, Size: 1 << 20},
	}

	for _, h := range tests {
		encoded := h.EncodeToSlice()

		decoded, err := DecodeHandleFrom(encoded)
		if err != nil {
			t.Fatalf("DecodeHandleFrom failed: %v", err)
		}

		if decoded.Offset != h.Offset || decoded.Size != h.Size {
			t.Errorf("DecodeHandleFrom(%+v) = %+v", h, decoded)
		}
	}
}

func TestDecodeHandleFromError(t *testing.T) {
	_, err := DecodeHandleFrom([]byte{})
	if err == nil {
		t.Error("expected error for empty data")
	}

	_, err = DecodeHandleFrom([]byte{0x80})
	if err == nil {
		t.Error("expected error for truncated varint")
	}
}

// -----------------------------------------------------------------------------
// Builder size estimation tests
// -----------------------------------------------------------------------------

func TestBuilderSizeEstimation(t *testing.T) {
	builder := NewBuilder(16)

	initialSize := builder.FinishedLength()
	if initialSize < 4 {
		t.Errorf("initial size too small: %d", initialSize)
	}

	if builder.EstimatedSize() != builder.FinishedLength() {
		t.Error("EstimatedSize should equal FinishedLength")
	}
	if builder.CurrentSizeEstimate() != builder.FinishedLength() {
		t.Error("CurrentSizeEstimate should equal FinishedLength")
	}

	key := []byte("testkey")
	value := []byte("testvalue")
	estimatedAfter := builder.EstimateSizeAfterKV(key, value)

	if estimatedAfter <= initialSize {
		t.Errorf("EstimateSizeAfterKV should be larger: initial=%d, after=%d", initialSize, estimatedAfter)
	}

	builder.Add(key, value)
	actualSize := builder.FinishedLength()

	if actualSize > estimatedAfter+20 || actualSize < estimatedAfter-20 {
		t.Errorf("size estimate off: estimated=%d, actual=%d", estimatedAfter, actualSize)
	}
}

func TestBuilderEstimateSizeWithRestartPoint(t *testing.T) {
	builder := NewBuilder(2)

	for i := range 2 {
		key := []byte{byte('a' + i)}
		builder.Add(key, []byte("val"))
	}

	newKey := []byte("z")
	newVal := []byte("newval")
	estimated := builder.EstimateSizeAfterKV(newKey, newVal)

	builder.Add(newKey, newVal)
	actual := builder.FinishedLength()

	diff := estimated - actual
	if diff < 0 {
		diff = -diff
	}
	if diff > 30 {
		t.Errorf("estimate off by too much: estimated=%d, actual=%d", estimated, actual)
	}
}

// -----------------------------------------------------------------------------
// Magic number constants
// -----------------------------------------------------------------------------

func TestMagicNumberConstant(t *testing.T) {
	if TableMagicNumber != 0xdb4775248b80fb57 {
		t.Errorf("TableMagicNumber mismatch")
	}
}
