package dbformat

import (
	"bytes"
	"errors"
	"testing"
)

func TestPackUnpackSequenceAndType(t *testing.T) {
	tests := []struct {
		name string
		seq  SequenceNumber
		typ  ValueType
	}{
		{"zero", 0, TypeDeletion},
		{"one_value", 1, TypeValue},
		{"max_seq", MaxSequenceNumber, TypeValue},
		{"mid_seq_deletion", 12345, TypeDeletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := PackSequenceAndType(tt.seq, tt.typ)
			gotSeq, gotType := UnpackSequenceAndType(packed)

			if gotSeq != tt.seq {
				t.Errorf("Sequence mismatch: got %d, want %d", gotSeq, tt.seq)
			}
			if gotType != tt.typ {
				t.Errorf("Type mismatch: got %d, want %d", gotType, tt.typ)
			}
		})
	}
}

func TestInternalKeyEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		userKey []byte
		seq     SequenceNumber
		typ     ValueType
	}{
		{"empty_key", []byte{}, 0, TypeValue},
		{"simple", []byte("hello"), 1, TypeValue},
		{"binary_key", []byte{0x00, 0x01, 0xFF}, 12345, TypeDeletion},
		{"max_seq", []byte("test"), MaxSequenceNumber, TypeDeletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewInternalKey(tt.userKey, tt.seq, tt.typ)

			expectedLen := len(tt.userKey) + NumInternalBytes
			if len(key) != expectedLen {
				t.Errorf("Key length = %d, want %d", len(key), expectedLen)
			}

			parsed, err := key.Parse()
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}

			if !bytes.Equal(parsed.UserKey, tt.userKey) {
				t.Errorf("UserKey mismatch: got %v, want %v", parsed.UserKey, tt.userKey)
			}
			if parsed.Sequence != tt.seq {
				t.Errorf("Sequence mismatch: got %d, want %d", parsed.Sequence, tt.seq)
			}
			if parsed.Type != tt.typ {
				t.Errorf("Type mismatch: got %d, want %d", parsed.Type, tt.typ)
			}

			if !bytes.Equal(key.UserKey(), tt.userKey) {
				t.Errorf("UserKey() mismatch")
			}
			if key.Sequence() != tt.seq {
				t.Errorf("Sequence() mismatch")
			}
			if key.Type() != tt.typ {
				t.Errorf("Type() mismatch")
			}
		})
	}
}

func TestInternalKeyValid(t *testing.T) {
	tests := []struct {
		name  string
		key   InternalKey
		valid bool
	}{
		{"valid_simple", NewInternalKey([]byte("test"), 1, TypeValue), true},
		{"valid_empty_user_key", NewInternalKey([]byte{}, 0, TypeValue), true},
		{"too_short", InternalKey([]byte{0, 1, 2}), false},
		{"empty", InternalKey([]byte{}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestParseInternalKeyErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", []byte{}, ErrKeyTooSmall},
		{"too_short_1", []byte{0x00}, ErrKeyTooSmall},
		{"too_short_7", []byte{0, 1, 2, 3, 4, 5, 6}, ErrKeyTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInternalKey(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseInternalKey error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseInternalKeyInvalidType(t *testing.T) {
	key := NewInternalKey([]byte("k"), 1, TypeValue)
	// corrupt the type byte (least-significant byte of the trailer) to an
	// unrecognized value.
	key[len(key)-NumInternalBytes] = 0x7f
	_, err := ParseInternalKey(key)
	if !errors.Is(err, ErrInvalidValueType) {
		t.Errorf("ParseInternalKey error = %v, want ErrInvalidValueType", err)
	}
}

func TestExtractFunctions(t *testing.T) {
	userKey := []byte("mykey")
	seq := SequenceNumber(12345)
	typ := TypeValue

	key := NewInternalKey(userKey, seq, typ)

	if !bytes.Equal(ExtractUserKey(key), userKey) {
		t.Error("ExtractUserKey mismatch")
	}
	if ExtractSequenceNumber(key) != seq {
		t.Error("ExtractSequenceNumber mismatch")
	}
	if ExtractValueType(key) != typ {
		t.Error("ExtractValueType mismatch")
	}
}

func TestParsedInternalKeyEncodedLength(t *testing.T) {
	pik := &ParsedInternalKey{
		UserKey:  []byte("hello"),
		Sequence: 100,
		Type:     TypeValue,
	}

	expectedLen := 5 + 8
	if pik.EncodedLength() != expectedLen {
		t.Errorf("EncodedLength() = %d, want %d", pik.EncodedLength(), expectedLen)
	}
}

func TestMaxSequenceNumber(t *testing.T) {
	expected := SequenceNumber((1 << 56) - 1)
	if MaxSequenceNumber != expected {
		t.Errorf("MaxSequenceNumber = %d, want %d", MaxSequenceNumber, expected)
	}

	packed := PackSequenceAndType(MaxSequenceNumber, TypeValue)
	gotSeq, _ := UnpackSequenceAndType(packed)
	if gotSeq != MaxSequenceNumber {
		t.Errorf("Max sequence roundtrip failed: got %d", gotSeq)
	}
}

// Golden test - binary trailer layout must match the on-disk format exactly.
func TestInternalKeyGoldenFormat(t *testing.T) {
	userKey := []byte("key")
	seq := SequenceNumber(0x123456789AB)
	typ := TypeValue

	key := NewInternalKey(userKey, seq, typ)

	// Packed = (0x123456789AB << 8) | 0x01 = 0x123456789AB01
	// Little-endian bytes: 0x01, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01, 0x00
	expectedTrailer := []byte{0x01, 0xAB, 0x89, 0x67, 0x45, 0x23, 0x01, 0x00}
	expected := append([]byte("key"), expectedTrailer...)

	if !bytes.Equal(key, expected) {
		t.Errorf("Internal key binary format mismatch:\ngot:  %v\nwant: %v", []byte(key), expected)
	}
}

func TestNewLookupKey(t *testing.T) {
	userKey := []byte("lookup")
	seq := SequenceNumber(42)
	lk := NewLookupKey(userKey, seq)

	if !bytes.Equal(lk.UserKey(), userKey) {
		t.Errorf("NewLookupKey UserKey mismatch")
	}
	if lk.Sequence() != seq {
		t.Errorf("NewLookupKey Sequence = %d, want %d", lk.Sequence(), seq)
	}
	if lk.Type() != ValueTypeForSeek {
		t.Errorf("NewLookupKey Type = %d, want %d", lk.Type(), ValueTypeForSeek)
	}

	// A lookup key for seq must sort before or at any real entry for the
	// same user key at the same sequence, regardless of that entry's type.
	realValue := NewInternalKey(userKey, seq, TypeValue)
	realDeletion := NewInternalKey(userKey, seq, TypeDeletion)
	if CompareInternalKeys(lk, realValue) > 0 {
		t.Errorf("lookup key sorts after a same-seq Value entry")
	}
	if CompareInternalKeys(lk, realDeletion) > 0 {
		t.Errorf("lookup key sorts after a same-seq Deletion entry")
	}
}

// TestInternalKeyEncodeDecodeComprehensive tests many different key/seq combinations.
func TestInternalKeyEncodeDecodeComprehensive(t *testing.T) {
	keys := []string{"", "k", "hello", "longggggggggggggggggggggg"}
	seqs := []SequenceNumber{
		1, 2, 3,
		(1 << 8) - 1, 1 << 8, (1 << 8) + 1,
		(1 << 16) - 1, 1 << 16, (1 << 16) + 1,
		(1 << 32) - 1, 1 << 32, (1 << 32) + 1,
	}

	for _, keyStr := range keys {
		for _, seq := range seqs {
			for _, typ := range []ValueType{TypeValue, TypeDeletion} {
				key := NewInternalKey([]byte(keyStr), seq, typ)
				parsed, err := key.Parse()
				if err != nil {
					t.Fatalf("Parse error for key=%q seq=%d type=%d: %v", keyStr, seq, typ, err)
				}
				if string(parsed.UserKey) != keyStr {
					t.Errorf("UserKey mismatch")
				}
				if parsed.Sequence != seq {
					t.Errorf("Sequence mismatch: got %d, want %d", parsed.Sequence, seq)
				}
				if parsed.Type != typ {
					t.Errorf("Type mismatch")
				}
			}
		}
	}
}

// TestInternalKeyCompare verifies comparison semantics: keys sort by user
// key ascending, then by trailer (sequence, then type) descending.
func TestInternalKeyCompare(t *testing.T) {
	k1 := NewInternalKey([]byte("foo"), 100, TypeValue)
	k2 := NewInternalKey([]byte("foo"), 99, TypeValue)
	k3 := NewInternalKey([]byte("foo"), 101, TypeValue)
	k4 := NewInternalKey([]byte("bar"), 100, TypeValue)
	k5 := NewInternalKey([]byte("foo"), 100, TypeDeletion)

	if CompareInternalKeys(k1, k2) >= 0 {
		t.Errorf("higher sequence should sort first: k1(seq=100) vs k2(seq=99)")
	}
	if CompareInternalKeys(k3, k1) >= 0 {
		t.Errorf("higher sequence should sort first: k3(seq=101) vs k1(seq=100)")
	}
	if CompareInternalKeys(k4, k1) >= 0 {
		t.Errorf("bar should sort before foo")
	}
	if CompareInternalKeys(k1, k5) >= 0 {
		t.Errorf("at equal sequence, Value should sort before Deletion")
	}
}

func TestNumInternalBytes(t *testing.T) {
	if NumInternalBytes != 8 {
		t.Errorf("NumInternalBytes = %d, want 8", NumInternalBytes)
	}
}

func TestValueTypeConstants(t *testing.T) {
	expectedTypes := map[ValueType]uint8{
		TypeDeletion: 0x0,
		TypeValue:    0x1,
	}

	for typ, expected := range expectedTypes {
		if uint8(typ) != expected {
			t.Errorf("ValueType constant %d has value %d, want %d", typ, uint8(typ), expected)
		}
	}
}

func TestInternalKeyUserKeySlice(t *testing.T) {
	original := []byte("myuserkey")
	key := NewInternalKey(original, 100, TypeValue)

	userKey := key.UserKey()

	if !bytes.Equal(userKey, original) {
		t.Errorf("UserKey mismatch")
	}
}

func TestPackingEdgeCases(t *testing.T) {
	tests := []struct {
		seq SequenceNumber
		typ ValueType
	}{
		{0, TypeDeletion},
		{0, TypeValue},
		{1, TypeDeletion},
		{MaxSequenceNumber, TypeDeletion},
		{(1 << 56) - 1, TypeValue},
	}

	for _, tt := range tests {
		packed := PackSequenceAndType(tt.seq, tt.typ)
		gotSeq, gotType := UnpackSequenceAndType(packed)

		if gotSeq != tt.seq {
			t.Errorf("Sequence roundtrip failed for seq=%d: got %d", tt.seq, gotSeq)
		}
		if gotType != tt.typ {
			t.Errorf("Type roundtrip failed for type=%d: got %d", tt.typ, gotType)
		}
	}
}

func TestParsedInternalKeyDebug(t *testing.T) {
	pik := &ParsedInternalKey{
		UserKey:  []byte("test"),
		Sequence: 12345,
		Type:     TypeValue,
	}

	str := pik.DebugString()
	if str == "" {
		t.Error("DebugString returned empty string")
	}
}

func TestParsedInternalKeyString(t *testing.T) {
	pik := &ParsedInternalKey{
		UserKey:  []byte("mykey"),
		Sequence: 999,
		Type:     TypeDeletion,
	}

	str := pik.String()
	if str == "" {
		t.Error("String returned empty string")
	}
	if !bytes.Contains([]byte(str), []byte("mykey")) {
		t.Errorf("String should contain user key: %s", str)
	}
}

func TestExtractUserKeyTooShort(t *testing.T) {
	shortKey := []byte("short")
	result := ExtractUserKey(shortKey)
	if result != nil {
		t.Errorf("Expected nil for short key, got %v", result)
	}
}

func TestExtractValueTypeTooShort(t *testing.T) {
	shortKey := []byte("short")
	result := ExtractValueType(shortKey)
	if result != TypeValue {
		t.Errorf("Expected TypeValue for short key, got %d", result)
	}
}

func TestExtractSequenceNumberTooShort(t *testing.T) {
	shortKey := []byte("short")
	result := ExtractSequenceNumber(shortKey)
	if result != 0 {
		t.Errorf("Expected 0 for short key, got %d", result)
	}
}
