package checksum

import (
	"testing"
)

func TestGoldenCRC32CDeterminism(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x00}},
		{"hello", []byte("hello")},
		{"123456789", []byte("123456789")},
		{"long string", []byte("The quick brown fox jumps over the lazy dog")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			crc1 := Value(tc.input)
			crc2 := Value(tc.input)
			if crc1 != crc2 {
				t.Errorf("CRC32C not deterministic: got 0x%08x and 0x%08x", crc1, crc2)
			}
		})
	}
}

func TestGoldenCRC32CMaskUnmaskRoundtrip(t *testing.T) {
	testCases := []uint32{
		0x00000000,
		0xFFFFFFFF,
		0x12345678,
		0xDEADBEEF,
		Value([]byte("hello")),
	}

	for _, crc := range testCases {
		masked := Mask(crc)
		unmasked := Unmask(masked)
		if unmasked != crc {
			t.Errorf("Unmask(Mask(0x%08x)) = 0x%08x", crc, unmasked)
		}
	}
}

func TestGoldenCRC32CExtend(t *testing.T) {
	full := Value([]byte("helloworld"))
	extended := Extend(Value([]byte("hello")), []byte("world"))
	if full != extended {
		t.Errorf("CRC(helloworld) = 0x%08x, Extend(CRC(hello), world) = 0x%08x", full, extended)
	}
}

func TestGoldenChecksumTypeString(t *testing.T) {
	testCases := []struct {
		typ      Type
		expected string
	}{
		{TypeNoChecksum, "NoChecksum"},
		{TypeCRC32C, "CRC32C"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			got := tc.typ.String()
			if got != tc.expected {
				t.Errorf("Type(%d).String() = %q, want %q", tc.typ, got, tc.expected)
			}
		})
	}
}

func TestGoldenChecksumTypeValues(t *testing.T) {
	testCases := []struct {
		name     string
		typ      Type
		expected uint8
	}{
		{"NoChecksum", TypeNoChecksum, 0},
		{"CRC32C", TypeCRC32C, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if uint8(tc.typ) != tc.expected {
				t.Errorf("%s = %d, want %d", tc.name, tc.typ, tc.expected)
			}
		})
	}
}

func TestGoldenComputeBlockChecksum(t *testing.T) {
	data := []byte("test block data")
	lastByte := byte(0x00)

	crc1 := ComputeBlockChecksum(data, lastByte)
	crc2 := ComputeBlockChecksum(data, lastByte)
	if crc1 != crc2 {
		t.Errorf("ComputeBlockChecksum not deterministic: 0x%08x vs 0x%08x", crc1, crc2)
	}

	direct := Mask(Extend(Value(data), []byte{lastByte}))
	if crc1 != direct {
		t.Errorf("ComputeBlockChecksum = 0x%08x, want 0x%08x", crc1, direct)
	}
}
