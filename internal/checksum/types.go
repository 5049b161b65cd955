package checksum

// Type tags the checksum algorithm recorded next to a block trailer.
// This format's on-disk layout reserves this byte even though, for
// this format, it is always TypeCRC32C.
type Type uint8

const (
	// TypeNoChecksum means no checksum is present.
	TypeNoChecksum Type = 0
	// TypeCRC32C is CRC32C (Castagnoli) checksum, the only algorithm
	// this format's trailers and record headers ever use.
	TypeCRC32C Type = 1
)

// String returns a human-readable name for the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "NoChecksum"
	case TypeCRC32C:
		return "CRC32C"
	default:
		return "Unknown"
	}
}

// ComputeBlockChecksum computes the masked CRC32C over data followed by
// a single trailing byte (a block trailer's compression-type byte),
// matching the block trailer's checksum coverage.
func ComputeBlockChecksum(data []byte, lastByte byte) uint32 {
	crc := Value(data)
	crc = Extend(crc, []byte{lastByte})
	return Mask(crc)
}
