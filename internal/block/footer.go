// footer.go implements the table file footer: two block handles
// (metaindex, index) padded to a fixed 40 bytes, followed by an
// 8-byte magic number, for a fixed 48-byte footer.
package block

import (
	"encoding/binary"
	"errors"
)

// TableMagicNumber identifies a file as a table in this format.
const TableMagicNumber uint64 = 0xdb4775248b80fb57

// MagicNumberLength is the length of the magic number in bytes.
const MagicNumberLength = 8

// BlockTrailerSize is the size of the block trailer: 1 compression-type
// byte followed by a 4-byte masked CRC32C.
const BlockTrailerSize = 5

// FooterEncodedLength is the fixed size of an encoded footer: two block
// handles, each padded to MaxEncodedLength, followed by the magic number.
const FooterEncodedLength = 2*MaxEncodedLength + MagicNumberLength

// ErrBadFooter is returned when a footer is truncated or its magic
// number doesn't match.
var ErrBadFooter = errors.New("block: bad footer")

// Footer is the fixed-size trailer written at the end of every table file.
type Footer struct {
	MetaindexHandle Handle
	IndexHandle     Handle
}

// DecodeFooter decodes a footer from the final FooterEncodedLength bytes
// of a table file.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < FooterEncodedLength {
		return nil, ErrBadFooter
	}
	data = data[len(data)-FooterEncodedLength:]

	magic := binary.LittleEndian.Uint64(data[FooterEncodedLength-MagicNumberLength:])
	if magic != TableMagicNumber {
		return nil, ErrBadFooter
	}

	f := &Footer{}
	var err error
	var remaining []byte
	f.MetaindexHandle, remaining, err = DecodeHandle(data)
	if err != nil {
		return nil, ErrBadFooter
	}
	f.IndexHandle, _, err = DecodeHandle(remaining)
	if err != nil {
		return nil, ErrBadFooter
	}
	return f, nil
}

// EncodeTo encodes the footer into a fixed FooterEncodedLength buffer.
func (f *Footer) EncodeTo() []byte {
	buf := make([]byte, FooterEncodedLength)

	encoded := f.MetaindexHandle.EncodeTo(nil)
	n := copy(buf, encoded)

	encoded = f.IndexHandle.EncodeTo(nil)
	n += copy(buf[n:], encoded)

	for i := n; i < FooterEncodedLength-MagicNumberLength; i++ {
		buf[i] = 0
	}

	binary.LittleEndian.PutUint64(buf[FooterEncodedLength-MagicNumberLength:], TableMagicNumber)
	return buf
}
