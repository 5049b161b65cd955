package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/flintkv/flintkv/internal/block"
	"github.com/flintkv/flintkv/internal/checksum"
)

// TestMetaindexBlockChecksum verifies that the metaindex block's CRC32C
// trailer checksum is computed over the block contents and compression
// id byte, matching what Reader verifies on open.
func TestMetaindexBlockChecksum(t *testing.T) {
	var buf bytes.Buffer

	opts := DefaultBuilderOptions()
	opts.BlockSize = 4096

	builder := NewTableBuilder(&buf, opts)

	for i := range 3 {
		key := fmt.Appendf(nil, "key%03d\x01\x00\x00\x00\x00\x00\x00\x00", i)
		value := fmt.Appendf(nil, "value%03d", i)
		if err := builder.Add(key, value); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if err := builder.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	data := buf.Bytes()
	t.Logf("SST size: %d bytes", len(data))

	footerData := data[len(data)-block.FooterEncodedLength:]
	footer, err := block.DecodeFooter(footerData)
	if err != nil {
		t.Fatalf("DecodeFooter failed: %v", err)
	}

	t.Logf("MetaindexHandle: Offset=%d, Size=%d",
		footer.MetaindexHandle.Offset, footer.MetaindexHandle.Size)

	metaStart := footer.MetaindexHandle.Offset
	metaEnd := metaStart + footer.MetaindexHandle.Size + block.BlockTrailerSize
	metaBlockWithTrailer := data[metaStart:metaEnd]

	trailer := metaBlockWithTrailer[len(metaBlockWithTrailer)-block.BlockTrailerSize:]
	compressionType := trailer[0]
	storedChecksum := binary.LittleEndian.Uint32(trailer[1:5])

	blockContent := metaBlockWithTrailer[:len(metaBlockWithTrailer)-block.BlockTrailerSize]
	computed := checksum.ComputeBlockChecksum(blockContent, compressionType)

	if storedChecksum != computed {
		t.Errorf("Checksum mismatch: stored=0x%08x, computed=0x%08x",
			storedChecksum, computed)
	}

	// A Reader with VerifyChecksums on must accept the file built above.
	reader, err := Open(&memFile{data: data}, ReaderOptions{VerifyChecksums: true})
	if err != nil {
		t.Fatalf("Open with VerifyChecksums failed: %v", err)
	}
	defer reader.Close()
}
