package replay

import (
	"encoding/binary"
	"io"
	"testing"
)

// buildReplay assembles a minimal but validly-framed replay buffer:
// a 16-byte fixed header, a 13-byte version tail (discriminant byte != 1),
// the chunk body, a 256-byte signature, and a trailing metadata blob.
func buildReplay(chunkBody []byte, metadataJSON []byte) []byte {
	var buf []byte
	buf = append(buf, make([]byte, 16)...)
	buf = append(buf, make([]byte, 13)...) // discriminant byte (index 12) left zero -> 13-byte tail
	buf = append(buf, chunkBody...)
	buf = append(buf, make([]byte, signatureSize)...)
	buf = append(buf, metadataJSON...)

	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(metadataJSON)))
	buf = append(buf, lenBytes[:]...)
	return buf
}

func encodeChunkHeader(id uint32, kind uint8, id2, uncompressedLen, compressedLen uint32) []byte {
	var b [chunkHeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:], id)
	b[4] = kind
	binary.LittleEndian.PutUint32(b[5:], id2)
	binary.LittleEndian.PutUint32(b[9:], uncompressedLen)
	binary.LittleEndian.PutUint32(b[13:], compressedLen)
	return b[:]
}

func TestChunkParserEmptyBody(t *testing.T) {
	replay := buildReplay(nil, []byte(`{}`))
	parser, err := NewChunkParser(replay)
	if err != nil {
		t.Fatalf("NewChunkParser: %v", err)
	}
	defer parser.Close()

	if _, err := parser.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on empty body, got %v", err)
	}
}

func TestChunkParserPlaceholderChunk(t *testing.T) {
	placeholderData := []byte{1, 2, 3, 4, 5}
	chunkBody := append(encodeChunkHeader(1, 0, 0, uint32(len(placeholderData)), 0), placeholderData...)
	replay := buildReplay(chunkBody, []byte(`{}`))

	parser, err := NewChunkParser(replay)
	if err != nil {
		t.Fatalf("NewChunkParser: %v", err)
	}
	defer parser.Close()

	chunk, err := parser.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk.Payload != nil {
		t.Fatalf("expected nil payload for placeholder chunk, got %v", chunk.Payload)
	}
	if chunk.CompressedLen != 0 {
		t.Fatalf("CompressedLen = %v, want 0", chunk.CompressedLen)
	}

	if _, err := parser.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after sole chunk, got %v", err)
	}
}

func TestChunkParserTruncatedHeader(t *testing.T) {
	replay := buildReplay([]byte{1, 2, 3}, []byte(`{}`))
	parser, err := NewChunkParser(replay)
	if err != nil {
		t.Fatalf("NewChunkParser: %v", err)
	}
	defer parser.Close()

	if _, err := parser.Next(); err == nil {
		t.Fatalf("expected truncation error, got nil")
	}
}
