package replay

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
)

// chunkHeaderSize is the fixed 17-byte little-endian chunk header:
// id(u32) kind(u8) id2(u32) uncompressed_len(u32) compressed_len(u32).
const chunkHeaderSize = 17

// signatureSize is the trailing replay signature stripped before chunk data.
const signatureSize = 0x100

// Chunk is a single entry in the replay's outer compressed-container framing.
type Chunk struct {
	ID               uint32
	Kind             uint8
	ID2              uint32
	UncompressedLen  uint32
	CompressedLen    uint32
	Payload          []byte // nil if this chunk carried no compressed payload
}

// ChunkParser iterates the compressed chunks of a replay after the outer
// header, signature, and trailing metadata descriptor have been stripped.
type ChunkParser struct {
	cursor  *Cursor
	decoder *zstd.Decoder
}

// NewChunkParser strips the replay's outer framing (spec.md §4.1) and
// returns a parser positioned at the first chunk header.
func NewChunkParser(replay []byte) (*ChunkParser, error) {
	body, err := stripFraming(replay)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ChunkParser{cursor: NewCursor(body), decoder: dec}, nil
}

// stripFraming removes, in order: the trailing metadata descriptor, the
// 256-byte signature, and the outer replay header (whose size depends on a
// version byte at a fixed offset -- a quirk reproduced verbatim from the
// original decoder, see spec.md §9).
func stripFraming(replay []byte) ([]byte, error) {
	if len(replay) < 4 {
		return nil, newTruncatedChunkError("replay shorter than trailing length field", 0)
	}

	metadataLen := binary.LittleEndian.Uint32(replay[len(replay)-4:])
	end := len(replay) - 4 - int(metadataLen)
	if end < 0 || end > len(replay) {
		return nil, newTruncatedChunkError("trailing metadata length exceeds replay size", len(replay)-4)
	}
	replay = replay[:end]

	if len(replay) < signatureSize {
		return nil, newTruncatedChunkError("replay shorter than trailing signature", len(replay))
	}
	replay = replay[:len(replay)-signatureSize]

	const fixedHeaderSize = 0x10
	if len(replay) < fixedHeaderSize+0xC+1 {
		return nil, newTruncatedChunkError("replay shorter than outer header", len(replay))
	}
	replay = replay[fixedHeaderSize:]

	// Byte at (the now-relative) offset 0xC discriminates header version:
	// 1 -> 12 more header bytes, anything else -> 13.
	headerTail := 13
	if replay[0xC] == 1 {
		headerTail = 12
	}
	if len(replay) < headerTail {
		return nil, newTruncatedChunkError("replay shorter than version-dependent header tail", len(replay))
	}
	return replay[headerTail:], nil
}

// Next returns the next chunk, io.EOF when the stream is cleanly exhausted,
// or a TruncatedChunkError if it ends mid-header or mid-payload.
func (p *ChunkParser) Next() (*Chunk, error) {
	if p.cursor.Remaining() == 0 {
		return nil, io.EOF
	}
	if p.cursor.Remaining() < chunkHeaderSize {
		return nil, newTruncatedChunkError("chunk header truncated", p.cursor.Pos())
	}

	startOffset := p.cursor.Pos()
	id, _ := p.cursor.ReadU32()
	kind, _ := p.cursor.ReadU8()
	id2, _ := p.cursor.ReadU32()
	uncompressedLen, _ := p.cursor.ReadU32()
	compressedLen, _ := p.cursor.ReadU32()

	chunk := &Chunk{
		ID:              id,
		Kind:            kind,
		ID2:             id2,
		UncompressedLen: uncompressedLen,
		CompressedLen:   compressedLen,
	}

	if compressedLen == 0 {
		if err := p.cursor.Skip(int(uncompressedLen)); err != nil {
			return nil, newTruncatedChunkError("placeholder chunk payload truncated", startOffset)
		}
		return chunk, nil
	}

	compressed, err := p.cursor.ReadBytes(int(compressedLen))
	if err != nil {
		return nil, newTruncatedChunkError("compressed chunk payload truncated", startOffset)
	}

	if err := p.decoder.Reset(bytes.NewReader(compressed)); err != nil {
		return nil, newChunkDecompressError(err.Error(), startOffset)
	}
	payload, err := io.ReadAll(p.decoder)
	if err != nil {
		return nil, newChunkDecompressError(err.Error(), startOffset)
	}
	chunk.Payload = payload

	return chunk, nil
}

// Close releases the parser's zstd decoder.
func (p *ChunkParser) Close() {
	if p.decoder != nil {
		p.decoder.Close()
	}
}
