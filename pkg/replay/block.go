package replay

import "io"

// placeholderChunkKind marks chunks whose payload carries no blocks.
const placeholderChunkKind = 2

// Block is a single variable-width event record inside a decompressed
// chunk payload.
type Block struct {
	Length    uint32
	Timestamp float32
	PacketID  uint16
	Param     uint32
	Payload   []byte
}

// BlockParser iterates the blocks packed into one decompressed chunk
// payload, reconstructing timestamps and identifiers via delta encoding
// (spec.md §4.2).
type BlockParser struct {
	cursor *Cursor

	accTime      float32
	prevPacketID uint16
	prevParam    uint32
}

// NewBlockParser returns a parser over a single chunk's decompressed payload.
func NewBlockParser(payload []byte) *BlockParser {
	return &BlockParser{cursor: NewCursor(payload)}
}

// Next returns the next block, or io.EOF once the cursor runs out of bytes
// or any field read underflows. Per spec.md §4.2 this is a normal
// termination, not a propagated error -- unlike the chunk parser, a
// truncated block does not fail the whole replay.
func (p *BlockParser) Next() (*Block, error) {
	marker, err := p.cursor.ReadU8()
	if err != nil {
		return nil, io.EOF
	}

	block := &Block{}

	if marker&0x80 != 0 {
		deltaMs, err := p.cursor.ReadU8()
		if err != nil {
			return nil, io.EOF
		}
		p.accTime += float32(deltaMs) * 0.001
	} else {
		abs, err := p.cursor.ReadF32()
		if err != nil {
			return nil, io.EOF
		}
		p.accTime = abs
	}
	block.Timestamp = p.accTime

	if marker&0x10 != 0 {
		length, err := p.cursor.ReadU8()
		if err != nil {
			return nil, io.EOF
		}
		block.Length = uint32(length)
	} else {
		length, err := p.cursor.ReadU32()
		if err != nil {
			return nil, io.EOF
		}
		block.Length = length
	}

	if marker&0x40 != 0 {
		block.PacketID = p.prevPacketID
	} else {
		packetID, err := p.cursor.ReadU16()
		if err != nil {
			return nil, io.EOF
		}
		block.PacketID = packetID
	}

	if marker&0x20 != 0 {
		delta, err := p.cursor.ReadU8()
		if err != nil {
			return nil, io.EOF
		}
		block.Param = p.prevParam + uint32(delta)
	} else {
		param, err := p.cursor.ReadU32()
		if err != nil {
			return nil, io.EOF
		}
		block.Param = param
	}

	payload, err := p.cursor.ReadBytes(int(block.Length))
	if err != nil {
		return nil, io.EOF
	}
	block.Payload = payload

	p.prevPacketID = block.PacketID
	p.prevParam = block.Param

	return block, nil
}

// GetBlocks decodes every block from every chunk of a full replay buffer,
// in byte order.
func GetBlocks(replay []byte) ([]Block, error) {
	chunkParser, err := NewChunkParser(replay)
	if err != nil {
		return nil, err
	}
	defer chunkParser.Close()

	var blocks []Block
	for {
		chunk, err := chunkParser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk.Payload == nil || chunk.Kind == placeholderChunkKind {
			continue
		}

		blockParser := NewBlockParser(chunk.Payload)
		for {
			block, err := blockParser.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, *block)
		}
	}
	return blocks, nil
}

// GetBlocksWithID filters GetBlocks output down to a single packet kind,
// returning just the (timestamp, payload) pairs the emulator/decoder needs.
func GetBlocksWithID(replay []byte, packetID uint16) ([]TimestampedPayload, error) {
	blocks, err := GetBlocks(replay)
	if err != nil {
		return nil, err
	}
	out := make([]TimestampedPayload, 0, len(blocks))
	for _, b := range blocks {
		if b.PacketID == packetID {
			out = append(out, TimestampedPayload{Timestamp: b.Timestamp, Payload: b.Payload})
		}
	}
	return out, nil
}

// TimestampedPayload pairs a block's payload with the timestamp it was
// recorded at, the unit of work handed to a decode batch.
type TimestampedPayload struct {
	Timestamp float32
	Payload   []byte
}
