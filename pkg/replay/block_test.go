package replay

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"
)

func encodeBlock(marker uint8, deltaMs uint8, absTime float32, lengthByte uint8, length uint32, packetID uint16, paramDelta uint8, param uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(marker)

	if marker&0x80 != 0 {
		buf.WriteByte(deltaMs)
	} else {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(absTime))
		buf.Write(b[:])
	}

	if marker&0x10 != 0 {
		buf.WriteByte(lengthByte)
	} else {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], length)
		buf.Write(b[:])
	}

	if marker&0x40 == 0 {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], packetID)
		buf.Write(b[:])
	}

	if marker&0x20 != 0 {
		buf.WriteByte(paramDelta)
	} else {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], param)
		buf.Write(b[:])
	}

	buf.Write(payload)
	return buf.Bytes()
}

func TestBlockParserRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw := encodeBlock(0x10, 0, 1.5, uint8(len(payload)), 0, 42, 0, 0, payload)

	p := NewBlockParser(raw)
	block, err := p.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if block.Timestamp != 1.5 {
		t.Fatalf("Timestamp = %v, want 1.5", block.Timestamp)
	}
	if block.PacketID != 42 {
		t.Fatalf("PacketID = %v, want 42", block.PacketID)
	}
	if block.Length != uint32(len(payload)) {
		t.Fatalf("Length = %v, want %d", block.Length, len(payload))
	}
	if !bytes.Equal(block.Payload, payload) {
		t.Fatalf("Payload = %v, want %v", block.Payload, payload)
	}

	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestBlockParserDeltaEncoding(t *testing.T) {
	first := encodeBlock(0x10, 0, 10.0, 1, 0, 7, 0, 100, []byte{1})
	second := encodeBlock(0x10|0x80|0x40|0x20, 250, 0, 1, 0, 0, 5, 0, []byte{2})
	raw := append(first, second...)

	p := NewBlockParser(raw)
	b1, err := p.Next()
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	b2, err := p.Next()
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}

	if b2.Timestamp != b1.Timestamp+0.25 {
		t.Fatalf("delta timestamp = %v, want %v", b2.Timestamp, b1.Timestamp+0.25)
	}
	if b2.PacketID != b1.PacketID {
		t.Fatalf("reused PacketID = %v, want %v", b2.PacketID, b1.PacketID)
	}
	if b2.Param != b1.Param+5 {
		t.Fatalf("delta Param = %v, want %v", b2.Param, b1.Param+5)
	}
}

func TestBlockParserTruncatedIsEOF(t *testing.T) {
	raw := []byte{0x10, 0x01} // marker + first byte of the 4-byte absolute timestamp (0x80 clear)
	p := NewBlockParser(raw)
	if _, err := p.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on truncated block, got %v", err)
	}
}

