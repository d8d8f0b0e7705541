package emulator

import (
	"math"
	"testing"

	"github.com/m0w0kuma/rofl/pkg/patch"
)

func TestAlignAddr(t *testing.T) {
	if got := alignAddr(0x1234); got != 0x1000 {
		t.Fatalf("alignAddr(0x1234) = 0x%x, want 0x1000", got)
	}
	if got := alignAddr(0x1000); got != 0x1000 {
		t.Fatalf("alignAddr(0x1000) = 0x%x, want 0x1000", got)
	}
}

func TestAlignSize(t *testing.T) {
	if got := alignSize(1); got != pageSize {
		t.Fatalf("alignSize(1) = 0x%x, want 0x%x", got, pageSize)
	}
	if got := alignSize(pageSize); got != pageSize {
		t.Fatalf("alignSize(pageSize) = 0x%x, want 0x%x", got, pageSize)
	}
	if got := alignSize(pageSize + 1); got != 2*pageSize {
		t.Fatalf("alignSize(pageSize+1) = 0x%x, want 0x%x", got, 2*pageSize)
	}
}

func TestSkipPatchBytesShape(t *testing.T) {
	if len(skipPatchBytes) != 8 {
		t.Fatalf("skipPatchBytes length = %d, want 8", len(skipPatchBytes))
	}
	if skipPatchBytes[0] != 0x48 || skipPatchBytes[len(skipPatchBytes)-1] != 0xC3 {
		t.Fatalf("skipPatchBytes = % x, want mov-rax-1;ret encoding", skipPatchBytes)
	}
}

func TestOnWardWriteCapturesTrackedFields(t *testing.T) {
	dec := patch.WardSpawnDecoder{
		IDOffset:      0x0,
		OwnerIDOffset: 0x4,
		XOffset:       0x10,
		XWriteIndex:   0,
		YOffset:       0x14,
		YWriteIndex:   1,
	}
	vm := &VM{wardState: &wardCaptureState{}}
	const packetAddr = 0x7FFFFFFF8000

	vm.onWardWrite(packetAddr, dec, packetAddr+dec.IDOffset, 4, 42)
	vm.onWardWrite(packetAddr, dec, packetAddr+dec.OwnerIDOffset, 4, 7)

	// Two writes to the y offset: only the second (index 1) should latch.
	vm.onWardWrite(packetAddr, dec, packetAddr+dec.YOffset, 4, int64(math.Float32bits(float32(1.0))))
	vm.onWardWrite(packetAddr, dec, packetAddr+dec.YOffset, 4, int64(math.Float32bits(float32(99.0))))

	vm.onWardWrite(packetAddr, dec, packetAddr+dec.XOffset, 4, int64(math.Float32bits(float32(5.0))))

	// Single-byte writes to the id offset must not be counted or recorded.
	vm.onWardWrite(packetAddr, dec, packetAddr+dec.IDOffset, 1, 0xFF)

	state := vm.wardState
	if state.id == nil || *state.id != 42 {
		t.Fatalf("id = %v, want 42", state.id)
	}
	if state.ownerID == nil || *state.ownerID != 7 {
		t.Fatalf("ownerID = %v, want 7", state.ownerID)
	}
	if state.x == nil || *state.x != 5.0 {
		t.Fatalf("x = %v, want 5.0", state.x)
	}
	if state.y == nil || *state.y != 99.0 {
		t.Fatalf("y = %v, want 99.0 (second write at write index 1)", state.y)
	}
	if state.writesPerOffset[dec.IDOffset] != 1 {
		t.Fatalf("writesPerOffset[id] = %d, want 1 (single-byte write uncounted)", state.writesPerOffset[dec.IDOffset])
	}
}
