package emulator

import (
	"github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/m0w0kuma/rofl/pkg/patch"
)

// wardCaptureState accumulates the fields the ward-spawn write-watch hook
// observes over one decode. Per-offset write counts let the hook tell a
// field's real write from writes to adjoining scratch bytes (spec.md §4.6
// step 3).
type wardCaptureState struct {
	writesPerOffset [packetObjectSize]uint32

	x, y        *float32
	id, ownerID *uint32
}

// installWardWatch arms the memory-write hook over the packet object's
// address range for the duration of one ward-spawn decode.
func (vm *VM) installWardWatch(packetAddr uint64, dec patch.WardSpawnDecoder) error {
	vm.wardState = &wardCaptureState{}
	hook, err := vm.uc.HookAdd(
		unicorn.HOOK_MEM_WRITE,
		func(mu unicorn.Unicorn, access int, addr uint64, size int, value int64) {
			vm.onWardWrite(packetAddr, dec, addr, size, value)
		},
		packetAddr, packetAddr+packetObjectSize-1,
	)
	if err != nil {
		return err
	}
	vm.wardHook = hook
	return nil
}

// removeWardWatch disarms the hook so the first-write semantics apply
// cleanly to the next decode (spec.md §4.6 "Instance re-use").
func (vm *VM) removeWardWatch() {
	if vm.wardHook != nil {
		vm.uc.HookDel(vm.wardHook)
		vm.wardHook = nil
	}
	vm.wardState = nil
}

func (vm *VM) onWardWrite(packetAddr uint64, dec patch.WardSpawnDecoder, addr uint64, size int, value int64) {
	if size == 1 {
		// Single-byte writes belong to interior string scratch buffers,
		// not tracked fields; left uncounted and unrecorded.
		return
	}
	if addr < packetAddr || addr >= packetAddr+packetObjectSize {
		return
	}

	state := vm.wardState
	offset := uint64(addr - packetAddr)
	count := state.writesPerOffset[offset]

	switch {
	case offset == dec.XOffset && count == dec.XWriteIndex:
		v := float32FromBits(uint32(value))
		state.x = &v
	case offset == dec.YOffset && count == dec.YWriteIndex:
		v := float32FromBits(uint32(value))
		state.y = &v
	case offset == dec.IDOffset && count == 0:
		v := uint32(value)
		state.id = &v
	case offset == dec.OwnerIDOffset && count == 0:
		v := uint32(value)
		state.ownerID = &v
	}

	for i := 0; i < size && int(offset)+i < packetObjectSize; i++ {
		state.writesPerOffset[int(offset)+i]++
	}
}
