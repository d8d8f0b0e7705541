// Package emulator re-executes the original game's packet decryptors
// inside a sandboxed x86-64 virtual machine, recovering plaintext fields
// by watching where the decoder writes them (spec.md §4.6).
package emulator

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/m0w0kuma/rofl/pkg/movement"
	"github.com/m0w0kuma/rofl/pkg/patch"
)

const (
	stackBase = 0x7FFFFFFF0000
	stackSize = 0x2000

	heapBase = 0x7FFFFFFF8000
	heapSize = 0x2000

	packetObjectSize = 0x90

	pageSize = 0x1000
)

// skipPatchBytes is `mov rax, 1; ret`, installed over the original check
// the decoders perform before trusting their input.
var skipPatchBytes = []byte{0x48, 0xC7, 0xC0, 0x01, 0x00, 0x00, 0x00, 0xC3}

func alignAddr(a uint64) uint64 {
	return a &^ (pageSize - 1)
}

func alignSize(s uint64) uint64 {
	return (s + pageSize - 1) &^ (pageSize - 1)
}

// WardSpawnRecord is the plaintext result of one ward-spawn decode.
type WardSpawnRecord struct {
	Name      string
	X, Y      float32
	ID        uint32
	OwnerID   uint32
	Timestamp float32
}

// VM wraps one reusable x86-64 emulator instance, prepared once via setup
// and then driven through many decodes via reset (spec.md §4.6 "Instance
// re-use").
type VM struct {
	uc  unicorn.Unicorn
	img *patch.Image

	cursorAddr uint64

	wardHook  unicorn.Hook
	wardState *wardCaptureState
}

// NewVM allocates a virtual CPU and immediately performs the one-time
// setup (memory mapping and patching) described by img.
func NewVM(img *patch.Image) (*VM, error) {
	mu, err := unicorn.NewUnicorn(unicorn.ARCH_X86, unicorn.MODE_64)
	if err != nil {
		return nil, newSetupError(fmt.Sprintf("create unicorn instance: %v", err))
	}
	vm := &VM{uc: mu, img: img, cursorAddr: img.BaseAddr}
	if err := vm.setup(); err != nil {
		mu.Close()
		return nil, err
	}
	return vm, nil
}

func (vm *VM) setup() error {
	if err := vm.uc.MemMap(alignAddr(vm.cursorAddr), pageSize, unicorn.PROT_READ|unicorn.PROT_WRITE); err != nil {
		return newSetupError(fmt.Sprintf("map cursor page: %v", err))
	}
	if err := vm.uc.MemMap(stackBase, stackSize, unicorn.PROT_READ|unicorn.PROT_WRITE); err != nil {
		return newSetupError(fmt.Sprintf("map stack: %v", err))
	}
	if err := vm.uc.MemMap(heapBase, heapSize, unicorn.PROT_READ|unicorn.PROT_WRITE); err != nil {
		return newSetupError(fmt.Sprintf("map heap: %v", err))
	}

	for name, sec := range map[string]patch.Section{"text": vm.img.Text, "data": vm.img.Data, "rdata": vm.img.Rdata} {
		if err := vm.mapSection(sec); err != nil {
			return newSetupError(fmt.Sprintf("map %s section: %v", name, err))
		}
	}

	if err := vm.writeMem(vm.img.RVAToAddress(vm.img.SkipRVA), skipPatchBytes); err != nil {
		return newSetupError(fmt.Sprintf("write skip patch: %v", err))
	}

	if err := vm.installAllocHook(vm.img.Alloc1RVA); err != nil {
		return err
	}
	if err := vm.installAllocHook(vm.img.Alloc2RVA); err != nil {
		return err
	}

	return nil
}

func (vm *VM) mapSection(sec patch.Section) error {
	if sec.Size == 0 {
		return nil
	}
	addr := vm.img.RVAToAddress(sec.RVA)
	start := alignAddr(addr)
	end := alignAddr(addr+sec.Size-1) + pageSize
	if err := vm.uc.MemMap(start, end-start, unicorn.PROT_READ|unicorn.PROT_WRITE|unicorn.PROT_EXEC); err != nil {
		return err
	}
	return vm.writeMem(addr, sec.Raw)
}

// installAllocHook replaces a heap-allocator entry point with a code hook
// that bumps the emulated cursor word and returns immediately, rather than
// injecting the original's literal replacement-allocator bytes (one of the
// two equivalent strategies spec.md §4.6 allows).
func (vm *VM) installAllocHook(rva uint64) error {
	addr := vm.img.RVAToAddress(rva)
	if _, err := vm.uc.HookAdd(unicorn.HOOK_CODE, vm.onAllocCall, addr, addr); err != nil {
		return newSetupError(fmt.Sprintf("install alloc hook at rva 0x%x: %v", rva, err))
	}
	return nil
}

// onAllocCall fires when execution reaches a patched allocator entry
// point. It performs the allocation directly against the emulated cursor
// word and heap range, then rewrites RIP to the call's return address so
// control resumes as if the replacement allocator had run and returned.
func (vm *VM) onAllocCall(mu unicorn.Unicorn, addr uint64, size uint32) {
	sizeArg, _ := mu.RegRead(unicorn.X86_REG_RCX)
	ptr, err := vm.bumpCursor(sizeArg)
	if err != nil {
		return
	}
	mu.RegWrite(unicorn.X86_REG_RAX, ptr)

	rsp, _ := mu.RegRead(unicorn.X86_REG_RSP)
	retBytes, err := mu.MemRead(rsp, 8)
	if err != nil {
		return
	}
	retAddr := binary.LittleEndian.Uint64(retBytes)
	mu.RegWrite(unicorn.X86_REG_RSP, rsp+8)
	mu.RegWrite(unicorn.X86_REG_RIP, retAddr)
}

// bumpCursor advances the allocator's bump-pointer cursor by size bytes
// and returns the address of the allocation inside the heap range.
func (vm *VM) bumpCursor(size uint64) (uint64, error) {
	cur, err := vm.readU32(vm.cursorAddr)
	if err != nil {
		return 0, err
	}
	next := uint64(cur) + size
	if next > heapSize {
		return 0, fmt.Errorf("heap exhausted: cursor %d + %d exceeds %d", cur, size, heapSize)
	}
	if err := vm.writeU32(vm.cursorAddr, uint32(next)); err != nil {
		return 0, err
	}
	return heapBase + uint64(cur), nil
}

// alloc is the harness-side counterpart of bumpCursor, used to lay out
// argument buffers before emulation starts (spec.md §4.6 step 2).
func (vm *VM) alloc(size uint64) (uint64, error) {
	return vm.bumpCursor(size)
}

func (vm *VM) allocAndWrite(data []byte) (uint64, error) {
	addr, err := vm.alloc(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if err := vm.writeMem(addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}

// reset rewinds the per-decode state: the bump-pointer cursor and the
// stack pointer (spec.md §4.6 "Reset").
func (vm *VM) reset() error {
	if err := vm.writeU32(vm.cursorAddr, 0); err != nil {
		return newDecodeFailedError(fmt.Sprintf("reset cursor: %v", err))
	}
	if err := vm.uc.RegWrite(unicorn.X86_REG_RSP, stackBase+stackSize-0x100); err != nil {
		return newDecodeFailedError(fmt.Sprintf("reset RSP: %v", err))
	}
	return nil
}

// setupArgs lays out the packet object and payload buffer in the heap and
// points RCX/RDX/R8 at them per the Windows x64 calling convention
// (spec.md §4.6 step 2). It returns the packet object's address.
func (vm *VM) setupArgs(payload []byte) (uint64, error) {
	packetAddr, err := vm.alloc(packetObjectSize)
	if err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("allocate packet object: %v", err))
	}
	if err := vm.writeMem(packetAddr, make([]byte, packetObjectSize)); err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("zero packet object: %v", err))
	}

	payloadAddr, err := vm.allocAndWrite(payload)
	if err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("allocate payload: %v", err))
	}

	payloadPtrAddr, err := vm.alloc(8)
	if err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("allocate payload pointer: %v", err))
	}
	if err := vm.writeU64(payloadPtrAddr, payloadAddr); err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("write payload pointer: %v", err))
	}

	if err := vm.uc.RegWrite(unicorn.X86_REG_RCX, packetAddr); err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("set RCX: %v", err))
	}
	if err := vm.uc.RegWrite(unicorn.X86_REG_RDX, payloadPtrAddr); err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("set RDX: %v", err))
	}
	if err := vm.uc.RegWrite(unicorn.X86_REG_R8, payloadAddr+uint64(len(payload))); err != nil {
		return 0, newDecodeFailedError(fmt.Sprintf("set R8: %v", err))
	}

	return packetAddr, nil
}

// DecodeWardSpawn re-executes the ward-spawn decryptor over payload and
// recovers the plaintext fields via the write-watch hook (spec.md §4.6).
func (vm *VM) DecodeWardSpawn(timestamp float32, payload []byte) (*WardSpawnRecord, error) {
	if err := vm.reset(); err != nil {
		return nil, err
	}
	packetAddr, err := vm.setupArgs(payload)
	if err != nil {
		return nil, err
	}

	dec := vm.img.WardSpawn
	if err := vm.installWardWatch(packetAddr, dec); err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("install write-watch: %v", err))
	}
	defer vm.removeWardWatch()

	begin := vm.img.RVAToAddress(dec.EntryRVA)
	until := vm.img.RVAToAddress(dec.ExitRVA)
	if err := vm.uc.Start(begin, until); err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("emulate ward spawn decoder: %v", err))
	}

	state := vm.wardState
	if state.x == nil || state.y == nil || state.id == nil || state.ownerID == nil {
		return nil, newDecodeFailedError("write-watch hook never observed all tracked fields")
	}

	namePtr, err := vm.readU64(packetAddr + dec.NamePtrOffset)
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read name pointer: %v", err))
	}
	nameLen, err := vm.readU32(packetAddr + dec.NameLenOffset)
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read name length: %v", err))
	}
	nameBytes, err := vm.uc.MemRead(namePtr, uint64(nameLen))
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read name bytes: %v", err))
	}

	return &WardSpawnRecord{
		Name:      string(nameBytes),
		X:         *state.x,
		Y:         *state.y,
		ID:        *state.id,
		OwnerID:   *state.ownerID,
		Timestamp: timestamp,
	}, nil
}

// DecodeMovement re-executes the movement decryptor over payload and
// hands its recovered plaintext to the path decoder (spec.md §4.6 step 5).
func (vm *VM) DecodeMovement(timestamp float32, payload []byte) (*movement.PathRecord, error) {
	if err := vm.reset(); err != nil {
		return nil, err
	}
	packetAddr, err := vm.setupArgs(payload)
	if err != nil {
		return nil, err
	}

	dec := vm.img.Mov
	begin := vm.img.RVAToAddress(dec.EntryRVA)
	until := vm.img.RVAToAddress(dec.ExitRVA)
	if err := vm.uc.Start(begin, until); err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("emulate movement decoder: %v", err))
	}

	plainSize, err := vm.readU32(packetAddr + dec.PayloadSizeOffset)
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read plaintext size: %v", err))
	}
	plainPtr, err := vm.readU64(packetAddr + dec.PayloadPtrOffset)
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read plaintext pointer: %v", err))
	}
	plain, err := vm.uc.MemRead(plainPtr, uint64(plainSize))
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("read plaintext bytes: %v", err))
	}

	record, err := movement.DecodePath(timestamp, plain)
	if err != nil {
		return nil, newDecodeFailedError(fmt.Sprintf("decode path: %v", err))
	}
	return record, nil
}

// Close releases the underlying unicorn instance.
func (vm *VM) Close() error {
	return vm.uc.Close()
}

func (vm *VM) readU32(addr uint64) (uint32, error) {
	b, err := vm.uc.MemRead(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (vm *VM) readU64(addr uint64) (uint64, error) {
	b, err := vm.uc.MemRead(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (vm *VM) writeU32(addr uint64, v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return vm.writeMem(addr, b)
}

func (vm *VM) writeU64(addr uint64, v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return vm.writeMem(addr, b)
}

func (vm *VM) writeMem(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return vm.uc.MemWrite(addr, data)
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}
