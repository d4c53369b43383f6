package inject

import "encoding/binary"

const (
	// stubSize is the code scratch region: 13 bytes of instructions
	// padded with nops to a word multiple.
	stubSize = 16
	// redZoneSize is skipped below the stack pointer so the scratch
	// never clobbers the leaf frame the target may be executing.
	redZoneSize = 128
	// scratchAlign is the stack alignment required at a call site.
	scratchAlign = 16
)

// callStub assembles the amd64 code staged in the target:
//
//	mov rax, fn
//	call rax
//	int3
//
// The indirect call keeps the stub position independent; the trap
// right after it hands control back to the tracer with the result
// still in the return register.
func callStub(fn uint64) []byte {
	stub := make([]byte, stubSize)
	stub[0] = 0x48 // mov rax, imm64
	stub[1] = 0xb8
	binary.LittleEndian.PutUint64(stub[2:], fn)
	stub[10] = 0xff // call rax
	stub[11] = 0xd0
	stub[12] = 0xcc // int3
	for i := 13; i < stubSize; i++ {
		stub[i] = 0x90 // nop
	}
	return stub
}

// scratchLayout is the transient span carved from the target's stack
// for one call: an optional argument string, the code stub below it
// and the return slot at the bottom. The stack pointer is parked at
// the return slot, so the callee's own stack use descends away from
// the string and the code.
type scratchLayout struct {
	str     uint64 // 0 when no string is staged
	code    uint64
	retSlot uint64
}

// layoutScratch carves the scratch regions below the current stack
// pointer, past the red zone so the live leaf frame is never touched.
func layoutScratch(sp uint64, strLen int) scratchLayout {
	floor := sp - redZoneSize
	lay := scratchLayout{}
	if strLen > 0 {
		lay.str = (floor - uint64(strLen)) &^ uint64(7)
		floor = lay.str
	}
	lay.code = (floor - stubSize) &^ uint64(scratchAlign-1)
	lay.retSlot = lay.code - scratchAlign
	return lay
}
