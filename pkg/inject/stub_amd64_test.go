package inject

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStubEncoding(t *testing.T) {
	const fn = 0x7f000009c230
	stub := callStub(fn)
	require.Len(t, stub, stubSize)

	mov, err := x86asm.Decode(stub, 64)
	require.NoError(t, err)
	assert.Equal(t, x86asm.MOV, mov.Op)
	assert.Equal(t, x86asm.RAX, mov.Args[0])
	assert.Equal(t, x86asm.Imm(fn), mov.Args[1])

	call, err := x86asm.Decode(stub[mov.Len:], 64)
	require.NoError(t, err)
	assert.Equal(t, x86asm.CALL, call.Op)
	assert.Equal(t, x86asm.RAX, call.Args[0])

	// The trap lands directly after the call, then nop padding.
	trapAt := mov.Len + call.Len
	assert.Equal(t, byte(0xcc), stub[trapAt])
	for i := trapAt + 1; i < stubSize; i++ {
		assert.Equal(t, byte(0x90), stub[i])
	}
}

func TestLayoutScratch(t *testing.T) {
	const sp = 0x7ffc00001000
	lay := layoutScratch(sp, 23)

	// Everything sits below the red zone.
	assert.Less(t, lay.str, uint64(sp-redZoneSize))
	assert.Less(t, lay.code, lay.str)
	assert.Less(t, lay.retSlot, lay.code)

	// The string region does not overlap the red zone and the code
	// does not overlap the string.
	assert.GreaterOrEqual(t, uint64(sp-redZoneSize), lay.str+23)
	assert.GreaterOrEqual(t, lay.str, lay.code+stubSize)

	// The parked stack pointer and the staged code keep call-site
	// alignment.
	assert.Zero(t, lay.code%scratchAlign)
	assert.Zero(t, lay.retSlot%scratchAlign)
	assert.Zero(t, lay.str%8)
}

func TestLayoutScratchNoString(t *testing.T) {
	const sp = 0x7ffc00001000
	lay := layoutScratch(sp, 0)

	assert.Zero(t, lay.str)
	assert.Less(t, lay.code, uint64(sp-redZoneSize))
	assert.Zero(t, lay.code%scratchAlign)
	assert.Equal(t, lay.code-scratchAlign, lay.retSlot)
}
