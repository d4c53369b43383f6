package proc

import (
	"errors"
	"fmt"

	sys "golang.org/x/sys/unix"
)

// Registers is a snapshot of the full register set of the halted
// thread. A snapshot taken before any manipulation is kept by Process
// and written back verbatim on every exit path.
type Registers struct {
	regs sys.PtraceRegs
}

// PC returns the current instruction pointer.
func (r *Registers) PC() uint64 { return r.regs.Rip }

// SetPC sets the instruction pointer.
func (r *Registers) SetPC(pc uint64) { r.regs.Rip = pc }

// SP returns the current stack pointer.
func (r *Registers) SP() uint64 { return r.regs.Rsp }

// SetSP sets the stack pointer.
func (r *Registers) SetSP(sp uint64) { r.regs.Rsp = sp }

// ReturnValue returns the register holding a function call's result.
func (r *Registers) ReturnValue() uint64 { return r.regs.Rax }

// SetReturnValue sets the result register. Only the simulated backend
// uses this, to model a completed remote call.
func (r *Registers) SetReturnValue(v uint64) { r.regs.Rax = v }

// ErrTooManyArguments is returned when a remote call is staged with
// more integer arguments than the calling convention passes in
// registers.
var ErrTooManyArguments = errors.New("remote calls take at most six integer arguments")

// SetCallArgs loads up to six pointer-sized integer arguments into the
// argument registers of the SysV AMD64 calling convention.
func (r *Registers) SetCallArgs(args []uint64) error {
	if len(args) > 6 {
		return ErrTooManyArguments
	}
	dst := []*uint64{&r.regs.Rdi, &r.regs.Rsi, &r.regs.Rdx, &r.regs.Rcx, &r.regs.R8, &r.regs.R9}
	for i, a := range args {
		*dst[i] = a
	}
	return nil
}

// Arg returns the n-th integer argument register (0-based).
func (r *Registers) Arg(n int) uint64 {
	src := []uint64{r.regs.Rdi, r.regs.Rsi, r.regs.Rdx, r.regs.Rcx, r.regs.R8, r.regs.R9}
	return src[n]
}

// ClearSyscallRestart keeps the kernel from rewinding the instruction
// pointer to restart an interrupted syscall when the thread is resumed
// with a rewritten register set.
func (r *Registers) ClearSyscallRestart() {
	r.regs.Orig_rax = ^uint64(0)
}

// Copy returns an independent copy of the register snapshot.
func (r *Registers) Copy() *Registers {
	c := *r
	return &c
}

func (r *Registers) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x rax=%#x rdi=%#x rsi=%#x",
		r.regs.Rip, r.regs.Rsp, r.regs.Rax, r.regs.Rdi, r.regs.Rsi)
}
