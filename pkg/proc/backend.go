package proc

// StopEvent describes the outcome of one wait on the traced thread.
type StopEvent struct {
	// Exited is true if the process is gone; ExitStatus holds its
	// exit code.
	Exited     bool
	ExitStatus int
	// Signaled is true if the process was terminated by a signal.
	Signaled   bool
	TermSignal int
	// StopSignal is the signal that stopped the thread, when the
	// process is still alive.
	StopSignal int
}

// Backend is the narrow interface over the OS tracing facility. The
// real implementation wraps ptrace(2); tests substitute a simulated
// one.
//
// All transfers are one machine word at a time, which is the
// granularity of the underlying tracing primitive.
type Backend interface {
	Attach(pid int) error
	Detach(pid int) error
	GetRegs(pid int, regs *Registers) error
	SetRegs(pid int, regs *Registers) error
	PeekWord(pid int, addr uint64) (uint64, error)
	PokeWord(pid int, addr uint64, word uint64) error
	Cont(pid int, sig int) error
	Wait(pid int) (StopEvent, error)
	Close() error
}
