package proc

import (
	"encoding/binary"
	"fmt"
	"runtime"

	sys "golang.org/x/sys/unix"

	"github.com/qtspy/qtspy/pkg/logflags"
)

// TrapSignal is the stop signal delivered to the traced thread when it
// executes the trap instruction at the end of the staged call.
const TrapSignal = int(sys.SIGTRAP)

// ptraceBackend is the live Backend implementation built on
// ptrace(2). One instance controls at most one target at a time.
type ptraceBackend struct {
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
	log            logflags.Logger
}

// NewPtraceBackend returns a Backend that issues real ptrace
// requests. Before returning it launches a goroutine in order to
// handle ptrace functions; see the documentation on handlePtraceFuncs.
func NewPtraceBackend() Backend {
	b := &ptraceBackend{
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
		log:            logflags.PtraceLogger(),
	}
	go b.handlePtraceFuncs()
	return b
}

func (b *ptraceBackend) handlePtraceFuncs() {
	// We must ensure here that we are running on the same thread while
	// invoking the ptrace(2) syscall. This is due to the fact that ptrace(2)
	// expects all commands after PTRACE_ATTACH to come from the same thread.
	runtime.LockOSThread()

	for fn := range b.ptraceChan {
		fn()
		b.ptraceDoneChan <- nil
	}
}

func (b *ptraceBackend) execPtraceFunc(fn func()) {
	b.ptraceChan <- fn
	<-b.ptraceDoneChan
}

func (b *ptraceBackend) Attach(pid int) (err error) {
	b.log.Debugf("attach pid=%d", pid)
	b.execPtraceFunc(func() { err = sys.PtraceAttach(pid) })
	return err
}

func (b *ptraceBackend) Detach(pid int) (err error) {
	b.log.Debugf("detach pid=%d", pid)
	b.execPtraceFunc(func() { err = sys.PtraceDetach(pid) })
	return err
}

func (b *ptraceBackend) GetRegs(pid int, regs *Registers) (err error) {
	b.execPtraceFunc(func() { err = sys.PtraceGetRegs(pid, &regs.regs) })
	return err
}

func (b *ptraceBackend) SetRegs(pid int, regs *Registers) (err error) {
	b.execPtraceFunc(func() { err = sys.PtraceSetRegs(pid, &regs.regs) })
	return err
}

func (b *ptraceBackend) PeekWord(pid int, addr uint64) (uint64, error) {
	var buf [wordSize]byte
	var n int
	var err error
	b.execPtraceFunc(func() { n, err = sys.PtracePeekData(pid, uintptr(addr), buf[:]) })
	if err != nil {
		return 0, err
	}
	if n != wordSize {
		return 0, fmt.Errorf("short peek: %d of %d bytes", n, wordSize)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (b *ptraceBackend) PokeWord(pid int, addr uint64, word uint64) error {
	var buf [wordSize]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	var n int
	var err error
	b.execPtraceFunc(func() { n, err = sys.PtracePokeData(pid, uintptr(addr), buf[:]) })
	if err != nil {
		return err
	}
	if n != wordSize {
		return fmt.Errorf("short poke: %d of %d bytes", n, wordSize)
	}
	return nil
}

func (b *ptraceBackend) Cont(pid int, sig int) (err error) {
	b.log.Debugf("cont pid=%d sig=%d", pid, sig)
	b.execPtraceFunc(func() { err = sys.PtraceCont(pid, sig) })
	return err
}

func (b *ptraceBackend) Wait(pid int) (StopEvent, error) {
	var status sys.WaitStatus
	for {
		_, err := sys.Wait4(pid, &status, 0, nil)
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return StopEvent{}, err
		}
		break
	}
	ev := StopEvent{}
	switch {
	case status.Exited():
		ev.Exited = true
		ev.ExitStatus = status.ExitStatus()
	case status.Signaled():
		ev.Signaled = true
		ev.TermSignal = int(status.Signal())
	case status.Stopped():
		ev.StopSignal = int(status.StopSignal())
	}
	b.log.Debugf("wait pid=%d exited=%v stopsig=%d", pid, ev.Exited, ev.StopSignal)
	return ev, nil
}

// Close stops the goroutine that owns the ptrace thread.
func (b *ptraceBackend) Close() error {
	close(b.ptraceChan)
	close(b.ptraceDoneChan)
	return nil
}
