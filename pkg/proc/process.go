package proc

import (
	"fmt"

	"github.com/qtspy/qtspy/pkg/logflags"
)

// Process represents the traced target. It is created by Attach and
// holds the register snapshot taken before any manipulation.
//
// Only the attached thread is frozen; other threads of a
// multi-threaded target keep running. This is a known limitation.
type Process struct {
	pid     int
	backend Backend

	attached bool
	exited   bool

	snapshot *Registers

	log logflags.Logger
}

// Attach requests trace control over pid and blocks until the kernel
// reports the target stopped. The full register set is snapshotted
// before returning.
func Attach(pid int, backend Backend) (*Process, error) {
	p := &Process{
		pid:     pid,
		backend: backend,
		log:     logflags.PtraceLogger(),
	}
	if err := backend.Attach(pid); err != nil {
		backend.Close()
		return nil, &AttachError{Pid: pid, Err: err}
	}
	ev, err := backend.Wait(pid)
	if err != nil {
		backend.Detach(pid)
		backend.Close()
		return nil, &AttachError{Pid: pid, Err: err}
	}
	if ev.Exited || ev.Signaled {
		backend.Close()
		return nil, &AttachError{Pid: pid, Err: ErrProcessExited{Pid: pid, Status: ev.ExitStatus}}
	}
	p.attached = true

	regs := &Registers{}
	if err := backend.GetRegs(pid, regs); err != nil {
		derr := p.Detach()
		if derr != nil {
			p.log.WithError(derr).Warn("detach after failed register read")
		}
		return nil, &RegisterAccessError{Pid: pid, Op: "get", Err: err}
	}
	p.snapshot = regs.Copy()
	p.log.Debugf("attached to pid=%d, stopped at pc=%#x", pid, regs.PC())
	return p, nil
}

// Pid returns the target's process identifier.
func (p *Process) Pid() int { return p.pid }

// Snapshot returns a copy of the register set captured at attach time.
func (p *Process) Snapshot() *Registers {
	return p.snapshot.Copy()
}

// Registers reads the full register set of the halted thread.
func (p *Process) Registers() (*Registers, error) {
	if p.exited {
		return nil, ErrProcessExited{Pid: p.pid}
	}
	regs := &Registers{}
	if err := p.backend.GetRegs(p.pid, regs); err != nil {
		return nil, &RegisterAccessError{Pid: p.pid, Op: "get", Err: err}
	}
	return regs, nil
}

// SetRegisters writes the full register set of the halted thread.
func (p *Process) SetRegisters(regs *Registers) error {
	if p.exited {
		return ErrProcessExited{Pid: p.pid}
	}
	if err := p.backend.SetRegs(p.pid, regs); err != nil {
		return &RegisterAccessError{Pid: p.pid, Op: "set", Err: err}
	}
	return nil
}

// RestoreSnapshot writes back the register set captured at attach
// time.
func (p *Process) RestoreSnapshot() error {
	return p.SetRegisters(p.snapshot)
}

// Resume lets the halted thread run until the next stop.
func (p *Process) Resume() error {
	if p.exited {
		return ErrProcessExited{Pid: p.pid}
	}
	return p.backend.Cont(p.pid, 0)
}

// WaitStop blocks until the target stops or exits. There is no
// internal timeout; the wait is bounded only by the target's behavior.
func (p *Process) WaitStop() (StopEvent, error) {
	ev, err := p.backend.Wait(p.pid)
	if err != nil {
		return ev, fmt.Errorf("wait on pid %d: %w", p.pid, err)
	}
	if ev.Exited || ev.Signaled {
		p.exited = true
		p.attached = false
	}
	return ev, nil
}

// Detach releases trace control. It is idempotent and safe to call on
// every exit path; failures come back as DetachError and must not be
// escalated by callers.
func (p *Process) Detach() error {
	if !p.attached {
		p.backend.Close()
		return nil
	}
	p.attached = false
	err := p.backend.Detach(p.pid)
	p.backend.Close()
	if err != nil {
		return &DetachError{Pid: p.pid, Err: err}
	}
	p.log.Debugf("detached from pid=%d", p.pid)
	return nil
}
