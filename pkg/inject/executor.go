package inject

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/qtspy/qtspy/pkg/logflags"
	"github.com/qtspy/qtspy/pkg/proc"
)

// executeCall stages and executes exactly one function call inside the
// halted target and retrieves its machine-word result.
//
// Setup-time errors abort after rolling back any writes already made,
// without ever resuming the target. Once the target has been resumed,
// the code region, the return slot and the full register set are
// restored unconditionally, in that order, before the outcome is
// reported.
func executeCall(p *proc.Process, fnAddr uint64, args []uint64, lay scratchLayout, log logflags.Logger) (uint64, error) {
	regs, err := p.Registers()
	if err != nil {
		return 0, err
	}
	saved := regs.Copy()

	retBackup, err := p.WriteMemory(lay.retSlot, make([]byte, 8))
	if err != nil {
		return 0, err
	}
	stub := callStub(fnAddr)
	codeBackup, err := p.WriteMemory(lay.code, stub)
	if err != nil {
		if rerr := p.RestoreMemory(retBackup); rerr != nil {
			log.WithError(rerr).Error("return slot rollback failed")
		}
		return 0, err
	}
	if logflags.Injector() {
		logStub(log, stub, lay.code)
	}

	if err := regs.SetCallArgs(args); err != nil {
		restoreMem(p, codeBackup, retBackup, log)
		return 0, err
	}
	regs.SetPC(lay.code)
	regs.SetSP(lay.retSlot)
	regs.ClearSyscallRestart()
	if err := p.SetRegisters(regs); err != nil {
		restoreMem(p, codeBackup, retBackup, log)
		return 0, err
	}

	var handle uint64
	var callErr error
	if err := p.Resume(); err != nil {
		callErr = &RemoteExecutionError{Pid: p.Pid(), Err: err}
	} else {
		ev, err := p.WaitStop()
		switch {
		case err != nil:
			callErr = &RemoteExecutionError{Pid: p.Pid(), Err: err}
		case ev.Exited:
			callErr = &RemoteExecutionError{Pid: p.Pid(), Exited: true, ExitStatus: ev.ExitStatus}
		case ev.Signaled:
			callErr = &RemoteExecutionError{Pid: p.Pid(), Exited: true, Signal: ev.TermSignal}
		case ev.StopSignal != proc.TrapSignal:
			callErr = &RemoteExecutionError{Pid: p.Pid(), Signal: ev.StopSignal}
		default:
			after, err := p.Registers()
			if err != nil {
				callErr = err
			} else {
				handle = after.ReturnValue()
			}
		}
	}

	// Unconditional restoration, whatever happened above.
	if err := restoreMem(p, codeBackup, retBackup, log); err != nil && callErr == nil {
		callErr = err
	}
	if err := p.SetRegisters(saved); err != nil {
		log.WithError(err).Error("register restore failed")
		if callErr == nil {
			callErr = err
		}
	}
	if callErr != nil {
		return 0, callErr
	}
	return handle, nil
}

func restoreMem(p *proc.Process, codeBackup, retBackup *proc.MemoryBackup, log logflags.Logger) error {
	var first error
	if err := p.RestoreMemory(codeBackup); err != nil {
		log.WithError(err).Error("code region restore failed")
		first = err
	}
	if err := p.RestoreMemory(retBackup); err != nil {
		log.WithError(err).Error("return slot restore failed")
		if first == nil {
			first = err
		}
	}
	return first
}

// logStub disassembles the staged stub into the debug log, one
// instruction per line.
func logStub(log logflags.Logger, stub []byte, addr uint64) {
	for len(stub) > 0 {
		inst, err := x86asm.Decode(stub, 64)
		if err != nil {
			break
		}
		log.Debugf("stub %#x: %s", addr, x86asm.GNUSyntax(inst, addr, nil))
		stub = stub[inst.Len:]
		addr += uint64(inst.Len)
	}
}
