package proc

import "fmt"

// AttachError means trace control over the target could not be
// acquired: permission denied, the process is already traced, or it
// does not exist.
type AttachError struct {
	Pid int
	Err error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("could not attach to pid %d: %v", e.Pid, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }

// DetachError means trace control could not be released. It is
// surfaced for diagnostics but never escalated.
type DetachError struct {
	Pid int
	Err error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("could not detach from pid %d: %v", e.Pid, e.Err)
}

func (e *DetachError) Unwrap() error { return e.Err }

// RegisterAccessError means the register set of the halted thread
// could not be read or written.
type RegisterAccessError struct {
	Pid int
	Op  string // "get" or "set"
	Err error
}

func (e *RegisterAccessError) Error() string {
	return fmt.Sprintf("could not %s registers of pid %d: %v", e.Op, e.Pid, e.Err)
}

func (e *RegisterAccessError) Unwrap() error { return e.Err }

// MemoryReadError means a word transfer out of the target failed.
type MemoryReadError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *MemoryReadError) Error() string {
	return fmt.Sprintf("could not read %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
}

func (e *MemoryReadError) Unwrap() error { return e.Err }

// MemoryWriteError means a write into the target failed. This covers
// both the backup read that precedes every write and a failed word
// write; in the latter case all words already written have been rolled
// back before the error is reported.
type MemoryWriteError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *MemoryWriteError) Error() string {
	return fmt.Sprintf("could not write %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
}

func (e *MemoryWriteError) Unwrap() error { return e.Err }

// ErrProcessExited indicates that the traced process has exited while
// it was being manipulated.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (e ErrProcessExited) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", e.Pid, e.Status)
}
