package inject

import "fmt"

// RemoteExecutionError means the staged call did not come back under
// the expected trap: the target exited, stopped on a different signal,
// or the resume/wait round-trip itself failed. It is distinct from
// setup-time errors, which surface as memory or register errors before
// the target was ever resumed.
type RemoteExecutionError struct {
	Pid        int
	Exited     bool
	ExitStatus int
	Signal     int
	Err        error
}

func (e *RemoteExecutionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("remote call in pid %d failed: %v", e.Pid, e.Err)
	case e.Exited && e.Signal != 0:
		return fmt.Sprintf("pid %d was killed by signal %d during the call", e.Pid, e.Signal)
	case e.Exited:
		return fmt.Sprintf("pid %d exited with status %d during the call", e.Pid, e.ExitStatus)
	default:
		return fmt.Sprintf("pid %d stopped with signal %d, expected trap", e.Pid, e.Signal)
	}
}

func (e *RemoteExecutionError) Unwrap() error { return e.Err }

// RemoteCallFailed means the call itself executed cleanly but the
// loader returned a null handle: the library could not be loaded in
// the target (missing dependency, ABI mismatch).
type RemoteCallFailed struct {
	Path string
}

func (e *RemoteCallFailed) Error() string {
	return fmt.Sprintf("remote loader returned a null handle for %s", e.Path)
}
