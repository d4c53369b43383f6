package inject

// State is the position of one injection attempt in its lifecycle.
// Both Detached states are terminal; once Attached has been reached, a
// Detached state is always eventually reached.
type State int

const (
	Idle State = iota
	Attached
	FunctionResolved
	ArgumentsStaged
	CallExecuted
	Verified
	DetachedSuccess
	DetachedFailure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attached:
		return "attached"
	case FunctionResolved:
		return "function-resolved"
	case ArgumentsStaged:
		return "arguments-staged"
	case CallExecuted:
		return "call-executed"
	case Verified:
		return "verified"
	case DetachedSuccess:
		return "detached-success"
	case DetachedFailure:
		return "detached-failure"
	}
	return "unknown"
}

// Stage tags where in the pipeline a failure occurred. The taxonomy is
// contractual; log wording is not.
type Stage string

const (
	StageAttach  Stage = "attach"
	StageResolve Stage = "resolve"
	StageWrite   Stage = "write"
	StageCall    Stage = "call"
	StageVerify  Stage = "verify"
	StageDetach  Stage = "detach"
)

// Result is the single terminal outcome of one injection attempt.
type Result struct {
	// Handle is the opaque value the remote loader returned. It is
	// informational; the freshly loaded module announces itself
	// through its own channel.
	Handle uint64
	// Stage is set on failure to the stage that failed.
	Stage Stage
	// Err is nil exactly when the attempt ran to completion. A detach
	// stage error can coexist with a non-zero Handle: the library
	// loaded, the target just could not be released cleanly.
	Err error
}

// Success reports whether the library was loaded.
func (r Result) Success() bool { return r.Err == nil }
