// Package inject drives a remote dynamic-loader call inside a traced
// process: it stages a library path and a small call stub on the
// target's stack, runs the stub to completion and restores everything
// it touched.
package inject

import (
	"github.com/google/uuid"
	"github.com/qtspy/qtspy/pkg/logflags"
	"github.com/qtspy/qtspy/pkg/proc"
)

// Loader flags passed to the remote loader entry point.
const (
	loadNow    = 0x2   // RTLD_NOW
	loadGlobal = 0x100 // RTLD_GLOBAL
)

// Resolver locates the address of the dynamic loader's open function
// inside the target process.
type Resolver interface {
	LoaderOpen(pid int) (uint64, error)
}

// Injector loads a shared library into a running process. A single
// Injector can run any number of injection attempts, one at a time.
type Injector struct {
	resolver   Resolver
	newBackend func() proc.Backend

	state State
	log   logflags.Logger
}

// New returns an Injector that resolves the loader entry point
// through resolver and drives targets over ptrace.
func New(resolver Resolver) *Injector {
	return &Injector{
		resolver:   resolver,
		newBackend: proc.NewPtraceBackend,
		state:      Idle,
		log:        logflags.InjectorLogger(),
	}
}

// State returns the state reached by the most recent injection attempt.
func (inj *Injector) State() State {
	return inj.state
}

func (inj *Injector) setState(s State) {
	inj.state = s
	inj.log.Debugf("state %s", s)
}

// Inject attaches to pid, makes the target call its dynamic loader on
// libraryPath, and detaches. The target is left running with its
// registers and memory restored whether or not the call succeeded.
//
// The returned Result carries the loader handle on success, or the
// stage at which the attempt failed and the error that ended it.
func (inj *Injector) Inject(pid int, libraryPath string) (res Result) {
	inj.log = logflags.InjectorLogger().WithFields(logflags.Fields{
		"attempt": uuid.New().String(),
		"pid":     pid,
	})
	inj.setState(Idle)
	inj.log.Infof("injecting %s", libraryPath)

	p, err := proc.Attach(pid, inj.newBackend())
	if err != nil {
		inj.setState(DetachedFailure)
		return Result{Stage: StageAttach, Err: err}
	}
	inj.setState(Attached)

	// The target must be released no matter how the attempt ends. A
	// detach failure is logged but never overrides an earlier error.
	defer func() {
		if err := p.Detach(); err != nil {
			inj.log.WithError(err).Error("detach failed")
			if res.Err == nil {
				res.Stage = StageDetach
				res.Err = err
			}
		}
		if res.Err == nil {
			inj.setState(DetachedSuccess)
		} else {
			inj.setState(DetachedFailure)
		}
	}()

	fnAddr, err := inj.resolver.LoaderOpen(pid)
	if err != nil {
		return Result{Stage: StageResolve, Err: err}
	}
	inj.setState(FunctionResolved)
	inj.log.Debugf("loader open function at %#x", fnAddr)

	path := append([]byte(libraryPath), 0)
	lay := layoutScratch(p.Snapshot().SP(), len(path))

	strBackup, err := p.WriteMemory(lay.str, path)
	if err != nil {
		return Result{Stage: StageWrite, Err: err}
	}
	inj.setState(ArgumentsStaged)
	inj.log.Debugf("library path staged at %#x", lay.str)

	handle, callErr := executeCall(p, fnAddr, []uint64{lay.str, loadNow | loadGlobal}, lay, inj.log)
	if callErr == nil {
		inj.setState(CallExecuted)
	}

	if err := p.RestoreMemory(strBackup); err != nil {
		inj.log.WithError(err).Error("string region restore failed")
		if callErr == nil {
			callErr = err
		}
	}
	if callErr != nil {
		return Result{Stage: StageCall, Err: callErr}
	}

	if handle == 0 {
		return Result{Stage: StageVerify, Err: &RemoteCallFailed{Path: libraryPath}}
	}
	inj.setState(Verified)
	inj.log.Infof("library loaded, handle %#x", handle)
	return Result{Handle: handle}
}
