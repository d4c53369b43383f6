package inject

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qtspy/qtspy/pkg/proc"
	proctest "github.com/qtspy/qtspy/pkg/proc/test"
)

type fixedResolver struct {
	addr uint64
	err  error
}

func (r fixedResolver) LoaderOpen(pid int) (uint64, error) {
	return r.addr, r.err
}

func newTestInjector(resolver Resolver, sim *proctest.Sim) *Injector {
	inj := New(resolver)
	inj.newBackend = func() proc.Backend { return sim }
	return inj
}

func TestInjectSuccess(t *testing.T) {
	const (
		fnAddr  = 0x7f000009c230
		libPath = "/tmp/libpayload.so"
	)
	sim := proctest.NewSim(100)
	regsBefore := sim.Regs
	memBefore := sim.Snapshot()

	sim.OnCont = func(s *proctest.Sim) {
		// The loader would run here; it sees the path argument and the
		// load flags staged by the injector.
		path := s.ReadBytes(s.Regs.Arg(0), len(libPath)+1)
		assert.Equal(t, append([]byte(libPath), 0), path)
		assert.Equal(t, uint64(loadNow|loadGlobal), s.Regs.Arg(1))
		s.Regs.SetReturnValue(0x55c3a1002b10)
	}

	inj := newTestInjector(fixedResolver{addr: fnAddr}, sim)
	res := inj.Inject(100, libPath)
	require.NoError(t, res.Err)
	assert.True(t, res.Success())
	assert.Equal(t, uint64(0x55c3a1002b10), res.Handle)
	assert.Equal(t, DetachedSuccess, inj.State())

	assert.Equal(t, 1, sim.DetachCalls)
	assert.True(t, sim.Closed)
	assert.True(t, proctest.SameMemory(memBefore, sim.Snapshot()), "target memory not restored")
	assert.Equal(t, regsBefore, sim.Regs, "target registers not restored")
}

func TestInjectAttachFailure(t *testing.T) {
	sim := proctest.NewSim(4242)
	sim.AttachErr = errors.New("no such process")

	inj := newTestInjector(fixedResolver{addr: 0x1000}, sim)
	res := inj.Inject(4242, "/tmp/libpayload.so")
	require.Error(t, res.Err)
	assert.Equal(t, StageAttach, res.Stage)
	assert.Equal(t, DetachedFailure, inj.State())

	var aerr *proc.AttachError
	require.True(t, errors.As(res.Err, &aerr))
	assert.Equal(t, 4242, aerr.Pid)
	assert.Zero(t, sim.PeekCalls, "target memory touched after failed attach")
	assert.Empty(t, sim.Pokes)
	assert.Zero(t, sim.ContCalls)
}

func TestInjectResolveFailure(t *testing.T) {
	sim := proctest.NewSim(100)
	resolveErr := errors.New("no loader module")

	inj := newTestInjector(fixedResolver{err: resolveErr}, sim)
	res := inj.Inject(100, "/tmp/libpayload.so")
	require.ErrorIs(t, res.Err, resolveErr)
	assert.Equal(t, StageResolve, res.Stage)
	assert.Equal(t, DetachedFailure, inj.State())

	// The target was attached, so it must have been detached again.
	assert.Equal(t, 1, sim.DetachCalls)
	assert.Empty(t, sim.Pokes, "target memory written without a resolved function")
}

func TestInjectNullHandle(t *testing.T) {
	const libPath = "/tmp/libpayload.so"
	sim := proctest.NewSim(100)
	regsBefore := sim.Regs
	memBefore := sim.Snapshot()

	// The loader runs but cannot load the library: null handle.
	inj := newTestInjector(fixedResolver{addr: 0x7f000009c230}, sim)
	res := inj.Inject(100, libPath)
	require.Error(t, res.Err)
	assert.Equal(t, StageVerify, res.Stage)
	assert.Equal(t, DetachedFailure, inj.State())

	var nerr *RemoteCallFailed
	require.True(t, errors.As(res.Err, &nerr))
	assert.Equal(t, libPath, nerr.Path)

	// The call completed, so restoration still happens in full before
	// the failure is reported.
	assert.Equal(t, 1, sim.DetachCalls)
	assert.True(t, proctest.SameMemory(memBefore, sim.Snapshot()), "target memory not restored")
	assert.Equal(t, regsBefore, sim.Regs, "target registers not restored")
}

func TestInjectExecutionFailureStage(t *testing.T) {
	sim := proctest.NewSim(100)
	sim.ContStops = []proc.StopEvent{{Exited: true, ExitStatus: 1}}

	inj := newTestInjector(fixedResolver{addr: 0x7f000009c230}, sim)
	res := inj.Inject(100, "/tmp/libpayload.so")
	require.Error(t, res.Err)
	assert.Equal(t, StageCall, res.Stage)

	var rerr *RemoteExecutionError
	require.True(t, errors.As(res.Err, &rerr))
	assert.True(t, rerr.Exited)
}

func TestInjectDetachFailureDoesNotMaskSuccess(t *testing.T) {
	sim := proctest.NewSim(100)
	sim.OnCont = func(s *proctest.Sim) {
		s.Regs.SetReturnValue(0x55c3a1002b10)
	}
	sim.DetachErr = errors.New("target gone")

	inj := newTestInjector(fixedResolver{addr: 0x7f000009c230}, sim)
	res := inj.Inject(100, "/tmp/libpayload.so")

	// The library did load and the handle is kept, but the detach
	// failure is reported under its own stage.
	require.Error(t, res.Err)
	assert.Equal(t, uint64(0x55c3a1002b10), res.Handle)
	assert.Equal(t, StageDetach, res.Stage)
	assert.Equal(t, DetachedFailure, inj.State())
	var derr *proc.DetachError
	assert.True(t, errors.As(res.Err, &derr))
}

func TestInjectRepeatable(t *testing.T) {
	const libPath = "/tmp/libpayload.so"

	for i := 0; i < 3; i++ {
		sim := proctest.NewSim(100)
		sim.OnCont = func(s *proctest.Sim) {
			s.Regs.SetReturnValue(0x55c3a1002b10)
		}
		inj := newTestInjector(fixedResolver{addr: 0x7f000009c230}, sim)
		res := inj.Inject(100, libPath)
		require.NoError(t, res.Err)
		assert.Equal(t, uint64(0x55c3a1002b10), res.Handle)
		assert.Equal(t, DetachedSuccess, inj.State())
	}
}
