// Package proctest provides a simulated tracing backend so the
// injection engine can be exercised without a live target process.
package proctest

import (
	"fmt"

	sys "golang.org/x/sys/unix"

	"github.com/qtspy/qtspy/pkg/proc"
)

const wordSize = 8

// Sim is an in-memory proc.Backend. Target memory is a sparse map of
// word-aligned addresses; registers are a single proc.Registers value.
//
// Error injection: set AttachErr and friends, or add entries to
// PeekErrs/PokeErrs keyed by address. OnCont runs on every Cont and
// stands in for the target actually executing the staged code.
type Sim struct {
	Pid  int
	Mem  map[uint64]uint64
	Regs proc.Registers

	AttachErr  error
	DetachErr  error
	ContErr    error
	GetRegsErr error
	SetRegsErr error
	PeekErrs   map[uint64]error
	PokeErrs   map[uint64]error

	// AttachStop overrides the stop event reported after a
	// successful attach; by default the attach stop is a SIGSTOP.
	AttachStop *proc.StopEvent

	// ContStops are consumed one per Cont; when exhausted a trap stop
	// is reported, which is what a completed staged call produces.
	ContStops []proc.StopEvent

	OnCont func(s *Sim)

	Attached    bool
	Closed      bool
	DetachCalls int
	ContCalls   int
	PeekCalls   int
	Pokes       []uint64 // addresses poked, in order

	pending []proc.StopEvent
}

// NewSim returns a Sim with empty memory and a plausible initial
// stack and instruction pointer.
func NewSim(pid int) *Sim {
	s := &Sim{
		Pid:      pid,
		Mem:      make(map[uint64]uint64),
		PeekErrs: make(map[uint64]error),
		PokeErrs: make(map[uint64]error),
	}
	s.Regs.SetSP(0x7ffc00001000)
	s.Regs.SetPC(0x55d000401000)
	return s
}

func (s *Sim) Attach(pid int) error {
	if s.AttachErr != nil {
		return s.AttachErr
	}
	s.Attached = true
	if s.AttachStop != nil {
		s.pending = append(s.pending, *s.AttachStop)
	} else {
		s.pending = append(s.pending, proc.StopEvent{StopSignal: int(sys.SIGSTOP)})
	}
	return nil
}

func (s *Sim) Detach(pid int) error {
	s.DetachCalls++
	if s.DetachErr != nil {
		return s.DetachErr
	}
	s.Attached = false
	return nil
}

func (s *Sim) GetRegs(pid int, regs *proc.Registers) error {
	if s.GetRegsErr != nil {
		return s.GetRegsErr
	}
	*regs = s.Regs
	return nil
}

func (s *Sim) SetRegs(pid int, regs *proc.Registers) error {
	if s.SetRegsErr != nil {
		return s.SetRegsErr
	}
	s.Regs = *regs
	return nil
}

func (s *Sim) PeekWord(pid int, addr uint64) (uint64, error) {
	s.PeekCalls++
	if err, ok := s.PeekErrs[addr]; ok {
		return 0, err
	}
	return s.Mem[addr], nil
}

func (s *Sim) PokeWord(pid int, addr uint64, word uint64) error {
	if err, ok := s.PokeErrs[addr]; ok {
		return err
	}
	s.Pokes = append(s.Pokes, addr)
	s.Mem[addr] = word
	return nil
}

func (s *Sim) Cont(pid int, sig int) error {
	s.ContCalls++
	if s.ContErr != nil {
		return s.ContErr
	}
	if s.OnCont != nil {
		s.OnCont(s)
	}
	if len(s.ContStops) > 0 {
		s.pending = append(s.pending, s.ContStops[0])
		s.ContStops = s.ContStops[1:]
	} else {
		s.pending = append(s.pending, proc.StopEvent{StopSignal: proc.TrapSignal})
	}
	return nil
}

func (s *Sim) Wait(pid int) (proc.StopEvent, error) {
	if len(s.pending) == 0 {
		return proc.StopEvent{}, fmt.Errorf("wait on pid %d with no pending stop", pid)
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *Sim) Close() error {
	s.Closed = true
	return nil
}

// ReadBytes returns n bytes of simulated memory starting at addr.
func (s *Sim) ReadBytes(addr uint64, n int) []byte {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		w := s.Mem[(addr+uint64(len(buf)))&^uint64(wordSize-1)]
		off := int(addr+uint64(len(buf))) & (wordSize - 1)
		for ; off < wordSize && len(buf) < n; off++ {
			buf = append(buf, byte(w>>(8*uint(off))))
		}
	}
	return buf
}

// WriteBytes fills simulated memory at addr, for seeding test state.
func (s *Sim) WriteBytes(addr uint64, data []byte) {
	for i, b := range data {
		a := addr + uint64(i)
		wa := a &^ uint64(wordSize-1)
		shift := 8 * uint(a&(wordSize-1))
		w := s.Mem[wa]
		w = (w &^ (uint64(0xff) << shift)) | uint64(b)<<shift
		s.Mem[wa] = w
	}
}

// Snapshot returns a copy of the full simulated memory, for
// before/after comparisons.
func (s *Sim) Snapshot() map[uint64]uint64 {
	m := make(map[uint64]uint64, len(s.Mem))
	for k, v := range s.Mem {
		m[k] = v
	}
	return m
}

// SameMemory compares two memory snapshots treating absent words as
// zero, since restoring a region writes back explicit zero words.
func SameMemory(a, b map[uint64]uint64) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}
