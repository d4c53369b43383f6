package proc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/qtspy/qtspy/pkg/proc"
	proctest "github.com/qtspy/qtspy/pkg/proc/test"
)

func attachSim(t *testing.T, pid int) (*proc.Process, *proctest.Sim) {
	t.Helper()
	sim := proctest.NewSim(pid)
	p, err := proc.Attach(pid, sim)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return p, sim
}

func TestReadMemoryUnaligned(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	data := []byte("0123456789abcdef")
	sim.WriteBytes(0x7ffc00000100, data)

	got, err := p.ReadMemory(0x7ffc00000103, 7)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data[3:10]) {
		t.Errorf("read %q, want %q", got, data[3:10])
	}
}

func TestWriteMemoryPreservesSurroundingBytes(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	orig := []byte("AAAAAAAAAAAAAAAA")
	sim.WriteBytes(0x7ffc00000200, orig)

	if _, err := p.WriteMemory(0x7ffc00000203, []byte("xyz")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := sim.ReadBytes(0x7ffc00000200, 16)
	want := []byte("AAAxyzAAAAAAAAAA")
	if !bytes.Equal(got, want) {
		t.Errorf("memory %q, want %q", got, want)
	}
}

func TestWriteMemoryBacksUpBeforeWriting(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	// A backup read failure must abort before any word is written.
	sim.PeekErrs[0x7ffc00000300] = errors.New("io error")

	_, err := p.WriteMemory(0x7ffc00000300, make([]byte, 16))
	var werr *proc.MemoryWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("got %v, want MemoryWriteError", err)
	}
	if len(sim.Pokes) != 0 {
		t.Errorf("target written despite failed backup: pokes %#x", sim.Pokes)
	}
}

func TestWriteMemoryRollsBackPartialWrite(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	orig := []byte("0123456789abcdef")
	sim.WriteBytes(0x7ffc00000400, orig)
	before := sim.Snapshot()

	// First word writes, second fails; the first must be rolled back.
	sim.PokeErrs[0x7ffc00000408] = errors.New("io error")

	_, err := p.WriteMemory(0x7ffc00000400, bytes.Repeat([]byte{0xcc}, 16))
	var werr *proc.MemoryWriteError
	if !errors.As(err, &werr) {
		t.Fatalf("got %v, want MemoryWriteError", err)
	}
	if !proctest.SameMemory(before, sim.Snapshot()) {
		t.Errorf("memory not rolled back: %q", sim.ReadBytes(0x7ffc00000400, 16))
	}
}

func TestRestoreMemoryRoundTrip(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	sim.WriteBytes(0x7ffc00000500, []byte("original content"))
	before := sim.Snapshot()

	backup, err := p.WriteMemory(0x7ffc00000503, []byte("CLOBBER"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if proctest.SameMemory(before, sim.Snapshot()) {
		t.Fatal("write had no effect")
	}
	if err := p.RestoreMemory(backup); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !proctest.SameMemory(before, sim.Snapshot()) {
		t.Errorf("memory not restored: %q", sim.ReadBytes(0x7ffc00000500, 16))
	}
}

func TestWriteMemoryEmpty(t *testing.T) {
	p, sim := attachSim(t, 100)
	defer p.Detach()

	backup, err := p.WriteMemory(0x7ffc00000600, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if backup.Size() != 0 {
		t.Errorf("empty write produced a %d byte backup", backup.Size())
	}
	if err := p.RestoreMemory(backup); err != nil {
		t.Errorf("restore of empty backup: %v", err)
	}
	if len(sim.Pokes) != 0 {
		t.Errorf("empty write touched the target: pokes %#x", sim.Pokes)
	}
}
