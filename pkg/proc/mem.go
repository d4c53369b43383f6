package proc

import "encoding/binary"

// wordSize is the transfer granularity of the tracing primitive.
const wordSize = 8

// MemoryBackup holds the verbatim words a write overwrote. Every
// backup created during one call sequence must be restored before the
// target is resumed for good.
type MemoryBackup struct {
	addr   uint64   // word-aligned start of the overwritten region
	words  []uint64 // original contents
	length int      // logical length of the write that created it
}

// Addr returns the word-aligned start of the backed-up region.
func (b *MemoryBackup) Addr() uint64 { return b.addr }

// Size returns the rounded size of the backed-up region in bytes.
func (b *MemoryBackup) Size() int { return len(b.words) * wordSize }

// Len returns the logical length of the write this backup covers.
func (b *MemoryBackup) Len() int { return b.length }

// Data returns the original bytes of the backed-up region.
func (b *MemoryBackup) Data() []byte {
	buf := make([]byte, b.Size())
	for i, w := range b.words {
		binary.LittleEndian.PutUint64(buf[i*wordSize:], w)
	}
	return buf
}

func regionWords(addr uint64, n int) (start uint64, count int) {
	start = addr &^ (wordSize - 1)
	end := addr + uint64(n)
	count = int((end - start + wordSize - 1) / wordSize)
	return start, count
}

// ReadMemory copies n bytes from target memory starting at addr. The
// transfer is rounded up to whole words but only the logical length is
// returned.
func (p *Process) ReadMemory(addr uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if p.exited {
		return nil, &MemoryReadError{Addr: addr, Len: n, Err: ErrProcessExited{Pid: p.pid}}
	}
	start, count := regionWords(addr, n)
	buf := make([]byte, count*wordSize)
	for i := 0; i < count; i++ {
		w, err := p.backend.PeekWord(p.pid, start+uint64(i*wordSize))
		if err != nil {
			return nil, &MemoryReadError{Addr: addr, Len: n, Err: err}
		}
		binary.LittleEndian.PutUint64(buf[i*wordSize:], w)
	}
	off := int(addr - start)
	return buf[off : off+n], nil
}

// WriteMemory writes data to target memory at addr and returns the
// backup of the overwritten words. The words about to be clobbered are
// read first; no word is written before its backup read succeeded. A
// failed word write rolls back every word already written in this call
// before the error is reported.
func (p *Process) WriteMemory(addr uint64, data []byte) (*MemoryBackup, error) {
	if len(data) == 0 {
		return &MemoryBackup{addr: addr}, nil
	}
	if p.exited {
		return nil, &MemoryWriteError{Addr: addr, Len: len(data), Err: ErrProcessExited{Pid: p.pid}}
	}
	start, count := regionWords(addr, len(data))

	backup := &MemoryBackup{addr: start, words: make([]uint64, count), length: len(data)}
	for i := 0; i < count; i++ {
		w, err := p.backend.PeekWord(p.pid, start+uint64(i*wordSize))
		if err != nil {
			return nil, &MemoryWriteError{Addr: addr, Len: len(data), Err: err}
		}
		backup.words[i] = w
	}

	// Overlay the payload on the original bytes so the partial words
	// at both ends keep their surrounding content.
	buf := backup.Data()
	copy(buf[addr-start:], data)

	for i := 0; i < count; i++ {
		w := binary.LittleEndian.Uint64(buf[i*wordSize:])
		if err := p.backend.PokeWord(p.pid, start+uint64(i*wordSize), w); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := p.backend.PokeWord(p.pid, start+uint64(j*wordSize), backup.words[j]); rerr != nil {
					p.log.WithError(rerr).Errorf("rollback of word at %#x failed", start+uint64(j*wordSize))
				}
			}
			return nil, &MemoryWriteError{Addr: addr, Len: len(data), Err: err}
		}
	}
	return backup, nil
}

// RestoreMemory writes the backup bytes back verbatim. This is itself
// the rollback path, so its own failure is only reported, never rolled
// back further.
func (p *Process) RestoreMemory(b *MemoryBackup) error {
	if b == nil || len(b.words) == 0 {
		return nil
	}
	if p.exited {
		return &MemoryWriteError{Addr: b.addr, Len: b.Size(), Err: ErrProcessExited{Pid: p.pid}}
	}
	for i, w := range b.words {
		if err := p.backend.PokeWord(p.pid, b.addr+uint64(i*wordSize), w); err != nil {
			return &MemoryWriteError{Addr: b.addr, Len: b.Size(), Err: err}
		}
	}
	return nil
}
