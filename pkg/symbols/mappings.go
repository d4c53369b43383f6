// Package symbols computes the address of a known library function
// inside a target process's address space, by matching the module that
// contains it locally against the target's memory mappings.
package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Mapping is one region of a process's textual memory-mapping listing.
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Path   string // empty for anonymous regions
}

// Read reports whether the region is readable.
func (m Mapping) Read() bool { return len(m.Perms) > 0 && m.Perms[0] == 'r' }

// Write reports whether the region is writable.
func (m Mapping) Write() bool { return len(m.Perms) > 1 && m.Perms[1] == 'w' }

// Exec reports whether the region is executable.
func (m Mapping) Exec() bool { return len(m.Perms) > 2 && m.Perms[2] == 'x' }

func (m Mapping) String() string {
	return fmt.Sprintf("%#x-%#x %s %s", m.Start, m.End, m.Perms, m.Path)
}

// ParseMappings parses a /proc/<pid>/maps style listing. Lines that do
// not look like mappings are skipped rather than treated as errors,
// matching the kernel's loose format guarantees.
func ParseMappings(r io.Reader) ([]Mapping, error) {
	var mappings []Mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrs := strings.Split(fields[0], "-")
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		m := Mapping{Start: start, End: end, Perms: fields[1], Offset: offset}
		if len(fields) >= 6 {
			// File paths may contain spaces; everything after the
			// inode column belongs to the path.
			m.Path = strings.Join(fields[5:], " ")
		}
		mappings = append(mappings, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mappings, nil
}

// TargetMappings reads and parses the mapping listing of pid.
func TargetMappings(pid int) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMappings(f)
}

// SelfMappings reads and parses the mapping listing of the calling
// process.
func SelfMappings() ([]Mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMappings(f)
}

// ModuleBase returns the lowest load address of the module mapped from
// path, which is the module base for offset arithmetic.
func ModuleBase(mappings []Mapping, path string) (uint64, bool) {
	base := uint64(0)
	found := false
	for _, m := range mappings {
		if m.Path != path {
			continue
		}
		if !found || m.Start < base {
			base = m.Start
			found = true
		}
	}
	return base, found
}

// IsLoaded reports whether a module with the given path, or at least
// the same file name, is already mapped.
func IsLoaded(mappings []Mapping, path string) bool {
	base := fileName(path)
	for _, m := range mappings {
		if m.Path == "" {
			continue
		}
		if m.Path == path || fileName(m.Path) == base {
			return true
		}
	}
	return false
}

func fileName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
