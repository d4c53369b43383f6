package symbols

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Module identifies the library enclosing a local function, under
// every name it may be known by: the path it was mapped from, its
// fully resolved canonical path and, when the mapped path is a
// symlink, the link's target.
type Module struct {
	Path       string
	Canonical  string
	LinkTarget string
	Base       uint64
}

func (mod Module) names() []string {
	var names []string
	for _, n := range []string{mod.Path, mod.Canonical, mod.LinkTarget} {
		if n == "" {
			continue
		}
		dup := false
		for _, seen := range names {
			if seen == n {
				dup = true
				break
			}
		}
		if !dup {
			names = append(names, n)
		}
	}
	return names
}

// LocalFunction is a function address inside the injector's own
// address space together with its enclosing module. Its offset within
// the module is what carries over to the target, provided both
// processes loaded the same build of the module.
type LocalFunction struct {
	Addr   uint64
	Module Module
}

// Offset returns the function's displacement from its module base.
func (f LocalFunction) Offset() uint64 { return f.Addr - f.Module.Base }

// SymbolResolutionError means the function's module could not be
// located in the target's mappings. No address is ever guessed.
type SymbolResolutionError struct {
	Module string
	Err    error
}

func (e *SymbolResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not resolve %s in target: %v", e.Module, e.Err)
	}
	return fmt.Sprintf("could not resolve %s in target", e.Module)
}

func (e *SymbolResolutionError) Unwrap() error { return e.Err }

// Resolve computes the target-side address of a local function by
// finding its module in the target's mappings.
//
// Candidates are matched in strict priority order: exact path equality
// against any of the module's names, then file name equality, then
// directory-prefix containment. A weaker match is only used if no
// stronger one exists anywhere in the listing.
func Resolve(local LocalFunction, mappings []Mapping) (uint64, error) {
	names := local.Module.names()
	if len(names) == 0 {
		return 0, &SymbolResolutionError{Module: "(unnamed module)"}
	}

	match := func(accept func(mapped, name string) bool) (uint64, bool) {
		for _, name := range names {
			for _, m := range mappings {
				if m.Path == "" {
					continue
				}
				if accept(m.Path, name) {
					base, _ := ModuleBase(mappings, m.Path)
					return base, true
				}
			}
		}
		return 0, false
	}

	if base, ok := match(func(mapped, name string) bool {
		return mapped == name
	}); ok {
		return base + local.Offset(), nil
	}
	if base, ok := match(func(mapped, name string) bool {
		return filepath.Base(mapped) == filepath.Base(name)
	}); ok {
		return base + local.Offset(), nil
	}
	if base, ok := match(func(mapped, name string) bool {
		dir := filepath.Dir(name)
		return dir != "/" && dir != "." && strings.HasPrefix(mapped, dir+"/")
	}); ok {
		return base + local.Offset(), nil
	}

	return 0, &SymbolResolutionError{Module: local.Module.Path}
}

// CLibraryMappings finds the executable mappings whose file name is
// the C runtime itself: the prefix followed directly by ".so" or by a
// version tag, as in "libc.so.6" or "libc-2.31.so". The name rule is
// deliberately tight; "libc" alone would also take libcrypto.so or
// libcap.so. It is the last-resort match for namespaced or
// containerized targets whose loader module hides under an unexpected
// real path, and every candidate is returned because not every
// plausible name exports the loader entry point.
func CLibraryMappings(mappings []Mapping, prefix string) []Mapping {
	var candidates []Mapping
	seen := make(map[string]bool)
	for _, m := range mappings {
		if !m.Exec() || m.Path == "" || seen[m.Path] {
			continue
		}
		name := filepath.Base(m.Path)
		if strings.HasPrefix(name, prefix+".so") || strings.HasPrefix(name, prefix+"-") {
			seen[m.Path] = true
			candidates = append(candidates, m)
		}
	}
	return candidates
}
