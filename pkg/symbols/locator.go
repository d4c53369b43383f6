package symbols

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"

	"github.com/qtspy/qtspy/pkg/logflags"
)

// DefaultLoaderSymbols are the symbol names tried, in order, for the
// dynamic loader's library-open entry point. Modern glibc exports
// dlopen from libc proper; the private __libc_dlopen_mode covers older
// builds where dlopen lived in libdl.
var DefaultLoaderSymbols = []string{"dlopen", "__libc_dlopen_mode"}

// DefaultCLibraryPrefix is the conventional file name prefix of the C
// runtime library.
const DefaultCLibraryPrefix = "libc"

const symbolCacheSize = 16

// Locator resolves the dynamic loader's library-open entry point in a
// target process.
type Locator struct {
	// LoaderSymbols overrides DefaultLoaderSymbols when non-empty.
	LoaderSymbols []string
	// CLibraryPrefix overrides DefaultCLibraryPrefix when non-empty.
	CLibraryPrefix string

	cache *lru.Cache // module path -> loaderSymbol
	log   logflags.Logger
}

type loaderSymbol struct {
	name   string
	offset uint64
}

// NewLocator returns a Locator with an empty symbol-offset cache.
func NewLocator() *Locator {
	cache, _ := lru.New(symbolCacheSize)
	return &Locator{
		cache: cache,
		log:   logflags.SymbolsLogger(),
	}
}

func (l *Locator) symbols() []string {
	if len(l.LoaderSymbols) > 0 {
		return l.LoaderSymbols
	}
	return DefaultLoaderSymbols
}

func (l *Locator) clibPrefix() string {
	if l.CLibraryPrefix != "" {
		return l.CLibraryPrefix
	}
	return DefaultCLibraryPrefix
}

// LoaderOpen resolves the address of the loader's library-open entry
// point inside the target process.
//
// The local side of the computation is the injector's own mapping of
// the C runtime; when the injector carries none (a statically linked
// build), the identity comes from the target's own C runtime mapping
// and the offset is taken from its file on disk. Either way the result
// is remote module base plus symbol offset, and both processes must
// have loaded the same build of the module for it to be meaningful.
func (l *Locator) LoaderOpen(pid int) (uint64, error) {
	target, err := TargetMappings(pid)
	if err != nil {
		return 0, &SymbolResolutionError{Module: "target mappings", Err: err}
	}
	return l.resolveLoaderOpen(pid, target)
}

func (l *Locator) resolveLoaderOpen(pid int, target []Mapping) (uint64, error) {
	if local, err := l.localLoaderOpen(); err == nil {
		addr, err := Resolve(local, target)
		if err == nil {
			l.log.Debugf("resolved loader entry at %#x (local offset %#x)", addr, local.Offset())
			return addr, nil
		}
		l.log.WithError(err).Debug("local module not found in target, trying C-library fallback")
	} else {
		l.log.WithError(err).Debug("no local loader mapping, trying C-library fallback")
	}

	// Fall back to the target's own C runtime: required when the
	// injector is static, or when mount namespaces make the library
	// paths of the two processes disagree. Candidates are tried in
	// mapping order until one exports a loader symbol.
	var lastErr error
	for _, m := range CLibraryMappings(target, l.clibPrefix()) {
		sym, err := l.targetSymbolOffset(pid, m.Path)
		if err != nil {
			l.log.WithError(err).Debugf("no loader symbol in fallback candidate %s", m.Path)
			lastErr = err
			continue
		}
		base, _ := ModuleBase(target, m.Path)
		l.log.Debugf("resolved %s at %#x via fallback module %s", sym.name, base+sym.offset, m.Path)
		return base + sym.offset, nil
	}
	return 0, &SymbolResolutionError{Module: l.clibPrefix() + "*.so", Err: lastErr}
}

// targetSymbolOffset reads the loader symbol offset for a module path
// taken from the target's mappings. The path is meaningful in the
// target's mount namespace, so it is opened through the target's root
// first; the plain path covers targets sharing the injector's
// namespace where /proc/<pid>/root is not accessible.
func (l *Locator) targetSymbolOffset(pid int, path string) (loaderSymbol, error) {
	sym, err := l.symbolOffset(fmt.Sprintf("/proc/%d/root%s", pid, path))
	if err == nil {
		return sym, nil
	}
	return l.symbolOffset(path)
}

// localLoaderOpen builds the LocalFunction for the loader's open entry
// point from the injector's own mappings.
func (l *Locator) localLoaderOpen() (LocalFunction, error) {
	self, err := SelfMappings()
	if err != nil {
		return LocalFunction{}, err
	}
	candidates := CLibraryMappings(self, l.clibPrefix())
	if len(candidates) == 0 {
		return LocalFunction{}, fmt.Errorf("no C runtime mapped in this process")
	}
	var lastErr error
	for _, m := range candidates {
		sym, err := l.symbolOffset(m.Path)
		if err != nil {
			lastErr = err
			continue
		}
		base, _ := ModuleBase(self, m.Path)
		return LocalFunction{
			Addr:   base + sym.offset,
			Module: moduleIdentity(m.Path, base),
		}, nil
	}
	return LocalFunction{}, lastErr
}

func moduleIdentity(path string, base uint64) Module {
	mod := Module{Path: path, Base: base}
	if canon, err := filepath.EvalSymlinks(path); err == nil && canon != path {
		mod.Canonical = canon
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if tgt, err := os.Readlink(path); err == nil {
			if !filepath.IsAbs(tgt) {
				tgt = filepath.Join(filepath.Dir(path), tgt)
			}
			mod.LinkTarget = tgt
		}
	}
	return mod
}

// symbolOffset returns the offset of the first matching loader symbol
// in the ELF file at path. Offsets are cached per module path; the
// same library gets injected into many targets in a row.
func (l *Locator) symbolOffset(path string) (loaderSymbol, error) {
	if v, ok := l.cache.Get(path); ok {
		return v.(loaderSymbol), nil
	}
	f, err := elf.Open(path)
	if err != nil {
		return loaderSymbol{}, err
	}
	defer f.Close()
	syms, err := f.DynamicSymbols()
	if err != nil {
		return loaderSymbol{}, err
	}
	for _, want := range l.symbols() {
		for _, s := range syms {
			if s.Name == want && s.Value != 0 {
				ls := loaderSymbol{name: want, offset: s.Value}
				l.cache.Add(path, ls)
				return ls, nil
			}
		}
	}
	return loaderSymbol{}, fmt.Errorf("none of %v found in %s", l.symbols(), path)
}
