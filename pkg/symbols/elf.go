package symbols

import (
	"debug/elf"
	"fmt"
)

// CheckClass verifies that the library at libPath has the same ELF
// class as the target's executable. Loading a 32-bit object into a
// 64-bit process (or the reverse) can only fail, so this is checked
// before the target is ever touched.
func CheckClass(pid int, libPath string) error {
	exe, err := elf.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return fmt.Errorf("could not read target executable: %w", err)
	}
	defer exe.Close()

	lib, err := elf.Open(libPath)
	if err != nil {
		return fmt.Errorf("could not read library: %w", err)
	}
	defer lib.Close()

	if exe.Class != lib.Class {
		return fmt.Errorf("target is %s but %s is %s", exe.Class, libPath, lib.Class)
	}
	return nil
}
