package logflags

import "testing"

func resetFlags() {
	injector = false
	ptrace = false
	symbols = false
	logOut = nil
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "injector,ptrace", ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !Injector() || !Ptrace() {
		t.Error("requested subsystems not enabled")
	}
	if Symbols() {
		t.Error("symbols enabled without being requested")
	}
}

func TestSetupDefaultSubsystem(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "", ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !Injector() {
		t.Error("default subsystem not enabled")
	}
}

func TestSetupRejectsUnknownSubsystem(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "injector,bogus", ""); err == nil {
		t.Error("unknown subsystem accepted")
	}
}

func TestSetupRejectsOutputWithoutLog(t *testing.T) {
	defer resetFlags()

	if err := Setup(false, "injector", ""); err != errLogstrWithoutLog {
		t.Errorf("got %v, want errLogstrWithoutLog", err)
	}
}

func TestLoggerFields(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "injector", ""); err != nil {
		t.Fatalf("setup: %v", err)
	}
	log := InjectorLogger().WithField("pid", 42).WithFields(Fields{"attempt": "x"})
	if log == nil {
		t.Fatal("nil logger")
	}
	// Must not panic with no output configured.
	log.Debugf("staging %d bytes", 16)
}
