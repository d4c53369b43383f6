// Package logflags configures logging for the qtspy injector.
//
// Every subsystem has its own flag so that the noisy ones (the raw
// ptrace layer in particular) can be enabled independently when doing
// post-mortem analysis of a failed injection.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	injector = false
	ptrace   = false
	symbols  = false
)

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	lf := loggerFactory
	if lf == nil {
		lf = defaultLoggerFactory
	}
	return lf(flag, fields, logOut)
}

// Injector returns true if the injection state machine should log.
func Injector() bool {
	return injector
}

// InjectorLogger returns a logger for the injection state machine.
func InjectorLogger() Logger {
	return makeLogger(injector, Fields{"layer": "injector"})
}

// Ptrace returns true if the tracing backend should log every kernel
// round-trip.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the tracing backend.
func PtraceLogger() Logger {
	return makeLogger(ptrace, Fields{"layer": "ptrace"})
}

// Symbols returns true if the symbol locator should log.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol locator.
func SymbolsLogger() Logger {
	return makeLogger(symbols, Fields{"layer": "symbols"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If
// logDest is not empty logs will be redirected to the file or file
// descriptor it describes.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "qtspy-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "injector"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "injector":
			injector = true
		case "ptrace":
			ptrace = true
		case "symbols":
			symbols = true
		default:
			return fmt.Errorf("invalid log output argument %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

func defaultLoggerFactory(flag bool, fields Fields, out io.Writer) Logger {
	lg := logrus.New()
	lg.Level = logrus.DebugLevel
	if !flag {
		lg.Level = logrus.PanicLevel
	}
	if out != nil {
		lg.Out = out
		lg.Formatter = &logrus.TextFormatter{DisableColors: true}
	} else {
		lg.Out = colorable.NewColorableStderr()
		lg.Formatter = &logrus.TextFormatter{ForceColors: isatty.IsTerminal(os.Stderr.Fd())}
	}
	return &logrusLogger{lg.WithFields(logrus.Fields(fields))}
}
