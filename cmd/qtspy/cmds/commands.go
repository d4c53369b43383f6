package cmds

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/qtspy/qtspy/pkg/config"
	"github.com/qtspy/qtspy/pkg/inject"
	"github.com/qtspy/qtspy/pkg/logflags"
	"github.com/qtspy/qtspy/pkg/symbols"
	"github.com/qtspy/qtspy/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const qtspyCommandLongDesc = `qtspy loads shared libraries into running processes.

It attaches to the target with ptrace, finds the dynamic loader inside the
target's address space, and makes the target call it on the library you
name. The target keeps running afterwards with its registers and memory
restored.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "qtspy",
		Short: "qtspy loads shared libraries into running processes.",
		Long:  qtspyCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'qtspy help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'qtspy help log').")

	injectCommand := &cobra.Command{
		Use:   "inject <pid> <library>",
		Short: "Load a shared library into the process with the given pid.",
		Long: `Load a shared library into the process with the given pid.

The library path is made absolute before it is sent to the target, since
the target resolves relative paths against its own working directory.`,
		Args: cobra.ExactArgs(2),
		Run:  injectCmd,
	}
	rootCommand.AddCommand(injectCommand)

	modulesCommand := &cobra.Command{
		Use:   "modules <pid>",
		Short: "List the modules mapped into the process with the given pid.",
		Args:  cobra.ExactArgs(1),
		Run:   modulesCmd,
	}
	rootCommand.AddCommand(modulesCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qtspy %s\n", version.QtSpyVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	injector	Log the injection pipeline
	ptrace		Log ptrace requests sent to the target
	symbols		Log loader symbol resolution

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// setupLogging configures logging from the flags, falling back to the
// config file's component list when --log-output is not given.
func setupLogging() error {
	lo := logOutput
	if lo == "" && log {
		lo = conf.LogOutput
	}
	return logflags.Setup(log, lo, logDest)
}

func injectCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := setupLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		pid, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pid %q\n", args[0])
			return 1
		}

		libPath, err := filepath.Abs(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		if _, err := os.Stat(libPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		if err := symbols.CheckClass(pid, libPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		if mappings, err := symbols.TargetMappings(pid); err == nil && symbols.IsLoaded(mappings, libPath) {
			fmt.Fprintf(os.Stderr, "Warning: %s is already loaded in process %d\n", filepath.Base(libPath), pid)
		}

		locator := symbols.NewLocator()
		locator.LoaderSymbols = conf.LoaderSymbols
		locator.CLibraryPrefix = conf.CLibraryPrefix

		res := inject.New(locator).Inject(pid, libPath)
		if !res.Success() {
			fmt.Fprintf(os.Stderr, "injection failed at stage %s: %v\n", res.Stage, res.Err)
			if res.Handle != 0 {
				fmt.Fprintf(os.Stderr, "the library was loaded (handle %#x) but the target was not released cleanly\n", res.Handle)
			}
			return 1
		}
		fmt.Printf("loaded %s into process %d, handle %#x\n", libPath, pid, res.Handle)
		return 0
	}()
	os.Exit(status)
}

func modulesCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := setupLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		pid, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pid %q\n", args[0])
			return 1
		}

		mappings, err := symbols.TargetMappings(pid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		// One row per file-backed module, at its lowest mapped address.
		seen := make(map[string]bool)
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Base", "Module"})
		for _, m := range mappings {
			if m.Path == "" || seen[m.Path] {
				continue
			}
			seen[m.Path] = true
			base, _ := symbols.ModuleBase(mappings, m.Path)
			t.AppendRow(table.Row{fmt.Sprintf("%#x", base), m.Path})
		}
		t.Render()
		return 0
	}()
	os.Exit(status)
}
