package main

import (
	"errors"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nestprof/internal/version"
)

// newRootCmd builds the command tree. Persistent flags land in a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "nestprof",
		Short: "Nested call-stack profiler",
		Long: `nestprof records how long nested blocks of work take and writes the
significant ones as an indented tree to an append-only log.`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.AddCommand(newEnableCmd(a))
	root.AddCommand(newDisableCmd(a))
	root.AddCommand(newToggleCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newExecCmd(a))
	root.AddCommand(newDemoCmd(a))
	root.AddCommand(newViewCmd(a))
	root.AddCommand(newDumpCmd(a))
	root.AddCommand(newVersionCmd())

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "settings file (default $XDG_CONFIG_HOME/nestprof/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "diagnostic log level (debug|info|warn|error)")
	flags.BoolVar(&a.logPretty, "log-pretty", false, "human-readable diagnostic logs")
	flags.StringVar(&a.colorMode, "color", "auto", "colorize output (auto|on|off)")
	flags.StringVar(&a.profiles.CPU, "cpu-profile", "", "write a CPU profile of nestprof itself")
	flags.StringVar(&a.profiles.Mem, "mem-profile", "", "write a heap profile of nestprof itself")
	flags.StringVar(&a.profiles.Trace, "runtime-trace", "", "write a Go runtime trace of nestprof itself")

	return root
}

// main runs the root command. A failing child process started by exec
// passes its exit status through; any other error exits with status 1.
func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err == nil {
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		os.Exit(exitErr.ExitCode())
	}
	os.Exit(1)
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
