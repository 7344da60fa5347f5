package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"nestprof/internal/config"
)

func newEnableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Turn profiling on in the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.setProfiling(cmd.OutOrStdout(), func(bool) bool { return true })
		},
	}
}

func newDisableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Turn profiling off in the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.setProfiling(cmd.OutOrStdout(), func(bool) bool { return false })
		},
	}
}

func newToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Flip profiling in the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.setProfiling(cmd.OutOrStdout(), func(on bool) bool { return !on })
		},
	}
}

func (a *app) setProfiling(out io.Writer, next func(bool) bool) error {
	path, err := a.settingsPath()
	if err != nil {
		return err
	}
	s, err := config.Update(path, func(s *config.Settings) {
		s.Profiler.ShouldProfile = next(s.Profiler.ShouldProfile)
	})
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	a.log.Info().Str("path", path).Bool("should_profile", s.Profiler.ShouldProfile).Msg("settings updated")
	printProfilingState(out, s.Profiler.ShouldProfile)
	return nil
}

func printProfilingState(out io.Writer, on bool) {
	if on {
		color.New(color.FgGreen, color.Bold).Fprintln(out, "profiling enabled")
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintln(out, "profiling disabled")
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, path, err := a.loadSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", path)
			return config.Encode(out, s)
		},
	}
}
