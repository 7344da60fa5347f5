package main

import (
	"time"

	"github.com/spf13/cobra"

	"nestprof/internal/viewer"
)

func newViewCmd(a *app) *cobra.Command {
	var (
		follow   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "view [path]",
		Short: "Page through the profile log",
		Long: `view opens the profile log read-only. Keys: j/k or arrows scroll, g/G jump
to the start or end, t switches between truncating and wrapping long lines,
r reloads, q closes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := a.loadSettings()
			if err != nil {
				return err
			}
			var flag string
			if len(args) == 1 {
				flag = args[0]
			}
			path, err := logPath(flag, s)
			if err != nil {
				return err
			}
			return viewer.Run(path, viewer.Options{Follow: follow, Interval: interval})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "reload as the log grows")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "reload interval with --follow")
	return cmd
}
