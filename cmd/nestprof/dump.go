package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nestprof/internal/archive"
	"nestprof/internal/observ"
	"nestprof/internal/profiler"
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		format  string
		start   string
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "dump <archive>",
		Short: "Render the frame trees stored in an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := archive.Read(args[0])
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}
			out := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			case "text":
			default:
				return fmt.Errorf("unsupported format %q (must be text or json)", format)
			}

			loc, err := a.startLocation(start)
			if err != nil {
				return err
			}
			agg := observ.NewAggregator()
			for _, rec := range records {
				f := rec.Frame()
				fmt.Fprint(out, profiler.Render(f, loc))
				agg.ObserveFrame(f)
			}
			if summary {
				fmt.Fprint(out, agg.Summary())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	cmd.Flags().StringVar(&start, "start-location", "", "override start stamp placement (end-of-first-line|preceding-line)")
	cmd.Flags().BoolVar(&summary, "summary", false, "append per-label totals")
	return cmd
}

func (a *app) startLocation(flag string) (profiler.StartLocation, error) {
	if flag != "" {
		return profiler.ParseStartLocation(flag)
	}
	s, _, err := a.loadSettings()
	if err != nil {
		return 0, err
	}
	return s.Profiler.StartLocation, nil
}
