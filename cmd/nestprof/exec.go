package main

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"nestprof/internal/archive"
	"nestprof/internal/observ"
	"nestprof/internal/profiler"
	"nestprof/internal/sink"
)

type execOptions struct {
	label   string
	output  string
	archive string
	tag     string
	summary bool
	force   bool
	all     bool
}

func newExecCmd(a *app) *cobra.Command {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec [flags] -- command [args...]",
		Short: "Run a command inside one profiled frame",
		Long: `exec runs a command as a single top-level frame. The frame is written to
the profile log if profiling is enabled and it lasts long enough.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExec(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.label, "label", "", "frame label (default: command name)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "profile log path")
	cmd.Flags().StringVar(&opts.archive, "archive", "", "also append the frame to this msgpack archive")
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag the frame with this text")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print per-label totals to stderr")
	cmd.Flags().BoolVar(&opts.force, "force", false, "profile even if disabled in the settings")
	cmd.Flags().BoolVar(&opts.all, "all", false, "record the frame regardless of its duration")
	return cmd
}

func (a *app) runExec(cmd *cobra.Command, args []string, opts execOptions) error {
	s, _, err := a.loadSettings()
	if err != nil {
		return err
	}
	cfg := s.Profiler
	if opts.force {
		cfg.ShouldProfile = true
	}
	if opts.all {
		cfg.HideIfLessThan = 0
		cfg.HideTopLevelIfLessThan = 0
	}
	if opts.tag != "" {
		tag := profiler.Message{Text: opts.tag}
		cfg.TagFramesWith = func() (profiler.Message, bool) { return tag, true }
	}

	path, err := logPath(opts.output, s)
	if err != nil {
		return err
	}
	file := sink.NewFile(path)
	defer file.Close()
	if cfg.ShouldProfile {
		// A short-lived process would otherwise lose its only write to
		// the background open.
		if err := file.Open(); err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("profile log unavailable")
		}
	}

	var observers []profiler.Observer
	var agg *observ.Aggregator
	if opts.summary {
		agg = observ.NewAggregator()
		observers = append(observers, agg)
	}
	if opts.archive != "" {
		w, err := archive.Create(opts.archive, a.log)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer w.Close()
		observers = append(observers, w)
	}

	p := profiler.New(cfg, profiler.Options{Sink: file, Logger: &a.log, Observers: observers})
	ctx := profiler.WithProfiler(cmd.Context(), p)

	err = profiler.RunContext(ctx, execLabel(opts.label, args), func(ctx context.Context) error {
		c := exec.CommandContext(ctx, args[0], args[1:]...)
		c.Stdin = cmd.InOrStdin()
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()
		return c.Run()
	})

	if agg != nil {
		fmt.Fprint(cmd.ErrOrStderr(), agg.Summary())
	}
	return err
}

func execLabel(label string, args []string) profiler.Label {
	if label == "" {
		label = filepath.Base(args[0])
	}
	if len(args) == 1 {
		return profiler.Text(label)
	}
	return profiler.Attrs(label, profiler.Attr{Key: "args", Value: strings.Join(args[1:], " ")})
}
