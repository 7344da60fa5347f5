package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nestprof/internal/advice"
	"nestprof/internal/archive"
	"nestprof/internal/clock"
	"nestprof/internal/config"
	"nestprof/internal/httpapi"
	"nestprof/internal/metrics"
	"nestprof/internal/observ"
	"nestprof/internal/profiler"
	"nestprof/internal/sink"
)

type demoOptions struct {
	depth    int
	rounds   int
	interval time.Duration
	output   string
	archive  string
	listen   string
	watch    bool
	seed     uint64
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Profile a synthetic nested workload",
		Long: `demo runs rounds of simulated requests with nested steps, wrapped helper
functions and real garbage collections, writing the profile log as it goes.
Profiling starts enabled; with --watch the settings file can change that live.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDemo(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.depth, "depth", 3, "nesting depth of each request")
	cmd.Flags().IntVar(&opts.rounds, "rounds", 5, "number of requests (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 200*time.Millisecond, "pause between requests")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "profile log path")
	cmd.Flags().StringVar(&opts.archive, "archive", "", "also append frames to this msgpack archive")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve /metrics, /log, /summary, /config and /profiling on this address")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the settings file when it changes")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "workload random seed")
	return cmd
}

func (a *app) runDemo(cmd *cobra.Command, opts demoOptions) error {
	if opts.depth < 1 {
		return fmt.Errorf("--depth must be at least 1")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, settingsPath, err := a.loadSettings()
	if err != nil {
		return err
	}
	path, err := logPath(opts.output, s)
	if err != nil {
		return err
	}
	file := sink.NewFile(path)
	defer file.Close()
	ring := sink.NewRing(64)

	coll := metrics.New()
	agg := observ.NewAggregator()
	observers := []profiler.Observer{coll, agg}
	if opts.archive != "" {
		w, err := archive.Create(opts.archive, a.log)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer w.Close()
		observers = append(observers, w)
	}

	cfg := s.Profiler
	cfg.ShouldProfile = true
	var round atomic.Int64
	cfg.TagFramesWith = func() (profiler.Message, bool) {
		return profiler.Message{Text: "round", Attrs: []profiler.Attr{{Key: "n", Value: strconv.FormatInt(round.Load(), 10)}}}, true
	}
	p := profiler.New(cfg, profiler.Options{
		Sink:      sink.NewMulti(file, ring),
		Logger:    &a.log,
		Observers: observers,
	})

	var gcOpts profiler.GCHookOptions
	if clock.Deterministic {
		gcOpts.Fixed = 10 * time.Millisecond
	}
	stopGC := profiler.NewGCHook(p, nil, gcOpts).Install()
	defer stopGC()

	w := newWorkload(p, opts)
	a.log.Info().Str("path", path).Msg("writing profile log")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if opts.listen != "" {
		srv := &http.Server{
			Addr: opts.listen,
			Handler: httpapi.NewRouter(httpapi.Deps{
				Profiler:   p,
				Ring:       ring,
				Metrics:    coll,
				Aggregator: agg,
				Logger:     a.log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
		a.log.Info().Str("addr", opts.listen).Msg("serving profiler endpoints")
	}

	if opts.watch {
		if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
			return err
		}
		watcher, err := config.NewWatcher(settingsPath, a.log, func(s config.Settings) {
			p.SetConfig(s.Profiler)
		})
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", settingsPath, err)
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error {
		defer cancel()
		for n := 1; opts.rounds == 0 || n <= opts.rounds; n++ {
			round.Store(int64(n))
			if err := w.request(profiler.WithProfiler(gctx, p), n); err != nil {
				if gctx.Err() != nil {
					return nil
				}
				a.log.Debug().Err(err).Int("round", n).Msg("request failed")
			}
			if err := pause(gctx, opts.interval); err != nil {
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), agg.Summary())
	fmt.Fprintf(cmd.OutOrStdout(), "profile log: %s\n", path)
	return nil
}

// workload simulates requests that fetch, process in nested steps and
// render. fetch and render go through the advice registry.
type workload struct {
	p     *profiler.Profiler
	reg   *advice.Registry
	rng   *rand.Rand
	depth int
	keep  [][]byte
}

func newWorkload(p *profiler.Profiler, opts demoOptions) *workload {
	w := &workload{
		p:     p,
		reg:   advice.NewRegistry(p),
		rng:   rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15)),
		depth: opts.depth,
	}
	_ = w.reg.Define("fetch", w.fetch)
	_ = w.reg.Define("render", w.render)
	_ = w.reg.Wrap("fetch", "fetch")
	_ = w.reg.Wrap("fetch", "fetch") // still a single wrapper
	_ = w.reg.Wrap("render", "render")
	return w
}

func (w *workload) request(ctx context.Context, n int) error {
	key := w.rng.IntN(1000)
	return profiler.RunContext(ctx, profiler.Attrs("request", profiler.Attr{Key: "path", Value: "/items/" + strconv.Itoa(key)}), func(ctx context.Context) error {
		data, err := w.reg.Call(ctx, "fetch", key)
		if err != nil {
			return err
		}
		if err := w.step(ctx, 1); err != nil {
			return err
		}
		if n%7 == 0 {
			return fmt.Errorf("item %d not found", key)
		}
		_, err = w.reg.Call(ctx, "render", data)
		return err
	})
}

func (w *workload) step(ctx context.Context, level int) error {
	if level > w.depth {
		return nil
	}
	return profiler.RunContext(ctx, profiler.Textf("step %d", level), func(ctx context.Context) error {
		if err := pause(ctx, w.jitter(2*time.Millisecond, 20*time.Millisecond)); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			if err := w.step(ctx, level+1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *workload) fetch(ctx context.Context, args ...any) (any, error) {
	// Churn enough memory for collections to show up as gc frames.
	buf := make([]byte, 8<<20)
	for i := range buf {
		buf[i] = byte(i)
	}
	w.keep = append(w.keep[:0], buf)
	if err := pause(ctx, w.jitter(10*time.Millisecond, 60*time.Millisecond)); err != nil {
		return nil, err
	}
	return len(args), nil
}

func (w *workload) render(ctx context.Context, _ ...any) (any, error) {
	return nil, pause(ctx, w.jitter(0, 5*time.Millisecond))
}

func (w *workload) jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.rng.Int64N(int64(hi-lo)))
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
