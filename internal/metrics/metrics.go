// Package metrics exports profiled frame durations to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nestprof/internal/profiler"
)

// Collector observes profiler output and keeps Prometheus series for it.
// It implements profiler.Observer and profiler.HiddenObserver.
type Collector struct {
	registry *prometheus.Registry

	frameDuration *prometheus.HistogramVec
	framesHidden  *prometheus.CounterVec
	gcFrames      prometheus.Counter
	writes        prometheus.Counter
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frameDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nestprof_frame_duration_seconds",
				Help:    "Duration of frames that passed filtering",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"kind", "top_level"},
		),
		framesHidden: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nestprof_frames_hidden_total",
				Help: "Frames discarded by the significance filter",
			},
			[]string{"top_level"},
		),
		gcFrames: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nestprof_gc_frames_total",
				Help: "Synthetic gc frames that passed filtering",
			},
		),
		writes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nestprof_profiles_written_total",
				Help: "Top-level profiles handed to the sink",
			},
		),
	}
	c.registry.MustRegister(c.frameDuration, c.framesHidden, c.gcFrames, c.writes)
	return c
}

// Registry exposes the collector's registry, e.g. for extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveFrame records every frame of a written tree.
func (c *Collector) ObserveFrame(f *profiler.Frame) {
	c.writes.Inc()
	f.Walk(func(fr *profiler.Frame, depth int) {
		c.frameDuration.WithLabelValues(fr.Kind.String(), strconv.FormatBool(depth == 0)).
			Observe(fr.Duration().Seconds())
		if fr.Kind == profiler.FrameGC {
			c.gcFrames.Inc()
		}
	})
}

// ObserveHidden counts a filtered frame.
func (c *Collector) ObserveHidden(_ *profiler.Frame, topLevel bool) {
	c.framesHidden.WithLabelValues(strconv.FormatBool(topLevel)).Inc()
}
