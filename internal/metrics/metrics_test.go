package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nestprof/internal/clock"
	"nestprof/internal/profiler"
)

func newProfiled(t *testing.T) (*profiler.Profiler, *clock.Virtual, *Collector) {
	t.Helper()
	c := New()
	vc := clock.NewVirtual(time.Time{})
	cfg := profiler.DefaultConfig()
	cfg.ShouldProfile = true
	p := profiler.New(cfg, profiler.Options{Clock: vc, Observers: []profiler.Observer{c}})
	return p, vc, c
}

func TestCollectorCountsWrittenAndHidden(t *testing.T) {
	p, vc, c := newProfiled(t)

	_ = profiler.Run(p, profiler.Text("outer"), func() error {
		_ = profiler.Run(p, profiler.Text("tiny"), func() error {
			vc.Advance(100 * time.Microsecond)
			return nil
		})
		_ = profiler.Run(p, profiler.Text("inner"), func() error {
			vc.Advance(20 * time.Millisecond)
			return nil
		})
		vc.Advance(200 * time.Millisecond)
		return nil
	})
	_ = profiler.Run(p, profiler.Text("quick"), func() error {
		vc.Advance(10 * time.Millisecond)
		return nil
	})

	if got := testutil.ToFloat64(c.writes); got != 1 {
		t.Fatalf("profiles written = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.framesHidden.WithLabelValues("false")); got != 1 {
		t.Fatalf("hidden nested = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.framesHidden.WithLabelValues("true")); got != 1 {
		t.Fatalf("hidden top-level = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.frameDuration); got != 2 {
		t.Fatalf("duration series = %d, want 2", got)
	}
}

func TestCollectorGCFrames(t *testing.T) {
	p, vc, c := newProfiled(t)
	stats := gcStats{}
	hook := profiler.NewGCHook(p, stats, profiler.GCHookOptions{Fixed: 10 * time.Millisecond})

	_ = profiler.Run(p, profiler.Text("work"), func() error {
		hook.AfterCollection()
		vc.Advance(150 * time.Millisecond)
		return nil
	})

	if got := testutil.ToFloat64(c.gcFrames); got != 1 {
		t.Fatalf("gc frames = %v, want 1", got)
	}
}

func TestHandlerServesSeries(t *testing.T) {
	p, vc, c := newProfiled(t)
	_ = profiler.Run(p, profiler.Text("slow"), func() error {
		vc.Advance(time.Second)
		return nil
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`nestprof_frame_duration_seconds_count{kind="call",top_level="true"} 1`,
		"nestprof_profiles_written_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

type gcStats struct{}

func (gcStats) PauseTotal() time.Duration { return 0 }
func (gcStats) Cycles() int               { return 1 }
