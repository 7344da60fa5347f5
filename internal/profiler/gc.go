package profiler

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/safecast"

	"nestprof/internal/clock"
)

// GCStats reports cumulative garbage-collection figures.
type GCStats interface {
	PauseTotal() time.Duration // total stop-the-world pause since process start
	Cycles() int               // completed GC cycles
}

// isolatedGCStats is implemented by stats sources that never call into a
// Profiler. They are read without suspending profiling, which would
// otherwise skip frames opened meanwhile on other goroutines.
type isolatedGCStats interface {
	isolatedFromProfiler()
}

// RuntimeGCStats reads GC figures from runtime.MemStats.
type RuntimeGCStats struct{}

func (RuntimeGCStats) isolatedFromProfiler() {}

// PauseTotal returns MemStats.PauseTotalNs as a duration.
func (RuntimeGCStats) PauseTotal() time.Duration {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	ns, err := safecast.Conv[int64](ms.PauseTotalNs)
	if err != nil {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Cycles returns MemStats.NumGC.
func (RuntimeGCStats) Cycles() int {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	n, err := safecast.Conv[int](ms.NumGC)
	if err != nil {
		return math.MaxInt
	}
	return n
}

// GCHookOptions configures a GCHook.
type GCHookOptions struct {
	// Fixed, when positive, replaces the measured pause delta with a constant
	// and advances the profiler's clock by it (if the clock is an
	// clock.Advancer). Used for reproducible output in tests.
	Fixed time.Duration
}

// GCHook turns each garbage collection into a "gc" frame.
type GCHook struct {
	p     *Profiler
	stats GCStats
	fixed time.Duration

	mu   sync.Mutex
	last time.Duration

	once    sync.Once
	stopped atomic.Bool
}

// NewGCHook creates a hook for p. A nil stats reads the Go runtime. Pause
// time accumulated before the hook exists is not attributed to any frame.
func NewGCHook(p *Profiler, stats GCStats, opts GCHookOptions) *GCHook {
	if stats == nil {
		stats = RuntimeGCStats{}
	}
	h := &GCHook{p: p, stats: stats, fixed: opts.Fixed}
	if h.fixed <= 0 {
		h.last = stats.PauseTotal()
	}
	return h
}

// AfterCollection records the pause time since the previous call as a gc
// frame. It is a no-op while profiling is off and never panics.
func (h *GCHook) AfterCollection() {
	defer func() {
		if r := recover(); r != nil && h.p != nil {
			h.p.log.Debug().Interface("panic", r).Msg("gc accounting failed")
		}
	}()
	if !h.p.Enabled() {
		return
	}

	total := h.stats.PauseTotal()
	h.mu.Lock()
	took := total - h.last
	h.last = total
	h.mu.Unlock()
	if took < 0 {
		took = 0
	}
	if h.fixed > 0 {
		took = h.fixed
		if adv, ok := h.p.clock.(clock.Advancer); ok {
			adv.Advance(took)
		}
	}

	stop := h.p.clock.Now()
	start := stop.Add(-took)

	var cycles int
	if _, ok := h.stats.(isolatedGCStats); ok {
		cycles = h.stats.Cycles()
	} else {
		h.p.suspend(func() { cycles = h.stats.Cycles() })
	}

	h.p.recordGC(start, stop, cycles)
}

// gcSentinel carries a pointer so it is never tiny-allocated; tiny objects
// may never have their finalizers run.
type gcSentinel struct {
	hook *GCHook
}

// Install registers the hook with the runtime so AfterCollection runs after
// every collection. Repeated calls install it only once. The returned
// function stops further callbacks.
func (h *GCHook) Install() (stop func()) {
	h.once.Do(h.arm)
	return func() { h.stopped.Store(true) }
}

// arm allocates a garbage sentinel whose finalizer fires after the next
// collection and re-arms a new one.
func (h *GCHook) arm() {
	s := &gcSentinel{hook: h}
	runtime.SetFinalizer(s, func(s *gcSentinel) {
		if s.hook.stopped.Load() {
			return
		}
		s.hook.AfterCollection()
		s.hook.arm()
	})
}
