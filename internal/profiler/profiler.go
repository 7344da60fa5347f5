package profiler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nestprof/internal/clock"
	"nestprof/internal/sink"
)

// Observer is notified of every top-level frame tree written to the sink.
// Observers must not modify the frame.
type Observer interface {
	ObserveFrame(f *Frame)
}

// HiddenObserver is optionally implemented by observers that also want to
// know about frames discarded by the significance filter.
type HiddenObserver interface {
	ObserveHidden(f *Frame, topLevel bool)
}

// Options wires a Profiler to its collaborators. Zero values pick defaults:
// clock.Default(), sink.Nop and a disabled logger.
type Options struct {
	Clock     clock.Clock
	Sink      sink.Sink
	Logger    *zerolog.Logger
	Observers []Observer
}

// Profiler owns the configuration and the active-frame stack.
//
// The stack assumes one logical call path at a time: frames must close in
// the reverse order they opened.
type Profiler struct {
	mu        sync.Mutex
	cfg       Config
	clock     clock.Clock
	sink      sink.Sink
	log       zerolog.Logger
	observers []Observer
	stack     []*Frame
	suspended int
}

// New creates a Profiler.
func New(cfg Config, opts Options) *Profiler {
	p := &Profiler{
		cfg:       cfg,
		clock:     opts.Clock,
		sink:      opts.Sink,
		log:       zerolog.Nop(),
		observers: append([]Observer(nil), opts.Observers...),
	}
	if p.clock == nil {
		p.clock = clock.Default()
	}
	if p.sink == nil {
		p.sink = sink.Nop
	}
	if opts.Logger != nil {
		p.log = *opts.Logger
	}
	return p
}

// Config returns a copy of the current settings.
func (p *Profiler) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig replaces the settings. A nil TagFramesWith keeps the current
// callback, since callbacks cannot come from a config file.
func (p *Profiler) SetConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.TagFramesWith == nil {
		cfg.TagFramesWith = p.cfg.TagFramesWith
	}
	p.cfg = cfg
}

// SetTagFunc installs or clears the top-level tag callback.
func (p *Profiler) SetTagFunc(fn TagFunc) {
	p.mu.Lock()
	p.cfg.TagFramesWith = fn
	p.mu.Unlock()
}

// Enable turns profiling on.
func (p *Profiler) Enable() { p.setEnabled(true) }

// Disable turns profiling off. Frames already open are still recorded.
func (p *Profiler) Disable() { p.setEnabled(false) }

// Toggle flips profiling and returns the new state.
func (p *Profiler) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.ShouldProfile = !p.cfg.ShouldProfile
	return p.cfg.ShouldProfile
}

func (p *Profiler) setEnabled(on bool) {
	p.mu.Lock()
	p.cfg.ShouldProfile = on
	p.mu.Unlock()
}

// Enabled reports whether new frames are being opened.
func (p *Profiler) Enabled() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.ShouldProfile
}

// Depth returns the number of currently open frames.
func (p *Profiler) Depth() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}

// AddObserver registers an observer for recorded trees.
func (p *Profiler) AddObserver(o Observer) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// Now reads the profiler's clock.
func (p *Profiler) Now() time.Time { return p.clock.Now() }

// suspend runs fn with frame opening disabled, so calls made by the
// profiler's own bookkeeping never show up as frames.
func (p *Profiler) suspend(fn func()) {
	p.mu.Lock()
	p.suspended++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.suspended--
		p.mu.Unlock()
	}()
	fn()
}

// begin opens a frame, or returns nil when profiling is off. The enabled
// state is captured here; closing the frame does not re-check it.
func (p *Profiler) begin(label Label, mode Mode) *Frame {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if !p.cfg.ShouldProfile || p.suspended > 0 {
		p.mu.Unlock()
		return nil
	}
	topLevel := len(p.stack) == 0
	tagWith := p.cfg.TagFramesWith
	p.mu.Unlock()

	f := &Frame{Kind: FrameCall, Mode: mode, label: label}
	if topLevel && tagWith != nil {
		p.suspend(func() { f.Tag = p.callTag(tagWith) })
	}

	start := p.clock.Now()
	p.mu.Lock()
	f.Depth = len(p.stack)
	if f.Depth > 0 {
		f.parent = p.stack[f.Depth-1]
	}
	f.Start = start
	p.stack = append(p.stack, f)
	p.mu.Unlock()
	return f
}

func (p *Profiler) callTag(fn TagFunc) (tag *Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Interface("panic", r).Msg("profile tag callback panicked")
			tag = nil
		}
	}()
	msg, ok := fn()
	if !ok {
		return nil
	}
	return &msg
}

// end closes f: samples the stop time, pops the stack and records the frame.
func (p *Profiler) end(f *Frame) {
	stop := p.clock.Now()
	p.mu.Lock()
	p.popLocked(f)
	p.mu.Unlock()
	p.record(f, stop)
}

func (p *Profiler) popLocked(f *Frame) {
	n := len(p.stack)
	if n > 0 && p.stack[n-1] == f {
		p.stack[n-1] = nil
		p.stack = p.stack[:n-1]
		return
	}
	for i := n - 1; i >= 0; i-- {
		if p.stack[i] == f {
			p.log.Warn().
				Int("depth", i).
				Int("open", n).
				Msg("profile frame closed out of order")
			copy(p.stack[i:], p.stack[i+1:])
			p.stack[n-1] = nil
			p.stack = p.stack[:n-1]
			return
		}
	}
	p.log.Warn().Msg("profile frame closed twice or never opened")
}
