package profiler

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nestprof/internal/clock"
	"nestprof/internal/sink"
)

type recorder struct {
	mu     sync.Mutex
	frames []*Frame
	hidden []time.Duration
}

func (r *recorder) ObserveFrame(f *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) ObserveHidden(f *Frame, topLevel bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hidden = append(r.hidden, f.Duration())
}

type countingSink struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (s *countingSink) Write(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.err
}

type harness struct {
	p     *Profiler
	clock *clock.Virtual
	ring  *sink.Ring
	rec   *recorder
}

func newHarness(cfg Config) *harness {
	h := &harness{
		clock: clock.NewVirtual(time.Time{}),
		ring:  sink.NewRing(16),
		rec:   &recorder{},
	}
	h.p = New(cfg, Options{Clock: h.clock, Sink: h.ring, Observers: []Observer{h.rec}})
	return h
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.ShouldProfile = true
	return cfg
}

// spend returns a body that advances the virtual clock by d.
func (h *harness) spend(d time.Duration) func() error {
	return func() error {
		h.clock.Advance(d)
		return nil
	}
}

func TestNestedFramesRenderAsIndentedTree(t *testing.T) {
	h := newHarness(enabledConfig())
	p := h.p

	err := Run(p, Text("outer"), func() error {
		if err := Run(p, Text("mid"), func() error {
			if err := Run(p, Text("inner"), h.spend(10*time.Millisecond)); err != nil {
				return err
			}
			h.clock.Advance(40 * time.Millisecond)
			return nil
		}); err != nil {
			return err
		}
		if err := Run(p, Attrs("sibling", Attr{Key: "n", Value: "2"}), h.spend(5*time.Millisecond)); err != nil {
			return err
		}
		h.clock.Advance(145 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "200.000ms outer  -- start 2000-01-01 00:00:00.000\n" +
		"  50.000ms mid\n" +
		"    10.000ms inner\n" +
		"  5.000ms sibling n=2\n" +
		"\n"
	if got := h.ring.String(); got != want {
		t.Fatalf("rendered block =\n%s\nwant\n%s", got, want)
	}
	if d := p.Depth(); d != 0 {
		t.Fatalf("Depth() = %d after all frames closed, want 0", d)
	}
}

func TestPrecedingLineStartLocation(t *testing.T) {
	cfg := enabledConfig()
	cfg.StartLocation = StartPrecedingLine
	h := newHarness(cfg)
	h.clock.Advance(1500 * time.Millisecond)

	if err := Run(h.p, Text("job"), h.spend(2*time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "start 2000-01-01 00:00:01.500\n2.000s job\n\n"
	if got := h.ring.String(); got != want {
		t.Fatalf("rendered block = %q, want %q", got, want)
	}
}

func TestShortNestedFrameIsHidden(t *testing.T) {
	h := newHarness(enabledConfig())
	err := Run(h.p, Text("outer"), func() error {
		_ = Run(h.p, Text("tiny"), h.spend(500*time.Microsecond))
		h.clock.Advance(200 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.rec.frames) != 1 {
		t.Fatalf("recorded %d trees, want 1", len(h.rec.frames))
	}
	if n := len(h.rec.frames[0].Children); n != 0 {
		t.Fatalf("outer has %d children, want 0", n)
	}
	if strings.Contains(h.ring.String(), "tiny") {
		t.Fatalf("hidden frame rendered:\n%s", h.ring.String())
	}
	if len(h.rec.hidden) != 1 || h.rec.hidden[0] != 500*time.Microsecond {
		t.Fatalf("hidden = %v, want [500us]", h.rec.hidden)
	}
}

func TestTopLevelThresholdOnlyAppliesToTopLevel(t *testing.T) {
	h := newHarness(enabledConfig())

	if err := Run(h.p, Text("quick"), h.spend(50*time.Millisecond)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.ring.Writes(); got != 0 {
		t.Fatalf("sink writes = %d after 50ms top-level frame, want 0", got)
	}

	err := Run(h.p, Text("outer"), func() error {
		_ = Run(h.p, Text("nested"), h.spend(50*time.Millisecond))
		h.clock.Advance(100 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := h.ring.String()
	if !strings.Contains(out, "  50.000ms nested\n") {
		t.Fatalf("nested 50ms frame missing:\n%s", out)
	}
}

func TestDisabledIsPassThrough(t *testing.T) {
	s := &countingSink{}
	p := New(DefaultConfig(), Options{Clock: clock.NewVirtual(time.Time{}), Sink: s})

	got, err := Do(p, Text("x"), func() (int, error) {
		if d := p.Depth(); d != 0 {
			t.Fatalf("Depth() inside disabled frame = %d, want 0", d)
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Do = (%d, %v), want (42, nil)", got, err)
	}

	boom := errors.New("boom")
	_, err = Do(p, Text("x"), func() (int, error) { return 0, boom })
	if err != boom {
		t.Fatalf("Do error = %v, want the body's error", err)
	}
	if s.writes != 0 {
		t.Fatalf("sink writes = %d, want 0", s.writes)
	}
}

func TestNilProfilerIsPassThrough(t *testing.T) {
	var p *Profiler
	got, err := Do(p, Text("x"), func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Do(nil) = (%q, %v), want (ok, nil)", got, err)
	}
	if p.Enabled() {
		t.Fatalf("nil profiler reports enabled")
	}
	if d := p.Depth(); d != 0 {
		t.Fatalf("nil profiler Depth() = %d, want 0", d)
	}
}

func TestBodyErrorPropagatesAndStackUnwinds(t *testing.T) {
	cfg := enabledConfig()
	cfg.HideTopLevelIfLessThan = 0
	cfg.HideIfLessThan = 0
	h := newHarness(cfg)
	boom := errors.New("boom")

	for i := 0; i < 50; i++ {
		err := Run(h.p, Text("failing"), func() error {
			return Run(h.p, Text("deeper"), func() error { return boom })
		})
		if err != boom {
			t.Fatalf("iteration %d: error = %v, want boom unchanged", i, err)
		}
		if d := h.p.Depth(); d != 0 {
			t.Fatalf("iteration %d: Depth() = %d, want 0", i, d)
		}
	}
	if len(h.rec.frames) != 50 {
		t.Fatalf("recorded %d trees, want 50", len(h.rec.frames))
	}
	top := h.rec.frames[0]
	if !top.Failed || top.Err != "boom" {
		t.Fatalf("top frame Failed=%v Err=%q, want failed boom", top.Failed, top.Err)
	}
	if !strings.Contains(h.ring.String(), "failing [failed: boom]") {
		t.Fatalf("failure not rendered:\n%s", h.ring.String())
	}
}

func TestPanicClosesFrameAndKeepsUnwinding(t *testing.T) {
	h := newHarness(enabledConfig())

	func() {
		defer func() {
			r := recover()
			if r != "kaboom" {
				t.Fatalf("recovered %v, want kaboom", r)
			}
		}()
		_ = Run(h.p, Text("outer"), func() error {
			return Run(h.p, Text("inner"), func() error {
				h.clock.Advance(150 * time.Millisecond)
				panic("kaboom")
			})
		})
	}()

	if d := h.p.Depth(); d != 0 {
		t.Fatalf("Depth() after panic = %d, want 0", d)
	}
	if len(h.rec.frames) != 1 {
		t.Fatalf("recorded %d trees, want 1", len(h.rec.frames))
	}
	outer := h.rec.frames[0]
	if !outer.Failed || len(outer.Children) != 1 || !outer.Children[0].Failed {
		t.Fatalf("panic not recorded as failure: %+v", outer)
	}
	if got := outer.Children[0].Err; got != "panic: kaboom" {
		t.Fatalf("inner Err = %q, want %q", got, "panic: kaboom")
	}
	if !strings.Contains(h.ring.String(), "inner [failed: panic: kaboom]") {
		t.Fatalf("panic value not rendered:\n%s", h.ring.String())
	}
}

func TestGoexitClosesFrameAsAborted(t *testing.T) {
	h := newHarness(enabledConfig())
	returned := false

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Run(h.p, Text("job"), func() error {
			h.clock.Advance(150 * time.Millisecond)
			runtime.Goexit()
			return nil
		})
		returned = true
	}()
	<-done

	if returned {
		t.Fatalf("Run returned after runtime.Goexit")
	}
	if d := h.p.Depth(); d != 0 {
		t.Fatalf("Depth() after Goexit = %d, want 0", d)
	}
	if len(h.rec.frames) != 1 {
		t.Fatalf("recorded %d trees, want 1", len(h.rec.frames))
	}
	if got := h.rec.frames[0].Err; got != "aborted" {
		t.Fatalf("Err = %q, want aborted", got)
	}
}

func TestToggleOffMidFrameStillRecords(t *testing.T) {
	h := newHarness(enabledConfig())
	err := Run(h.p, Text("outer"), func() error {
		h.p.Disable()
		_ = Run(h.p, Text("after-off"), h.spend(20*time.Millisecond))
		h.clock.Advance(200 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.rec.frames) != 1 {
		t.Fatalf("recorded %d trees, want 1", len(h.rec.frames))
	}
	if n := len(h.rec.frames[0].Children); n != 0 {
		t.Fatalf("frame opened while off was recorded (%d children)", n)
	}
	if h.p.Toggle() != true {
		t.Fatalf("Toggle() from off = false, want true")
	}
	if h.p.Toggle() != false {
		t.Fatalf("Toggle() from on = true, want false")
	}
}

func TestTagOnlyTopLevel(t *testing.T) {
	h := newHarness(enabledConfig())
	calls := 0
	h.p.SetTagFunc(func() (Message, bool) {
		calls++
		// Frames opened by the callback itself are not profiled.
		_ = Run(h.p, Text("inside-tag"), h.spend(0))
		return Message{Text: "buffer", Attrs: []Attr{{Key: "name", Value: "main.go"}}}, true
	})

	err := Run(h.p, Text("outer"), func() error {
		_ = Run(h.p, Text("inner"), h.spend(10*time.Millisecond))
		h.clock.Advance(100 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("tag callback called %d times, want 1", calls)
	}
	want := "110.000ms outer [buffer name=main.go]  -- start 2000-01-01 00:00:00.000\n" +
		"  10.000ms inner\n\n"
	if got := h.ring.String(); got != want {
		t.Fatalf("rendered = %q, want %q", got, want)
	}
}

func TestTagCallbackPanicIsContained(t *testing.T) {
	h := newHarness(enabledConfig())
	h.p.SetTagFunc(func() (Message, bool) { panic("bad tag") })
	if err := Run(h.p, Text("job"), h.spend(time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.ring.String(); !strings.HasPrefix(got, "1.000s job  --") {
		t.Fatalf("rendered = %q", got)
	}
}

func TestLabelPanicIsContained(t *testing.T) {
	cfg := enabledConfig()
	cfg.HideIfLessThan = 0
	cfg.HideTopLevelIfLessThan = 0
	var logs bytes.Buffer
	log := zerolog.New(&logs)
	h := newHarness(cfg)
	h.p = New(cfg, Options{Clock: h.clock, Sink: h.ring, Logger: &log, Observers: []Observer{h.rec}})

	badLabel := func() Message { panic("label boom") }
	got, err := Do(h.p, badLabel, func() (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Do = (%d, %v), want (42, nil)", got, err)
	}
	if d := h.p.Depth(); d != 0 {
		t.Fatalf("Depth() = %d, want 0", d)
	}
	if !strings.HasPrefix(h.ring.String(), "0us <label panicked>") {
		t.Fatalf("rendered = %q", h.ring.String())
	}
	if !strings.Contains(logs.String(), "profile label panicked") {
		t.Fatalf("label panic not logged: %q", logs.String())
	}
}

func TestLabelForcedOnlyForRecordedFrames(t *testing.T) {
	h := newHarness(enabledConfig())
	forced := map[string]int{}
	label := func(name string) Label {
		return func() Message {
			forced[name]++
			return Message{Text: name}
		}
	}
	err := Run(h.p, label("outer"), func() error {
		_ = Run(h.p, label("hidden"), h.spend(100*time.Microsecond))
		_ = Run(h.p, label("kept"), h.spend(2*time.Millisecond))
		h.clock.Advance(time.Second)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for name, want := range map[string]int{"outer": 1, "kept": 1, "hidden": 0} {
		if forced[name] != want {
			t.Fatalf("label %q forced %d times, want %d", name, forced[name], want)
		}
	}
}

func TestSinkFailureIsLoggedNotPropagated(t *testing.T) {
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)
	vc := clock.NewVirtual(time.Time{})
	s := &countingSink{err: errors.New("disk full")}
	p := New(enabledConfig(), Options{Clock: vc, Sink: s, Logger: &logger})

	err := Run(p, Text("job"), func() error {
		vc.Advance(time.Second)
		return nil
	})
	if err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
	if s.writes != 1 {
		t.Fatalf("sink writes = %d, want 1", s.writes)
	}
	if !strings.Contains(logBuf.String(), "disk full") {
		t.Fatalf("write failure not logged: %q", logBuf.String())
	}

	logBuf.Reset()
	s.err = sink.ErrNotReady
	_ = Run(p, Text("job"), func() error {
		vc.Advance(time.Second)
		return nil
	})
	if logBuf.Len() != 0 {
		t.Fatalf("not-ready drop was logged: %q", logBuf.String())
	}
}

func TestDoContextMarksCancellation(t *testing.T) {
	h := newHarness(enabledConfig())
	ctx, cancel := context.WithCancel(WithProfiler(context.Background(), h.p))

	_, err := DoContext(ctx, Text("wait"), func(ctx context.Context) (int, error) {
		h.clock.Advance(300 * time.Millisecond)
		cancel()
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("DoContext error = %v, want context.Canceled", err)
	}
	if len(h.rec.frames) != 1 {
		t.Fatalf("recorded %d trees, want 1", len(h.rec.frames))
	}
	f := h.rec.frames[0]
	if !f.Cancelled || f.Mode != ModeAsync {
		t.Fatalf("frame Cancelled=%v Mode=%v, want cancelled async", f.Cancelled, f.Mode)
	}
	if h.p.Depth() != 0 {
		t.Fatalf("Depth() = %d, want 0", h.p.Depth())
	}
}

func TestRunContextWithoutProfiler(t *testing.T) {
	ran := false
	err := RunContext(context.Background(), Text("x"), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("RunContext = %v, ran=%v", err, ran)
	}
}

func TestOutOfOrderCloseIsRepaired(t *testing.T) {
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)
	p := New(enabledConfig(), Options{Clock: clock.NewVirtual(time.Time{}), Logger: &logger})

	a := p.begin(Text("a"), ModeSync)
	b := p.begin(Text("b"), ModeSync)
	p.end(a)
	p.end(b)
	if d := p.Depth(); d != 0 {
		t.Fatalf("Depth() = %d, want 0", d)
	}
	if !strings.Contains(logBuf.String(), "out of order") {
		t.Fatalf("out-of-order close not logged: %q", logBuf.String())
	}
}

func TestSetConfigKeepsTagFunc(t *testing.T) {
	p := New(DefaultConfig(), Options{})
	p.SetTagFunc(func() (Message, bool) { return Message{}, false })
	cfg := DefaultConfig()
	cfg.ShouldProfile = true
	p.SetConfig(cfg)
	got := p.Config()
	if got.TagFramesWith == nil {
		t.Fatalf("SetConfig dropped TagFramesWith")
	}
	if !got.ShouldProfile {
		t.Fatalf("SetConfig did not apply ShouldProfile")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0us"},
		{850 * time.Microsecond, "850us"},
		{time.Millisecond, "1.000ms"},
		{12345 * time.Microsecond, "12.345ms"},
		{time.Second, "1.000s"},
		{90 * time.Second, "90.000s"},
	}
	for _, tc := range cases {
		if got := FormatDuration(tc.in); got != tc.want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseStartLocation(t *testing.T) {
	cases := []struct {
		in      string
		want    StartLocation
		wantErr bool
	}{
		{"", StartEndOfFirstLine, false},
		{"end-of-first-line", StartEndOfFirstLine, false},
		{"Preceding-Line", StartPrecedingLine, false},
		{"top", StartEndOfFirstLine, true},
	}
	for _, tc := range cases {
		got, err := ParseStartLocation(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseStartLocation(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseStartLocation(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if !tc.wantErr && got.String() != strings.ToLower(tc.in) && tc.in != "" {
			t.Fatalf("String() = %q, want %q", got.String(), strings.ToLower(tc.in))
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg.HideIfLessThan = -time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatalf("negative threshold accepted")
	}
}

func TestMessageString(t *testing.T) {
	m := Message{Text: "read", Attrs: []Attr{{Key: "path", Value: "a b"}, {Key: "n", Value: "3"}}}
	if got, want := m.String(), `read path="a b" n=3`; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got := (Message{Attrs: []Attr{{Key: "k", Value: ""}}}).String(); got != `k=""` {
		t.Fatalf("String() = %q", got)
	}
	w := m.With(Attr{Key: "x", Value: "y"})
	if len(m.Attrs) != 2 || len(w.Attrs) != 3 {
		t.Fatalf("With mutated the receiver or dropped attrs")
	}
}
