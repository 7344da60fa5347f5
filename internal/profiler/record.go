package profiler

import (
	"errors"
	"strconv"
	"time"

	"nestprof/internal/sink"
)

const labelPanicked = "<label panicked>"

// record applies the significance filter to a closed frame and either
// attaches it to its parent or, for a top-level frame, writes the tree.
func (p *Profiler) record(f *Frame, stop time.Time) {
	if stop.Before(f.Start) {
		stop = f.Start
	}
	f.Stop = stop

	cfg := p.Config()
	d := f.Duration()
	topLevel := f.parent == nil
	if (topLevel && d < cfg.HideTopLevelIfLessThan) || d < cfg.HideIfLessThan {
		p.notifyHidden(f, topLevel)
		return
	}

	f.Message = p.forceLabel(f.label)
	f.label = nil

	if !topLevel {
		p.mu.Lock()
		attached := !f.parent.isSealed()
		if attached {
			f.parent.Children = append(f.parent.Children, f)
		}
		p.mu.Unlock()
		if !attached {
			p.log.Debug().Str("frame", f.Message.Text).Msg("profile frame closed after its tree was written")
		}
		return
	}

	p.mu.Lock()
	f.sealed = true
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	p.write(Render(f, cfg.StartLocation))
	for _, o := range observers {
		p.observe(o, f)
	}
}

// forceLabel evaluates label. A panicking label yields a placeholder
// message; the frame is still recorded.
func (p *Profiler) forceLabel(label Label) (msg Message) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Interface("panic", r).Msg("profile label panicked")
			msg = Message{Text: labelPanicked}
		}
	}()
	return label.force()
}

// isSealed reports whether f or any ancestor has already been written.
func (f *Frame) isSealed() bool {
	for q := f; q != nil; q = q.parent {
		if q.sealed {
			return true
		}
	}
	return false
}

// write hands text to the sink. Failures never reach the profiled code.
func (p *Profiler) write(text string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Interface("panic", r).Msg("profile sink panicked")
		}
	}()
	if err := p.sink.Write(text); err != nil && !errors.Is(err, sink.ErrNotReady) {
		p.log.Warn().Err(err).Msg("profile sink write failed")
	}
}

func (p *Profiler) observe(o Observer, f *Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Interface("panic", r).Msg("profile observer panicked")
		}
	}()
	o.ObserveFrame(f)
}

func (p *Profiler) notifyHidden(f *Frame, topLevel bool) {
	p.mu.Lock()
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()
	for _, o := range observers {
		h, ok := o.(HiddenObserver)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Warn().Interface("panic", r).Msg("profile observer panicked")
				}
			}()
			h.ObserveHidden(f, topLevel)
		}()
	}
}

// recordGC injects a synthetic gc frame under whichever frame is open,
// without touching the stack.
func (p *Profiler) recordGC(start, stop time.Time, cycles int) {
	f := &Frame{
		Kind:  FrameGC,
		Start: start,
		label: Attrs("gc", Attr{Key: "cycles", Value: strconv.Itoa(cycles)}),
	}
	p.mu.Lock()
	f.Depth = len(p.stack)
	if f.Depth > 0 {
		f.parent = p.stack[f.Depth-1]
	}
	p.mu.Unlock()
	p.record(f, stop)
}
