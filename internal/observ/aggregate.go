package observ

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"nestprof/internal/profiler"
)

// Entry accumulates every written frame that shares a message text.
type Entry struct {
	Name   string
	Count  int
	Total  time.Duration
	Max    time.Duration
	Failed int
}

// Aggregator totals written frames by message text. It implements
// profiler.Observer. Thread-safe for concurrent access.
type Aggregator struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[string]*Entry, 8)}
}

// ObserveFrame adds f and all of its descendants.
func (a *Aggregator) ObserveFrame(f *profiler.Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f.Walk(func(fr *profiler.Frame, _ int) {
		name := fr.Message.Text
		e, ok := a.entries[name]
		if !ok {
			e = &Entry{Name: name}
			a.entries[name] = e
			a.order = append(a.order, name)
		}
		d := fr.Duration()
		e.Count++
		e.Total += d
		if d > e.Max {
			e.Max = d
		}
		if fr.Failed {
			e.Failed++
		}
	})
}

// Entries returns a copy of the totals, largest total first.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	out := make([]Entry, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, *a.entries[name])
	}
	a.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// Reset forgets all totals.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.entries = make(map[string]*Entry, 8)
	a.order = nil
	a.mu.Unlock()
}

// Summary returns a human-readable table of the totals.
func (a *Aggregator) Summary() string {
	report := a.Report()
	var b strings.Builder
	b.WriteString("frames:\n")
	for _, e := range report.Entries {
		fmt.Fprintf(&b, "  %-24s %5d x %9.2f ms  max %9.2f ms", e.Name, e.Count, e.TotalMS, e.MaxMS)
		if e.Failed > 0 {
			fmt.Fprintf(&b, "  // %d failed", e.Failed)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// EntryReport is the serialized form of an Entry.
type EntryReport struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
	Failed  int     `json:"failed,omitempty"`
}

// Report holds the aggregated totals for serialization.
type Report struct {
	Entries []EntryReport `json:"entries"`
}

// Report converts the totals to milliseconds.
func (a *Aggregator) Report() Report {
	entries := a.Entries()
	report := Report{Entries: make([]EntryReport, len(entries))}
	for i, e := range entries {
		report.Entries[i] = EntryReport{
			Name:    e.Name,
			Count:   e.Count,
			TotalMS: durationToMillis(e.Total),
			MaxMS:   durationToMillis(e.Max),
			Failed:  e.Failed,
		}
	}
	return report
}

func durationToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
