// Package advice lets a host profile calls to its own named functions.
//
// Go cannot patch arbitrary functions, so the host defines them here by
// name and calls them through the registry. Wrapping a name installs a
// profiling wrapper around the original; wrapping it again replaces that
// wrapper instead of stacking a second one.
package advice

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nestprof/internal/profiler"
)

// Func is a host-level function callable by name.
type Func func(ctx context.Context, args ...any) (any, error)

type entry struct {
	original  Func
	installed Func // nil when not wrapped
	label     string
}

// Registry maps function names to their original and installed implementations.
type Registry struct {
	p *profiler.Profiler

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates a Registry whose wrappers record into p.
func NewRegistry(p *profiler.Profiler) *Registry {
	return &Registry{p: p, entries: make(map[string]*entry)}
}

// Define registers fn under name. Redefining a wrapped name keeps it wrapped
// around the new function.
func (r *Registry) Define(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("advice: empty function name")
	}
	if fn == nil {
		return fmt.Errorf("advice: nil function for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		r.entries[name] = &entry{original: fn}
		return nil
	}
	e.original = fn
	if e.installed != nil {
		e.installed = r.wrapper(name, e.label, fn)
	}
	return nil
}

// Wrap installs a profiling wrapper around name. label defaults to name.
// Calling Wrap on an already wrapped name replaces the wrapper.
func (r *Registry) Wrap(name, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("advice: unknown function %q", name)
	}
	if label == "" {
		label = name
	}
	e.label = label
	e.installed = r.wrapper(name, label, e.original)
	return nil
}

// Unwrap removes the wrapper from name. It reports whether one was installed.
func (r *Registry) Unwrap(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.installed == nil {
		return false
	}
	e.installed = nil
	e.label = ""
	return true
}

// Wrapped reports whether name currently has a profiling wrapper.
func (r *Registry) Wrapped(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.installed != nil
}

// Names returns the defined function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes name through its wrapper if one is installed.
func (r *Registry) Call(ctx context.Context, name string, args ...any) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	var fn Func
	if ok {
		fn = e.original
		if e.installed != nil {
			fn = e.installed
		}
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("advice: unknown function %q", name)
	}
	return fn(ctx, args...)
}

func (r *Registry) wrapper(name, label string, fn Func) Func {
	p := r.p
	return func(ctx context.Context, args ...any) (any, error) {
		return profiler.Do(p, profiler.Attrs(label, profiler.Attr{Key: "args", Value: fmt.Sprint(len(args))}), func() (any, error) {
			return fn(ctx, args...)
		})
	}
}
