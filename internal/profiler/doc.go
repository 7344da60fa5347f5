// Package profiler records nested, named frames of work and renders them as
// an indented timing tree.
//
// # Usage
//
//	p := profiler.New(profiler.DefaultConfig(), profiler.Options{Sink: s})
//	p.Enable()
//
//	err := profiler.Run(p, profiler.Text("load"), func() error {
//		return profiler.Run(p, profiler.Textf("parse %s", name), parse)
//	})
//
// Every call to Do/Run pushes a frame onto the profiler's active-frame stack
// and pops it when the body returns, fails or panics. A frame whose parent is
// still open is attached to that parent; when a top-level frame closes, the
// whole tree is rendered as one block and written to the sink.
//
// # Filtering
//
// Frames shorter than Config.HideIfLessThan are dropped. Top-level frames are
// additionally dropped when shorter than Config.HideTopLevelIfLessThan.
// Labels are lazy and are only evaluated for frames that survive filtering.
//
// # Context Propagation
//
// Code that already threads a context can carry the profiler with it:
//
//	ctx = profiler.WithProfiler(ctx, p)
//	v, err := profiler.DoContext(ctx, profiler.Text("fetch"), fetch)
//
// # Garbage collection
//
// A GCHook installed into the runtime injects a "gc" frame after every
// collection, attributed to whichever frame was open at the time.
package profiler
