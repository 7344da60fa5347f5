package profiler

import "context"

type ctxKey struct{}

// WithProfiler attaches p to ctx.
func WithProfiler(ctx context.Context, p *Profiler) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext extracts the Profiler from ctx. It returns nil, which profiles
// nothing, when none is attached.
func FromContext(ctx context.Context) *Profiler {
	if ctx == nil {
		return nil
	}
	p, _ := ctx.Value(ctxKey{}).(*Profiler)
	return p
}
