package profiler

import (
	"context"
	"fmt"
)

// Do runs body inside a frame labelled label. The result and error of body
// are returned unchanged. A panic in body closes the frame as failed and is
// re-raised with the same value; runtime.Goexit closes it as aborted.
func Do[T any](p *Profiler, label Label, body func() (T, error)) (T, error) {
	return do(context.Background(), p, label, ModeSync, body)
}

// Run is Do for bodies without a result.
func Run(p *Profiler, label Label, body func() error) error {
	_, err := do(context.Background(), p, label, ModeSync, func() (struct{}, error) {
		return struct{}{}, body()
	})
	return err
}

// DoContext runs body inside a frame of the profiler carried by ctx. If ctx
// is done by the time body returns, the frame is marked cancelled; it is
// still closed and recorded.
func DoContext[T any](ctx context.Context, label Label, body func(context.Context) (T, error)) (T, error) {
	return do(ctx, FromContext(ctx), label, ModeAsync, func() (T, error) {
		return body(ctx)
	})
}

// RunContext is DoContext for bodies without a result.
func RunContext(ctx context.Context, label Label, body func(context.Context) error) error {
	_, err := DoContext(ctx, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

func do[T any](ctx context.Context, p *Profiler, label Label, mode Mode, body func() (T, error)) (T, error) {
	f := p.begin(label, mode)
	if f == nil {
		return body()
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit: nothing to re-raise.
			f.fail("aborted")
			p.end(f)
			return
		}
		f.fail(fmt.Sprintf("panic: %v", r))
		p.end(f)
		panic(r)
	}()

	result, err := body()
	completed = true
	if err != nil {
		f.fail(err.Error())
	}
	if ctx.Err() != nil {
		f.Cancelled = true
	}
	p.end(f)
	return result, err
}
