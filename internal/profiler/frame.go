package profiler

import "time"

// FrameKind distinguishes frames opened by callers from synthetic ones.
type FrameKind uint8

const (
	FrameCall FrameKind = iota // opened by Do/Run
	FrameGC                    // injected by the GC hook
)

// String returns the string representation of FrameKind.
func (k FrameKind) String() string {
	switch k {
	case FrameCall:
		return "call"
	case FrameGC:
		return "gc"
	default:
		return "unknown"
	}
}

// Mode records whether the body was run through the context-aware entry points.
type Mode uint8

const (
	ModeSync  Mode = iota // Do, Run
	ModeAsync             // DoContext, RunContext
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Frame is one measured span. Children holds the nested frames that passed
// filtering, in the order they closed.
type Frame struct {
	Kind      FrameKind
	Mode      Mode
	Start     time.Time
	Stop      time.Time
	Depth     int // stack depth when the frame opened
	Message   Message
	Tag       *Message
	Failed    bool
	Err       string
	Cancelled bool
	Children  []*Frame

	label  Label
	parent *Frame
	sealed bool // set once the tree has been handed to the sink
}

// Duration returns Stop - Start.
func (f *Frame) Duration() time.Duration {
	return f.Stop.Sub(f.Start)
}

// Walk visits f and its descendants depth-first. depth is relative to f.
func (f *Frame) Walk(fn func(fr *Frame, depth int)) {
	f.walk(fn, 0)
}

func (f *Frame) walk(fn func(*Frame, int), depth int) {
	fn(f, depth)
	for _, child := range f.Children {
		child.walk(fn, depth+1)
	}
}

func (f *Frame) fail(reason string) {
	f.Failed = true
	f.Err = reason
}
