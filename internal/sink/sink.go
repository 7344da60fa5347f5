// Package sink provides destinations for rendered profile text.
//
// # Implementations
//
//   - File: the fixed-name append-only log, opened lazily in the background
//   - Stream: any io.Writer (stderr, a pipe, a buffer)
//   - Ring: the last N blocks kept in memory
//   - Multi: fans a block out to several sinks
//   - Nop: discards everything
//
// Delivery is best-effort and at-most-once. A write that finds its
// destination absent or still initializing is dropped and reported as
// ErrNotReady; nothing is buffered for a later retry.
package sink

import "errors"

// ErrNotReady reports a write dropped because the destination is absent or still initializing.
var ErrNotReady = errors.New("sink: destination not ready")

// Sink receives rendered profile blocks.
type Sink interface {
	Write(text string) error
}

type nopSink struct{}

// Write does nothing.
func (nopSink) Write(string) error { return nil }

// Nop is the package-level sink that discards every block.
var Nop Sink = nopSink{}
