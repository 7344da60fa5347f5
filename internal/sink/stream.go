package sink

import (
	"io"
	"sync"
)

// Stream writes blocks immediately to an io.Writer.
type Stream struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStream creates a Stream over w.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

// Write appends text to the underlying writer.
func (s *Stream) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, text)
	return err
}

// Close closes the writer if it implements io.Closer.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if closer, ok := s.w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
