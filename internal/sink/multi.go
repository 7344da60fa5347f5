package sink

// Multi fans blocks out to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi writing to every non-nil sink in order.
func NewMulti(sinks ...Sink) *Multi {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Multi{sinks: kept}
}

// Write sends text to all sinks and returns the first error.
// A sink failing does not stop delivery to the rest.
func (m *Multi) Write(text string) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
