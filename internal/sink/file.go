package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FileName is the fixed name of the profile log.
const FileName = "nested-profile.log"

type fileState uint8

const (
	stateAbsent fileState = iota
	stateInitializing
	stateLive
)

// File is the append-only profile log.
//
// The file is opened on first use in a background goroutine; writes made
// before it is live are dropped with ErrNotReady. If the file disappears or
// is replaced (deleted, rotated), the next write starts a fresh open and is
// dropped as well.
type File struct {
	path  string
	open  func(path string) (*os.File, error)
	group singleflight.Group

	mu     sync.Mutex
	state  fileState
	f      *os.File
	closed bool
}

// NewFile creates a File sink for path. Nothing is opened until the first Write or Open.
func NewFile(path string) *File {
	return &File{path: path, open: openAppend}
}

// DefaultPath returns the fixed log location under the user's state directory.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "nestprof", FileName), nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
}

// Path returns the log location.
func (s *File) Path() string { return s.path }

// Write appends text if the log is live, otherwise schedules an open and drops text.
func (s *File) Write(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotReady
	}
	switch s.state {
	case stateAbsent:
		s.state = stateInitializing
		s.mu.Unlock()
		go s.initialize()
		return ErrNotReady
	case stateInitializing:
		s.mu.Unlock()
		return ErrNotReady
	}

	if !s.aliveLocked() {
		_ = s.f.Close()
		s.f = nil
		s.state = stateInitializing
		s.mu.Unlock()
		go s.initialize()
		return ErrNotReady
	}

	_, err := s.f.WriteString(text)
	if err != nil {
		_ = s.f.Close()
		s.f = nil
		s.state = stateAbsent
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sink: append to %s: %w", s.path, err)
	}
	return nil
}

// aliveLocked reports whether the open handle still refers to the file at path.
func (s *File) aliveLocked() bool {
	if s.f == nil {
		return false
	}
	held, err := s.f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func (s *File) initialize() {
	// A failed open leaves the sink absent; the next write tries again.
	_ = s.Open()
}

// Open makes the log live synchronously. Concurrent callers, including the
// background open started by Write, share a single attempt.
func (s *File) Open() error {
	_, err, _ := s.group.Do("open", func() (any, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrNotReady
		}
		if s.state == stateLive && s.aliveLocked() {
			s.mu.Unlock()
			return nil, nil
		}
		if s.f != nil {
			_ = s.f.Close()
			s.f = nil
		}
		s.state = stateInitializing
		s.mu.Unlock()

		f, err := s.open(s.path)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = stateAbsent
			return nil, fmt.Errorf("sink: open %s: %w", s.path, err)
		}
		if s.closed {
			_ = f.Close()
			return nil, ErrNotReady
		}
		s.f = f
		s.state = stateLive
		return nil, nil
	})
	return err
}

// Ready reports whether the log is live.
func (s *File) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateLive
}

// Close releases the file. Later writes are dropped.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = stateAbsent
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
