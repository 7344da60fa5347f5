package profiler

import (
	"fmt"
	"strings"
	"time"
)

// StartLocation controls where the start time of a top-level block is printed.
type StartLocation uint8

const (
	// StartEndOfFirstLine appends the start time to the first line of the block.
	StartEndOfFirstLine StartLocation = iota
	// StartPrecedingLine prints the start time on its own line before the block.
	StartPrecedingLine
)

// String returns the string representation of StartLocation.
func (l StartLocation) String() string {
	switch l {
	case StartEndOfFirstLine:
		return "end-of-first-line"
	case StartPrecedingLine:
		return "preceding-line"
	default:
		return "unknown"
	}
}

// ParseStartLocation converts a string to a StartLocation.
func ParseStartLocation(s string) (StartLocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "end-of-first-line":
		return StartEndOfFirstLine, nil
	case "preceding-line":
		return StartPrecedingLine, nil
	default:
		return StartEndOfFirstLine, fmt.Errorf("invalid start location: %q (expected: end-of-first-line|preceding-line)", s)
	}
}

// TagFunc returns extra context for a top-level frame, or false for none.
type TagFunc func() (Message, bool)

// Config holds the profiler settings.
type Config struct {
	ShouldProfile          bool          // master switch
	HideIfLessThan         time.Duration // drop any frame shorter than this
	HideTopLevelIfLessThan time.Duration // drop top-level frames shorter than this
	StartLocation          StartLocation // where the block start time is printed
	TagFramesWith          TagFunc       // optional tag for top-level frames
}

// DefaultConfig returns the settings a fresh profiler starts with.
func DefaultConfig() Config {
	return Config{
		ShouldProfile:          false,
		HideIfLessThan:         time.Millisecond,
		HideTopLevelIfLessThan: 100 * time.Millisecond,
		StartLocation:          StartEndOfFirstLine,
	}
}

// Validate reports settings that cannot be applied.
func (c Config) Validate() error {
	if c.HideIfLessThan < 0 {
		return fmt.Errorf("hide_if_less_than must not be negative, got %s", c.HideIfLessThan)
	}
	if c.HideTopLevelIfLessThan < 0 {
		return fmt.Errorf("hide_top_level_if_less_than must not be negative, got %s", c.HideTopLevelIfLessThan)
	}
	if c.StartLocation > StartPrecedingLine {
		return fmt.Errorf("unknown start location %d", c.StartLocation)
	}
	return nil
}
