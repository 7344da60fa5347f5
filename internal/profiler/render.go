package profiler

import (
	"fmt"
	"strings"
	"time"
)

const stampLayout = "2006-01-02 15:04:05.000"

// Render formats a frame tree as one block: a line per frame, nested frames
// indented two spaces per level, followed by a blank line.
func Render(f *Frame, loc StartLocation) string {
	var sb strings.Builder
	stamp := "start " + f.Start.Format(stampLayout)
	if loc == StartPrecedingLine {
		sb.WriteString(stamp)
		sb.WriteByte('\n')
	}
	first := true
	f.Walk(func(fr *Frame, depth int) {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(FormatDuration(fr.Duration()))
		sb.WriteByte(' ')
		sb.WriteString(fr.line())
		if first && loc == StartEndOfFirstLine {
			sb.WriteString("  -- ")
			sb.WriteString(stamp)
		}
		first = false
		sb.WriteByte('\n')
	})
	sb.WriteByte('\n')
	return sb.String()
}

func (f *Frame) line() string {
	var sb strings.Builder
	sb.WriteString(f.Message.String())
	if f.Tag != nil {
		sb.WriteString(" [")
		sb.WriteString(f.Tag.String())
		sb.WriteByte(']')
	}
	if f.Cancelled {
		sb.WriteString(" [cancelled]")
	}
	if f.Failed {
		sb.WriteString(" [failed: ")
		sb.WriteString(f.Err)
		sb.WriteByte(']')
	}
	return sb.String()
}

// FormatDuration prints microseconds below 1ms, milliseconds below 1s and
// seconds otherwise.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}
