package profiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Attr is a key/value pair attached to a message.
type Attr struct {
	Key   string
	Value string
}

// Message is the structured text of a frame.
type Message struct {
	Text  string
	Attrs []Attr
}

// String renders the message as "text key=value ...". Values containing
// spaces, quotes or '=' are quoted.
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Text)
	for _, a := range m.Attrs {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		if a.Value == "" || strings.ContainsAny(a.Value, " \t\n\"=") {
			sb.WriteString(strconv.Quote(a.Value))
		} else {
			sb.WriteString(a.Value)
		}
	}
	return sb.String()
}

// With returns a copy of m with attrs appended.
func (m Message) With(attrs ...Attr) Message {
	out := Message{Text: m.Text, Attrs: make([]Attr, 0, len(m.Attrs)+len(attrs))}
	out.Attrs = append(out.Attrs, m.Attrs...)
	out.Attrs = append(out.Attrs, attrs...)
	return out
}

// Label lazily builds a frame message.
type Label func() Message

// Text returns a label with a fixed text.
func Text(s string) Label {
	return func() Message { return Message{Text: s} }
}

// Textf returns a label formatted with fmt.Sprintf when it is evaluated.
func Textf(format string, args ...any) Label {
	return func() Message { return Message{Text: fmt.Sprintf(format, args...)} }
}

// Attrs returns a label with text and attributes.
func Attrs(text string, attrs ...Attr) Label {
	return func() Message { return Message{Text: text, Attrs: attrs} }
}

func (l Label) force() Message {
	if l == nil {
		return Message{}
	}
	return l()
}
