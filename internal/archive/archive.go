// Package archive keeps a binary copy of every written profile so it can be
// re-rendered or inspected later.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fortio.org/safecast"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"nestprof/internal/profiler"
)

// Current schema version - increment when Record format changes
const SchemaVersion uint16 = 1

// ErrSchema is returned when an archive was written by a different format.
var ErrSchema = errors.New("archive: unsupported schema version")

// Record is the stored form of a frame tree.
type Record struct {
	Schema uint16 `msgpack:"v,omitempty"` // set on top-level records only

	Kind      uint8        `msgpack:"k"`
	Mode      uint8        `msgpack:"m"`
	Start     int64        `msgpack:"s"` // unix nanoseconds
	Stop      int64        `msgpack:"e"`
	Zone      int32        `msgpack:"z,omitempty"` // UTC offset of Start, seconds
	Text      string       `msgpack:"t"`
	Attrs     []AttrRecord `msgpack:"a,omitempty"`
	Tag       *TagRecord   `msgpack:"g,omitempty"`
	Failed    bool         `msgpack:"f,omitempty"`
	Err       string       `msgpack:"r,omitempty"`
	Cancelled bool         `msgpack:"c,omitempty"`
	Children  []Record     `msgpack:"ch,omitempty"`
}

// AttrRecord is a stored message attribute.
type AttrRecord struct {
	Key   string `msgpack:"k"`
	Value string `msgpack:"v"`
}

// TagRecord is a stored frame tag.
type TagRecord struct {
	Text  string       `msgpack:"t"`
	Attrs []AttrRecord `msgpack:"a,omitempty"`
}

// FromFrame converts a frame tree into its stored form.
func FromFrame(f *profiler.Frame) Record {
	r := fromFrame(f)
	r.Schema = SchemaVersion
	return r
}

func fromFrame(f *profiler.Frame) Record {
	_, offset := f.Start.Zone()
	zone, err := safecast.Conv[int32](offset)
	if err != nil {
		zone = 0
	}
	r := Record{
		Kind:      uint8(f.Kind),
		Mode:      uint8(f.Mode),
		Start:     f.Start.UnixNano(),
		Stop:      f.Stop.UnixNano(),
		Zone:      zone,
		Text:      f.Message.Text,
		Attrs:     fromAttrs(f.Message.Attrs),
		Failed:    f.Failed,
		Err:       f.Err,
		Cancelled: f.Cancelled,
	}
	if f.Tag != nil {
		r.Tag = &TagRecord{Text: f.Tag.Text, Attrs: fromAttrs(f.Tag.Attrs)}
	}
	if len(f.Children) > 0 {
		r.Children = make([]Record, len(f.Children))
		for i, c := range f.Children {
			r.Children[i] = fromFrame(c)
		}
	}
	return r
}

func fromAttrs(attrs []profiler.Attr) []AttrRecord {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]AttrRecord, len(attrs))
	for i, a := range attrs {
		out[i] = AttrRecord{Key: a.Key, Value: a.Value}
	}
	return out
}

func toAttrs(attrs []AttrRecord) []profiler.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]profiler.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = profiler.Attr{Key: a.Key, Value: a.Value}
	}
	return out
}

// Frame rebuilds the frame tree. Depths are relative to the record.
func (r Record) Frame() *profiler.Frame {
	return r.frame(0)
}

func (r Record) frame(depth int) *profiler.Frame {
	zone := time.FixedZone("", int(r.Zone))
	f := &profiler.Frame{
		Kind:      profiler.FrameKind(r.Kind),
		Mode:      profiler.Mode(r.Mode),
		Start:     time.Unix(0, r.Start).In(zone),
		Stop:      time.Unix(0, r.Stop).In(zone),
		Depth:     depth,
		Message:   profiler.Message{Text: r.Text, Attrs: toAttrs(r.Attrs)},
		Failed:    r.Failed,
		Err:       r.Err,
		Cancelled: r.Cancelled,
	}
	if r.Tag != nil {
		f.Tag = &profiler.Message{Text: r.Tag.Text, Attrs: toAttrs(r.Tag.Attrs)}
	}
	for _, c := range r.Children {
		f.Children = append(f.Children, c.frame(depth+1))
	}
	return f
}

// Writer appends a Record for every profile it observes.
// Thread-safe for concurrent access.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *msgpack.Encoder
	log zerolog.Logger
}

// Create opens path for appending, creating it and its directory if needed.
func Create(path string, log zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, enc: msgpack.NewEncoder(f), log: log}, nil
}

// Append stores one frame tree.
func (w *Writer) Append(f *profiler.Frame) error {
	if w == nil {
		return nil
	}
	rec := FromFrame(f)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return w.enc.Encode(&rec)
}

// ObserveFrame implements profiler.Observer.
func (w *Writer) ObserveFrame(f *profiler.Frame) {
	if err := w.Append(f); err != nil {
		w.log.Warn().Err(err).Msg("failed to archive profile")
	}
}

// Close closes the archive file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Read decodes every record in the archive at path.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads records from r until EOF.
func Decode(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("record %d: %w", len(out), err)
		}
		if rec.Schema != SchemaVersion {
			return out, fmt.Errorf("record %d: %w %d", len(out), ErrSchema, rec.Schema)
		}
		out = append(out, rec)
	}
}
