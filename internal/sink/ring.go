package sink

import (
	"io"
	"strings"
	"sync"
)

// Ring keeps the last N blocks in memory (circular buffer).
type Ring struct {
	mu       sync.RWMutex
	blocks   []string
	capacity int
	head     int  // next write position
	full     bool // has wrapped around
	writes   uint64
}

// NewRing creates a Ring holding up to capacity blocks.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{
		blocks:   make([]string, capacity),
		capacity: capacity,
	}
}

// Write stores a block, evicting the oldest one when full.
func (r *Ring) Write(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blocks[r.head] = text
	r.head = (r.head + 1) % r.capacity
	if r.head == 0 {
		r.full = true
	}
	r.writes++
	return nil
}

// Snapshot returns the stored blocks in the order they were written.
func (r *Ring) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]string, r.head)
		copy(out, r.blocks[:r.head])
		return out
	}
	out := make([]string, r.capacity)
	copy(out, r.blocks[r.head:])
	copy(out[r.capacity-r.head:], r.blocks[:r.head])
	return out
}

// Writes returns how many blocks were ever written, including evicted ones.
func (r *Ring) Writes() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

// String joins the snapshot into one text.
func (r *Ring) String() string {
	return strings.Join(r.Snapshot(), "")
}

// Dump writes every stored block to w.
func (r *Ring) Dump(w io.Writer) error {
	for _, block := range r.Snapshot() {
		if _, err := io.WriteString(w, block); err != nil {
			return err
		}
	}
	return nil
}
