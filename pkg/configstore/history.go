package configstore

import (
	"fmt"
	"time"

	"github.com/psaab/vtnflow/pkg/config"
)

// HistoryEntry is a configuration that was active before a later commit.
type HistoryEntry struct {
	Config     *config.ConfigTree
	Generation uint64
	Timestamp  time.Time
	Comment    string
}

// History keeps the most recent previous configurations in a fixed ring.
// Rollback numbers count back from the newest entry, starting at 1.
type History struct {
	ring  []*HistoryEntry
	next  int
	count int
}

// NewHistory returns a History holding at most size entries.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{ring: make([]*HistoryEntry, size)}
}

// Push records e as the newest entry, evicting the oldest when full.
func (h *History) Push(e *HistoryEntry) {
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
}

// Get returns the entry n commits back; Get(0) is the newest.
func (h *History) Get(n int) (*HistoryEntry, error) {
	if n < 0 || n >= h.count {
		return nil, fmt.Errorf("rollback %d: no such configuration (%d saved)", n+1, h.count)
	}
	return h.ring[(h.next-1-n+len(h.ring))%len(h.ring)], nil
}

func (h *History) Len() int { return h.count }

// List returns the saved entries, newest first.
func (h *History) List() []*HistoryEntry {
	out := make([]*HistoryEntry, h.count)
	for i := range out {
		out[i], _ = h.Get(i)
	}
	return out
}
