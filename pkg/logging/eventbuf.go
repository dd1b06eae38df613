package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/redirect"
)

// Record types.
const (
	TypeDecision = "DECISION"
	TypeLog      = "LOG"
)

// TraceRecord is one entry of the trace buffer: either a flow decision or
// a mirrored log record.
type TraceRecord struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`

	Tenant   string   `json:"tenant,omitempty"`
	Location string   `json:"location,omitempty"`
	Verdict  string   `json:"verdict,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Hops     int      `json:"hops,omitempty"`
	Path     []string `json:"path,omitempty"`
	Hits     []string `json:"hits,omitempty"`
	Fields   string   `json:"fields,omitempty"`
}

// NewDecisionRecord converts a flow decision taken at loc.
func NewDecisionRecord(loc filter.Location, d *redirect.Decision) TraceRecord {
	rec := TraceRecord{
		Time:     time.Now(),
		Type:     TypeDecision,
		Tenant:   loc.Tenant,
		Location: loc.String(),
		Verdict:  d.Verdict.String(),
		Hops:     d.Hops,
		Fields:   d.Fields.String(),
	}
	if d.Dropped() {
		rec.Reason = d.Reason.String()
	}
	for _, p := range d.Path {
		rec.Path = append(rec.Path, p.String())
	}
	for _, h := range d.Hits {
		rec.Hits = append(rec.Hits, fmt.Sprintf("%s filter %d %s", h.Location, h.Index, h.Verdict))
	}
	return rec
}

func newLogRecord(level slog.Level, msg string) TraceRecord {
	return TraceRecord{Time: time.Now(), Type: TypeLog, Level: level.String(), Message: msg}
}

// TraceBuffer is a thread-safe circular buffer of recent trace records.
type TraceBuffer struct {
	mu    sync.RWMutex
	buf   []TraceRecord
	size  int
	head  int // next write position
	count int
	seq   uint64

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives new records from a TraceBuffer.
type Subscription struct {
	C  chan TraceRecord
	tb *TraceBuffer
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close() {
	s.tb.unsubscribe(s)
}

// NewTraceBuffer creates a trace buffer holding size records.
func NewTraceBuffer(size int) *TraceBuffer {
	if size < 1 {
		size = 1
	}
	return &TraceBuffer{
		buf:  make([]TraceRecord, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add appends rec, overwriting the oldest record if full. Subscribers are
// notified without blocking; a slow subscriber misses records.
func (tb *TraceBuffer) Add(rec TraceRecord) {
	tb.mu.Lock()
	tb.seq++
	rec.Seq = tb.seq
	tb.buf[tb.head] = rec
	tb.head = (tb.head + 1) % tb.size
	if tb.count < tb.size {
		tb.count++
	}
	tb.mu.Unlock()

	tb.subMu.RLock()
	for sub := range tb.subs {
		select {
		case sub.C <- rec:
		default:
		}
	}
	tb.subMu.RUnlock()
}

// Resize changes the capacity, keeping the newest records.
func (tb *TraceBuffer) Resize(size int) {
	if size < 1 {
		size = 1
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if size == tb.size {
		return
	}
	keep := tb.latestLocked(size)
	tb.buf = make([]TraceRecord, size)
	tb.size = size
	tb.count = len(keep)
	for i := range keep {
		tb.buf[i] = keep[len(keep)-1-i]
	}
	tb.head = tb.count % size
}

// Size returns the capacity.
func (tb *TraceBuffer) Size() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.size
}

// Len returns the number of stored records.
func (tb *TraceBuffer) Len() int {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.count
}

// Subscribe returns a Subscription that receives new records.
// Call Close() on the subscription when done.
func (tb *TraceBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{
		C:  make(chan TraceRecord, bufSize),
		tb: tb,
	}
	tb.subMu.Lock()
	tb.subs[sub] = struct{}{}
	tb.subMu.Unlock()
	return sub
}

func (tb *TraceBuffer) unsubscribe(sub *Subscription) {
	tb.subMu.Lock()
	if _, ok := tb.subs[sub]; ok {
		delete(tb.subs, sub)
		close(sub.C)
	}
	tb.subMu.Unlock()
}

// TraceFilter selects trace records. Empty fields match everything.
type TraceFilter struct {
	Type    string // exact, case-insensitive
	Tenant  string // exact
	Verdict string // exact, case-insensitive
	Reason  string // case-insensitive substring
}

// IsEmpty returns true if no filter criteria are set.
func (f TraceFilter) IsEmpty() bool {
	return f == TraceFilter{}
}

// Matches reports whether rec passes the filter.
func (f TraceFilter) Matches(rec *TraceRecord) bool {
	if f.Type != "" && !strings.EqualFold(rec.Type, f.Type) {
		return false
	}
	if f.Tenant != "" && rec.Tenant != f.Tenant {
		return false
	}
	if f.Verdict != "" && !strings.EqualFold(rec.Verdict, f.Verdict) {
		return false
	}
	if f.Reason != "" && !strings.Contains(strings.ToLower(rec.Reason), strings.ToLower(f.Reason)) {
		return false
	}
	return true
}

// LatestFiltered returns the most recent n records matching f, newest first.
func (tb *TraceBuffer) LatestFiltered(n int, f TraceFilter) []TraceRecord {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	var result []TraceRecord
	for i := 0; i < tb.count && len(result) < n; i++ {
		idx := (tb.head - 1 - i + tb.size) % tb.size
		if f.Matches(&tb.buf[idx]) {
			result = append(result, tb.buf[idx])
		}
	}
	return result
}

// Latest returns the most recent n records, newest first.
func (tb *TraceBuffer) Latest(n int) []TraceRecord {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.latestLocked(n)
}

func (tb *TraceBuffer) latestLocked(n int) []TraceRecord {
	if n > tb.count {
		n = tb.count
	}
	if n <= 0 {
		return nil
	}
	result := make([]TraceRecord, n)
	for i := 0; i < n; i++ {
		idx := (tb.head - 1 - i + tb.size) % tb.size
		result[i] = tb.buf[idx]
	}
	return result
}
