// Package redirect resolves flow filter dispositions into a final pass or
// drop decision, following redirections across virtual interfaces.
package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
)

const DefaultMaxRedirections = 100

// Interface is a resolved virtual interface.
type Interface interface {
	Ref() filter.InterfaceRef
	FilterList(dir filter.Direction) *filter.List
}

// Snapshot is an immutable view of the filter configuration. One snapshot
// is used for the whole of a decision.
type Snapshot interface {
	filter.Matcher
	// ResolveInterface looks up a redirect destination.
	ResolveInterface(ref filter.InterfaceRef) (Interface, bool)
	// FilterList returns the list at a node or interface location, or nil.
	FilterList(loc filter.Location) *filter.List
	MaxRedirections() int
}

// Source hands out the current snapshot.
type Source interface {
	Snapshot() Snapshot
}

// SourceFunc adapts a function to Source.
type SourceFunc func() Snapshot

func (f SourceFunc) Snapshot() Snapshot { return f() }

// DropReason says why a decision ended in a drop.
type DropReason int

const (
	ReasonNone DropReason = iota
	ReasonFilter
	ReasonLoop
	ReasonUnresolved
)

func (r DropReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFilter:
		return "filter"
	case ReasonLoop:
		return "redirect-loop"
	case ReasonUnresolved:
		return "unresolved-destination"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Hit records the filter selected at one location of the walk.
type Hit struct {
	Location filter.Location
	Index    int
	Verdict  filter.Verdict
}

// Decision is the final outcome for one packet.
type Decision struct {
	// Verdict is VerdictPass or VerdictDrop.
	Verdict filter.Verdict
	Reason  DropReason
	// Fields are the header fields after every applied action.
	Fields flow.HeaderFields
	Hops   int
	Path   []filter.Location
	Hits   []Hit
}

// Dropped reports whether the packet must be discarded.
func (d *Decision) Dropped() bool { return d.Verdict == filter.VerdictDrop }

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers fn to receive every decision after it is made. fn
// runs on the deciding goroutine and must not block.
func WithObserver(fn func(loc filter.Location, d *Decision)) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// Engine is the forwarding pipeline entry point. It is safe for concurrent
// use; each call owns its PacketContext.
type Engine struct {
	src       Source
	observers []func(filter.Location, *Decision)

	decisions  atomic.Uint64
	passed     atomic.Uint64
	redirects  atomic.Uint64
	dropped    [ReasonUnresolved + 1]atomic.Uint64
	filterHits sync.Map // hitKey -> *atomic.Uint64
}

type hitKey struct {
	Location filter.Location
	Index    int
}

// New creates an engine reading configuration from src.
func New(src Source, opts ...Option) *Engine {
	e := &Engine{src: src}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decide evaluates the filter list at loc for pctx and resolves any
// redirections. pctx is mutated and must not be reused.
func (e *Engine) Decide(loc filter.Location, pctx *filter.PacketContext) Decision {
	snap := e.src.Snapshot()
	pctx.Enter(loc)
	disp := snap.FilterList(loc).Evaluate(pctx, snap)

	var hits []Hit
	d := e.resolve(snap, loc, pctx, disp, &hits)
	d.Hits = hits

	e.decisions.Add(1)
	if d.Dropped() {
		e.dropped[d.Reason].Add(1)
	} else {
		e.passed.Add(1)
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug("flow decision", "location", loc.String(), "verdict", d.Verdict.String(),
			"reason", d.Reason.String(), "hops", d.Hops)
	}
	for _, fn := range e.observers {
		fn(loc, &d)
	}
	return d
}

// Resolve turns an initial disposition into a final decision without
// consulting the engine's counters. pctx must already be positioned at loc.
func Resolve(snap Snapshot, loc filter.Location, pctx *filter.PacketContext, disp filter.Disposition) Decision {
	var e Engine
	var hits []Hit
	d := e.resolve(snap, loc, pctx, disp, &hits)
	d.Hits = hits
	return d
}

func (e *Engine) resolve(snap Snapshot, loc filter.Location, pctx *filter.PacketContext, disp filter.Disposition, hits *[]Hit) Decision {
	limit := snap.MaxRedirections()
	if limit <= 0 {
		limit = DefaultMaxRedirections
	}
	for {
		if disp.Filter != nil {
			*hits = append(*hits, Hit{Location: loc, Index: disp.Filter.Index(), Verdict: disp.Verdict})
			e.countHit(loc, disp.Filter.Index())
		}
		switch disp.Verdict {
		case filter.VerdictPass:
			pctx.Apply(disp.Actions)
			return finish(pctx, filter.VerdictPass, ReasonNone)
		case filter.VerdictDrop:
			return finish(pctx, filter.VerdictDrop, ReasonFilter)
		case filter.VerdictRedirect:
			if pctx.Hops() >= limit {
				slog.Debug("redirect loop detected", "location", loc.String(), "hops", pctx.Hops())
				return finish(pctx, filter.VerdictDrop, ReasonLoop)
			}
			iface, ok := snap.ResolveInterface(disp.Destination)
			if !ok {
				slog.Debug("redirect destination not found", "destination", disp.Destination.String())
				return finish(pctx, filter.VerdictDrop, ReasonUnresolved)
			}
			pctx.Apply(disp.Actions)
			loc = iface.Ref().At(disp.Direction)
			pctx.Advance(loc)
			e.redirects.Add(1)
			disp = iface.FilterList(disp.Direction).Evaluate(pctx, snap)
		default:
			panic(fmt.Sprintf("redirect: unhandled verdict %s", disp.Verdict))
		}
	}
}

func finish(pctx *filter.PacketContext, v filter.Verdict, reason DropReason) Decision {
	return Decision{
		Verdict: v,
		Reason:  reason,
		Fields:  pctx.Fields.Clone(),
		Hops:    pctx.Hops(),
		Path:    pctx.Path(),
	}
}

func (e *Engine) countHit(loc filter.Location, index int) {
	k := hitKey{Location: loc, Index: index}
	c, ok := e.filterHits.Load(k)
	if !ok {
		c, _ = e.filterHits.LoadOrStore(k, new(atomic.Uint64))
	}
	c.(*atomic.Uint64).Add(1)
}

// Stats is a point-in-time copy of the engine counters.
type Stats struct {
	Decisions  uint64
	Passed     uint64
	Redirects  uint64
	Dropped    map[DropReason]uint64
	FilterHits map[Hit]uint64
}

// Stats returns the current counters. Hit.Verdict is unset in FilterHits
// keys.
func (e *Engine) Stats() Stats {
	s := Stats{
		Decisions:  e.decisions.Load(),
		Passed:     e.passed.Load(),
		Redirects:  e.redirects.Load(),
		Dropped:    make(map[DropReason]uint64),
		FilterHits: make(map[Hit]uint64),
	}
	for r := ReasonFilter; r <= ReasonUnresolved; r++ {
		s.Dropped[r] = e.dropped[r].Load()
	}
	e.filterHits.Range(func(k, v any) bool {
		hk := k.(hitKey)
		s.FilterHits[Hit{Location: hk.Location, Index: hk.Index}] = v.(*atomic.Uint64).Load()
		return true
	})
	return s
}
