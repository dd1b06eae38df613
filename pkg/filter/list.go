package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/psaab/vtnflow/pkg/flow"
)

// ErrDuplicateIndex is returned when two filters in one list share an index.
var ErrDuplicateIndex = errors.New("duplicate flow filter index")

// Matcher decides whether packet fields satisfy a named flow condition. It
// must be pure and safe for concurrent use.
type Matcher interface {
	Matches(condition string, fields *flow.HeaderFields) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(condition string, fields *flow.HeaderFields) bool

func (f MatcherFunc) Matches(condition string, fields *flow.HeaderFields) bool {
	return f(condition, fields)
}

// Verdict is the outcome kind of a disposition.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictDrop
	VerdictRedirect
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictDrop:
		return "drop"
	case VerdictRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Disposition is the result of evaluating one filter list.
type Disposition struct {
	Verdict Verdict
	// Actions to apply. Empty for Drop.
	Actions []flow.Action
	// Destination and Direction are set for VerdictRedirect.
	Destination InterfaceRef
	Direction   Direction
	// Filter is the selected filter, or nil for the implicit pass.
	Filter *FlowFilter
}

// List is an immutable, index-ordered flow filter list for one location.
// The zero value and a nil *List are empty lists.
type List struct {
	filters []*FlowFilter
}

// NewList sorts filters by index and checks that indices are unique. When
// every filter has index 0, indices 1..n are assigned in the given order.
// Mixing assigned and unassigned indices is an error.
func NewList(filters []*FlowFilter) (*List, error) {
	if len(filters) == 0 {
		return &List{}, nil
	}
	unassigned := 0
	for _, f := range filters {
		if f == nil {
			return nil, errors.New("nil flow filter")
		}
		if f.index == 0 {
			unassigned++
		}
	}
	out := make([]*FlowFilter, len(filters))
	switch unassigned {
	case 0:
		copy(out, filters)
	case len(filters):
		if len(filters) > MaxIndex {
			return nil, fmt.Errorf("too many flow filters: %d", len(filters))
		}
		for i, f := range filters {
			out[i] = f.withIndex(i + 1)
		}
	default:
		return nil, fmt.Errorf("%d of %d flow filters have no index", unassigned, len(filters))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	for i := 1; i < len(out); i++ {
		if out[i].index == out[i-1].index {
			return nil, fmt.Errorf("index %d: %w", out[i].index, ErrDuplicateIndex)
		}
	}
	return &List{filters: out}, nil
}

// Len returns the number of filters, invalid ones included.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.filters)
}

// Filters returns the filters in ascending index order.
func (l *List) Filters() []*FlowFilter {
	if l == nil {
		return nil
	}
	return append([]*FlowFilter(nil), l.filters...)
}

// Get returns the filter with the given index.
func (l *List) Get(index int) (*FlowFilter, bool) {
	if l == nil {
		return nil, false
	}
	i := sort.Search(len(l.filters), func(i int) bool { return l.filters[i].index >= index })
	if i < len(l.filters) && l.filters[i].index == index {
		return l.filters[i], true
	}
	return nil, false
}

// Evaluate selects the lowest-index valid filter whose condition matches
// pctx.Fields and returns its disposition. Filters after the match are not
// consulted. Broadcast and multicast packets only see Drop filters. With no
// match the result is a pass without actions.
func (l *List) Evaluate(pctx *PacketContext, m Matcher) Disposition {
	if l == nil {
		return Disposition{Verdict: VerdictPass}
	}
	unicast := pctx.Class == flow.Unicast
	prev := -1
	for _, f := range l.filters {
		if f.index == prev {
			panic(fmt.Sprintf("filter: duplicate index %d in evaluated list", f.index))
		}
		prev = f.index
		if f.err != nil {
			continue
		}
		if _, drop := f.typ.(Drop); !drop && !unicast {
			continue
		}
		if !m.Matches(f.condition, &pctx.Fields) {
			continue
		}
		slog.Debug("flow filter matched", "index", f.index, "condition", f.condition, "type", f.typ.String())
		return f.disposition()
	}
	return Disposition{Verdict: VerdictPass}
}

func (f *FlowFilter) disposition() Disposition {
	switch t := f.typ.(type) {
	case Pass:
		return Disposition{Verdict: VerdictPass, Actions: f.actions, Filter: f}
	case Drop:
		return Disposition{Verdict: VerdictDrop, Filter: f}
	case Redirect:
		return Disposition{
			Verdict:     VerdictRedirect,
			Actions:     f.actions,
			Destination: t.Destination,
			Direction:   t.Direction,
			Filter:      f,
		}
	default:
		panic(fmt.Sprintf("filter: unhandled filter type %T", t))
	}
}
