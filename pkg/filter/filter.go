package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/psaab/vtnflow/pkg/flow"
)

const (
	MinIndex = 1
	MaxIndex = 65535
)

// FlowFilter is one rule of a flow filter list. It is immutable once built.
type FlowFilter struct {
	index     int
	condition string
	typ       FilterType
	actions   []flow.Action
	err       error
}

// New validates and builds a flow filter owned by the list at owner. index 0
// means "unassigned" and is resolved by NewList. Redirect types are checked
// again against owner so a filter moved between lists cannot become a
// self-redirect.
func New(owner Location, index int, condition string, typ FilterType, actions []flow.Action) (*FlowFilter, error) {
	if index != 0 && (index < MinIndex || index > MaxIndex) {
		return nil, fmt.Errorf("filter index %d: must be between %d and %d", index, MinIndex, MaxIndex)
	}
	if strings.TrimSpace(condition) == "" {
		return nil, fmt.Errorf("filter %d: flow condition name required", index)
	}
	switch t := typ.(type) {
	case nil:
		return nil, fmt.Errorf("filter %d: filter type required", index)
	case Redirect:
		r, err := NewRedirect(owner, t.Destination, t.Direction == Output)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", index, err)
		}
		typ = r
	}
	for _, a := range actions {
		if a == nil {
			return nil, fmt.Errorf("filter %d: nil action", index)
		}
		if a.Kind() == flow.KindDrop {
			return nil, fmt.Errorf("filter %d: drop is not a flow filter action", index)
		}
	}
	return &FlowFilter{
		index:     index,
		condition: condition,
		typ:       typ,
		actions:   flow.Sorted(actions),
	}, nil
}

// Invalid returns a placeholder for a filter that failed construction. It
// keeps its slot in the list and is never selected by Evaluate.
func Invalid(index int, condition string, err error) *FlowFilter {
	if err == nil {
		err = errors.New("invalid flow filter")
	}
	return &FlowFilter{index: index, condition: condition, err: err}
}

func (f *FlowFilter) Index() int             { return f.index }
func (f *FlowFilter) Condition() string      { return f.condition }
func (f *FlowFilter) Type() FilterType       { return f.typ }
func (f *FlowFilter) Actions() []flow.Action { return append([]flow.Action(nil), f.actions...) }

// Err returns the construction error of an invalid filter.
func (f *FlowFilter) Err() error  { return f.err }
func (f *FlowFilter) Valid() bool { return f.err == nil }

func (f *FlowFilter) withIndex(index int) *FlowFilter {
	c := *f
	c.index = index
	return &c
}

func (f *FlowFilter) String() string {
	if f.err != nil {
		return fmt.Sprintf("filter %d condition %s (invalid: %v)", f.index, f.condition, f.err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "filter %d condition %s %s", f.index, f.condition, f.typ)
	for _, a := range f.actions {
		b.WriteString(" ")
		b.WriteString(a.String())
	}
	return b.String()
}
