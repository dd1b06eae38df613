// Package vtn holds the tenant network model (tenants, virtual nodes and
// interfaces with their flow filter lists) compiled into an immutable
// snapshot used for flow decisions.
package vtn

import (
	"fmt"
	"sort"

	"github.com/psaab/vtnflow/pkg/condition"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
	"github.com/psaab/vtnflow/pkg/redirect"
)

// Tenant is one VTN.
type Tenant struct {
	Name        string
	Description string
	Nodes       []*Node
}

// Node is a vBridge or vTerminal.
type Node struct {
	Ref         filter.NodeRef
	Description string
	Interfaces  []*Interface
	lists       [2]*filter.List
}

// FilterList returns the node-level list for dir.
func (n *Node) FilterList(dir filter.Direction) *filter.List { return n.lists[dir] }

// Interface is a virtual interface. It implements redirect.Interface.
type Interface struct {
	ref         filter.InterfaceRef
	Description string
	Disabled    bool
	lists       [2]*filter.List
}

func (i *Interface) Ref() filter.InterfaceRef                     { return i.ref }
func (i *Interface) FilterList(dir filter.Direction) *filter.List { return i.lists[dir] }

// Warning is a non-fatal problem found while building a snapshot.
type Warning struct {
	Location filter.Location
	Index    int
	Err      error
}

func (w Warning) Error() string {
	if w.Index == 0 {
		return fmt.Sprintf("%s: %v", w.Location, w.Err)
	}
	return fmt.Sprintf("%s filter %d: %v", w.Location, w.Index, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// LocatedList is a filter list with the location that owns it.
type LocatedList struct {
	Location filter.Location
	List     *filter.List
}

// Snapshot is an immutable, fully built configuration. It implements
// redirect.Snapshot and is safe for concurrent use.
type Snapshot struct {
	generation      uint64
	conditions      *condition.Table
	maxRedirections int
	traceSize       int

	tenants  []*Tenant
	nodes    map[filter.NodeRef]*Node
	ifaces   map[filter.InterfaceRef]*Interface
	warnings []Warning
}

var _ redirect.Snapshot = (*Snapshot)(nil)

// Empty returns a snapshot with no tenants and default settings.
func Empty() *Snapshot {
	conds, _ := condition.NewTable(nil)
	return &Snapshot{
		conditions:      conds,
		maxRedirections: config.DefaultMaxRedirections,
		traceSize:       config.DefaultTraceBufferSize,
		nodes:           map[filter.NodeRef]*Node{},
		ifaces:          map[filter.InterfaceRef]*Interface{},
	}
}

func (s *Snapshot) Generation() uint64           { return s.generation }
func (s *Snapshot) MaxRedirections() int         { return s.maxRedirections }
func (s *Snapshot) TraceBufferSize() int         { return s.traceSize }
func (s *Snapshot) Conditions() *condition.Table { return s.conditions }
func (s *Snapshot) Tenants() []*Tenant           { return s.tenants }
func (s *Snapshot) Warnings() []Warning          { return s.warnings }

// WithGeneration returns a copy of s stamped with gen.
func (s *Snapshot) WithGeneration(gen uint64) *Snapshot {
	c := *s
	c.generation = gen
	return &c
}

// Matches evaluates a named flow condition.
func (s *Snapshot) Matches(cond string, f *flow.HeaderFields) bool {
	return s.conditions.Matches(cond, f)
}

// ResolveInterface returns an enabled interface. Disabled interfaces do not
// accept redirected packets.
func (s *Snapshot) ResolveInterface(ref filter.InterfaceRef) (redirect.Interface, bool) {
	i, ok := s.ifaces[ref]
	if !ok || i.Disabled {
		return nil, false
	}
	return i, true
}

// Interface returns the named interface, enabled or not.
func (s *Snapshot) Interface(ref filter.InterfaceRef) (*Interface, bool) {
	i, ok := s.ifaces[ref]
	return i, ok
}

// Node returns the named node.
func (s *Snapshot) Node(ref filter.NodeRef) (*Node, bool) {
	n, ok := s.nodes[ref]
	return n, ok
}

// FilterList returns the list at a node or interface location, or nil.
func (s *Snapshot) FilterList(loc filter.Location) *filter.List {
	if loc.IsNode() {
		if n, ok := s.nodes[loc.NodeRef]; ok {
			return n.lists[loc.Direction]
		}
		return nil
	}
	if i, ok := s.ifaces[loc.InterfaceRef]; ok {
		return i.lists[loc.Direction]
	}
	return nil
}

// Exists reports whether loc names a configured node or interface.
func (s *Snapshot) Exists(loc filter.Location) bool {
	if loc.IsNode() {
		_, ok := s.nodes[loc.NodeRef]
		return ok
	}
	_, ok := s.ifaces[loc.InterfaceRef]
	return ok
}

// Lists returns every non-empty filter list ordered by location.
func (s *Snapshot) Lists() []LocatedList {
	var out []LocatedList
	add := func(ref filter.InterfaceRef, lists [2]*filter.List) {
		for dir, l := range lists {
			if l.Len() > 0 {
				out = append(out, LocatedList{Location: ref.At(filter.Direction(dir)), List: l})
			}
		}
	}
	for _, t := range s.tenants {
		for _, n := range t.Nodes {
			add(filter.InterfaceRef{NodeRef: n.Ref}, n.lists)
			for _, i := range n.Interfaces {
				add(i.ref, i.lists)
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Location.String() < out[b].Location.String()
	})
	return out
}
