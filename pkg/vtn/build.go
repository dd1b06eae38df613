package vtn

import (
	"errors"
	"fmt"

	"github.com/psaab/vtnflow/pkg/condition"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
)

var errNoType = errors.New("filter type required (pass, drop or redirect)")

// Build compiles cfg into a snapshot. Filters that fail validation become
// invalid placeholders and are reported as warnings; list-level problems
// such as duplicate indices are errors.
func Build(cfg *config.Config) (*Snapshot, error) {
	conds, err := condition.NewTable(cfg.Conditions)
	if err != nil {
		return nil, err
	}
	b := &builder{
		snap: &Snapshot{
			conditions:      conds,
			maxRedirections: cfg.System.MaxRedirections,
			traceSize:       cfg.System.TraceBufferSize,
			nodes:           make(map[filter.NodeRef]*Node),
			ifaces:          make(map[filter.InterfaceRef]*Interface),
		},
	}
	if b.snap.maxRedirections <= 0 {
		b.snap.maxRedirections = config.DefaultMaxRedirections
	}
	if b.snap.traceSize <= 0 {
		b.snap.traceSize = config.DefaultTraceBufferSize
	}

	// Interfaces first so redirect destinations can be checked in any order.
	for _, tc := range cfg.Tenants {
		t := &Tenant{Name: tc.Name, Description: tc.Description}
		for _, nc := range tc.Nodes {
			n := &Node{
				Ref:         filter.NodeRef{Tenant: tc.Name, Kind: nc.Kind, Node: nc.Name},
				Description: nc.Description,
			}
			for _, ic := range nc.Interfaces {
				i := &Interface{
					ref:         filter.InterfaceRef{NodeRef: n.Ref, Interface: ic.Name},
					Description: ic.Description,
					Disabled:    ic.Disabled,
				}
				n.Interfaces = append(n.Interfaces, i)
				b.snap.ifaces[i.ref] = i
			}
			t.Nodes = append(t.Nodes, n)
			b.snap.nodes[n.Ref] = n
		}
		b.snap.tenants = append(b.snap.tenants, t)
	}

	for _, tc := range cfg.Tenants {
		for _, nc := range tc.Nodes {
			n := b.snap.nodes[filter.NodeRef{Tenant: tc.Name, Kind: nc.Kind, Node: nc.Name}]
			if n.lists, err = b.lists(filter.InterfaceRef{NodeRef: n.Ref}, &nc.FlowFilters); err != nil {
				return nil, err
			}
			for i, ic := range nc.Interfaces {
				ifc := n.Interfaces[i]
				if ifc.lists, err = b.lists(ifc.ref, &ic.FlowFilters); err != nil {
					return nil, err
				}
			}
		}
	}
	return b.snap, nil
}

type builder struct {
	snap *Snapshot
}

func (b *builder) warn(loc filter.Location, index int, err error) {
	b.snap.warnings = append(b.snap.warnings, Warning{Location: loc, Index: index, Err: err})
}

func (b *builder) lists(ref filter.InterfaceRef, set *config.FlowFilterSet) ([2]*filter.List, error) {
	var out [2]*filter.List
	for _, dir := range []filter.Direction{filter.Input, filter.Output} {
		loc := ref.At(dir)
		fcs := set.Get(dir)
		if len(fcs) == 0 {
			continue
		}
		filters := make([]*filter.FlowFilter, 0, len(fcs))
		for _, fc := range fcs {
			f, err := b.filter(loc, fc)
			if err != nil {
				b.warn(loc, fc.Index, err)
				f = filter.Invalid(fc.Index, fc.Condition, err)
			}
			filters = append(filters, f)
		}
		l, err := filter.NewList(filters)
		if err != nil {
			return out, fmt.Errorf("%s: %w", loc, err)
		}
		out[dir] = l
	}
	return out, nil
}

func (b *builder) filter(owner filter.Location, fc *config.FilterConfig) (*filter.FlowFilter, error) {
	var typ filter.FilterType
	switch fc.Type {
	case "pass":
		typ = filter.Pass{}
	case "drop":
		typ = filter.Drop{}
	case "redirect":
		rc := fc.Redirect
		if rc == nil {
			return nil, errors.New("redirect destination required")
		}
		dest := filter.InterfaceRef{
			NodeRef:   filter.NodeRef{Tenant: owner.Tenant, Kind: rc.NodeKind, Node: rc.Node},
			Interface: rc.Interface,
		}
		r, err := filter.NewRedirect(owner, dest, rc.Output)
		if err != nil {
			return nil, err
		}
		if _, ok := b.snap.ifaces[r.Destination]; !ok {
			b.warn(owner, fc.Index, fmt.Errorf("redirect destination %s does not exist", r.Destination))
		}
		typ = r
	default:
		return nil, errNoType
	}

	actions := make([]flow.Action, 0, len(fc.Actions))
	for _, ac := range fc.Actions {
		a, err := flow.ParseAction(ac.Kind, ac.Order, ac.Value)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	if _, ok := b.snap.conditions.Lookup(fc.Condition); !ok && fc.Condition != "" {
		b.warn(owner, fc.Index, fmt.Errorf("flow condition %q is not defined", fc.Condition))
	}
	return filter.New(owner, fc.Index, fc.Condition, typ, actions)
}
