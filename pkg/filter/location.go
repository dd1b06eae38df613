// Package filter implements flow filters, flow filter lists and their
// first-match evaluation against a packet.
package filter

import (
	"fmt"
	"strings"
)

// Direction is the side of a virtual node or interface a filter list is
// attached to.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "input"/"in" and "output"/"out".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "input", "in":
		return Input, nil
	case "output", "out":
		return Output, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

// NodeKind distinguishes virtual bridges from virtual terminals.
type NodeKind int

const (
	VBridge NodeKind = iota
	VTerminal
)

func (k NodeKind) String() string {
	switch k {
	case VBridge:
		return "vbridge"
	case VTerminal:
		return "vterminal"
	default:
		return fmt.Sprintf("node(%d)", int(k))
	}
}

// ParseNodeKind accepts "vbridge" and "vterminal".
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(s) {
	case "vbridge":
		return VBridge, nil
	case "vterminal":
		return VTerminal, nil
	}
	return 0, fmt.Errorf("invalid node type %q", s)
}

// NodeRef identifies a virtual node within a tenant.
type NodeRef struct {
	Tenant string
	Kind   NodeKind
	Node   string
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Tenant, r.Kind, r.Node)
}

// InterfaceRef identifies a virtual interface. An empty Interface refers to
// the node itself.
type InterfaceRef struct {
	NodeRef
	Interface string
}

// IsNode reports whether r refers to a node rather than one of its interfaces.
func (r InterfaceRef) IsNode() bool {
	return r.Interface == ""
}

func (r InterfaceRef) String() string {
	if r.Interface == "" {
		return r.NodeRef.String()
	}
	return r.NodeRef.String() + "/" + r.Interface
}

// At returns the filter location of r in direction dir.
func (r InterfaceRef) At(dir Direction) Location {
	return Location{InterfaceRef: r, Direction: dir}
}

// Location is a (virtual node or interface, direction) pair that owns one
// flow filter list.
type Location struct {
	InterfaceRef
	Direction Direction
}

func (l Location) String() string {
	return l.InterfaceRef.String() + " " + l.Direction.String()
}
