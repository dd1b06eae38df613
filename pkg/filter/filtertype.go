package filter

import (
	"errors"
	"fmt"
)

// ErrSelfRedirect is returned when a redirect filter points back at the
// interface that owns it.
var ErrSelfRedirect = errors.New("self redirection is not allowed")

// FilterType is the disposition a filter produces when its condition
// matches: Pass, Drop or Redirect.
type FilterType interface {
	String() string
	isFilterType()
}

// Pass lets the packet through after applying the filter's actions.
type Pass struct{}

func (Pass) String() string { return "pass" }
func (Pass) isFilterType()  {}

// Drop discards the packet.
type Drop struct{}

func (Drop) String() string { return "drop" }
func (Drop) isFilterType()  {}

// Redirect forwards the packet to another virtual interface in the same
// tenant.
type Redirect struct {
	Destination InterfaceRef
	Direction   Direction
}

// NewRedirect builds a redirect owned by the filter list at owner. The tenant
// of dest is replaced with the owner's tenant, and a destination equal to the
// owning interface is rejected. output selects the Output direction at the
// destination.
func NewRedirect(owner Location, dest InterfaceRef, output bool) (Redirect, error) {
	dest.Tenant = owner.Tenant
	if dest.Interface == "" {
		return Redirect{}, fmt.Errorf("redirect destination %s: interface name required", dest.NodeRef)
	}
	if dest.Node == "" {
		return Redirect{}, fmt.Errorf("redirect destination: node name required")
	}
	if !owner.IsNode() && dest == owner.InterfaceRef {
		return Redirect{}, fmt.Errorf("redirect to %s: %w", dest, ErrSelfRedirect)
	}
	dir := Input
	if output {
		dir = Output
	}
	return Redirect{Destination: dest, Direction: dir}, nil
}

func (r Redirect) String() string {
	return fmt.Sprintf("redirect %s %s", r.Destination, r.Direction)
}

func (Redirect) isFilterType() {}
