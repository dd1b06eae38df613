package filter

import "github.com/psaab/vtnflow/pkg/flow"

// PacketContext is the mutable state of one packet's decision. It is owned
// by a single evaluation and must not be shared between goroutines.
type PacketContext struct {
	Fields flow.HeaderFields
	Class  flow.TrafficClass

	hops int
	path []Location
}

// NewPacketContext copies fields and derives the traffic class from the
// destination MAC. The class is fixed for the life of the context.
func NewPacketContext(fields flow.HeaderFields) *PacketContext {
	return NewPacketContextWithClass(fields, flow.ClassOf(fields.DstMAC))
}

// NewPacketContextWithClass is like NewPacketContext with an explicit class.
func NewPacketContextWithClass(fields flow.HeaderFields, class flow.TrafficClass) *PacketContext {
	return &PacketContext{Fields: fields.Clone(), Class: class}
}

// Hops returns the number of redirections taken so far.
func (c *PacketContext) Hops() int { return c.hops }

// Path returns a copy of the visited locations, first entry first.
func (c *PacketContext) Path() []Location {
	return append([]Location(nil), c.path...)
}

// Enter records the location where evaluation starts.
func (c *PacketContext) Enter(loc Location) {
	c.path = append(c.path, loc)
}

// Advance records one redirection to loc.
func (c *PacketContext) Advance(loc Location) {
	c.hops++
	c.path = append(c.path, loc)
}

// Apply mutates the packet fields with actions in ascending order.
func (c *PacketContext) Apply(actions []flow.Action) {
	flow.Apply(actions, &c.Fields)
}
