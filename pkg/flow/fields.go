// Package flow defines packet header fields and the header-mutation actions
// that flow filters apply to them.
package flow

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Ethernet types referenced by flow actions and conditions.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86dd

	TPIDCTag uint16 = 0x8100 // 802.1Q customer tag
	TPIDSTag uint16 = 0x88a8 // 802.1ad service tag
)

// IP protocol numbers.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// MAC is a 48-bit Ethernet address.
type MAC [6]byte

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses a colon, dash or dot separated 48-bit MAC address.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("not a 48-bit MAC address: %s", s)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

// MACFromSlice converts a 6-byte slice to a MAC. Shorter input is zero padded.
func MACFromSlice(b []byte) MAC {
	var m MAC
	copy(m[:], b)
	return m
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

// IsZero reports whether m is 00:00:00:00:00:00.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// IsBroadcast reports whether m is the all-ones address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports whether the group bit is set. Broadcast is also multicast.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// IsUnicast reports whether m is a usable unicast station address.
func (m MAC) IsUnicast() bool {
	return !m.IsZero() && !m.IsMulticast()
}

// TrafficClass classifies a packet by its destination MAC.
type TrafficClass int

const (
	Unicast TrafficClass = iota
	Broadcast
	Multicast
)

func (c TrafficClass) String() string {
	switch c {
	case Unicast:
		return "unicast"
	case Broadcast:
		return "broadcast"
	case Multicast:
		return "multicast"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ClassOf derives the traffic class of a destination MAC.
func ClassOf(dst MAC) TrafficClass {
	switch {
	case dst.IsBroadcast():
		return Broadcast
	case dst.IsMulticast():
		return Multicast
	default:
		return Unicast
	}
}

// VlanTag is one 802.1Q/802.1ad tag.
type VlanTag struct {
	TPID uint16
	ID   uint16
	PCP  uint8
}

// HeaderFields is a snapshot of the protocol fields a flow filter can match
// on or mutate.
type HeaderFields struct {
	SrcMAC MAC
	DstMAC MAC

	// Vlans holds the VLAN tag stack, outermost first. The VLAN ID of a tag is
	// owned by the virtual mapping layer; actions only push, pop or set PCP.
	Vlans []VlanTag

	// EtherType is the payload ether type after any VLAN tags.
	EtherType uint16

	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8
	DSCP     uint8

	SrcPort uint16
	DstPort uint16

	ICMPType uint8
	ICMPCode uint8
}

// Clone returns a deep copy of f.
func (f *HeaderFields) Clone() HeaderFields {
	c := *f
	if f.Vlans != nil {
		c.Vlans = append([]VlanTag(nil), f.Vlans...)
	}
	return c
}

// Tagged reports whether the packet carries at least one VLAN tag.
func (f *HeaderFields) Tagged() bool {
	return len(f.Vlans) > 0
}

// VlanID returns the outer VLAN ID, or 0 for an untagged packet.
func (f *HeaderFields) VlanID() uint16 {
	if len(f.Vlans) == 0 {
		return 0
	}
	return f.Vlans[0].ID
}

// VlanPCP returns the outer VLAN priority, or 0 for an untagged packet.
func (f *HeaderFields) VlanPCP() uint8 {
	if len(f.Vlans) == 0 {
		return 0
	}
	return f.Vlans[0].PCP
}

// IsIPv4 reports whether the packet carries an IPv4 header.
func (f *HeaderFields) IsIPv4() bool {
	return f.EtherType == EtherTypeIPv4
}

// IsIP reports whether the packet carries an IPv4 or IPv6 header.
func (f *HeaderFields) IsIP() bool {
	return f.EtherType == EtherTypeIPv4 || f.EtherType == EtherTypeIPv6
}

// HasPorts reports whether the packet carries a TCP or UDP header.
func (f *HeaderFields) HasPorts() bool {
	return f.IsIP() && (f.Protocol == ProtoTCP || f.Protocol == ProtoUDP)
}

// IsICMP reports whether the packet carries an ICMPv4 header.
func (f *HeaderFields) IsICMP() bool {
	return f.IsIPv4() && f.Protocol == ProtoICMP
}

func (f *HeaderFields) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s > %s", f.SrcMAC, f.DstMAC)
	for _, t := range f.Vlans {
		fmt.Fprintf(&b, " vlan[%#04x %d pcp %d]", t.TPID, t.ID, t.PCP)
	}
	fmt.Fprintf(&b, " type %#04x", f.EtherType)
	if !f.IsIP() {
		return b.String()
	}
	fmt.Fprintf(&b, " %s > %s proto %d dscp %d", f.SrcIP, f.DstIP, f.Protocol, f.DSCP)
	switch {
	case f.IsICMP():
		fmt.Fprintf(&b, " icmp %d/%d", f.ICMPType, f.ICMPCode)
	case f.HasPorts():
		fmt.Fprintf(&b, " ports %d > %d", f.SrcPort, f.DstPort)
	}
	return b.String()
}
