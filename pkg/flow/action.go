package flow

import (
	"fmt"
	"net/netip"
)

// Kind identifies a flow action variant.
type Kind int

const (
	KindSetDlSrc Kind = iota + 1
	KindSetDlDst
	KindSetVlanPcp
	KindSetInet4Src
	KindSetInet4Dst
	KindSetInetDscp
	KindSetTpSrc
	KindSetTpDst
	KindSetIcmpType
	KindSetIcmpCode
	KindPushVlan
	KindPopVlan
	KindDrop
)

var kindNames = map[Kind]string{
	KindSetDlSrc:    "set-dl-src",
	KindSetDlDst:    "set-dl-dst",
	KindSetVlanPcp:  "set-vlan-pcp",
	KindSetInet4Src: "set-inet4-src",
	KindSetInet4Dst: "set-inet4-dst",
	KindSetInetDscp: "set-inet-dscp",
	KindSetTpSrc:    "set-tp-src",
	KindSetTpDst:    "set-tp-dst",
	KindSetIcmpType: "set-icmp-type",
	KindSetIcmpCode: "set-icmp-code",
	KindPushVlan:    "push-vlan",
	KindPopVlan:     "pop-vlan",
	KindDrop:        "drop",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindByName returns the action kind for its configuration keyword.
func KindByName(name string) (Kind, bool) {
	for k, s := range kindNames {
		if s == name {
			return k, true
		}
	}
	return 0, false
}

// Action is one header mutation. The set of implementations is closed; the
// variants below are the only ones Apply understands.
type Action interface {
	Kind() Kind
	// Order is the insertion index that fixes the application sequence.
	Order() int
	String() string
	isAction()
}

// Numeric limits enforced at construction.
const (
	MaxVlanPCP = 7
	MaxDSCP    = 63
	MaxPort    = 65535
	MaxICMP    = 255
)

// ValidationError reports an action field rejected at construction time.
type ValidationError struct {
	Kind   Kind
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: Invalid %s: %v: %s", e.Kind, e.Field, e.Value, e.Reason)
}

func checkOrder(k Kind, order int) error {
	if order < 0 {
		return &ValidationError{Kind: k, Field: "order", Value: order, Reason: "must not be negative"}
	}
	return nil
}

func checkMAC(k Kind, m MAC) error {
	var reason string
	switch {
	case m.IsZero():
		reason = "zero MAC address"
	case m.IsBroadcast():
		reason = "broadcast MAC address"
	case m.IsMulticast():
		reason = "multicast MAC address"
	default:
		return nil
	}
	return &ValidationError{Kind: k, Field: "address", Value: m, Reason: reason}
}

func checkRange(k Kind, field string, v, max int) error {
	if v < 0 || v > max {
		return &ValidationError{Kind: k, Field: field, Value: v, Reason: fmt.Sprintf("must be 0-%d", max)}
	}
	return nil
}

func checkInet4(k Kind, a netip.Addr) error {
	if !a.IsValid() || !a.Is4() {
		return &ValidationError{Kind: k, Field: "address", Value: a, Reason: "not an IPv4 address"}
	}
	return nil
}

// SetDlSrc rewrites the Ethernet source address.
type SetDlSrc struct {
	order int
	addr  MAC
}

// NewSetDlSrc returns a source MAC rewrite. Zero, broadcast and multicast
// addresses are rejected.
func NewSetDlSrc(order int, addr MAC) (SetDlSrc, error) {
	if err := checkOrder(KindSetDlSrc, order); err != nil {
		return SetDlSrc{}, err
	}
	if err := checkMAC(KindSetDlSrc, addr); err != nil {
		return SetDlSrc{}, err
	}
	return SetDlSrc{order: order, addr: addr}, nil
}

func (a SetDlSrc) Kind() Kind     { return KindSetDlSrc }
func (a SetDlSrc) Order() int     { return a.order }
func (a SetDlSrc) Address() MAC   { return a.addr }
func (a SetDlSrc) String() string { return fmt.Sprintf("%s %s", KindSetDlSrc, a.addr) }
func (SetDlSrc) isAction()        {}

// SetDlDst rewrites the Ethernet destination address.
type SetDlDst struct {
	order int
	addr  MAC
}

// NewSetDlDst returns a destination MAC rewrite. Zero, broadcast and
// multicast addresses are rejected.
func NewSetDlDst(order int, addr MAC) (SetDlDst, error) {
	if err := checkOrder(KindSetDlDst, order); err != nil {
		return SetDlDst{}, err
	}
	if err := checkMAC(KindSetDlDst, addr); err != nil {
		return SetDlDst{}, err
	}
	return SetDlDst{order: order, addr: addr}, nil
}

func (a SetDlDst) Kind() Kind     { return KindSetDlDst }
func (a SetDlDst) Order() int     { return a.order }
func (a SetDlDst) Address() MAC   { return a.addr }
func (a SetDlDst) String() string { return fmt.Sprintf("%s %s", KindSetDlDst, a.addr) }
func (SetDlDst) isAction()        {}

// SetVlanPcp rewrites the priority of the outer VLAN tag.
type SetVlanPcp struct {
	order    int
	priority uint8
}

func NewSetVlanPcp(order, priority int) (SetVlanPcp, error) {
	if err := checkOrder(KindSetVlanPcp, order); err != nil {
		return SetVlanPcp{}, err
	}
	if err := checkRange(KindSetVlanPcp, "priority", priority, MaxVlanPCP); err != nil {
		return SetVlanPcp{}, err
	}
	return SetVlanPcp{order: order, priority: uint8(priority)}, nil
}

func (a SetVlanPcp) Kind() Kind      { return KindSetVlanPcp }
func (a SetVlanPcp) Order() int      { return a.order }
func (a SetVlanPcp) Priority() uint8 { return a.priority }
func (a SetVlanPcp) String() string  { return fmt.Sprintf("%s %d", KindSetVlanPcp, a.priority) }
func (SetVlanPcp) isAction()         {}

// SetInet4Src rewrites the IPv4 source address.
type SetInet4Src struct {
	order int
	addr  netip.Addr
}

func NewSetInet4Src(order int, addr netip.Addr) (SetInet4Src, error) {
	if err := checkOrder(KindSetInet4Src, order); err != nil {
		return SetInet4Src{}, err
	}
	if err := checkInet4(KindSetInet4Src, addr); err != nil {
		return SetInet4Src{}, err
	}
	return SetInet4Src{order: order, addr: addr}, nil
}

func (a SetInet4Src) Kind() Kind          { return KindSetInet4Src }
func (a SetInet4Src) Order() int          { return a.order }
func (a SetInet4Src) Address() netip.Addr { return a.addr }
func (a SetInet4Src) String() string      { return fmt.Sprintf("%s %s", KindSetInet4Src, a.addr) }
func (SetInet4Src) isAction()             {}

// SetInet4Dst rewrites the IPv4 destination address.
type SetInet4Dst struct {
	order int
	addr  netip.Addr
}

func NewSetInet4Dst(order int, addr netip.Addr) (SetInet4Dst, error) {
	if err := checkOrder(KindSetInet4Dst, order); err != nil {
		return SetInet4Dst{}, err
	}
	if err := checkInet4(KindSetInet4Dst, addr); err != nil {
		return SetInet4Dst{}, err
	}
	return SetInet4Dst{order: order, addr: addr}, nil
}

func (a SetInet4Dst) Kind() Kind          { return KindSetInet4Dst }
func (a SetInet4Dst) Order() int          { return a.order }
func (a SetInet4Dst) Address() netip.Addr { return a.addr }
func (a SetInet4Dst) String() string      { return fmt.Sprintf("%s %s", KindSetInet4Dst, a.addr) }
func (SetInet4Dst) isAction()             {}

// SetInetDscp rewrites the DSCP bits of an IPv4 or IPv6 header.
type SetInetDscp struct {
	order int
	dscp  uint8
}

func NewSetInetDscp(order, dscp int) (SetInetDscp, error) {
	if err := checkOrder(KindSetInetDscp, order); err != nil {
		return SetInetDscp{}, err
	}
	if err := checkRange(KindSetInetDscp, "dscp", dscp, MaxDSCP); err != nil {
		return SetInetDscp{}, err
	}
	return SetInetDscp{order: order, dscp: uint8(dscp)}, nil
}

func (a SetInetDscp) Kind() Kind     { return KindSetInetDscp }
func (a SetInetDscp) Order() int     { return a.order }
func (a SetInetDscp) DSCP() uint8    { return a.dscp }
func (a SetInetDscp) String() string { return fmt.Sprintf("%s %d", KindSetInetDscp, a.dscp) }
func (SetInetDscp) isAction()        {}

// SetTpSrc rewrites the TCP/UDP source port. On an ICMP packet it sets the
// ICMP type instead.
type SetTpSrc struct {
	order int
	port  uint16
}

func NewSetTpSrc(order, port int) (SetTpSrc, error) {
	if err := checkOrder(KindSetTpSrc, order); err != nil {
		return SetTpSrc{}, err
	}
	if err := checkRange(KindSetTpSrc, "port", port, MaxPort); err != nil {
		return SetTpSrc{}, err
	}
	return SetTpSrc{order: order, port: uint16(port)}, nil
}

func (a SetTpSrc) Kind() Kind     { return KindSetTpSrc }
func (a SetTpSrc) Order() int     { return a.order }
func (a SetTpSrc) Port() uint16   { return a.port }
func (a SetTpSrc) String() string { return fmt.Sprintf("%s %d", KindSetTpSrc, a.port) }
func (SetTpSrc) isAction()        {}

// SetTpDst rewrites the TCP/UDP destination port. On an ICMP packet it sets
// the ICMP code instead.
type SetTpDst struct {
	order int
	port  uint16
}

func NewSetTpDst(order, port int) (SetTpDst, error) {
	if err := checkOrder(KindSetTpDst, order); err != nil {
		return SetTpDst{}, err
	}
	if err := checkRange(KindSetTpDst, "port", port, MaxPort); err != nil {
		return SetTpDst{}, err
	}
	return SetTpDst{order: order, port: uint16(port)}, nil
}

func (a SetTpDst) Kind() Kind     { return KindSetTpDst }
func (a SetTpDst) Order() int     { return a.order }
func (a SetTpDst) Port() uint16   { return a.port }
func (a SetTpDst) String() string { return fmt.Sprintf("%s %d", KindSetTpDst, a.port) }
func (SetTpDst) isAction()        {}

// SetIcmpType rewrites the ICMP type.
type SetIcmpType struct {
	order int
	value uint8
}

func NewSetIcmpType(order, value int) (SetIcmpType, error) {
	if err := checkOrder(KindSetIcmpType, order); err != nil {
		return SetIcmpType{}, err
	}
	if err := checkRange(KindSetIcmpType, "type", value, MaxICMP); err != nil {
		return SetIcmpType{}, err
	}
	return SetIcmpType{order: order, value: uint8(value)}, nil
}

func (a SetIcmpType) Kind() Kind     { return KindSetIcmpType }
func (a SetIcmpType) Order() int     { return a.order }
func (a SetIcmpType) Value() uint8   { return a.value }
func (a SetIcmpType) String() string { return fmt.Sprintf("%s %d", KindSetIcmpType, a.value) }
func (SetIcmpType) isAction()        {}

// SetIcmpCode rewrites the ICMP code.
type SetIcmpCode struct {
	order int
	value uint8
}

func NewSetIcmpCode(order, value int) (SetIcmpCode, error) {
	if err := checkOrder(KindSetIcmpCode, order); err != nil {
		return SetIcmpCode{}, err
	}
	if err := checkRange(KindSetIcmpCode, "code", value, MaxICMP); err != nil {
		return SetIcmpCode{}, err
	}
	return SetIcmpCode{order: order, value: uint8(value)}, nil
}

func (a SetIcmpCode) Kind() Kind     { return KindSetIcmpCode }
func (a SetIcmpCode) Order() int     { return a.order }
func (a SetIcmpCode) Value() uint8   { return a.value }
func (a SetIcmpCode) String() string { return fmt.Sprintf("%s %d", KindSetIcmpCode, a.value) }
func (SetIcmpCode) isAction()        {}

// PushVlan pushes a new outer VLAN tag with the given TPID.
type PushVlan struct {
	order int
	tpid  uint16
}

// NewPushVlan accepts only the 802.1Q (0x8100) and 802.1ad (0x88a8) TPIDs.
func NewPushVlan(order int, tpid uint16) (PushVlan, error) {
	if err := checkOrder(KindPushVlan, order); err != nil {
		return PushVlan{}, err
	}
	if tpid != TPIDCTag && tpid != TPIDSTag {
		return PushVlan{}, &ValidationError{
			Kind:   KindPushVlan,
			Field:  "ethertype",
			Value:  fmt.Sprintf("%#04x", tpid),
			Reason: "must be 0x8100 or 0x88a8",
		}
	}
	return PushVlan{order: order, tpid: tpid}, nil
}

func (a PushVlan) Kind() Kind        { return KindPushVlan }
func (a PushVlan) Order() int        { return a.order }
func (a PushVlan) EtherType() uint16 { return a.tpid }
func (a PushVlan) String() string    { return fmt.Sprintf("%s %#04x", KindPushVlan, a.tpid) }
func (PushVlan) isAction()           {}

// PopVlan removes the outer VLAN tag.
type PopVlan struct {
	order int
}

func NewPopVlan(order int) (PopVlan, error) {
	if err := checkOrder(KindPopVlan, order); err != nil {
		return PopVlan{}, err
	}
	return PopVlan{order: order}, nil
}

func (a PopVlan) Kind() Kind     { return KindPopVlan }
func (a PopVlan) Order() int     { return a.order }
func (a PopVlan) String() string { return KindPopVlan.String() }
func (PopVlan) isAction()        {}

// Drop summarises an egress flow that discards packets. It is never part of
// a flow filter's action list.
type Drop struct {
	order int
}

func NewDrop(order int) (Drop, error) {
	if err := checkOrder(KindDrop, order); err != nil {
		return Drop{}, err
	}
	return Drop{order: order}, nil
}

func (a Drop) Kind() Kind     { return KindDrop }
func (a Drop) Order() int     { return a.order }
func (a Drop) String() string { return KindDrop.String() }
func (Drop) isAction()        {}
