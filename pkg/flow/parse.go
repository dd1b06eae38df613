package flow

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ParseAction builds an action of kind from its textual value, as written in
// configuration ("set-vlan-pcp 7", "push-vlan 0x88a8"). Range checks are
// those of the matching constructor.
func ParseAction(kind Kind, order int, value string) (Action, error) {
	// Decimal only; push-vlan also takes a 0x-prefixed EtherType.
	num := func() (int, error) {
		digits, base := value, 10
		if kind == KindPushVlan {
			if hex, ok := strings.CutPrefix(strings.ToLower(value), "0x"); ok {
				digits, base = hex, 16
			}
		}
		n, err := strconv.ParseInt(digits, base, 64)
		if err != nil {
			return 0, &ValidationError{Kind: kind, Field: "value", Value: value, Reason: "not a number"}
		}
		return int(n), nil
	}
	mac := func() (MAC, error) {
		m, err := ParseMAC(value)
		if err != nil {
			return MAC{}, &ValidationError{Kind: kind, Field: "address", Value: value, Reason: "not a MAC address"}
		}
		return m, nil
	}
	addr := func() (netip.Addr, error) {
		a, err := netip.ParseAddr(value)
		if err != nil {
			return netip.Addr{}, &ValidationError{Kind: kind, Field: "address", Value: value, Reason: "not an IP address"}
		}
		return a, nil
	}

	switch kind {
	case KindSetDlSrc, KindSetDlDst:
		m, err := mac()
		if err != nil {
			return nil, err
		}
		if kind == KindSetDlSrc {
			return orNil(NewSetDlSrc(order, m))
		}
		return orNil(NewSetDlDst(order, m))
	case KindSetInet4Src, KindSetInet4Dst:
		a, err := addr()
		if err != nil {
			return nil, err
		}
		if kind == KindSetInet4Src {
			return orNil(NewSetInet4Src(order, a))
		}
		return orNil(NewSetInet4Dst(order, a))
	case KindPopVlan:
		return orNil(NewPopVlan(order))
	case KindDrop:
		return orNil(NewDrop(order))
	}

	n, err := num()
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindSetVlanPcp:
		return orNil(NewSetVlanPcp(order, n))
	case KindSetInetDscp:
		return orNil(NewSetInetDscp(order, n))
	case KindSetTpSrc:
		return orNil(NewSetTpSrc(order, n))
	case KindSetTpDst:
		return orNil(NewSetTpDst(order, n))
	case KindSetIcmpType:
		return orNil(NewSetIcmpType(order, n))
	case KindSetIcmpCode:
		return orNil(NewSetIcmpCode(order, n))
	case KindPushVlan:
		if n < 0 || n > 0xffff {
			return nil, &ValidationError{Kind: kind, Field: "ethertype", Value: value, Reason: "not a 16-bit value"}
		}
		return orNil(NewPushVlan(order, uint16(n)))
	}
	return nil, fmt.Errorf("unknown flow action kind %d", int(kind))
}

// orNil keeps a failed constructor's zero value out of the Action interface.
func orNil(a Action, err error) (Action, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Value returns the textual value of a, the inverse of ParseAction. Actions
// without a value return "".
func Value(a Action) string {
	switch a := a.(type) {
	case SetDlSrc:
		return a.addr.String()
	case SetDlDst:
		return a.addr.String()
	case SetVlanPcp:
		return strconv.Itoa(int(a.priority))
	case SetInet4Src:
		return a.addr.String()
	case SetInet4Dst:
		return a.addr.String()
	case SetInetDscp:
		return strconv.Itoa(int(a.dscp))
	case SetTpSrc:
		return strconv.Itoa(int(a.port))
	case SetTpDst:
		return strconv.Itoa(int(a.port))
	case SetIcmpType:
		return strconv.Itoa(int(a.value))
	case SetIcmpCode:
		return strconv.Itoa(int(a.value))
	case PushVlan:
		return fmt.Sprintf("0x%04x", a.tpid)
	case PopVlan, Drop:
		return ""
	default:
		panic(fmt.Sprintf("flow: unhandled action %T", a))
	}
}
