package flow

import (
	"fmt"
	"sort"
)

// Sorted returns a copy of actions in ascending Order. Actions with equal
// order keep their relative position.
func Sorted(actions []Action) []Action {
	out := append([]Action(nil), actions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order() < out[j].Order()
	})
	return out
}

// Apply mutates f with each action exactly once, in ascending order. Later
// actions observe the fields as mutated by earlier ones.
func Apply(actions []Action, f *HeaderFields) {
	if len(actions) == 0 {
		return
	}
	for _, a := range Sorted(actions) {
		apply(a, f)
	}
}

// apply is a no-op when the packet lacks the header the action targets.
func apply(a Action, f *HeaderFields) {
	switch a := a.(type) {
	case SetDlSrc:
		f.SrcMAC = a.addr
	case SetDlDst:
		f.DstMAC = a.addr
	case SetVlanPcp:
		if len(f.Vlans) > 0 {
			vlans := append([]VlanTag(nil), f.Vlans...)
			vlans[0].PCP = a.priority
			f.Vlans = vlans
		}
	case SetInet4Src:
		if f.IsIPv4() {
			f.SrcIP = a.addr
		}
	case SetInet4Dst:
		if f.IsIPv4() {
			f.DstIP = a.addr
		}
	case SetInetDscp:
		if f.IsIP() {
			f.DSCP = a.dscp
		}
	case SetTpSrc:
		switch {
		case f.IsICMP():
			// Same wire position as the ICMP type.
			if a.port <= MaxICMP {
				f.ICMPType = uint8(a.port)
			}
		case f.HasPorts():
			f.SrcPort = a.port
		}
	case SetTpDst:
		switch {
		case f.IsICMP():
			if a.port <= MaxICMP {
				f.ICMPCode = uint8(a.port)
			}
		case f.HasPorts():
			f.DstPort = a.port
		}
	case SetIcmpType:
		if f.IsICMP() {
			f.ICMPType = a.value
		}
	case SetIcmpCode:
		if f.IsICMP() {
			f.ICMPCode = a.value
		}
	case PushVlan:
		tag := VlanTag{TPID: a.tpid}
		if len(f.Vlans) > 0 {
			tag.ID = f.Vlans[0].ID
			tag.PCP = f.Vlans[0].PCP
		}
		f.Vlans = append([]VlanTag{tag}, f.Vlans...)
	case PopVlan:
		if len(f.Vlans) > 0 {
			f.Vlans = append([]VlanTag(nil), f.Vlans[1:]...)
		}
	case Drop:
	default:
		panic(fmt.Sprintf("flow: unhandled action %T", a))
	}
}
