package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
	"github.com/psaab/vtnflow/pkg/packet"
	"github.com/psaab/vtnflow/pkg/redirect"
	"github.com/psaab/vtnflow/pkg/vtn"
)

// Location converts l to a filter location.
func (l LocationJSON) Location() (filter.Location, error) {
	kind, err := filter.ParseNodeKind(l.NodeType)
	if err != nil {
		return filter.Location{}, err
	}
	dir, err := filter.ParseDirection(l.Direction)
	if err != nil {
		return filter.Location{}, err
	}
	if l.Tenant == "" || l.Node == "" {
		return filter.Location{}, errors.New("location: tenant and node required")
	}
	ref := filter.InterfaceRef{
		NodeRef:   filter.NodeRef{Tenant: l.Tenant, Kind: kind, Node: l.Node},
		Interface: l.Interface,
	}
	return ref.At(dir), nil
}

// NewLocationJSON is the inverse of LocationJSON.Location.
func NewLocationJSON(loc filter.Location) LocationJSON {
	return LocationJSON{
		Tenant:    loc.Tenant,
		NodeType:  loc.Kind.String(),
		Node:      loc.Node,
		Interface: loc.Interface,
		Direction: loc.Direction.String(),
	}
}

// HeaderFields converts f. Empty strings leave the field zero.
func (f *FieldsJSON) HeaderFields() (flow.HeaderFields, error) {
	out := flow.HeaderFields{
		EtherType: f.EtherType,
		Protocol:  f.Protocol,
		DSCP:      f.DSCP,
		SrcPort:   f.SrcPort,
		DstPort:   f.DstPort,
		ICMPType:  f.ICMPType,
		ICMPCode:  f.ICMPCode,
	}
	var err error
	if f.SrcMAC != "" {
		if out.SrcMAC, err = flow.ParseMAC(f.SrcMAC); err != nil {
			return out, fmt.Errorf("src_mac: %w", err)
		}
	}
	if f.DstMAC != "" {
		if out.DstMAC, err = flow.ParseMAC(f.DstMAC); err != nil {
			return out, fmt.Errorf("dst_mac: %w", err)
		}
	}
	if f.SrcIP != "" {
		if out.SrcIP, err = netip.ParseAddr(f.SrcIP); err != nil {
			return out, fmt.Errorf("src_ip: %w", err)
		}
	}
	if f.DstIP != "" {
		if out.DstIP, err = netip.ParseAddr(f.DstIP); err != nil {
			return out, fmt.Errorf("dst_ip: %w", err)
		}
	}
	for _, v := range f.Vlans {
		tpid := v.TPID
		if tpid == 0 {
			tpid = flow.TPIDCTag
		}
		if v.ID > 4095 || v.PCP > flow.MaxVlanPCP {
			return out, fmt.Errorf("vlan %d pcp %d out of range", v.ID, v.PCP)
		}
		out.Vlans = append(out.Vlans, flow.VlanTag{TPID: tpid, ID: v.ID, PCP: v.PCP})
	}
	if out.EtherType == 0 {
		switch {
		case out.SrcIP.Is4() || out.DstIP.Is4():
			out.EtherType = flow.EtherTypeIPv4
		case out.SrcIP.Is6() || out.DstIP.Is6():
			out.EtherType = flow.EtherTypeIPv6
		}
	}
	return out, nil
}

// NewFieldsJSON is the inverse of FieldsJSON.HeaderFields.
func NewFieldsJSON(f *flow.HeaderFields) FieldsJSON {
	out := FieldsJSON{
		EtherType: f.EtherType,
		Protocol:  f.Protocol,
		DSCP:      f.DSCP,
		SrcPort:   f.SrcPort,
		DstPort:   f.DstPort,
		ICMPType:  f.ICMPType,
		ICMPCode:  f.ICMPCode,
	}
	if !f.SrcMAC.IsZero() {
		out.SrcMAC = f.SrcMAC.String()
	}
	if !f.DstMAC.IsZero() {
		out.DstMAC = f.DstMAC.String()
	}
	if f.SrcIP.IsValid() {
		out.SrcIP = f.SrcIP.String()
	}
	if f.DstIP.IsValid() {
		out.DstIP = f.DstIP.String()
	}
	for _, v := range f.Vlans {
		out.Vlans = append(out.Vlans, VlanJSON{TPID: v.TPID, ID: v.ID, PCP: v.PCP})
	}
	return out
}

// Decide runs req through e. The returned response carries the rewritten
// frame when req.Frame was set and the packet passed.
func Decide(e *redirect.Engine, req *DecideRequest) (*DecisionResponse, error) {
	loc, err := req.Location.Location()
	if err != nil {
		return nil, err
	}

	var (
		fields flow.HeaderFields
		frame  []byte
	)
	switch {
	case req.Frame != "" && req.Fields != nil:
		return nil, errors.New("fields and frame are mutually exclusive")
	case req.Frame != "":
		frame, err = hex.DecodeString(strings.Join(strings.Fields(req.Frame), ""))
		if err != nil {
			return nil, fmt.Errorf("frame: %w", err)
		}
		if fields, err = packet.Decode(frame); err != nil {
			return nil, err
		}
	case req.Fields != nil:
		if fields, err = req.Fields.HeaderFields(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("fields or frame required")
	}

	d := e.Decide(loc, filter.NewPacketContext(fields))
	resp := NewDecisionResponse(&d)
	if frame != nil && !d.Dropped() {
		out, err := packet.Rewrite(frame, d.Fields)
		if err != nil {
			return nil, err
		}
		resp.Frame = hex.EncodeToString(out)
	}
	return resp, nil
}

// NewDecisionResponse converts d.
func NewDecisionResponse(d *redirect.Decision) *DecisionResponse {
	resp := &DecisionResponse{
		Verdict: d.Verdict.String(),
		Hops:    d.Hops,
		Path:    make([]string, 0, len(d.Path)),
		Fields:  NewFieldsJSON(&d.Fields),
	}
	if d.Dropped() {
		resp.Reason = d.Reason.String()
	}
	for _, p := range d.Path {
		resp.Path = append(resp.Path, p.String())
	}
	for _, h := range d.Hits {
		resp.Hits = append(resp.Hits, HitJSON{Location: h.Location.String(), Index: h.Index, Verdict: h.Verdict.String()})
	}
	return resp
}

// FilterLists describes every filter list in snap, optionally restricted to
// one tenant. hits supplies per-filter counters and may be nil.
func FilterLists(snap *vtn.Snapshot, tenant string, hits map[redirect.Hit]uint64) []FilterListInfo {
	out := []FilterListInfo{}
	for _, ll := range snap.Lists() {
		if tenant != "" && ll.Location.Tenant != tenant {
			continue
		}
		info := FilterListInfo{Location: ll.Location.String(), Tenant: ll.Location.Tenant}
		for _, f := range ll.List.Filters() {
			fi := newFilterInfo(f)
			fi.Hits = hits[redirect.Hit{Location: ll.Location, Index: f.Index()}]
			info.Filters = append(info.Filters, fi)
		}
		out = append(out, info)
	}
	return out
}

func newFilterInfo(f *filter.FlowFilter) FilterInfo {
	fi := FilterInfo{
		Index:     f.Index(),
		Condition: f.Condition(),
		Valid:     f.Valid(),
	}
	if !f.Valid() {
		fi.Type = "invalid"
		fi.Error = f.Err().Error()
		return fi
	}
	fi.Type = f.Type().String()
	if r, ok := f.Type().(filter.Redirect); ok {
		fi.Type = "redirect"
		fi.Destination = r.Destination.String()
		fi.Direction = r.Direction.String()
	}
	for _, a := range flow.Sorted(f.Actions()) {
		fi.Actions = append(fi.Actions, ActionInfo{Order: a.Order(), Kind: a.Kind().String(), Value: flow.Value(a)})
	}
	return fi
}

// Conditions describes the flow conditions of snap in name order.
func Conditions(snap *vtn.Snapshot) []ConditionInfo {
	table := snap.Conditions()
	out := []ConditionInfo{}
	for _, name := range table.Names() {
		c, _ := table.Lookup(name)
		ci := ConditionInfo{Name: name}
		for i := range c.Matches {
			ci.Matches = append(ci.Matches, c.Matches[i].String())
		}
		out = append(out, ci)
	}
	return out
}

// Warnings converts the build warnings of snap.
func Warnings(snap *vtn.Snapshot) []WarningInfo {
	var out []WarningInfo
	for _, w := range snap.Warnings() {
		out = append(out, WarningInfo{Location: w.Location.String(), Index: w.Index, Message: w.Err.Error()})
	}
	return out
}
