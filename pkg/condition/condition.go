// Package condition implements named flow conditions, the predicates flow
// filters refer to by name.
package condition

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/psaab/vtnflow/pkg/flow"
)

// PortRange is an inclusive transport port range.
type PortRange struct {
	Low, High uint16
}

func (r PortRange) contains(p uint16) bool { return p >= r.Low && p <= r.High }

func (r PortRange) String() string {
	if r.Low == r.High {
		return fmt.Sprintf("%d", r.Low)
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// Match is one entry of a flow condition. Every set field must match. Unset
// fields are -1, the zero MAC, an invalid prefix or a nil range.
type Match struct {
	Index int

	SrcMAC    flow.MAC
	DstMAC    flow.MAC
	EtherType int
	VlanPCP   int

	SrcIP    netip.Prefix
	DstIP    netip.Prefix
	Protocol int
	DSCP     int

	SrcPort  *PortRange
	DstPort  *PortRange
	ICMPType int
	ICMPCode int
}

// NewMatch returns an entry with every field unset. It matches every packet.
func NewMatch(index int) Match {
	return Match{
		Index:     index,
		EtherType: -1,
		VlanPCP:   -1,
		Protocol:  -1,
		DSCP:      -1,
		ICMPType:  -1,
		ICMPCode:  -1,
	}
}

// Matches reports whether f satisfies every field set in m.
func (m *Match) Matches(f *flow.HeaderFields) bool {
	if !m.SrcMAC.IsZero() && f.SrcMAC != m.SrcMAC {
		return false
	}
	if !m.DstMAC.IsZero() && f.DstMAC != m.DstMAC {
		return false
	}
	if m.EtherType >= 0 && int(f.EtherType) != m.EtherType {
		return false
	}
	if m.VlanPCP >= 0 && (!f.Tagged() || int(f.VlanPCP()) != m.VlanPCP) {
		return false
	}
	if m.SrcIP.IsValid() && (!f.IsIP() || !m.SrcIP.Contains(f.SrcIP)) {
		return false
	}
	if m.DstIP.IsValid() && (!f.IsIP() || !m.DstIP.Contains(f.DstIP)) {
		return false
	}
	if m.Protocol >= 0 && (!f.IsIP() || int(f.Protocol) != m.Protocol) {
		return false
	}
	if m.DSCP >= 0 && (!f.IsIP() || int(f.DSCP) != m.DSCP) {
		return false
	}
	if m.SrcPort != nil && (!f.HasPorts() || !m.SrcPort.contains(f.SrcPort)) {
		return false
	}
	if m.DstPort != nil && (!f.HasPorts() || !m.DstPort.contains(f.DstPort)) {
		return false
	}
	if m.ICMPType >= 0 && (!f.IsICMP() || int(f.ICMPType) != m.ICMPType) {
		return false
	}
	if m.ICMPCode >= 0 && (!f.IsICMP() || int(f.ICMPCode) != m.ICMPCode) {
		return false
	}
	return true
}

func (m *Match) String() string {
	var parts []string
	add := func(k string, v any) { parts = append(parts, fmt.Sprintf("%s %v", k, v)) }
	if !m.SrcMAC.IsZero() {
		add("source-mac", m.SrcMAC)
	}
	if !m.DstMAC.IsZero() {
		add("destination-mac", m.DstMAC)
	}
	if m.EtherType >= 0 {
		add("ether-type", fmt.Sprintf("0x%04x", m.EtherType))
	}
	if m.VlanPCP >= 0 {
		add("vlan-priority", m.VlanPCP)
	}
	if m.SrcIP.IsValid() {
		add("source-address", m.SrcIP)
	}
	if m.DstIP.IsValid() {
		add("destination-address", m.DstIP)
	}
	if m.Protocol >= 0 {
		add("ip-protocol", m.Protocol)
	}
	if m.DSCP >= 0 {
		add("dscp", m.DSCP)
	}
	if m.SrcPort != nil {
		add("source-port", m.SrcPort)
	}
	if m.DstPort != nil {
		add("destination-port", m.DstPort)
	}
	if m.ICMPType >= 0 {
		add("icmp-type", m.ICMPType)
	}
	if m.ICMPCode >= 0 {
		add("icmp-code", m.ICMPCode)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("match %d any", m.Index)
	}
	return fmt.Sprintf("match %d %s", m.Index, strings.Join(parts, " "))
}

// Condition is a named, ordered set of match entries. It matches when any
// entry matches; a condition without entries matches every packet.
type Condition struct {
	Name    string
	Matches []Match
}

func (c *Condition) match(f *flow.HeaderFields) bool {
	if len(c.Matches) == 0 {
		return true
	}
	for i := range c.Matches {
		if c.Matches[i].Matches(f) {
			return true
		}
	}
	return false
}

// Table is an immutable set of flow conditions keyed by name. It implements
// filter.Matcher.
type Table struct {
	conds map[string]*Condition
}

// NewTable validates conds and sorts each condition's entries by index.
func NewTable(conds []Condition) (*Table, error) {
	t := &Table{conds: make(map[string]*Condition, len(conds))}
	for _, c := range conds {
		if c.Name == "" {
			return nil, fmt.Errorf("flow condition name required")
		}
		if _, dup := t.conds[c.Name]; dup {
			return nil, fmt.Errorf("flow condition %q defined twice", c.Name)
		}
		ms := append([]Match(nil), c.Matches...)
		sort.Slice(ms, func(i, j int) bool { return ms[i].Index < ms[j].Index })
		for i := range ms {
			if ms[i].Index < 1 || ms[i].Index > 65535 {
				return nil, fmt.Errorf("flow condition %q: match index %d out of range", c.Name, ms[i].Index)
			}
			if i > 0 && ms[i].Index == ms[i-1].Index {
				return nil, fmt.Errorf("flow condition %q: duplicate match index %d", c.Name, ms[i].Index)
			}
		}
		t.conds[c.Name] = &Condition{Name: c.Name, Matches: ms}
	}
	return t, nil
}

// Matches reports whether f satisfies the named condition. Undefined names
// never match.
func (t *Table) Matches(name string, f *flow.HeaderFields) bool {
	if t == nil {
		return false
	}
	c, ok := t.conds[name]
	if !ok {
		return false
	}
	return c.match(f)
}

// Lookup returns the named condition.
func (t *Table) Lookup(name string) (*Condition, bool) {
	if t == nil {
		return nil, false
	}
	c, ok := t.conds[name]
	return c, ok
}

// Names returns the condition names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.conds))
	for n := range t.conds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
