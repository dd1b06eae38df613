package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/psaab/vtnflow/pkg/condition"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
)

// CompileConfig converts a parsed tree into a typed Config. Structural
// problems (unknown keywords, duplicate names, malformed condition values)
// are errors; flow filter values are checked later when filters are built.
func CompileConfig(tree *ConfigTree) (*Config, error) {
	cfg := &Config{
		System: SystemConfig{
			MaxRedirections: DefaultMaxRedirections,
			TraceBufferSize: DefaultTraceBufferSize,
		},
	}
	if tree == nil {
		return cfg, nil
	}

	for _, node := range tree.Children {
		var err error
		switch node.Name() {
		case "system":
			err = compileSystem(node, &cfg.System)
		case "flow-conditions":
			err = compileConditions(node, cfg)
		case "vtn":
			err = compileTenant(node, cfg)
		default:
			err = nodeErr(node, "unknown statement %q", node.Name())
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func nodeErr(n *Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

// leafValue returns the single argument of a leaf like "dscp 10;".
func leafValue(n *Node) (string, error) {
	if len(n.Keys) != 2 {
		return "", nodeErr(n, "%s: expected one value", n.Name())
	}
	return n.Keys[1], nil
}

func leafInt(n *Node, lo, hi int) (int, error) {
	v, err := leafValue(n)
	if err != nil {
		return 0, err
	}
	i, err := strconv.ParseInt(v, 0, 64)
	if err != nil || int(i) < lo || int(i) > hi {
		return 0, nodeErr(n, "%s: %q is not a number between %d and %d", n.Name(), v, lo, hi)
	}
	return int(i), nil
}

func compileSystem(node *Node, sys *SystemConfig) error {
	for _, child := range node.Children {
		var err error
		switch child.Name() {
		case "max-redirections":
			sys.MaxRedirections, err = leafInt(child, 1, MaxMaxRedirections)
		case "trace-buffer-size":
			sys.TraceBufferSize, err = leafInt(child, 1, 1<<20)
		case "traceoptions":
			sys.Traceoptions, err = compileTraceoptions(child)
		default:
			err = nodeErr(child, "unknown system statement %q", child.Name())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var traceFlags = map[string]bool{"all": true, "decision": true, "drop": true, "redirect": true, "log": true}

func compileTraceoptions(node *Node) (*Traceoptions, error) {
	opts := &Traceoptions{}
	for _, child := range node.Children {
		var err error
		switch child.Name() {
		case "file":
			opts.File, err = leafValue(child)
		case "file-size":
			var kb int
			kb, err = leafInt(child, 1, 1<<22)
			opts.FileSize = int64(kb) * 1024
		case "file-count":
			opts.FileCount, err = leafInt(child, 1, 100)
		case "flag":
			if len(child.Keys) < 2 {
				err = nodeErr(child, "flag: value required")
			}
			for _, flag := range child.Keys[1:] {
				if !traceFlags[flag] {
					err = nodeErr(child, "unknown trace flag %q", flag)
					break
				}
				opts.Flags = append(opts.Flags, flag)
			}
		default:
			err = nodeErr(child, "unknown traceoptions statement %q", child.Name())
		}
		if err != nil {
			return nil, err
		}
	}
	if opts.File == "" {
		return nil, nodeErr(node, "traceoptions: file required")
	}
	return opts, nil
}

func compileConditions(node *Node, cfg *Config) error {
	for _, child := range node.Children {
		if child.Name() != "condition" || len(child.Keys) != 2 {
			return nodeErr(child, "expected condition <name>")
		}
		c := condition.Condition{Name: child.Keys[1]}
		for _, m := range child.Children {
			if m.Name() != "match" || len(m.Keys) != 2 {
				return nodeErr(m, "condition %s: expected match <index>", c.Name)
			}
			idx, err := strconv.Atoi(m.Keys[1])
			if err != nil || idx < 1 || idx > 65535 {
				return nodeErr(m, "condition %s: invalid match index %q", c.Name, m.Keys[1])
			}
			match, err := compileMatch(m, idx)
			if err != nil {
				return fmt.Errorf("condition %s: %w", c.Name, err)
			}
			c.Matches = append(c.Matches, match)
		}
		for _, prev := range cfg.Conditions {
			if prev.Name == c.Name {
				return nodeErr(child, "condition %s defined twice", c.Name)
			}
		}
		cfg.Conditions = append(cfg.Conditions, c)
	}
	return nil
}

var etherTypeNames = map[string]int{
	"ipv4": int(flow.EtherTypeIPv4),
	"arp":  int(flow.EtherTypeARP),
	"ipv6": int(flow.EtherTypeIPv6),
}

var protocolNames = map[string]int{
	"icmp": int(flow.ProtoICMP),
	"tcp":  int(flow.ProtoTCP),
	"udp":  int(flow.ProtoUDP),
}

func compileMatch(node *Node, index int) (condition.Match, error) {
	m := condition.NewMatch(index)
	for _, leaf := range node.Children {
		v, err := leafValue(leaf)
		if err != nil {
			return m, err
		}
		switch leaf.Name() {
		case "source-mac", "destination-mac":
			mac, err := flow.ParseMAC(v)
			if err != nil {
				return m, nodeErr(leaf, "%s: %v", leaf.Name(), err)
			}
			if leaf.Name() == "source-mac" {
				m.SrcMAC = mac
			} else {
				m.DstMAC = mac
			}
		case "ether-type":
			if n, ok := etherTypeNames[v]; ok {
				m.EtherType = n
			} else {
				m.EtherType, err = leafInt(leaf, 0, 0xffff)
			}
		case "vlan-priority":
			m.VlanPCP, err = leafInt(leaf, 0, flow.MaxVlanPCP)
		case "source-address", "destination-address":
			p, perr := parsePrefix(v)
			if perr != nil {
				return m, nodeErr(leaf, "%s: %v", leaf.Name(), perr)
			}
			if leaf.Name() == "source-address" {
				m.SrcIP = p
			} else {
				m.DstIP = p
			}
		case "ip-protocol":
			if n, ok := protocolNames[v]; ok {
				m.Protocol = n
			} else {
				m.Protocol, err = leafInt(leaf, 0, 255)
			}
		case "dscp":
			m.DSCP, err = leafInt(leaf, 0, flow.MaxDSCP)
		case "source-port", "destination-port":
			r, perr := parsePortRange(v)
			if perr != nil {
				return m, nodeErr(leaf, "%s: %v", leaf.Name(), perr)
			}
			if leaf.Name() == "source-port" {
				m.SrcPort = r
			} else {
				m.DstPort = r
			}
		case "icmp-type":
			m.ICMPType, err = leafInt(leaf, 0, flow.MaxICMP)
		case "icmp-code":
			m.ICMPCode, err = leafInt(leaf, 0, flow.MaxICMP)
		default:
			err = nodeErr(leaf, "unknown match field %q", leaf.Name())
		}
		if err != nil {
			return m, err
		}
	}
	return m, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func parsePortRange(s string) (*condition.PortRange, error) {
	lo, hi, found := strings.Cut(s, "-")
	low, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", lo)
	}
	high := low
	if found {
		if high, err = strconv.ParseUint(hi, 10, 16); err != nil {
			return nil, fmt.Errorf("invalid port %q", hi)
		}
	}
	if high < low {
		return nil, fmt.Errorf("invalid port range %q", s)
	}
	return &condition.PortRange{Low: uint16(low), High: uint16(high)}, nil
}

func compileTenant(node *Node, cfg *Config) error {
	if len(node.Keys) != 2 {
		return nodeErr(node, "expected vtn <name>")
	}
	t := &TenantConfig{Name: node.Keys[1]}
	if cfg.Tenant(t.Name) != nil {
		return nodeErr(node, "vtn %s defined twice", t.Name)
	}
	for _, child := range node.Children {
		switch child.Name() {
		case "description":
			t.Description = child.Arg(0)
		case "vbridge", "vterminal":
			kind, _ := filter.ParseNodeKind(child.Name())
			n, err := compileNode(child, kind)
			if err != nil {
				return fmt.Errorf("vtn %s: %w", t.Name, err)
			}
			if t.Node(kind, n.Name) != nil {
				return nodeErr(child, "vtn %s: %s %s defined twice", t.Name, kind, n.Name)
			}
			t.Nodes = append(t.Nodes, n)
		default:
			return nodeErr(child, "vtn %s: unknown statement %q", t.Name, child.Name())
		}
	}
	cfg.Tenants = append(cfg.Tenants, t)
	return nil
}

func compileNode(node *Node, kind filter.NodeKind) (*NodeConfig, error) {
	if len(node.Keys) != 2 {
		return nil, nodeErr(node, "expected %s <name>", kind)
	}
	n := &NodeConfig{Kind: kind, Name: node.Keys[1]}
	for _, child := range node.Children {
		switch child.Name() {
		case "description":
			n.Description = child.Arg(0)
		case "interface":
			ifc, err := compileInterface(child)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", kind, n.Name, err)
			}
			for _, prev := range n.Interfaces {
				if prev.Name == ifc.Name {
					return nil, nodeErr(child, "%s %s: interface %s defined twice", kind, n.Name, ifc.Name)
				}
			}
			n.Interfaces = append(n.Interfaces, ifc)
		case "flow-filter":
			if err := compileFlowFilter(child, &n.FlowFilters); err != nil {
				return nil, fmt.Errorf("%s %s: %w", kind, n.Name, err)
			}
		default:
			return nil, nodeErr(child, "%s %s: unknown statement %q", kind, n.Name, child.Name())
		}
	}
	return n, nil
}

func compileInterface(node *Node) (*InterfaceConfig, error) {
	if len(node.Keys) != 2 {
		return nil, nodeErr(node, "expected interface <name>")
	}
	ifc := &InterfaceConfig{Name: node.Keys[1]}
	for _, child := range node.Children {
		switch child.Name() {
		case "description":
			ifc.Description = child.Arg(0)
		case "disable":
			ifc.Disabled = true
		case "flow-filter":
			if err := compileFlowFilter(child, &ifc.FlowFilters); err != nil {
				return nil, fmt.Errorf("interface %s: %w", ifc.Name, err)
			}
		default:
			return nil, nodeErr(child, "interface %s: unknown statement %q", ifc.Name, child.Name())
		}
	}
	return ifc, nil
}

func compileFlowFilter(node *Node, set *FlowFilterSet) error {
	if len(node.Keys) != 2 {
		return nodeErr(node, "expected flow-filter <input|output>")
	}
	dir, err := filter.ParseDirection(node.Keys[1])
	if err != nil {
		return nodeErr(node, "flow-filter: %v", err)
	}
	list := &set.Input
	if dir == filter.Output {
		list = &set.Output
	}
	if len(*list) > 0 {
		return nodeErr(node, "flow-filter %s defined twice", dir)
	}
	for _, child := range node.Children {
		if child.Name() != "filter" {
			return nodeErr(child, "flow-filter %s: unknown statement %q", dir, child.Name())
		}
		fc, err := compileFilter(child)
		if err != nil {
			return fmt.Errorf("flow-filter %s: %w", dir, err)
		}
		*list = append(*list, fc)
	}
	return nil
}

func compileFilter(node *Node) (*FilterConfig, error) {
	fc := &FilterConfig{Line: node.Line}
	switch len(node.Keys) {
	case 1:
	case 2:
		idx, err := strconv.Atoi(node.Keys[1])
		if err != nil {
			return nil, nodeErr(node, "filter: invalid index %q", node.Keys[1])
		}
		fc.Index = idx
	default:
		return nil, nodeErr(node, "expected filter [<index>]")
	}

	setType := func(n *Node, typ string) error {
		if fc.Type != "" && fc.Type != typ {
			return nodeErr(n, "filter %d: conflicting types %s and %s", fc.Index, fc.Type, typ)
		}
		fc.Type = typ
		return nil
	}
	for _, child := range node.Children {
		var err error
		switch child.Name() {
		case "condition":
			fc.Condition = child.Arg(0)
		case "description":
			fc.Description = child.Arg(0)
		case "pass", "drop":
			err = setType(child, child.Name())
		case "redirect":
			if err = setType(child, "redirect"); err == nil {
				fc.Redirect, err = compileRedirect(child)
			}
		case "action":
			fc.Actions, err = compileActions(child)
		default:
			err = nodeErr(child, "filter %d: unknown statement %q", fc.Index, child.Name())
		}
		if err != nil {
			return nil, err
		}
	}
	return fc, nil
}

func compileRedirect(node *Node) (*RedirectConfig, error) {
	r := &RedirectConfig{}
	for _, child := range node.Children {
		switch child.Name() {
		case "destination":
			// destination <vbridge|vterminal> <node> interface <name>
			if len(child.Keys) != 5 || child.Keys[3] != "interface" {
				return nil, nodeErr(child, "expected destination <vbridge|vterminal> <name> interface <name>")
			}
			kind, err := filter.ParseNodeKind(child.Keys[1])
			if err != nil {
				return nil, nodeErr(child, "destination: %v", err)
			}
			r.NodeKind, r.Node, r.Interface = kind, child.Keys[2], child.Keys[4]
		case "direction":
			dir, err := filter.ParseDirection(child.Arg(0))
			if err != nil {
				return nil, nodeErr(child, "redirect: %v", err)
			}
			r.Output = dir == filter.Output
		default:
			return nil, nodeErr(child, "redirect: unknown statement %q", child.Name())
		}
	}
	return r, nil
}

// compileActions reads "<action> [<value>] [order <n>];" leaves. Without an
// explicit order, actions apply in the order written.
func compileActions(node *Node) ([]ActionConfig, error) {
	var out []ActionConfig
	for i, child := range node.Children {
		kind, ok := flow.KindByName(child.Name())
		if !ok || kind == flow.KindDrop {
			return nil, nodeErr(child, "unknown flow action %q", child.Name())
		}
		a := ActionConfig{Kind: kind, Order: i}
		args := child.Keys[1:]
		if n := len(args); n >= 2 && args[n-2] == "order" {
			order, err := strconv.Atoi(args[n-1])
			if err != nil {
				return nil, nodeErr(child, "%s: invalid order %q", kind, args[n-1])
			}
			a.Order = order
			args = args[:n-2]
		}
		switch {
		case kind == flow.KindPopVlan && len(args) == 0:
		case kind != flow.KindPopVlan && len(args) == 1:
			a.Value = args[0]
		default:
			return nil, nodeErr(child, "%s: wrong number of arguments", kind)
		}
		out = append(out, a)
	}
	return out, nil
}
