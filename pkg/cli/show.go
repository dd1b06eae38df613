package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/flow"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
)

func (c *CLI) filterHits() map[redirect.Hit]uint64 {
	if c.engine == nil {
		return nil
	}
	return c.engine.Stats().FilterHits
}

func (c *CLI) showFilterLists(tenant string) error {
	WriteFilterLists(c.out, api.FilterLists(c.store.Current(), tenant, c.filterHits()))
	return nil
}

// WriteFilterLists prints flow filter lists with their hit counters.
func WriteFilterLists(w io.Writer, lists []api.FilterListInfo) {
	if len(lists) == 0 {
		fmt.Fprintln(w, "No flow filters configured")
		return
	}
	for _, l := range lists {
		fmt.Fprintf(w, "Flow filter list: %s\n", l.Location)
		fmt.Fprintf(w, "  %-6s %-16s %-10s %-28s %s\n", "Index", "Condition", "Type", "Target", "Hits")
		for _, f := range l.Filters {
			target := ""
			if f.Destination != "" {
				target = f.Destination + " " + f.Direction
			}
			fmt.Fprintf(w, "  %-6d %-16s %-10s %-28s %d\n", f.Index, f.Condition, f.Type, target, f.Hits)
			for _, a := range f.Actions {
				fmt.Fprintf(w, "           action %d: %s %s\n", a.Order, a.Kind, a.Value)
			}
			if f.Error != "" {
				fmt.Fprintf(w, "           error: %s\n", f.Error)
			}
		}
		fmt.Fprintln(w)
	}
}

func (c *CLI) showStatistics() error {
	if c.engine == nil {
		fmt.Fprintln(c.out, "Flow filter engine not running")
		return nil
	}
	st := c.engine.Stats()
	fmt.Fprintln(c.out, "Flow filter statistics:")
	fmt.Fprintf(c.out, "  %-25s %d\n", "Decisions:", st.Decisions)
	fmt.Fprintf(c.out, "  %-25s %d\n", "Passed:", st.Passed)
	fmt.Fprintf(c.out, "  %-25s %d\n", "Redirects:", st.Redirects)
	reasons := make([]redirect.DropReason, 0, len(st.Dropped))
	for r := range st.Dropped {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	for _, r := range reasons {
		fmt.Fprintf(c.out, "  %-25s %d\n", "Dropped ("+r.String()+"):", st.Dropped[r])
	}
	return nil
}

func (c *CLI) showTrace(args []string) error {
	if c.trace == nil {
		fmt.Fprintln(c.out, "Trace buffer not available")
		return nil
	}
	count, f, err := ParseTraceArgs(args)
	if err != nil {
		return err
	}
	WriteTrace(c.out, c.trace.LatestFiltered(count, f))
	return nil
}

// ParseTraceArgs parses "count N tenant T verdict V reason R" in any order.
func ParseTraceArgs(args []string) (int, logging.TraceFilter, error) {
	count := 20
	var f logging.TraceFilter
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return 0, f, fmt.Errorf("show flow-filter trace: %s needs a value", args[i])
		}
		v := args[i+1]
		switch args[i] {
		case "count":
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return 0, f, fmt.Errorf("invalid count %q", v)
			}
			count = n
		case "tenant":
			f.Tenant = v
		case "verdict":
			f.Verdict = v
		case "reason":
			f.Reason = v
		default:
			return 0, f, fmt.Errorf("show flow-filter trace: unknown option %q", args[i])
		}
	}
	return count, f, nil
}

// WriteTrace prints trace records, one decision per line.
func WriteTrace(w io.Writer, recs []logging.TraceRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No trace records")
		return
	}
	for _, r := range recs {
		ts := r.Time.Format("2006-01-02 15:04:05.000")
		if r.Type != logging.TypeDecision {
			fmt.Fprintf(w, "%s %-8s %s\n", ts, r.Type, r.Message)
			continue
		}
		verdict := r.Verdict
		if r.Reason != "" {
			verdict += " (" + r.Reason + ")"
		}
		fmt.Fprintf(w, "%s %s hops %d: %s\n", ts, r.Location, r.Hops, verdict)
		if len(r.Path) > 1 {
			fmt.Fprintf(w, "    path: %s\n", strings.Join(r.Path, " -> "))
		}
	}
}

func (c *CLI) showConditions(name string) error {
	conds := api.Conditions(c.store.Current())
	found := false
	for _, cond := range conds {
		if name != "" && cond.Name != name {
			continue
		}
		found = true
		fmt.Fprintf(c.out, "Flow condition: %s\n", cond.Name)
		if len(cond.Matches) == 0 {
			fmt.Fprintln(c.out, "  (matches all packets)")
		}
		for _, m := range cond.Matches {
			fmt.Fprintf(c.out, "  %s\n", m)
		}
	}
	if !found {
		if name != "" {
			return fmt.Errorf("flow condition %q not found", name)
		}
		fmt.Fprintln(c.out, "No flow conditions configured")
	}
	return nil
}

func (c *CLI) showCommitHistory() {
	snap := c.store.Current()
	fmt.Fprintf(c.out, "Active generation: %d\n", snap.Generation())
	history := c.store.ListHistory()
	if len(history) == 0 {
		fmt.Fprintln(c.out, "No commit history")
		return
	}
	for _, h := range history {
		fmt.Fprintf(c.out, "  %-3d %s  generation %d", h.Rollback, h.Timestamp.Format("2006-01-02 15:04:05"), h.Generation)
		if h.Comment != "" {
			fmt.Fprintf(c.out, "  %s", h.Comment)
		}
		fmt.Fprintln(c.out)
	}
}

func (c *CLI) showWarnings() {
	warnings := api.Warnings(c.store.Current())
	if len(warnings) == 0 {
		fmt.Fprintln(c.out, "No configuration warnings")
		return
	}
	c.printWarnings(warnings)
}

func (c *CLI) printWarnings(warnings []api.WarningInfo) {
	WriteWarnings(c.out, warnings)
}

// WriteWarnings prints configuration warnings.
func WriteWarnings(w io.Writer, warnings []api.WarningInfo) {
	for _, wn := range warnings {
		fmt.Fprintf(w, "warning: %s filter %d: %s\n", wn.Location, wn.Index, wn.Message)
	}
}

// testFlowFilter evaluates a packet described by keyword/value pairs:
//
//	test flow-filter tenant T vbridge N [interface I] [direction D] <field> <value> ...
func (c *CLI) testFlowFilter(args []string) error {
	if c.engine == nil {
		return fmt.Errorf("flow filter engine not running")
	}
	req, err := ParseTestArgs(args)
	if err != nil {
		return err
	}
	resp, err := api.Decide(c.engine, req)
	if err != nil {
		return err
	}
	WriteDecision(c.out, resp)
	return nil
}

// ParseTestArgs builds a decide request from "test flow-filter" arguments.
func ParseTestArgs(args []string) (*api.DecideRequest, error) {
	req := &api.DecideRequest{
		Location: api.LocationJSON{Direction: "input"},
		Fields:   &api.FieldsJSON{},
	}
	f := req.Fields
	for i := 0; i < len(args); i += 2 {
		key := args[i]
		if i+1 >= len(args) {
			return nil, fmt.Errorf("%s: missing value", key)
		}
		v := args[i+1]
		var err error
		switch key {
		case "tenant":
			req.Location.Tenant = v
		case "vbridge", "vterminal":
			req.Location.NodeType, req.Location.Node = key, v
		case "interface":
			req.Location.Interface = v
		case "direction":
			req.Location.Direction = v
		case "src-mac":
			f.SrcMAC = v
		case "dst-mac":
			f.DstMAC = v
		case "src-ip":
			f.SrcIP = v
		case "dst-ip":
			f.DstIP = v
		case "vlan":
			var id uint64
			if id, err = strconv.ParseUint(v, 10, 12); err == nil {
				f.Vlans = append(f.Vlans, api.VlanJSON{TPID: flow.TPIDCTag, ID: uint16(id)})
			}
		case "vlan-priority":
			if len(f.Vlans) == 0 {
				return nil, fmt.Errorf("vlan-priority: no vlan given")
			}
			var pcp uint64
			if pcp, err = strconv.ParseUint(v, 10, 3); err == nil {
				f.Vlans[len(f.Vlans)-1].PCP = uint8(pcp)
			}
		case "ether-type":
			f.EtherType, err = parseNamed16(v, map[string]uint16{
				"ipv4": flow.EtherTypeIPv4, "ipv6": flow.EtherTypeIPv6, "arp": flow.EtherTypeARP,
			})
		case "protocol":
			var p uint16
			p, err = parseNamed16(v, map[string]uint16{
				"tcp": uint16(flow.ProtoTCP), "udp": uint16(flow.ProtoUDP), "icmp": uint16(flow.ProtoICMP),
			})
			if err == nil && p > 255 {
				err = fmt.Errorf("out of range")
			}
			f.Protocol = uint8(p)
		case "dscp":
			f.DSCP, err = parseUint8(v, 63)
		case "icmp-type":
			f.ICMPType, err = parseUint8(v, 255)
		case "icmp-code":
			f.ICMPCode, err = parseUint8(v, 255)
		case "src-port":
			f.SrcPort, err = parseNamed16(v, nil)
		case "dst-port":
			f.DstPort, err = parseNamed16(v, nil)
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
		if err != nil {
			return nil, fmt.Errorf("%s %s: %v", key, v, err)
		}
	}
	if req.Location.Tenant == "" || req.Location.Node == "" {
		return nil, fmt.Errorf("tenant and vbridge or vterminal are required")
	}
	return req, nil
}

func parseNamed16(v string, names map[string]uint16) (uint16, error) {
	if n, ok := names[strings.ToLower(v)]; ok {
		return n, nil
	}
	n, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid number")
	}
	return uint16(n), nil
}

func parseUint8(v string, max uint64) (uint8, error) {
	n, err := strconv.ParseUint(v, 0, 8)
	if err != nil || n > max {
		return 0, fmt.Errorf("must be 0..%d", max)
	}
	return uint8(n), nil
}

// WriteDecision prints the outcome of a flow filter test.
func WriteDecision(w io.Writer, d *api.DecisionResponse) {
	verdict := d.Verdict
	if d.Reason != "" {
		verdict += " (" + d.Reason + ")"
	}
	fmt.Fprintf(w, "Verdict: %s\n", verdict)
	fmt.Fprintf(w, "Redirections: %d\n", d.Hops)
	fmt.Fprintln(w, "Path:")
	for i, p := range d.Path {
		fmt.Fprintf(w, "  %d. %s\n", i, p)
	}
	if len(d.Hits) > 0 {
		fmt.Fprintln(w, "Matched filters:")
		for _, h := range d.Hits {
			fmt.Fprintf(w, "  %s filter %d: %s\n", h.Location, h.Index, h.Verdict)
		}
	}
	if d.Verdict == "drop" {
		return
	}
	fmt.Fprintln(w, "Fields:")
	fmt.Fprintf(w, "  %s\n", formatFields(&d.Fields))
}

func formatFields(f *api.FieldsJSON) string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+" "+v)
		}
	}
	num := func(n uint64) string {
		if n == 0 {
			return ""
		}
		return strconv.FormatUint(n, 10)
	}
	add("src-mac", f.SrcMAC)
	add("dst-mac", f.DstMAC)
	for _, v := range f.Vlans {
		parts = append(parts, fmt.Sprintf("vlan %d priority %d", v.ID, v.PCP))
	}
	if f.EtherType != 0 {
		parts = append(parts, fmt.Sprintf("ether-type 0x%04x", f.EtherType))
	}
	add("src-ip", f.SrcIP)
	add("dst-ip", f.DstIP)
	add("protocol", num(uint64(f.Protocol)))
	add("dscp", num(uint64(f.DSCP)))
	add("src-port", num(uint64(f.SrcPort)))
	add("dst-port", num(uint64(f.DstPort)))
	add("icmp-type", num(uint64(f.ICMPType)))
	add("icmp-code", num(uint64(f.ICMPCode)))
	return strings.Join(parts, ", ")
}
