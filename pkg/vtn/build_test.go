package vtn

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/flow"
	"github.com/psaab/vtnflow/pkg/redirect"
)

const twoNodeConfig = `system {
    max-redirections 8;
}
flow-conditions {
    condition web {
        match 1 {
            ether-type ipv4;
            ip-protocol tcp;
            destination-port 80;
        }
    }
    condition any;
}
vtn t1 {
    vbridge vb1 {
        interface if1 {
            flow-filter input {
                filter 10 {
                    condition web;
                    redirect {
                        destination vterminal vt1 interface if2;
                        direction input;
                    }
                    action {
                        set-vlan-pcp 7;
                        set-dl-dst 00:00:5e:00:53:01;
                    }
                }
                filter 20 {
                    condition any;
                    drop;
                }
            }
        }
    }
    vterminal vt1 {
        interface if2;
    }
}
`

func build(t *testing.T, input string) *Snapshot {
	t.Helper()
	tree, errs := config.NewParser(input).Parse()
	if len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	cfg, err := config.CompileConfig(tree)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	snap, err := Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return snap
}

var (
	if1 = filter.InterfaceRef{NodeRef: filter.NodeRef{Tenant: "t1", Kind: filter.VBridge, Node: "vb1"}, Interface: "if1"}
	if2 = filter.InterfaceRef{NodeRef: filter.NodeRef{Tenant: "t1", Kind: filter.VTerminal, Node: "vt1"}, Interface: "if2"}
)

func webPacket() flow.HeaderFields {
	return flow.HeaderFields{
		SrcMAC:    flow.MAC{0x02, 0, 0, 0, 0, 1},
		DstMAC:    flow.MAC{0x02, 0, 0, 0, 0, 2},
		Vlans:     []flow.VlanTag{{TPID: flow.TPIDCTag, ID: 10}},
		EtherType: flow.EtherTypeIPv4,
		SrcIP:     netip.MustParseAddr("10.0.0.1"),
		DstIP:     netip.MustParseAddr("10.0.0.2"),
		Protocol:  flow.ProtoTCP,
		SrcPort:   40000,
		DstPort:   80,
	}
}

func TestBuild(t *testing.T) {
	snap := build(t, twoNodeConfig)

	if snap.MaxRedirections() != 8 {
		t.Errorf("MaxRedirections = %d, want 8", snap.MaxRedirections())
	}
	if snap.TraceBufferSize() != config.DefaultTraceBufferSize {
		t.Errorf("TraceBufferSize = %d", snap.TraceBufferSize())
	}
	if len(snap.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", snap.Warnings())
	}

	l := snap.FilterList(if1.At(filter.Input))
	if l.Len() != 2 {
		t.Fatalf("if1 input list has %d filters, want 2", l.Len())
	}
	f, ok := l.Get(10)
	if !ok {
		t.Fatal("filter 10 missing")
	}
	r, ok := f.Type().(filter.Redirect)
	if !ok {
		t.Fatalf("filter 10 type = %v, want redirect", f.Type())
	}
	if r.Destination != if2 || r.Direction != filter.Input {
		t.Errorf("redirect = %+v", r)
	}
	if got := len(f.Actions()); got != 2 {
		t.Errorf("filter 10 has %d actions, want 2", got)
	}

	if snap.FilterList(if2.At(filter.Input)) != nil {
		t.Error("if2 should have no input list")
	}
	if !snap.Exists(if2.At(filter.Output)) {
		t.Error("if2 should exist")
	}
	if snap.Exists(filter.InterfaceRef{NodeRef: if2.NodeRef, Interface: "nope"}.At(filter.Input)) {
		t.Error("unknown interface reported as existing")
	}

	lists := snap.Lists()
	if len(lists) != 1 || lists[0].Location != if1.At(filter.Input) {
		t.Errorf("Lists() = %+v", lists)
	}
}

func TestBuildEndToEnd(t *testing.T) {
	snap := build(t, twoNodeConfig)
	eng := redirect.New(redirect.SourceFunc(func() redirect.Snapshot { return snap }))

	d := eng.Decide(if1.At(filter.Input), filter.NewPacketContext(webPacket()))
	if d.Verdict != filter.VerdictPass {
		t.Fatalf("verdict = %s (%s), want pass", d.Verdict, d.Reason)
	}
	if d.Hops != 1 {
		t.Errorf("hops = %d, want 1", d.Hops)
	}
	wantPath := []filter.Location{if1.At(filter.Input), if2.At(filter.Input)}
	if diff := cmp.Diff(wantPath, d.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if d.Fields.VlanPCP() != 7 {
		t.Errorf("pcp = %d, want 7", d.Fields.VlanPCP())
	}
	if d.Fields.DstMAC != (flow.MAC{0x00, 0x00, 0x5e, 0x00, 0x53, 0x01}) {
		t.Errorf("dst mac = %s", d.Fields.DstMAC)
	}

	// Non-web traffic falls through to the drop filter.
	p := webPacket()
	p.DstPort = 22
	d = eng.Decide(if1.At(filter.Input), filter.NewPacketContext(p))
	if d.Verdict != filter.VerdictDrop || d.Reason != redirect.ReasonFilter {
		t.Errorf("ssh packet: verdict = %s (%s), want drop by filter", d.Verdict, d.Reason)
	}
	if d.Fields.VlanPCP() != 0 {
		t.Error("dropped packet should not be modified")
	}

	st := eng.Stats()
	if st.Decisions != 2 || st.Passed != 1 || st.Redirects != 1 || st.Dropped[redirect.ReasonFilter] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBuildDisabledDestination(t *testing.T) {
	const own = "    vterminal vt1 {\n        interface if2;"
	if !strings.Contains(twoNodeConfig, own) {
		t.Fatal("vterminal vt1 block not found in config")
	}
	input := strings.Replace(twoNodeConfig, own, "    vterminal vt1 {\n        interface if2 { disable; }", 1)
	if strings.Count(input, "disable;") != 1 || !strings.Contains(input, "destination vterminal vt1 interface if2;") {
		t.Fatalf("edited wrong line:\n%s", input)
	}
	snap := build(t, input)

	if _, ok := snap.ResolveInterface(if2); ok {
		t.Fatal("disabled interface resolved")
	}
	if _, ok := snap.Interface(if2); !ok {
		t.Fatal("disabled interface missing from snapshot")
	}
	d := redirect.New(redirect.SourceFunc(func() redirect.Snapshot { return snap })).
		Decide(if1.At(filter.Input), filter.NewPacketContext(webPacket()))
	if d.Verdict != filter.VerdictDrop || d.Reason != redirect.ReasonUnresolved {
		t.Errorf("verdict = %s (%s), want unresolved drop", d.Verdict, d.Reason)
	}
}

func TestBuildWarnings(t *testing.T) {
	snap := build(t, `flow-conditions {
    condition c;
}
vtn t1 {
    vbridge vb1 {
        interface if1 {
            flow-filter input {
                filter 1 {
                    condition missing;
                    pass;
                }
                filter 2 {
                    condition c;
                    redirect {
                        destination vbridge vb1 interface if1;
                        direction output;
                    }
                }
                filter 3 {
                    condition c;
                    redirect {
                        destination vbridge ghost interface if9;
                        direction input;
                    }
                }
                filter 4 {
                    condition c;
                    pass;
                    action {
                        set-vlan-pcp 9;
                    }
                }
            }
        }
    }
}
`)
	ws := snap.Warnings()
	byIndex := make(map[int][]Warning)
	for _, w := range ws {
		byIndex[w.Index] = append(byIndex[w.Index], w)
	}
	if len(byIndex[1]) != 1 || !strings.Contains(byIndex[1][0].Error(), `"missing" is not defined`) {
		t.Errorf("filter 1 warnings = %v", byIndex[1])
	}
	if len(byIndex[2]) == 0 || !errors.Is(byIndex[2][0], filter.ErrSelfRedirect) {
		t.Errorf("filter 2 warnings = %v", byIndex[2])
	}
	if len(byIndex[3]) == 0 || !strings.Contains(byIndex[3][0].Error(), "does not exist") {
		t.Errorf("filter 3 warnings = %v", byIndex[3])
	}
	var verr *flow.ValidationError
	if len(byIndex[4]) == 0 || !errors.As(byIndex[4][0], &verr) {
		t.Errorf("filter 4 warnings = %v", byIndex[4])
	}

	l := snap.FilterList(if1.At(filter.Input))
	if l.Len() != 4 {
		t.Fatalf("list has %d filters, want 4", l.Len())
	}
	valid := map[int]bool{1: true, 2: false, 3: true, 4: false}
	for _, f := range l.Filters() {
		if f.Valid() != valid[f.Index()] {
			t.Errorf("filter %d valid = %v, want %v", f.Index(), f.Valid(), valid[f.Index()])
		}
	}
}

func TestBuildGeneration(t *testing.T) {
	snap := build(t, twoNodeConfig)
	s2 := snap.WithGeneration(7)
	if snap.Generation() != 0 || s2.Generation() != 7 {
		t.Errorf("generations = %d, %d", snap.Generation(), s2.Generation())
	}
	if s2.FilterList(if1.At(filter.Input)) != snap.FilterList(if1.At(filter.Input)) {
		t.Error("WithGeneration should share filter lists")
	}
	if e := Empty(); len(e.Tenants()) != 0 || e.MaxRedirections() != config.DefaultMaxRedirections {
		t.Errorf("Empty() = %+v", e)
	}
}
