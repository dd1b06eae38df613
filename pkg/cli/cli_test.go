package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/cmdtree"
	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
)

const testConfig = `flow-conditions {
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

func newTestCLI(t *testing.T) (*CLI, *bytes.Buffer) {
	t.Helper()
	store := configstore.New(filepath.Join(t.TempDir(), "vtnflow.conf"))
	if err := store.LoadText(testConfig); err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	trace := logging.NewTraceBuffer(16)
	engine := redirect.New(store, redirect.WithObserver(func(loc filter.Location, d *redirect.Decision) {
		trace.Add(logging.NewDecisionRecord(loc, d))
	}))
	c := New(store, engine, trace)
	var out bytes.Buffer
	c.SetOutput(&out)
	return c, &out
}

func run(t *testing.T, c *CLI, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	if err := c.Execute(line); err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return out.String()
}

func TestTestFlowFilter(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "redirected web traffic",
			line: "test flow-filter tenant t1 vbridge vb1 interface if1 src-ip 192.0.2.1 dst-ip 192.0.2.2 protocol tcp dst-port 80",
			want: []string{
				"Verdict: pass",
				"Redirections: 1",
				"0. t1/vbridge:vb1/if1 input",
				"1. t1/vterminal:vt1/if2 input",
				"dst-mac 00:00:5e:00:53:01",
			},
		},
		{
			name: "other traffic dropped",
			line: "test flow-filter tenant t1 vbridge vb1 interface if1 dst-ip 192.0.2.2 protocol udp dst-port 53",
			want: []string{"Verdict: drop (filter)", "filter 20: drop"},
		},
		{
			name: "no filter list",
			line: "test flow-filter tenant t1 vterminal vt1 interface if2 direction output dst-ip 192.0.2.2",
			want: []string{"Verdict: pass", "Redirections: 0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, out := newTestCLI(t)
			got := run(t, c, out, tt.line)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestParseTestArgs(t *testing.T) {
	req, err := ParseTestArgs(strings.Fields(
		"tenant t1 vterminal vt1 direction output vlan 10 vlan-priority 5 vlan 20 ether-type ipv6 protocol 58 dscp 10 src-port 0x50"))
	if err != nil {
		t.Fatal(err)
	}
	want := &api.DecideRequest{
		Location: api.LocationJSON{Tenant: "t1", NodeType: "vterminal", Node: "vt1", Direction: "output"},
		Fields: &api.FieldsJSON{
			Vlans:     []api.VlanJSON{{TPID: 0x8100, ID: 10, PCP: 5}, {TPID: 0x8100, ID: 20}},
			EtherType: 0x86dd,
			Protocol:  58,
			DSCP:      10,
			SrcPort:   80,
		},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	bad := []string{
		"tenant t1",
		"tenant t1 vbridge vb1 dscp 64",
		"tenant t1 vbridge vb1 vlan-priority 3",
		"tenant t1 vbridge vb1 vlan 4096",
		"tenant t1 vbridge vb1 color red",
		"tenant t1 vbridge",
	}
	for _, line := range bad {
		if _, err := ParseTestArgs(strings.Fields(line)); err == nil {
			t.Errorf("%q: expected error", line)
		}
	}
}

func TestShowCommands(t *testing.T) {
	c, out := newTestCLI(t)
	run(t, c, out, "test flow-filter tenant t1 vbridge vb1 interface if1 dst-ip 192.0.2.2 protocol tcp dst-port 80")

	tests := []struct {
		line string
		want []string
	}{
		{"show flow-filter", []string{"Flow filter list: t1/vbridge:vb1/if1 input", "redirect", "t1/vterminal:vt1/if2 input", "action 0: set-dl-dst 00:00:5e:00:53:01"}},
		{"show flow-filter tenant t2", []string{"No flow filters configured"}},
		{"show flow-filter statistics", []string{"Decisions:", "Redirects:", "Dropped (redirect-loop):"}},
		{"show flow-filter trace verdict pass", []string{"t1/vbridge:vb1/if1 input hops 1: pass", "path: t1/vbridge:vb1/if1 input -> t1/vterminal:vt1/if2 input"}},
		{"show flow-filter trace verdict drop", []string{"No trace records"}},
		{"show flow-conditions", []string{"Flow condition: any", "(matches all packets)", "Flow condition: web"}},
		{"show flow-conditions web", []string{"match 1"}},
		{"show configuration", []string{"vtn t1 {"}},
		{"show configuration | display set", []string{"set vtn t1 vbridge vb1"}},
		{"show system commit", []string{"Active generation: 1"}},
		{"show system warnings", []string{"No configuration warnings"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got := run(t, c, out, tt.line)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q in:\n%s", w, got)
				}
			}
		})
	}

	if err := c.Execute("show flow-conditions nope"); err == nil {
		t.Error("unknown condition: expected error")
	}
}

func TestConfigMode(t *testing.T) {
	c, out := newTestCLI(t)

	run(t, c, out, "configure")
	if !c.store.InConfigMode() {
		t.Fatal("configure did not enter configuration mode")
	}
	if p := c.prompt(); !strings.HasPrefix(p, "[edit]\n") {
		t.Errorf("prompt = %q", p)
	}

	run(t, c, out, "set system max-redirections 5")
	if got := run(t, c, out, "show | compare"); !strings.Contains(got, "+") {
		t.Errorf("compare shows no change:\n%s", got)
	}
	if got := run(t, c, out, "commit check"); !strings.Contains(got, "configuration check succeeds") {
		t.Errorf("commit check: %q", got)
	}
	if got := run(t, c, out, `commit comment "lower limit"`); !strings.Contains(got, "commit complete") {
		t.Errorf("commit: %q", got)
	}
	if got := c.store.Current().MaxRedirections(); got != 5 {
		t.Errorf("max-redirections = %d, want 5", got)
	}
	run(t, c, out, "set system max-redirections 6")
	run(t, c, out, "commit")
	if got := run(t, c, out, "run show system commit"); !strings.Contains(got, "1   ") || !strings.Contains(got, "lower limit") {
		t.Errorf("history missing comment:\n%s", got)
	}

	if err := c.Execute("set system max-redirections 0"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Execute("commit"); err == nil {
		t.Error("commit of invalid candidate succeeded")
	}
	run(t, c, out, "rollback 0")
	if got := run(t, c, out, "show | compare"); !strings.Contains(got, "[no changes]") {
		t.Errorf("rollback 0 left changes:\n%s", got)
	}

	run(t, c, out, "exit")
	if c.store.InConfigMode() {
		t.Error("exit did not leave configuration mode")
	}
	if err := c.Execute("exit"); err != ErrExit {
		t.Errorf("exit in operational mode = %v, want ErrExit", err)
	}
}

func TestLoadFile(t *testing.T) {
	c, out := newTestCLI(t)
	path := filepath.Join(t.TempDir(), "extra.conf")
	if err := os.WriteFile(path, []byte("system {\n    max-redirections 7;\n}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run(t, c, out, "configure")
	run(t, c, out, "load merge "+path)
	run(t, c, out, "commit")
	if got := c.store.Current().MaxRedirections(); got != 7 {
		t.Errorf("max-redirections = %d, want 7", got)
	}
	if len(c.store.Current().Tenants()) != 1 {
		t.Error("merge dropped existing tenants")
	}
	if err := c.Execute("load replace " + path); err == nil {
		t.Error("unknown load mode accepted")
	}
}

func TestCompletion(t *testing.T) {
	c, _ := newTestCLI(t)

	names := func(cands []cmdtree.Candidate) []string {
		var out []string
		for _, c := range cands {
			out = append(out, c.Name)
		}
		return out
	}

	tests := []struct {
		name       string
		configMode bool
		words      []string
		partial    string
		want       []string
	}{
		{name: "top level", words: nil, partial: "sh", want: []string{"show"}},
		{name: "show flow", words: []string{"show"}, partial: "flow-c", want: []string{"flow-conditions"}},
		{name: "condition names", words: []string{"show", "flow-conditions"}, partial: "w", want: []string{"web"}},
		{name: "test tenant", words: []string{"test", "flow-filter", "tenant"}, partial: "", want: []string{"t1"}},
		{name: "test after pair", words: []string{"test", "flow-filter", "tenant", "t1"}, partial: "vb", want: []string{"vbridge"}},
		{name: "test node", words: []string{"test", "flow-filter", "tenant", "t1", "vterminal"}, partial: "", want: []string{"vt1"}},
		{name: "trace verdict", words: []string{"show", "flow-filter", "trace", "verdict"}, partial: "d", want: []string{"drop"}},
		{name: "config commit", configMode: true, words: []string{"commit"}, partial: "c", want: []string{"check", "comment"}},
		{name: "config set tenant", configMode: true, words: []string{"set", "vtn"}, partial: "", want: []string{"t1"}},
		{name: "config pipe", configMode: true, words: []string{"show", "|"}, partial: "d", want: []string{"display"}},
		{name: "config run", configMode: true, words: []string{"run", "show"}, partial: "con", want: []string{"configuration"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.configMode {
				if err := c.store.EnterConfigure(); err != nil {
					t.Fatal(err)
				}
				defer c.store.ExitConfigure()
			}
			got := names(c.candidates(tt.words, tt.partial))
			if diff := cmp.Diff(tt.want, sortedCopy(got)); diff != "" {
				t.Errorf("candidates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestCompleterDo(t *testing.T) {
	c, _ := newTestCLI(t)
	cm := &completer{cli: c}

	got, n := cm.Do([]rune("show flow-f"), len("show flow-f"))
	if n != len("flow-f") || len(got) != 1 || string(got[0]) != "ilter " {
		t.Errorf("Do = %q, %d", got, n)
	}
}

func TestHelp(t *testing.T) {
	c, out := newTestCLI(t)
	got := run(t, c, out, "show ?")
	for _, w := range []string{"Possible completions:", "flow-filter", "flow-conditions"} {
		if !strings.Contains(got, w) {
			t.Errorf("missing %q in:\n%s", w, got)
		}
	}
}
