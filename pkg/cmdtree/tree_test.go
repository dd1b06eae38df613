package cmdtree

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/filter"
)

func testConfig() *config.Config {
	return &config.Config{
		Tenants: []*config.TenantConfig{{
			Name: "t1",
			Nodes: []*config.NodeConfig{
				{Kind: filter.VBridge, Name: "vb1", Interfaces: []*config.InterfaceConfig{{Name: "if1"}, {Name: "if2"}}},
				{Kind: filter.VTerminal, Name: "vt1", Interfaces: []*config.InterfaceConfig{{Name: "if1"}}},
			},
		}},
	}
}

func TestCompleteFromTree(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name    string
		words   []string
		partial string
		want    []string
	}{
		{"top level", nil, "t", []string{"test"}},
		{"show children", []string{"show"}, "s", []string{"system"}},
		{"unknown word", []string{"bogus"}, "", nil},
		{"option value", []string{"test", "flow-filter", "vbridge"}, "", []string{"vb1"}},
		{"interfaces deduplicated", []string{"test", "flow-filter", "interface"}, "", []string{"if1", "if2"}},
		{"fixed values", []string{"test", "flow-filter", "tenant", "t1", "direction"}, "", []string{"input", "output"}},
		{"options after pairs", []string{"test", "flow-filter", "tenant", "t1", "vbridge", "vb1"}, "dst-", []string{"dst-ip", "dst-mac", "dst-port"}},
		{"unknown option", []string{"test", "flow-filter", "color"}, "", nil},
		{"nested options", []string{"show", "flow-filter", "trace", "count", "5"}, "v", []string{"verdict"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompleteFromTree(OperationalTree, tt.words, tt.partial, cfg)
			if len(got) == 0 {
				got = nil
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("completions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommonPrefix(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"flow-filter"}, "flow-filter"},
		{[]string{"flow-filter", "flow-conditions"}, "flow-"},
		{[]string{"show", "test"}, ""},
	}
	for _, tt := range tests {
		if got := CommonPrefix(tt.in); got != tt.want {
			t.Errorf("CommonPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteHelp(t *testing.T) {
	var buf bytes.Buffer
	WriteHelp(&buf, HelpCandidates(ConfigTopLevel["commit"].Children))
	got := buf.String()
	if !strings.HasPrefix(got, "Possible completions:\n") {
		t.Errorf("missing header: %q", got)
	}
	if strings.Index(got, "check") > strings.Index(got, "comment") {
		t.Errorf("candidates not sorted: %q", got)
	}
	if diff := cmp.Diff([]string{"check", "comment"}, KeysFromTree(ConfigTopLevel["commit"].Children)); diff != "" {
		t.Errorf("KeysFromTree mismatch (-want +got):\n%s", diff)
	}
}
