package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/packet"
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

type testEnv struct {
	srv    *Server
	store  *configstore.Store
	engine *redirect.Engine
	trace  *logging.TraceBuffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := configstore.New(filepath.Join(t.TempDir(), "vtnflow.conf"))
	if err := store.LoadText(testConfig); err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	trace := logging.NewTraceBuffer(16)
	metrics := NewMetrics()
	engine := redirect.New(store,
		redirect.WithObserver(func(loc filter.Location, d *redirect.Decision) {
			trace.Add(logging.NewDecisionRecord(loc, d))
		}),
		redirect.WithObserver(metrics.Observe),
	)
	srv := NewServer(Config{Store: store, Engine: engine, Trace: trace, Metrics: metrics})
	return &testEnv{srv: srv, store: store, engine: engine, trace: trace}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return w, resp
}

// decodeData re-marshals resp.Data into v.
func decodeData(t *testing.T, resp Response, v any) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

var if1Input = LocationJSON{Tenant: "t1", NodeType: "vbridge", Node: "vb1", Interface: "if1", Direction: "input"}

func TestDecideHandler(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		req        DecideRequest
		wantStatus int
		verdict    string
		reason     string
		hops       int
	}{
		{
			name: "web redirected",
			req: DecideRequest{Location: if1Input, Fields: &FieldsJSON{
				DstMAC: "00:00:5e:00:53:aa", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: 80,
			}},
			wantStatus: http.StatusOK,
			verdict:    "pass",
			hops:       1,
		},
		{
			name: "ssh dropped",
			req: DecideRequest{Location: if1Input, Fields: &FieldsJSON{
				DstMAC: "00:00:5e:00:53:aa", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: 22,
			}},
			wantStatus: http.StatusOK,
			verdict:    "drop",
			reason:     "filter",
		},
		{
			name: "unknown location passes",
			req: DecideRequest{
				Location: LocationJSON{Tenant: "t9", NodeType: "vbridge", Node: "x", Direction: "output"},
				Fields:   &FieldsJSON{DstMAC: "00:00:5e:00:53:aa"},
			},
			wantStatus: http.StatusOK,
			verdict:    "pass",
		},
		{
			name:       "missing packet",
			req:        DecideRequest{Location: if1Input},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad node type",
			req: DecideRequest{
				Location: LocationJSON{Tenant: "t1", NodeType: "vrouter", Node: "x", Direction: "input"},
				Fields:   &FieldsJSON{},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad mac",
			req:        DecideRequest{Location: if1Input, Fields: &FieldsJSON{DstMAC: "zz"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, "POST", "/api/v1/decide", tt.req)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if resp.Success || resp.Error == "" {
					t.Errorf("expected error envelope, got %+v", resp)
				}
				return
			}
			var d DecisionResponse
			decodeData(t, resp, &d)
			if d.Verdict != tt.verdict || d.Reason != tt.reason || d.Hops != tt.hops {
				t.Errorf("decision = %+v", d)
			}
		})
	}
}

func TestDecideRedirectFields(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, "POST", "/api/v1/decide", DecideRequest{Location: if1Input, Fields: &FieldsJSON{
		DstMAC: "00:00:5e:00:53:aa", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: 80,
	}})
	var d DecisionResponse
	decodeData(t, resp, &d)

	want := DecisionResponse{
		Verdict: "pass",
		Hops:    1,
		Path:    []string{"t1/vbridge:vb1/if1 input", "t1/vterminal:vt1/if2 input"},
		Hits:    []HitJSON{{Location: "t1/vbridge:vb1/if1 input", Index: 10, Verdict: "redirect"}},
		Fields: FieldsJSON{
			DstMAC: "00:00:5e:00:53:01", EtherType: 0x0800,
			SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: 80,
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}

	if env.trace.Len() != 1 {
		t.Errorf("trace records = %d, want 1", env.trace.Len())
	}
}

func TestDecideFrame(t *testing.T) {
	env := newTestEnv(t)

	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x5e, 0x00, 0x53, 0x10},
		DstMAC:       net.HardwareAddr{0x00, 0x00, 0x5e, 0x00, 0x53, 0xaa},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{192, 0, 2, 1}, DstIP: net.IP{192, 0, 2, 2},
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
		t.Fatal(err)
	}

	w, resp := env.do(t, "POST", "/api/v1/decide", DecideRequest{
		Location: if1Input,
		Frame:    hex.EncodeToString(buf.Bytes()),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var d DecisionResponse
	decodeData(t, resp, &d)
	if d.Frame == "" {
		t.Fatal("no rewritten frame in response")
	}
	out, err := hex.DecodeString(d.Frame)
	if err != nil {
		t.Fatal(err)
	}
	f, err := packet.Decode(out)
	if err != nil {
		t.Fatalf("Decode rewritten frame: %v", err)
	}
	if got := f.DstMAC.String(); got != "00:00:5e:00:53:01" {
		t.Errorf("rewritten dst mac = %s", got)
	}
	if f.DstPort != 80 || f.SrcPort != 40000 {
		t.Errorf("ports = %d/%d", f.SrcPort, f.DstPort)
	}
}

func TestFiltersHandler(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/decide", DecideRequest{Location: if1Input, Fields: &FieldsJSON{DstMAC: "00:00:5e:00:53:aa"}})

	_, resp := env.do(t, "GET", "/api/v1/filters", nil)
	var lists []FilterListInfo
	decodeData(t, resp, &lists)
	if len(lists) != 1 {
		t.Fatalf("lists = %+v", lists)
	}
	want := []FilterInfo{
		{
			Index: 10, Condition: "web", Type: "redirect",
			Destination: "t1/vterminal:vt1/if2", Direction: "input",
			Actions: []ActionInfo{{Order: 0, Kind: "set-dl-dst", Value: "00:00:5e:00:53:01"}},
			Valid:   true,
		},
		{Index: 20, Condition: "any", Type: "drop", Valid: true, Hits: 1},
	}
	if diff := cmp.Diff(want, lists[0].Filters); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}

	_, resp = env.do(t, "GET", "/api/v1/filters?tenant=other", nil)
	decodeData(t, resp, &lists)
	if len(lists) != 0 {
		t.Errorf("tenant filter returned %+v", lists)
	}
}

func TestStatusHandler(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, "GET", "/api/v1/status", nil)
	var st StatusResponse
	decodeData(t, resp, &st)
	if !st.ConfigLoaded || st.Generation != 1 || st.TenantCount != 1 || st.FilterListCount != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.MaxRedirections != 100 {
		t.Errorf("max redirections = %d", st.MaxRedirections)
	}
}

func TestConditionsHandler(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, "GET", "/api/v1/conditions", nil)
	var conds []ConditionInfo
	decodeData(t, resp, &conds)
	if len(conds) != 2 || conds[0].Name != "any" || conds[1].Name != "web" {
		t.Fatalf("conditions = %+v", conds)
	}
	if len(conds[1].Matches) != 1 || !strings.Contains(conds[1].Matches[0], "match 1") {
		t.Errorf("web matches = %v", conds[1].Matches)
	}
}

func TestTraceHandler(t *testing.T) {
	env := newTestEnv(t)
	for _, port := range []uint16{80, 22, 22} {
		env.do(t, "POST", "/api/v1/decide", DecideRequest{Location: if1Input, Fields: &FieldsJSON{
			DstMAC: "00:00:5e:00:53:aa", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: port,
		}})
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?verdict=drop", 2},
		{"?verdict=drop&limit=1", 1},
		{"?tenant=t2", 0},
	}
	for _, tt := range tests {
		_, resp := env.do(t, "GET", "/api/v1/trace"+tt.query, nil)
		var recs []logging.TraceRecord
		decodeData(t, resp, &recs)
		if len(recs) != tt.want {
			t.Errorf("trace%s = %d records, want %d", tt.query, len(recs), tt.want)
		}
	}
}

func TestConfigWorkflow(t *testing.T) {
	env := newTestEnv(t)

	if w, _ := env.do(t, "POST", "/api/v1/config/set", ConfigSetRequest{Input: "system max-redirections 5"}); w.Code != http.StatusBadRequest {
		t.Errorf("set outside config mode: status %d", w.Code)
	}
	if w, _ := env.do(t, "POST", "/api/v1/config/enter", nil); w.Code != http.StatusOK {
		t.Fatalf("enter: %d", w.Code)
	}
	if w, _ := env.do(t, "POST", "/api/v1/config/enter", nil); w.Code != http.StatusConflict {
		t.Errorf("second enter: %d", w.Code)
	}
	if w, resp := env.do(t, "POST", "/api/v1/config/set", ConfigSetRequest{Input: "system max-redirections 5"}); w.Code != http.StatusOK {
		t.Fatalf("set: %d %s", w.Code, resp.Error)
	}

	_, resp := env.do(t, "GET", "/api/v1/config/compare", nil)
	var out struct {
		Output string `json:"output"`
	}
	decodeData(t, resp, &out)
	if !strings.Contains(out.Output, "+ set system max-redirections 5") {
		t.Errorf("compare = %q", out.Output)
	}

	_, resp = env.do(t, "POST", "/api/v1/config/commit-check", nil)
	if !resp.Success {
		t.Fatalf("commit check: %s", resp.Error)
	}
	_, resp = env.do(t, "POST", "/api/v1/config/commit", ConfigCommitRequest{Comment: "lower limit"})
	if !resp.Success {
		t.Fatalf("commit: %s", resp.Error)
	}
	var cr CommitResult
	decodeData(t, resp, &cr)
	if cr.Generation != 2 {
		t.Errorf("generation = %d, want 2", cr.Generation)
	}
	if got := env.store.Current().MaxRedirections(); got != 5 {
		t.Errorf("active max-redirections = %d", got)
	}

	_, resp = env.do(t, "GET", "/api/v1/config/history", nil)
	var hist []HistoryEntry
	decodeData(t, resp, &hist)
	if len(hist) != 1 || hist[0].Index != 1 {
		t.Errorf("history = %+v", hist)
	}

	if w, resp := env.do(t, "POST", "/api/v1/config/rollback", ConfigRollbackRequest{N: 1}); w.Code != http.StatusOK {
		t.Fatalf("rollback: %s", resp.Error)
	}
	env.do(t, "POST", "/api/v1/config/commit", nil)
	if got := env.store.Current().MaxRedirections(); got != 100 {
		t.Errorf("max-redirections after rollback = %d", got)
	}
	env.do(t, "POST", "/api/v1/config/exit", nil)
	if env.store.InConfigMode() {
		t.Error("still in config mode after exit")
	}
}

func TestConfigCommitRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/config/enter", nil)
	env.do(t, "POST", "/api/v1/config/set", ConfigSetRequest{Input: "system max-redirections 5000"})
	w, resp := env.do(t, "POST", "/api/v1/config/commit", nil)
	if w.Code != http.StatusBadRequest || resp.Success {
		t.Fatalf("commit of invalid config: %d %+v", w.Code, resp)
	}
	if env.store.Current().Generation() != 1 {
		t.Error("failed commit changed the active snapshot")
	}
}

func TestConfigExportHandler(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		format     string
		wantStatus int
		contains   string
	}{
		{"set", 200, "set vtn t1"},
		{"text", 200, "vtn t1 {"},
		{"json", 200, "{"},
		{"", 200, "set flow-conditions"}, // default is set
		{"yaml", 400, "unsupported format"},
	}

	for _, tt := range tests {
		t.Run("format="+tt.format, func(t *testing.T) {
			path := "/api/v1/config/export"
			if tt.format != "" {
				path += "?format=" + tt.format
			}
			w, resp := env.do(t, "GET", path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var out struct {
				Output string `json:"output"`
			}
			decodeData(t, resp, &out)
			checkStr := out.Output
			if tt.wantStatus != 200 {
				checkStr = resp.Error
			}
			if !strings.Contains(checkStr, tt.contains) {
				t.Errorf("response %q does not contain %q", checkStr, tt.contains)
			}
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/v1/decide", DecideRequest{Location: if1Input, Fields: &FieldsJSON{
		DstMAC: "00:00:5e:00:53:aa", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 6, DstPort: 80,
	}})

	w, _ := env.do(t, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`vtnflow_decisions_total{verdict="pass"} 1`,
		`vtnflow_redirects_total 1`,
		`vtnflow_filter_hits_total{index="10",location="t1/vbridge:vb1/if1 input",tenant="t1"} 1`,
		`vtnflow_config_generation 1`,
		`vtnflow_filters{state="valid"} 2`,
		`vtnflow_redirect_hops_count 1`,
		`vtnflow_trace_records 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
