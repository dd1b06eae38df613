package grpcapi

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
)

const testConfig = `flow-conditions {
    condition any;
}
vtn t1 {
    vbridge vb1 {
        interface if1 {
            flow-filter input {
                filter 1 {
                    condition any;
                    redirect {
                        destination vbridge vb1 interface if2;
                        direction output;
                    }
                    action {
                        set-inet-dscp 46;
                    }
                }
            }
        }
        interface if2;
    }
}
`

type testEnv struct {
	client *Client
	conn   *grpc.ClientConn
	store  *configstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := configstore.New(filepath.Join(t.TempDir(), "vtnflow.conf"))
	if err := store.LoadText(testConfig); err != nil {
		t.Fatalf("LoadText: %v", err)
	}
	trace := logging.NewTraceBuffer(16)
	engine := redirect.New(store, redirect.WithObserver(func(loc filter.Location, d *redirect.Decision) {
		trace.Add(logging.NewDecisionRecord(loc, d))
	}))

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	NewServer("", Config{Store: store, Engine: engine, Trace: trace}).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testEnv{client: NewClient(conn), conn: conn, store: store}
}

func mustEncode(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDecide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := api.DecideRequest{
		Location: api.LocationJSON{Tenant: "t1", NodeType: "vbridge", Node: "vb1", Interface: "if1", Direction: "input"},
		Fields:   &api.FieldsJSON{DstMAC: "00:00:5e:00:53:01", SrcIP: "192.0.2.1", DstIP: "192.0.2.2", Protocol: 17, DstPort: 53},
	}
	out, err := env.client.Decide(ctx, mustEncode(t, req))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	var d api.DecisionResponse
	if err := Decode(out, &d); err != nil {
		t.Fatal(err)
	}
	want := []string{"t1/vbridge:vb1/if1 input", "t1/vbridge:vb1/if2 output"}
	if diff := cmp.Diff(want, d.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if d.Verdict != "pass" || d.Hops != 1 || d.Fields.DSCP != 46 {
		t.Errorf("decision = %+v", d)
	}

	// Invalid location.
	req.Location.NodeType = "vrouter"
	_, err = env.client.Decide(ctx, mustEncode(t, req))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad location: got %v, want InvalidArgument", err)
	}
}

func TestShowFiltersAndTrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.client.ShowFilters(ctx, mustEncode(t, ShowFiltersRequest{Tenant: "t1"}))
	if err != nil {
		t.Fatalf("ShowFilters: %v", err)
	}
	var resp struct {
		Lists []api.FilterListInfo `json:"lists"`
	}
	if err := Decode(out, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Lists) != 1 || len(resp.Lists[0].Filters) != 1 {
		t.Fatalf("lists = %+v", resp.Lists)
	}
	f := resp.Lists[0].Filters[0]
	if f.Type != "redirect" || f.Destination != "t1/vbridge:vb1/if2" || f.Direction != "output" {
		t.Errorf("filter = %+v", f)
	}

	env.client.Decide(ctx, mustEncode(t, api.DecideRequest{
		Location: api.LocationJSON{Tenant: "t1", NodeType: "vbridge", Node: "vb1", Interface: "if1", Direction: "input"},
		Fields:   &api.FieldsJSON{DstMAC: "00:00:5e:00:53:01"},
	}))
	out, err = env.client.ShowTrace(ctx, mustEncode(t, ShowTraceRequest{Verdict: "pass"}))
	if err != nil {
		t.Fatalf("ShowTrace: %v", err)
	}
	var tr struct {
		Records []logging.TraceRecord `json:"records"`
	}
	if err := Decode(out, &tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Records) != 1 || tr.Records[0].Hops != 1 {
		t.Errorf("trace = %+v", tr.Records)
	}
}

func TestCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      CommitRequest
		wantCode codes.Code
		wantGen  uint64
	}{
		{
			name:    "check only",
			req:     CommitRequest{Commands: []string{"set system max-redirections 3"}, Check: true},
			wantGen: 0,
		},
		{
			name:    "commit",
			req:     CommitRequest{Commands: []string{"set system max-redirections 3"}, Comment: "limit"},
			wantGen: 2,
		},
		{
			name:     "not a command",
			req:      CommitRequest{Commands: []string{"show configuration"}},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "compile error",
			req:      CommitRequest{Commands: []string{"set system max-redirections 0"}},
			wantCode: codes.FailedPrecondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.client.Commit(ctx, mustEncode(t, tt.req))
			if status.Code(err) != tt.wantCode {
				t.Fatalf("Commit: %v, want code %v", err, tt.wantCode)
			}
			if err != nil {
				return
			}
			var res api.CommitResult
			if err := Decode(out, &res); err != nil {
				t.Fatal(err)
			}
			if res.Generation != tt.wantGen {
				t.Errorf("generation = %d, want %d", res.Generation, tt.wantGen)
			}
		})
	}
	if got := env.store.Current().MaxRedirections(); got != 3 {
		t.Errorf("max-redirections = %d, want 3", got)
	}
	if env.store.InConfigMode() {
		t.Error("Commit left the store in configuration mode")
	}
}

func TestStatusAndHealth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.client.Status(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	var st api.StatusResponse
	if err := Decode(out, &st); err != nil {
		t.Fatal(err)
	}
	if st.Generation != 1 || st.TenantCount != 1 {
		t.Errorf("status = %+v", st)
	}

	hc, err := healthpb.NewHealthClient(env.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if hc.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %v", hc.Status)
	}
}
