// Package grpcapi implements the gRPC API server for vtnflow.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
	"github.com/psaab/vtnflow/pkg/vtn"
)

// Config configures the gRPC server.
type Config struct {
	Store  *configstore.Store
	Engine *redirect.Engine
	Trace  *logging.TraceBuffer
}

// Server implements FlowFilterService.
type Server struct {
	store     *configstore.Store
	engine    *redirect.Engine
	trace     *logging.TraceBuffer
	health    *health.Server
	startTime time.Time
	addr      string
}

var _ FlowFilterServiceServer = (*Server)(nil)

// NewServer creates a new gRPC server.
func NewServer(addr string, cfg Config) *Server {
	return &Server{
		store:     cfg.Store,
		engine:    cfg.Engine,
		trace:     cfg.Trace,
		health:    health.NewServer(),
		startTime: time.Now(),
		addr:      addr,
	}
}

// Register adds the flow filter and health services to srv.
func (s *Server) Register(srv grpc.ServiceRegistrar) {
	RegisterFlowFilterServiceServer(srv, s)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, s.health)
}

// Run starts the gRPC server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}

	srv := grpc.NewServer()
	s.Register(srv)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gRPC server listening", "addr", s.addr)
		if err := srv.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	srv.GracefulStop()
	return nil
}

// ShowFiltersRequest selects filter lists. An empty Tenant selects all.
type ShowFiltersRequest struct {
	Tenant string `json:"tenant,omitempty"`
}

// ShowTraceRequest selects trace records, newest first.
type ShowTraceRequest struct {
	Limit   int    `json:"limit,omitempty"`
	Type    string `json:"type,omitempty"`
	Tenant  string `json:"tenant,omitempty"`
	Verdict string `json:"verdict,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CommitRequest applies "set"/"delete" commands to a fresh candidate and
// commits it, or only checks it when Check is true.
type CommitRequest struct {
	Commands []string `json:"commands"`
	Comment  string   `json:"comment,omitempty"`
	Check    bool     `json:"check,omitempty"`
}

func (s *Server) Decide(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.Unavailable, "engine not available")
	}
	var req api.DecideRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	resp, err := api.Decide(s.engine, &req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return encode(resp)
}

func (s *Server) ShowFilters(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ShowFiltersRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	var hits map[redirect.Hit]uint64
	if s.engine != nil {
		hits = s.engine.Stats().FilterHits
	}
	return encode(map[string]any{
		"lists": api.FilterLists(s.store.Current(), req.Tenant, hits),
	})
}

func (s *Server) ShowTrace(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.trace == nil {
		return nil, status.Error(codes.Unavailable, "trace buffer not available")
	}
	var req ShowTraceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	recs := s.trace.LatestFiltered(req.Limit, logging.TraceFilter{
		Type:    req.Type,
		Tenant:  req.Tenant,
		Verdict: req.Verdict,
		Reason:  req.Reason,
	})
	if recs == nil {
		recs = []logging.TraceRecord{}
	}
	return encode(map[string]any{"records": recs})
}

func (s *Server) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap := s.store.Current()
	resp := api.StatusResponse{
		Uptime:          time.Since(s.startTime).Truncate(time.Second).String(),
		ConfigLoaded:    s.store.ActiveConfig() != nil,
		Generation:      snap.Generation(),
		TenantCount:     len(snap.Tenants()),
		FilterListCount: len(snap.Lists()),
		WarningCount:    len(snap.Warnings()),
		MaxRedirections: snap.MaxRedirections(),
	}
	if s.engine != nil {
		resp.Decisions = s.engine.Stats().Decisions
	}
	return encode(resp)
}

func (s *Server) Commit(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CommitRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.store.EnterConfigure(); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}
	defer s.store.ExitConfigure()

	for _, line := range req.Commands {
		if err := s.apply(line); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%s: %v", line, err)
		}
	}

	var (
		snap *vtn.Snapshot
		err  error
	)
	if req.Check {
		snap, err = s.store.CommitCheck()
	} else {
		snap, err = s.store.Commit(req.Comment)
	}
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}
	return encode(api.CommitResult{Generation: snap.Generation(), Warnings: api.Warnings(snap)})
}

func (s *Server) apply(line string) error {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "set "); ok {
		return s.store.SetFromInput(rest)
	}
	if rest, ok := strings.CutPrefix(line, "delete "); ok {
		return s.store.DeleteFromInput(rest)
	}
	return fmt.Errorf("expected set or delete command")
}

// encode converts a JSON-serializable value to a Struct.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// decode fills v from a Struct. A nil Struct leaves v unchanged.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

// Decode fills v from a Struct returned by the service.
func Decode(in *structpb.Struct, v any) error { return decode(in, v) }

// Encode converts a request value to a Struct.
func Encode(v any) (*structpb.Struct, error) { return encode(v) }
