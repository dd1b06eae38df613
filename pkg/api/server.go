package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
)

// Config configures the API server.
type Config struct {
	Addr    string
	Auth    *AuthConfig // nil = no authentication
	Store   *configstore.Store
	Engine  *redirect.Engine
	Trace   *logging.TraceBuffer
	Metrics *Metrics // optional decision instruments
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	store      *configstore.Store
	engine     *redirect.Engine
	trace      *logging.TraceBuffer
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		store:     cfg.Store,
		engine:    cfg.Engine,
		trace:     cfg.Trace,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health + metrics
	mux.HandleFunc("GET /health", s.healthHandler)

	// Prometheus metrics with isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	if cfg.Metrics != nil {
		registry.MustRegister(cfg.Metrics.hops)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// REST API v1
	mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	mux.HandleFunc("GET /api/v1/filters", s.filtersHandler)
	mux.HandleFunc("GET /api/v1/conditions", s.conditionsHandler)
	mux.HandleFunc("GET /api/v1/warnings", s.warningsHandler)
	mux.HandleFunc("GET /api/v1/trace", s.traceHandler)
	mux.HandleFunc("POST /api/v1/decide", s.decideHandler)

	// Config management
	mux.HandleFunc("GET /api/v1/config", s.configHandler)
	mux.HandleFunc("POST /api/v1/config/enter", s.configEnterHandler)
	mux.HandleFunc("POST /api/v1/config/exit", s.configExitHandler)
	mux.HandleFunc("GET /api/v1/config/status", s.configStatusHandler)
	mux.HandleFunc("POST /api/v1/config/set", s.configSetHandler)
	mux.HandleFunc("POST /api/v1/config/delete", s.configDeleteHandler)
	mux.HandleFunc("POST /api/v1/config/load", s.configLoadHandler)
	mux.HandleFunc("POST /api/v1/config/commit", s.configCommitHandler)
	mux.HandleFunc("POST /api/v1/config/commit-check", s.configCommitCheckHandler)
	mux.HandleFunc("POST /api/v1/config/rollback", s.configRollbackHandler)
	mux.HandleFunc("GET /api/v1/config/show", s.configShowHandler)
	mux.HandleFunc("GET /api/v1/config/export", s.configExportHandler)
	mux.HandleFunc("GET /api/v1/config/compare", s.configCompareHandler)
	mux.HandleFunc("GET /api/v1/config/history", s.configHistoryHandler)

	// SSE streaming
	mux.HandleFunc("GET /api/v1/trace/stream", s.traceStreamHandler)

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = authMiddleware(*cfg.Auth, mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, including authentication.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
