// Package daemon implements the vtnflow daemon lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/psaab/vtnflow/pkg/api"
	"github.com/psaab/vtnflow/pkg/cli"
	"github.com/psaab/vtnflow/pkg/config"
	"github.com/psaab/vtnflow/pkg/configstore"
	"github.com/psaab/vtnflow/pkg/filter"
	"github.com/psaab/vtnflow/pkg/grpcapi"
	"github.com/psaab/vtnflow/pkg/logging"
	"github.com/psaab/vtnflow/pkg/redirect"
	"github.com/psaab/vtnflow/pkg/vtn"
)

// Options configures the daemon.
type Options struct {
	ConfigFile string
	APIAddr    string // empty disables the HTTP API
	GRPCAddr   string // empty disables the gRPC API
	APIKeys    []string
	NoCLI      bool // run headless, without the interactive shell

	// LogHandler receives daemon log records; nil logs text to stderr.
	LogHandler slog.Handler
}

// Daemon is the main vtnflow daemon.
type Daemon struct {
	opts    Options
	store   *configstore.Store
	trace   *logging.TraceBuffer
	metrics *api.Metrics
	engine  *redirect.Engine

	traceMu     sync.Mutex
	traceWriter *logging.TraceWriter
	traceSub    *logging.Subscription
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = "/etc/vtnflow/vtnflow.conf"
	}

	d := &Daemon{
		opts:    opts,
		store:   configstore.New(opts.ConfigFile),
		trace:   logging.NewTraceBuffer(config.DefaultTraceBufferSize),
		metrics: api.NewMetrics(),
	}
	d.engine = redirect.New(d.store,
		redirect.WithObserver(func(loc filter.Location, dec *redirect.Decision) {
			d.trace.Add(logging.NewDecisionRecord(loc, dec))
		}),
		redirect.WithObserver(d.metrics.Observe),
	)
	d.store.OnCommit(d.applySnapshot)
	return d
}

// Engine returns the decision engine driven by the active configuration.
func (d *Daemon) Engine() *redirect.Engine { return d.engine }

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	// Log records also land in the trace buffer for "show flow-filter trace".
	base := d.opts.LogHandler
	if base == nil {
		base = slog.NewTextHandler(os.Stderr, nil)
	}
	prev := slog.Default()
	slog.SetDefault(slog.New(logging.NewTraceHandler(base, d.trace, slog.LevelInfo)))
	defer slog.SetDefault(prev)

	slog.Info("starting vtnflow daemon",
		"config", d.opts.ConfigFile,
		"pid", os.Getpid())

	if err := d.store.Load(); err != nil {
		slog.Warn("failed to load config, starting with empty config",
			"err", err)
	} else {
		slog.Info("configuration loaded", "file", d.opts.ConfigFile,
			"generation", d.store.Current().Generation())
	}
	d.applySnapshot(d.store.Current())
	defer d.closeTraceWriter()

	ctx, stop := signal.NotifyContext(ctx, unix.SIGTERM, unix.SIGINT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if d.opts.APIAddr != "" {
		var auth *api.AuthConfig
		if len(d.opts.APIKeys) > 0 {
			auth = &api.AuthConfig{APIKeys: make(map[string]bool)}
			for _, k := range d.opts.APIKeys {
				auth.APIKeys[k] = true
			}
		}
		srv := api.NewServer(api.Config{
			Addr:    d.opts.APIAddr,
			Auth:    auth,
			Store:   d.store,
			Engine:  d.engine,
			Trace:   d.trace,
			Metrics: d.metrics,
		})
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("HTTP API: %w", err)
			}
			return nil
		})
	}

	if d.opts.GRPCAddr != "" {
		srv := grpcapi.NewServer(d.opts.GRPCAddr, grpcapi.Config{
			Store:  d.store,
			Engine: d.engine,
			Trace:  d.trace,
		})
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("gRPC API: %w", err)
			}
			return nil
		})
	}

	if !d.opts.NoCLI {
		shell := cli.New(d.store, d.engine, d.trace)
		// The shell blocks on stdin; it does not observe gctx.
		go func() {
			err := shell.Run()
			if err != nil {
				slog.Error("CLI failed", "err", err)
			}
			stop()
		}()
	}

	err := g.Wait()
	if ctx.Err() != nil && err == nil {
		slog.Info("shutting down")
	}

	st := d.engine.Stats()
	slog.Info("final statistics",
		"decisions", st.Decisions,
		"passed", st.Passed,
		"redirects", st.Redirects,
		"dropped", st.Dropped[redirect.ReasonFilter]+st.Dropped[redirect.ReasonLoop]+st.Dropped[redirect.ReasonUnresolved])
	slog.Info("shutdown complete")
	return err
}

// applySnapshot adjusts runtime state that follows the configuration:
// the trace buffer size and the trace file.
func (d *Daemon) applySnapshot(snap *vtn.Snapshot) {
	if n := snap.TraceBufferSize(); n > 0 && n != d.trace.Size() {
		d.trace.Resize(n)
		slog.Debug("trace buffer resized", "size", n)
	}
	var opts *config.Traceoptions
	if cfg := d.store.ActiveConfig(); cfg != nil {
		opts = cfg.System.Traceoptions
	}
	d.applyTraceoptions(opts)
}

// applyTraceoptions replaces the trace file writer. nil opts disables it.
func (d *Daemon) applyTraceoptions(opts *config.Traceoptions) {
	d.traceMu.Lock()
	defer d.traceMu.Unlock()

	d.closeTraceWriterLocked()
	if opts == nil || opts.File == "" {
		return
	}
	tw, err := logging.NewTraceWriter(opts)
	if err != nil {
		slog.Warn("failed to open trace file", "file", opts.File, "err", err)
		return
	}
	sub := d.trace.Subscribe(256)
	go tw.Run(sub)
	d.traceWriter, d.traceSub = tw, sub
	slog.Info("trace file configured", "path", tw.Path(), "flags", opts.Flags)
}

func (d *Daemon) closeTraceWriter() {
	d.traceMu.Lock()
	defer d.traceMu.Unlock()
	d.closeTraceWriterLocked()
}

func (d *Daemon) closeTraceWriterLocked() {
	if d.traceSub != nil {
		d.traceSub.Close()
		d.traceSub = nil
	}
	if d.traceWriter != nil {
		d.traceWriter.Close()
		d.traceWriter = nil
	}
}
