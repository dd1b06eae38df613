// vtnd is the vtnflow daemon.
//
// It evaluates virtual-network flow filters and redirections against the
// active configuration and serves them through a Junos-style CLI, an HTTP
// API and a gRPC API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/psaab/vtnflow/pkg/daemon"
)

func main() {
	configFile := flag.String("config", "/etc/vtnflow/vtnflow.conf", "configuration file path")
	apiAddr := flag.String("api-addr", "127.0.0.1:8080", "HTTP API listen address (empty to disable)")
	grpcAddr := flag.String("grpc-addr", "127.0.0.1:50051", "gRPC API listen address (empty to disable)")
	apiKeys := flag.String("api-keys", "", "comma-separated API keys required by the HTTP API")
	noCLI := flag.Bool("no-cli", false, "run without the interactive CLI")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	var keys []string
	for _, k := range strings.Split(*apiKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	d := daemon.New(daemon.Options{
		ConfigFile: *configFile,
		APIAddr:    *apiAddr,
		GRPCAddr:   *grpcAddr,
		APIKeys:    keys,
		NoCLI:      *noCLI,
		LogHandler: handler,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "vtnd: %v\n", err)
		os.Exit(1)
	}
}
