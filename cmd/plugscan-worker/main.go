package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ipsix/plugscan/internal/logging"
	"github.com/ipsix/plugscan/internal/plugin"
	"github.com/ipsix/plugscan/internal/worker"
)

// Invoked by the host as: plugscan-worker <coordinator-uuid> <protocol> <arch>.
// stdout carries the IPC channel, so logs go to stderr where the host
// streams them into its own log.
func main() {
	if len(os.Args) != 4 {
		_, _ = os.Stderr.WriteString("usage: plugscan-worker <coordinator-uuid> <protocol> <arch>\n")
		os.Exit(2)
	}
	coordinatorID, protocolToken, arch := os.Args[1], os.Args[2], os.Args[3]

	logger, err := logging.NewWithOptions(logging.Options{
		Format: "text",
		Level:  envOr("PLUGSCAN_LOG_LEVEL", "info"),
		Writer: os.Stderr,
	})
	if err != nil {
		logger = logging.New("text")
	}
	logger = logger.With(logging.Field{Key: "protocol", Value: protocolToken})

	if _, err := plugin.ParseProtocol(protocolToken); err != nil {
		logger.Error("refusing to start", logging.Field{Key: "error", Value: err})
		os.Exit(2)
	}

	timeout := 30 * time.Second
	if raw := os.Getenv("PLUGSCAN_DISCOVERY_TIMEOUT"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			timeout = parsed
		}
	}
	prober := worker.NewDefaultMux(worker.Options{
		DiscoveryTool: os.Getenv(worker.DiscoveryToolEnv),
		ToolTimeout:   timeout,
		Arch:          plugin.Arch(arch),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Serve(ctx, os.Stdin, os.Stdout, coordinatorID, prober, logger); err != nil {
		logger.Error("worker exited with error", logging.Field{Key: "error", Value: err})
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
