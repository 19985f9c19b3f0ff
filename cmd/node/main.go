// Command node runs one traffic-fabric node agent: the phase scheduler and
// vehicle responder described in §4.7, polling its coordinator for routing
// tables and posting green-computation images.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trafficfabric/internal/nodeagent"
)

var configPath *string

func init() {
	configPath = flag.String("config", "./node.yaml", "path to node agent config")
	flag.Parse()
}

func runApp() error {
	cfg := nodeagent.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := nodeagent.FromYaml(*configPath)
		if err != nil {
			return fmt.Errorf("load node config: %w", err)
		}
		cfg = loaded
	}
	if cfg.NodeID == "" {
		return fmt.Errorf("node config %q: node_id is required", *configPath)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := nodeagent.New(cfg)
	slog.Info("node agent listening", "node_id", cfg.NodeID, "addr", cfg.ListenAddr)
	return agent.Run(appCtx)
}

func main() {
	if err := runApp(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
