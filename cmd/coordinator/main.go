// Command coordinator runs the traffic-fabric coordinator: the process
// that owns the road graph, the traffic-state store, the routing table,
// and the distance-vector update procedure (C6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trafficfabric/internal/coordinator"
	"trafficfabric/internal/detector"
	"trafficfabric/internal/dv"
	"trafficfabric/internal/store"
)

var (
	configPath *string
	seedDemo   *bool
)

// TODO: per 12-factor rules these should fall back to env vars; KISS for now.
func init() {
	configPath = flag.String("config", "./config.yaml", "path to coordinator config")
	seedDemo = flag.Bool("seed", false, "seed the linear demo network on startup")
	flag.Parse()
}

func runApp() error {
	cfg := coordinator.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := coordinator.FromYaml(*configPath)
		if err != nil {
			return fmt.Errorf("load coordinator config: %w", err)
		}
		cfg = loaded
	}

	var s store.Store
	if cfg.StorePath != "" {
		sqliteStore, err := store.OpenSQLiteStore(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open sqlite store %q: %w", cfg.StorePath, err)
		}
		defer sqliteStore.Close()
		s = sqliteStore
	} else {
		s = store.NewMemStore()
	}

	det := detector.NewStubDetector(cfg.CameraRegistry())
	c := coordinator.New(s, det, cfg.CycleTime)
	c.Engine = dv.NewExclusiveEngine(&dv.Engine{Store: s, Params: cfg.DV, Now: c.Now, Logger: c.Logger})

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seedDemo {
		if err := c.SeedLinearDemoNetwork(appCtx); err != nil {
			return fmt.Errorf("seed demo network: %w", err)
		}
	}

	srv := coordinator.NewServer(cfg.ListenAddr, c, cfg.MetricsAddr)
	slog.Info("coordinator listening", "addr", cfg.ListenAddr, "metrics_addr", cfg.MetricsAddr)
	return srv.Run(appCtx, 10*time.Second)
}

func main() {
	if err := runApp(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
