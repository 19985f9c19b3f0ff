package nodeagent

import (
	"context"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// tableRefreshInterval bounds how stale the cached routing table can get
// between dv_update_tick-triggered recomputations upstream; the cache is
// refreshed on startup and periodically thereafter, always by full
// pointer-swap replacement (§5).
const tableRefreshInterval = 30 * time.Second

// Agent is one node's runtime: a routing-table cache, the phase scheduler,
// and the vehicle responder, run as concurrent activities in the same
// process (§4.7, §5).
type Agent struct {
	Config      Config
	Coordinator *CoordinatorClient
	Cache       *TableCache
	Scheduler   *PhaseScheduler
	Responder   *VehicleResponder
	Logger      *slog.Logger
}

// New builds an Agent from cfg, wiring the coordinator client, table cache,
// phase scheduler, and vehicle responder together.
func New(cfg Config) *Agent {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	client := NewCoordinatorClient(cfg.CoordinatorBase)
	cache := NewTableCache()

	return &Agent{
		Config:      cfg,
		Coordinator: client,
		Cache:       cache,
		Logger:      logger,
		Scheduler: &PhaseScheduler{
			NodeID:          cfg.NodeID,
			Coordinator:     client,
			EdgeImages:      cfg.EdgeImages,
			RecomputeBefore: cfg.RecomputeBefore,
			TickInterval:    cfg.TickInterval,
			Logger:          logger,
		},
		Responder: &VehicleResponder{Cache: cache, Logger: logger},
	}
}

// Run fetches the initial routing table, then runs the phase scheduler, the
// vehicle responder, and periodic table refresh concurrently until ctx is
// cancelled or one of them fails. §5 notes there is no graceful shutdown
// protocol in the core spec; the errgroup here still lets a process
// supervisor stop all three activities together on ctx cancellation.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.refreshTable(ctx); err != nil {
		a.Logger.Warn("initial routing table fetch failed, starting with an empty table", "node_id", a.Config.NodeID, "err", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.Scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		return a.Responder.Serve(groupCtx, a.Config.ListenAddr)
	})
	group.Go(func() error {
		return a.refreshTableLoop(groupCtx)
	})

	return group.Wait()
}

func (a *Agent) refreshTable(ctx context.Context) error {
	table, err := a.Coordinator.GetTable(ctx, a.Config.NodeID)
	if err != nil {
		return err
	}
	a.Cache.Store(table)
	return nil
}

func (a *Agent) refreshTableLoop(ctx context.Context) error {
	ticker := time.NewTicker(tableRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.refreshTable(ctx); err != nil {
				a.Logger.Warn("routing table refresh failed, keeping cached table", "node_id", a.Config.NodeID, "err", err)
			}
		}
	}
}
