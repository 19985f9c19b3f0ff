// Package coordinator implements the coordinator request surface (C6): the
// single process that owns the road graph, the traffic-state store, the
// routing table, and the distance-vector update procedure.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/detector"
	"trafficfabric/internal/dv"
	"trafficfabric/internal/green"
	"trafficfabric/internal/model"
	"trafficfabric/internal/routing"
	"trafficfabric/internal/store"
)

// Coordinator is the composite service behind every C6 operation.
type Coordinator struct {
	Store     store.Store
	Engine    *dv.ExclusiveEngine
	Detector  detector.Detector
	CycleTime time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *Metrics
	Events    *EventHub
}

// New builds a Coordinator from its collaborators, filling in defaults
// (wall-clock time, the default slog logger, fresh metrics and event hub)
// for the remaining fields.
func New(s store.Store, det detector.Detector, cycleTime time.Duration) *Coordinator {
	if cycleTime <= 0 {
		cycleTime = green.DefaultCycleTime
	}
	return &Coordinator{
		Store:     s,
		Engine:    dv.NewExclusiveEngine(dv.NewEngine(s)),
		Detector:  det,
		CycleTime: cycleTime,
		Now:       time.Now,
		Logger:    slog.Default(),
		Metrics:   NewMetrics(),
		Events:    NewEventHub(),
	}
}

// AddNode implements the add_node operation.
func (c *Coordinator) AddNode(ctx context.Context, n model.Node) (model.Node, error) {
	if n.NodeID == "" {
		return model.Node{}, apperrors.New(apperrors.KindBadRequest, "node_id is required")
	}
	now := c.Now()
	n.CreatedAt, n.UpdatedAt = now, now
	created, err := c.Store.CreateNode(ctx, n)
	if err != nil {
		return model.Node{}, err
	}
	c.Events.Publish("node_added", created, now)
	return created, nil
}

// AddEdge implements the add_edge operation.
func (c *Coordinator) AddEdge(ctx context.Context, e model.Edge) (model.Edge, error) {
	switch {
	case e.EdgeID == "":
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "edge_id is required")
	case e.InNodeID == "":
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "in_node_id is required")
	case e.OutNodeID == "":
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "out_node_id is required")
	case e.CameraID == "":
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "camera_id is required")
	}
	e.CreatedAt = c.Now()
	created, err := c.Store.CreateEdge(ctx, e)
	if err != nil {
		return model.Edge{}, err
	}
	c.Events.Publish("edge_added", created, e.CreatedAt)
	return created, nil
}

// AddRoutingEntry implements the add_routing_entry operation (the admin
// path for seeding or correcting individual DV rows).
func (c *Coordinator) AddRoutingEntry(ctx context.Context, e model.RoutingEntry) (model.RoutingEntry, error) {
	switch {
	case e.FromNodeID == "":
		return model.RoutingEntry{}, apperrors.New(apperrors.KindBadRequest, "from_node_id is required")
	case e.DestinationNodeID == "":
		return model.RoutingEntry{}, apperrors.New(apperrors.KindBadRequest, "destination_node_id is required")
	case e.NextHopNodeID == "":
		return model.RoutingEntry{}, apperrors.New(apperrors.KindBadRequest, "next_hop_node_id is required")
	}
	e.LastUpdated = c.Now()
	created, err := c.Store.CreateRoutingEntry(ctx, e)
	if err != nil {
		return model.RoutingEntry{}, err
	}
	return created, nil
}

// UpdateTraffic implements update_traffic: direction is inferred from
// nodeID's relationship to edgeID (§4.1).
func (c *Coordinator) UpdateTraffic(ctx context.Context, nodeID, edgeID string, patch store.MetricsPatch) (model.Edge, error) {
	return c.Store.UpdateEdgeMetricsForNode(ctx, nodeID, edgeID, patch, c.Now())
}

// GetTable implements get_table: the node's stochastic routing table, built
// fresh from its current DV rows.
type TableResult struct {
	NodeID       string        `json:"node_id"`
	RoutingTable routing.Table `json:"routing_table"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

func (c *Coordinator) GetTable(ctx context.Context, nodeID string) (TableResult, error) {
	node, err := c.Store.GetNode(ctx, nodeID)
	if err != nil {
		return TableResult{}, err
	}
	if !node.Active {
		return TableResult{}, apperrors.New(apperrors.KindNotFound, "node is inactive: "+nodeID)
	}

	table, err := routing.BuildForNode(ctx, c.Store, nodeID)
	if err != nil {
		return TableResult{}, err
	}
	return TableResult{NodeID: nodeID, RoutingTable: table, GeneratedAt: c.Now()}, nil
}

// DVUpdateTick implements dv_update_tick: one DV iteration under the
// coordinator-wide exclusive lease.
func (c *Coordinator) DVUpdateTick(ctx context.Context) (int, error) {
	applied, err := c.Engine.Tick(ctx)
	if err != nil {
		return applied, err
	}
	c.Metrics.observeDVTick(applied)
	c.Events.Publish("dv_tick", map[string]int{"updates_applied": applied}, c.Now())
	return applied, nil
}

// ImageUpload is one uploaded image bound to the outgoing edge it was
// captured for.
type ImageUpload struct {
	EdgeID string
	Image  []byte
}

// MLResult pairs an edge with the detector output computed for it.
type MLResult struct {
	EdgeID string          `json:"edge_id"`
	ML     detector.Result `json:"ml"`
}

// GreenResult is calculate_green's response shape.
type GreenResult struct {
	NodeID     string         `json:"node_id"`
	GreenTimes map[string]int `json:"green_times"`
	EdgesUsed  []string       `json:"edges_used"`
	MLResults  []MLResult     `json:"ml_results"`
}

// CalculateGreen implements the composite hot path calculate_green (§4.6):
// for each uploaded image it verifies the edge is outgoing from nodeID,
// invokes the detector, writes outgoing_traffic, accumulates a green-
// allocator state record, then runs the allocator over the batch. A
// detector failure on any image aborts the whole call — no green schedule
// is returned — but metric writes already committed for prior images in
// the batch are not rolled back (§7 policy).
func (c *Coordinator) CalculateGreen(ctx context.Context, nodeID string, uploads []ImageUpload) (GreenResult, error) {
	if len(uploads) == 0 {
		return GreenResult{NodeID: nodeID, GreenTimes: map[string]int{}, EdgesUsed: []string{}, MLResults: []MLResult{}}, nil
	}

	outgoing, err := c.Store.FindEdgesByOutNode(ctx, nodeID, true)
	if err != nil {
		return GreenResult{}, err
	}
	byID := make(map[string]model.Edge, len(outgoing))
	for _, e := range outgoing {
		byID[e.EdgeID] = e
	}

	now := c.Now()
	states := make([]green.EdgeState, 0, len(uploads))
	mlResults := make([]MLResult, 0, len(uploads))
	edgesUsed := make([]string, 0, len(uploads))

	for _, up := range uploads {
		edge, ok := byID[up.EdgeID]
		if !ok {
			return GreenResult{}, apperrors.New(apperrors.KindBadRequest, "edge is not outgoing from node "+nodeID+": "+up.EdgeID)
		}

		result, err := c.Detector.Detect(up.Image, edge.CameraID)
		if err != nil {
			c.Metrics.observeDetectorFailure()
			if _, ok := apperrors.KindOf(err); ok {
				return GreenResult{}, err
			}
			return GreenResult{}, apperrors.Wrap(apperrors.KindDetectorFailure, "detect failed for edge "+up.EdgeID, err)
		}

		// The demand computed below needs the PRIOR last_green_ts (time
		// since this edge last actually got a green phase), so it is read
		// before this image's metrics are written.
		priorLastGreenTS := edge.OutgoingTraffic.LastGreenTS

		totalVehicles := result.VehicleCounts
		queueLengthM := result.QueueLengthM
		density := result.Density
		pressure := result.Pressure
		patch := store.MetricsPatch{
			TotalVehicles: &totalVehicles,
			QueueLengthM:  &queueLengthM,
			Density:       &density,
			Pressure:      &pressure,
		}
		// calculate_green always writes outgoing_traffic regardless of
		// which side of the edge nodeID sits on (§9 design note).
		if _, err := c.Store.UpdateEdgeMetrics(ctx, up.EdgeID, model.Outgoing, patch, now); err != nil {
			return GreenResult{}, err
		}

		states = append(states, green.EdgeState{
			EdgeID:        up.EdgeID,
			TotalVehicles: totalVehicles,
			QueueLengthM:  queueLengthM,
			Pressure:      pressure,
			LastGreenTS:   priorLastGreenTS,
		})
		mlResults = append(mlResults, MLResult{EdgeID: up.EdgeID, ML: result})
		edgesUsed = append(edgesUsed, up.EdgeID)
	}

	greenTimes := green.Allocate(states, c.CycleTime, now)

	// Every edge in this batch just received its new green allocation;
	// stamp last_green_ts so the next calculate_green call measures demand
	// from this moment forward.
	nowUnix := now.Unix()
	for _, edgeID := range edgesUsed {
		patch := store.MetricsPatch{LastGreenTS: &nowUnix}
		if _, err := c.Store.UpdateEdgeMetrics(ctx, edgeID, model.Outgoing, patch, now); err != nil {
			return GreenResult{}, err
		}
	}

	c.Metrics.observeGreenComputed()
	c.Events.Publish("green_computed", map[string]any{"node_id": nodeID, "edges_used": edgesUsed}, now)

	return GreenResult{
		NodeID:     nodeID,
		GreenTimes: greenTimes,
		EdgesUsed:  edgesUsed,
		MLResults:  mlResults,
	}, nil
}
