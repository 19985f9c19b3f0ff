// Package store defines the traffic-state and topology repository (C5):
// an abstract, transactional, key-indexed repository over three
// collections — nodes, edges, routing_table — modeled as a document store.
//
// Every mutation is a single-document atomic write; no cross-document
// transactions are required, and the distance-vector engine tolerates
// stale reads (§4.1).
package store

import (
	"context"
	"time"

	"trafficfabric/internal/model"
)

// MetricsPatch is a merge-patch over a TrafficMetrics record: only non-nil
// fields are applied, matching the original system's dict-merge semantics
// but with fixed, typed fields instead of a free-form map.
type MetricsPatch struct {
	TotalVehicles *int
	QueueLengthM  *float64
	Density       *float64
	Pressure      *float64
	LastGreenTS   *int64
}

// Store is the traffic-state store and topology repository. Implementations
// must be safe for concurrent use.
type Store interface {
	// CreateNode inserts a new node. Returns a Conflict error if node_id is
	// already taken.
	CreateNode(ctx context.Context, n model.Node) (model.Node, error)

	// GetNode returns a node by ID, or a NotFound error.
	GetNode(ctx context.Context, nodeID string) (model.Node, error)

	// CreateEdge inserts a new edge. Returns a Conflict error if edge_id is
	// already taken, or a BadRequest error if either endpoint node does not
	// exist or both endpoints are the same node.
	CreateEdge(ctx context.Context, e model.Edge) (model.Edge, error)

	// GetEdge returns an edge by ID, or a NotFound error.
	GetEdge(ctx context.Context, edgeID string) (model.Edge, error)

	// FindEdgesByOutNode returns the edges whose tail is nodeID. When
	// activeOnly is true, inactive edges are excluded.
	FindEdgesByOutNode(ctx context.Context, nodeID string, activeOnly bool) ([]model.Edge, error)

	// FindAllActiveEdges returns every active edge, the DV engine's working
	// set for one iteration.
	FindAllActiveEdges(ctx context.Context) ([]model.Edge, error)

	// UpdateEdgeMetrics merges patch into the named direction's metrics
	// record on edgeID and sets last_update_ts to now. Returns a NotFound
	// error if the edge is unknown.
	UpdateEdgeMetrics(ctx context.Context, edgeID string, dir model.Direction, patch MetricsPatch, now time.Time) (model.Edge, error)

	// UpdateEdgeMetricsForNode infers the direction from nodeID (outgoing if
	// nodeID is the edge's tail, incoming if its head) and otherwise behaves
	// like UpdateEdgeMetrics. Returns a NotConnected error if nodeID is
	// neither endpoint.
	UpdateEdgeMetricsForNode(ctx context.Context, nodeID, edgeID string, patch MetricsPatch, now time.Time) (model.Edge, error)

	// CreateRoutingEntry inserts a new routing entry (the admin path).
	// Returns a Conflict error if the (from,dest,next_hop) key already
	// exists.
	CreateRoutingEntry(ctx context.Context, e model.RoutingEntry) (model.RoutingEntry, error)

	// FindRoutingEntries filters by any combination of from/destination/
	// next-hop node ID; a nil pointer means "don't filter on this field".
	FindRoutingEntries(ctx context.Context, fromNodeID, destinationNodeID, nextHopNodeID *string) ([]model.RoutingEntry, error)

	// UpsertRoutingEntry writes the given key's cost, creating the entry if
	// absent and updating last_updated to now either way.
	UpsertRoutingEntry(ctx context.Context, key model.RoutingKey, cost float64, now time.Time) (created bool, err error)
}
