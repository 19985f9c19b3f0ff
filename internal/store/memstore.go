package store

import (
	"context"
	"sync"
	"time"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/model"
)

// MemStore is an in-memory Store, safe for concurrent use behind a single
// RWMutex. It is the reference implementation used by unit tests and by
// short-lived simulations; SQLiteStore is the durable implementation used
// by cmd/coordinator.
type MemStore struct {
	mu       sync.RWMutex
	nodes    map[string]model.Node
	edges    map[string]model.Edge
	routing  map[model.RoutingKey]model.RoutingEntry
	fromIdx  map[string]map[model.RoutingKey]struct{}
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:   make(map[string]model.Node),
		edges:   make(map[string]model.Edge),
		routing: make(map[model.RoutingKey]model.RoutingEntry),
		fromIdx: make(map[string]map[model.RoutingKey]struct{}),
	}
}

func (s *MemStore) CreateNode(_ context.Context, n model.Node) (model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.NodeID]; exists {
		return model.Node{}, apperrors.New(apperrors.KindConflict, "node_id already exists: "+n.NodeID)
	}
	s.nodes[n.NodeID] = n
	return n, nil
}

func (s *MemStore) GetNode(_ context.Context, nodeID string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return model.Node{}, apperrors.New(apperrors.KindNotFound, "node not found: "+nodeID)
	}
	return n, nil
}

func (s *MemStore) CreateEdge(_ context.Context, e model.Edge) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[e.EdgeID]; exists {
		return model.Edge{}, apperrors.New(apperrors.KindConflict, "edge_id already exists: "+e.EdgeID)
	}
	if _, ok := s.nodes[e.InNodeID]; !ok {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "in_node_id does not exist: "+e.InNodeID)
	}
	if _, ok := s.nodes[e.OutNodeID]; !ok {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "out_node_id does not exist: "+e.OutNodeID)
	}
	if e.InNodeID == e.OutNodeID {
		return model.Edge{}, apperrors.New(apperrors.KindBadRequest, "in_node_id must differ from out_node_id")
	}

	s.edges[e.EdgeID] = e
	return e, nil
}

func (s *MemStore) GetEdge(_ context.Context, edgeID string) (model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[edgeID]
	if !ok {
		return model.Edge{}, apperrors.New(apperrors.KindNotFound, "edge not found: "+edgeID)
	}
	return e, nil
}

func (s *MemStore) FindEdgesByOutNode(_ context.Context, nodeID string, activeOnly bool) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Edge
	for _, e := range s.edges {
		if e.OutNodeID != nodeID {
			continue
		}
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemStore) FindAllActiveEdges(_ context.Context) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Edge
	for _, e := range s.edges {
		if e.Active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateEdgeMetrics(_ context.Context, edgeID string, dir model.Direction, patch MetricsPatch, now time.Time) (model.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.edges[edgeID]
	if !ok {
		return model.Edge{}, apperrors.New(apperrors.KindNotFound, "edge not found: "+edgeID)
	}

	applyPatch(e.MetricsFor(dir), patch, now)
	s.edges[edgeID] = e
	return e, nil
}

func (s *MemStore) UpdateEdgeMetricsForNode(ctx context.Context, nodeID, edgeID string, patch MetricsPatch, now time.Time) (model.Edge, error) {
	s.mu.RLock()
	e, ok := s.edges[edgeID]
	s.mu.RUnlock()
	if !ok {
		return model.Edge{}, apperrors.New(apperrors.KindNotFound, "edge not found: "+edgeID)
	}

	dir, ok := e.DirectionFor(nodeID)
	if !ok {
		return model.Edge{}, apperrors.New(apperrors.KindNotConnected, "node "+nodeID+" is not connected to edge "+edgeID)
	}
	return s.UpdateEdgeMetrics(ctx, edgeID, dir, patch, now)
}

// applyPatch merges non-nil patch fields into m and bumps last_update_ts.
func applyPatch(m *model.TrafficMetrics, patch MetricsPatch, now time.Time) {
	if patch.TotalVehicles != nil {
		m.TotalVehicles = *patch.TotalVehicles
	}
	if patch.QueueLengthM != nil {
		m.QueueLengthM = *patch.QueueLengthM
	}
	if patch.Density != nil {
		m.Density = *patch.Density
	}
	if patch.Pressure != nil {
		m.Pressure = *patch.Pressure
	}
	if patch.LastGreenTS != nil {
		m.LastGreenTS = *patch.LastGreenTS
	}
	m.LastUpdateTS = now.Unix()
}

func (s *MemStore) CreateRoutingEntry(_ context.Context, e model.RoutingEntry) (model.RoutingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.Key()
	if _, exists := s.routing[key]; exists {
		return model.RoutingEntry{}, apperrors.New(apperrors.KindConflict, "routing entry already exists")
	}
	s.putRoutingLocked(e)
	return e, nil
}

func (s *MemStore) FindRoutingEntries(_ context.Context, fromNodeID, destinationNodeID, nextHopNodeID *string) ([]model.RoutingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates map[model.RoutingKey]struct{}
	if fromNodeID != nil {
		candidates = s.fromIdx[*fromNodeID]
	}

	var out []model.RoutingEntry
	match := func(e model.RoutingEntry) bool {
		if fromNodeID != nil && e.FromNodeID != *fromNodeID {
			return false
		}
		if destinationNodeID != nil && e.DestinationNodeID != *destinationNodeID {
			return false
		}
		if nextHopNodeID != nil && e.NextHopNodeID != *nextHopNodeID {
			return false
		}
		return true
	}

	if candidates != nil {
		for key := range candidates {
			if e, ok := s.routing[key]; ok && match(e) {
				out = append(out, e)
			}
		}
		return out, nil
	}

	for _, e := range s.routing {
		if match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) UpsertRoutingEntry(_ context.Context, key model.RoutingKey, cost float64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.routing[key]
	s.putRoutingLocked(model.RoutingEntry{
		FromNodeID:        key.FromNodeID,
		DestinationNodeID: key.DestinationNodeID,
		NextHopNodeID:     key.NextHopNodeID,
		Cost:              cost,
		LastUpdated:       now,
	})
	return !existed, nil
}

// putRoutingLocked writes e into both the primary map and the from-node
// index. Caller must hold s.mu for writing.
func (s *MemStore) putRoutingLocked(e model.RoutingEntry) {
	key := e.Key()
	s.routing[key] = e

	idx, ok := s.fromIdx[e.FromNodeID]
	if !ok {
		idx = make(map[model.RoutingKey]struct{})
		s.fromIdx[e.FromNodeID] = idx
	}
	idx[key] = struct{}{}
}
