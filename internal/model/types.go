// Package model holds the traffic-fabric data model: nodes, edges, their
// embedded per-direction traffic metrics, and distance-vector routing
// entries. Nodes and edges are flat, identifier-keyed records — never
// mutual object references — so the DV engine in internal/dv can work
// purely over identifier joins and sidestep cycle bookkeeping entirely.
package model

import "time"

// Direction selects which of an Edge's two embedded TrafficMetrics records
// a write targets.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Node is a physical intersection hosting a control agent.
type Node struct {
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Location  *LatLng   `json:"location,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatLng is an optional geolocation for a Node.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TrafficMetrics is the per-direction metric record embedded twice in an
// Edge (once for incoming_traffic, once for outgoing_traffic).
type TrafficMetrics struct {
	TotalVehicles int     `json:"total_vehicles"`
	QueueLengthM  float64 `json:"queue_length_m"`
	Density       float64 `json:"density"`
	Pressure      float64 `json:"pressure"`
	LastGreenTS   int64   `json:"last_green_ts"`
	LastUpdateTS  int64   `json:"last_update_ts"`
}

// Edge is a directed road segment between two nodes, with a camera on its
// tail end and one TrafficMetrics record per direction of travel.
type Edge struct {
	EdgeID          string         `json:"edge_id"`
	Name            string         `json:"name"`
	InNodeID        string         `json:"in_node_id"`
	OutNodeID       string         `json:"out_node_id"`
	CameraID        string         `json:"camera_id"`
	RoadLengthM     float64        `json:"road_length_m"`
	RoadWidthM      float64        `json:"road_width_m"`
	Active          bool           `json:"active"`
	IncomingTraffic TrafficMetrics `json:"incoming_traffic"`
	OutgoingTraffic TrafficMetrics `json:"outgoing_traffic"`
	CreatedAt       time.Time      `json:"created_at"`
}

// MetricsFor returns a pointer to the named direction's metrics record, so
// callers can read or (via the store) merge-update it in place.
func (e *Edge) MetricsFor(dir Direction) *TrafficMetrics {
	if dir == Incoming {
		return &e.IncomingTraffic
	}
	return &e.OutgoingTraffic
}

// DirectionFor infers which TrafficMetrics record a node's traffic update
// should land in: outgoing if the node is the edge's tail, incoming if the
// node is the edge's head. The caller (store.UpdateEdgeMetricsForNode) is
// responsible for rejecting node IDs that are neither.
func (e *Edge) DirectionFor(nodeID string) (Direction, bool) {
	switch nodeID {
	case e.OutNodeID:
		return Outgoing, true
	case e.InNodeID:
		return Incoming, true
	default:
		return "", false
	}
}

// RoutingEntry is one row of the distance-vector table: the cost of
// reaching destinationNodeID from fromNodeID by way of nextHopNodeID.
type RoutingEntry struct {
	FromNodeID        string    `json:"from_node_id"`
	DestinationNodeID string    `json:"destination_node_id"`
	NextHopNodeID     string    `json:"next_hop_node_id"`
	Cost              float64   `json:"cost"`
	LastUpdated       time.Time `json:"last_updated"`
}

// RoutingKey is the unique key of a RoutingEntry.
type RoutingKey struct {
	FromNodeID        string
	DestinationNodeID string
	NextHopNodeID     string
}

// Key returns the entry's unique key.
func (r RoutingEntry) Key() RoutingKey {
	return RoutingKey{
		FromNodeID:        r.FromNodeID,
		DestinationNodeID: r.DestinationNodeID,
		NextHopNodeID:     r.NextHopNodeID,
	}
}

// IsSelfRoute reports whether this entry is a node's zero-cost route to
// itself.
func (r RoutingEntry) IsSelfRoute() bool {
	return r.FromNodeID == r.DestinationNodeID && r.DestinationNodeID == r.NextHopNodeID
}
