package model

// EdgeCost derives a distance-vector link weight from an edge's outgoing
// traffic metrics (the direction a node's own cameras observe as vehicles
// leave it toward the edge's head). Missing fields default to zero because
// TrafficMetrics is a fixed-field value type, not a free-form dict: a
// never-updated edge costs exactly 0.1*road_length_m, the floor term.
//
//	cost = 0.6*queue_length_m + 0.3*pressure*100 + 0.1*road_length_m
//
// Smoothing noisy live measurements is the DV engine's job (its EMA), not
// this function's: EdgeCost is a pure, stateless read of current metrics.
func EdgeCost(e *Edge) float64 {
	t := e.OutgoingTraffic
	return 0.6*t.QueueLengthM + 0.3*t.Pressure*100 + 0.1*e.RoadLengthM
}
