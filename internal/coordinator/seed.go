package coordinator

import (
	"context"

	"trafficfabric/internal/model"
)

// SeedLinearDemoNetwork populates the coordinator's store with a small
// demo network: nodes A, B, C, D connected by direct edges A->B(10),
// B->C(5), C->D(3), plus shortcuts A->C(20) and A->D(50) (costs expressed
// via road_length_m with zero traffic, so edge_cost equals the stated
// figure exactly). It exists purely as an operator/demo convenience
// reachable only in-process (e.g. from cmd/coordinator's -seed flag or a
// test); it is not part of the documented request surface.
func (c *Coordinator) SeedLinearDemoNetwork(ctx context.Context) error {
	for _, id := range []string{"A", "B", "C", "D"} {
		if _, err := c.AddNode(ctx, model.Node{NodeID: id, Name: id, Active: true}); err != nil {
			return err
		}
	}

	type edgeSpec struct {
		id, cameraID, from, to string
		cost                   float64
	}
	// OutNodeID is the edge's origin per §4.1's direction-inference rule;
	// InNodeID is the destination it leads to.
	edges := []edgeSpec{
		{"E_AB", "cam-ab", "A", "B", 10},
		{"E_BC", "cam-bc", "B", "C", 5},
		{"E_CD", "cam-cd", "C", "D", 3},
		{"E_AC", "cam-ac", "A", "C", 20},
		{"E_AD", "cam-ad", "A", "D", 50},
	}
	for _, e := range edges {
		if _, err := c.AddEdge(ctx, model.Edge{
			EdgeID: e.id, Name: e.id, OutNodeID: e.from, InNodeID: e.to,
			CameraID: e.cameraID, RoadLengthM: e.cost / 0.1, RoadWidthM: 7, Active: true,
		}); err != nil {
			return err
		}
	}
	return nil
}
