package routing

import (
	"context"
	"math"
	"testing"
	"time"

	"trafficfabric/internal/model"
	"trafficfabric/internal/store"

	"github.com/stretchr/testify/require"
)

func TestBuildForNodeFiltersAndNormalizes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	for _, id := range []string{"A", "H1", "H2", "H3", "D"} {
		_, _ = s.CreateNode(ctx, model.Node{NodeID: id, Active: true})
	}

	// Destination D has three candidate next hops, cost 10, 15, 40.
	costs := map[string]float64{"H1": 10, "H2": 15, "H3": 40}
	for hop, c := range costs {
		_, err := s.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: "A", DestinationNodeID: "D", NextHopNodeID: hop}, c, time.Now())
		require.NoError(t, err)
	}

	table, err := BuildForNode(ctx, s, "A")
	require.NoError(t, err)

	choices, ok := table["D"]
	require.True(t, ok)

	// 40 > 3.3*10 = 33, so H3 must be dropped.
	for _, c := range choices {
		require.NotEqual(t, "H3", c.NextHop)
	}
	require.Len(t, choices, 2)

	var sum float64
	for _, c := range choices {
		sum += c.Prob
	}
	require.InDelta(t, 1.0, sum, 1e-3)
}

func TestBuildForNodeOmitsEmptyDestinations(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	_, _ = s.CreateNode(ctx, model.Node{NodeID: "A", Active: true})

	table, err := BuildForNode(ctx, s, "A")
	require.NoError(t, err)
	require.Empty(t, table)
}

func TestBuildForNodeProbabilitiesFavorCheaperRoutes(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	for _, id := range []string{"A", "H1", "H2", "D"} {
		_, _ = s.CreateNode(ctx, model.Node{NodeID: id, Active: true})
	}
	_, _ = s.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: "A", DestinationNodeID: "D", NextHopNodeID: "H1"}, 10, time.Now())
	_, _ = s.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: "A", DestinationNodeID: "D", NextHopNodeID: "H2"}, 20, time.Now())

	table, err := BuildForNode(ctx, s, "A")
	require.NoError(t, err)

	var cheaper, costlier float64
	for _, c := range table["D"] {
		if c.NextHop == "H1" {
			cheaper = c.Prob
		} else {
			costlier = c.Prob
		}
	}
	require.Greater(t, cheaper, costlier)

	expectedCheaper := math.Exp(-Beta*10) / (math.Exp(-Beta*10) + math.Exp(-Beta*20))
	require.InDelta(t, expectedCheaper, cheaper, 1e-3)
}
