package dv

import (
	"context"
	"testing"
	"time"

	"trafficfabric/internal/model"
	"trafficfabric/internal/store"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// seedLinearGraph builds A->B->C->D with direct edges and two shortcuts,
// the same worked network used in the testable-properties scenarios (§8).
func seedLinearGraph(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C", "D"} {
		_, err := s.CreateNode(ctx, model.Node{NodeID: id, Name: id, Active: true})
		require.NoError(t, err)
	}

	type e struct {
		id, in, out string
		cost        float64
	}
	// RoadLengthM is chosen so EdgeCost(edge) == cost exactly: with zero
	// queue/pressure, cost = 0.1*road_length_m.
	edges := []e{
		{"E_AB", "A", "B", 10},
		{"E_BC", "B", "C", 5},
		{"E_CD", "C", "D", 3},
		{"E_AC", "A", "C", 20},
		{"E_AD", "A", "D", 50},
	}
	for _, edge := range edges {
		// OutNodeID is the edge's origin (the node whose outgoing camera
		// this edge belongs to, per §4.1's direction-inference rule);
		// InNodeID is the destination the edge leads to.
		_, err := s.CreateEdge(ctx, model.Edge{
			EdgeID: edge.id, OutNodeID: edge.in, InNodeID: edge.out,
			Active: true, RoadLengthM: edge.cost / 0.1,
		})
		require.NoError(t, err)
	}
}

func TestLinearGraphConvergence(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedLinearGraph(t, s)

	eng := &Engine{Store: s, Params: DefaultParams(), Now: fixedClock(time.Unix(0, 0))}

	Convey("Given the linear A->B->C->D graph with shortcuts", t, func() {
		Convey("after one DV tick, A knows B, C, D only by direct edges", func() {
			_, err := eng.Tick(ctx)
			So(err, ShouldBeNil)

			from := "A"
			entries, err := s.FindRoutingEntries(ctx, &from, nil, nil)
			So(err, ShouldBeNil)

			byDest := map[string][]model.RoutingEntry{}
			for _, e := range entries {
				byDest[e.DestinationNodeID] = append(byDest[e.DestinationNodeID], e)
			}
			// Phase 1 bootstraps one direct route per active edge out of A.
			So(len(byDest["B"]), ShouldEqual, 1)
			So(byDest["B"][0].Cost, ShouldEqual, 10)
			So(len(byDest["C"]), ShouldEqual, 1)
			So(byDest["C"][0].Cost, ShouldEqual, 20)
			So(len(byDest["D"]), ShouldEqual, 1)
			So(byDest["D"][0].Cost, ShouldEqual, 50)
		})

		Convey("after a second tick, a cheaper A->D via B appears", func() {
			_, err := eng.Tick(ctx)
			So(err, ShouldBeNil)
			_, err = eng.Tick(ctx)
			So(err, ShouldBeNil)

			from, dest, nextHop := "A", "D", "B"
			entries, err := s.FindRoutingEntries(ctx, &from, &dest, &nextHop)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)
		})

		Convey("after convergence, A's cheapest route to D is via B at cost ~18", func() {
			for i := 0; i < 10; i++ {
				_, err := eng.Tick(ctx)
				So(err, ShouldBeNil)
			}

			from, dest := "A", "D"
			entries, err := s.FindRoutingEntries(ctx, &from, &dest, nil)
			So(err, ShouldBeNil)
			So(len(entries), ShouldBeGreaterThan, 0)

			best, _ := minCost(entries)
			So(best, ShouldBeLessThan, 19)
			So(best, ShouldBeGreaterThan, 17)
		})

		Convey("running to a fixed point makes further ticks return 0 changes", func() {
			var changes int
			var err error
			for i := 0; i < 50; i++ {
				changes, err = eng.Tick(ctx)
				So(err, ShouldBeNil)
				if changes == 0 {
					break
				}
			}
			So(changes, ShouldEqual, 0)

			changes, err = eng.Tick(ctx)
			So(err, ShouldBeNil)
			So(changes, ShouldEqual, 0)
		})
	})
}

func TestSelfRoutesAlwaysPresent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedLinearGraph(t, s)
	eng := NewEngine(s)
	eng.Now = fixedClock(time.Unix(0, 0))

	_, err := eng.Tick(ctx)
	require.NoError(t, err)

	for _, n := range []string{"A", "B", "C", "D"} {
		entries, err := s.FindRoutingEntries(ctx, &n, &n, &n)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, 0.0, entries[0].Cost)
	}
}

func TestNoBacktrackingSelfLoop(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	seedLinearGraph(t, s)
	eng := NewEngine(s)
	eng.Now = fixedClock(time.Unix(0, 0))

	for i := 0; i < 10; i++ {
		_, err := eng.Tick(ctx)
		require.NoError(t, err)
	}

	all, err := s.FindRoutingEntries(ctx, nil, nil, nil)
	require.NoError(t, err)
	for _, e := range all {
		if e.DestinationNodeID == e.FromNodeID {
			continue // self-routes are exempt from this invariant
		}
		require.NotEqual(t, e.FromNodeID, e.NextHopNodeID, "no route should hop back to its own source except self-routes")
	}
}

func TestInflationGateRejectsRuinousUpdate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	for _, id := range []string{"A", "B", "C", "D"} {
		_, _ = s.CreateNode(ctx, model.Node{NodeID: id, Active: true})
	}
	// A->B->D cheap route already exists at cost 20, set up directly.
	_, _ = s.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: "A", DestinationNodeID: "D", NextHopNodeID: "B"}, 20, time.Unix(0, 0))

	eng := NewEngine(s)
	applied, err := eng.relaxOne(ctx, "A", "D", "B", 40, time.Unix(1, 0))
	require.NoError(t, err)
	require.False(t, applied, "40 > 20*1.5=30 must be rejected")

	entries, err := s.FindRoutingEntries(ctx, ptr("A"), ptr("D"), ptr("B"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 20.0, entries[0].Cost, "cost must remain unchanged after rejection")
}

func ptr(s string) *string { return &s }

func TestDirectionInferenceIsStoreResponsibility(t *testing.T) {
	// The DV engine never calls UpdateEdgeMetricsForNode itself; this guards
	// the documented division of responsibility (direction inference lives
	// entirely in the store, exercised by internal/store tests) so a future
	// change doesn't silently duplicate it into the engine.
	ctx := context.Background()
	s := store.NewMemStore()
	seedLinearGraph(t, s)
	eng := NewEngine(s)

	edges, err := eng.Store.FindAllActiveEdges(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, edges)

	_, err = eng.Tick(ctx)
	require.NoError(t, err)
	after, err := eng.Store.FindAllActiveEdges(ctx)
	require.NoError(t, err)
	for _, edge := range after {
		require.Zero(t, edge.OutgoingTraffic.LastUpdateTS, "the engine must not write edge metrics")
		require.Zero(t, edge.IncomingTraffic.LastUpdateTS, "the engine must not write edge metrics")
	}
}
