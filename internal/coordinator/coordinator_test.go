package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/detector"
	"trafficfabric/internal/model"
	"trafficfabric/internal/store"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	s := store.NewMemStore()
	det := detector.NewStubDetector(map[string]detector.CameraConfig{
		"cam-1": {CapacityVehicles: 50, RoadLengthM: 120},
	})
	c := New(s, det, 100*time.Second)
	c.Now = fixedNow(time.Unix(1_000_000, 0))
	return c
}

func seedOneEdge(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx := context.Background()
	_, err := c.AddNode(ctx, model.Node{NodeID: "A", Name: "A", Active: true})
	require.NoError(t, err)
	_, err = c.AddNode(ctx, model.Node{NodeID: "B", Name: "B", Active: true})
	require.NoError(t, err)
	_, err = c.AddEdge(ctx, model.Edge{
		EdgeID: "E1", Name: "E1", OutNodeID: "A", InNodeID: "B",
		CameraID: "cam-1", RoadLengthM: 120, RoadWidthM: 7, Active: true,
	})
	require.NoError(t, err)
}

func TestAddNodeRejectsEmptyID(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.AddNode(context.Background(), model.Node{Name: "no id"})
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindBadRequest, kind)
}

func TestAddEdgeRejectsMissingFields(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	_, _ = c.AddNode(ctx, model.Node{NodeID: "A", Active: true})
	_, _ = c.AddNode(ctx, model.Node{NodeID: "B", Active: true})

	_, err := c.AddEdge(ctx, model.Edge{EdgeID: "E1", OutNodeID: "A", InNodeID: "B"})
	require.Error(t, err)
	kind, _ := apperrors.KindOf(err)
	require.Equal(t, apperrors.KindBadRequest, kind)
}

func TestUpdateTrafficDirectionAndNotConnected(t *testing.T) {
	c := newTestCoordinator(t)
	seedOneEdge(t, c)
	ctx := context.Background()

	q := 5.0
	edge, err := c.UpdateTraffic(ctx, "A", "E1", store.MetricsPatch{QueueLengthM: &q})
	require.NoError(t, err)
	require.Equal(t, 5.0, edge.OutgoingTraffic.QueueLengthM)
	require.Equal(t, 0.0, edge.IncomingTraffic.QueueLengthM)

	_, err = c.UpdateTraffic(ctx, "nobody", "E1", store.MetricsPatch{QueueLengthM: &q})
	require.Error(t, err)
	kind, _ := apperrors.KindOf(err)
	require.Equal(t, apperrors.KindNotConnected, kind)
}

func TestCalculateGreenEmptyUploadsIsNoOp(t *testing.T) {
	c := newTestCoordinator(t)
	seedOneEdge(t, c)

	result, err := c.CalculateGreen(context.Background(), "A", nil)
	require.NoError(t, err)
	require.Empty(t, result.GreenTimes)
	require.Empty(t, result.EdgesUsed)
}

func TestCalculateGreenUnknownEdgeFailsAtomically(t *testing.T) {
	c := newTestCoordinator(t)
	seedOneEdge(t, c)

	_, err := c.CalculateGreen(context.Background(), "A", []ImageUpload{
		{EdgeID: "does-not-exist", Image: []byte("x")},
	})
	require.Error(t, err)
	kind, _ := apperrors.KindOf(err)
	require.Equal(t, apperrors.KindBadRequest, kind)
}

func TestCalculateGreenWritesMetricsAndReturnsSchedule(t *testing.T) {
	c := newTestCoordinator(t)
	seedOneEdge(t, c)
	ctx := context.Background()

	result, err := c.CalculateGreen(ctx, "A", []ImageUpload{
		{EdgeID: "E1", Image: []byte("frame-1")},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"E1"}, result.EdgesUsed)
	require.Contains(t, result.GreenTimes, "E1")
	require.GreaterOrEqual(t, result.GreenTimes["E1"], 8)
	require.LessOrEqual(t, result.GreenTimes["E1"], 40)
	require.Len(t, result.MLResults, 1)

	edge, err := c.Store.GetEdge(ctx, "E1")
	require.NoError(t, err)
	require.Equal(t, c.Now().Unix(), edge.OutgoingTraffic.LastUpdateTS)
	require.Equal(t, c.Now().Unix(), edge.OutgoingTraffic.LastGreenTS)
}

func TestGetTableUnknownAndInactiveNode(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.GetTable(ctx, "ghost")
	require.Error(t, err)
	kind, _ := apperrors.KindOf(err)
	require.Equal(t, apperrors.KindNotFound, kind)

	_, err = c.AddNode(ctx, model.Node{NodeID: "Z", Active: false})
	require.NoError(t, err)
	_, err = c.GetTable(ctx, "Z")
	require.Error(t, err)
	kind, _ = apperrors.KindOf(err)
	require.Equal(t, apperrors.KindNotFound, kind)
}

func TestGetTableEmptyForIsolatedNode(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	_, err := c.AddNode(ctx, model.Node{NodeID: "Lonely", Active: true})
	require.NoError(t, err)

	result, err := c.GetTable(ctx, "Lonely")
	require.NoError(t, err)
	require.Empty(t, result.RoutingTable)
}

func TestDVUpdateTickAndSeeding(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()
	require.NoError(t, c.SeedLinearDemoNetwork(ctx))

	applied, err := c.DVUpdateTick(ctx)
	require.NoError(t, err)
	require.Greater(t, applied, 0)

	table, err := c.GetTable(ctx, "A")
	require.NoError(t, err)
	require.Contains(t, table.RoutingTable, "B")
}

func TestAddRoutingEntryRejectsDuplicateKey(t *testing.T) {
	c := newTestCoordinator(t)
	seedOneEdge(t, c)
	ctx := context.Background()

	_, err := c.AddRoutingEntry(ctx, model.RoutingEntry{FromNodeID: "A", DestinationNodeID: "B", NextHopNodeID: "B", Cost: 10})
	require.NoError(t, err)

	_, err = c.AddRoutingEntry(ctx, model.RoutingEntry{FromNodeID: "A", DestinationNodeID: "B", NextHopNodeID: "B", Cost: 99})
	require.Error(t, err)
	kind, _ := apperrors.KindOf(err)
	require.Equal(t, apperrors.KindConflict, kind)
}
