package nodeagent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trafficfabric/internal/carsim"
	"trafficfabric/internal/routing"
)

func startTestResponder(t *testing.T) (*TableCache, string) {
	t.Helper()
	cache := NewTableCache()
	responder := &VehicleResponder{Cache: cache}

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	require.NoError(t, probe.Close())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = responder.Serve(ctx, addr)
	}()
	// Give the responder's listener time to bind the now-free address.
	time.Sleep(20 * time.Millisecond)

	return cache, addr
}

func TestVehicleResponderNoRoute(t *testing.T) {
	cache, addr := startTestResponder(t)
	_ = cache

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	car := carsim.Car{CarID: "C1", Destination: "ghost"}
	reply, err := car.AskNode(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, "NO_ROUTE", reply.Error)
	require.Empty(t, reply.NextEdge)
}

func TestVehicleResponderReturnsSampledHop(t *testing.T) {
	cache, addr := startTestResponder(t)
	cache.Store(routing.Table{
		"B": []routing.Choice{{NextHop: "B", Prob: 1.0}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	car := carsim.Car{CarID: "C1", Destination: "B"}
	reply, err := car.AskNode(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, "B", reply.NextEdge)
	require.Empty(t, reply.Error)
}
