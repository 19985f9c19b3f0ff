package nodeagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stubCoordinator serves a fixed /green/{node}/ response so the scheduler
// can be tested without a real coordinator process.
func stubCoordinatorServer(t *testing.T, greenTimes map[string]int, edgesUsed []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/green/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"green_times": greenTimes,
			"edges_used":  edgesUsed,
		}
		require.NoError(t, json.NewEncoder(w).Encode(body))
	})
	return httptest.NewServer(mux)
}

func TestPhaseSchedulerRecomputesOnStartup(t *testing.T) {
	srv := stubCoordinatorServer(t, map[string]int{"E1": 15, "E2": 25}, []string{"E1", "E2"})
	defer srv.Close()

	now := time.Unix(1_000, 0)
	sched := &PhaseScheduler{
		NodeID:          "A",
		Coordinator:     NewCoordinatorClient(srv.URL),
		RecomputeBefore: 10 * time.Second,
		TickInterval:    time.Second,
		Now:             func() time.Time { return now },
	}

	sched.recompute(context.Background())
	require.Len(t, sched.schedule, 2)
	require.Equal(t, "E1", sched.schedule[0].EdgeID)
	require.Equal(t, 0, sched.currentIdx)
	require.Equal(t, now.Add(15*time.Second), sched.phaseEndTS)
}

func TestPhaseSchedulerAdvancesPhaseOnExpiry(t *testing.T) {
	srv := stubCoordinatorServer(t, map[string]int{"E1": 30, "E2": 20}, []string{"E1", "E2"})
	defer srv.Close()

	now := time.Unix(1_000, 0)
	sched := &PhaseScheduler{
		NodeID:          "A",
		Coordinator:     NewCoordinatorClient(srv.URL),
		RecomputeBefore: 10 * time.Second,
		TickInterval:    time.Second,
		Now:             func() time.Time { return now },
	}
	sched.recompute(context.Background())

	// Advance the clock past phase 0's end but still far from RecomputeBefore
	// for phase 1, so the scheduler should advance rather than recompute.
	now = now.Add(30 * time.Second)
	sched.tick(context.Background())

	require.Equal(t, 1, sched.currentIdx)
	require.Equal(t, now.Add(20*time.Second), sched.phaseEndTS)
}

func TestPhaseSchedulerRecomputesInsidePreemptWindow(t *testing.T) {
	srv := stubCoordinatorServer(t, map[string]int{"E1": 30, "E2": 20}, []string{"E1", "E2"})
	defer srv.Close()

	now := time.Unix(1_000, 0)
	sched := &PhaseScheduler{
		NodeID:          "A",
		Coordinator:     NewCoordinatorClient(srv.URL),
		RecomputeBefore: 10 * time.Second,
		TickInterval:    time.Second,
		Now:             func() time.Time { return now },
	}
	sched.recompute(context.Background())

	// 22s into a 30s phase leaves 8s, inside the 10s pre-empt window: the
	// scheduler should recompute and reset to phase 0 rather than wait for
	// natural expiry.
	now = now.Add(22 * time.Second)
	sched.tick(context.Background())

	require.Equal(t, 0, sched.currentIdx)
	require.Equal(t, now.Add(30*time.Second), sched.phaseEndTS)
}

func TestPhaseSchedulerKeepsScheduleOnRecomputeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/green/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	now := time.Unix(1_000, 0)
	sched := &PhaseScheduler{
		NodeID:          "A",
		Coordinator:     NewCoordinatorClient(srv.URL),
		RecomputeBefore: 10 * time.Second,
		TickInterval:    time.Second,
		Now:             func() time.Time { return now },
		schedule:        []phase{{EdgeID: "E1", Green: 15}},
		currentIdx:      0,
		phaseEndTS:      now.Add(5 * time.Second),
		initialized:     true,
	}

	sched.tick(context.Background())
	require.Equal(t, []phase{{EdgeID: "E1", Green: 15}}, sched.schedule)
}
