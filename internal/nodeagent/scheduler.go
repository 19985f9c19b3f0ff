package nodeagent

import (
	"context"
	"log/slog"
	"os"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
)

// phase is one entry of a green schedule, ordered as the coordinator's
// edges_used listed it (§4.7's green_schedule = [{edge, green_seconds}, ...]).
type phase struct {
	EdgeID string
	Green  int
}

// PhaseScheduler maintains the node's current green schedule and advances
// through it on a fixed tick, recomputing ahead of the phase boundary so the
// node never runs past the current phase on a stale schedule (§4.7, §5).
type PhaseScheduler struct {
	NodeID          string
	Coordinator     *CoordinatorClient
	EdgeImages      map[string]string
	RecomputeBefore time.Duration
	TickInterval    time.Duration
	Now             func() time.Time
	Logger          *slog.Logger

	schedule    []phase
	currentIdx  int
	phaseEndTS  time.Time
	initialized bool
}

// Run ticks once per TickInterval until ctx is cancelled, applying the
// pre-empt/advance rules from §4.7. It never returns an error for ordinary
// recompute failures — a failed recompute just keeps the current schedule
// and is logged, so a transient coordinator outage doesn't crash the agent.
func (s *PhaseScheduler) Run(ctx context.Context) error {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if !s.initialized {
		s.recompute(ctx)
	}

	ticker := channerics.NewTicker(ctx.Done(), s.TickInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker:
			s.tick(ctx)
		}
	}
}

func (s *PhaseScheduler) tick(ctx context.Context) {
	now := s.Now()

	if len(s.schedule) > 0 && !now.Before(s.phaseEndTS) {
		s.currentIdx = (s.currentIdx + 1) % len(s.schedule)
		s.phaseEndTS = now.Add(time.Duration(s.schedule[s.currentIdx].Green) * time.Second)
	}

	if len(s.schedule) == 0 || s.phaseEndTS.Sub(now) <= s.RecomputeBefore {
		s.recompute(ctx)
	}
}

// recompute calls calculate_green with one fresh image per configured
// outgoing edge and replaces the schedule, resetting current_phase to 0.
func (s *PhaseScheduler) recompute(ctx context.Context) {
	images := make(map[string][]byte, len(s.EdgeImages))
	for edgeID, path := range s.EdgeImages {
		data, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Warn("phase scheduler: read edge image", "edge_id", edgeID, "path", path, "err", err)
			continue
		}
		images[edgeID] = data
	}

	result, err := s.Coordinator.CalculateGreen(ctx, s.NodeID, images)
	if err != nil {
		s.Logger.Error("phase scheduler: calculate_green failed, keeping current schedule", "node_id", s.NodeID, "err", err)
		return
	}
	if len(result) == 0 {
		s.Logger.Warn("phase scheduler: calculate_green returned an empty schedule", "node_id", s.NodeID)
		return
	}

	newSchedule := make([]phase, 0, len(result))
	for _, g := range result {
		newSchedule = append(newSchedule, phase{EdgeID: g.EdgeID, Green: g.Green})
	}

	s.schedule = newSchedule
	s.currentIdx = 0
	s.phaseEndTS = s.Now().Add(time.Duration(s.schedule[0].Green) * time.Second)
	s.initialized = true
}
