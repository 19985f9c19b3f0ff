// Package routing implements the stochastic routing-table builder (C3): it
// converts a node's distance-vector rows into the probabilistic next-hop
// distribution vehicles sample from.
package routing

import (
	"context"
	"math"
	"sort"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/model"
	"trafficfabric/internal/store"
)

const (
	// MaxCostRatio filters out routes far worse than the cheapest known
	// route to the same destination.
	MaxCostRatio = 3.3
	// Beta controls how sharply probability favors cheaper routes.
	Beta = 0.08
)

// Choice is one weighted next-hop option for a destination.
type Choice struct {
	NextHop string  `json:"next_hop"`
	Prob    float64 `json:"prob"`
}

// Table is a node's full stochastic routing table: destination -> choices.
type Table map[string][]Choice

// BuildForNode groups nodeID's routing entries by destination, drops routes
// costing more than MaxCostRatio times the cheapest in their group, weights
// survivors by exp(-Beta*cost), and normalizes to probabilities rounded to
// 4 decimals. Destinations with no rows are simply absent from the result.
func BuildForNode(ctx context.Context, s store.Store, nodeID string) (Table, error) {
	entries, err := s.FindRoutingEntries(ctx, &nodeID, nil, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "build routing table: load entries", err)
	}

	byDest := map[string][]model.RoutingEntry{}
	for _, e := range entries {
		byDest[e.DestinationNodeID] = append(byDest[e.DestinationNodeID], e)
	}

	table := make(Table, len(byDest))
	for dest, rows := range byDest {
		choices := buildGroup(rows)
		if len(choices) > 0 {
			table[dest] = choices
		}
	}
	return table, nil
}

func buildGroup(rows []model.RoutingEntry) []Choice {
	cMin := rows[0].Cost
	for _, r := range rows[1:] {
		if r.Cost < cMin {
			cMin = r.Cost
		}
	}

	type weighted struct {
		nextHop string
		weight  float64
	}
	var survivors []weighted
	var totalWeight float64
	for _, r := range rows {
		if r.Cost > MaxCostRatio*cMin {
			continue
		}
		w := math.Exp(-Beta * r.Cost)
		survivors = append(survivors, weighted{nextHop: r.NextHopNodeID, weight: w})
		totalWeight += w
	}

	choices := make([]Choice, 0, len(survivors))
	for _, sv := range survivors {
		prob := sv.weight / totalWeight
		choices = append(choices, Choice{NextHop: sv.nextHop, Prob: round4(prob)})
	}

	// Deterministic ordering makes the result stable for tests and callers
	// diffing successive table fetches.
	sort.Slice(choices, func(i, j int) bool {
		if choices[i].Prob != choices[j].Prob {
			return choices[i].Prob > choices[j].Prob
		}
		return choices[i].NextHop < choices[j].NextHop
	})
	return choices
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
