package nodeagent

import (
	"math/rand"
	"sync/atomic"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/routing"
)

// TableCache holds the node agent's read-mostly routing-table snapshot.
// Refreshes replace the whole table by pointer swap so readers always see a
// complete, internally consistent table (§5: "pointer/reference swap
// semantics; readers always see a complete, internally consistent table").
type TableCache struct {
	table atomic.Pointer[routing.Table]
}

// NewTableCache builds an empty cache; Store must be called before Sample
// returns anything but NoRoute.
func NewTableCache() *TableCache {
	c := &TableCache{}
	empty := routing.Table{}
	c.table.Store(&empty)
	return c
}

// Store atomically replaces the cached table.
func (c *TableCache) Store(t routing.Table) {
	c.table.Store(&t)
}

// Sample picks one next-hop for destination, weighted by the cached
// choices' prob, the way reinforcement/learning.go's epsilon-greedy action
// selection draws a single outcome from rand.Float64() against cumulative
// weights. Returns apperrors.KindNoRoute if destination has no cached entry.
func (c *TableCache) Sample(destination string) (string, error) {
	table := *c.table.Load()
	choices, ok := table[destination]
	if !ok || len(choices) == 0 {
		return "", apperrors.New(apperrors.KindNoRoute, "no cached route to "+destination)
	}

	roll := rand.Float64()
	var cumulative float64
	for _, choice := range choices {
		cumulative += choice.Prob
		if roll <= cumulative {
			return choice.NextHop, nil
		}
	}
	// Rounding error in the cached probabilities: fall back to the last
	// (and therefore least-likely, per routing.BuildForNode's descending
	// sort) choice rather than erroring a roll that's arithmetically valid.
	return choices[len(choices)-1].NextHop, nil
}
