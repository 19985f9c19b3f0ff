// Package dv implements the distance-vector update engine (C4): one
// iteration of self-route bootstrap, direct-edge bootstrap, and single-step
// propagation over the road graph's live edge costs.
package dv

import (
	"context"
	"log/slog"
	"math"
	"time"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/model"
	"trafficfabric/internal/store"
)

// changeEpsilon is the tolerance below which two costs are considered equal
// for the purpose of counting a write as a change; it absorbs float64
// rounding noise from the EMA blend so a converged fixed point reports 0.
const changeEpsilon = 1e-9

// Params holds the engine's tunable constants (§4.3, §6 Configuration).
type Params struct {
	// Alpha is the EMA weight given to a newly observed cost.
	Alpha float64
	// MaxInflation is the reject-if-much-worse ratio: a candidate cost may
	// not exceed MaxInflation times the cost it would replace.
	MaxInflation float64
}

// DefaultParams returns the constants named in §4.3.
func DefaultParams() Params {
	return Params{Alpha: 0.2, MaxInflation: 1.5}
}

// Engine runs one distance-vector iteration at a time against a Store. It
// is idempotent in the convergence sense: repeated invocation with no new
// metrics drives the returned change count toward zero.
type Engine struct {
	Store  store.Store
	Params Params
	Now    func() time.Time
	Logger *slog.Logger
}

// NewEngine returns an Engine with the default constants, wall-clock time,
// and the default slog logger.
func NewEngine(s store.Store) *Engine {
	return &Engine{
		Store:  s,
		Params: DefaultParams(),
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

// Tick runs one iteration: self-route bootstrap (phase 0), direct-edge
// bootstrap (phase 1), then single-step propagation (phase 2). It returns
// the number of routing entries phases 1 and 2 inserted or whose cost moved
// beyond changeEpsilon; 0 means the table is at a fixed point for the
// current edge costs.
//
// A transient store read failure aborts the iteration with no partial
// observable-state guarantee beyond what was already written (§4.3
// Failure modes); the caller may simply call Tick again.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	now := e.Now()

	edges, err := e.Store.FindAllActiveEdges(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: load active edges", err)
	}

	if err := e.phase0SelfRoutes(ctx, edges, now); err != nil {
		return 0, err
	}

	// Phase 2 relaxes against the table as it stood before this iteration's
	// bootstrap, so one tick extends routes by exactly one hop.
	known, err := e.Store.FindRoutingEntries(ctx, nil, nil, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: snapshot routing table", err)
	}

	changes, err := e.phase1Bootstrap(ctx, edges, now)
	if err != nil {
		return changes, err
	}
	n, err := e.phase2Propagate(ctx, edges, known, now)
	changes += n
	if err != nil {
		return changes, err
	}

	e.Logger.Debug("dv tick complete", "changes", changes, "edges", len(edges))
	return changes, nil
}

// phase0SelfRoutes ensures a zero-cost self-route exists for every node
// that appears as either endpoint of an active edge.
func (e *Engine) phase0SelfRoutes(ctx context.Context, edges []model.Edge, now time.Time) error {
	nodes := map[string]struct{}{}
	for _, edge := range edges {
		nodes[edge.OutNodeID] = struct{}{}
		nodes[edge.InNodeID] = struct{}{}
	}

	for n := range nodes {
		key := model.RoutingKey{FromNodeID: n, DestinationNodeID: n, NextHopNodeID: n}
		existing, err := e.Store.FindRoutingEntries(ctx, &n, &n, &n)
		if err != nil {
			return apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: check self route", err)
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := e.Store.UpsertRoutingEntry(ctx, key, 0.0, now); err != nil {
			return apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: create self route", err)
		}
	}
	return nil
}

// phase1Bootstrap upserts the direct A->B route for every active edge,
// applying the EMA against any prior cost. A is the edge's origin
// (OutNodeID, the node whose outgoing camera this edge belongs to per
// §4.1's direction-inference rule); B is its destination (InNodeID). It
// returns the number of upserts whose cost actually moved, so a converged
// fixed point contributes 0 to Tick's returned count.
func (e *Engine) phase1Bootstrap(ctx context.Context, edges []model.Edge, now time.Time) (int, error) {
	changes := 0
	for i := range edges {
		edge := &edges[i]
		a, b := edge.OutNodeID, edge.InNodeID
		c := model.EdgeCost(edge)

		cost, changed, err := e.blendWithExisting(ctx, a, b, b, c)
		if err != nil {
			return changes, err
		}
		if _, err := e.Store.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: a, DestinationNodeID: b, NextHopNodeID: b}, cost, now); err != nil {
			return changes, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: bootstrap direct edge", err)
		}
		if changed {
			changes++
		}
	}
	return changes, nil
}

// blendWithExisting returns (c, true) if no (from,dest,nextHop) entry exists
// yet, or the EMA blend of the existing cost and c otherwise, with changed
// reporting whether that blend actually moved the stored cost beyond
// changeEpsilon.
func (e *Engine) blendWithExisting(ctx context.Context, from, dest, nextHop string, c float64) (float64, bool, error) {
	existing, err := e.Store.FindRoutingEntries(ctx, &from, &dest, &nextHop)
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: read existing entry", err)
	}
	if len(existing) == 0 {
		return c, true, nil
	}
	alpha := e.Params.Alpha
	blended := (1-alpha)*existing[0].Cost + alpha*c
	changed := math.Abs(blended-existing[0].Cost) > changeEpsilon
	return blended, changed, nil
}

// propagationKey dedupes phase 2 work per iteration: a given (A,D,B)
// triple is processed once even if multiple (B,D,*) rows exist.
type propagationKey struct {
	from, dest, nextHop string
}

// phase2Propagate relaxes one hop further: for each active edge A->B and
// each route B already knows to some destination D (D != A), propose
// A->D via B at cost(A->B) + cost(B->D), subject to the inflation gate.
func (e *Engine) phase2Propagate(ctx context.Context, edges []model.Edge, known []model.RoutingEntry, now time.Time) (int, error) {
	changes := 0
	processed := map[propagationKey]struct{}{}

	routesFrom := map[string][]model.RoutingEntry{}
	for _, r := range known {
		routesFrom[r.FromNodeID] = append(routesFrom[r.FromNodeID], r)
	}

	for i := range edges {
		edge := &edges[i]
		a, b := edge.OutNodeID, edge.InNodeID
		costAB := model.EdgeCost(edge)

		for _, r := range routesFrom[b] {
			d := r.DestinationNodeID
			if d == a {
				continue
			}

			key := propagationKey{from: a, dest: d, nextHop: b}
			if _, done := processed[key]; done {
				continue
			}
			processed[key] = struct{}{}

			newCost := costAB + r.Cost
			applied, err := e.relaxOne(ctx, a, d, b, newCost, now)
			if err != nil {
				return changes, err
			}
			if applied {
				changes++
			}
		}
	}
	return changes, nil
}

// relaxOne applies (or rejects, per the inflation gate) one candidate
// (from,dest,nextHop)=newCost update.
func (e *Engine) relaxOne(ctx context.Context, from, dest, nextHop string, newCost float64, now time.Time) (bool, error) {
	existing, err := e.Store.FindRoutingEntries(ctx, &from, &dest, &nextHop)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: read candidate entry", err)
	}

	if len(existing) > 0 {
		oldCost := existing[0].Cost
		if newCost > oldCost*e.Params.MaxInflation {
			return false, nil
		}
		blended := (1-e.Params.Alpha)*oldCost + e.Params.Alpha*newCost
		if math.Abs(blended-oldCost) <= changeEpsilon {
			return false, nil
		}
		if _, err := e.Store.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: from, DestinationNodeID: dest, NextHopNodeID: nextHop}, blended, now); err != nil {
			return false, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: update propagated route", err)
		}
		return true, nil
	}

	// No route via this specific next hop yet; compare against the best
	// known route to the same destination (by any next hop) instead.
	allToDest, err := e.Store.FindRoutingEntries(ctx, &from, &dest, nil)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: read routes to destination", err)
	}
	if best, ok := minCost(allToDest); ok && newCost > best*e.Params.MaxInflation {
		return false, nil
	}

	if _, err := e.Store.UpsertRoutingEntry(ctx, model.RoutingKey{FromNodeID: from, DestinationNodeID: dest, NextHopNodeID: nextHop}, newCost, now); err != nil {
		return false, apperrors.Wrap(apperrors.KindStoreFailure, "dv tick: insert propagated route", err)
	}
	return true, nil
}

func minCost(entries []model.RoutingEntry) (float64, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	best := entries[0].Cost
	for _, e := range entries[1:] {
		if e.Cost < best {
			best = e.Cost
		}
	}
	return best, true
}
