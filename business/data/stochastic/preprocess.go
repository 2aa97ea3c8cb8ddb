package stochastic

import (
	logger "log"
	"sort"
)

// dfsLabel tracks, for one connection during preprocessing, which
// footpath and which departure index the DFS has already explored so a
// resumed visit picks up exactly where it left off.
type dfsLabel struct {
	footpathI int
	i         int
	order     int
}

// preprocessStats counts the DFS events the teacher's diagnostics log
// after a preprocessing run.
type preprocessStats struct {
	found            int
	encounter1       int
	unravelingNo     int
	cycleSumLen      int
	cycleMaxLen      int
	cycleSelfCount   int
	encounter2       int
	iterations       int
}

// Preprocessor computes a topological connection order and a cut set of
// infeasible transfer edges for a ConnectionGraph via an iterative
// depth-first search: each connection visits its outgoing footpath and
// same-stop departures in descending order, backing off a visited
// successor and cutting whichever edge on the resulting cycle has the
// weakest (lowest predicted) transfer time.
type Preprocessor struct {
	Store *Store
	Log   *logger.Logger
	Now   Mtime

	// EpsilonReachable is the transfer probability at or below which a
	// transfer is treated as infeasible and not followed by the DFS.
	// Cycle-breaking cut edges are recorded in the cut set only while it
	// is zero (the default); with any other value the cut set stays empty.
	EpsilonReachable float64
}

// NewPreprocessor builds a Preprocessor bound to store and evaluated at
// now.
func NewPreprocessor(store *Store, now Mtime) *Preprocessor {
	return &Preprocessor{Store: store, Now: now}
}

// Preprocess computes g.Order and g.Cut and physically re-sorts
// g.Connections into ascending topological order. It may be called
// again on the same graph (e.g. after a realtime delay changes which
// transfers are feasible) and will rebuild both from scratch.
func (p *Preprocessor) Preprocess(g *ConnectionGraph) {
	g.Cut = make(map[CutEdge]struct{})
	n := len(g.Connections)

	connIdxs := make([]int, n)
	for i := range connIdxs {
		connIdxs[i] = i
	}
	sort.SliceStable(connIdxs, func(a, b int) bool {
		return g.Connections[connIdxs[a]].Departure.Projected() < g.Connections[connIdxs[b]].Departure.Projected()
	})

	labels := make([]dfsLabel, n)
	for i, c := range g.Connections {
		footpaths := g.Stops[c.ToIdx].Footpaths
		labels[i] = dfsLabel{footpathI: len(footpaths), i: len(g.Stops[c.ToIdx].Departures)}
	}
	stopsCompletedUp := make([]int, len(g.Stops))
	for i, s := range g.Stops {
		stopsCompletedUp[i] = len(s.Departures)
	}
	visited := make([]int8, n)

	if p.Log != nil {
		p.Log.Println("preprocess: starting dfs")
	}
	p.Store.PrintStats()

	topoIdx := 0
	stats := &preprocessStats{}
	for i := 0; i < n; i++ {
		idx := connIdxs[i]
		if visited[idx] != 2 {
			p.dfs(g, idx, &topoIdx, labels, visited, stopsCompletedUp, stats)
		}
	}

	p.Store.PrintStats()
	if p.Log != nil {
		p.Log.Printf("preprocess: iterations=%d found=%d encounter1=%d encounter2=%d unraveled=%d cycles(sum=%d,max=%d,self=%d)\n",
			stats.iterations, stats.found, stats.encounter1, stats.encounter2,
			stats.unravelingNo, stats.cycleSumLen, stats.cycleMaxLen, stats.cycleSelfCount)
	}

	type rankedPos struct {
		pos  int
		rank int
	}
	ranked := make([]rankedPos, n)
	for pos, c := range g.Connections {
		ranked[pos] = rankedPos{pos: pos, rank: labels[g.Order[c.ID]].order}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].rank < ranked[b].rank })

	sorted := make([]Connection, n)
	for newPos, r := range ranked {
		sorted[newPos] = g.Connections[r.pos]
	}
	g.Connections = sorted

	newOrder := make([]int, n)
	for pos, c := range g.Connections {
		newOrder[c.ID] = pos
	}
	g.Order = newOrder

	if p.Log != nil {
		p.Log.Printf("preprocess: connections=%d topoidx=%d cut=%d\n", n, topoIdx, len(g.Cut))
	}
}

// dfs runs the iterative DFS rooted at anchorIdx, consuming from the
// shared visited/stopsCompletedUp bookkeeping so that connections that
// share destinations skip re-exploring departures another visit has
// already exhausted.
func (p *Preprocessor) dfs(g *ConnectionGraph, anchorIdx int, topoIdx *int, labels []dfsLabel, visited []int8, stopsCompletedUp []int, stats *preprocessStats) {
	stack := make([]int, 0, 1000)
	stack = append(stack, anchorIdx)

	for len(stack) > 0 {
		stats.iterations++
		cIdx := stack[len(stack)-1]
		c := g.Connections[cIdx]
		cLabel := &labels[cIdx]
		footpaths := g.Stops[c.ToIdx].Footpaths

		stopIdx := c.ToIdx
		if cLabel.footpathI != len(footpaths) {
			stopIdx = footpaths[cLabel.footpathI].TargetStopIdx
		}
		deps := g.Stops[stopIdx].Departures
		streak := false
		if cLabel.i >= stopsCompletedUp[stopIdx] {
			cLabel.i = stopsCompletedUp[stopIdx]
			streak = true
		}
		visited[cIdx] = 1
		found := false

	advance:
		for {
			if cLabel.i > 0 {
				cLabel.i--
			} else if cLabel.footpathI > 0 {
				if streak {
					stopsCompletedUp[stopIdx] = 0
					streak = false
				}
				cLabel.footpathI--
				stopIdx = footpaths[cLabel.footpathI].TargetStopIdx
				deps = g.Stops[stopIdx].Departures
				cLabel.i = len(deps)
				if cLabel.i >= stopsCompletedUp[stopIdx] {
					cLabel.i = stopsCompletedUp[stopIdx]
					streak = true
				}
				if cLabel.i == 0 {
					streak = false
					continue
				}
				cLabel.i--
			} else {
				break advance
			}

			depIdx := g.Order[deps[cLabel.i]]
			depVisited := visited[depIdx]
			if depVisited == 2 {
				stats.encounter2++
				continue
			}

			if streak {
				stopsCompletedUp[stopIdx] = cLabel.i + 1
				streak = false
			}
			found = true
			stats.found++
			dep := g.Connections[depIdx]
			isContinuing := cLabel.footpathI == len(footpaths) && c.IsConsecutive(dep)
			if !isContinuing {
				transferTime := g.Stops[stopIdx].TransferTime
				if cLabel.footpathI != len(footpaths) {
					transferTime = footpaths[cLabel.footpathI].Duration
				}
				reachable := p.Store.BeforeProbability(c.Arrival, c.ProductType, false, dep.Departure, dep.ProductType, transferTime, p.Now)
				if reachable <= p.EpsilonReachable {
					if reachable == 0.0 {
						diff := int16(dep.Departure.Projected() - c.Arrival.Projected() - transferTime)
						if diff < p.Store.MinDelayDiff() {
							cLabel.i = 0
						}
					}
					continue
				}
			}

			if depVisited == 1 {
				stats.encounter1++
				cutSuccessorI := p.findCutWithLowestTransferTime(g, c, dep, depIdx, stack, stats)
				if cutSuccessorI == len(stack) {
					if p.EpsilonReachable == 0.0 {
						g.Cut[CutEdge{c.ID, dep.ID}] = struct{}{}
					}
					if c.ID == dep.ID {
						stats.cycleSelfCount++
					}
					continue
				}
				if p.EpsilonReachable == 0.0 {
					predecessor := g.Connections[stack[cutSuccessorI-1]].ID
					successor := g.Connections[stack[cutSuccessorI]].ID
					g.Cut[CutEdge{predecessor, successor}] = struct{}{}
				}
				stats.unravelingNo += len(stack) - cutSuccessorI
				for k := cutSuccessorI; k < len(stack); k++ {
					idx := stack[k]
					labels[idx].i++
					visited[idx] = 0
				}
				stack = stack[:cutSuccessorI]
				break advance
			} else if depVisited != 0 {
				panic("stochastic: unexpected dfs visited state")
			}
			stack = append(stack, depIdx)
			break advance
		}

		if !found {
			labels[cIdx].order = *topoIdx
			*topoIdx++
			visited[cIdx] = 2
			stack = stack[:len(stack)-1]
		}
	}
}

// findCutWithLowestTransferTime walks the cycle on stack back to dep_idx
// and returns the stack position i whose incoming edge stack[i-1]->stack[i]
// has the smallest predicted transfer time, or len(stack) when the closing
// c->dep edge is the smallest - the edge the cut removes to break the
// cycle.
func (p *Preprocessor) findCutWithLowestTransferTime(g *ConnectionGraph, c, dep Connection, depIdx int, stack []int, stats *preprocessStats) int {
	minTransfer := dep.Departure.Projected() - c.Arrival.Projected()
	if c.IsConsecutive(dep) {
		minTransfer = 1
	}
	minI := len(stack)
	i := len(stack)
	for stack[i-1] != depIdx {
		i--
		a := g.Connections[stack[i-1]]
		b := g.Connections[stack[i]]
		if a.IsConsecutive(b) {
			continue
		}
		predicted := b.Departure.Projected() - a.Arrival.Projected()
		if predicted < minTransfer {
			minTransfer = predicted
			minI = i
		}
	}
	stats.cycleSumLen += len(stack) - i
	if len(stack)-i > stats.cycleMaxLen {
		stats.cycleMaxLen = len(stack) - i
	}
	return minI
}
