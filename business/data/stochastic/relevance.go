package stochastic

import "sort"

// RelevanceExtractor walks the label lists a query produced to find
// which stops and connection pairs actually carry the probability mass
// between an origin and destination, so a realtime re-query can revisit
// only what matters instead of the whole graph.
type RelevanceExtractor struct {
	Store *Store
	Graph *ConnectionGraph
	Now   Mtime

	EpsilonReachable float64
	EpsilonFeasible  float64
	Domination       bool
	Contraction      *Contraction
}

// NewRelevanceExtractor builds a RelevanceExtractor sharing the same
// epsilon and domination settings the query that produced stationLabels
// was run with.
func NewRelevanceExtractor(store *Store, graph *ConnectionGraph, now Mtime, epsilonReachable, epsilonFeasible float64, domination bool) *RelevanceExtractor {
	return &RelevanceExtractor{
		Store:            store,
		Graph:            graph,
		Now:              now,
		EpsilonReachable: epsilonReachable,
		EpsilonFeasible:  epsilonFeasible,
		Domination:       domination,
	}
}

type relevanceStackEntry struct {
	connIdx int
	prob    float64
}

// RelevantStations walks forward from originIdx, following each label
// list's best-probability departures toward destinationIdx, and returns
// the weight (accumulated probability mass) of every stop the walk
// passed through. extendByContraction additionally credits each found
// stop's footpath neighbours, so a caller doing station contraction
// doesn't miss a physically-equivalent platform.
func (r *RelevanceExtractor) RelevantStations(originIdx, destinationIdx int, stationLabels [][]ConnectionLabel, extendByContraction bool) map[int]float64 {
	g := r.Graph
	weights := make(map[int]float64)
	if len(g.Connections) == 0 {
		return weights
	}

	stack := []relevanceStackEntry{{connIdx: 0, prob: 1.0}}
	initial := true

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := g.Connections[e.connIdx]

		stationIdx := c.ToIdx
		if initial {
			stationIdx = originIdx
		}
		if r.Contraction != nil && !initial && r.Contraction.StopToGroup[c.ToIdx] == r.Contraction.StopToGroup[originIdx] {
			continue
		}

		footpaths := g.Stops[stationIdx].Footpaths
		if stationIdx == destinationIdx {
			weights[stationIdx] += e.prob
			for _, f := range footpaths {
				weights[f.TargetStopIdx] += e.prob
			}
			continue
		}

		departureLists := [][]ConnectionLabel{stationLabels[stationIdx]}
		transferTimes := []Mtime{g.Stops[stationIdx].TransferTime}
		for _, f := range footpaths {
			if f.TargetStopIdx == destinationIdx {
				weights[stationIdx] += e.prob
				for _, f2 := range footpaths {
					weights[f2.TargetStopIdx] += e.prob
				}
			} else {
				departureLists = append(departureLists, stationLabels[f.TargetStopIdx])
				transferTimes = append(transferTimes, f.Duration)
			}
		}

		is := make([]int, len(transferTimes))
		remainingProbability := 1.0
		var lastDeparture *StopInfo
		var lastTransferTime Mtime
		var lastProductType int16
		haveLast := false

		for remainingProbability > r.EpsilonFeasible {
			minMean := 1440.0 * 100.0
			minK := -1
			for k := range departureLists {
				if is[k] < len(departureLists[k]) {
					cand := departureLists[k][len(departureLists[k])-is[k]-1].DestinationArrival.Mean
					if cand < minMean {
						minMean = cand
						minK = k
					}
				}
			}
			if minK < 0 {
				break
			}

			depLabel := departureLists[minK][len(departureLists[minK])-is[minK]-1]
			p := depLabel.DestinationArrival.Feasibility
			dep := g.Connections[g.Order[depLabel.ConnectionID]]
			is[minK]++
			transferTime := transferTimes[minK]
			if r.Contraction != nil {
				transferTime = r.Contraction.GetTransferTime(c.ToIdx, dep.FromIdx)
			}

			if !r.Domination && initial && haveLast && dep.Departure.Projected()-transferTime+10 < lastDeparture.Projected()-lastTransferTime {
				continue
			}
			if !initial && g.IsCut(c.ID, dep.ID) {
				continue
			}
			if !initial && (!c.IsConsecutive(dep) || dep.Message == WalkingMessage) {
				p *= r.Store.BeforeProbability(c.Arrival, c.ProductType, false, dep.Departure, dep.ProductType, transferTime, r.Now)
			}
			if !r.Domination && haveLast {
				p *= r.Store.BeforeProbability(*lastDeparture, lastProductType, true, dep.Departure, dep.ProductType, transferTime-lastTransferTime, r.Now)
			}
			if p > 0.0 {
				lastDeparture = &dep.Departure
				lastTransferTime = transferTime
				lastProductType = dep.ProductType
				haveLast = true
			}
			if p <= r.EpsilonReachable {
				continue
			}

			depProb := p * remainingProbability * e.prob / depLabel.DestinationArrival.Feasibility
			if initial || !c.IsConsecutive(dep) {
				weights[dep.FromIdx] += depProb
				if stationIdx != dep.FromIdx {
					weights[stationIdx] += depProb
				}
			}
			if !initial {
				remainingProbability = clamp01(1.0-p) * remainingProbability
			}
			if depProb > r.EpsilonFeasible && depLabel.DestinationArrival.Feasibility >= 1.0-r.EpsilonFeasible {
				stack = append(stack, relevanceStackEntry{connIdx: g.Order[depLabel.ConnectionID], prob: depProb})
				if dep.ID < len(g.Relevance) {
					g.Relevance[dep.ID] = minFloat(g.Relevance[dep.ID]+depProb, 1.0)
				}
			}
		}
		initial = false
	}

	if extendByContraction {
		snapshot := make(map[int]float64, len(weights))
		for k, v := range weights {
			snapshot[k] = v
		}
		for stationIdx, w := range snapshot {
			for _, f := range g.Stops[stationIdx].Footpaths {
				weights[f.TargetStopIdx] += w
			}
		}
	}
	return weights
}

type tripConnEntry struct {
	connIdx     int
	isDeparture bool
}

// RelevantConnectionPairs picks the maxStationCount highest-weighted
// stations from weights and, for every trip touching one of their
// arrivals or departures, pairs up consecutive relevant legs: the
// result maps an arrival connection id to the departure connection id
// that precedes it in that trip, restricting a subsequent PairQuery to
// exactly those legs.
func (r *RelevanceExtractor) RelevantConnectionPairs(weights map[int]float64, maxStationCount int, startTime, maxTime Mtime) map[int]int {
	g := r.Graph
	type stationWeight struct {
		idx    int
		weight float64
	}
	stations := make([]stationWeight, 0, len(weights))
	for idx, w := range weights {
		stations = append(stations, stationWeight{idx, w})
	}
	sort.SliceStable(stations, func(i, j int) bool { return stations[i].weight > stations[j].weight })

	tripIDToConnIdxs := make(map[int32][]tripConnEntry)
	maxDelay := r.Store.MaxDelay

	limit := maxStationCount
	if len(stations) < limit {
		limit = len(stations)
	}
	for i := 0; i < limit; i++ {
		stop := g.Stops[stations[i].idx]
		for _, arr := range stop.Arrivals {
			r.insertRelevantConnIdx(arr, tripIDToConnIdxs, false, startTime, maxTime, maxDelay)
		}
		for _, dep := range stop.Departures {
			r.insertRelevantConnIdx(dep, tripIDToConnIdxs, true, startTime, maxTime, maxDelay)
		}
	}

	connectionPairs := make(map[int]int)
	for _, trip := range tripIDToConnIdxs {
		if len(trip) == 1 {
			c := g.Connections[trip[0].connIdx]
			_, fromOk := weights[c.FromIdx]
			_, toOk := weights[c.ToIdx]
			if c.Message == WalkingMessage && fromOk && toOk {
				connectionPairs[c.ID] = c.ID
			}
			continue
		}
		sort.SliceStable(trip, func(a, b int) bool {
			ca, cb := g.Connections[trip[a].connIdx], g.Connections[trip[b].connIdx]
			if ca.Departure.Scheduled != cb.Departure.Scheduled {
				return ca.Departure.Scheduled < cb.Departure.Scheduled
			}
			if ca.ID != cb.ID {
				return ca.ID < cb.ID
			}
			return trip[a].isDeparture && !trip[b].isDeparture
		})
		i := 0
		if !trip[0].isDeparture {
			i = 1
		}
		for i+1 < len(trip) {
			from := g.Connections[trip[i+1].connIdx]
			to := g.Connections[trip[i].connIdx]
			connectionPairs[from.ID] = to.ID
			i += 2
		}
	}
	return connectionPairs
}

func (r *RelevanceExtractor) insertRelevantConnIdx(connID int, tripIDToConnIdxs map[int32][]tripConnEntry, isDeparture bool, startTime, maxTime, maxDelay Mtime) {
	g := r.Graph
	connIdx := g.Order[connID]
	c := g.Connections[connIdx]
	if c.Departure.Projected()+maxDelay < startTime || c.Departure.Projected() >= maxTime {
		return
	}
	tripID := c.TripID
	if c.Message == WalkingMessage {
		tripID = int32(len(g.Connections) + len(tripIDToConnIdxs))
	}
	tripIDToConnIdxs[tripID] = append(tripIDToConnIdxs[tripID], tripConnEntry{connIdx: connIdx, isDeparture: isDeparture})
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
