package stochastic

import (
	logger "log"
	"sort"
)

// Walking connections are synthesized during a query to represent a
// footpath taken instead of boarding another trip. They carry a
// dedicated product type and message so downstream consumers (and a
// second relevance pass) can tell them apart from scheduled legs.
const (
	WalkingProductType     int16   = -2
	WalkingMessage         string  = "Walk"
	WalkingRelevanceThresh float64 = 1e-3
)

// Query names an origin/destination stop pair and the departure-time
// window the sweep should consider.
type Query struct {
	OriginIdx, DestinationIdx int
	StartTime, MaxTime        Mtime
}

// ConnectionLabel is one Pareto-surviving alternative kept at a stop
// during the sweep: which connection to board, the distribution of
// arrival time at the destination riding it leads to, and either
// ProbAfter (non-domination mode: the probability a later, cheaper
// alternative in the same list is chosen instead) or DepartureMean
// (domination mode: the mean departure time used to keep the list
// pruned to non-dominated entries).
type ConnectionLabel struct {
	ConnectionID       int
	DestinationArrival Distribution
	ProbAfter          float64
	DepartureMean      float64
}

// footpathDistribution pairs a stop's Footpaths index with the
// destination-arrival distribution reachable by taking it.
type footpathDistribution struct {
	FootpathIdx int
	Dist        Distribution
}

type queryStats struct {
	lookedAt int
	deps     int
}

// QueryEngine runs the backward sweep over a preprocessed
// ConnectionGraph, producing per-stop label lists ordered by
// destination-arrival mean. Domination selects which of two
// near-identical label-list maintenance strategies is used: true keeps
// only the single best label per departure-mean rank (pruned by
// DepartureMean), false keeps every non-dominated label annotated with
// ProbAfter so a caller can weight across alternatives.
type QueryEngine struct {
	Store *Store
	Graph *ConnectionGraph
	Log   *logger.Logger

	Now              Mtime
	EpsilonReachable float64
	EpsilonFeasible  float64
	MeanOnly         bool
	Domination       bool
	Contraction      *Contraction
}

// NewQueryEngine builds a QueryEngine sharing epsilon for both the
// reachability and feasibility thresholds, matching the teacher's
// single-epsilon query entry point.
func NewQueryEngine(store *Store, graph *ConnectionGraph, now Mtime, epsilon float64, meanOnly bool) *QueryEngine {
	return &QueryEngine{
		Store:            store,
		Graph:            graph,
		Now:              now,
		EpsilonReachable: epsilon,
		EpsilonFeasible:  epsilon,
		MeanOnly:         meanOnly,
	}
}

// Query runs a full sweep over every connection in the graph.
func (q *QueryEngine) Query(query Query) [][]ConnectionLabel {
	return q.PairQuery(query, nil)
}

// PairQuery restricts the sweep to the connections named in
// connectionPairs. Each key is a connection id that is swept (the
// arriving end of a relevant trip segment) and its value is the id of
// the departure connection paired with it, the orientation
// RelevantConnectionPairs returns; a map keyed by departure id restricts
// the sweep to the departures instead. Used by realtime re-queries that
// only need to revisit a trip's affected legs instead of the whole graph.
func (q *QueryEngine) PairQuery(query Query, connectionPairs map[int]int) [][]ConnectionLabel {
	return q.fullQuery(query, connectionPairs)
}

func (q *QueryEngine) fullQuery(query Query, connectionPairs map[int]int) [][]ConnectionLabel {
	g := q.Graph
	var materializedFootpaths []Connection

	var connectionPairIDs []int
	if len(connectionPairs) > 0 {
		connectionPairIDs = make([]int, len(g.Connections))
		for i := range connectionPairIDs {
			connectionPairIDs[i] = -1
		}
		for fromID, toID := range connectionPairs {
			connectionPairIDs[g.Order[fromID]] = toID
		}
	}

	stats := &queryStats{}
	stationLabels := make([][]ConnectionLabel, len(g.Stops))
	maxDelay := q.Store.MaxDelay

	for i := 0; i < len(g.Connections); i++ {
		if len(connectionPairIDs) > 0 && connectionPairIDs[i] == -1 {
			continue
		}
		c := g.Connections[i]
		if c.Departure.Projected()+maxDelay < query.StartTime || c.Departure.Projected() >= query.MaxTime {
			continue
		}
		stats.lookedAt++

		stopIdx := c.ToIdx
		destIdx := query.DestinationIdx
		if q.Contraction != nil {
			stopIdx = q.Contraction.StopToGroup[c.ToIdx]
			destIdx = q.Contraction.StopToGroup[query.DestinationIdx]
		}

		var newDistribution Distribution
		if stopIdx == destIdx {
			if !c.Arrival.InOutAllowed {
				if !q.MeanOnly {
					g.DestinationArrival[c.ID] = Empty(c.Arrival.Scheduled)
				}
				continue
			}
			newDistribution = q.Store.DelayDistribution(c.Arrival, false, c.ProductType, q.Now)
			if c.ToIdx != query.DestinationIdx {
				newDistribution = newDistribution.Shift(q.Contraction.GetTransferTime(c.ToIdx, query.DestinationIdx))
			}
		} else {
			newDistribution = Empty(c.Arrival.Scheduled)
			if q.Contraction == nil {
				q.calculateDestinationArrivalWithFootpaths(stopIdx, query, c, i, stationLabels, &materializedFootpaths, &newDistribution, stats)
			} else {
				if len(stationLabels[stopIdx]) == 0 {
					continue
				}
				q.calculateContractedDestinationArrival(stopIdx, i, stationLabels, &newDistribution, stats)
			}
		}

		q.insertDepartureLabel(connectionPairIDs, i, c, newDistribution, stationLabels)
	}

	// Materialized footpath connections are appended past the end of the
	// graph's stable id range; like the teacher they are not folded back
	// into Order, so Order and ByID lookups do not reach them.
	g.Connections = append(g.Connections, materializedFootpaths...)

	if q.Log != nil {
		q.Log.Printf("query: looked_at=%d deps=%d materialized_footpaths=%d\n", stats.lookedAt, stats.deps, len(materializedFootpaths))
	}
	q.Store.PrintStats()
	return stationLabels
}

func (q *QueryEngine) calculateDestinationArrivalWithFootpaths(stopIdx int, query Query, c Connection, i int, stationLabels [][]ConnectionLabel, materializedFootpaths *[]Connection, newDistribution *Distribution, stats *queryStats) {
	g := q.Graph
	footpaths := g.Stops[stopIdx].Footpaths
	var footpathDistributions []footpathDistribution

	for fi, f := range footpaths {
		var footpathDestArr Distribution
		if f.TargetStopIdx == query.DestinationIdx {
			if !c.Arrival.InOutAllowed {
				if !q.MeanOnly {
					g.DestinationArrival[c.ID] = Empty(c.Arrival.Scheduled)
				}
				continue
			}
			footpathDestArr = q.Store.DelayDistribution(c.Arrival, false, c.ProductType, q.Now).Shift(f.Duration)
		} else {
			footpathDestArr = Empty(0)
			q.calculateDestinationArrival(f.TargetStopIdx, i, -1, -1, c.ProductType, c.Arrival, f.Duration, stationLabels, nil, materializedFootpaths, &footpathDestArr, stats)
		}
		if footpathDestArr.Feasibility > 0.0 {
			footpathDistributions = append(footpathDistributions, footpathDistribution{FootpathIdx: fi, Dist: footpathDestArr})
		}
	}

	sort.SliceStable(footpathDistributions, func(a, b int) bool {
		return footpathDistributions[a].Dist.Mean < footpathDistributions[b].Dist.Mean
	})

	q.calculateDestinationArrival(stopIdx, i, int(c.TripID), c.RouteIdx, c.ProductType, c.Arrival, g.Stops[stopIdx].TransferTime, stationLabels, footpathDistributions, materializedFootpaths, newDistribution, stats)
}

func (q *QueryEngine) calculateDestinationArrival(stationIdx, cIdx, fromTripID, fromRouteIdx int, fromProductType int16, fromArrival StopInfo, transferTime Mtime, stationLabels [][]ConnectionLabel, footpathDistributions []footpathDistribution, materializedFootpaths *[]Connection, newDistribution *Distribution, stats *queryStats) {
	g := q.Graph
	remainingProbability := 1.0
	var lastDeparture *StopInfo
	var lastProductType int16
	departures := stationLabels[stationIdx]
	departuresI, footpathsI := 0, 0
	c := g.Connections[cIdx]

	for departuresI < len(departures) || footpathsI < len(footpathDistributions) {
		var destArrDist *Distribution
		var departure *StopInfo
		var departureProductType int16
		isContinuing := false
		effTransferTime := transferTime
		var departureConnection *Connection

		if footpathsI < len(footpathDistributions) {
			destArrDist = &footpathDistributions[footpathsI].Dist
			departure = &c.Arrival
			departureProductType = c.ProductType
			isContinuing = true
		}
		if departuresI < len(departures) {
			depI := len(departures) - 1 - departuresI
			label := departures[depI]
			dep := g.Connections[g.Order[label.ConnectionID]]
			if g.IsCut(c.ID, dep.ID) {
				departuresI++
				continue
			}
			if destArrDist != nil && label.DestinationArrival.Mean > destArrDist.Mean {
				footpathsI++
			} else {
				departuresI++
				destArrDist = &label.DestinationArrival
				departure = &dep.Departure
				departureProductType = dep.ProductType
				isContinuing = fromTripID == int(dep.TripID) && fromRouteIdx == dep.RouteIdx &&
					fromArrival.Scheduled <= dep.Departure.Scheduled && c.ID != dep.ID && c.ToIdx == dep.FromIdx
				if q.Contraction != nil {
					effTransferTime = q.Contraction.GetTransferTime(c.ToIdx, dep.FromIdx)
				}
				depCopy := dep
				departureConnection = &depCopy
			}
		} else {
			footpathsI++
		}

		stats.deps++
		p := destArrDist.Feasibility
		if !q.Domination && lastDeparture != nil {
			p *= q.Store.BeforeProbability(*lastDeparture, lastProductType, true, *departure, departureProductType, 1, q.Now)
		}
		if p > 0.0 && !isContinuing {
			p *= q.Store.BeforeProbability(fromArrival, fromProductType, false, *departure, departureProductType, effTransferTime, q.Now)
		}
		if p > 0.0 {
			pTaking := p * remainingProbability
			newDistribution.Add(*destArrDist, pTaking, q.MeanOnly)
			q.materializeFootpath(pTaking, departureConnection, footpathDistributions, footpathsI, stationIdx, materializedFootpaths, departure, fromProductType, c.ID)
			remainingProbability = clamp01(1.0-p) * remainingProbability
			lastDeparture = departure
			lastProductType = departureProductType
			if remainingProbability <= q.EpsilonFeasible {
				break
			}
		}
	}

	newDistribution.Feasibility = clamp01(1.0 - remainingProbability)
	if newDistribution.Feasibility < 1.0 {
		newDistribution.Normalize(q.MeanOnly, q.EpsilonFeasible*q.EpsilonFeasible)
	}
}

// materializeFootpath records a synthetic walking Connection when a
// footpath alternative was actually taken with meaningful probability,
// so a later relevance pass can surface it as a real leg of the
// journey rather than silently folding it into the boarding
// connection's distribution.
func (q *QueryEngine) materializeFootpath(pTaking float64, departureConnection *Connection, footpathDistributions []footpathDistribution, footpathsI, stationIdx int, materializedFootpaths *[]Connection, departure *StopInfo, fromProductType int16, cID int) {
	if q.MeanOnly || fromProductType == WalkingProductType || pTaking <= WalkingRelevanceThresh || departureConnection != nil {
		return
	}
	g := q.Graph
	fd := footpathDistributions[footpathsI-1]
	footpath := g.Stops[stationIdx].Footpaths[fd.FootpathIdx]
	id := len(g.Connections) + len(*materializedFootpaths)
	projected := departure.Projected()

	c := Connection{
		ID:          id,
		RouteIdx:    id,
		TripID:      int32(cID),
		ProductType: WalkingProductType,
		FromIdx:     stationIdx,
		ToIdx:       footpath.TargetStopIdx,
		Departure:   StopInfo{Scheduled: projected, InOutAllowed: true},
		Arrival:     StopInfo{Scheduled: projected + footpath.Duration, InOutAllowed: true},
		Message:     WalkingMessage,
	}
	g.DestinationArrival = append(g.DestinationArrival, fd.Dist)
	g.Relevance = append(g.Relevance, pTaking)
	*materializedFootpaths = append(*materializedFootpaths, c)
}

func (q *QueryEngine) calculateContractedDestinationArrival(stationIdx, cIdx int, stationLabels [][]ConnectionLabel, newDistribution *Distribution, stats *queryStats) {
	g := q.Graph
	contr := q.Contraction
	remainingProbability := 1.0
	departures := stationLabels[stationIdx]
	c := g.Connections[cIdx]

	for k := len(departures) - 1; k >= 0; k-- {
		depLabel := departures[k]
		stats.deps++
		dep := g.Connections[g.Order[depLabel.ConnectionID]]
		if g.IsCut(c.ID, dep.ID) {
			continue
		}
		p := depLabel.DestinationArrival.Feasibility * depLabel.ProbAfter
		if !c.IsConsecutive(dep) {
			transferTime := contr.GetTransferTime(c.ToIdx, dep.FromIdx)
			p *= q.Store.BeforeProbability(c.Arrival, c.ProductType, false, dep.Departure, dep.ProductType, transferTime, q.Now)
		}
		if p > 0.0 {
			pTaking := p * remainingProbability
			newDistribution.Add(depLabel.DestinationArrival, pTaking, q.MeanOnly)
			remainingProbability = (1.0 - p) * remainingProbability
			if remainingProbability <= q.EpsilonFeasible {
				break
			}
		}
	}

	newDistribution.Feasibility = clamp01(1.0 - remainingProbability)
	if newDistribution.Feasibility < 1.0 {
		newDistribution.Normalize(q.MeanOnly, q.EpsilonFeasible*q.EpsilonFeasible)
	}
}

func (q *QueryEngine) insertDepartureLabel(connectionPairIDs []int, i int, c Connection, newDistribution Distribution, stationLabels [][]ConnectionLabel) {
	g := q.Graph
	departureConn := c
	if len(connectionPairIDs) > 0 {
		departureConn = g.Connections[g.Order[connectionPairIDs[i]]]
	}
	departureStationIdx := departureConn.FromIdx
	if q.Contraction != nil {
		departureStationIdx = q.Contraction.StopToGroup[departureConn.FromIdx]
	}
	if !q.MeanOnly {
		g.DestinationArrival[departureConn.ID] = newDistribution
	}

	departures := stationLabels[departureStationIdx]
	if !(newDistribution.Feasibility > q.EpsilonFeasible && newDistribution.Feasibility > 1e-3) {
		return
	}

	j := len(departures) - 1
	for j >= 0 {
		if newDistribution.Mean < departures[j].DestinationArrival.Mean {
			break
		}
		j--
	}

	probAfter := 1.0
	departureMean := 0.0

	if q.Domination {
		departureMean = q.Store.DelayDistribution(departureConn.Departure, true, departureConn.ProductType, q.Now).Mean
		if j+1 < len(departures) && departureMean < departures[j+1].DepartureMean {
			return
		}
		if j >= 0 && departureMean > departures[j].DepartureMean {
			k := j - 1
			for k >= 0 && departureMean > departures[k].DepartureMean {
				k--
			}
			replaceUpTo := k + 1
			if replaceUpTo != j {
				departures = append(departures[:replaceUpTo], departures[j:]...)
			}
			departures[replaceUpTo] = ConnectionLabel{
				ConnectionID:       departureConn.ID,
				DestinationArrival: newDistribution,
				ProbAfter:          1.0,
				DepartureMean:      departureMean,
			}
			stationLabels[departureStationIdx] = departures
			return
		}
	} else {
		if j+1 < len(departures) {
			ref := g.Connections[g.Order[departures[j+1].ConnectionID]]
			probAfter = q.Store.BeforeProbability(ref.Departure, ref.ProductType, true, departureConn.Departure, departureConn.ProductType, 1, q.Now)
		}
		if probAfter > 0.0 && j >= 0 {
			ref := g.Connections[g.Order[departures[j].ConnectionID]]
			departures[j].ProbAfter = q.Store.BeforeProbability(departureConn.Departure, departureConn.ProductType, true, ref.Departure, ref.ProductType, 1, q.Now)
		}
	}

	if probAfter > 0.0 {
		newLabel := ConnectionLabel{
			ConnectionID:       departureConn.ID,
			DestinationArrival: newDistribution,
			ProbAfter:          probAfter,
			DepartureMean:      departureMean,
		}
		departures = insertConnectionLabel(departures, j+1, newLabel)
		stationLabels[departureStationIdx] = departures
	}
}

func insertConnectionLabel(s []ConnectionLabel, idx int, v ConnectionLabel) []ConnectionLabel {
	s = append(s, ConnectionLabel{})
	copy(s[idx+1:], s[idx:])
	s[idx] = v
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
