package stochastic

import (
	"math"
	"testing"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// buildABCGraph returns a two-connection graph already in the
// post-preprocess order a backward sweep needs (latest-departing
// connection first): A -(c0)-> B -(c1)-> C, transfer time at B of 3
// minutes, both connections on product type 100 so Store's seeded
// fallback distributions (uniform(0,3) departure delay, uniform(-2,3)
// arrival delay) supply their distributions without any custom corpus.
func buildABCGraph() *ConnectionGraph {
	stops := []Stop{
		{ID: "A", Departures: []int{0}},
		{ID: "B", Arrivals: []int{0}, Departures: []int{1}, TransferTime: 3},
		{ID: "C", Arrivals: []int{1}},
	}
	c0 := Connection{ID: 0, RouteIdx: 0, TripID: 1, FromIdx: 0, ToIdx: 1,
		Departure: StopInfo{Scheduled: 10, InOutAllowed: true},
		Arrival:   StopInfo{Scheduled: 20, InOutAllowed: true}, ProductType: 100}
	c1 := Connection{ID: 1, RouteIdx: 1, TripID: 2, FromIdx: 1, ToIdx: 2,
		Departure: StopInfo{Scheduled: 25, InOutAllowed: true},
		Arrival:   StopInfo{Scheduled: 40, InOutAllowed: true}, ProductType: 100}

	return &ConnectionGraph{
		Stops:              stops,
		Connections:        []Connection{c1, c0},
		Order:              []int{1, 0},
		Cut:                make(map[CutEdge]struct{}),
		DestinationArrival: make([]Distribution, 2),
		Relevance:          make([]float64, 2),
	}
}

// TestQueryUniformTransfer is the "S1" scenario: exactly one label
// should survive at the origin, fully feasible, with the destination
// arrival mean taken from the B->C leg's arrival delay distribution
// (the A->B leg only contributes a certain transfer).
func TestQueryUniformTransfer(t *testing.T) {
	g := buildABCGraph()
	q := NewQueryEngine(NewStore(), g, 0, 0.0, false)

	labels := q.Query(Query{OriginIdx: 0, DestinationIdx: 2, StartTime: 0, MaxTime: 60})

	origin := labels[0]
	if len(origin) != 1 {
		t.Fatalf("expected exactly one label at the origin, got %d: %+v", len(origin), origin)
	}
	if origin[0].DestinationArrival.Feasibility != 1.0 {
		t.Errorf("expected feasibility 1.0, got %f", origin[0].DestinationArrival.Feasibility)
	}
	if !approxEqual(origin[0].DestinationArrival.Mean, 39.0, 1e-9) {
		t.Errorf("expected destination arrival mean 39.0 (scheduled arrival 40 shifted by uniform(-2,3)'s mean of -1), got %f", origin[0].DestinationArrival.Mean)
	}
}

// TestQueryContractionMatchesUncontracted is the "S4" scenario: two
// platforms under one logical station, one minute apart by footpath.
// Querying to platform B2 directly and through BuildContraction's
// grouping must produce the same destination arrival mean at the
// origin.
func TestQueryContractionMatchesUncontracted(t *testing.T) {
	stops := []Stop{
		{ID: "A", Departures: []int{0}},
		{ID: "B1", Arrivals: []int{0}, Footpaths: []Footpath{{TargetStopIdx: 2, Duration: 1}}},
		{ID: "B2"},
	}
	c0 := Connection{ID: 0, RouteIdx: 0, TripID: 1, FromIdx: 0, ToIdx: 1,
		Departure: StopInfo{Scheduled: 0, InOutAllowed: true},
		Arrival:   StopInfo{Scheduled: 10, InOutAllowed: true}, ProductType: 100}

	runQuery := func(contraction *Contraction) float64 {
		g := NewConnectionGraph(stops, []Connection{c0})
		q := NewQueryEngine(NewStore(), g, 0, 0.0, false)
		q.Contraction = contraction
		labels := q.Query(Query{OriginIdx: 0, DestinationIdx: 2, StartTime: 0, MaxTime: 60})
		if len(labels[0]) != 1 {
			t.Fatalf("expected exactly one label at the origin, got %d", len(labels[0]))
		}
		return labels[0][0].DestinationArrival.Mean
	}

	uncontracted := runQuery(nil)
	contracted := runQuery(BuildContraction(stops))

	if !approxEqual(uncontracted, contracted, 1e-3) {
		t.Errorf("contraction changed the destination arrival mean: uncontracted=%f contracted=%f", uncontracted, contracted)
	}
}

// TestPairQuerySubsetOfFullQuery is the "S5" scenario: restricting the
// sweep to the relevant connection pairs must not surface a label
// absent from, or in disagreement with, the full query's best label.
func TestPairQuerySubsetOfFullQuery(t *testing.T) {
	g := buildABCGraph()
	q := NewQueryEngine(NewStore(), g, 0, 0.0, false)
	query := Query{OriginIdx: 0, DestinationIdx: 2, StartTime: 0, MaxTime: 60}

	full := q.Query(query)
	if len(full[0]) == 0 {
		t.Fatal("expected the full query to find a label at the origin")
	}

	r := NewRelevanceExtractor(q.Store, g, 0, 0.0, 0.0, false)
	weights := r.RelevantStations(0, 2, full, false)
	pairs := r.RelevantConnectionPairs(weights, len(g.Stops), 0, 60)

	restricted := q.PairQuery(query, pairs)
	if len(restricted[0]) > len(full[0]) {
		t.Errorf("pair query produced more labels than the full query: %d > %d", len(restricted[0]), len(full[0]))
	}
	if len(restricted[0]) == 0 {
		t.Fatal("expected the pair-restricted query to still find a label at the origin")
	}
	if !approxEqual(restricted[0][0].DestinationArrival.Mean, full[0][0].DestinationArrival.Mean, 1e-6) {
		t.Errorf("pair query's best mean diverged from the full query: restricted=%f full=%f",
			restricted[0][0].DestinationArrival.Mean, full[0][0].DestinationArrival.Mean)
	}
}

// TestRealtimeUpdateShiftsDepartureMean is the "S6" scenario: a
// realtime delay pushed onto a connection's departure must shift that
// connection's label departure_mean (domination mode only - that is
// the one field a delay update directly re-derives) by exactly the
// delay.
func TestRealtimeUpdateShiftsDepartureMean(t *testing.T) {
	stops := []Stop{
		{ID: "A", Departures: []int{0}},
		{ID: "B"},
	}
	connections := []Connection{
		{ID: 0, RouteIdx: 0, TripID: 1, FromIdx: 0, ToIdx: 1,
			Departure: StopInfo{Scheduled: 10, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 20, InOutAllowed: true}, ProductType: 100},
	}
	g := NewConnectionGraph(stops, connections)
	store := NewStore()

	runQuery := func() float64 {
		q := NewQueryEngine(store, g, 0, 0.0, false)
		q.Domination = true
		labels := q.Query(Query{OriginIdx: 0, DestinationIdx: 1, StartTime: 0, MaxTime: 60})
		if len(labels[0]) != 1 {
			t.Fatalf("expected exactly one label at the origin, got %d", len(labels[0]))
		}
		return labels[0][0].DepartureMean
	}

	before := runQuery()
	delay := int16(15)
	g.ByID(0).Update(true, nil, nil, &delay)
	after := runQuery()

	if !approxEqual(after-before, 15.0, 1e-9) {
		t.Errorf("expected departure mean to shift by exactly 15 minutes, shifted by %f", after-before)
	}
}
