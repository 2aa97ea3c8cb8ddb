package stochastic

import "testing"

func TestPreprocessNoCycle(t *testing.T) {
	stops := []Stop{
		{ID: "A", Departures: []int{0}},
		{ID: "B", Arrivals: []int{0}, Departures: []int{1}, TransferTime: 3},
		{ID: "C", Arrivals: []int{1}},
	}
	connections := []Connection{
		{ID: 0, RouteIdx: 0, TripID: 1, FromIdx: 0, ToIdx: 1,
			Departure: StopInfo{Scheduled: 10, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 20, InOutAllowed: true}, ProductType: 100},
		{ID: 1, RouteIdx: 1, TripID: 2, FromIdx: 1, ToIdx: 2,
			Departure: StopInfo{Scheduled: 25, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 40, InOutAllowed: true}, ProductType: 100},
	}
	g := NewConnectionGraph(stops, connections)
	p := NewPreprocessor(NewStore(), 0)
	p.Preprocess(g)

	if len(g.Cut) != 0 {
		t.Fatalf("expected no cut edges, got %v", g.Cut)
	}
	if len(g.Connections) != 2 {
		t.Fatalf("expected 2 connections to survive, got %d", len(g.Connections))
	}
	// the backward sweep needs the later-departing connection (B->C)
	// ordered before the earlier one (A->B).
	if g.Connections[0].ID != 1 || g.Connections[1].ID != 0 {
		t.Errorf("unexpected topological order: %+v", g.Connections)
	}
}

// TestPreprocessCutsWeakestEdgeOfCycle builds a 3-connection cycle formed
// entirely through footpaths (c0 -> c1 -> c2 -> c0) and checks that
// preprocessing cuts exactly one edge: the one with the smallest raw
// (departure projected - arrival projected) slack, here the closing
// c2->c0 edge at slack -2 versus +1 for the other two edges.
func TestPreprocessCutsWeakestEdgeOfCycle(t *testing.T) {
	stops := []Stop{
		{ID: "s0", Departures: []int{0}},
		{ID: "s1", Arrivals: []int{0}, Footpaths: []Footpath{{TargetStopIdx: 2, Duration: 0}}},
		{ID: "s2", Departures: []int{1}},
		{ID: "s3", Arrivals: []int{1}, Footpaths: []Footpath{{TargetStopIdx: 4, Duration: 0}}},
		{ID: "s4", Departures: []int{2}},
		{ID: "s5", Arrivals: []int{2}, Footpaths: []Footpath{{TargetStopIdx: 0, Duration: 0}}},
	}
	connections := []Connection{
		{ID: 0, RouteIdx: 0, TripID: 0, FromIdx: 0, ToIdx: 1,
			Departure: StopInfo{Scheduled: 0, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 0, InOutAllowed: true}, ProductType: 100},
		{ID: 1, RouteIdx: 1, TripID: 1, FromIdx: 2, ToIdx: 3,
			Departure: StopInfo{Scheduled: 1, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 1, InOutAllowed: true}, ProductType: 100},
		{ID: 2, RouteIdx: 2, TripID: 2, FromIdx: 4, ToIdx: 5,
			Departure: StopInfo{Scheduled: 2, InOutAllowed: true},
			Arrival:   StopInfo{Scheduled: 2, InOutAllowed: true}, ProductType: 100},
	}
	g := NewConnectionGraph(stops, connections)
	p := NewPreprocessor(NewStore(), 0)
	p.Preprocess(g)

	if len(g.Cut) != 1 {
		t.Fatalf("expected exactly one cut edge, got %d: %v", len(g.Cut), g.Cut)
	}
	if !g.IsCut(2, 0) {
		t.Errorf("expected the weakest edge (connection 2 -> connection 0, slack -2) to be cut, got %v", g.Cut)
	}
}
