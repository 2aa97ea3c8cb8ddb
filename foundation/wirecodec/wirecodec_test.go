package wirecodec

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := Graph{
		CorpusVersion: 7,
		GeneratedAt:   1234,
		Stops: []Stop{
			{ID: "A", TransferTime: 3, Footpaths: []Footpath{{TargetStopIdx: 1, Duration: -2}}, DepartureConn: []int32{0}},
			{ID: "B", ParentIdx: 0, ArrivalConns: []int32{0}},
		},
		Connections: []Connection{
			{ID: 0, RouteIdx: 0, TripID: 1, FromIdx: 0, ToIdx: 1, DepartureSched: 10, ArrivalSched: 20, ProductType: 100},
		},
		Cut: []CutEdge{{From: 2, To: 0}},
	}

	data := Encode(g)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if got.CorpusVersion != g.CorpusVersion || got.GeneratedAt != g.GeneratedAt {
		t.Errorf("header mismatch: got %+v", got)
	}
	if len(got.Stops) != 2 || got.Stops[0].ID != "A" || got.Stops[1].ID != "B" {
		t.Fatalf("stops mismatch: got %+v", got.Stops)
	}
	if got.Stops[0].TransferTime != 3 || len(got.Stops[0].Footpaths) != 1 || got.Stops[0].Footpaths[0].Duration != -2 {
		t.Errorf("stop A fields mismatch: got %+v", got.Stops[0])
	}
	if len(got.Connections) != 1 || got.Connections[0].ArrivalSched != 20 {
		t.Fatalf("connections mismatch: got %+v", got.Connections)
	}
	if len(got.Cut) != 1 || got.Cut[0] != (CutEdge{From: 2, To: 0}) {
		t.Errorf("cut edges mismatch: got %+v", got.Cut)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	// A varint field the decoder doesn't know about, followed by a real
	// corpus_version field - the unknown field must be skipped without
	// disturbing the fields that follow it.
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = append(b, Encode(Graph{CorpusVersion: 5})...)

	g, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if g.CorpusVersion != 5 {
		t.Errorf("expected corpus version 5 to survive past an unknown field, got %d", g.CorpusVersion)
	}
}
