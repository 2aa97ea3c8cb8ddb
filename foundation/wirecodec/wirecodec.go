// Package wirecodec encodes and decodes the preprocessed connection graph
// cache blob persisted between journeyquery-svc restarts. It speaks the
// protobuf wire format directly through protowire's low level
// reader/writer so the on-disk shape can evolve without a .proto file or a
// protoc build step, while remaining byte-compatible with anything else
// that reads raw protobuf wire encoding.
package wirecodec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers used by the cache blob's top level message. Stable across
// versions; a reader encountering an unknown field number skips it rather
// than failing, the usual protobuf forward-compatibility contract.
const (
	fieldCorpusVersion = 1
	fieldGeneratedAt   = 2
	fieldStop          = 3
	fieldConnection    = 4
	fieldCutEdge       = 5
)

// Stop field numbers within a nested Stop message.
const (
	stopFieldID           = 1
	stopFieldTransferTime = 2
	stopFieldParentIdx    = 3
	stopFieldFootpath     = 4
	stopFieldArrival      = 5
	stopFieldDeparture    = 6
)

// Footpath field numbers within a nested Footpath message.
const (
	footpathFieldTargetStopIdx = 1
	footpathFieldDuration      = 2
)

// Connection field numbers within a nested Connection message.
const (
	connFieldID          = 1
	connFieldRouteIdx    = 2
	connFieldTripID      = 3
	connFieldFromIdx     = 4
	connFieldToIdx       = 5
	connFieldDepSched    = 6
	connFieldArrSched    = 7
	connFieldProductType = 8
	connFieldMessage     = 9
)

// Stop is the wire representation of a connection graph's stop: just
// enough to rebuild stochastic.Stop, with its Arrivals/Departures
// connection ids stored explicitly in ArrivalConns and DepartureConn.
type Stop struct {
	ID            string
	TransferTime  int32
	ParentIdx     int32
	Footpaths     []Footpath
	ArrivalConns  []int32
	DepartureConn []int32
}

// Footpath is the wire representation of stochastic.Footpath.
type Footpath struct {
	TargetStopIdx int32
	Duration      int32
}

// Connection is the wire representation of stochastic.Connection, with
// realtime-mutable fields (delay, in/out-allowed, track) intentionally
// omitted: the cache blob stores the static schedule graph a preprocessing
// run produced, not a point-in-time realtime snapshot.
type Connection struct {
	ID              int32
	RouteIdx        int32
	TripID          int32
	FromIdx, ToIdx  int32
	DepartureSched  int32
	ArrivalSched    int32
	ProductType     int32
	Message         string
}

// CutEdge is the wire representation of stochastic.CutEdge.
type CutEdge struct {
	From, To int32
}

// Graph is the full decoded cache blob: the corpus version it was built
// against (so a loader can detect a stale cache when the corpus changes),
// the time it was generated, and the preprocessed graph itself.
type Graph struct {
	CorpusVersion int64
	GeneratedAt   int64
	Stops         []Stop
	Connections   []Connection
	Cut           []CutEdge
}

// Encode serializes g into a protobuf-wire-compatible byte slice.
func Encode(g Graph) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCorpusVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.CorpusVersion))
	b = protowire.AppendTag(b, fieldGeneratedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.GeneratedAt))

	for _, s := range g.Stops {
		b = protowire.AppendTag(b, fieldStop, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeStop(s))
	}
	for _, c := range g.Connections {
		b = protowire.AppendTag(b, fieldConnection, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeConnection(c))
	}
	for _, e := range g.Cut {
		b = protowire.AppendTag(b, fieldCutEdge, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeCutEdge(e))
	}
	return b
}

func encodeStop(s Stop) []byte {
	var b []byte
	b = protowire.AppendTag(b, stopFieldID, protowire.BytesType)
	b = protowire.AppendString(b, s.ID)
	b = protowire.AppendTag(b, stopFieldTransferTime, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(s.TransferTime)))
	b = protowire.AppendTag(b, stopFieldParentIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ParentIdx))
	for _, f := range s.Footpaths {
		b = protowire.AppendTag(b, stopFieldFootpath, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFootpath(f))
	}
	for _, a := range s.ArrivalConns {
		b = protowire.AppendTag(b, stopFieldArrival, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a))
	}
	for _, d := range s.DepartureConn {
		b = protowire.AppendTag(b, stopFieldDeparture, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	return b
}

func encodeFootpath(f Footpath) []byte {
	var b []byte
	b = protowire.AppendTag(b, footpathFieldTargetStopIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.TargetStopIdx))
	b = protowire.AppendTag(b, footpathFieldDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(f.Duration)))
	return b
}

func encodeConnection(c Connection) []byte {
	var b []byte
	b = protowire.AppendTag(b, connFieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.ID))
	b = protowire.AppendTag(b, connFieldRouteIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.RouteIdx))
	b = protowire.AppendTag(b, connFieldTripID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.TripID))
	b = protowire.AppendTag(b, connFieldFromIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.FromIdx))
	b = protowire.AppendTag(b, connFieldToIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.ToIdx))
	b = protowire.AppendTag(b, connFieldDepSched, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.DepartureSched)))
	b = protowire.AppendTag(b, connFieldArrSched, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.ArrivalSched)))
	b = protowire.AppendTag(b, connFieldProductType, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.ProductType)))
	if c.Message != "" {
		b = protowire.AppendTag(b, connFieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, c.Message)
	}
	return b
}

func encodeCutEdge(e CutEdge) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.From))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.To))
	return b
}

// Decode parses a byte slice produced by Encode back into a Graph.
// Unknown field numbers at any nesting level are skipped rather than
// rejected, matching protobuf's forward-compatibility rules.
func Decode(data []byte) (Graph, error) {
	var g Graph
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Graph{}, fmt.Errorf("wirecodec: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldCorpusVersion:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Graph{}, err
			}
			g.CorpusVersion = int64(v)
			data = data[n:]
		case fieldGeneratedAt:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Graph{}, err
			}
			g.GeneratedAt = int64(v)
			data = data[n:]
		case fieldStop:
			payload, n, err := consumeBytes(data)
			if err != nil {
				return Graph{}, err
			}
			s, err := decodeStop(payload)
			if err != nil {
				return Graph{}, err
			}
			g.Stops = append(g.Stops, s)
			data = data[n:]
		case fieldConnection:
			payload, n, err := consumeBytes(data)
			if err != nil {
				return Graph{}, err
			}
			c, err := decodeConnection(payload)
			if err != nil {
				return Graph{}, err
			}
			g.Connections = append(g.Connections, c)
			data = data[n:]
		case fieldCutEdge:
			payload, n, err := consumeBytes(data)
			if err != nil {
				return Graph{}, err
			}
			e, err := decodeCutEdge(payload)
			if err != nil {
				return Graph{}, err
			}
			g.Cut = append(g.Cut, e)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Graph{}, fmt.Errorf("wirecodec: malformed field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return g, nil
}

func decodeStop(data []byte) (Stop, error) {
	var s Stop
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Stop{}, fmt.Errorf("wirecodec: malformed stop tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case stopFieldID:
			v, n, err := consumeBytes(data)
			if err != nil {
				return Stop{}, err
			}
			s.ID = string(v)
			data = data[n:]
		case stopFieldTransferTime:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Stop{}, err
			}
			s.TransferTime = int32(protowire.DecodeZigZag(v))
			data = data[n:]
		case stopFieldParentIdx:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Stop{}, err
			}
			s.ParentIdx = int32(v)
			data = data[n:]
		case stopFieldFootpath:
			payload, n, err := consumeBytes(data)
			if err != nil {
				return Stop{}, err
			}
			f, err := decodeFootpath(payload)
			if err != nil {
				return Stop{}, err
			}
			s.Footpaths = append(s.Footpaths, f)
			data = data[n:]
		case stopFieldArrival:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Stop{}, err
			}
			s.ArrivalConns = append(s.ArrivalConns, int32(v))
			data = data[n:]
		case stopFieldDeparture:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Stop{}, err
			}
			s.DepartureConn = append(s.DepartureConn, int32(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Stop{}, fmt.Errorf("wirecodec: malformed stop field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return s, nil
}

func decodeFootpath(data []byte) (Footpath, error) {
	var f Footpath
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Footpath{}, fmt.Errorf("wirecodec: malformed footpath tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case footpathFieldTargetStopIdx:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Footpath{}, err
			}
			f.TargetStopIdx = int32(v)
			data = data[n:]
		case footpathFieldDuration:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Footpath{}, err
			}
			f.Duration = int32(protowire.DecodeZigZag(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Footpath{}, fmt.Errorf("wirecodec: malformed footpath field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return f, nil
}

func decodeConnection(data []byte) (Connection, error) {
	var c Connection
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Connection{}, fmt.Errorf("wirecodec: malformed connection tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case connFieldID:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.ID = int32(v)
			data = data[n:]
		case connFieldRouteIdx:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.RouteIdx = int32(v)
			data = data[n:]
		case connFieldTripID:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.TripID = int32(v)
			data = data[n:]
		case connFieldFromIdx:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.FromIdx = int32(v)
			data = data[n:]
		case connFieldToIdx:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.ToIdx = int32(v)
			data = data[n:]
		case connFieldDepSched:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.DepartureSched = int32(protowire.DecodeZigZag(v))
			data = data[n:]
		case connFieldArrSched:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.ArrivalSched = int32(protowire.DecodeZigZag(v))
			data = data[n:]
		case connFieldProductType:
			v, n, err := consumeVarint(data)
			if err != nil {
				return Connection{}, err
			}
			c.ProductType = int32(protowire.DecodeZigZag(v))
			data = data[n:]
		case connFieldMessage:
			v, n, err := consumeBytes(data)
			if err != nil {
				return Connection{}, err
			}
			c.Message = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Connection{}, fmt.Errorf("wirecodec: malformed connection field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return c, nil
}

func decodeCutEdge(data []byte) (CutEdge, error) {
	var e CutEdge
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return CutEdge{}, fmt.Errorf("wirecodec: malformed cut edge tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, n, err := consumeVarint(data)
			if err != nil {
				return CutEdge{}, err
			}
			e.From = int32(v)
			data = data[n:]
		case 2:
			v, n, err := consumeVarint(data)
			if err != nil {
				return CutEdge{}, err
			}
			e.To = int32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return CutEdge{}, fmt.Errorf("wirecodec: malformed cut edge field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

func consumeVarint(data []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, fmt.Errorf("wirecodec: malformed varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(data []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("wirecodec: malformed length-delimited field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}
