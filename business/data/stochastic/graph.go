package stochastic

// Footpath is a walking edge from the owning Stop to TargetStopIdx taking
// Duration minutes.
type Footpath struct {
	TargetStopIdx int
	Duration      Mtime
}

// Stop is one platform/station node in the connection graph. Arrivals and
// Departures hold connection ids (stable across a query), sorted by
// projected time; ParentIdx, when non-zero and different from the stop's
// own index, names the physical station cluster this stop belongs to for
// station contraction.
type Stop struct {
	ID             string
	Name           string
	Lat, Lon       float64
	TransferTime   Mtime
	ParentIdx      int
	Footpaths      []Footpath
	Arrivals       []int
	Departures     []int
}

// StopInfo is a scheduled minute offset, an optional realtime delay
// override, an in/out-allowed flag and optional track strings.
type StopInfo struct {
	Scheduled       Mtime
	Delay           *int16
	InOutAllowed    bool
	ScheduledTrack  string
	ProjectedTrack  string
}

// NewStopInfo builds a StopInfo with InOutAllowed defaulted to true.
func NewStopInfo(scheduled Mtime, delay *int16) StopInfo {
	return StopInfo{Scheduled: scheduled, Delay: delay, InOutAllowed: true}
}

// Projected returns the scheduled time plus delay, or the scheduled time
// when no delay override is present.
func (s StopInfo) Projected() Mtime {
	if s.Delay != nil {
		return s.Scheduled + Mtime(*s.Delay)
	}
	return s.Scheduled
}

// Connection is one atomic in-trip segment: board at FromIdx, alight at
// ToIdx, no intermediate stops.
type Connection struct {
	ID          int
	RouteIdx    int
	TripID      int32
	FromIdx     int
	ToIdx       int
	Departure   StopInfo
	Arrival     StopInfo
	ProductType int16
	Message     string
}

// IsConsecutive reports whether next is a same-trip continuation of c: same
// trip and route, scheduled no earlier, a distinct id, and c's arrival
// stop matching next's departure stop.
func (c Connection) IsConsecutive(next Connection) bool {
	return c.TripID == next.TripID &&
		c.RouteIdx == next.RouteIdx &&
		c.Arrival.Scheduled <= next.Departure.Scheduled &&
		c.ID != next.ID &&
		c.ToIdx == next.FromIdx
}

// Update mutates a connection's StopInfo in place for a realtime feedback
// event. Any combination of the optional fields may be present; nil means
// "leave unchanged".
func (c *Connection) Update(isDeparture bool, locationIdx *int, inOutAllowed *bool, delay *int16) {
	if locationIdx != nil {
		if isDeparture {
			c.FromIdx = *locationIdx
		} else {
			c.ToIdx = *locationIdx
		}
	}
	if inOutAllowed != nil {
		if isDeparture {
			c.Departure.InOutAllowed = *inOutAllowed
		} else {
			c.Arrival.InOutAllowed = *inOutAllowed
		}
	}
	if delay != nil {
		if isDeparture {
			c.Departure.Delay = delay
		} else {
			c.Arrival.Delay = delay
		}
	}
}

// CutEdge is a directed (predecessor-id, successor-id) pair that the
// preprocessor has marked infeasible; the sweep skips it.
type CutEdge struct {
	From int
	To   int
}

// ConnectionGraph is the array of connections and stops that the
// preprocessor and query engine operate on. Connections is kept in
// ascending topological order once Preprocess has run; Order maps a
// connection's stable id to its current position in Connections so that
// ByID lookups remain valid across re-sorts. DestinationArrival is a
// parallel vector indexed by connection id (not position), per the design
// note that favours locality and avoids aliasing hazards over an
// interior-mutable per-connection cell.
type ConnectionGraph struct {
	Stops              []Stop
	Connections        []Connection
	Order              []int
	Cut                map[CutEdge]struct{}
	DestinationArrival []Distribution

	// Relevance accumulates, per connection id, how much arrival-time
	// probability mass a relevance walk has found flowing through that
	// connection. Indexed like DestinationArrival; read by callers that
	// want to know which connections a realtime update must revisit.
	Relevance []float64
}

// NewConnectionGraph builds a ConnectionGraph with an identity Order and
// empty Cut set, ready for Preprocess.
func NewConnectionGraph(stops []Stop, connections []Connection) *ConnectionGraph {
	order := make([]int, len(connections))
	for i := range order {
		order[i] = i
	}
	return &ConnectionGraph{
		Stops:              stops,
		Connections:        connections,
		Order:              order,
		Cut:                make(map[CutEdge]struct{}),
		DestinationArrival: make([]Distribution, len(connections)),
		Relevance:          make([]float64, len(connections)),
	}
}

// ByID returns a pointer to the connection with the given stable id at its
// current position in Connections.
func (g *ConnectionGraph) ByID(id int) *Connection {
	return &g.Connections[g.Order[id]]
}

// IsCut reports whether the directed transfer edge (fromID, toID) was
// removed during preprocessing.
func (g *ConnectionGraph) IsCut(fromID, toID int) bool {
	_, ok := g.Cut[CutEdge{fromID, toID}]
	return ok
}
