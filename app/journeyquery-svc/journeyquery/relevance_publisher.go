package journeyquery

import (
	"encoding/json"
	logger "log"

	"github.com/nats-io/nats.go"

	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
)

// relevantPairsMessage is the JSON payload published to
// relevant-connection-pairs whenever a realtime update's relevance walk
// finds legs a client's in-flight journey should re-query.
type relevantPairsMessage struct {
	OriginConnectionID int         `json:"origin_connection_id"`
	ConnectionPairs    map[int]int `json:"connection_pairs"`
}

// relevancePublicationDestination abstracts the NATS publish call so the
// publisher can be tested without a live connection, mirroring the
// teacher's predictionPublicationDestination interface.
type relevancePublicationDestination interface {
	Publish(msg relevantPairsMessage) error
}

type natsRelevancePublicationDestination struct {
	natsConn *nats.Conn
	subject  string
}

func (d *natsRelevancePublicationDestination) Publish(msg relevantPairsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.natsConn.Publish(d.subject, data)
}

// relevancePublisher walks the connection graph from an updated
// connection's origin stop and publishes the resulting relevant
// connection pairs so subscribed clients know which legs of their
// in-flight query to re-fetch.
type relevancePublisher struct {
	log             *logger.Logger
	destination     relevancePublicationDestination
	epsilonFeasible float64
}

func makeRelevancePublisher(log *logger.Logger, natsConn *nats.Conn, subject string, epsilonFeasible float64) *relevancePublisher {
	if subject == "" {
		return nil
	}
	return &relevancePublisher{
		log:             log,
		destination:     &natsRelevancePublicationDestination{natsConn: natsConn, subject: subject},
		epsilonFeasible: epsilonFeasible,
	}
}

// publishRelevantPairs re-runs a query rooted at originStopIdx against
// the just-updated graph, extracts the connection pairs a re-query would
// need to revisit, and publishes them tagged with the updated
// connection's id.
func (p *relevancePublisher) publishRelevantPairs(engine *Engine, updatedConnectionID, originStopIdx int) {
	engine.mu.RLock()
	defer engine.mu.RUnlock()

	g := engine.graph
	if originStopIdx < 0 || originStopIdx >= len(g.Stops) {
		return
	}
	destIdx := farthestReachableStop(g, originStopIdx)
	if destIdx < 0 {
		return
	}

	q := stochastic.NewQueryEngine(engine.store, g, 0, engine.preprocessor.EpsilonReachable, false)
	query := stochastic.Query{OriginIdx: originStopIdx, DestinationIdx: destIdx, StartTime: 0, MaxTime: engine.store.MaxDelay}
	labels := q.Query(query)

	extractor := stochastic.NewRelevanceExtractor(engine.store, g, 0, 0.0, p.epsilonFeasible, false)
	weights := extractor.RelevantStations(originStopIdx, destIdx, labels, false)
	pairs := extractor.RelevantConnectionPairs(weights, len(g.Stops), query.StartTime, query.MaxTime)
	if len(pairs) == 0 {
		return
	}

	if err := p.destination.Publish(relevantPairsMessage{OriginConnectionID: updatedConnectionID, ConnectionPairs: pairs}); err != nil {
		p.log.Printf("journeyquery: error publishing relevant connection pairs: %v", err)
	}
}

// farthestReachableStop picks the stop with the most accumulated
// relevance weight as a stand-in destination for a realtime re-query:
// without a specific client's destination in hand, the stop a prior
// walk already found most probability mass flowing toward is the most
// useful one to re-derive pairs against.
func farthestReachableStop(g *stochastic.ConnectionGraph, originStopIdx int) int {
	best := -1
	bestWeight := 0.0
	for id, w := range g.Relevance {
		if w <= bestWeight {
			continue
		}
		if id >= len(g.Order) {
			continue
		}
		c := g.ByID(id)
		if c.ToIdx == originStopIdx {
			continue
		}
		best = c.ToIdx
		bestWeight = w
	}
	return best
}
