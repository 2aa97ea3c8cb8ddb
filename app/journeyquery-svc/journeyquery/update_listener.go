package journeyquery

import (
	"encoding/json"
	logger "log"
	"sync"

	"github.com/nats-io/nats.go"
)

// connectionDelayUpdate is the JSON payload published to the
// connection-delay-updates subject whenever a realtime feed observes a
// new delay for one leg of the schedule.
type connectionDelayUpdate struct {
	ConnectionID int    `json:"connection_id"`
	IsDeparture  bool   `json:"is_departure"`
	Delay        *int16 `json:"delay"`
	InOutAllowed *bool  `json:"in_out_allowed"`
}

// startUpdateListener subscribes to conf.ConnectionDelaySubject and
// applies every update it receives to engine's connection graph,
// re-preprocessing afterward since a delay can change which transfers
// are feasible. Mirrors the teacher's startTripUpdateListener: a
// queue-group channel subscription drained in a select loop alongside
// shutdownSignal.
func startUpdateListener(log *logger.Logger, wg *sync.WaitGroup, engine *Engine, natsConn *nats.Conn, shutdownSignal chan bool, conf Conf) {
	defer wg.Done()

	ch := make(chan *nats.Msg, 64)
	sub, err := natsConn.ChanQueueSubscribe(conf.ConnectionDelaySubject, "journeyquery", ch)
	if err != nil {
		log.Printf("journeyquery: unable to subscribe to %s: %v", conf.ConnectionDelaySubject, err)
		return
	}
	defer unsubscribe(log, sub, conf.ConnectionDelaySubject)

	publisher := makeRelevancePublisher(log, natsConn, conf.RelevantPairsSubject, conf.RelevanceEpsilonFeasible)

	for {
		select {
		case msg := <-ch:
			applyUpdate(log, engine, publisher, msg.Data)
		case <-shutdownSignal:
			log.Println("journeyquery: update listener shutting down")
			return
		}
	}
}

func applyUpdate(log *logger.Logger, engine *Engine, publisher *relevancePublisher, data []byte) {
	var update connectionDelayUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Printf("journeyquery: malformed connection delay update: %v", err)
		return
	}

	engine.mu.Lock()
	if update.ConnectionID < 0 || update.ConnectionID >= len(engine.graph.Order) {
		engine.mu.Unlock()
		log.Printf("journeyquery: update references unknown connection id %d", update.ConnectionID)
		return
	}
	before := snapshotLabelsForRelevance(engine, update.ConnectionID)
	engine.graph.ByID(update.ConnectionID).Update(update.IsDeparture, nil, update.InOutAllowed, update.Delay)
	engine.store.ClearReachability()
	engine.preprocessor.Preprocess(engine.graph)
	engine.mu.Unlock()

	if publisher != nil {
		publisher.publishRelevantPairs(engine, update.ConnectionID, before)
	}
}

// snapshotLabelsForRelevance finds the stop the updated connection
// departs from, so a relevance walk run after the update can be rooted
// there; returns -1 if the connection id is out of range.
func snapshotLabelsForRelevance(engine *Engine, connectionID int) int {
	if connectionID < 0 || connectionID >= len(engine.graph.Order) {
		return -1
	}
	c := engine.graph.ByID(connectionID)
	return c.FromIdx
}

func unsubscribe(log *logger.Logger, sub *nats.Subscription, subName string) {
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("journeyquery: error unsubscribing from %s: %v", subName, err)
	}
}
