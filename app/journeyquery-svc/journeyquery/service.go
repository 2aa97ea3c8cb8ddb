// Package journeyquery runs the stochastic journey query engine as a
// long-lived service: an HTTP query API, a NATS listener applying
// realtime delay updates to the in-memory connection graph, and a NATS
// publisher announcing which connections a realtime update made
// relevant enough to warrant a client re-query.
package journeyquery

import (
	logger "log"
	"os"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
)

// Conf holds the runtime-tunable parameters of the journey query service,
// threaded in from main's ardanlabs/conf parsing.
type Conf struct {
	HTTPPort                 int
	ConnectionDelaySubject   string
	RelevantPairsSubject     string
	QueryEpsilonReachable    float64
	RelevanceEpsilonFeasible float64
}

// Engine bundles a connection graph with the store, preprocessor and
// holiday calendar it was built against, guarded by a mutex since the
// HTTP handlers and the NATS update listener both touch it concurrently.
type Engine struct {
	mu           sync.RWMutex
	store        *stochastic.Store
	graph        *stochastic.ConnectionGraph
	preprocessor *stochastic.Preprocessor
	holidays     *stochastic.HolidayCalendar
}

// NewEngine builds an Engine ready to serve queries against an
// already-preprocessed graph.
func NewEngine(store *stochastic.Store, graph *stochastic.ConnectionGraph, preprocessor *stochastic.Preprocessor) *Engine {
	return &Engine{
		store:        store,
		graph:        graph,
		preprocessor: preprocessor,
		holidays:     stochastic.NewHolidayCalendar(),
	}
}

// StartJourneyQueryService launches the HTTP query API and the NATS
// realtime-update listener, blocking until osSignal fires, then shutting
// both down gracefully. Mirrors the teacher's aggregator entry point:
// every long-running goroutine gets a WaitGroup slot and a shared
// shutdownSignal channel derived from the OS signal channel main sets up.
func StartJourneyQueryService(log *logger.Logger, engine *Engine, osSignal chan os.Signal, natsConn *nats.Conn, conf Conf) error {
	shutdownSignal := make(chan bool)
	wg := sync.WaitGroup{}

	go func() {
		<-osSignal
		log.Println("journeyquery: shutdown signal received")
		close(shutdownSignal)
	}()

	srv := createServer(log, engine, conf.HTTPPort)
	wg.Add(1)
	go runWebService(log, &wg, srv, shutdownSignal)

	wg.Add(1)
	go startUpdateListener(log, &wg, engine, natsConn, shutdownSignal, conf)

	wg.Wait()
	return nil
}
