package journeyquery

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
)

// queryRequest is the JSON body accepted by POST /query and POST
// /pairQuery.
type queryRequest struct {
	OriginIdx      int   `json:"origin_idx"`
	DestinationIdx int   `json:"destination_idx"`
	StartTime      int32 `json:"start_time"`
	MaxTime        int32 `json:"max_time"`
}

// connectionLabelResponse is the JSON shape of one surviving label in a
// query response.
type connectionLabelResponse struct {
	ConnectionID       int     `json:"connection_id"`
	DestinationArrival float64 `json:"destination_arrival_mean"`
	Feasibility        float64 `json:"feasibility"`
}

type journeyQueryHandler struct {
	log    *logger.Logger
	engine *Engine
}

func (h *journeyQueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	q := stochastic.NewQueryEngine(h.engine.store, h.engine.graph, 0, h.engine.preprocessor.EpsilonReachable, false)
	labels := q.Query(stochastic.Query{
		OriginIdx: req.OriginIdx, DestinationIdx: req.DestinationIdx,
		StartTime: stochastic.Mtime(req.StartTime), MaxTime: stochastic.Mtime(req.MaxTime),
	})
	h.writeLabels(w, labels, req.OriginIdx)
}

func (h *journeyQueryHandler) handlePairQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		queryRequest
		ConnectionPairs map[int]int `json:"connection_pairs"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	q := stochastic.NewQueryEngine(h.engine.store, h.engine.graph, 0, h.engine.preprocessor.EpsilonReachable, false)
	labels := q.PairQuery(stochastic.Query{
		OriginIdx: req.OriginIdx, DestinationIdx: req.DestinationIdx,
		StartTime: stochastic.Mtime(req.StartTime), MaxTime: stochastic.Mtime(req.MaxTime),
	}, req.ConnectionPairs)
	h.writeLabels(w, labels, req.OriginIdx)
}

func (h *journeyQueryHandler) handleRelevantStations(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.mu.RLock()
	defer h.engine.mu.RUnlock()
	q := stochastic.NewQueryEngine(h.engine.store, h.engine.graph, 0, h.engine.preprocessor.EpsilonReachable, false)
	query := stochastic.Query{
		OriginIdx: req.OriginIdx, DestinationIdx: req.DestinationIdx,
		StartTime: stochastic.Mtime(req.StartTime), MaxTime: stochastic.Mtime(req.MaxTime),
	}
	labels := q.Query(query)
	extractor := stochastic.NewRelevanceExtractor(h.engine.store, h.engine.graph, 0, 0.0, 0.0, false)
	weights := extractor.RelevantStations(req.OriginIdx, req.DestinationIdx, labels, false)

	h.writeJSON(w, weights)
}

func (h *journeyQueryHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *journeyQueryHandler) writeLabels(w http.ResponseWriter, labels [][]stochastic.ConnectionLabel, stopIdx int) {
	if stopIdx < 0 || stopIdx >= len(labels) {
		http.Error(w, "origin_idx out of range", http.StatusBadRequest)
		return
	}
	out := make([]connectionLabelResponse, len(labels[stopIdx]))
	for i, l := range labels[stopIdx] {
		out[i] = connectionLabelResponse{
			ConnectionID:       l.ConnectionID,
			DestinationArrival: l.DestinationArrival.Mean,
			Feasibility:        l.DestinationArrival.Feasibility,
		}
	}
	h.writeJSON(w, out)
}

func (h *journeyQueryHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Printf("journeyquery: error encoding response: %v", err)
	}
}

// createServer builds the mux.Router and wraps it in an http.Server with
// the teacher's standard timeouts.
func createServer(log *logger.Logger, engine *Engine, httpPort int) *http.Server {
	handler := &journeyQueryHandler{log: log, engine: engine}
	r := mux.NewRouter()
	r.HandleFunc("/query", handler.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/pairQuery", handler.handlePairQuery).Methods(http.MethodPost)
	r.HandleFunc("/relevantStations", handler.handleRelevantStations).Methods(http.MethodPost)

	return &http.Server{
		Addr:         ":" + strconv.Itoa(httpPort),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Handler:      r,
	}
}

// runWebService starts srv and blocks until either it fails or
// shutdownSignal fires, in which case it gives in-flight requests 5
// seconds to finish before returning.
func runWebService(log *logger.Logger, wg *sync.WaitGroup, srv *http.Server, shutdownSignal chan bool) {
	defer wg.Done()

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("journeyquery: web service listening on %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("journeyquery: web service error: %v", err)
		}
	case <-shutdownSignal:
		log.Println("journeyquery: web service shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("journeyquery: error shutting down web service: %v", err)
			_ = srv.Close()
		}
	}
}
