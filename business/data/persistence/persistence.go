// Package persistence stores and retrieves the stochastic query engine's
// corpus of empirical delay buckets, its static connection-graph schedule,
// and the preprocessed graph cache blob a journeyquery-svc instance can
// reload on startup instead of repreprocessing from scratch.
package persistence

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
	"github.com/OpenTransitTools/stochtransit/foundation/database"
	"github.com/OpenTransitTools/stochtransit/foundation/wirecodec"
)

// DelayBucketRow mirrors one row of the delay_corpus table: the same six
// columns spec.md's CSV corpus format describes, loaded here from
// postgres instead of a file.
type DelayBucketRow struct {
	ProductTypeID           int16  `db:"product_type_id"`
	IsDeparture             bool   `db:"is_departure"`
	PriorTTLBucket          string `db:"prior_ttl_bucket"`
	PriorDelayBucket        string `db:"prior_delay_bucket"`
	LatestSampleDelayBucket string `db:"latest_sample_delay_bucket"`
	SampleCount             int    `db:"sample_count"`
}

// CorpusVersion identifies one load of the delay_corpus table: the row
// count as of that load and the time it was computed, stored alongside
// the graph cache so a stale cache can be detected and discarded.
type CorpusVersion struct {
	CorpusVersionID int64     `db:"corpus_version_id"`
	RowCount        int       `db:"row_count"`
	LoadedAt        time.Time `db:"loaded_at"`
}

// LoadDelayCorpus reads every row of delay_corpus ordered the same way
// spec.md's grouping rule expects (by product, departure/arrival, ttl
// bucket, delay bucket), re-renders them as the CSV LoadDistributionsCSV
// already knows how to parse, and inserts each resulting distribution
// into store.
func LoadDelayCorpus(db *sqlx.DB, store *stochastic.Store) (int, error) {
	const query = `select product_type_id, is_departure, prior_ttl_bucket,
		prior_delay_bucket, latest_sample_delay_bucket, sample_count
		from delay_corpus
		order by product_type_id, is_departure, prior_ttl_bucket, prior_delay_bucket`

	var rows []DelayBucketRow
	if err := db.Select(&rows, query); err != nil {
		return 0, fmt.Errorf("querying delay_corpus: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"product_type_id", "is_departure", "prior_ttl_bucket",
		"prior_delay_bucket", "latest_sample_delay_bucket", "sample_count"})
	for _, r := range rows {
		_ = w.Write([]string{
			strconv.FormatInt(int64(r.ProductTypeID), 10),
			strconv.FormatBool(r.IsDeparture),
			r.PriorTTLBucket,
			r.PriorDelayBucket,
			r.LatestSampleDelayBucket,
			strconv.Itoa(r.SampleCount),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("rendering delay_corpus as csv: %w", err)
	}

	if err := store.LoadDistributionsCSV(&buf); err != nil {
		return 0, fmt.Errorf("loading delay_corpus into store: %w", err)
	}
	return len(rows), nil
}

// InsertDelayBucketRows bulk-inserts rows into delay_corpus inside a
// single transaction, replacing its entire prior contents - the corpus
// is always loaded wholesale from a fresh export, never incrementally
// patched.
func InsertDelayBucketRows(db *sqlx.DB, rows []DelayBucketRow) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning delay_corpus load transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("delete from delay_corpus"); err != nil {
		return fmt.Errorf("clearing delay_corpus: %w", err)
	}

	const insert = `insert into delay_corpus
		(product_type_id, is_departure, prior_ttl_bucket, prior_delay_bucket, latest_sample_delay_bucket, sample_count)
		values (:product_type_id, :is_departure, :prior_ttl_bucket, :prior_delay_bucket, :latest_sample_delay_bucket, :sample_count)`
	for _, r := range rows {
		if _, err := tx.NamedExec(insert, r); err != nil {
			return fmt.Errorf("inserting delay_corpus row: %w", err)
		}
	}
	return tx.Commit()
}

// ScheduleStopRow and ScheduleConnectionRow mirror the static schedule
// tables a journey-graph build reads from: the stop and connection
// rows gtfsmanager-style loaders would have already populated from a
// GTFS feed upstream of this package.
type ScheduleStopRow struct {
	StopIdx      int    `db:"stop_idx"`
	StopID       string `db:"stop_id"`
	TransferTime int32  `db:"transfer_time"`
	ParentIdx    int    `db:"parent_idx"`
}

type ScheduleFootpathRow struct {
	FromStopIdx   int   `db:"from_stop_idx"`
	TargetStopIdx int   `db:"target_stop_idx"`
	Duration      int32 `db:"duration"`
}

type ScheduleConnectionRow struct {
	ConnID      int    `db:"conn_id"`
	RouteIdx    int    `db:"route_idx"`
	TripID      int32  `db:"trip_id"`
	FromIdx     int    `db:"from_stop_idx"`
	ToIdx       int    `db:"to_stop_idx"`
	DepSched    int32  `db:"departure_scheduled"`
	ArrSched    int32  `db:"arrival_scheduled"`
	ProductType int16  `db:"product_type_id"`
}

// LoadScheduleGraph builds a ConnectionGraph from the static schedule
// tables, ready for Preprocess. Stops and connections must already be
// indexed 0..n-1 contiguously by stop_idx/conn_id - the same convention
// gtfsmanager's trip_reader.go uses when it lays out a feed's stop_times
// into sequence order.
func LoadScheduleGraph(db *sqlx.DB) (*stochastic.ConnectionGraph, error) {
	var stopRows []ScheduleStopRow
	if err := db.Select(&stopRows, `select stop_idx, stop_id, transfer_time, parent_idx from schedule_stop order by stop_idx`); err != nil {
		return nil, fmt.Errorf("querying schedule_stop: %w", err)
	}
	var footpathRows []ScheduleFootpathRow
	if err := db.Select(&footpathRows, `select from_stop_idx, target_stop_idx, duration from schedule_footpath order by from_stop_idx`); err != nil {
		return nil, fmt.Errorf("querying schedule_footpath: %w", err)
	}
	var connRows []ScheduleConnectionRow
	if err := db.Select(&connRows, `select conn_id, route_idx, trip_id, from_stop_idx, to_stop_idx,
		departure_scheduled, arrival_scheduled, product_type_id from schedule_connection order by conn_id`); err != nil {
		return nil, fmt.Errorf("querying schedule_connection: %w", err)
	}

	stops := make([]stochastic.Stop, len(stopRows))
	for i, r := range stopRows {
		stops[i] = stochastic.Stop{ID: r.StopID, TransferTime: stochastic.Mtime(r.TransferTime), ParentIdx: r.ParentIdx}
	}
	for _, r := range footpathRows {
		if r.FromStopIdx < 0 || r.FromStopIdx >= len(stops) {
			return nil, fmt.Errorf("schedule_footpath references out-of-range stop_idx %d", r.FromStopIdx)
		}
		stops[r.FromStopIdx].Footpaths = append(stops[r.FromStopIdx].Footpaths,
			stochastic.Footpath{TargetStopIdx: r.TargetStopIdx, Duration: stochastic.Mtime(r.Duration)})
	}

	connections := make([]stochastic.Connection, len(connRows))
	for i, r := range connRows {
		connections[i] = stochastic.Connection{
			ID:          r.ConnID,
			RouteIdx:    r.RouteIdx,
			TripID:      r.TripID,
			FromIdx:     r.FromIdx,
			ToIdx:       r.ToIdx,
			Departure:   stochastic.NewStopInfo(stochastic.Mtime(r.DepSched), nil),
			Arrival:     stochastic.NewStopInfo(stochastic.Mtime(r.ArrSched), nil),
			ProductType: r.ProductType,
		}
	}

	g := stochastic.NewConnectionGraph(stops, connections)
	for _, c := range g.Connections {
		g.Stops[c.FromIdx].Departures = append(g.Stops[c.FromIdx].Departures, c.ID)
		g.Stops[c.ToIdx].Arrivals = append(g.Stops[c.ToIdx].Arrivals, c.ID)
	}
	return g, nil
}

// RecordCorpusVersion inserts a row marking a completed corpus load,
// returning the assigned CorpusVersionID so it can be stamped onto the
// graph cache blob that was built from it.
func RecordCorpusVersion(db *sqlx.DB, rowCount int) (int64, error) {
	const query = `insert into corpus_version (row_count, loaded_at) values ($1, now())
		returning corpus_version_id`
	var id int64
	if err := db.Get(&id, query, rowCount); err != nil {
		return 0, fmt.Errorf("recording corpus version: %w", err)
	}
	return id, nil
}

// GetLatestCorpusVersion returns the most recently recorded corpus
// version, or (nil, nil) if none has been loaded yet.
func GetLatestCorpusVersion(db *sqlx.DB) (*CorpusVersion, error) {
	const query = `select corpus_version_id, row_count, loaded_at from corpus_version
		order by loaded_at desc limit 1`
	var v CorpusVersion
	err := db.Get(&v, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading latest corpus version: %w", err)
	}
	return &v, nil
}

// SaveGraphCache persists the preprocessed graph g, stamped with
// corpusVersion, replacing any cache previously stored under that
// version. Realtime-mutable fields (delay, in/out-allowed) are
// deliberately not part of the wire shape: the cache holds the static
// schedule graph, not a point-in-time snapshot.
func SaveGraphCache(db *sqlx.DB, corpusVersion int64, g *stochastic.ConnectionGraph) error {
	blob := Encode(g, corpusVersion)
	const query = `insert into graph_cache (corpus_version_id, generated_at, blob)
		values ($1, now(), $2)
		on conflict (corpus_version_id) do update set generated_at = excluded.generated_at, blob = excluded.blob`
	if _, err := db.Exec(query, corpusVersion, []byte(blob)); err != nil {
		return fmt.Errorf("saving graph cache: %w", err)
	}
	return nil
}

// LoadGraphCache retrieves the cached preprocessed graph for
// corpusVersion, or (nil, nil) if none has been stored yet.
func LoadGraphCache(db *sqlx.DB, corpusVersion int64) (*stochastic.ConnectionGraph, error) {
	const query = `select blob from graph_cache where corpus_version_id = :corpus_version_id`
	rows, err := database.PrepareNamedQueryRowsFromMap(query, db, map[string]interface{}{
		"corpus_version_id": corpusVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("loading graph cache: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}
	var blob []byte
	if err := rows.Scan(&blob); err != nil {
		return nil, fmt.Errorf("scanning graph cache row: %w", err)
	}
	return Decode(blob)
}

// Encode converts g into its wirecodec byte representation, tagged with
// corpusVersion.
func Encode(g *stochastic.ConnectionGraph, corpusVersion int64) []byte {
	wg := wirecodec.Graph{
		CorpusVersion: corpusVersion,
		Stops:         make([]wirecodec.Stop, len(g.Stops)),
		Connections:   make([]wirecodec.Connection, len(g.Connections)),
	}
	for i, s := range g.Stops {
		footpaths := make([]wirecodec.Footpath, len(s.Footpaths))
		for j, f := range s.Footpaths {
			footpaths[j] = wirecodec.Footpath{TargetStopIdx: int32(f.TargetStopIdx), Duration: int32(f.Duration)}
		}
		arrivals := make([]int32, len(s.Arrivals))
		for j, a := range s.Arrivals {
			arrivals[j] = int32(a)
		}
		departures := make([]int32, len(s.Departures))
		for j, d := range s.Departures {
			departures[j] = int32(d)
		}
		wg.Stops[i] = wirecodec.Stop{
			ID:            s.ID,
			TransferTime:  int32(s.TransferTime),
			ParentIdx:     int32(s.ParentIdx),
			Footpaths:     footpaths,
			ArrivalConns:  arrivals,
			DepartureConn: departures,
		}
	}
	for i, c := range g.Connections {
		wg.Connections[i] = wirecodec.Connection{
			ID:             int32(c.ID),
			RouteIdx:       int32(c.RouteIdx),
			TripID:         c.TripID,
			FromIdx:        int32(c.FromIdx),
			ToIdx:          int32(c.ToIdx),
			DepartureSched: int32(c.Departure.Scheduled),
			ArrivalSched:   int32(c.Arrival.Scheduled),
			ProductType:    int32(c.ProductType),
			Message:        c.Message,
		}
	}
	for e := range g.Cut {
		wg.Cut = append(wg.Cut, wirecodec.CutEdge{From: int32(e.From), To: int32(e.To)})
	}
	return wirecodec.Encode(wg)
}

// Decode converts a wirecodec byte representation back into a freshly
// built ConnectionGraph. The caller must still run Preprocess before
// running queries against stops that carry no cached order/cut: Decode
// only restores the static schedule, plus whatever cut set and order the
// cache blob's stop/connection layout already implies by construction.
func Decode(data []byte) (*stochastic.ConnectionGraph, error) {
	wg, err := wirecodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding graph cache: %w", err)
	}

	stops := make([]stochastic.Stop, len(wg.Stops))
	for i, s := range wg.Stops {
		footpaths := make([]stochastic.Footpath, len(s.Footpaths))
		for j, f := range s.Footpaths {
			footpaths[j] = stochastic.Footpath{TargetStopIdx: int(f.TargetStopIdx), Duration: stochastic.Mtime(f.Duration)}
		}
		arrivals := make([]int, len(s.ArrivalConns))
		for j, a := range s.ArrivalConns {
			arrivals[j] = int(a)
		}
		departures := make([]int, len(s.DepartureConn))
		for j, d := range s.DepartureConn {
			departures[j] = int(d)
		}
		stops[i] = stochastic.Stop{
			ID:           s.ID,
			TransferTime: stochastic.Mtime(s.TransferTime),
			ParentIdx:    int(s.ParentIdx),
			Footpaths:    footpaths,
			Arrivals:     arrivals,
			Departures:   departures,
		}
	}

	connections := make([]stochastic.Connection, len(wg.Connections))
	for i, c := range wg.Connections {
		connections[i] = stochastic.Connection{
			ID:          int(c.ID),
			RouteIdx:    int(c.RouteIdx),
			TripID:      c.TripID,
			FromIdx:     int(c.FromIdx),
			ToIdx:       int(c.ToIdx),
			Departure:   stochastic.NewStopInfo(stochastic.Mtime(c.DepartureSched), nil),
			Arrival:     stochastic.NewStopInfo(stochastic.Mtime(c.ArrivalSched), nil),
			ProductType: int16(c.ProductType),
			Message:     c.Message,
		}
	}

	g := stochastic.NewConnectionGraph(stops, connections)
	for pos, c := range g.Connections {
		if c.ID >= 0 && c.ID < len(g.Order) {
			g.Order[c.ID] = pos
		}
	}
	for _, e := range wg.Cut {
		g.Cut[stochastic.CutEdge{From: int(e.From), To: int(e.To)}] = struct{}{}
	}
	return g, nil
}
