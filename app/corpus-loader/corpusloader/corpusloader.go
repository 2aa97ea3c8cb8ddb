// Package corpusloader reads a delay-bucket CSV export into the
// delay_corpus table, builds the connection graph from the schedule
// tables, preprocesses it, and caches the result - the offline
// counterpart to journeyquery-svc's online query serving.
package corpusloader

import (
	"encoding/csv"
	"fmt"
	logger "log"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/OpenTransitTools/stochtransit/business/data/persistence"
	"github.com/OpenTransitTools/stochtransit/business/data/stochastic"
	"github.com/OpenTransitTools/stochtransit/foundation/httpclient"
)

// FetchCorpusFile downloads the delay-bucket CSV export published at url to
// localPath, logging the remote file's ETag the way
// gtfsmanager logs a gtfs feed's freshness before loading it. Used when
// Corpus.URL is configured instead of reading an already-local file.
func FetchCorpusFile(log *logger.Logger, url, localPath string) error {
	remoteFileInfo, err := httpclient.GetRemoteFileInfo(url)
	if err != nil {
		return fmt.Errorf("checking remote corpus file %s: %w", url, err)
	}
	log.Printf("corpusloader: fetching corpus file from %s (etag %q)", url, remoteFileInfo.ETag)

	downloadedFile, err := httpclient.DownloadRemoteFile(localPath, url)
	if err != nil {
		return fmt.Errorf("downloading corpus file %s: %w", url, err)
	}
	log.Printf("corpusloader: downloaded %d bytes to %s", downloadedFile.Size, localPath)
	return nil
}

// LoadCorpusFile parses path (the same six-column CSV format
// stochastic.Store.LoadDistributionsCSV reads) and replaces delay_corpus's
// contents with it.
func LoadCorpusFile(log *logger.Logger, db *sqlx.DB, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := parseCorpusFile(f)
	if err != nil {
		return 0, err
	}
	if err := persistence.InsertDelayBucketRows(db, rows); err != nil {
		return 0, err
	}
	log.Printf("corpusloader: inserted %d delay_corpus rows from %s", len(rows), path)
	return len(rows), nil
}

func parseCorpusFile(f *os.File) ([]persistence.DelayBucketRow, error) {
	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	var rows []persistence.DelayBucketRow
	for {
		record, err := reader.Read()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		productType, err := strconv.ParseInt(record[col["product_type_id"]], 10, 16)
		if err != nil {
			return nil, err
		}
		sampleCount, err := strconv.Atoi(record[col["sample_count"]])
		if err != nil {
			return nil, err
		}
		rows = append(rows, persistence.DelayBucketRow{
			ProductTypeID:           int16(productType),
			IsDeparture:             strings.EqualFold(record[col["is_departure"]], "True"),
			PriorTTLBucket:          record[col["prior_ttl_bucket"]],
			PriorDelayBucket:        record[col["prior_delay_bucket"]],
			LatestSampleDelayBucket: record[col["latest_sample_delay_bucket"]],
			SampleCount:             sampleCount,
		})
	}
	return rows, nil
}

// BuildAndCacheGraph loads the delay corpus and static schedule from the
// database, preprocesses the resulting graph, and persists it under a
// freshly recorded corpus version.
func BuildAndCacheGraph(log *logger.Logger, db *sqlx.DB) (int64, error) {
	store := stochastic.NewStore()
	store.Log = log
	rowCount, err := persistence.LoadDelayCorpus(db, store)
	if err != nil {
		return 0, err
	}

	corpusVersion, err := persistence.RecordCorpusVersion(db, rowCount)
	if err != nil {
		return 0, err
	}

	graph, err := persistence.LoadScheduleGraph(db)
	if err != nil {
		return 0, err
	}

	preprocessor := stochastic.NewPreprocessor(store, 0)
	preprocessor.Log = log
	preprocessor.Preprocess(graph)

	if err := persistence.SaveGraphCache(db, corpusVersion, graph); err != nil {
		return 0, err
	}
	log.Printf("corpusloader: cached preprocessed graph for corpus version %d (%d connections, %d cut edges)",
		corpusVersion, len(graph.Connections), len(graph.Cut))
	return corpusVersion, nil
}
