package corpusloader

import (
	"os"
	"testing"
)

func TestParseCorpusFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "corpus-*.csv")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	defer f.Close()

	_, err = f.WriteString("product_type_id,is_departure,prior_ttl_bucket,prior_delay_bucket,latest_sample_delay_bucket,sample_count\n" +
		"100,True,0-5,0-60,0-60,42\n" +
		"100,False,5-10,60-120,60-120,7\n")
	if err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("seeking temp file: %v", err)
	}

	rows, err := parseCorpusFile(f)
	if err != nil {
		t.Fatalf("parseCorpusFile returned error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ProductTypeID != 100 || !rows[0].IsDeparture || rows[0].SampleCount != 42 {
		t.Errorf("row 0 parsed incorrectly: %+v", rows[0])
	}
	if rows[1].IsDeparture || rows[1].PriorTTLBucket != "5-10" || rows[1].SampleCount != 7 {
		t.Errorf("row 1 parsed incorrectly: %+v", rows[1])
	}
}
