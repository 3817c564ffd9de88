package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/molly/internal/models"
)

func testReport() *models.SyncReport {
	aapl := models.SeriesKey{Ticker: "AAPL", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}
	msft := models.SeriesKey{Ticker: "MSFT", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}
	return &models.SyncReport{
		Summary: models.SyncSummary{RunID: "r1", Keys: 2, NewSeries: 1, UpToDate: 1, Failed: 1, Duration: 1500 * time.Millisecond},
		Results: []models.SeriesResult{
			{Request: models.SyncRequest{Key: aapl}, Plan: models.FetchPlan{Kind: models.PlanUpToDate}, Rows: make([]models.SeriesRow, 3)},
			{Request: models.SyncRequest{Key: msft}, Plan: models.FetchPlan{Kind: models.PlanNewSeries},
				Err: &models.FetchError{Key: msft, Err: errors.New("status 403")}},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSummary(&buf, testReport()); err != nil {
		t.Fatalf("writeSummary: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run r1", "1 failed", "1.5s", "3 rows", "fetch: fetch", "status 403"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, testReport()); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	var decoded struct {
		Summary models.SyncSummary `json:"summary"`
		Results []struct {
			ErrorKind string `json:"error_kind"`
		} `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Summary.RunID != "r1" || len(decoded.Results) != 2 {
		t.Fatalf("unexpected report: %+v", decoded)
	}
	if decoded.Results[0].ErrorKind != "" || decoded.Results[1].ErrorKind != "fetch" {
		t.Errorf("unexpected error kinds: %+v", decoded.Results)
	}
}
