// Package models defines data structures for Molly
package models

import (
	"fmt"
	"strings"
	"time"
)

// EpochStart is the sentinel lower bound used when seeding a new ledger entry.
var EpochStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Granularity is the time bucketing unit of a series' rows table.
type Granularity string

const (
	GranularityHours   Granularity = "hours"
	GranularityMinutes Granularity = "minutes"
	GranularitySeconds Granularity = "seconds"
)

// BucketDuration returns the SurrealQL duration literal used to floor row timestamps.
func (g Granularity) BucketDuration() string {
	switch g {
	case GranularityHours:
		return "1h"
	case GranularityMinutes:
		return "1m"
	case GranularitySeconds:
		return "1s"
	}
	return ""
}

// GranularityFor derives the bucketing granularity from the trailing character
// of a series name. Daily and hourly series bucket by hour.
func GranularityFor(seriesName string) (Granularity, error) {
	if seriesName == "" {
		return "", fmt.Errorf("empty series name")
	}
	switch seriesName[len(seriesName)-1] {
	case 'd', 'h':
		return GranularityHours, nil
	case 'm':
		return GranularityMinutes, nil
	case 's':
		return GranularitySeconds, nil
	}
	return "", fmt.Errorf("series name %q has no recognised granularity suffix (d, h, m, s)", seriesName)
}

// MetadataTable returns the ledger table paired with a rows table.
func MetadataTable(seriesName string) string {
	return seriesName + "_metadata"
}

// SeriesKey identifies one logical time series.
type SeriesKey struct {
	Ticker     string `json:"ticker"`
	Exchange   string `json:"exchange"`
	SeriesName string `json:"series_name"`
	Source     string `json:"source"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s.%s/%s@%s", k.Ticker, k.Exchange, k.SeriesName, k.Source)
}

// Symbol returns the vendor symbol, e.g. "AAPL.US".
func (k SeriesKey) Symbol() string {
	return k.Ticker + "." + k.Exchange
}

// Granularity returns the bucketing granularity for the key's series name.
func (k SeriesKey) Granularity() (Granularity, error) {
	return GranularityFor(k.SeriesName)
}

// Interval returns the last underscore-separated segment of the series name,
// e.g. "1d" for "equity_spot_1d".
func (k SeriesKey) Interval() string {
	if i := strings.LastIndex(k.SeriesName, "_"); i >= 0 {
		return k.SeriesName[i+1:]
	}
	return k.SeriesName
}

// SyncRequest asks for a series over an inclusive date range.
type SyncRequest struct {
	Key           SeriesKey `json:"key"`
	RequestedFrom time.Time `json:"requested_from"`
	RequestedTo   time.Time `json:"requested_to"`
}

// SeriesMetadata is the ledger document stored in <seriesName>_metadata.
// SyncedFrom and SyncedTo track the actual min/max stored row timestamps.
// Seeded marks an entry created for a new series that has not yet been
// refreshed from stored rows.
type SeriesMetadata struct {
	Ticker      string    `json:"ticker"`
	Exchange    string    `json:"exchange"`
	SeriesName  string    `json:"series_name"`
	Source      string    `json:"source"`
	SyncedFrom  time.Time `json:"synced_from"`
	SyncedTo    time.Time `json:"synced_to"`
	LastUpdated time.Time `json:"last_updated"`
	Seeded      bool      `json:"seeded"`
}

// Key returns the series key the ledger entry belongs to.
func (m *SeriesMetadata) Key() SeriesKey {
	return SeriesKey{Ticker: m.Ticker, Exchange: m.Exchange, SeriesName: m.SeriesName, Source: m.Source}
}

// NewSeedMetadata builds the initial ledger entry for a series seen for the first time.
func NewSeedMetadata(key SeriesKey, now time.Time) *SeriesMetadata {
	return &SeriesMetadata{
		Ticker:      key.Ticker,
		Exchange:    key.Exchange,
		SeriesName:  key.SeriesName,
		Source:      key.Source,
		SyncedFrom:  EpochStart,
		SyncedTo:    now,
		LastUpdated: now,
		Seeded:      true,
	}
}

// RowMetadata is embedded in every stored row and used to filter reads.
type RowMetadata struct {
	Ticker     string `json:"ticker"`
	Exchange   string `json:"exchange"`
	Source     string `json:"source"`
	SeriesName string `json:"series_name"`
	Currency   string `json:"currency,omitempty"`
}

// SeriesRow is one normalized OHLCV record.
type SeriesRow struct {
	Datetime      time.Time   `json:"datetime"`
	Open          float64     `json:"open"`
	High          float64     `json:"high"`
	Low           float64     `json:"low"`
	Close         float64     `json:"close"`
	AdjustedClose *float64    `json:"adjusted_close,omitempty"`
	Volume        *int64      `json:"volume,omitempty"`
	Metadata      RowMetadata `json:"metadata"`
}

// RawRow is a vendor-native record keyed by vendor field name.
type RawRow map[string]any

// FetchResult is what a source fetcher returns for one series.
type FetchResult struct {
	Rows     []RawRow
	Currency string
}

// PlanKind classifies how a series must be synced.
type PlanKind string

const (
	PlanNewSeries PlanKind = "new_series"
	PlanExtend    PlanKind = "extend"
	PlanUpToDate  PlanKind = "up_to_date"
)

// FetchPlan is the resolved fetch window for one series key.
type FetchPlan struct {
	Kind PlanKind  `json:"kind"`
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// NeedsFetch reports whether the plan requires a vendor fetch.
func (p FetchPlan) NeedsFetch() bool {
	return p.Kind == PlanNewSeries || p.Kind == PlanExtend
}

// SeriesResult is the outcome for one input request of a sync run.
type SeriesResult struct {
	Request SyncRequest `json:"request"`
	Plan    FetchPlan   `json:"plan"`
	Rows    []SeriesRow `json:"rows"`
	Err     error       `json:"-"`
}

// SyncSummary aggregates counters for a sync run.
type SyncSummary struct {
	RunID        string        `json:"run_id"`
	Requests     int           `json:"requests"`
	Keys         int           `json:"keys"`
	NewSeries    int           `json:"new_series"`
	Extended     int           `json:"extended"`
	UpToDate     int           `json:"up_to_date"`
	Failed       int           `json:"failed"`
	RowsInserted int           `json:"rows_inserted"`
	RowsDropped  int           `json:"rows_dropped"`
	Duration     time.Duration `json:"duration"`
}

// SyncReport is the full outcome of a sync run.
type SyncReport struct {
	Summary SyncSummary    `json:"summary"`
	Results []SeriesResult `json:"results"`
}
