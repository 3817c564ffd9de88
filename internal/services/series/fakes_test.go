package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/models"
)

// memStore is an in-memory interfaces.SeriesStore.
type memStore struct {
	mu     sync.Mutex
	tables map[string]bool
	ledger map[models.SeriesKey][]models.SeriesMetadata
	rows   map[models.SeriesKey][]models.SeriesRow

	provisionErr map[string]error
	insertErr    map[models.SeriesKey]error
	updateFails  int // UpdateMetadataRange fails this many times before succeeding
	updateCalls  int
	inserts      int
}

func newMemStore() *memStore {
	return &memStore{
		tables:       make(map[string]bool),
		ledger:       make(map[models.SeriesKey][]models.SeriesMetadata),
		rows:         make(map[models.SeriesKey][]models.SeriesRow),
		provisionErr: make(map[string]error),
		insertErr:    make(map[models.SeriesKey]error),
	}
}

func (m *memStore) EnsureSeriesStorage(ctx context.Context, seriesName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.provisionErr[seriesName]; err != nil {
		return err
	}
	m.tables[seriesName] = true
	m.tables[models.MetadataTable(seriesName)] = true
	return nil
}

func (m *memStore) FindMetadata(ctx context.Context, key models.SeriesKey) ([]models.SeriesMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SeriesMetadata(nil), m.ledger[key]...), nil
}

func (m *memStore) SeedMetadata(ctx context.Context, meta *models.SeriesMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[meta.Key()] = append(m.ledger[meta.Key()], *meta)
	return nil
}

func (m *memStore) UpdateMetadataRange(ctx context.Context, key models.SeriesKey, from, to, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateFails > 0 {
		m.updateFails--
		return errors.New("ledger write timeout")
	}
	entries := m.ledger[key]
	if len(entries) == 0 {
		return fmt.Errorf("no metadata document for %s", key)
	}
	for i := range entries {
		entries[i].SyncedFrom = from
		entries[i].SyncedTo = to
		entries[i].LastUpdated = updatedAt
		entries[i].Seeded = false
	}
	return nil
}

func (m *memStore) InsertRows(ctx context.Context, seriesName string, rows []models.SeriesRow) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tables[seriesName] {
		return fmt.Errorf("table %s not provisioned", seriesName)
	}
	key := rowKey(rows[0])
	if err := m.insertErr[key]; err != nil {
		return err
	}
	m.inserts++
	for _, r := range rows {
		k := rowKey(r)
		m.rows[k] = append(m.rows[k], r)
	}
	return nil
}

func (m *memStore) RowBounds(ctx context.Context, key models.SeriesKey) (time.Time, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[key]
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	min, max := rows[0].Datetime, rows[0].Datetime
	for _, r := range rows[1:] {
		if r.Datetime.Before(min) {
			min = r.Datetime
		}
		if r.Datetime.After(max) {
			max = r.Datetime
		}
	}
	return min, max, true, nil
}

func (m *memStore) ReadRange(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SeriesRow
	for _, r := range m.rows[key] {
		if !r.Datetime.Before(from) && !r.Datetime.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out, nil
}

func (m *memStore) storedRows(key models.SeriesKey) []models.SeriesRow {
	rows, _ := m.ReadRange(context.Background(), key, models.EpochStart, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	return rows
}

func (m *memStore) ledgerFor(key models.SeriesKey) []models.SeriesMetadata {
	entries, _ := m.FindMetadata(context.Background(), key)
	return entries
}

func rowKey(r models.SeriesRow) models.SeriesKey {
	return models.SeriesKey{
		Ticker:     r.Metadata.Ticker,
		Exchange:   r.Metadata.Exchange,
		SeriesName: r.Metadata.SeriesName,
		Source:     r.Metadata.Source,
	}
}

var _ interfaces.SeriesStore = (*memStore)(nil)

// ctxStore is a memStore whose reads fail once the caller's context is done.
type ctxStore struct {
	*memStore
}

func (c ctxStore) ReadRange(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memStore.ReadRange(ctx, key, from, to)
}

type fetchCall struct {
	key      models.SeriesKey
	from, to time.Time
}

// fakeFetcher serves raw rows from a function and records every call.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	fetchFn func(key models.SeriesKey, from, to time.Time) (*models.FetchResult, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, key models.SeriesKey, from, to time.Time) (*models.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{key: key, from: from, to: to})
	f.mu.Unlock()
	if f.fetchFn == nil {
		return &models.FetchResult{}, nil
	}
	return f.fetchFn(key, from, to)
}

func (f *fakeFetcher) callsFor(key models.SeriesKey) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.key == key {
			out = append(out, c)
		}
	}
	return out
}

// dailyBars returns EOD-shaped raw rows for each date.
func dailyBars(dates ...time.Time) []models.RawRow {
	rows := make([]models.RawRow, 0, len(dates))
	for i, d := range dates {
		price := 100 + float64(i)
		rows = append(rows, models.RawRow{
			"date":           d.Format("2006-01-02"),
			"open":           json.Number(fmt.Sprintf("%.2f", price)),
			"high":           json.Number(fmt.Sprintf("%.2f", price+1)),
			"low":            json.Number(fmt.Sprintf("%.2f", price-1)),
			"close":          json.Number(fmt.Sprintf("%.2f", price+0.5)),
			"adjusted_close": json.Number(fmt.Sprintf("%.2f", price+0.5)),
			"volume":         json.Number("1000000"),
		})
	}
	return rows
}

// barsWithin serves the bars of dates that fall inside the requested window.
func barsWithin(dates ...time.Time) func(models.SeriesKey, time.Time, time.Time) (*models.FetchResult, error) {
	return func(key models.SeriesKey, from, to time.Time) (*models.FetchResult, error) {
		var in []time.Time
		for _, d := range dates {
			if !d.Before(truncateDay(from)) && !d.After(to) {
				in = append(in, d)
			}
		}
		return &models.FetchResult{Rows: dailyBars(in...), Currency: "USD"}, nil
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, store interfaces.SeriesStore, fetcher interfaces.SeriesFetcher, now time.Time, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return now }),
		WithRefreshBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		WithMaxConcurrent(2),
	}
	return NewService(store, map[string]interfaces.SeriesFetcher{"eod": fetcher}, common.NewSilentLogger(), append(base, opts...)...)
}

func mustRequest(t *testing.T, key models.SeriesKey, from, to time.Time) models.SyncRequest {
	t.Helper()
	req, err := models.NewSyncRequest(key, from, to)
	if err != nil {
		t.Fatalf("NewSyncRequest: %v", err)
	}
	return req
}
