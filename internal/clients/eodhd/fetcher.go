package eodhd

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/models"
)

// SourceName is the source identifier series use to select this fetcher.
const SourceName = "eod"

// intradayWindows is the widest from/to span the intraday endpoint serves per
// request, by interval.
var intradayWindows = map[string]time.Duration{
	"1m": 120 * 24 * time.Hour,
	"5m": 600 * 24 * time.Hour,
	"1h": 7200 * 24 * time.Hour,
}

// Fetcher adapts the EODHD client to interfaces.SeriesFetcher.
// Daily series use the EOD endpoint; hourly and minute series use the
// intraday endpoint, paginated by window. Second series are not offered by
// the vendor.
type Fetcher struct {
	client         interfaces.EODHDClient
	logger         *common.Logger
	currencyLookup bool
	intradayStart  time.Time
}

// FetcherOption configures the fetcher
type FetcherOption func(*Fetcher)

// WithCurrencyLookup enables resolving the listing currency for each fetch.
func WithCurrencyLookup(enabled bool) FetcherOption {
	return func(f *Fetcher) {
		f.currencyLookup = enabled
	}
}

// WithIntradayStart sets the earliest instant requested from the intraday
// endpoint. Windows before it are never fetched.
func WithIntradayStart(start time.Time) FetcherOption {
	return func(f *Fetcher) {
		f.intradayStart = start.UTC()
	}
}

// WithFetcherLogger sets the logger
func WithFetcherLogger(logger *common.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func NewFetcher(client interfaces.EODHDClient, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: client,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, key models.SeriesKey, from, to time.Time) (*models.FetchResult, error) {
	if key.Source != SourceName {
		return nil, fmt.Errorf("eodhd fetcher cannot serve source %q", key.Source)
	}
	if key.SeriesName == "" {
		return nil, fmt.Errorf("empty series name")
	}

	var rows []models.RawRow
	var err error

	switch key.SeriesName[len(key.SeriesName)-1] {
	case 'd':
		rows, err = f.client.GetEOD(ctx, key.Symbol(),
			interfaces.WithDateRange(from, to),
			interfaces.WithPeriod("d"),
			interfaces.WithOrder("a"))
	case 'h', 'm':
		rows, err = f.fetchIntraday(ctx, key, from, to)
	default:
		return nil, fmt.Errorf("eodhd has no %s series for %s", key.Interval(), key.SeriesName)
	}
	if err != nil {
		return nil, err
	}

	result := &models.FetchResult{Rows: rows}

	if f.currencyLookup {
		currency, err := f.client.GetCurrency(ctx, key.Symbol())
		if err != nil {
			f.logger.Warn().Err(err).Str("symbol", key.Symbol()).Msg("Currency lookup failed")
		} else {
			result.Currency = currency
		}
	}

	f.logger.Debug().
		Str("series", key.String()).
		Time("from", from).
		Time("to", to).
		Int("rows", len(rows)).
		Msg("Fetched series from EODHD")

	return result, nil
}

func (f *Fetcher) fetchIntraday(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.RawRow, error) {
	interval := key.Interval()
	window, ok := intradayWindows[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported intraday interval %q (want 1m, 5m or 1h)", interval)
	}
	if from.Before(f.intradayStart) {
		from = f.intradayStart
	}
	if from.After(to) {
		return nil, nil
	}

	var all []models.RawRow
	seen := make(map[string]bool)

	for _, w := range splitWindows(from, to, window) {
		bars, err := f.client.GetIntraday(ctx, key.Symbol(), interval, w[0], w[1])
		if err != nil {
			return nil, fmt.Errorf("intraday window %s - %s: %w", w[0].Format(time.RFC3339), w[1].Format(time.RFC3339), err)
		}
		// Adjacent windows share their boundary instant.
		for _, bar := range bars {
			id := fmt.Sprint(bar["timestamp"], bar["datetime"])
			if seen[id] {
				continue
			}
			seen[id] = true
			all = append(all, bar)
		}
	}
	return all, nil
}

// splitWindows cuts [from, to] into consecutive spans no longer than size.
// The final span may be shorter. A zero-length range yields one span.
func splitWindows(from, to time.Time, size time.Duration) [][2]time.Time {
	if !to.After(from) {
		return [][2]time.Time{{from, to}}
	}
	var windows [][2]time.Time
	for start := from; start.Before(to); start = start.Add(size) {
		end := start.Add(size)
		if end.After(to) {
			end = to
		}
		windows = append(windows, [2]time.Time{start, end})
	}
	return windows
}

// Compile-time check
var _ interfaces.SeriesFetcher = (*Fetcher)(nil)
