// Package interfaces defines service contracts for Molly
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/molly/internal/models"
)

// EODHDClient provides access to the EODHD price endpoints
type EODHDClient interface {
	// GetEOD retrieves end-of-day bars for a symbol such as "AAPL.US"
	GetEOD(ctx context.Context, symbol string, opts ...EODOption) ([]models.RawRow, error)

	// GetIntraday retrieves intraday bars between two instants
	GetIntraday(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.RawRow, error)

	// GetCurrency retrieves the listing currency of a symbol
	GetCurrency(ctx context.Context, symbol string) (string, error)
}

// EODOption configures EOD data requests
type EODOption func(*EODParams)

// EODParams holds EOD query parameters
type EODParams struct {
	From   time.Time
	To     time.Time
	Period string // d=daily, w=weekly, m=monthly
	Order  string // a=ascending, d=descending
}

// WithDateRange sets the date range for EOD query
func WithDateRange(from, to time.Time) EODOption {
	return func(p *EODParams) {
		p.From = from
		p.To = to
	}
}

// WithPeriod sets the period for EOD query
func WithPeriod(period string) EODOption {
	return func(p *EODParams) {
		p.Period = period
	}
}

// WithOrder sets the sort order for EOD query
func WithOrder(order string) EODOption {
	return func(p *EODParams) {
		p.Order = order
	}
}

// SeriesFetcher retrieves raw vendor rows for one series over a window.
// Implementations are registered per source name.
type SeriesFetcher interface {
	Fetch(ctx context.Context, key models.SeriesKey, from, to time.Time) (*models.FetchResult, error)
}
