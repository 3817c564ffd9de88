package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/molly/internal/models"
)

// SeriesService synchronizes vendor series into storage and reads them back
type SeriesService interface {
	// Run syncs every request and returns one result per request, in input order.
	// Only request validation failures are returned as an error; per-series
	// failures are reported on the matching results.
	Run(ctx context.Context, requests []models.SyncRequest) ([]models.SeriesResult, error)

	// RunReport is Run plus the run summary.
	RunReport(ctx context.Context, requests []models.SyncRequest) (*models.SyncReport, error)

	// Read returns stored rows for the key within [from, to], ascending.
	Read(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error)

	// Metadata returns the ledger documents for the key.
	Metadata(ctx context.Context, key models.SeriesKey) ([]models.SeriesMetadata, error)
}
