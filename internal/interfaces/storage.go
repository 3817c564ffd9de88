package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/molly/internal/models"
)

// StorageManager owns the database handle and exposes the stores built on it.
type StorageManager interface {
	SeriesStore() SeriesStore
	Ping(ctx context.Context) error
	Close() error
}

// SeriesProvisioner creates the rows and ledger tables for a series name.
type SeriesProvisioner interface {
	// EnsureSeriesStorage is idempotent; it never fails because a table already exists.
	EnsureSeriesStorage(ctx context.Context, seriesName string) error
}

// MetadataLedger stores one synced-range document per series key.
type MetadataLedger interface {
	// FindMetadata returns every ledger document matching the key.
	// More than one result means the ledger is corrupt.
	FindMetadata(ctx context.Context, key models.SeriesKey) ([]models.SeriesMetadata, error)

	// SeedMetadata inserts the initial ledger document for a new series.
	SeedMetadata(ctx context.Context, meta *models.SeriesMetadata) error

	// UpdateMetadataRange sets synced_from/synced_to and clears the seeded flag
	// in a single statement.
	UpdateMetadataRange(ctx context.Context, key models.SeriesKey, from, to, updatedAt time.Time) error
}

// RowStore holds the append-only OHLCV rows of every series sharing a series name.
type RowStore interface {
	// InsertRows bulk inserts rows into the series name's table. Empty input is a no-op.
	InsertRows(ctx context.Context, seriesName string, rows []models.SeriesRow) error

	// RowBounds returns the earliest and latest stored datetime for the key.
	// found is false when no rows are stored.
	RowBounds(ctx context.Context, key models.SeriesKey) (min, max time.Time, found bool, err error)

	// ReadRange returns rows with from <= datetime <= to, ascending.
	ReadRange(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error)
}

// SeriesStore combines provisioning, ledger and row access.
type SeriesStore interface {
	SeriesProvisioner
	MetadataLedger
	RowStore
}
