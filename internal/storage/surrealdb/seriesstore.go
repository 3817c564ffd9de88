package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// insertBatchSize bounds the number of rows sent in one INSERT statement.
const insertBatchSize = 1000

// SeriesStore keeps each series name in a rows table plus a sibling
// <name>_metadata ledger table. Table names are interpolated into SurrealQL,
// so every entry point validates the series name first.
type SeriesStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewSeriesStore(db *surrealdb.DB, logger *common.Logger) *SeriesStore {
	return &SeriesStore{
		db:     db,
		logger: logger,
	}
}

// --- SeriesProvisioner ---

type dbInfo struct {
	Tables map[string]any `json:"tables"`
}

func (s *SeriesStore) listTables(ctx context.Context) (map[string]bool, error) {
	results, err := surrealdb.Query[dbInfo](ctx, s.db, "INFO FOR DB", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables := make(map[string]bool)
	if results != nil && len(*results) > 0 {
		for name := range (*results)[0].Result.Tables {
			tables[name] = true
		}
	}
	return tables, nil
}

// EnsureSeriesStorage creates the rows table (with its time bucket field and
// metadata indexes) and then the ledger table. A failure on the ledger table
// leaves the rows table in place; a retry completes it.
func (s *SeriesStore) EnsureSeriesStorage(ctx context.Context, seriesName string) error {
	if err := models.ValidateSeriesName(seriesName); err != nil {
		return &models.ProvisionError{SeriesName: seriesName, Err: err}
	}
	granularity, err := models.GranularityFor(seriesName)
	if err != nil {
		return &models.ProvisionError{SeriesName: seriesName, Err: err}
	}

	existing, err := s.listTables(ctx)
	if err != nil {
		return &models.ProvisionError{SeriesName: seriesName, Err: err}
	}

	metaTable := models.MetadataTable(seriesName)
	if existing[seriesName] && existing[metaTable] {
		return nil
	}

	if !existing[seriesName] {
		if err := s.defineAll(ctx, rowsTableDefinitions(seriesName, granularity)); err != nil {
			return &models.ProvisionError{SeriesName: seriesName, Err: err}
		}
		s.logger.Info().
			Str("table", seriesName).
			Str("granularity", string(granularity)).
			Msg("Created time-series table")
	}

	if !existing[metaTable] {
		if err := s.defineAll(ctx, metadataTableDefinitions(metaTable)); err != nil {
			return &models.ProvisionError{SeriesName: seriesName, Err: err}
		}
		s.logger.Info().Str("table", metaTable).Msg("Created metadata table")
	}

	return nil
}

func (s *SeriesStore) defineAll(ctx context.Context, statements []string) error {
	for _, sql := range statements {
		if _, err := surrealdb.Query[any](ctx, s.db, sql, nil); err != nil {
			return fmt.Errorf("failed to execute %q: %w", sql, err)
		}
	}
	return nil
}

func rowsTableDefinitions(table string, g models.Granularity) []string {
	return []string{
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS COMMENT 'timeseries time=datetime meta=metadata granularity=%s'", table, g),
		fmt.Sprintf("DEFINE FIELD IF NOT EXISTS bucket ON TABLE %s VALUE time::floor(datetime, %s)", table, g.BucketDuration()),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s_series_bucket ON TABLE %s FIELDS metadata.ticker, metadata.exchange, metadata.source, bucket", table, table),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s_series_time ON TABLE %s FIELDS metadata.ticker, metadata.exchange, metadata.source, datetime", table, table),
	}
}

// The key index is non-unique: FindMetadata must be able to see duplicates.
func metadataTableDefinitions(table string) []string {
	return []string{
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s_key ON TABLE %s FIELDS ticker, exchange, series_name, source", table, table),
	}
}

func keyVars(key models.SeriesKey) map[string]any {
	return map[string]any{
		"ticker":      key.Ticker,
		"exchange":    key.Exchange,
		"series_name": key.SeriesName,
		"source":      key.Source,
	}
}

// Compile-time check
var _ interfaces.SeriesStore = (*SeriesStore)(nil)
