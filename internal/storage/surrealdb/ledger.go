package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/molly/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// --- MetadataLedger ---

const ledgerFields = "ticker, exchange, series_name, source, synced_from, synced_to, last_updated, seeded"

const ledgerKeyClause = "ticker = $ticker AND exchange = $exchange AND series_name = $series_name AND source = $source"

func (s *SeriesStore) FindMetadata(ctx context.Context, key models.SeriesKey) ([]models.SeriesMetadata, error) {
	if err := models.ValidateSeriesName(key.SeriesName); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s", ledgerFields, models.MetadataTable(key.SeriesName), ledgerKeyClause)

	results, err := surrealdb.Query[[]models.SeriesMetadata](ctx, s.db, sql, keyVars(key))
	if err != nil {
		return nil, fmt.Errorf("failed to find metadata for %s: %w", key, err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return nil, nil
}

func (s *SeriesStore) SeedMetadata(ctx context.Context, meta *models.SeriesMetadata) error {
	if err := models.ValidateSeriesName(meta.SeriesName); err != nil {
		return err
	}

	sql := fmt.Sprintf("CREATE %s CONTENT $meta", models.MetadataTable(meta.SeriesName))
	vars := map[string]any{"meta": meta}

	if _, err := surrealdb.Query[[]models.SeriesMetadata](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to seed metadata for %s: %w", meta.Key(), err)
	}

	s.logger.Debug().
		Str("series", meta.Key().String()).
		Time("synced_to", meta.SyncedTo).
		Msg("Seeded metadata")
	return nil
}

func (s *SeriesStore) UpdateMetadataRange(ctx context.Context, key models.SeriesKey, from, to, updatedAt time.Time) error {
	if err := models.ValidateSeriesName(key.SeriesName); err != nil {
		return err
	}

	sql := fmt.Sprintf(
		"UPDATE %s SET synced_from = $from, synced_to = $to, last_updated = $updated_at, seeded = false WHERE %s",
		models.MetadataTable(key.SeriesName), ledgerKeyClause)

	vars := keyVars(key)
	vars["from"] = from.UTC()
	vars["to"] = to.UTC()
	vars["updated_at"] = updatedAt.UTC()

	results, err := surrealdb.Query[[]models.SeriesMetadata](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", key, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("no metadata document for %s", key)
	}
	return nil
}
