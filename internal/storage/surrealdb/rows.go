package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/molly/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// --- RowStore ---

const rowFields = "datetime, open, high, low, close, adjusted_close, volume, metadata"

const rowKeyClause = "metadata.ticker = $ticker AND metadata.exchange = $exchange AND metadata.source = $source"

func (s *SeriesStore) InsertRows(ctx context.Context, seriesName string, rows []models.SeriesRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := models.ValidateSeriesName(seriesName); err != nil {
		return err
	}

	sql := fmt.Sprintf("INSERT INTO %s $rows RETURN NONE", seriesName)

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		vars := map[string]any{"rows": rows[start:end]}
		if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
			return fmt.Errorf("failed to insert rows %d-%d into %s: %w", start, end, seriesName, err)
		}
	}

	s.logger.Debug().
		Str("table", seriesName).
		Int("rows", len(rows)).
		Msg("Inserted rows")
	return nil
}

type datetimeResult struct {
	Datetime time.Time `json:"datetime"`
}

func (s *SeriesStore) RowBounds(ctx context.Context, key models.SeriesKey) (time.Time, time.Time, bool, error) {
	if err := models.ValidateSeriesName(key.SeriesName); err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	first, ok, err := s.edgeDatetime(ctx, key, "ASC")
	if err != nil || !ok {
		return time.Time{}, time.Time{}, false, err
	}
	last, ok, err := s.edgeDatetime(ctx, key, "DESC")
	if err != nil || !ok {
		return time.Time{}, time.Time{}, false, err
	}
	return first, last, true, nil
}

func (s *SeriesStore) edgeDatetime(ctx context.Context, key models.SeriesKey, order string) (time.Time, bool, error) {
	sql := fmt.Sprintf("SELECT datetime FROM %s WHERE %s ORDER BY datetime %s LIMIT 1", key.SeriesName, rowKeyClause, order)

	results, err := surrealdb.Query[[]datetimeResult](ctx, s.db, sql, keyVars(key))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query %s datetime for %s: %w", order, key, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return time.Time{}, false, nil
	}
	return (*results)[0].Result[0].Datetime.UTC(), true, nil
}

func (s *SeriesStore) ReadRange(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error) {
	if err := models.ValidateSeriesName(key.SeriesName); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s AND datetime >= $from AND datetime <= $to ORDER BY datetime ASC",
		rowFields, key.SeriesName, rowKeyClause)

	vars := keyVars(key)
	vars["from"] = from.UTC()
	vars["to"] = to.UTC()

	results, err := surrealdb.Query[[]models.SeriesRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	rows := (*results)[0].Result
	for i := range rows {
		rows[i].Datetime = rows[i].Datetime.UTC()
	}
	return rows, nil
}
