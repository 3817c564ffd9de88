package series

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/molly/internal/models"
)

// Resolve decides what must be fetched for key. A key with no ledger entry is
// seeded and resolved as a new series. So is a key whose only entry was
// seeded but never refreshed, which covers a first fetch that failed.
func (s *Service) Resolve(ctx context.Context, key models.SeriesKey) (models.FetchPlan, error) {
	now := s.now()

	entries, err := s.store.FindMetadata(ctx, key)
	if err != nil {
		return models.FetchPlan{}, &models.LedgerError{Key: key, Err: fmt.Errorf("lookup: %w", err)}
	}

	switch len(entries) {
	case 0:
		if err := s.store.SeedMetadata(ctx, models.NewSeedMetadata(key, now)); err != nil {
			return models.FetchPlan{}, &models.LedgerError{Key: key, Err: fmt.Errorf("seed: %w", err)}
		}
		return models.FetchPlan{Kind: models.PlanNewSeries, From: models.EpochStart, To: now}, nil
	case 1:
	default:
		return models.FetchPlan{}, &models.DuplicateMetadataError{Key: key, Count: len(entries)}
	}

	entry := entries[0]
	if entry.Seeded {
		return models.FetchPlan{Kind: models.PlanNewSeries, From: models.EpochStart, To: now}, nil
	}

	if BusinessDayElapsed(entry.SyncedTo, now) {
		return models.FetchPlan{Kind: models.PlanExtend, From: entry.SyncedTo.UTC(), To: now}, nil
	}
	return models.FetchPlan{Kind: models.PlanUpToDate}, nil
}

// BusinessDayElapsed reports whether any Monday to Friday calendar day lies
// after last's date, up to and including now's date. Dates are taken in UTC.
// Exchange holidays are not considered.
func BusinessDayElapsed(last, now time.Time) bool {
	d := truncateDay(last).AddDate(0, 0, 1)
	end := truncateDay(now)
	for !d.After(end) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			return true
		}
		d = d.AddDate(0, 0, 1)
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
