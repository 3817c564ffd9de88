// Package series synchronizes vendor OHLCV series into storage.
//
// A run provisions the tables of each series name, resolves a fetch plan per
// series key from its ledger entry, fetches the missing window from the
// key's source, appends the normalized rows and then recomputes the ledger
// range from the rows actually stored. Each key succeeds or fails on its own.
package series

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/models"
)

const (
	defaultMaxConcurrent  = 4
	defaultRefreshRetries = 5

	// readBackTimeout bounds the final reads once the run context is done.
	readBackTimeout = 30 * time.Second
)

// Service implements interfaces.SeriesService
type Service struct {
	store      interfaces.SeriesStore
	fetchers   map[string]interfaces.SeriesFetcher
	normalizer *Normalizer
	metrics    *Metrics
	logger     *common.Logger

	maxConcurrent  int
	refreshRetries int
	newBackOff     func() backoff.BackOff
	now            func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithClock replaces the wall clock used for plans and ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func() time.Time { return now().UTC() }
	}
}

// WithMaxConcurrent bounds concurrent fetches and loads.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithRefreshRetries sets how many times a ledger refresh is attempted.
func WithRefreshRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.refreshRetries = n
		}
	}
}

// WithRefreshBackOff sets the backoff policy between ledger refresh attempts.
func WithRefreshBackOff(fn func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = fn
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a new series sync service. fetchers is keyed by source name.
func NewService(store interfaces.SeriesStore, fetchers map[string]interfaces.SeriesFetcher, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		store:          store,
		fetchers:       fetchers,
		normalizer:     NewNormalizer(logger),
		logger:         logger,
		maxConcurrent:  defaultMaxConcurrent,
		refreshRetries: defaultRefreshRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// keyState tracks one distinct series key through a run.
type keyState struct {
	key      models.SeriesKey
	plan     models.FetchPlan
	err      error
	fetched  *models.FetchResult
	inserted int
	dropped  int
}

func (st *keyState) fail(err error) {
	if st.err == nil {
		st.err = err
	}
}

// Run syncs every request and returns one result per request, in input order.
func (s *Service) Run(ctx context.Context, requests []models.SyncRequest) ([]models.SeriesResult, error) {
	report, err := s.RunReport(ctx, requests)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// RunReport syncs every request and returns the results with a run summary.
func (s *Service) RunReport(ctx context.Context, requests []models.SyncRequest) (*models.SyncReport, error) {
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	start := time.Now()
	runID := uuid.New().String()
	logger := s.logger.With().Str("run_id", runID).Logger()

	// Requests with the same key collapse onto one state.
	states := make(map[models.SeriesKey]*keyState)
	var keys []*keyState
	for _, req := range requests {
		if _, ok := states[req.Key]; !ok {
			st := &keyState{key: req.Key}
			states[req.Key] = st
			keys = append(keys, st)
		}
	}

	logger.Info().
		Int("requests", len(requests)).
		Int("keys", len(keys)).
		Msg("Sync run started")

	s.provision(ctx, keys)
	s.resolve(ctx, keys)

	var newSeries, extend []*keyState
	for _, st := range keys {
		if st.err != nil {
			continue
		}
		s.metrics.RecordPlan(st.key.SeriesName, string(st.plan.Kind))
		switch st.plan.Kind {
		case models.PlanNewSeries:
			newSeries = append(newSeries, st)
		case models.PlanExtend:
			extend = append(extend, st)
		}
	}

	for _, group := range [][]*keyState{newSeries, extend} {
		if len(group) == 0 {
			continue
		}
		s.fetchGroup(ctx, group)
		s.loadGroup(ctx, group)
	}

	results := s.readBack(ctx, requests, states)

	summary := models.SyncSummary{
		RunID:    runID,
		Requests: len(requests),
		Keys:     len(keys),
		Duration: time.Since(start),
	}
	for _, st := range keys {
		summary.RowsInserted += st.inserted
		summary.RowsDropped += st.dropped
		if st.err != nil {
			summary.Failed++
			s.metrics.RecordError(st.key.SeriesName, models.ErrorKind(st.err))
			logger.Warn().
				Str("series", st.key.String()).
				Str("kind", models.ErrorKind(st.err)).
				Err(st.err).
				Msg("Series sync failed")
		}
		switch st.plan.Kind {
		case models.PlanNewSeries:
			summary.NewSeries++
		case models.PlanExtend:
			summary.Extended++
		case models.PlanUpToDate:
			summary.UpToDate++
		}
	}

	logger.Info().
		Int("keys", summary.Keys).
		Int("new_series", summary.NewSeries).
		Int("extended", summary.Extended).
		Int("up_to_date", summary.UpToDate).
		Int("failed", summary.Failed).
		Int("rows_inserted", summary.RowsInserted).
		Int("rows_dropped", summary.RowsDropped).
		Dur("elapsed", summary.Duration).
		Msg("Sync run complete")

	return &models.SyncReport{Summary: summary, Results: results}, nil
}

func validateRequests(requests []models.SyncRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: no series requested", models.ErrInvalidRequest)
	}
	for i, req := range requests {
		if err := req.Key.Validate(); err != nil {
			return fmt.Errorf("request %d (%s): %w", i, req.Key, err)
		}
		if req.RequestedFrom.After(req.RequestedTo) {
			return fmt.Errorf("request %d (%s): %w: from is after to", i, req.Key, models.ErrInvalidRequest)
		}
	}
	return nil
}

// provision ensures storage once per distinct series name. A failure excludes
// every key of that name.
func (s *Service) provision(ctx context.Context, keys []*keyState) {
	defer s.metrics.ObserveStage("provision", time.Now())

	failed := make(map[string]error)
	done := make(map[string]bool)
	for _, st := range keys {
		name := st.key.SeriesName
		if !done[name] {
			done[name] = true
			if err := s.store.EnsureSeriesStorage(ctx, name); err != nil {
				var perr *models.ProvisionError
				if !errors.As(err, &perr) {
					err = &models.ProvisionError{SeriesName: name, Err: err}
				}
				failed[name] = err
			}
		}
		if err, ok := failed[name]; ok {
			st.fail(err)
		}
	}
}

func (s *Service) resolve(ctx context.Context, keys []*keyState) {
	defer s.metrics.ObserveStage("resolve", time.Now())

	s.fanOut(ctx, "resolve", keys, func(st *keyState) error {
		plan, err := s.Resolve(ctx, st.key)
		if err != nil {
			return err
		}
		st.plan = plan
		s.logger.Debug().
			Str("series", st.key.String()).
			Str("plan", string(plan.Kind)).
			Time("from", plan.From).
			Time("to", plan.To).
			Msg("Resolved fetch plan")
		return nil
	})
}

// fetchGroup fetches every key of a group concurrently and waits for all.
func (s *Service) fetchGroup(ctx context.Context, group []*keyState) {
	defer s.metrics.ObserveStage("fetch", time.Now())

	s.fanOut(ctx, "fetch", group, func(st *keyState) error {
		fetcher, ok := s.fetchers[st.key.Source]
		if !ok {
			return &models.FetchError{Key: st.key, Err: fmt.Errorf("no fetcher registered for source %q", st.key.Source)}
		}
		res, err := fetcher.Fetch(ctx, st.key, st.plan.From, st.plan.To)
		if err != nil {
			return &models.FetchError{Key: st.key, Err: err}
		}
		if res == nil {
			res = &models.FetchResult{}
		}
		st.fetched = res
		return nil
	})
}

// loadGroup normalizes, inserts and refreshes the ledger for each fetched key.
func (s *Service) loadGroup(ctx context.Context, group []*keyState) {
	defer s.metrics.ObserveStage("load", time.Now())

	s.fanOut(ctx, "load", group, func(st *keyState) error {
		if st.fetched == nil {
			return nil
		}
		norm := s.normalizer.Normalize(st.key, st.fetched.Currency, st.fetched.Rows)
		st.fetched = nil
		st.dropped = norm.Dropped

		rows, err := s.newRows(ctx, st, norm.Rows)
		if err != nil {
			return &models.LoadError{Key: st.key, Err: err}
		}

		if err := s.store.InsertRows(ctx, st.key.SeriesName, rows); err != nil {
			return &models.LoadError{Key: st.key, Err: err}
		}
		st.inserted = len(rows)
		s.metrics.RecordRows(st.key.SeriesName, st.key.Source, st.inserted, st.dropped)

		return s.refresh(ctx, st.key)
	})
}

// newRows drops rows at or before what is already stored for the key. The
// boundary is the later of the ledger's upper bound and the stored maximum;
// the two differ only when an earlier ledger refresh failed.
func (s *Service) newRows(ctx context.Context, st *keyState, rows []models.SeriesRow) ([]models.SeriesRow, error) {
	_, storedMax, found, err := s.store.RowBounds(ctx, st.key)
	if err != nil {
		return nil, fmt.Errorf("stored bounds: %w", err)
	}

	var boundary time.Time
	if st.plan.Kind == models.PlanExtend {
		boundary = st.plan.From
	}
	if found && storedMax.After(boundary) {
		boundary = storedMax
	}
	if boundary.IsZero() {
		return rows, nil
	}
	return rowsAfter(rows, boundary), nil
}

// rowsAfter keeps rows strictly after boundary.
func rowsAfter(rows []models.SeriesRow, boundary time.Time) []models.SeriesRow {
	out := rows[:0]
	for _, r := range rows {
		if r.Datetime.After(boundary) {
			out = append(out, r)
		}
	}
	return out
}

// refresh recomputes the ledger range from stored rows. It is retried with
// backoff because a failure leaves the ledger behind the stored rows.
func (s *Service) refresh(ctx context.Context, key models.SeriesKey) error {
	defer s.metrics.ObserveStage("refresh", time.Now())

	attempts := 0
	var skipped bool
	var syncedTo time.Time

	op := func() error {
		attempts++
		min, max, found, err := s.store.RowBounds(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			skipped = true
			return nil
		}
		if err := s.store.UpdateMetadataRange(ctx, key, min, max, s.now()); err != nil {
			return err
		}
		syncedTo = max
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.refreshRetries-1)), ctx)
	notify := func(err error, wait time.Duration) {
		s.logger.Warn().
			Str("series", key.String()).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Err(err).
			Msg("Ledger refresh failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		s.logger.Error().
			Str("series", key.String()).
			Int("attempts", attempts).
			Err(err).
			Msg("Ledger refresh failed; ledger lags stored rows until the next successful run")
		return &models.UpdateError{Key: key, Attempts: attempts, Err: err}
	}

	if skipped {
		s.logger.Info().Str("series", key.String()).Msg("No stored rows; ledger left unchanged")
		return nil
	}

	s.metrics.RecordSyncedTo(key.SeriesName, key.Ticker, key.Exchange, key.Source, syncedTo)
	return nil
}

// readBack answers each request from storage. Keys that failed earlier in the
// run return no rows. Keys that completed are still read after the run context
// is cancelled, so a deadline returns partial results instead of read errors.
func (s *Service) readBack(ctx context.Context, requests []models.SyncRequest, states map[models.SeriesKey]*keyState) []models.SeriesResult {
	defer s.metrics.ObserveStage("read", time.Now())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readBackTimeout)
	defer cancel()

	results := make([]models.SeriesResult, len(requests))
	for i, req := range requests {
		st := states[req.Key]
		results[i] = models.SeriesResult{Request: req, Plan: st.plan}
		if st.err != nil {
			results[i].Err = st.err
			continue
		}
		rows, err := s.store.ReadRange(ctx, req.Key, req.RequestedFrom, req.RequestedTo)
		if err != nil {
			results[i].Err = &models.ReadError{Key: req.Key, Err: err}
			continue
		}
		results[i].Rows = rows
	}
	return results
}

// Read returns stored rows for key within [from, to], ascending.
func (s *Service) Read(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SeriesRow, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", models.ErrInvalidRequest)
	}
	rows, err := s.store.ReadRange(ctx, key, from.UTC(), to.UTC())
	if err != nil {
		return nil, &models.ReadError{Key: key, Err: err}
	}
	return rows, nil
}

// Metadata returns the ledger entries for key.
func (s *Service) Metadata(ctx context.Context, key models.SeriesKey) ([]models.SeriesMetadata, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.store.FindMetadata(ctx, key)
	if err != nil {
		return nil, &models.LedgerError{Key: key, Err: err}
	}
	return entries, nil
}

// Compile-time check
var _ interfaces.SeriesService = (*Service)(nil)
