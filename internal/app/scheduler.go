package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/models"
)

// SyncJob runs one sync of the series listed in a manifest file. The manifest
// is re-read on every run so edits take effect without a restart.
type SyncJob struct {
	service      interfaces.SeriesService
	manifestPath string
	timeout      time.Duration
	logger       *common.Logger
	now          func() time.Time
}

// NewSyncJob creates a manifest sync job. A zero timeout means no deadline.
func NewSyncJob(service interfaces.SeriesService, manifestPath string, timeout time.Duration, logger *common.Logger) *SyncJob {
	return &SyncJob{
		service:      service,
		manifestPath: manifestPath,
		timeout:      timeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Run loads the manifest and syncs it.
func (j *SyncJob) Run(ctx context.Context) (*models.SyncReport, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	manifest, err := LoadManifest(j.manifestPath)
	if err != nil {
		return nil, err
	}
	requests, err := manifest.Requests(j.now())
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", j.manifestPath, err)
	}
	return j.service.RunReport(ctx, requests)
}

// Scheduler runs a SyncJob on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	job     *SyncJob
	logger  *common.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.Once
}

// NewScheduler parses schedule, a cron expression with a leading seconds
// field evaluated in UTC.
func NewScheduler(schedule string, job *SyncJob, logger *common.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, job: job, logger: logger, ctx: ctx, cancel: cancel}

	id, err := c.AddFunc(schedule, s.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) tick() {
	start := time.Now()
	report, err := s.job.Run(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled sync failed")
		return
	}
	s.logger.Info().
		Str("run_id", report.Summary.RunID).
		Int("keys", report.Summary.Keys).
		Int("failed", report.Summary.Failed).
		Int("rows_inserted", report.Summary.RowsInserted).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduled sync complete")
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Time("next", s.Next()).Msg("Sync scheduler started")
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop cancels a running sync and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopped.Do(func() {
		s.cancel()
		done := s.cron.Stop()
		select {
		case <-done.Done():
			s.logger.Info().Msg("Sync scheduler stopped")
		case <-ctx.Done():
			s.logger.Warn().Msg("Sync scheduler stop timed out")
		}
	})
}

// cronLogger adapts the zerolog logger to cron.Logger.
type cronLogger struct {
	logger *common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
