// Package app wires configuration, storage, vendor clients and the series
// sync service into one process. It is the shared core of cmd/molly-server
// and cmd/molly-sync.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/bobmcallan/molly/internal/clients/eodhd"
	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/interfaces"
	"github.com/bobmcallan/molly/internal/services/series"
	"github.com/bobmcallan/molly/internal/storage/surrealdb"
)

const connectTimeout = 30 * time.Second

// App holds the initialized services and clients.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Storage       interfaces.StorageManager
	EODHDClient   interfaces.EODHDClient
	SeriesService interfaces.SeriesService
	Registry      *prometheus.Registry
	StartupTime   time.Time

	logCloser io.Closer
	scheduler *Scheduler
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath picks the config file: the given path, MOLLY_CONFIG, a
// molly.toml beside the binary, then config/molly.toml.
func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("MOLLY_CONFIG"); env != "" {
		return env
	}
	p := filepath.Join(getBinaryDir(), "molly.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return "config/molly.toml"
}

// NewApp loads configuration and connects storage and the vendor client.
// configPath may be empty, in which case the default resolution is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	config, err := common.LoadConfig(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if key, err := common.ResolveAPIKey("eodhd_api_key", config.Clients.EODHD.APIKey); err == nil {
		config.Clients.EODHD.APIKey = key
	}
	if missing := config.ValidateRequired(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(getBinaryDir(), config.Logging.FilePath)
	}
	logger, logCloser, err := common.NewLoggerFromConfig(config.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	manager, err := surrealdb.NewManager(ctx, logger, config)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	eodhdCfg := config.Clients.EODHD
	clientOpts := []eodhd.ClientOption{
		eodhd.WithLogger(logger),
		eodhd.WithRateLimit(eodhdCfg.RateLimit),
		eodhd.WithTimeout(eodhdCfg.GetTimeout()),
	}
	if eodhdCfg.BaseURL != "" {
		clientOpts = append(clientOpts, eodhd.WithBaseURL(eodhdCfg.BaseURL))
	}
	eodhdClient := eodhd.NewClient(eodhdCfg.APIKey, clientOpts...)

	a := newApp(config, logger, manager, eodhdClient)
	a.logCloser = logCloser
	a.StartupTime = startupStart

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// newApp builds the service graph over already-connected dependencies.
func newApp(config *common.Config, logger *common.Logger, storage interfaces.StorageManager, client interfaces.EODHDClient) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	fetcher := eodhd.NewFetcher(client,
		eodhd.WithCurrencyLookup(config.Clients.EODHD.CurrencyLookup),
		eodhd.WithIntradayStart(config.Clients.EODHD.GetIntradayStart()),
		eodhd.WithFetcherLogger(logger),
	)

	service := series.NewService(
		storage.SeriesStore(),
		map[string]interfaces.SeriesFetcher{eodhd.SourceName: fetcher},
		logger,
		series.WithMaxConcurrent(config.Sync.GetMaxConcurrent()),
		series.WithRefreshRetries(config.Sync.GetRefreshRetries()),
		series.WithMetrics(series.NewMetrics(registry)),
	)

	return &App{
		Config:        config,
		Logger:        logger,
		Storage:       storage,
		EODHDClient:   client,
		SeriesService: service,
		Registry:      registry,
		StartupTime:   time.Now(),
	}
}

// SyncJob returns a job that syncs the given manifest, or the configured one
// when manifestPath is empty.
func (a *App) SyncJob(manifestPath string) *SyncJob {
	if manifestPath == "" {
		manifestPath = a.Config.Sync.Manifest
	}
	return NewSyncJob(a.SeriesService, manifestPath, a.Config.Sync.GetRunTimeout(), a.Logger)
}

// StartScheduler starts the cron-driven manifest sync. An empty schedule
// leaves it disabled.
func (a *App) StartScheduler() error {
	schedule := strings.TrimSpace(a.Config.Sync.Schedule)
	if schedule == "" {
		a.Logger.Info().Msg("Sync schedule not configured; scheduler disabled")
		return nil
	}
	s, err := NewScheduler(schedule, a.SyncJob(""), a.Logger)
	if err != nil {
		return err
	}
	a.scheduler = s
	s.Start()
	return nil
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, close storage, close log file.
func (a *App) Close() {
	if a.scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.scheduler.Stop(ctx)
		cancel()
		a.scheduler = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Storage = nil
	}
	if a.logCloser != nil {
		a.logCloser.Close()
		a.logCloser = nil
	}
}
