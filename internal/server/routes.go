package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/molly/internal/common"
)

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)
	mux.HandleFunc("/debug/memstats", s.handleMemstats)
	if s.app.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))
	}

	// Series
	mux.HandleFunc("/api/series/sync", s.handleSeriesSync)
	mux.HandleFunc("/api/series/rows", s.handleSeriesRows)
	mux.HandleFunc("/api/series/metadata", s.handleSeriesMetadata)
}

// handleHealth reports ok when storage answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	if s.app.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.app.Storage.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Health check: storage unavailable")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"storage": err.Error(),
			})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.app.Config

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"environment":       cfg.Environment,
		"storage_address":   cfg.Storage.Address,
		"storage_namespace": cfg.Storage.Namespace,
		"storage_database":  cfg.Storage.Database,
		"eodhd_base_url":    cfg.Clients.EODHD.BaseURL,
		"eodhd_api_key":     maskSecret(cfg.Clients.EODHD.APIKey),
		"eodhd_rate_limit":  cfg.Clients.EODHD.RateLimit,
		"currency_lookup":   cfg.Clients.EODHD.CurrencyLookup,
		"intraday_start":    cfg.Clients.EODHD.IntradayStart,
		"max_concurrent":    cfg.Sync.GetMaxConcurrent(),
		"refresh_retries":   cfg.Sync.GetRefreshRetries(),
		"run_timeout":       cfg.Sync.GetRunTimeout().String(),
		"schedule":          cfg.Sync.Schedule,
		"manifest":          cfg.Sync.Manifest,
		"logging_level":     cfg.Logging.Level,
		"uptime":            time.Since(s.app.StartupTime).Round(time.Second).String(),
	})
}

func (s *Server) handleMemstats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"heap_alloc_bytes": m.HeapAlloc,
		"heap_inuse_bytes": m.HeapInuse,
		"sys_bytes":        m.Sys,
		"num_gc":           m.NumGC,
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_mb":    float64(m.HeapAlloc) / 1024 / 1024,
		"sys_mb":           float64(m.Sys) / 1024 / 1024,
	})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
