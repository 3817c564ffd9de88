package series

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records sync engine activity in Prometheus.
type Metrics struct {
	plans        *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	rowsInserted *prometheus.CounterVec
	rowsDropped  *prometheus.CounterVec
	lastSynced   *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// NewMetrics creates the sync metrics on reg. A nil registerer leaves the
// collectors unregistered, which tests use to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molly_sync_plans_total",
				Help: "Resolved fetch plans by kind",
			},
			[]string{"series_name", "plan"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molly_sync_errors_total",
				Help: "Per-series sync errors by kind",
			},
			[]string{"series_name", "kind"},
		),
		rowsInserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molly_rows_inserted_total",
				Help: "Rows inserted into series tables",
			},
			[]string{"series_name", "source"},
		),
		rowsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "molly_rows_dropped_total",
				Help: "Vendor rows dropped during normalization",
			},
			[]string{"series_name", "source"},
		),
		lastSynced: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "molly_series_synced_to_timestamp_seconds",
				Help: "Latest stored row timestamp per series",
			},
			[]string{"series_name", "ticker", "exchange", "source"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "molly_sync_stage_duration_seconds",
				Help:    "Duration of sync stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

func (m *Metrics) RecordPlan(seriesName, plan string) {
	m.plans.WithLabelValues(seriesName, plan).Inc()
}

func (m *Metrics) RecordError(seriesName, kind string) {
	m.errorsTotal.WithLabelValues(seriesName, kind).Inc()
}

func (m *Metrics) RecordRows(seriesName, source string, inserted, dropped int) {
	m.rowsInserted.WithLabelValues(seriesName, source).Add(float64(inserted))
	m.rowsDropped.WithLabelValues(seriesName, source).Add(float64(dropped))
}

func (m *Metrics) RecordSyncedTo(seriesName, ticker, exchange, source string, to time.Time) {
	m.lastSynced.WithLabelValues(seriesName, ticker, exchange, source).Set(float64(to.Unix()))
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	m.latency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
