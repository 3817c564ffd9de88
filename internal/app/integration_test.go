package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/molly/internal/clients/eodhd"
	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/models"
	"github.com/bobmcallan/molly/internal/storage/surrealdb"
	tcommon "github.com/bobmcallan/molly/tests/common"
)

// fakeEODHD serves three daily bars, honouring the from/to query window.
func fakeEODHD(t *testing.T) *httptest.Server {
	t.Helper()
	bars := []map[string]interface{}{
		{"date": "2024-01-02", "open": 185.5, "high": 188.44, "low": 183.89, "close": 185.64, "adjusted_close": 184.94, "volume": 82488700},
		{"date": "2024-01-03", "open": 184.22, "high": 185.88, "low": 183.43, "close": 184.25, "adjusted_close": 183.55, "volume": 58414500},
		{"date": "2024-01-04", "open": 182.15, "high": 183.09, "low": 180.88, "close": 181.91, "adjusted_close": 181.22, "volume": 71983600},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eod/AAPL.US" {
			http.NotFound(w, r)
			return
		}
		from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
		out := make([]map[string]interface{}, 0, len(bars))
		for _, b := range bars {
			d := b["date"].(string)
			if (from == "" || d >= from) && (to == "" || d <= to) {
				out = append(out, b)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncJob_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}

	sc := tcommon.StartSurrealDB(t)
	vendor := fakeEODHD(t)

	config := common.NewDefaultConfig()
	config.Storage.Address = sc.Address()
	config.Storage.Namespace = "molly_test"
	config.Storage.Database = fmt.Sprintf("t_e2e_%d", time.Now().UnixNano()%100000)
	config.Storage.Username = "root"
	config.Storage.Password = "root"
	config.Clients.EODHD.CurrencyLookup = false

	logger := common.NewSilentLogger()
	ctx := context.Background()

	manager, err := surrealdb.NewManager(ctx, logger, config)
	require.NoError(t, err)

	client := eodhd.NewClient("test-key", eodhd.WithBaseURL(vendor.URL), eodhd.WithLogger(logger))
	a := newApp(config, logger, manager, client)
	t.Cleanup(a.Close)

	manifest := writeManifest(t, `
series:
  - ticker: AAPL
    exchange: US
    series_name: equity_spot_1d
    source: eod
    from: "2024-01-01"
    to: "2024-01-05"
`)
	job := a.SyncJob(manifest)

	report, err := job.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	first := report.Results[0]
	require.NoError(t, first.Err)
	assert.Equal(t, models.PlanNewSeries, first.Plan.Kind)
	assert.Len(t, first.Rows, 3)
	assert.Equal(t, 3, report.Summary.RowsInserted)

	key := models.SeriesKey{Ticker: "AAPL", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}
	entries, err := a.SeriesService.Metadata(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Seeded)
	assert.True(t, entries[0].SyncedFrom.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, entries[0].SyncedTo.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))

	// The second run extends from the ledger end; the boundary bar is not re-inserted.
	report, err = job.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	second := report.Results[0]
	require.NoError(t, second.Err)
	assert.Equal(t, models.PlanExtend, second.Plan.Kind)
	assert.Equal(t, 0, report.Summary.RowsInserted)

	rows, err := a.SeriesService.Read(ctx, key, models.EpochStart, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 185.64, rows[0].Close)
	assert.True(t, rows[2].Datetime.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))

	entries, err = a.SeriesService.Metadata(ctx, key)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
