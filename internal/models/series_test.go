package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGranularityFor(t *testing.T) {
	tests := []struct {
		name    string
		want    Granularity
		wantErr bool
	}{
		{"equity_spot_1d", GranularityHours, false},
		{"equity_spot_1h", GranularityHours, false},
		{"equity_spot_5m", GranularityMinutes, false},
		{"ticks_1s", GranularitySeconds, false},
		{"equity_spot_1w", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GranularityFor(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeriesKeyInterval(t *testing.T) {
	assert.Equal(t, "1d", SeriesKey{SeriesName: "equity_spot_1d"}.Interval())
	assert.Equal(t, "5m", SeriesKey{SeriesName: "5m"}.Interval())
	assert.Equal(t, "AAPL.US", SeriesKey{Ticker: "AAPL", Exchange: "US"}.Symbol())
}

func TestParseSyncRequest(t *testing.T) {
	req, err := ParseSyncRequest("aapl", "us", "equity_spot_1d", "EOD", "2024-01-02", "2024-01-31 16:00:00")
	require.NoError(t, err)
	assert.Equal(t, SeriesKey{Ticker: "AAPL", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}, req.Key)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), req.RequestedFrom)
	assert.Equal(t, time.Date(2024, 1, 31, 16, 0, 0, 0, time.UTC), req.RequestedTo)
}

func TestParseSyncRequest_Invalid(t *testing.T) {
	cases := map[string][6]string{
		"from after to":     {"AAPL", "US", "equity_spot_1d", "eod", "2024-02-01", "2024-01-01"},
		"bad suffix":        {"AAPL", "US", "equity_spot_1w", "eod", "2024-01-01", "2024-02-01"},
		"injection":         {"AAPL", "US", "x; REMOVE TABLE y_1d", "eod", "2024-01-01", "2024-02-01"},
		"missing ticker":    {"", "US", "equity_spot_1d", "eod", "2024-01-01", "2024-02-01"},
		"missing source":    {"AAPL", "US", "equity_spot_1d", "", "2024-01-01", "2024-02-01"},
		"unparseable start": {"AAPL", "US", "equity_spot_1d", "eod", "yesterday", "2024-02-01"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSyncRequest(c[0], c[1], c[2], c[3], c[4], c[5])
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
}

func TestErrorKind(t *testing.T) {
	key := SeriesKey{Ticker: "AAPL", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}
	cause := errors.New("boom")

	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, ErrorKindFetch, ErrorKind(&FetchError{Key: key, Err: cause}))
	assert.Equal(t, ErrorKindUpdate, ErrorKind(fmt.Errorf("wrapped: %w", &UpdateError{Key: key, Attempts: 3, Err: cause})))
	assert.Equal(t, ErrorKindDuplicateMetadata, ErrorKind(&DuplicateMetadataError{Key: key, Count: 2}))
	assert.Equal(t, "invalid_request", ErrorKind(fmt.Errorf("%w: nope", ErrInvalidRequest)))
	assert.Equal(t, "internal", ErrorKind(cause))

	assert.ErrorIs(t, &LoadError{Key: key, Err: cause}, cause)
}

func TestNewSeedMetadata(t *testing.T) {
	key := SeriesKey{Ticker: "AAPL", Exchange: "US", SeriesName: "equity_spot_1d", Source: "eod"}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewSeedMetadata(key, now)
	assert.True(t, m.Seeded)
	assert.Equal(t, EpochStart, m.SyncedFrom)
	assert.Equal(t, now, m.SyncedTo)
	assert.Equal(t, key, m.Key())
}
