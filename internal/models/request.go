package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var seriesNamePattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// ValidateSeriesName checks that a series name is safe to use as a table name
// and carries a granularity suffix.
func ValidateSeriesName(name string) error {
	if !seriesNamePattern.MatchString(name) {
		return fmt.Errorf("%w: series name %q must be lower-case alphanumeric segments joined by '_'", ErrInvalidRequest, name)
	}
	if _, err := GranularityFor(name); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Validate checks that every key field is present and the series name is usable.
func (k SeriesKey) Validate() error {
	switch {
	case k.Ticker == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	case k.Exchange == "":
		return fmt.Errorf("%w: exchange is required", ErrInvalidRequest)
	case k.Source == "":
		return fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}
	return ValidateSeriesName(k.SeriesName)
}

// NewSyncRequest builds a validated request. Times are normalized to UTC.
func NewSyncRequest(key SeriesKey, from, to time.Time) (SyncRequest, error) {
	if err := key.Validate(); err != nil {
		return SyncRequest{}, err
	}
	from, to = from.UTC(), to.UTC()
	if from.After(to) {
		return SyncRequest{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRequest, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return SyncRequest{Key: key, RequestedFrom: from, RequestedTo: to}, nil
}

// ParseSyncRequest builds a request from the string tuple callers supply.
func ParseSyncRequest(ticker, exchange, seriesName, source, from, to string) (SyncRequest, error) {
	f, err := ParseTime(from)
	if err != nil {
		return SyncRequest{}, err
	}
	t, err := ParseTime(to)
	if err != nil {
		return SyncRequest{}, err
	}
	key := SeriesKey{
		Ticker:     strings.ToUpper(strings.TrimSpace(ticker)),
		Exchange:   strings.ToUpper(strings.TrimSpace(exchange)),
		SeriesName: strings.TrimSpace(seriesName),
		Source:     strings.ToLower(strings.TrimSpace(source)),
	}
	return NewSyncRequest(key, f, t)
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts a date, a date-time or an RFC3339 timestamp, in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse time %q", ErrInvalidRequest, s)
}
