package series

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/models"
)

type fieldKind int

const (
	kindTime fieldKind = iota
	kindFloat
	kindInt
)

// fieldSpec maps one vendor field onto a stored column.
type fieldSpec struct {
	vendor string
	target string
	kind   fieldKind
}

// vendorSchema is applied in order; the first vendor field that yields a
// datetime wins.
var vendorSchema = []fieldSpec{
	{"datetime", "datetime", kindTime},
	{"date", "datetime", kindTime},
	{"timestamp", "datetime", kindTime},
	{"open", "open", kindFloat},
	{"high", "high", kindFloat},
	{"low", "low", kindFloat},
	{"close", "close", kindFloat},
	{"adjusted_close", "adjusted_close", kindFloat},
	{"volume", "volume", kindInt},
}

var knownVendorFields = func() map[string]bool {
	m := make(map[string]bool, len(vendorSchema))
	for _, f := range vendorSchema {
		m[f.vendor] = true
	}
	return m
}()

// NormalizeResult holds the typed rows and how many vendor rows were dropped.
type NormalizeResult struct {
	Rows    []models.SeriesRow
	Dropped int
}

// Normalizer converts vendor rows into stored rows.
type Normalizer struct {
	logger *common.Logger
}

func NewNormalizer(logger *common.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize maps raw rows for key. A row without a usable datetime, or with
// none of open/high/low/close usable, is dropped. A field of the wrong type
// is dropped on its own. Rows are returned ascending with duplicate
// datetimes removed.
func (n *Normalizer) Normalize(key models.SeriesKey, currency string, raw []models.RawRow) NormalizeResult {
	meta := models.RowMetadata{
		Ticker:     key.Ticker,
		Exchange:   key.Exchange,
		Source:     key.Source,
		SeriesName: key.SeriesName,
		Currency:   currency,
	}

	var result NormalizeResult
	unknown := make(map[string]bool)

	for _, r := range raw {
		row, ok := n.normalizeRow(key, r, unknown)
		if !ok {
			result.Dropped++
			continue
		}
		row.Metadata = meta
		result.Rows = append(result.Rows, row)
	}

	if len(unknown) > 0 {
		fields := make([]string, 0, len(unknown))
		for f := range unknown {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		n.logger.Debug().
			Str("series", key.String()).
			Strs("fields", fields).
			Msg("Ignored unknown vendor fields")
	}

	sort.SliceStable(result.Rows, func(i, j int) bool {
		return result.Rows[i].Datetime.Before(result.Rows[j].Datetime)
	})

	deduped := result.Rows[:0]
	for i, row := range result.Rows {
		if i > 0 && row.Datetime.Equal(deduped[len(deduped)-1].Datetime) {
			result.Dropped++
			continue
		}
		deduped = append(deduped, row)
	}
	result.Rows = deduped

	return result
}

func (n *Normalizer) normalizeRow(key models.SeriesKey, raw models.RawRow, unknown map[string]bool) (models.SeriesRow, bool) {
	var row models.SeriesRow
	var haveTime bool
	var prices int

	for field := range raw {
		if !knownVendorFields[field] {
			unknown[field] = true
		}
	}

	for _, fs := range vendorSchema {
		v, present := raw[fs.vendor]
		if !present || v == nil {
			continue
		}

		switch fs.kind {
		case kindTime:
			if haveTime {
				continue
			}
			t, ok := toTime(v)
			if !ok {
				n.logFieldType(key, fs.vendor, v)
				continue
			}
			row.Datetime = t
			haveTime = true

		case kindFloat:
			f, ok := toFloat(v)
			if !ok {
				n.logFieldType(key, fs.vendor, v)
				continue
			}
			switch fs.target {
			case "open":
				row.Open = f
				prices++
			case "high":
				row.High = f
				prices++
			case "low":
				row.Low = f
				prices++
			case "close":
				row.Close = f
				prices++
			case "adjusted_close":
				row.AdjustedClose = &f
			}

		case kindInt:
			i, ok := toInt(v)
			if !ok {
				n.logFieldType(key, fs.vendor, v)
				continue
			}
			row.Volume = &i
		}
	}

	return row, haveTime && prices > 0
}

func (n *Normalizer) logFieldType(key models.SeriesKey, field string, v any) {
	n.logger.Warn().
		Str("series", key.String()).
		Str("field", field).
		Str("value", truncate(v)).
		Msg("Dropped vendor field with unexpected type")
}

func truncate(v any) string {
	s := strings.TrimSpace(stringOf(v))
	if len(s) > 64 {
		return s[:64]
	}
	return s
}

func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "N/A") {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case int:
		return int64(x), true
	case int64:
		return x, true
	}
	// Some exchanges report volume as "1.2E6" or "5000000.0".
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// toTime parses date strings in UTC and treats numbers as unix seconds.
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		t, err := models.ParseTime(x)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case json.Number, float64, int, int64:
		f, ok := toFloat(x)
		if !ok || f <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}
