package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/models"
)

// ManifestEntry is one series to keep in sync. An empty From means the
// whole vendor history and an empty To (or "now") means the time of the run.
type ManifestEntry struct {
	Ticker     string `yaml:"ticker" json:"ticker" validate:"required"`
	Exchange   string `yaml:"exchange" json:"exchange" validate:"required"`
	SeriesName string `yaml:"series_name" json:"series_name" validate:"required,seriesname"`
	Source     string `yaml:"source" json:"source" validate:"required"`
	From       string `yaml:"from" json:"from"`
	To         string `yaml:"to" json:"to"`
}

// Manifest lists the series a sync covers. It is also the body of an HTTP
// sync request.
type Manifest struct {
	Series []ManifestEntry `yaml:"series" json:"series" validate:"required,min=1,dive"`
}

// LoadManifest reads and validates a YAML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes and validates manifest YAML. Unknown keys are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := common.NewValidator().Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidRequest, strings.Join(common.ValidationMessages(err), "; "))
	}
	return &m, nil
}

// Requests converts the manifest into sync requests evaluated at now.
func (m *Manifest) Requests(now time.Time) ([]models.SyncRequest, error) {
	var errs []error
	requests := make([]models.SyncRequest, 0, len(m.Series))
	for i, e := range m.Series {
		from, to := e.From, e.To
		if from == "" {
			from = models.EpochStart.Format(time.RFC3339)
		}
		if to == "" || strings.EqualFold(to, "now") {
			to = now.UTC().Format(time.RFC3339)
		}
		req, err := models.ParseSyncRequest(e.Ticker, e.Exchange, e.SeriesName, e.Source, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("series[%d] %s.%s: %w", i, e.Ticker, e.Exchange, err))
			continue
		}
		requests = append(requests, req)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return requests, nil
}
