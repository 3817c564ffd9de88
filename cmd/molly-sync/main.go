// Command molly-sync runs one sync of a series manifest and exits. The exit
// status is 1 when any series failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/molly/internal/app"
	"github.com/bobmcallan/molly/internal/models"
)

func main() {
	configPath := flag.String("config", "", "path to molly.toml (defaults to MOLLY_CONFIG, then molly.toml beside the binary)")
	manifestPath := flag.String("manifest", "", "series manifest YAML (defaults to sync.manifest from the config)")
	jsonOut := flag.Bool("json", false, "print the full report as JSON")
	flag.Parse()

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(2)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.SyncJob(*manifestPath).Run(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("Sync failed")
		a.Close()
		os.Exit(2)
	}

	if *jsonOut {
		err = writeJSON(os.Stdout, report)
	} else {
		err = writeSummary(os.Stdout, report)
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("Failed to write report")
	}

	if report.Summary.Failed > 0 {
		a.Close()
		os.Exit(1)
	}
}

func writeSummary(w io.Writer, report *models.SyncReport) error {
	s := report.Summary
	if _, err := fmt.Fprintf(w, "run %s: %d keys, %d new, %d extended, %d up to date, %d failed, %d rows inserted, %d dropped (%s)\n",
		s.RunID, s.Keys, s.NewSeries, s.Extended, s.UpToDate, s.Failed, s.RowsInserted, s.RowsDropped, s.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, res := range report.Results {
		status := "ok"
		if res.Err != nil {
			status = models.ErrorKind(res.Err) + ": " + res.Err.Error()
		}
		if _, err := fmt.Fprintf(w, "  %-40s %-11s %6d rows  %s\n", res.Request.Key, res.Plan.Kind, len(res.Rows), status); err != nil {
			return err
		}
	}
	return nil
}

type resultJSON struct {
	Series    models.SeriesKey   `json:"series"`
	Plan      models.FetchPlan   `json:"plan"`
	Rows      []models.SeriesRow `json:"rows"`
	Error     string             `json:"error,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
}

func writeJSON(w io.Writer, report *models.SyncReport) error {
	out := struct {
		Summary models.SyncSummary `json:"summary"`
		Results []resultJSON       `json:"results"`
	}{Summary: report.Summary}
	for _, res := range report.Results {
		r := resultJSON{Series: res.Request.Key, Plan: res.Plan, Rows: res.Rows}
		if res.Err != nil {
			r.Error = res.Err.Error()
			r.ErrorKind = models.ErrorKind(res.Err)
		}
		out.Results = append(out.Results, r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
