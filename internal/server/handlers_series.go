package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/molly/internal/app"
	"github.com/bobmcallan/molly/internal/common"
	"github.com/bobmcallan/molly/internal/models"
)

// maxSyncSeries bounds how many series one HTTP sync may request.
const maxSyncSeries = 500

type seriesResultResponse struct {
	Ticker     string             `json:"ticker"`
	Exchange   string             `json:"exchange"`
	SeriesName string             `json:"series_name"`
	Source     string             `json:"source"`
	From       time.Time          `json:"from"`
	To         time.Time          `json:"to"`
	Plan       models.PlanKind    `json:"plan,omitempty"`
	RowCount   int                `json:"row_count"`
	Rows       []models.SeriesRow `json:"rows"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
}

type seriesSyncResponse struct {
	RunID   string                 `json:"run_id"`
	Summary models.SyncSummary     `json:"summary"`
	Results []seriesResultResponse `json:"results"`
}

// handleSeriesSync handles POST /api/series/sync. The response carries one
// result per requested series; a failed series does not fail the request.
func (s *Server) handleSeriesSync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body app.Manifest
	if !DecodeJSON(w, r, &body) {
		return
	}
	if err := s.validate.Struct(&body); err != nil {
		WriteValidationError(w, common.ValidationMessages(err))
		return
	}
	if len(body.Series) > maxSyncSeries {
		WriteErrorWithCode(w, http.StatusBadRequest, "Too many series in one request", "invalid_request")
		return
	}

	requests, err := body.Requests(time.Now())
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}

	s.logger.Info().
		Str("correlation_id", CorrelationID(r.Context())).
		Int("series", len(requests)).
		Msg("Sync requested via HTTP")

	report, err := s.app.SeriesService.RunReport(r.Context(), requests)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := seriesSyncResponse{
		RunID:   report.Summary.RunID,
		Summary: report.Summary,
		Results: make([]seriesResultResponse, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		key := res.Request.Key
		item := seriesResultResponse{
			Ticker:     key.Ticker,
			Exchange:   key.Exchange,
			SeriesName: key.SeriesName,
			Source:     key.Source,
			From:       res.Request.RequestedFrom,
			To:         res.Request.RequestedTo,
			Plan:       res.Plan.Kind,
			RowCount:   len(res.Rows),
			Rows:       res.Rows,
		}
		if item.Rows == nil {
			item.Rows = []models.SeriesRow{}
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
			item.ErrorKind = models.ErrorKind(res.Err)
		}
		resp.Results = append(resp.Results, item)
	}

	WriteJSON(w, http.StatusOK, resp)
}

// handleSeriesRows handles GET /api/series/rows.
func (s *Server) handleSeriesRows(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" {
		from = models.EpochStart.Format(time.RFC3339)
	}
	if to == "" {
		to = time.Now().UTC().Format(time.RFC3339)
	}
	req, err := models.ParseSyncRequest(q.Get("ticker"), q.Get("exchange"), q.Get("series_name"), q.Get("source"), from, to)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}

	rows, err := s.app.SeriesService.Read(r.Context(), req.Key, req.RequestedFrom, req.RequestedTo)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []models.SeriesRow{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"series": req.Key,
		"from":   req.RequestedFrom,
		"to":     req.RequestedTo,
		"count":  len(rows),
		"rows":   rows,
	})
}

// handleSeriesMetadata handles GET /api/series/metadata.
func (s *Server) handleSeriesMetadata(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	epoch := models.EpochStart.Format(time.RFC3339)
	req, err := models.ParseSyncRequest(q.Get("ticker"), q.Get("exchange"), q.Get("series_name"), q.Get("source"), epoch, epoch)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}

	entries, err := s.app.SeriesService.Metadata(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if len(entries) == 0 {
		WriteErrorWithCode(w, http.StatusNotFound, "No metadata for "+req.Key.String(), "not_found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"series":   req.Key,
		"metadata": entries,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrInvalidRequest) {
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	WriteErrorWithCode(w, http.StatusInternalServerError, err.Error(), models.ErrorKind(err))
}
