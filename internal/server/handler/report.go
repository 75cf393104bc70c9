package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/whetherfun/weathermark/internal/domain"
)

// ReportService defines the methods that the report handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type ReportService interface {
	SubmitReport(ctx context.Context, reporter string, key domain.ReportKey, reading domain.Reading) (domain.WeatherReport, error)
	GetReport(ctx context.Context, key domain.ReportKey) (domain.WeatherReport, error)
	IsFinalized(key domain.ReportKey) bool
	GetDisputeByReport(key domain.ReportKey) (domain.Dispute, error)
	HasActiveDispute(key domain.ReportKey) bool
}

// ReportHandler serves weather report HTTP endpoints.
type ReportHandler struct {
	oracle ReportService
	logger *slog.Logger
}

// NewReportHandler creates a ReportHandler with the given service and logger.
func NewReportHandler(oracle ReportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		oracle: oracle,
		logger: logger,
	}
}

// submitReportRequest is the JSON body for submitting an observation.
type submitReportRequest struct {
	Reporter   string `json:"reporter"`
	LocationID string `json:"location_id"`
	Date       string `json:"date"`

	Temperature    int64  `json:"temperature"`
	TemperatureMax int64  `json:"temperature_max"`
	TemperatureMin int64  `json:"temperature_min"`
	Precipitation  int64  `json:"precipitation"`
	Visibility     int64  `json:"visibility"`
	WindSpeed      int64  `json:"wind_speed"`
	WindGust       int64  `json:"wind_gust"`
	Pressure       int64  `json:"pressure"`
	Humidity       int64  `json:"humidity"`
	Conditions     string `json:"conditions"`
	SourceHash     string `json:"source_hash"`
}

// SubmitReport records one reporter's reading for a location and date.
// POST /api/reports
func (h *ReportHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req submitReportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Reporter == "" || req.LocationID == "" || req.Date == "" {
		writeError(w, http.StatusBadRequest, "reporter, location_id and date are required")
		return
	}

	key := domain.ReportKey{LocationID: req.LocationID, DateKey: req.Date}
	reading := domain.Reading{
		Temperature:    req.Temperature,
		TemperatureMax: req.TemperatureMax,
		TemperatureMin: req.TemperatureMin,
		Precipitation:  req.Precipitation,
		Visibility:     req.Visibility,
		WindSpeed:      req.WindSpeed,
		WindGust:       req.WindGust,
		Pressure:       req.Pressure,
		Humidity:       req.Humidity,
		Conditions:     domain.Conditions(req.Conditions),
		SourceHash:     req.SourceHash,
	}

	report, err := h.oracle.SubmitReport(r.Context(), req.Reporter, key, reading)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit report", err)
		return
	}

	writeJSON(w, http.StatusCreated, report)
}

// GetReport returns the aggregated report for a location and date.
// GET /api/reports/{location}/{date}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	key, ok := reportKeyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing location or date")
		return
	}

	report, err := h.oracle.GetReport(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "get report", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetFinalized reports whether consensus has been reached for a report key.
// GET /api/reports/{location}/{date}/finalized
func (h *ReportHandler) GetFinalized(w http.ResponseWriter, r *http.Request) {
	key, ok := reportKeyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing location or date")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"location_id": key.LocationID,
		"date":        key.DateKey,
		"finalized":   h.oracle.IsFinalized(key),
	})
}

// GetReportDispute returns the most recent dispute against a report key.
// GET /api/reports/{location}/{date}/dispute
func (h *ReportHandler) GetReportDispute(w http.ResponseWriter, r *http.Request) {
	key, ok := reportKeyParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing location or date")
		return
	}

	dispute, err := h.oracle.GetDisputeByReport(key)
	if err != nil {
		writeServiceError(w, r, h.logger, "get report dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dispute": dispute,
		"active":  h.oracle.HasActiveDispute(key),
	})
}
