package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/coa"
	"github.com/Capstone-E1/extractlab_backend/internal/export"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/services"
	"github.com/Capstone-E1/extractlab_backend/internal/sheets"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

// SheetClient is the spreadsheet sync used by the sheets routes
type SheetClient interface {
	AppendBatch(ctx context.Context, b models.BatchRecord) sheets.SyncResult
	ReadAll(ctx context.Context) ([][]string, sheets.SyncResult)
}

// Handlers contains the batch, export, certificate and sheet handlers
type Handlers struct {
	store         store.DataStore
	analyzer      *services.BatchAnalyzer
	models        *ml.Models
	sheets        SheetClient // optional
	clients       func() int  // connected websocket clients, optional
	exportService *export.ExportService
	laboratory    string
	logger        *logrus.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		store:         deps.Store,
		analyzer:      deps.Analyzer,
		models:        deps.Models,
		sheets:        deps.Sheets,
		clients:       deps.ConnectedClients,
		exportService: export.NewExportService(),
		laboratory:    deps.Laboratory,
		logger:        deps.Logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func sendJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func sendSuccessResponse(w http.ResponseWriter, statusCode int, message string, data any) {
	sendJSON(w, statusCode, APIResponse{Success: true, Message: message, Data: data})
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	sendJSON(w, statusCode, APIResponse{Success: false, Error: message})
}

// sendError maps domain errors onto status codes
func sendError(w http.ResponseWriter, logger *logrus.Logger, message string, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrBatchNotFound):
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
	default:
		logger.WithError(err).Error(message)
		sendErrorResponse(w, message, http.StatusInternalServerError)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidInput, err)
	}
	return nil
}

// GetHealth reports whether the store is reachable
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		sendJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    map[string]string{"status": "degraded", "database": "unreachable"},
			Error:   "database unreachable",
		})
		return
	}
	sendSuccessResponse(w, http.StatusOK, "", map[string]string{"status": "ok", "database": "ok"})
}

// GetSystemStats returns batch averages plus model and connection status
func (h *Handlers) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListBatches(r.Context(), 0)
	if err != nil {
		sendError(w, h.logger, "Failed to list batches", err)
		return
	}
	stats := map[string]any{
		"batches": models.SummarizeBatches(batches),
		"models":  h.models.Status(),
	}
	if h.clients != nil {
		stats["connected_clients"] = h.clients()
	}
	sendSuccessResponse(w, http.StatusOK, "", stats)
}

// MetricsResult is the response of the metrics calculator
type MetricsResult struct {
	Metrics          models.DerivedMetrics `json:"metrics"`
	DegradationLabel string                `json:"degradation_label"`
	CBDTHCRatio      float64               `json:"cbd_thc_ratio"`
}

// ComputeMetrics derives quality metrics from a posted profile
func (h *Handlers) ComputeMetrics(w http.ResponseWriter, r *http.Request) {
	var profile models.CannabinoidProfile
	if err := decodeBody(r, &profile); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	if err := profile.Validate(); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	m := profile.Metrics()
	sendSuccessResponse(w, http.StatusOK, "", MetricsResult{
		Metrics:          m,
		DegradationLabel: models.DegradationLabel(m.DegradationIndex),
		CBDTHCRatio:      models.CBDTHCRatio(profile.CBD, m.TotalTHC),
	})
}

// CreateBatch analyzes and stores a batch from the entry form. Process
// settings left out of the form take the declared defaults.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	batch := models.NewBatchRecord("")
	if err := decodeBody(r, batch); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	res, err := h.analyzer.Submit(r.Context(), batch)
	if err != nil {
		sendError(w, h.logger, "Failed to save batch", err)
		return
	}
	sendSuccessResponse(w, http.StatusCreated, "Batch analyzed", res)
}

// ListBatches returns stored batches, newest first. start/end filter by
// batch date; limit caps the result.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 0)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}

	var batches []models.BatchRecord
	if q.Get("start") != "" || q.Get("end") != "" {
		start, end, err := parseRange(q.Get("start"), q.Get("end"), time.Time{})
		if err != nil {
			sendError(w, h.logger, "", err)
			return
		}
		batches, err = h.store.ListBatchesInRange(r.Context(), start, end)
		if err != nil {
			sendError(w, h.logger, "Failed to list batches", err)
			return
		}
		if limit > 0 && len(batches) > limit {
			batches = batches[:limit]
		}
	} else {
		batches, err = h.store.ListBatches(r.Context(), limit)
		if err != nil {
			sendError(w, h.logger, "Failed to list batches", err)
			return
		}
	}
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"batches": batches, "count": len(batches)})
}

// GetBatch returns one batch
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, h.logger, "Failed to get batch", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "", b)
}

// DeleteBatch removes one batch
func (h *Handlers) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteBatch(r.Context(), id); err != nil {
		sendError(w, h.logger, "Failed to delete batch", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "Batch deleted", map[string]string{"batch_id": id})
}

// GetQualityAlerts derives QC alerts from the most recent batches
func (h *Handlers) GetQualityAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	batches, err := h.store.ListBatches(r.Context(), limit)
	if err != nil {
		sendError(w, h.logger, "Failed to list batches", err)
		return
	}
	alerts := collectAlerts(batches, time.Now())
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"alerts": alerts, "count": len(alerts)})
}

func collectAlerts(batches []models.BatchRecord, now time.Time) []models.QualityAlert {
	alerts := []models.QualityAlert{}
	for _, b := range batches {
		alerts = append(alerts, models.AlertsForBatch(b, now)...)
	}
	return alerts
}

// ExportBatchesExcel exports batches in a date range as a workbook.
// The range defaults to the last 30 days.
func (h *Handlers) ExportBatchesExcel(w http.ResponseWriter, r *http.Request) {
	batches, start, end, ok := h.exportRange(w, r)
	if !ok {
		return
	}

	excelFile, err := h.exportService.GenerateExcel(export.ExportData{
		Batches: batches,
		Alerts:  collectAlerts(batches, time.Now()),
		Stats:   models.SummarizeBatches(batches),
		ExportMetadata: export.ExportMetadata{
			GeneratedAt: time.Now(),
			DateRange:   fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
			Laboratory:  h.laboratory,
		},
	})
	if err != nil {
		sendError(w, h.logger, "Failed to generate Excel file", err)
		return
	}
	defer excelFile.Close()

	filename := fmt.Sprintf("extractlab_batches_%s_to_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := excelFile.Write(w); err != nil {
		h.logger.WithError(err).Error("Failed to write Excel file")
	}
}

// ExportBatchesCSV exports batches in a date range as CSV
func (h *Handlers) ExportBatchesCSV(w http.ResponseWriter, r *http.Request) {
	batches, start, end, ok := h.exportRange(w, r)
	if !ok {
		return
	}

	records, err := h.exportService.GenerateCSV(batches)
	if err != nil {
		sendError(w, h.logger, "Failed to generate CSV", err)
		return
	}

	filename := fmt.Sprintf("extractlab_batches_%s_to_%s.csv", start.Format("2006-01-02"), end.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := h.exportService.WriteCSV(csv.NewWriter(w), records); err != nil {
		h.logger.WithError(err).Error("Failed to write CSV")
	}
}

func (h *Handlers) exportRange(w http.ResponseWriter, r *http.Request) ([]models.BatchRecord, time.Time, time.Time, bool) {
	q := r.URL.Query()
	start, end, err := parseRange(q.Get("start"), q.Get("end"), time.Now().AddDate(0, 0, -30))
	if err != nil {
		sendError(w, h.logger, "", err)
		return nil, start, end, false
	}
	batches, err := h.store.ListBatchesInRange(r.Context(), start, end)
	if err != nil {
		sendError(w, h.logger, "Failed to list batches", err)
		return nil, start, end, false
	}
	return batches, start, end, true
}

// GenerateCoA builds certificate table data. Without a profile in the
// request, a stored batch with results supplies one.
func (h *Handlers) GenerateCoA(w http.ResponseWriter, r *http.Request) {
	var req coa.Request
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	if req.Profile == nil && strings.TrimSpace(req.BatchID) != "" {
		b, err := h.store.GetBatch(r.Context(), strings.TrimSpace(req.BatchID))
		switch {
		case err == nil && b.HasProfile():
			p := b.Profile
			req.Profile = &p
		case err != nil && !errors.Is(err, store.ErrBatchNotFound):
			sendError(w, h.logger, "Failed to get batch", err)
			return
		}
	}
	cert, err := coa.Build(req, time.Now())
	if err != nil {
		sendError(w, h.logger, "Failed to build certificate", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "", cert)
}

// SyncBatchToSheet appends a stored batch to the spreadsheet
func (h *Handlers) SyncBatchToSheet(w http.ResponseWriter, r *http.Request) {
	if h.sheets == nil {
		sendErrorResponse(w, "Spreadsheet sync is not configured", http.StatusServiceUnavailable)
		return
	}
	b, err := h.store.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendError(w, h.logger, "Failed to get batch", err)
		return
	}
	res := h.sheets.AppendBatch(r.Context(), *b)
	sendJSON(w, http.StatusOK, APIResponse{Success: res.Success, Data: res, Error: res.Diagnostic})
}

// GetSheetRows returns every row of the sync sheet
func (h *Handlers) GetSheetRows(w http.ResponseWriter, r *http.Request) {
	if h.sheets == nil {
		sendErrorResponse(w, "Spreadsheet sync is not configured", http.StatusServiceUnavailable)
		return
	}
	rows, res := h.sheets.ReadAll(r.Context())
	if rows == nil {
		rows = [][]string{}
	}
	sendJSON(w, http.StatusOK, APIResponse{
		Success: res.Success,
		Data:    map[string]any{"header": sheets.Header, "rows": rows, "sync": res},
		Error:   res.Diagnostic,
	})
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", models.ErrInvalidInput)
	}
	return n, nil
}

// parseRange accepts RFC3339 or YYYY-MM-DD. A bare end date covers the whole day.
func parseRange(startStr, endStr string, defStart time.Time) (time.Time, time.Time, error) {
	start, end := defStart, time.Now()
	var err error
	if startStr != "" {
		if start, err = parseTime(startStr, false); err != nil {
			return start, end, fmt.Errorf("%w: invalid start date, use RFC3339 or YYYY-MM-DD", models.ErrInvalidInput)
		}
	}
	if endStr != "" {
		if end, err = parseTime(endStr, true); err != nil {
			return start, end, fmt.Errorf("%w: invalid end date, use RFC3339 or YYYY-MM-DD", models.ErrInvalidInput)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: end is before start", models.ErrInvalidInput)
	}
	return start, end, nil
}

func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return t, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
