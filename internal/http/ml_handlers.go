package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/export"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/telemetry"
)

// maxUploadBytes caps DoE workbook uploads
const maxUploadBytes = 10 << 20

// MLHandlers provides HTTP handlers for predictions, quality and models
type MLHandlers struct {
	models        *ml.Models
	service       *ml.Service
	exportService *export.ExportService
	metrics       *telemetry.Metrics
	logger        *logrus.Logger
}

// NewMLHandlers creates a new ML handlers instance
func NewMLHandlers(deps Dependencies) *MLHandlers {
	return &MLHandlers{
		models:        deps.Models,
		service:       deps.MLService,
		exportService: export.NewExportService(),
		metrics:       deps.Metrics,
		logger:        deps.Logger,
	}
}

// EfficiencyRequest carries either a raw feature vector or named parameters
type EfficiencyRequest struct {
	Features []float64                `json:"features,omitempty"`
	Process  *models.ProcessParameters `json:"process,omitempty"`
}

// PredictEfficiency predicts extraction efficiency for a parameter set
func (h *MLHandlers) PredictEfficiency(w http.ResponseWriter, r *http.Request) {
	var req EfficiencyRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}

	var (
		eff float64
		err error
	)
	switch {
	case req.Features != nil:
		eff, err = h.models.Optimizer.PredictVector(req.Features)
	case req.Process != nil:
		eff = h.models.Optimizer.Predict(*req.Process)
	default:
		eff = h.models.Optimizer.Predict(models.DefaultProcessParameters())
	}
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}

	mode := h.models.Optimizer.Status().Mode
	h.metrics.ObservePrediction("extraction_optimizer", mode)
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"efficiency": eff, "mode": mode})
}

// OptimizeParameters grid-searches for the best settings. An empty body
// searches the configured default grid.
func (h *MLHandlers) OptimizeParameters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bounds *ml.GridBounds `json:"bounds,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			sendError(w, h.logger, "", err)
			return
		}
	}
	params, eff, err := h.models.Optimizer.OptimizeParameters(req.Bounds)
	if err != nil {
		sendError(w, h.logger, "Optimization failed", err)
		return
	}
	mode := h.models.Optimizer.Status().Mode
	h.metrics.ObservePrediction("extraction_optimizer", mode)
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{
		"parameters":           params,
		"predicted_efficiency": eff,
		"mode":                 mode,
	})
}

// DegradationRequest asks for a storage forecast
type DegradationRequest struct {
	InitialTHC float64 `json:"initial_thc"`
	InitialCBN float64 `json:"initial_cbn"`
	Condition  string  `json:"condition"`
	Months     *int    `json:"months,omitempty"` // default 24
}

// DegradationResponse is a forecast plus the shelf life read off it
type DegradationResponse struct {
	ml.Forecast
	ShelfLife      ml.ShelfLife `json:"shelf_life"`
	ShelfLifeLabel string       `json:"shelf_life_label"`
}

// PredictDegradation forecasts THC loss and CBN formation under a storage condition
func (h *MLHandlers) PredictDegradation(w http.ResponseWriter, r *http.Request) {
	var req DegradationRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	months := 24
	if req.Months != nil {
		months = *req.Months
	}
	fc, err := h.models.Forecaster.PredictDegradation(req.InitialTHC, req.InitialCBN, req.Condition, months)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	h.metrics.ObservePrediction("degradation_forecaster", "kinetic")

	sl := ml.ShelfLifeFromSeries(fc.THC, req.InitialTHC)
	resp := DegradationResponse{Forecast: fc, ShelfLife: sl, ShelfLifeLabel: sl.String()}
	msg := ""
	if !fc.ConditionRecognized {
		msg = fmt.Sprintf("unrecognized condition %q, fallback rate %.2f applied", req.Condition, fc.Rate)
	}
	sendSuccessResponse(w, http.StatusOK, msg, resp)
}

// GetShelfLife returns months to reach threshold × initial THC per condition
func (h *MLHandlers) GetShelfLife(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	initial, err := queryFloat(q.Get("initial_thc"), 85)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	threshold, err := queryFloat(q.Get("threshold"), ml.ShelfLifeRetention)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	months, err := h.models.Forecaster.EstimateShelfLife(initial, threshold)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{
		"initial_thc": initial,
		"threshold":   threshold,
		"months":      months,
	})
}

// GetOptimalStorage reports which conditions reach a target shelf life
func (h *MLHandlers) GetOptimalStorage(w http.ResponseWriter, r *http.Request) {
	target, err := queryFloat(r.URL.Query().Get("target_months"), 12)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	recs, err := h.models.Forecaster.PredictOptimalStorage(target)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"target_months": target, "conditions": recs})
}

// GetConditions lists the storage condition table
func (h *MLHandlers) GetConditions(w http.ResponseWriter, r *http.Request) {
	sendSuccessResponse(w, http.StatusOK, "", h.models.Forecaster.StorageConditions())
}

// GradeRequest grades either a profile or precomputed metrics
type GradeRequest struct {
	Profile *models.CannabinoidProfile `json:"profile,omitempty"`
	Metrics *models.DerivedMetrics     `json:"metrics,omitempty"`
}

// GradeBatch assigns a quality grade
func (h *MLHandlers) GradeBatch(w http.ResponseWriter, r *http.Request) {
	var req GradeRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	var m models.DerivedMetrics
	switch {
	case req.Profile != nil:
		if err := req.Profile.Validate(); err != nil {
			sendError(w, h.logger, "", err)
			return
		}
		m = req.Profile.Metrics()
	case req.Metrics != nil:
		m = *req.Metrics
	default:
		sendErrorResponse(w, "profile or metrics is required", http.StatusBadRequest)
		return
	}
	grade, pf := h.models.Classifier.GradeMetrics(m)
	h.metrics.ObservePrediction("potency_classifier", "cascade")
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"grade": grade, "pass_fail": pf, "metrics": m})
}

// ComplianceRequest checks a product category. With a profile, ratio and
// total THC are computed from it.
type ComplianceRequest struct {
	Category    string                     `json:"category"`
	CBDTHCRatio float64                    `json:"cbd_thc_ratio"`
	TotalTHC    float64                    `json:"total_thc"`
	Profile     *models.CannabinoidProfile `json:"profile,omitempty"`
}

// PredictCompliance checks category compliance
func (h *MLHandlers) PredictCompliance(w http.ResponseWriter, r *http.Request) {
	var req ComplianceRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	ratio, total := req.CBDTHCRatio, req.TotalTHC
	if req.Profile != nil {
		if err := req.Profile.Validate(); err != nil {
			sendError(w, h.logger, "", err)
			return
		}
		total = req.Profile.Metrics().TotalTHC
		ratio = models.CBDTHCRatio(req.Profile.CBD, total)
	}
	sendSuccessResponse(w, http.StatusOK, "", h.models.Classifier.PredictCompliance(ratio, total, req.Category))
}

// AnomalyRequest carries an (efficiency, degradation) pair or a feature vector
type AnomalyRequest struct {
	Features    []float64 `json:"features,omitempty"`
	Efficiency  float64   `json:"efficiency"`
	Degradation float64   `json:"degradation"`
}

// DetectAnomaly classifies one batch
func (h *MLHandlers) DetectAnomaly(w http.ResponseWriter, r *http.Request) {
	var req AnomalyRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	x := []float64{req.Efficiency, req.Degradation}
	if req.Features != nil {
		x = req.Features
	}
	verdict, err := h.models.Detector.DetectVector(x)
	if err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	score, _ := h.models.Detector.AnomalyScoreVector(x)
	mode := h.models.Detector.Status().Mode
	h.metrics.ObservePrediction("anomaly_detector", mode)
	sendSuccessResponse(w, http.StatusOK, "", map[string]any{"verdict": verdict, "score": score, "mode": mode})
}

// GetModelStatus reports predictor state and recent training runs
func (h *MLHandlers) GetModelStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"models": h.models.Status()}
	if h.service != nil {
		runs, err := h.service.TrainingRuns(r.Context(), 10)
		if err != nil {
			sendError(w, h.logger, "Failed to list training runs", err)
			return
		}
		status["training_runs"] = runs
		status["last_retrain"] = h.service.LastReport()
	}
	sendSuccessResponse(w, http.StatusOK, "", status)
}

// TrainOptimizer fits the optimizer from JSON {x, y} or a multipart DoE
// workbook in the "file" field.
func (h *MLHandlers) TrainOptimizer(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}

	var (
		X       [][]float64
		y       []float64
		trigger = "manual"
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, _, err := r.FormFile("file")
		if err != nil {
			sendErrorResponse(w, "multipart field \"file\" with a DoE workbook is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		set, err := h.exportService.ImportDoE(file)
		if err != nil {
			if !errors.Is(err, models.ErrInvalidInput) {
				err = fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
			}
			sendError(w, h.logger, "", err)
			return
		}
		X, y, trigger = set.X, set.Y, "upload"
	} else {
		var req struct {
			X [][]float64 `json:"x"`
			Y []float64   `json:"y"`
		}
		if err := decodeBody(r, &req); err != nil {
			sendError(w, h.logger, "", err)
			return
		}
		X, y = req.X, req.Y
	}

	run := h.service.TrainOptimizer(r.Context(), X, y, trigger)
	h.metrics.ObserveRetrain(run.Model, run.Success)
	h.sendRun(w, run)
}

// TrainDetector fits the anomaly detector on JSON {x: [[efficiency, degradation], ...]}
func (h *MLHandlers) TrainDetector(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	var req struct {
		X [][]float64 `json:"x"`
	}
	if err := decodeBody(r, &req); err != nil {
		sendError(w, h.logger, "", err)
		return
	}
	run := h.service.TrainDetector(r.Context(), req.X, "manual")
	h.metrics.ObserveRetrain(run.Model, run.Success)
	h.sendRun(w, run)
}

func (h *MLHandlers) sendRun(w http.ResponseWriter, run models.TrainingRun) {
	if !run.Success {
		sendJSON(w, http.StatusUnprocessableEntity, APIResponse{Success: false, Data: run, Error: run.Error})
		return
	}
	sendSuccessResponse(w, http.StatusOK, "Model trained", run)
}

// Retrain refits both predictors from stored batches
func (h *MLHandlers) Retrain(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	report, err := h.service.Retrain(r.Context(), "manual")
	if err != nil {
		sendError(w, h.logger, "Retrain failed", err)
		return
	}
	h.metrics.ObserveRetrain(report.Optimizer.Model, report.Optimizer.Success)
	h.metrics.ObserveRetrain(report.Detector.Model, report.Detector.Success)
	sendSuccessResponse(w, http.StatusOK, "", report)
}

// SaveModels persists trained predictors to the blob store
func (h *MLHandlers) SaveModels(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	if err := h.service.SaveModels(r.Context()); err != nil {
		sendError(w, h.logger, "Failed to save models", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, "Models saved", h.models.Status())
}

// LoadModels restores predictors from the blob store
func (h *MLHandlers) LoadModels(w http.ResponseWriter, r *http.Request) {
	if !h.requireService(w) {
		return
	}
	n, err := h.service.LoadModels(r.Context())
	if err != nil {
		sendError(w, h.logger, "Failed to load models", err)
		return
	}
	sendSuccessResponse(w, http.StatusOK, fmt.Sprintf("%d model(s) loaded", n), h.models.Status())
}

func (h *MLHandlers) requireService(w http.ResponseWriter) bool {
	if h.service == nil {
		sendErrorResponse(w, "Model service is not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func queryFloat(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", models.ErrInvalidInput, raw)
	}
	return v, nil
}
