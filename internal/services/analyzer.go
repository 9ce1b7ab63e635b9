package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/sheets"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
	"github.com/Capstone-E1/extractlab_backend/internal/telemetry"
	"github.com/Capstone-E1/extractlab_backend/internal/ws"
)

// SheetSyncer mirrors analyzed batches to a spreadsheet
type SheetSyncer interface {
	AppendBatch(ctx context.Context, b models.BatchRecord) sheets.SyncResult
}

// Broadcaster pushes analysis events to live dashboards
type Broadcaster interface {
	BroadcastBatchAnalyzed(batch *models.BatchRecord)
	BroadcastAnomaly(event ws.AnomalyEvent)
}

// Analysis is the outcome of analyzing one batch
type Analysis struct {
	Batch            *models.BatchRecord   `json:"batch"`
	PassFail         models.PassFail       `json:"pass_fail,omitempty"`
	Verdict          models.Verdict        `json:"verdict,omitempty"`
	DetectorMode     string                `json:"detector_mode,omitempty"`
	DegradationLabel string                `json:"degradation_label"`
	Alerts           []models.QualityAlert `json:"alerts,omitempty"`
	Sync             *sheets.SyncResult    `json:"sync,omitempty"`
}

// BatchAnalyzer runs a batch through metrics, efficiency prediction,
// grading and anomaly detection, then persists and publishes it.
type BatchAnalyzer struct {
	store       store.DataStore
	models      *ml.Models
	sheets      SheetSyncer // optional
	broadcaster Broadcaster // optional
	metrics     *telemetry.Metrics
	logger      *logrus.Logger
	now         func() time.Time
}

// AnalyzerOption configures optional sinks
type AnalyzerOption func(*BatchAnalyzer)

// WithSheetSync enables spreadsheet sync after each save
func WithSheetSync(s SheetSyncer) AnalyzerOption {
	return func(a *BatchAnalyzer) { a.sheets = s }
}

// WithBroadcaster enables websocket push
func WithBroadcaster(b Broadcaster) AnalyzerOption {
	return func(a *BatchAnalyzer) { a.broadcaster = b }
}

// WithMetrics records analysis counters
func WithMetrics(m *telemetry.Metrics) AnalyzerOption {
	return func(a *BatchAnalyzer) { a.metrics = m }
}

// NewBatchAnalyzer creates an analyzer over a store and model bundle
func NewBatchAnalyzer(dataStore store.DataStore, m *ml.Models, logger *logrus.Logger, opts ...AnalyzerOption) *BatchAnalyzer {
	if logger == nil {
		logger = logrus.New()
	}
	a := &BatchAnalyzer{
		store:  dataStore,
		models: m,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze computes every derived field of b in place. Nothing is persisted.
// A batch without a profile is left Pending, without grade or verdict.
func (a *BatchAnalyzer) Analyze(b *models.BatchRecord) (*Analysis, error) {
	b.BatchID = strings.TrimSpace(b.BatchID)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.StampDate()
	b.Recalculate()

	if b.EfficiencySource != models.EfficiencyMeasured {
		b.ExtractionEfficiency = a.models.Optimizer.Predict(b.Process)
		b.EfficiencySource = models.EfficiencyPredicted
		a.metrics.ObservePrediction("extraction_optimizer", a.models.Optimizer.Status().Mode)
	}

	res := &Analysis{Batch: b, DegradationLabel: b.DegradationLabel()}
	if !b.HasProfile() {
		b.Grade = ""
		b.Status = models.BatchStatusPending
		b.Anomaly = false
		b.AnomalyScore = 0
		return res, nil
	}

	grade, pf := a.models.Classifier.GradeMetrics(b.Metrics)
	b.Grade = grade
	b.Status = pf.BatchStatus()
	res.PassFail = pf

	res.Verdict = a.models.Detector.Detect(b.ExtractionEfficiency, b.Metrics.DegradationIndex)
	res.DetectorMode = a.models.Detector.Status().Mode
	b.Anomaly = res.Verdict.IsAnomaly()
	b.AnomalyScore = a.models.Detector.AnomalyScore(b.ExtractionEfficiency, b.Metrics.DegradationIndex)

	res.Alerts = models.AlertsForBatch(*b, a.now())
	return res, nil
}

// Submit analyzes, stores, syncs and broadcasts a batch entered on the
// dashboard. A failed sheet sync is reported in the result, not returned.
func (a *BatchAnalyzer) Submit(ctx context.Context, b *models.BatchRecord) (*Analysis, error) {
	res, err := a.Analyze(b)
	if err != nil {
		return nil, err
	}
	if err := a.store.SaveBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save batch %s: %w", b.BatchID, err)
	}

	log := a.logger.WithFields(logrus.Fields{
		"batch_id":    b.BatchID,
		"grade":       b.Grade,
		"status":      b.Status,
		"efficiency":  b.ExtractionEfficiency,
		"degradation": b.Metrics.DegradationIndex,
	})
	log.Info("🧪 Batch analyzed")

	if b.HasProfile() {
		a.metrics.ObserveBatch(string(b.Grade), b.Metrics.DegradationIndex, b.Anomaly, res.DetectorMode)
	}

	if a.sheets != nil {
		sync := a.sheets.AppendBatch(ctx, *b)
		res.Sync = &sync
		a.metrics.ObserveSheetSync(sync.Success)
	}

	if a.broadcaster != nil {
		a.broadcaster.BroadcastBatchAnalyzed(b)
		if b.Anomaly {
			a.broadcaster.BroadcastAnomaly(ws.AnomalyEvent{
				BatchID:     b.BatchID,
				Efficiency:  b.ExtractionEfficiency,
				Degradation: b.Metrics.DegradationIndex,
				Score:       b.AnomalyScore,
				Mode:        res.DetectorMode,
			})
		}
	}
	if b.Anomaly {
		log.Warn("⚠️  Batch flagged as anomaly")
	}
	return res, nil
}

// AttachResult applies an instrument result to its batch and re-analyzes
// it. A result for an unknown batch opens a new record with default
// process settings.
func (a *BatchAnalyzer) AttachResult(ctx context.Context, r *models.InstrumentResult) (*Analysis, error) {
	profile, err := r.Profile()
	if err != nil {
		return nil, err
	}

	b, err := a.store.GetBatch(ctx, r.BatchID)
	switch {
	case errors.Is(err, store.ErrBatchNotFound):
		b = models.NewBatchRecord(r.BatchID)
		b.Date = r.ReceivedAt
		a.logger.WithField("batch_id", r.BatchID).Info("Instrument result for unknown batch, creating record")
	case err != nil:
		return nil, fmt.Errorf("failed to load batch %s: %w", r.BatchID, err)
	}
	b.Profile = profile
	return a.Submit(ctx, b)
}
