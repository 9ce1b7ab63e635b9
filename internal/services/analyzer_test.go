package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/sheets"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
	"github.com/Capstone-E1/extractlab_backend/internal/telemetry"
	"github.com/Capstone-E1/extractlab_backend/internal/ws"
)

type fakeSheets struct {
	rows []models.BatchRecord
	fail bool
}

func (f *fakeSheets) AppendBatch(_ context.Context, b models.BatchRecord) sheets.SyncResult {
	if f.fail {
		return sheets.SyncResult{Diagnostic: "sheet unavailable"}
	}
	f.rows = append(f.rows, b)
	return sheets.SyncResult{Success: true}
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	analyzed  []string
	anomalies []ws.AnomalyEvent
}

func (f *fakeBroadcaster) BroadcastBatchAnalyzed(b *models.BatchRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, b.BatchID)
}

func (f *fakeBroadcaster) BroadcastAnomaly(e ws.AnomalyEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anomalies = append(f.anomalies, e)
}

type analyzerFixture struct {
	analyzer *BatchAnalyzer
	store    *store.Store
	sheets   *fakeSheets
	bcast    *fakeBroadcaster
	metrics  *telemetry.Metrics
}

func newFixture(t *testing.T) *analyzerFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m, err := ml.NewModels(ml.DefaultModelsConfig(), logger)
	require.NoError(t, err)

	f := &analyzerFixture{
		store:   store.NewStore(10),
		sheets:  &fakeSheets{},
		bcast:   &fakeBroadcaster{},
		metrics: telemetry.New(),
	}
	f.analyzer = NewBatchAnalyzer(f.store, m, logger,
		WithSheetSync(f.sheets), WithBroadcaster(f.bcast), WithMetrics(f.metrics))
	f.analyzer.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	return f
}

func defaultDistillate() models.CannabinoidProfile {
	return models.CannabinoidProfile{D9THC: 84.7281, D8THC: 3.3685, CBD: 0.7541, CBG: 1.5392, CBN: 1.8792, CBC: 0.1738}
}

func TestSubmitGradesAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := models.NewBatchRecord(" B-2025-001 ")
	in.Strain = "Blue Dream"
	in.Profile = defaultDistillate()
	res, err := f.analyzer.Submit(ctx, in)
	require.NoError(t, err)

	b := res.Batch
	assert.Equal(t, "B-2025-001", b.BatchID)
	assert.Equal(t, models.DefaultProcessParameters(), b.Process)
	// heuristic at (-60, 20)
	assert.Equal(t, 81.0, b.ExtractionEfficiency)
	assert.Equal(t, models.EfficiencyPredicted, b.EfficiencySource)
	assert.Equal(t, models.GradeB, b.Grade)
	assert.Equal(t, models.BatchStatusPass, b.Status)
	assert.Equal(t, models.VerdictNormal, res.Verdict)
	assert.Equal(t, "rules", res.DetectorMode)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "isomerization_ratio", res.Alerts[0].Metric)

	require.NotNil(t, res.Sync)
	assert.True(t, res.Sync.Success)
	assert.Len(t, f.sheets.rows, 1)
	assert.Equal(t, []string{"B-2025-001"}, f.bcast.analyzed)
	assert.Empty(t, f.bcast.anomalies)

	stored, err := f.store.GetBatch(ctx, "B-2025-001")
	require.NoError(t, err)
	assert.Equal(t, models.GradeB, stored.Grade)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BatchesAnalyzed.WithLabelValues("B")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Predictions.WithLabelValues("extraction_optimizer", "heuristic")))
}

func TestSubmitMeasuredEfficiency(t *testing.T) {
	f := newFixture(t)
	p := models.DefaultProcessParameters()
	res, err := f.analyzer.Submit(context.Background(), &models.BatchRecord{
		BatchID:        "B-2",
		Process:        p,
		FinalWeightG:   400,
		InitialPotency: 20,
		Profile:        defaultDistillate(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.EfficiencyMeasured, res.Batch.EfficiencySource)
	assert.InDelta(t, models.ExtractionEfficiency(20, res.Batch.Metrics.TotalTHC, 0.2), res.Batch.ExtractionEfficiency, 1e-9)
}

func TestSubmitFlagsAnomaly(t *testing.T) {
	f := newFixture(t)
	in := models.NewBatchRecord("B-3")
	in.Profile = models.CannabinoidProfile{D9THC: 70, CBN: 10}
	res, err := f.analyzer.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Batch.Anomaly)
	assert.Equal(t, models.VerdictAnomaly, res.Verdict)
	assert.Equal(t, models.GradeF, res.Batch.Grade)
	assert.Equal(t, models.BatchStatusFail, res.Batch.Status)
	require.Len(t, f.bcast.anomalies, 1)
	assert.Equal(t, "B-3", f.bcast.anomalies[0].BatchID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AnomaliesDetected.WithLabelValues("rules")))
}

func TestSubmitPendingWithoutProfile(t *testing.T) {
	f := newFixture(t)
	res, err := f.analyzer.Submit(context.Background(), models.NewBatchRecord("B-4"))
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusPending, res.Batch.Status)
	assert.Empty(t, res.Batch.Grade)
	assert.Empty(t, res.Verdict)
	assert.Equal(t, 81.0, res.Batch.ExtractionEfficiency)
}

func TestSubmitKeepsExplicitZeroSettings(t *testing.T) {
	f := newFixture(t)
	in := models.NewBatchRecord("B-0C")
	in.Process.TemperatureC = 0
	in.Process.MoisturePercent = 0
	in.Profile = defaultDistillate()

	res, err := f.analyzer.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Batch.Process.TemperatureC)
	assert.Equal(t, 0.0, res.Batch.Process.MoisturePercent)
	// heuristic at (0, 20): 85 - 0.2*40
	assert.InDelta(t, 77.0, res.Batch.ExtractionEfficiency, 1e-9)

	stored, err := f.store.GetBatch(context.Background(), "B-0C")
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.Process.TemperatureC)
}

func TestSubmitSheetFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.sheets.fail = true
	res, err := f.analyzer.Submit(context.Background(), &models.BatchRecord{BatchID: "B-5", Profile: defaultDistillate()})
	require.NoError(t, err)
	require.NotNil(t, res.Sync)
	assert.False(t, res.Sync.Success)
	assert.Equal(t, "sheet unavailable", res.Sync.Diagnostic)

	_, err = f.store.GetBatch(context.Background(), "B-5")
	assert.NoError(t, err)
}

func TestSubmitRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.analyzer.Submit(context.Background(), &models.BatchRecord{BatchID: " "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.analyzer.Submit(context.Background(), &models.BatchRecord{BatchID: "B-6", Profile: models.CannabinoidProfile{CBN: 101}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Empty(t, f.bcast.analyzed)
}

func TestAttachResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := models.NewBatchRecord("B-7")
	in.Technician = "Dr. Sarah Chen"
	_, err := f.analyzer.Submit(ctx, in)
	require.NoError(t, err)

	p := defaultDistillate()
	res, err := f.analyzer.AttachResult(ctx, &models.InstrumentResult{
		BatchID: "B-7", D9THC: p.D9THC, D8THC: p.D8THC, CBD: p.CBD, CBG: p.CBG, CBN: p.CBN, CBC: p.CBC,
	})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Sarah Chen", res.Batch.Technician)
	assert.Equal(t, models.GradeB, res.Batch.Grade)

	// unknown batch opens a record
	received := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	res, err = f.analyzer.AttachResult(ctx, &models.InstrumentResult{BatchID: "B-8", D9THC: 80, ReceivedAt: received})
	require.NoError(t, err)
	assert.Equal(t, received, res.Batch.Date)
	count, _ := f.store.BatchCount(ctx)
	assert.Equal(t, 2, count)

	_, err = f.analyzer.AttachResult(ctx, &models.InstrumentResult{BatchID: "B-9", CBN: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
