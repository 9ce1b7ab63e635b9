package ml

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capstone-E1/extractlab_backend/internal/blob"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seedBatches(t *testing.T, s store.DataStore, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		b := &models.BatchRecord{
			BatchID: fmt.Sprintf("B-%03d", i),
			Date:    start.AddDate(0, 0, i),
			Process: models.ProcessParameters{
				TemperatureC:    -80 + rng.Float64()*40,
				TimeMin:         15 + rng.Float64()*10,
				RPM:             1000 + rng.Float64()*400,
				InitialWeightG:  1500 + rng.Float64()*1000,
				MoisturePercent: 1 + rng.Float64()*3,
			},
			FinalWeightG:   250 + rng.Float64()*50,
			InitialPotency: 18 + rng.Float64()*4,
			Profile: models.CannabinoidProfile{
				D9THC: 70 + rng.Float64()*15,
				D8THC: 1 + rng.Float64()*3,
				CBD:   0.5,
				CBN:   1 + rng.Float64()*2,
			},
		}
		b.Recalculate()
		require.NoError(t, s.SaveBatch(context.Background(), b))
	}
}

func newTestService(t *testing.T, s store.DataStore, blobs blob.Store, cfg ServiceConfig) *Service {
	t.Helper()
	m, err := NewModels(DefaultModelsConfig(), quietLogger())
	require.NoError(t, err)
	return NewService(m, s, blobs, cfg, quietLogger())
}

func TestTrainingSets(t *testing.T) {
	measured := models.BatchRecord{
		Process:              models.DefaultProcessParameters(),
		Profile:              models.CannabinoidProfile{D9THC: 80},
		ExtractionEfficiency: 82,
		EfficiencySource:     models.EfficiencyMeasured,
	}
	predicted := measured
	predicted.EfficiencySource = models.EfficiencyPredicted
	pending := models.BatchRecord{Process: models.DefaultProcessParameters(), ExtractionEfficiency: 80}

	optX, optY, detX := TrainingSets([]models.BatchRecord{measured, predicted, pending})
	assert.Len(t, optX, 1)
	assert.Equal(t, []float64{82}, optY)
	// predicted efficiencies still describe the batch for the detector
	assert.Len(t, detX, 2)
}

func TestServiceRetrain(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore(50)
	seedBatches(t, s, 24)
	svc := newTestService(t, s, blob.NewMemory(), ServiceConfig{MinTrainingSamples: 10})
	var hooked *RetrainReport
	svc.SetRetrainHandler(func(r *RetrainReport) { hooked = r })

	report, err := svc.Retrain(ctx, "manual")
	require.NoError(t, err)
	assert.Same(t, report, hooked)
	assert.True(t, report.Optimizer.Success, report.Optimizer.Error)
	assert.True(t, report.Detector.Success, report.Detector.Error)
	assert.Equal(t, 24, report.Optimizer.Samples)
	assert.NotEmpty(t, report.Optimizer.Version)
	assert.NotNil(t, report.Optimizer.RSquared)

	assert.True(t, svc.Models().Optimizer.IsTrained())
	assert.True(t, svc.Models().Detector.IsTrained())
	assert.Equal(t, report, svc.LastReport())

	runs, err := s.ListTrainingRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "manual", r.Trigger)
		assert.True(t, r.Success)
	}
}

func TestServiceRetrainSkipsSmallSets(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore(50)
	seedBatches(t, s, 4)
	svc := newTestService(t, s, nil, ServiceConfig{MinTrainingSamples: 10})

	report, err := svc.Retrain(ctx, "manual")
	require.NoError(t, err)
	assert.False(t, report.Optimizer.Success)
	assert.Contains(t, report.Optimizer.Error, "need 10 samples")
	assert.False(t, svc.Models().Optimizer.IsTrained())
	assert.False(t, svc.Models().Detector.IsTrained())
}

func TestServiceSaveAndLoadModels(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore(50)
	seedBatches(t, s, 20)
	blobs := blob.NewMemory()

	svc := newTestService(t, s, blobs, ServiceConfig{MinTrainingSamples: 10, AutoSave: true})
	_, err := svc.Retrain(ctx, "manual")
	require.NoError(t, err)

	infos, err := blobs.List(ctx, "models/")
	require.NoError(t, err)
	require.Len(t, infos, 2)

	fresh := newTestService(t, s, blobs, ServiceConfig{})
	n, err := fresh.LoadModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p := models.ProcessParameters{TemperatureC: -70, TimeMin: 21, RPM: 1150, InitialWeightG: 2100, MoisturePercent: 2}
	assert.InDelta(t, svc.Models().Optimizer.Predict(p), fresh.Models().Optimizer.Predict(p), 1e-12)
	assert.Equal(t, svc.Models().Detector.AnomalyScore(60, 4), fresh.Models().Detector.AnomalyScore(60, 4))
}

func TestServiceLoadModelsMissingArtifacts(t *testing.T) {
	svc := newTestService(t, store.NewStore(1), blob.NewMemory(), ServiceConfig{})
	n, err := svc.LoadModels(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	// Nothing trained, nothing written.
	require.NoError(t, svc.SaveModels(context.Background()))

	noBlobs := newTestService(t, store.NewStore(1), nil, ServiceConfig{})
	assert.Error(t, noBlobs.SaveModels(context.Background()))
}

func TestServiceStartStop(t *testing.T) {
	s := store.NewStore(10)
	seedBatches(t, s, 12)
	svc := newTestService(t, s, nil, ServiceConfig{RetrainInterval: 10 * time.Millisecond, MinTrainingSamples: 10})

	svc.Start()
	svc.Start() // idempotent
	assert.Eventually(t, func() bool { return svc.Models().Optimizer.IsTrained() }, 2*time.Second, 10*time.Millisecond)
	svc.Stop()
	svc.Stop()
}

func TestServiceRestartResumesRetraining(t *testing.T) {
	s := store.NewStore(10)
	seedBatches(t, s, 12)
	svc := newTestService(t, s, nil, ServiceConfig{RetrainInterval: 10 * time.Millisecond, MinTrainingSamples: 10})
	var passes atomic.Int32
	svc.SetRetrainHandler(func(*RetrainReport) { passes.Add(1) })

	svc.Start()
	assert.Eventually(t, func() bool { return passes.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	svc.Stop()

	stopped := passes.Load()
	svc.Models().Optimizer.Reset()
	svc.Start()
	defer svc.Stop()
	assert.Eventually(t, func() bool {
		return passes.Load() > stopped && svc.Models().Optimizer.IsTrained()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceExplicitTraining(t *testing.T) {
	ctx := context.Background()
	s := store.NewStore(50)
	svc := newTestService(t, s, nil, ServiceConfig{MinTrainingSamples: 50})

	X := [][]float64{
		{-80, 15, 1000, 2000, 1.8},
		{-60, 20, 1200, 1800, 2.0},
		{-40, 25, 1400, 1500, 2.2},
		{-70, 18, 1100, 2200, 1.6},
		{-50, 22, 1300, 1700, 2.4},
		{-65, 24, 1050, 1900, 1.9},
		{-75, 16, 1350, 2100, 2.1},
		{-45, 19, 1150, 1600, 1.7},
	}
	y := []float64{82.5, 85.1, 79.0, 84.0, 80.2, 83.3, 81.7, 82.9}

	// explicit sets are not held to MinTrainingSamples
	run := svc.TrainOptimizer(ctx, X, y, "upload")
	assert.True(t, run.Success, run.Error)
	assert.NotEmpty(t, run.Version)
	assert.Equal(t, "upload", run.Trigger)

	run = svc.TrainDetector(ctx, [][]float64{{85}}, "manual")
	assert.False(t, run.Success)
	assert.False(t, svc.Models().Detector.IsTrained())

	runs, err := svc.TrainingRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "anomaly_detector", runs[0].Model)
}
