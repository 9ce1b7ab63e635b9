package ml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/blob"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

// Blob keys for persisted model artifacts
const (
	OptimizerArtifactKey = "models/extraction_optimizer.json"
	DetectorArtifactKey  = "models/anomaly_detector.json"
)

// ServiceConfig controls background retraining
type ServiceConfig struct {
	RetrainInterval    time.Duration // 0 disables the background loop
	MinTrainingSamples int
	AutoSave           bool // persist artifacts after a successful retrain
}

// RetrainReport summarizes one retrain pass
type RetrainReport struct {
	Optimizer models.TrainingRun `json:"optimizer"`
	Detector  models.TrainingRun `json:"detector"`
}

// Service retrains the shared model bundle from stored batches and persists
// artifacts to a blob store.
type Service struct {
	models *Models
	store  store.DataStore
	blobs  blob.Store // optional
	cfg    ServiceConfig
	logger *logrus.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	// guards lastReport and onRetrain
	reportMu   sync.RWMutex
	lastReport *RetrainReport
	onRetrain  func(*RetrainReport)
}

// NewService creates a new ML service
func NewService(m *Models, dataStore store.DataStore, blobs blob.Store, cfg ServiceConfig, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = 10
	}
	return &Service{
		models:   m,
		store:    dataStore,
		blobs:    blobs,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetRetrainHandler sets a callback run after every retrain pass
func (s *Service) SetRetrainHandler(fn func(*RetrainReport)) {
	s.reportMu.Lock()
	s.onRetrain = fn
	s.reportMu.Unlock()
}

// Models returns the bundle served by this service
func (s *Service) Models() *Models {
	return s.models
}

// Start begins the background retrain task. A stopped service can be started again.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	s.stopChan = stop
	s.mu.Unlock()

	if s.cfg.RetrainInterval <= 0 {
		s.logger.Info("🤖 ML service started (scheduled retraining disabled)")
		return
	}

	s.wg.Add(1)
	go s.retrainTask(stop)
	s.logger.WithField("interval", s.cfg.RetrainInterval.String()).Info("🤖 ML service started")
}

// Stop stops the background task and waits for it to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stopChan
	s.stopChan = nil
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()
	s.logger.Info("🛑 ML service stopped")
}

func (s *Service) retrainTask(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RetrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := s.Retrain(ctx, "scheduled"); err != nil {
				s.logger.WithError(err).Warn("Scheduled retrain failed")
			}
			cancel()
		case <-stop:
			return
		}
	}
}

// TrainingSets extracts optimizer and detector training data from batches.
// Optimizer rows need a measured efficiency; detector rows need a profile.
func TrainingSets(batches []models.BatchRecord) (optX [][]float64, optY []float64, detX [][]float64) {
	for _, b := range batches {
		if !b.HasProfile() {
			continue
		}
		if b.EfficiencySource == models.EfficiencyMeasured {
			optX = append(optX, b.Process.Vector())
			optY = append(optY, b.ExtractionEfficiency)
		}
		if b.ExtractionEfficiency > 0 {
			detX = append(detX, []float64{b.ExtractionEfficiency, b.Metrics.DegradationIndex})
		}
	}
	return optX, optY, detX
}

// Retrain refits both trainable predictors from stored batches. A predictor
// with fewer than MinTrainingSamples rows is skipped and keeps its state.
func (s *Service) Retrain(ctx context.Context, trigger string) (*RetrainReport, error) {
	batches, err := s.store.ListBatches(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list batches for retrain: %w", err)
	}
	optX, optY, detX := TrainingSets(batches)

	report := &RetrainReport{
		Optimizer: s.runTraining(ctx, "extraction_optimizer", trigger, len(optX), s.cfg.MinTrainingSamples, func() error {
			return s.models.Optimizer.Train(optX, optY)
		}),
		Detector: s.runTraining(ctx, "anomaly_detector", trigger, len(detX), s.cfg.MinTrainingSamples, func() error {
			return s.models.Detector.Train(detX)
		}),
	}
	if report.Optimizer.Success {
		st := s.models.Optimizer.Status()
		report.Optimizer.Version = st.Version
		report.Optimizer.RSquared = st.RSquared
	}
	if report.Detector.Success {
		report.Detector.Version = s.models.Detector.Status().Version
	}

	s.reportMu.Lock()
	s.lastReport = report
	hook := s.onRetrain
	s.reportMu.Unlock()

	if report.Optimizer.Success || report.Detector.Success {
		s.autoSave(ctx)
	}
	if hook != nil {
		hook(report)
	}
	return report, nil
}

// TrainOptimizer fits the optimizer on an explicit training set, such as an
// uploaded DoE workbook, and records the run.
func (s *Service) TrainOptimizer(ctx context.Context, X [][]float64, y []float64, trigger string) models.TrainingRun {
	run := s.runTraining(ctx, "extraction_optimizer", trigger, len(X), 0, func() error {
		return s.models.Optimizer.Train(X, y)
	})
	if run.Success {
		st := s.models.Optimizer.Status()
		run.Version = st.Version
		run.RSquared = st.RSquared
		s.autoSave(ctx)
	}
	return run
}

// TrainDetector fits the detector on explicit (efficiency, degradation) rows
func (s *Service) TrainDetector(ctx context.Context, X [][]float64, trigger string) models.TrainingRun {
	run := s.runTraining(ctx, "anomaly_detector", trigger, len(X), 0, func() error {
		return s.models.Detector.Train(X)
	})
	if run.Success {
		run.Version = s.models.Detector.Status().Version
		s.autoSave(ctx)
	}
	return run
}

func (s *Service) autoSave(ctx context.Context) {
	if !s.cfg.AutoSave || s.blobs == nil {
		return
	}
	if err := s.SaveModels(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to persist retrained models")
	}
}

// TrainingRuns returns recorded training runs, newest first
func (s *Service) TrainingRuns(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	return s.store.ListTrainingRuns(ctx, limit)
}

func (s *Service) runTraining(ctx context.Context, name, trigger string, samples, minSamples int, train func() error) models.TrainingRun {
	run := models.TrainingRun{Model: name, Trigger: trigger, Samples: samples, StartedAt: time.Now().UTC()}
	log := s.logger.WithFields(logrus.Fields{"model": name, "samples": samples, "trigger": trigger})

	if samples < minSamples {
		run.Error = fmt.Sprintf("need %d samples, have %d", minSamples, samples)
		log.Debug("Skipping retrain, not enough samples")
	} else if err := train(); err != nil {
		run.Error = err.Error()
		log.WithError(err).Warn("Retrain failed, keeping previous model")
	} else {
		run.Success = true
		log.Info("✅ Model retrained")
	}
	run.Duration = time.Since(run.StartedAt).Milliseconds()

	if err := s.store.SaveTrainingRun(ctx, &run); err != nil {
		log.WithError(err).Warn("Failed to record training run")
	}
	return run
}

// LastReport returns the most recent retrain report, if any
func (s *Service) LastReport() *RetrainReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.lastReport
}

// SaveModels writes every trained predictor to the blob store.
// Untrained predictors are skipped.
func (s *Service) SaveModels(ctx context.Context) error {
	if s.blobs == nil {
		return fmt.Errorf("no blob store configured")
	}
	type artifact struct {
		key  string
		save func(*bytes.Buffer) error
	}
	artifacts := []artifact{
		{OptimizerArtifactKey, func(b *bytes.Buffer) error { return s.models.Optimizer.Save(b) }},
		{DetectorArtifactKey, func(b *bytes.Buffer) error { return s.models.Detector.Save(b) }},
	}
	for _, a := range artifacts {
		var buf bytes.Buffer
		if err := a.save(&buf); errors.Is(err, ErrNotTrained) {
			continue
		} else if err != nil {
			return fmt.Errorf("encode %s: %w", a.key, err)
		}
		if _, err := s.blobs.Put(ctx, a.key, bytes.NewReader(buf.Bytes()), blob.PutOptions{ContentType: "application/json"}); err != nil {
			return fmt.Errorf("store %s: %w", a.key, err)
		}
		s.logger.WithField("key", a.key).Info("💾 Saved model artifact")
	}
	return nil
}

// LoadModels restores any artifacts present in the blob store. Missing
// artifacts leave the predictor untrained.
func (s *Service) LoadModels(ctx context.Context) (int, error) {
	if s.blobs == nil {
		return 0, fmt.Errorf("no blob store configured")
	}
	loaders := []struct {
		key  string
		load func(*bytes.Reader) error
	}{
		{OptimizerArtifactKey, func(r *bytes.Reader) error { return s.models.Optimizer.Load(r) }},
		{DetectorArtifactKey, func(r *bytes.Reader) error { return s.models.Detector.Load(r) }},
	}
	loaded := 0
	for _, l := range loaders {
		_, rc, err := s.blobs.Get(ctx, l.key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("fetch %s: %w", l.key, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		_ = rc.Close()
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", l.key, err)
		}
		if err := l.load(bytes.NewReader(buf.Bytes())); err != nil {
			return loaded, fmt.Errorf("load %s: %w", l.key, err)
		}
		loaded++
		s.logger.WithField("key", l.key).Info("📦 Loaded model artifact")
	}
	return loaded, nil
}
