package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// AnomalyFeatureCount is the arity of a detector feature vector: efficiency, degradation
const AnomalyFeatureCount = 2

// AnomalyRules is the fallback used before the detector is trained
type AnomalyRules struct {
	MinEfficiency  float64 `json:"min_efficiency" yaml:"min_efficiency"`   // anomaly below this
	MaxDegradation float64 `json:"max_degradation" yaml:"max_degradation"` // anomaly above this
}

// DefaultAnomalyRules flags efficiency under 70% or degradation over 5%
func DefaultAnomalyRules() AnomalyRules {
	return AnomalyRules{MinEfficiency: 70, MaxDegradation: 5}
}

func (r AnomalyRules) isAnomaly(efficiency, degradation float64) bool {
	return efficiency < r.MinEfficiency || degradation > r.MaxDegradation
}

type fittedDetector struct {
	Forest    *IsolationForest `json:"forest"`
	Samples   int              `json:"samples"`
	Version   string           `json:"version"`
	TrainedAt time.Time        `json:"trained_at"`
}

// AnomalyDetector flags batches whose (efficiency, degradation) pair is
// unusual. Safe for concurrent use.
type AnomalyDetector struct {
	mu     sync.RWMutex
	rules  AnomalyRules
	config IsolationForestConfig
	fitted *fittedDetector // nil while running on rules
}

// NewAnomalyDetector creates a rules-mode detector
func NewAnomalyDetector(rules AnomalyRules, cfg IsolationForestConfig) *AnomalyDetector {
	return &AnomalyDetector{rules: rules, config: cfg}
}

// Rules returns the fallback thresholds
func (d *AnomalyDetector) Rules() AnomalyRules {
	return d.rules
}

// Detect classifies a batch
func (d *AnomalyDetector) Detect(efficiency, degradation float64) models.Verdict {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var anomalous bool
	if d.fitted != nil {
		anomalous = d.fitted.Forest.DecisionFunction([]float64{efficiency, degradation}) < 0
	} else {
		anomalous = d.rules.isAnomaly(efficiency, degradation)
	}
	if anomalous {
		return models.VerdictAnomaly
	}
	return models.VerdictNormal
}

// DetectVector classifies [efficiency, degradation]
func (d *AnomalyDetector) DetectVector(x []float64) (models.Verdict, error) {
	if len(x) != AnomalyFeatureCount {
		return "", fmt.Errorf("%w: expected %d anomaly features, got %d", ErrInvalidInput, AnomalyFeatureCount, len(x))
	}
	return d.Detect(x[0], x[1]), nil
}

// AnomalyScore returns the forest decision value (lower is more anomalous,
// negative is an anomaly). It is 0 while untrained.
func (d *AnomalyDetector) AnomalyScore(efficiency, degradation float64) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.fitted == nil {
		return 0
	}
	return d.fitted.Forest.DecisionFunction([]float64{efficiency, degradation})
}

// AnomalyScoreVector scores [efficiency, degradation]
func (d *AnomalyDetector) AnomalyScoreVector(x []float64) (float64, error) {
	if len(x) != AnomalyFeatureCount {
		return 0, fmt.Errorf("%w: expected %d anomaly features, got %d", ErrInvalidInput, AnomalyFeatureCount, len(x))
	}
	return d.AnomalyScore(x[0], x[1]), nil
}

// Train fits an isolation forest on historical (efficiency, degradation)
// pairs. The previous state is kept if fitting fails.
func (d *AnomalyDetector) Train(X [][]float64) error {
	for i, row := range X {
		if len(row) != AnomalyFeatureCount {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), AnomalyFeatureCount)
		}
	}
	forest, err := FitIsolationForest(X, d.config)
	if err != nil {
		return err
	}
	fitted := &fittedDetector{
		Forest:    forest,
		Samples:   len(X),
		Version:   uuid.NewString(),
		TrainedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	d.fitted = fitted
	d.mu.Unlock()
	return nil
}

// IsTrained reports whether the forest is active
func (d *AnomalyDetector) IsTrained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fitted != nil
}

// Reset returns the detector to rules mode
func (d *AnomalyDetector) Reset() {
	d.mu.Lock()
	d.fitted = nil
	d.mu.Unlock()
}

// Status reports the detector's current state
func (d *AnomalyDetector) Status() models.ModelStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := models.ModelStatus{Name: "anomaly_detector", Mode: "rules"}
	if d.fitted != nil {
		trainedAt := d.fitted.TrainedAt
		st.Trained = true
		st.Mode = "fitted"
		st.Samples = d.fitted.Samples
		st.Version = d.fitted.Version
		st.TrainedAt = &trainedAt
	}
	return st
}

type savedDetector struct {
	Kind  string          `json:"kind"`
	Model *fittedDetector `json:"model"`
}

// Save writes the fitted forest as JSON
func (d *AnomalyDetector) Save(w io.Writer) error {
	d.mu.RLock()
	fitted := d.fitted
	d.mu.RUnlock()
	if fitted == nil {
		return ErrNotTrained
	}
	return json.NewEncoder(w).Encode(savedDetector{Kind: "anomaly_detector", Model: fitted})
}

// Load replaces the current state with a forest written by Save
func (d *AnomalyDetector) Load(r io.Reader) error {
	var saved savedDetector
	if err := json.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("decode anomaly detector: %w", err)
	}
	if saved.Kind != "anomaly_detector" || saved.Model == nil || saved.Model.Forest == nil {
		return fmt.Errorf("%w: not an anomaly detector artifact", ErrInvalidInput)
	}
	if saved.Model.Forest.Features != AnomalyFeatureCount {
		return fmt.Errorf("%w: forest has %d features, expected %d", ErrInvalidInput, saved.Model.Forest.Features, AnomalyFeatureCount)
	}
	if err := saved.Model.Forest.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	d.fitted = saved.Model
	d.mu.Unlock()
	return nil
}
