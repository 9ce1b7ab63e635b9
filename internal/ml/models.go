package ml

import (
	"github.com/sirupsen/logrus"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// ModelsConfig parameterizes the predictors built by NewModels
type ModelsConfig struct {
	StorageConditions []StorageCondition    `yaml:"storage_conditions"`
	AnomalyRules      AnomalyRules          `yaml:"anomaly_rules"`
	IsolationForest   IsolationForestConfig `yaml:"isolation_forest"`
	Grid              GridBounds            `yaml:"grid"`
}

// DefaultModelsConfig returns the built-in tables and thresholds
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		StorageConditions: DefaultStorageConditions(),
		AnomalyRules:      DefaultAnomalyRules(),
		IsolationForest:   DefaultIsolationForestConfig(),
		Grid:              DefaultGridBounds(),
	}
}

// Models bundles one instance of each predictor. The server builds a single
// bundle and shares it by reference.
type Models struct {
	Optimizer  *ExtractionOptimizer
	Forecaster *DegradationForecaster
	Detector   *AnomalyDetector
	Classifier *PotencyClassifier
}

// NewModels builds an untrained bundle
func NewModels(cfg ModelsConfig, logger *logrus.Logger) (*Models, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.IsolationForest.validate(); err != nil {
		return nil, err
	}
	forecaster, err := NewDegradationForecaster(cfg.StorageConditions, logger)
	if err != nil {
		return nil, err
	}
	return &Models{
		Optimizer:  NewExtractionOptimizer(WithDefaultBounds(cfg.Grid)),
		Forecaster: forecaster,
		Detector:   NewAnomalyDetector(cfg.AnomalyRules, cfg.IsolationForest),
		Classifier: NewPotencyClassifier(),
	}, nil
}

// Status reports the trainable predictors
func (m *Models) Status() []models.ModelStatus {
	return []models.ModelStatus{
		m.Optimizer.Status(),
		m.Detector.Status(),
	}
}
