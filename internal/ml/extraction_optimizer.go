package ml

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sajari/regression"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Heuristic efficiency constants. The heuristic is a placeholder policy used
// until a model is fitted, not a physical model.
const (
	heuristicBase          = 85.0
	heuristicPivotTemp     = -60.0
	heuristicColdSlope     = 0.1
	heuristicWarmPivotTemp = -40.0
	heuristicWarmSlope     = -0.2
	heuristicTargetTime    = 20.0
	heuristicTimePenalty   = -0.05
)

var processFeatureNames = []string{"temp_c", "time_min", "rpm", "initial_weight_g", "moisture_percent"}

// HeuristicEfficiency is the default efficiency estimate for a temperature
// and time. rpm, weight and moisture do not contribute.
func HeuristicEfficiency(tempC, timeMin float64) float64 {
	var tempBonus float64
	if tempC < heuristicPivotTemp {
		tempBonus = heuristicColdSlope * math.Abs(tempC-heuristicPivotTemp)
	} else {
		tempBonus = heuristicWarmSlope * math.Abs(tempC-heuristicWarmPivotTemp)
	}
	dt := timeMin - heuristicTargetTime
	return heuristicBase + tempBonus + heuristicTimePenalty*dt*dt
}

// EfficiencyModel is one of the two states an ExtractionOptimizer can be in
type EfficiencyModel interface {
	Predict(x []float64) float64
	Mode() string
}

// HeuristicModel is the untrained state
type HeuristicModel struct{}

func (HeuristicModel) Predict(x []float64) float64 { return HeuristicEfficiency(x[0], x[1]) }
func (HeuristicModel) Mode() string                { return "heuristic" }

// FittedModel is a standardized ordinary-least-squares fit. Coefficients
// apply to the Active feature indices only; constant features are dropped.
type FittedModel struct {
	Scaler       StandardScaler `json:"scaler"`
	Active       []int          `json:"active"`
	Intercept    float64        `json:"intercept"`
	Coefficients []float64      `json:"coefficients"`
	RSquared     float64        `json:"r_squared"`
	Samples      int            `json:"samples"`
	Version      string         `json:"version"`
	TrainedAt    time.Time      `json:"trained_at"`
}

func (m *FittedModel) Predict(x []float64) float64 {
	z := m.Scaler.Transform(x)
	y := m.Intercept
	for k, idx := range m.Active {
		y += m.Coefficients[k] * z[idx]
	}
	return y
}

func (m *FittedModel) Mode() string { return "fitted" }

// ExtractionOptimizer predicts extraction efficiency from process parameters
// and searches for the best settings. Safe for concurrent use.
type ExtractionOptimizer struct {
	mu     sync.RWMutex
	model  EfficiencyModel
	search ParameterSearch
	bounds GridBounds
}

// OptimizerOption configures an ExtractionOptimizer
type OptimizerOption func(*ExtractionOptimizer)

// WithParameterSearch replaces the default exhaustive grid search
func WithParameterSearch(s ParameterSearch) OptimizerOption {
	return func(o *ExtractionOptimizer) { o.search = s }
}

// WithDefaultBounds sets the search space used when OptimizeParameters gets nil
func WithDefaultBounds(b GridBounds) OptimizerOption {
	return func(o *ExtractionOptimizer) { o.bounds = b }
}

// NewExtractionOptimizer returns an untrained optimizer
func NewExtractionOptimizer(opts ...OptimizerOption) *ExtractionOptimizer {
	o := &ExtractionOptimizer{
		model:  HeuristicModel{},
		search: GridSearch{},
		bounds: DefaultGridBounds(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Predict returns the expected efficiency (%) for a parameter set
func (o *ExtractionOptimizer) Predict(p models.ProcessParameters) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model.Predict(p.Vector())
}

// PredictVector predicts from a raw feature vector
// [temp, time, rpm, weight, moisture].
func (o *ExtractionOptimizer) PredictVector(x []float64) (float64, error) {
	if len(x) != models.ProcessFeatureCount {
		return 0, fmt.Errorf("%w: expected %d process features, got %d", ErrInvalidInput, models.ProcessFeatureCount, len(x))
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model.Predict(x), nil
}

// IsTrained reports whether a fitted model is active
func (o *ExtractionOptimizer) IsTrained() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.model.(*FittedModel)
	return ok
}

// Status reports the optimizer's current state
func (o *ExtractionOptimizer) Status() models.ModelStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := models.ModelStatus{Name: "extraction_optimizer", Mode: o.model.Mode()}
	if m, ok := o.model.(*FittedModel); ok {
		trainedAt := m.TrainedAt
		r2 := m.RSquared
		st.Trained = true
		st.Samples = m.Samples
		st.Version = m.Version
		st.TrainedAt = &trainedAt
		st.RSquared = &r2
	}
	return st
}

// Train fits the scaler and regression on X (n×5) and y (n). On success the
// fitted model replaces the current state; on failure the state is unchanged.
func (o *ExtractionOptimizer) Train(X [][]float64, y []float64) error {
	fitted, err := fitEfficiencyModel(X, y)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.model = fitted
	o.mu.Unlock()
	return nil
}

// Reset discards any fitted model
func (o *ExtractionOptimizer) Reset() {
	o.mu.Lock()
	o.model = HeuristicModel{}
	o.mu.Unlock()
}

func fitEfficiencyModel(X [][]float64, y []float64) (*FittedModel, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("%w: need matching non-empty X and y, got %d and %d", ErrInvalidInput, len(X), len(y))
	}
	for i, row := range X {
		if len(row) != models.ProcessFeatureCount {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidInput, i, len(row), models.ProcessFeatureCount)
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("%w: target %d is not finite", ErrInvalidInput, i)
		}
	}

	scaler, err := FitScaler(X)
	if err != nil {
		return nil, err
	}
	active := scaler.Varying()
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: every feature is constant", ErrInvalidInput)
	}

	var r regression.Regression
	r.SetObserved("efficiency")
	for k, idx := range active {
		r.SetVar(k, processFeatureNames[idx])
	}
	for i, row := range X {
		z := scaler.Transform(row)
		vars := make([]float64, len(active))
		for k, idx := range active {
			vars[k] = z[idx]
		}
		r.Train(regression.DataPoint(y[i], vars))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("fit efficiency regression: %w", err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != len(active)+1 {
		return nil, fmt.Errorf("fit efficiency regression: got %d coefficients, expected %d", len(coeffs), len(active)+1)
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("fit efficiency regression: non-finite coefficient")
		}
	}

	return &FittedModel{
		Scaler:       scaler,
		Active:       active,
		Intercept:    coeffs[0],
		Coefficients: coeffs[1:],
		RSquared:     r.R2,
		Samples:      len(X),
		Version:      uuid.NewString(),
		TrainedAt:    time.Now().UTC(),
	}, nil
}

// MaxGridPoints caps the number of parameter sets a single search evaluates
const MaxGridPoints = 10000

// Range is an inclusive numeric range walked in fixed steps
type Range struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Step float64 `json:"step" yaml:"step"`
}

// Points is the number of values Values yields, as a float so oversized
// ranges can be rejected before any allocation.
func (r Range) Points() float64 {
	return math.Floor((r.Max-r.Min)/r.Step+1e-9) + 1
}

// Values enumerates the range as Min + i*Step up to Max
func (r Range) Values() []float64 {
	n := int(r.Points())
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = r.Min + float64(i)*r.Step
	}
	return vals
}

func (r Range) validate(name string) error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsNaN(r.Step) {
		return fmt.Errorf("%w: %s range is not a number", ErrInvalidInput, name)
	}
	if math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) || math.IsInf(r.Step, 0) {
		return fmt.Errorf("%w: %s range must be finite", ErrInvalidInput, name)
	}
	if r.Step <= 0 || r.Max < r.Min {
		return fmt.Errorf("%w: %s range needs step > 0 and max >= min", ErrInvalidInput, name)
	}
	if n := r.Points(); n > MaxGridPoints {
		return fmt.Errorf("%w: %s range has %.0f points, limit is %d", ErrInvalidInput, name, n, MaxGridPoints)
	}
	return nil
}

// GridBounds bounds the parameter search. Weight and moisture are held fixed.
type GridBounds struct {
	Temperature     Range   `json:"temp_c" yaml:"temp_c"`
	Time            Range   `json:"time_min" yaml:"time_min"`
	RPM             Range   `json:"rpm" yaml:"rpm"`
	InitialWeightG  float64 `json:"initial_weight_g" yaml:"initial_weight_g"`
	MoisturePercent float64 `json:"moisture_percent" yaml:"moisture_percent"`
}

// DefaultGridBounds returns the standard search space
func DefaultGridBounds() GridBounds {
	return GridBounds{
		Temperature:     Range{Min: -80, Max: -40, Step: 5},
		Time:            Range{Min: 15, Max: 25, Step: 2},
		RPM:             Range{Min: 1000, Max: 1400, Step: 100},
		InitialWeightG:  models.DefaultInitialWeight,
		MoisturePercent: models.DefaultMoisture,
	}
}

// Validate checks every range of the grid
func (b GridBounds) Validate() error {
	if err := b.Temperature.validate("temperature"); err != nil {
		return err
	}
	if err := b.Time.validate("time"); err != nil {
		return err
	}
	if err := b.RPM.validate("rpm"); err != nil {
		return err
	}
	if n := b.Temperature.Points() * b.Time.Points() * b.RPM.Points(); n > MaxGridPoints {
		return fmt.Errorf("%w: grid has %.0f parameter sets, limit is %d", ErrInvalidInput, n, MaxGridPoints)
	}
	return nil
}

// ParameterSearch finds the parameter set maximizing score within bounds
type ParameterSearch interface {
	Search(score func(models.ProcessParameters) float64, bounds GridBounds) (models.ProcessParameters, float64, error)
}

// GridSearch evaluates every grid point in ascending temp, time, rpm order
// and keeps the first maximum.
type GridSearch struct{}

func (GridSearch) Search(score func(models.ProcessParameters) float64, bounds GridBounds) (models.ProcessParameters, float64, error) {
	if err := bounds.Validate(); err != nil {
		return models.ProcessParameters{}, 0, err
	}
	var (
		best      models.ProcessParameters
		bestScore float64
		evaluated bool
	)
	for _, temp := range bounds.Temperature.Values() {
		for _, t := range bounds.Time.Values() {
			for _, rpm := range bounds.RPM.Values() {
				p := models.ProcessParameters{
					TemperatureC:    temp,
					TimeMin:         t,
					RPM:             rpm,
					InitialWeightG:  bounds.InitialWeightG,
					MoisturePercent: bounds.MoisturePercent,
				}
				s := score(p)
				if !evaluated || s > bestScore {
					best, bestScore, evaluated = p, s, true
				}
			}
		}
	}
	return best, bestScore, nil
}

// OptimizeParameters searches bounds (the configured defaults when nil) for
// the settings with the highest predicted efficiency.
func (o *ExtractionOptimizer) OptimizeParameters(bounds *GridBounds) (models.ProcessParameters, float64, error) {
	b := o.bounds
	if bounds != nil {
		b = *bounds
	}
	if err := b.Validate(); err != nil {
		return models.ProcessParameters{}, 0, err
	}

	// Hold one model for the whole search so a concurrent Train cannot split it.
	o.mu.RLock()
	model := o.model
	o.mu.RUnlock()

	return o.search.Search(func(p models.ProcessParameters) float64 {
		return model.Predict(p.Vector())
	}, b)
}

type savedOptimizer struct {
	Kind  string       `json:"kind"`
	Model *FittedModel `json:"model"`
}

// Save writes the fitted model and scaler as JSON. An untrained optimizer
// has nothing to persist and returns ErrNotTrained.
func (o *ExtractionOptimizer) Save(w io.Writer) error {
	o.mu.RLock()
	m, ok := o.model.(*FittedModel)
	o.mu.RUnlock()
	if !ok {
		return ErrNotTrained
	}
	return json.NewEncoder(w).Encode(savedOptimizer{Kind: "extraction_optimizer", Model: m})
}

// Load replaces the current state with a model written by Save
func (o *ExtractionOptimizer) Load(r io.Reader) error {
	var saved savedOptimizer
	if err := json.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("decode optimizer: %w", err)
	}
	m := saved.Model
	if saved.Kind != "extraction_optimizer" || m == nil {
		return fmt.Errorf("%w: not an extraction optimizer artifact", ErrInvalidInput)
	}
	if len(m.Scaler.Means) != models.ProcessFeatureCount || len(m.Scaler.Stds) != models.ProcessFeatureCount {
		return fmt.Errorf("%w: scaler has wrong width", ErrInvalidInput)
	}
	if len(m.Active) != len(m.Coefficients) {
		return fmt.Errorf("%w: %d coefficients for %d active features", ErrInvalidInput, len(m.Coefficients), len(m.Active))
	}
	for _, idx := range m.Active {
		if idx < 0 || idx >= models.ProcessFeatureCount {
			return fmt.Errorf("%w: active feature index %d out of range", ErrInvalidInput, idx)
		}
	}

	o.mu.Lock()
	o.model = m
	o.mu.Unlock()
	return nil
}
