package ml

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// CBNConversionFactor is the fraction of lost THC that appears as CBN
	CBNConversionFactor = 0.3

	// DefaultFallbackRate applies to storage conditions that are not recognized
	DefaultFallbackRate = 0.3

	// ShelfLifeRetention is the THC fraction that marks end of shelf life (10% loss)
	ShelfLifeRetention = 0.9

	// MaxForecastMonths bounds a single forecast horizon (100 years)
	MaxForecastMonths = 1200
)

// StorageCondition names a storage environment and its monthly first-order
// degradation rate constant.
type StorageCondition struct {
	Name string  `json:"name" yaml:"name"`
	Rate float64 `json:"rate" yaml:"rate"`
}

// DefaultStorageConditions are the built-in conditions in display order
func DefaultStorageConditions() []StorageCondition {
	return []StorageCondition{
		{Name: "Room Temp (20°C)", Rate: 0.5},
		{Name: "Refrigerated (4°C)", Rate: 0.2},
		{Name: "Frozen (-20°C)", Rate: 0.05},
	}
}

// Forecast is a monthly THC/CBN projection for one storage condition
type Forecast struct {
	Condition           string    `json:"condition"`
	Rate                float64   `json:"rate"`
	ConditionRecognized bool      `json:"condition_recognized"`
	TimePoints          []int     `json:"time_points"`
	THC                 []float64 `json:"thc"`
	CBN                 []float64 `json:"cbn"`
}

// StorageRecommendation reports whether a condition reaches a target shelf life
type StorageRecommendation struct {
	Condition string  `json:"condition"`
	Rate      float64 `json:"rate"`
	MaxMonths float64 `json:"max_months"`
	Suitable  bool    `json:"suitable"`
}

// ShelfLife is the shelf life read off a forecast series
type ShelfLife struct {
	Months  int  `json:"months"`
	Stable  bool `json:"stable"`  // no 10% loss within the horizon
	Horizon int  `json:"horizon"` // last month of the series
}

func (s ShelfLife) String() string {
	if s.Stable {
		return fmt.Sprintf("stable for %d+ months", s.Horizon)
	}
	return fmt.Sprintf("%d months until 10%% THC loss", s.Months)
}

// DegradationForecaster projects potency loss under storage. Its condition
// table is fixed at construction.
type DegradationForecaster struct {
	conditions   []StorageCondition
	rates        map[string]float64
	fallbackRate float64
	logger       *logrus.Logger
}

// NewDegradationForecaster builds a forecaster over conditions, which keep
// their order. Empty conditions select the defaults.
func NewDegradationForecaster(conditions []StorageCondition, logger *logrus.Logger) (*DegradationForecaster, error) {
	if len(conditions) == 0 {
		conditions = DefaultStorageConditions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	f := &DegradationForecaster{
		conditions:   make([]StorageCondition, 0, len(conditions)),
		rates:        make(map[string]float64, len(conditions)),
		fallbackRate: DefaultFallbackRate,
		logger:       logger,
	}
	for _, c := range conditions {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: storage condition without a name", ErrInvalidInput)
		}
		if !(c.Rate > 0) || math.IsInf(c.Rate, 0) {
			return nil, fmt.Errorf("%w: storage condition %q needs a positive rate", ErrInvalidInput, name)
		}
		if _, dup := f.rates[name]; dup {
			return nil, fmt.Errorf("%w: duplicate storage condition %q", ErrInvalidInput, name)
		}
		f.rates[name] = c.Rate
		f.conditions = append(f.conditions, StorageCondition{Name: name, Rate: c.Rate})
	}
	return f, nil
}

// Conditions returns the known condition names in declaration order
func (f *DegradationForecaster) Conditions() []string {
	names := make([]string, len(f.conditions))
	for i, c := range f.conditions {
		names[i] = c.Name
	}
	return names
}

// StorageConditions returns a copy of the condition table
func (f *DegradationForecaster) StorageConditions() []StorageCondition {
	return append([]StorageCondition(nil), f.conditions...)
}

// RateFor returns the rate for name and whether it was recognized.
// Unrecognized names get the fallback rate.
func (f *DegradationForecaster) RateFor(name string) (float64, bool) {
	if r, ok := f.rates[strings.TrimSpace(name)]; ok {
		return r, true
	}
	return f.fallbackRate, false
}

// ValidateCondition returns ErrUnrecognizedCondition for unknown names
func (f *DegradationForecaster) ValidateCondition(name string) error {
	if _, ok := f.RateFor(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnrecognizedCondition, name)
	}
	return nil
}

// PredictDegradation forecasts THC and CBN for months 0..months inclusive.
// An unrecognized condition falls back to DefaultFallbackRate and is reported
// through Forecast.ConditionRecognized.
func (f *DegradationForecaster) PredictDegradation(initialTHC, initialCBN float64, condition string, months int) (Forecast, error) {
	if months < 0 || months > MaxForecastMonths {
		return Forecast{}, fmt.Errorf("%w: months must be within 0..%d, got %d", ErrInvalidInput, MaxForecastMonths, months)
	}
	if err := checkConcentration("initial THC", initialTHC); err != nil {
		return Forecast{}, err
	}
	if err := checkConcentration("initial CBN", initialCBN); err != nil {
		return Forecast{}, err
	}

	rate, known := f.RateFor(condition)
	if !known {
		f.logger.WithFields(logrus.Fields{
			"condition": condition,
			"rate":      rate,
		}).Warn("Unrecognized storage condition, using fallback rate")
	}

	fc := Forecast{
		Condition:           condition,
		Rate:                rate,
		ConditionRecognized: known,
		TimePoints:          make([]int, months+1),
		THC:                 make([]float64, months+1),
		CBN:                 make([]float64, months+1),
	}
	for t := 0; t <= months; t++ {
		thc := initialTHC * math.Exp(-rate*float64(t)/12)
		fc.TimePoints[t] = t
		fc.THC[t] = thc
		fc.CBN[t] = initialCBN + (initialTHC-thc)*CBNConversionFactor
	}
	return fc, nil
}

// EstimateShelfLife returns, per condition, the months until THC drops to
// threshold × initial. The result does not depend on initialTHC beyond
// validation since decay is first order.
func (f *DegradationForecaster) EstimateShelfLife(initialTHC, threshold float64) (map[string]float64, error) {
	if err := checkConcentration("initial THC", initialTHC); err != nil {
		return nil, err
	}
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("%w: threshold must be in (0, 1), got %v", ErrInvalidInput, threshold)
	}
	out := make(map[string]float64, len(f.conditions))
	for _, c := range f.conditions {
		out[c.Name] = monthsToRetention(threshold, c.Rate)
	}
	return out, nil
}

// PredictOptimalStorage reports for each condition whether it keeps THC loss
// under 10% for targetMonths.
func (f *DegradationForecaster) PredictOptimalStorage(targetMonths float64) ([]StorageRecommendation, error) {
	if math.IsNaN(targetMonths) || targetMonths < 0 {
		return nil, fmt.Errorf("%w: target months must be non-negative", ErrInvalidInput)
	}
	recs := make([]StorageRecommendation, len(f.conditions))
	for i, c := range f.conditions {
		maxMonths := monthsToRetention(ShelfLifeRetention, c.Rate)
		recs[i] = StorageRecommendation{
			Condition: c.Name,
			Rate:      c.Rate,
			MaxMonths: maxMonths,
			Suitable:  maxMonths >= targetMonths,
		}
	}
	return recs, nil
}

// ShelfLifeFromSeries returns the first month where thc falls below 90% of
// initialTHC, or a stable result covering the whole series.
func ShelfLifeFromSeries(thc []float64, initialTHC float64) ShelfLife {
	horizon := len(thc) - 1
	if horizon < 0 {
		horizon = 0
	}
	limit := initialTHC * ShelfLifeRetention
	for i, v := range thc {
		if v < limit {
			return ShelfLife{Months: i, Horizon: horizon}
		}
	}
	return ShelfLife{Months: horizon, Stable: true, Horizon: horizon}
}

func monthsToRetention(fraction, rate float64) float64 {
	return -12 * math.Log(fraction) / rate
}

func checkConcentration(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
		return fmt.Errorf("%w: %s must be within [0, 100], got %v", ErrInvalidInput, name, v)
	}
	return nil
}
