package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for malformed or out-of-range numeric input
// to any calculator or predictor.
var ErrInvalidInput = errors.New("invalid input")

// CannabinoidProfile holds the six analytical concentrations of a sample,
// each expressed as % w/w.
type CannabinoidProfile struct {
	D9THC float64 `json:"d9_thc"` // Δ9-THC
	D8THC float64 `json:"d8_thc"` // Δ8-THC
	CBD   float64 `json:"cbd"`
	CBG   float64 `json:"cbg"`
	CBN   float64 `json:"cbn"`
	CBC   float64 `json:"cbc"`
}

// DerivedMetrics are the quality metrics computed from a CannabinoidProfile
type DerivedMetrics struct {
	TotalCannabinoids  float64 `json:"total_cannabinoids"`
	TotalTHC           float64 `json:"total_thc"`
	DegradationIndex   float64 `json:"degradation_index"`   // CBN as % of total THC
	IsomerizationRatio float64 `json:"isomerization_ratio"` // Δ8 as % of Δ9
}

// NewCannabinoidProfile builds a validated profile. Missing readings are passed as 0.
func NewCannabinoidProfile(d9, d8, cbd, cbg, cbn, cbc float64) (CannabinoidProfile, error) {
	p := CannabinoidProfile{D9THC: d9, D8THC: d8, CBD: cbd, CBG: cbg, CBN: cbn, CBC: cbc}
	if err := p.Validate(); err != nil {
		return CannabinoidProfile{}, err
	}
	return p, nil
}

// Validate checks that every concentration is a finite percentage in [0, 100].
// The sum of all six is not checked.
func (p CannabinoidProfile) Validate() error {
	for _, c := range p.components() {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) || c.value < 0 || c.value > 100 {
			return fmt.Errorf("%w: %s must be within [0, 100], got %v", ErrInvalidInput, c.name, c.value)
		}
	}
	return nil
}

type namedValue struct {
	name  string
	value float64
}

func (p CannabinoidProfile) components() []namedValue {
	return []namedValue{
		{"d9_thc", p.D9THC},
		{"d8_thc", p.D8THC},
		{"cbd", p.CBD},
		{"cbg", p.CBG},
		{"cbn", p.CBN},
		{"cbc", p.CBC},
	}
}

// ComputeMetrics derives the quality metrics of a profile. It is total over
// its numeric domain and has no side effects.
func ComputeMetrics(p CannabinoidProfile) DerivedMetrics {
	totalTHC := TotalTHC(p.D9THC, p.D8THC)
	return DerivedMetrics{
		TotalCannabinoids:  totalTHC + p.CBD + p.CBG + p.CBN + p.CBC,
		TotalTHC:           totalTHC,
		DegradationIndex:   DegradationIndex(p.CBN, totalTHC),
		IsomerizationRatio: IsomerizationRatio(p.D8THC, p.D9THC),
	}
}

// Metrics is shorthand for ComputeMetrics(p).
func (p CannabinoidProfile) Metrics() DerivedMetrics {
	return ComputeMetrics(p)
}

// TotalTHC returns Δ9-THC + Δ8-THC
func TotalTHC(d9, d8 float64) float64 {
	return d9 + d8
}

// DegradationIndex returns CBN as a percentage of total THC, 0 when total THC is 0.
func DegradationIndex(cbn, totalTHC float64) float64 {
	if totalTHC > 0 {
		return cbn / totalTHC * 100
	}
	return 0
}

// IsomerizationRatio returns Δ8-THC as a percentage of Δ9-THC, 0 when Δ9 is 0.
func IsomerizationRatio(d8, d9 float64) float64 {
	if d9 > 0 {
		return d8 / d9 * 100
	}
	return 0
}

// CBDTHCRatio returns CBD / total THC, 0 when total THC is 0.
func CBDTHCRatio(cbd, totalTHC float64) float64 {
	if totalTHC > 0 {
		return cbd / totalTHC
	}
	return 0
}

// ExtractionEfficiency estimates recovered potency:
// (final potency × mass yield) / initial potency × 100.
// massYield is the fraction of input mass recovered (final/initial weight).
func ExtractionEfficiency(initialPotency, finalPotency, massYield float64) float64 {
	if initialPotency <= 0 {
		return 0
	}
	return finalPotency * massYield / initialPotency * 100
}

// ProcessYield returns the recovered mass as a percentage of input mass
func ProcessYield(initialWeight, finalWeight float64) float64 {
	if initialWeight <= 0 {
		return 0
	}
	return finalWeight / initialWeight * 100
}

// DegradationLabel classifies a degradation index for display.
func DegradationLabel(index float64) string {
	switch {
	case index < 2:
		return "Fresh"
	case index < 5:
		return "Moderate"
	default:
		return "Degraded"
	}
}
