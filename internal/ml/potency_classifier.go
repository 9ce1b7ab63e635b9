package ml

import (
	"strings"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Hemp compliance limits
const (
	HempMinCBDTHCRatio = 20.0
	HempMaxTotalTHC    = 0.3
)

type gradeRule struct {
	grade            models.Grade
	minTotal         float64
	maxDegradation   float64
	maxIsomerization float64 // 0 means unchecked
}

var gradeCascade = []gradeRule{
	{models.GradeA, 90, 2, 3},
	{models.GradeB, 85, 3, 5},
	{models.GradeC, 80, 5, 0},
}

// PotencyClassifier grades batches and predicts category compliance. It is stateless.
type PotencyClassifier struct{}

// NewPotencyClassifier returns a classifier
func NewPotencyClassifier() *PotencyClassifier {
	return &PotencyClassifier{}
}

// Grade applies the A, B, C cascade; anything else is F/Fail.
// Limits on degradation and isomerization are strict.
func (PotencyClassifier) Grade(totalCannabinoids, degradationIndex, isomerizationRatio float64) (models.Grade, models.PassFail) {
	for _, r := range gradeCascade {
		if r.matches(totalCannabinoids, degradationIndex, isomerizationRatio) {
			return r.grade, models.Pass
		}
	}
	return models.GradeF, models.Fail
}

// matches is written as a positive conjunction so NaN never matches a rule
func (r gradeRule) matches(total, degradation, isomerization float64) bool {
	if !(total >= r.minTotal && degradation < r.maxDegradation) {
		return false
	}
	return r.maxIsomerization == 0 || isomerization < r.maxIsomerization
}

// GradeMetrics grades a DerivedMetrics value
func (c PotencyClassifier) GradeMetrics(m models.DerivedMetrics) (models.Grade, models.PassFail) {
	return c.Grade(m.TotalCannabinoids, m.DegradationIndex, m.IsomerizationRatio)
}

// PredictCompliance checks a product category. Hemp must exceed a 20:1 CBD
// to THC ratio and stay under 0.3% total THC. Other categories are reported
// compliant with no THC limit tracked, which is not a regulatory guarantee.
func (PotencyClassifier) PredictCompliance(cbdTHCRatio, totalTHC float64, category string) models.ComplianceResult {
	cat := strings.ToLower(strings.TrimSpace(category))
	if cat != "hemp" {
		return models.ComplianceResult{
			Category:  category,
			Compliant: true,
			Note:      "no THC limit tracked",
		}
	}

	ratioCheck := models.ComplianceCheck{
		Name:     "cbd_thc_ratio",
		Passed:   cbdTHCRatio > HempMinCBDTHCRatio,
		Value:    cbdTHCRatio,
		Limit:    HempMinCBDTHCRatio,
		Operator: ">",
	}
	thcCheck := models.ComplianceCheck{
		Name:     "total_thc",
		Passed:   totalTHC < HempMaxTotalTHC,
		Value:    totalTHC,
		Limit:    HempMaxTotalTHC,
		Operator: "<",
	}
	return models.ComplianceResult{
		Category:  cat,
		Compliant: ratioCheck.Passed && thcCheck.Passed,
		Checks:    []models.ComplianceCheck{ratioCheck, thcCheck},
	}
}
