package ml

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

var farOutliers = [][]float64{{40, 12}, {30, 15}, {50, 9}, {20, 20}, {45, 14}}

// historicalBatches is a dense cluster of typical runs plus a few far outliers
func historicalBatches() [][]float64 {
	var X [][]float64
	for eff := 80.0; eff <= 90; eff++ {
		for deg := 1.0; deg <= 3.0; deg += 0.25 {
			X = append(X, []float64{eff, deg})
		}
	}
	return append(X, farOutliers...)
}

func TestAnomalyDetectorRulesMode(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())

	tests := []struct {
		eff, deg float64
		want     models.Verdict
	}{
		{85, 2, models.VerdictNormal},
		{70, 5, models.VerdictNormal},
		{69.9, 2, models.VerdictAnomaly},
		{85, 5.1, models.VerdictAnomaly},
		{60, 8, models.VerdictAnomaly},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, d.Detect(tt.eff, tt.deg), "eff=%v deg=%v", tt.eff, tt.deg)
	}
	assert.Zero(t, d.AnomalyScore(10, 50))
	assert.False(t, d.IsTrained())
	assert.Equal(t, "rules", d.Status().Mode)
}

func TestAnomalyDetectorVectorArity(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())

	v, err := d.DetectVector([]float64{65, 1})
	require.NoError(t, err)
	assert.True(t, v.IsAnomaly())

	_, err = d.DetectVector([]float64{65})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = d.AnomalyScoreVector([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnomalyDetectorTrained(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
	X := historicalBatches()
	require.NoError(t, d.Train(X))
	require.True(t, d.IsTrained())

	assert.Equal(t, models.VerdictNormal, d.Detect(85, 2))
	assert.Equal(t, models.VerdictAnomaly, d.Detect(30, 15))

	inlier := d.AnomalyScore(85, 2)
	outlier := d.AnomalyScore(30, 15)
	assert.Less(t, outlier, inlier)
	assert.Less(t, outlier, 0.0)
	assert.Greater(t, inlier, 0.0)

	flagged := 0
	for _, row := range X {
		if d.Detect(row[0], row[1]).IsAnomaly() {
			flagged++
		}
	}
	// Roughly the contamination share of the training set.
	assert.GreaterOrEqual(t, flagged, len(farOutliers))
	assert.LessOrEqual(t, flagged, 16)

	st := d.Status()
	assert.Equal(t, "fitted", st.Mode)
	assert.Equal(t, len(X), st.Samples)
}

func TestAnomalyDetectorDeterministic(t *testing.T) {
	X := historicalBatches()
	a := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
	b := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
	require.NoError(t, a.Train(X))
	require.NoError(t, b.Train(X))

	for _, point := range [][]float64{{85, 2}, {30, 15}, {75, 4}} {
		assert.Equal(t, a.AnomalyScore(point[0], point[1]), b.AnomalyScore(point[0], point[1]))
	}
}

func TestAnomalyDetectorTrainFailureKeepsState(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())

	assert.ErrorIs(t, d.Train(nil), ErrInvalidInput)
	assert.ErrorIs(t, d.Train([][]float64{{85, 2}}), ErrInvalidInput)
	assert.ErrorIs(t, d.Train([][]float64{{85, 2, 1}, {80, 1, 1}}), ErrInvalidInput)
	assert.False(t, d.IsTrained())

	require.NoError(t, d.Train(historicalBatches()))
	before := d.AnomalyScore(85, 2)
	assert.Error(t, d.Train([][]float64{{1}}))
	assert.Equal(t, before, d.AnomalyScore(85, 2))

	d.Reset()
	assert.False(t, d.IsTrained())
}

func TestAnomalyDetectorSaveLoad(t *testing.T) {
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())

	var buf bytes.Buffer
	assert.ErrorIs(t, d.Save(&buf), ErrNotTrained)

	require.NoError(t, d.Train(historicalBatches()))
	require.NoError(t, d.Save(&buf))

	restored := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
	require.NoError(t, restored.Load(&buf))
	assert.True(t, restored.IsTrained())
	for _, x := range [][]float64{{85, 2}, {30, 15}, {60, 6}} {
		assert.InDelta(t, d.AnomalyScore(x[0], x[1]), restored.AnomalyScore(x[0], x[1]), 1e-12)
	}

	for _, bad := range []string{
		"{",
		`{"kind":"extraction_optimizer","model":{}}`,
		`{"kind":"anomaly_detector","model":{"forest":{"trees":[],"features":2}}}`,
		`{"kind":"anomaly_detector","model":{"forest":{"trees":[{"nodes":[{"f":0,"t":1,"l":5,"r":6}]}],"features":2}}}`,
	} {
		assert.Error(t, NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig()).Load(strings.NewReader(bad)))
	}
}

func TestAnomalyDetectorLoadRejectsMalformedTrees(t *testing.T) {
	artifact := func(sampleSize int, nodes string) string {
		return `{"kind":"anomaly_detector","model":{"forest":{"trees":[{"nodes":` + nodes +
			`}],"features":2,"sample_size":` + strconv.Itoa(sampleSize) + `,"offset":-0.5}}}`
	}
	tests := []struct {
		name     string
		artifact string
	}{
		{"half leaf", artifact(16, `[{"f":0,"t":1,"l":0,"r":-1}]`)},
		{"self loop", artifact(16, `[{"f":0,"t":1,"l":0,"r":0}]`)},
		{"back edge", artifact(16, `[{"f":0,"t":1,"l":1,"r":2},{"f":1,"t":1,"l":0,"r":2},{"l":-1,"r":-1,"n":3}]`)},
		{"bad feature", artifact(16, `[{"f":2,"t":1,"l":1,"r":2},{"l":-1,"r":-1,"n":1},{"l":-1,"r":-1,"n":1}]`)},
		{"no sample size", artifact(0, `[{"l":-1,"r":-1,"n":1}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
			assert.ErrorIs(t, d.Load(strings.NewReader(tt.artifact)), ErrInvalidInput)
			assert.False(t, d.IsTrained())
			assert.Equal(t, models.VerdictAnomaly, d.Detect(60, 1))
		})
	}

	valid := artifact(16, `[{"f":0,"t":70,"l":1,"r":2},{"l":-1,"r":-1,"n":1},{"l":-1,"r":-1,"n":15}]`)
	d := NewAnomalyDetector(DefaultAnomalyRules(), DefaultIsolationForestConfig())
	require.NoError(t, d.Load(strings.NewReader(valid)))
	assert.True(t, d.IsTrained())
}

func TestIsolationForestConfigValidation(t *testing.T) {
	X := historicalBatches()
	for _, cfg := range []IsolationForestConfig{
		{Trees: 0, MaxSamples: 256, Contamination: 0.1},
		{Trees: 10, MaxSamples: 1, Contamination: 0.1},
		{Trees: 10, MaxSamples: 256, Contamination: 0},
		{Trees: 10, MaxSamples: 256, Contamination: 0.6},
	} {
		_, err := FitIsolationForest(X, cfg)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestIsolationForestSubsampleCap(t *testing.T) {
	cfg := DefaultIsolationForestConfig()
	cfg.MaxSamples = 32
	f, err := FitIsolationForest(historicalBatches(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 32, f.SampleSize)
	assert.Len(t, f.Trees, cfg.Trees)
}

func TestAveragePathLength(t *testing.T) {
	assert.Zero(t, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	// c(256) from the isolation forest paper
	assert.InDelta(t, 10.2447, averagePathLength(256), 1e-3)
}

func TestPercentile(t *testing.T) {
	vals := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 1.0, percentile(vals, 0))
	assert.Equal(t, 5.0, percentile(vals, 100))
	assert.Equal(t, 3.0, percentile(vals, 50))
	assert.InDelta(t, 1.4, percentile(vals, 10), 1e-12)
	// input untouched
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, vals)
}
