package ml

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestForecaster(t *testing.T) *DegradationForecaster {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f, err := NewDegradationForecaster(nil, logger)
	require.NoError(t, err)
	return f
}

func TestForecasterDefaults(t *testing.T) {
	f := newTestForecaster(t)
	assert.Equal(t, []string{"Room Temp (20°C)", "Refrigerated (4°C)", "Frozen (-20°C)"}, f.Conditions())

	rate, ok := f.RateFor("Refrigerated (4°C)")
	assert.True(t, ok)
	assert.Equal(t, 0.2, rate)

	rate, ok = f.RateFor("Room Temp")
	assert.False(t, ok)
	assert.Equal(t, DefaultFallbackRate, rate)
}

func TestPredictDegradation(t *testing.T) {
	f := newTestForecaster(t)

	fc, err := f.PredictDegradation(80, 1, "Room Temp (20°C)", 12)
	require.NoError(t, err)
	assert.True(t, fc.ConditionRecognized)
	assert.Equal(t, 0.5, fc.Rate)
	require.Len(t, fc.TimePoints, 13)
	require.Len(t, fc.THC, 13)
	require.Len(t, fc.CBN, 13)

	assert.Equal(t, 0, fc.TimePoints[0])
	assert.Equal(t, 12, fc.TimePoints[12])
	assert.InDelta(t, 80.0, fc.THC[0], 1e-12)
	assert.InDelta(t, 1.0, fc.CBN[0], 1e-12)
	assert.InDelta(t, 80*math.Exp(-0.5), fc.THC[12], 1e-9)

	for i := 1; i < len(fc.THC); i++ {
		assert.Less(t, fc.THC[i], fc.THC[i-1], "THC must decrease")
		assert.Greater(t, fc.CBN[i], fc.CBN[i-1], "CBN must increase")
		// Lost THC reappears as CBN at the conversion factor.
		assert.InDelta(t, CBNConversionFactor*(80-fc.THC[i]), fc.CBN[i]-1, 1e-9)
	}
}

func TestPredictDegradationZeroMonths(t *testing.T) {
	f := newTestForecaster(t)
	fc, err := f.PredictDegradation(70, 2, "Frozen (-20°C)", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, fc.TimePoints)
	assert.Equal(t, []float64{70}, fc.THC)
	assert.Equal(t, []float64{2}, fc.CBN)
}

func TestPredictDegradationUnknownConditionFallsBack(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f, err := NewDegradationForecaster(nil, logger)
	require.NoError(t, err)

	fc, err := f.PredictDegradation(80, 1, "Room Temp", 12)
	require.NoError(t, err)
	assert.False(t, fc.ConditionRecognized)
	assert.Equal(t, DefaultFallbackRate, fc.Rate)
	assert.InDelta(t, 80*math.Exp(-0.3), fc.THC[12], 1e-9)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Room Temp", hook.LastEntry().Data["condition"])
}

func TestPredictDegradationRejectsBadInput(t *testing.T) {
	f := newTestForecaster(t)
	_, err := f.PredictDegradation(80, 1, "Frozen (-20°C)", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.PredictDegradation(-5, 1, "Frozen (-20°C)", 6)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.PredictDegradation(80, math.NaN(), "Frozen (-20°C)", 6)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPredictDegradationHorizonLimit(t *testing.T) {
	f := newTestForecaster(t)
	fc, err := f.PredictDegradation(80, 1, "Frozen (-20°C)", MaxForecastMonths)
	require.NoError(t, err)
	assert.Len(t, fc.THC, MaxForecastMonths+1)

	_, err = f.PredictDegradation(80, 1, "Frozen (-20°C)", MaxForecastMonths+1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEstimateShelfLife(t *testing.T) {
	f := newTestForecaster(t)

	got, err := f.EstimateShelfLife(80, 0.9)
	require.NoError(t, err)
	require.Len(t, got, 3)

	want := -12 * math.Log(0.9)
	assert.InDelta(t, want/0.5, got["Room Temp (20°C)"], 1e-9)
	assert.InDelta(t, want/0.2, got["Refrigerated (4°C)"], 1e-9)
	assert.InDelta(t, want/0.05, got["Frozen (-20°C)"], 1e-9)
	assert.Greater(t, got["Frozen (-20°C)"], got["Refrigerated (4°C)"])
	assert.Greater(t, got["Refrigerated (4°C)"], got["Room Temp (20°C)"])

	for _, threshold := range []float64{0, 1, 1.2, -0.5, math.NaN()} {
		_, err := f.EstimateShelfLife(80, threshold)
		assert.ErrorIsf(t, err, ErrInvalidInput, "threshold %v", threshold)
	}
}

func TestPredictOptimalStorage(t *testing.T) {
	f := newTestForecaster(t)

	recs, err := f.PredictOptimalStorage(12)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "Room Temp (20°C)", recs[0].Condition)
	assert.False(t, recs[0].Suitable)
	assert.InDelta(t, 2.5285, recs[0].MaxMonths, 1e-3)
	assert.False(t, recs[1].Suitable)
	assert.True(t, recs[2].Suitable)
	assert.InDelta(t, 25.285, recs[2].MaxMonths, 1e-2)

	_, err = f.PredictOptimalStorage(-1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestShelfLifeFromSeries(t *testing.T) {
	f := newTestForecaster(t)

	room, err := f.PredictDegradation(80, 1, "Room Temp (20°C)", 24)
	require.NoError(t, err)
	sl := ShelfLifeFromSeries(room.THC, 80)
	assert.False(t, sl.Stable)
	assert.Equal(t, 3, sl.Months)
	assert.Equal(t, "3 months until 10% THC loss", sl.String())

	frozen, err := f.PredictDegradation(80, 1, "Frozen (-20°C)", 24)
	require.NoError(t, err)
	sl = ShelfLifeFromSeries(frozen.THC, 80)
	assert.True(t, sl.Stable)
	assert.Equal(t, 24, sl.Horizon)
	assert.Equal(t, "stable for 24+ months", sl.String())

	assert.True(t, ShelfLifeFromSeries(nil, 80).Stable)
}

func TestCustomConditions(t *testing.T) {
	f, err := NewDegradationForecaster([]StorageCondition{
		{Name: "Cold Room (10°C)", Rate: 0.3},
		{Name: "Deep Freeze (-80°C)", Rate: 0.01},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cold Room (10°C)", "Deep Freeze (-80°C)"}, f.Conditions())
	assert.NoError(t, f.ValidateCondition("Deep Freeze (-80°C)"))
	assert.ErrorIs(t, f.ValidateCondition("Frozen (-20°C)"), ErrUnrecognizedCondition)

	_, err = NewDegradationForecaster([]StorageCondition{{Name: "a", Rate: 0.1}, {Name: "a", Rate: 0.2}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewDegradationForecaster([]StorageCondition{{Name: "a", Rate: 0}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewDegradationForecaster([]StorageCondition{{Name: " ", Rate: 0.1}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
