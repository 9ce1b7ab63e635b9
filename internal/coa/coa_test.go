package coa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

func TestBuildDefaults(t *testing.T) {
	now := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	cert, err := Build(Request{BatchID: " B-2025-001 "}, now)
	require.NoError(t, err)

	assert.Equal(t, SampleInfo{
		Client:         "Treehouse",
		BatchID:        "B-2025-001",
		SampleType:     "Distillate",
		SampleWeightMg: 143,
		AnalysisDate:   "2025-03-20",
		Analyst:        "Nigel Reeves",
	}, cert.Sample)

	names := make([]string, len(cert.Results))
	for i, r := range cert.Results {
		names[i] = r.Component
	}
	assert.Equal(t, []string{"CBC", "CBD", "Δ8-THC", "Δ9-THC", "CBG", "CBN"}, names)

	d9 := cert.Results[3]
	assert.Equal(t, 84.7281, d9.PercentWW)
	assert.Equal(t, 847.281, d9.MgPerG)
	assert.Equal(t, 762.5529, d9.MgPerML)

	assert.Equal(t, "TOTAL CANNABINOIDS", cert.Total.Component)
	assert.Equal(t, 92.4429, cert.Total.PercentWW)
	assert.Equal(t, 924.429, cert.Total.MgPerG)
	assert.Equal(t, 88.10, cert.TotalTHC)
	assert.Equal(t, 2.13, cert.DegradationIndex)

	assert.Len(t, cert.Instrument, 7)
	assert.Len(t, cert.Notes, 6)
}

func TestBuildWithProfile(t *testing.T) {
	p := models.CannabinoidProfile{D9THC: 70.12346, CBN: 7.5}
	cert, err := Build(Request{BatchID: "B-9", Analyst: "J. Park", AnalysisDate: "2025-01-02", Profile: &p}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "J. Park", cert.Sample.Analyst)
	assert.Equal(t, "2025-01-02", cert.Sample.AnalysisDate)
	assert.Equal(t, 70.1235, cert.Results[3].PercentWW)
	assert.Zero(t, cert.Results[0].PercentWW)
	assert.InDelta(t, 10.70, cert.DegradationIndex, 1e-9)
}

func TestBuildRejectsInvalidProfile(t *testing.T) {
	p := models.CannabinoidProfile{D9THC: 120}
	_, err := Build(Request{Profile: &p}, time.Now())
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
