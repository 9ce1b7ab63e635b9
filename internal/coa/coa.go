// Package coa assembles Certificate of Analysis table data for a batch.
// Rendering to PDF or print is left to the dashboard.
package coa

import (
	"math"
	"strings"
	"time"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Unit conversions for the results table. mg/mL assumes a density of 0.9 g/mL.
const (
	MgPerGFactor  = 10.0
	MgPerMLFactor = 9.0
)

// Defaults applied when a request leaves a field empty
const (
	DefaultClient         = "Treehouse"
	DefaultSampleType     = "Distillate"
	DefaultSampleWeightMg = 143.0
	DefaultAnalyst        = "Nigel Reeves"
)

// DefaultProfile is the reference distillate profile used when no results
// are supplied.
func DefaultProfile() models.CannabinoidProfile {
	return models.CannabinoidProfile{
		CBC:   0.1738,
		CBD:   0.7541,
		D8THC: 3.3685,
		D9THC: 84.7281,
		CBG:   1.5392,
		CBN:   1.8792,
	}
}

// InstrumentConditions describes the GC-FID method
var InstrumentConditions = []string{
	"Instrument: Varian 3900 GC-FID",
	"Column: RTX-5MS 30m x 0.25mm x 0.25μm",
	"Carrier: Helium at 1 mL/min",
	"Detector: FID @ 250°C",
	"Injector: 250°C",
	"Injection: 1 μL autosampler",
	"Split Ratio: 1:50",
}

// Notes printed under the results
var Notes = []string{
	"Δ9-THC is the combination of THC and THCA",
	"CBD is the combination of CBD and CBDA",
	"% is the percentage weight of the component found in the sample",
	"Components referenced against certified calibration standards",
	"Date of last calibration: 16/3/2023",
	"This test does not include: pesticides, heavy metals, mycotoxins, molds, residual solvents",
}

// Request carries sample information for a certificate
type Request struct {
	BatchID        string                     `json:"batch_id"`
	Client         string                     `json:"client,omitempty"`
	SampleType     string                     `json:"sample_type,omitempty"`
	SampleWeightMg float64                    `json:"sample_weight_mg,omitempty"`
	AnalysisDate   string                     `json:"analysis_date,omitempty"` // YYYY-MM-DD
	Analyst        string                     `json:"analyst,omitempty"`
	Profile        *models.CannabinoidProfile `json:"profile,omitempty"`
}

// SampleInfo is the header block of a certificate
type SampleInfo struct {
	Client         string  `json:"client"`
	BatchID        string  `json:"batch_id"`
	SampleType     string  `json:"sample_type"`
	SampleWeightMg float64 `json:"sample_weight_mg"`
	AnalysisDate   string  `json:"analysis_date"`
	Analyst        string  `json:"analyst"`
}

// Row is one line of the results table
type Row struct {
	Component string  `json:"component"`
	PercentWW float64 `json:"percent_ww"`
	MgPerG    float64 `json:"mg_per_g"`
	MgPerML   float64 `json:"mg_per_ml"`
}

// Certificate is the full table data of a CoA
type Certificate struct {
	Sample           SampleInfo `json:"sample"`
	Instrument       []string   `json:"instrument"`
	Results          []Row      `json:"results"`
	Total            Row        `json:"total"`
	TotalTHC         float64    `json:"total_thc"`         // 2 dp
	DegradationIndex float64    `json:"degradation_index"` // 2 dp
	Notes            []string   `json:"notes"`
	IssuedAt         time.Time  `json:"issued_at"`
}

// Build assembles a certificate. now dates the certificate and, when the
// request has none, the analysis.
func Build(req Request, now time.Time) (*Certificate, error) {
	profile := DefaultProfile()
	if req.Profile != nil {
		profile = *req.Profile
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	info := SampleInfo{
		Client:         orDefault(req.Client, DefaultClient),
		BatchID:        strings.TrimSpace(req.BatchID),
		SampleType:     orDefault(req.SampleType, DefaultSampleType),
		SampleWeightMg: req.SampleWeightMg,
		AnalysisDate:   orDefault(req.AnalysisDate, now.Format("2006-01-02")),
		Analyst:        orDefault(req.Analyst, DefaultAnalyst),
	}
	if info.SampleWeightMg <= 0 {
		info.SampleWeightMg = DefaultSampleWeightMg
	}

	// certificate order
	components := []struct {
		name  string
		value float64
	}{
		{"CBC", profile.CBC},
		{"CBD", profile.CBD},
		{"Δ8-THC", profile.D8THC},
		{"Δ9-THC", profile.D9THC},
		{"CBG", profile.CBG},
		{"CBN", profile.CBN},
	}

	cert := &Certificate{
		Sample:     info,
		Instrument: append([]string(nil), InstrumentConditions...),
		Notes:      append([]string(nil), Notes...),
		IssuedAt:   now,
	}
	var total float64
	for _, c := range components {
		total += c.value
		cert.Results = append(cert.Results, row(c.name, c.value))
	}
	cert.Total = row("TOTAL CANNABINOIDS", total)

	m := profile.Metrics()
	cert.TotalTHC = round(m.TotalTHC, 2)
	cert.DegradationIndex = round(m.DegradationIndex, 2)
	return cert, nil
}

func row(name string, value float64) Row {
	return Row{
		Component: name,
		PercentWW: round(value, 4),
		MgPerG:    round(value*MgPerGFactor, 4),
		MgPerML:   round(value*MgPerMLFactor, 4),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}
