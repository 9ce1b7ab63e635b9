package models

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus is the persisted pass/fail outcome of a batch
type BatchStatus string

const (
	BatchStatusPass    BatchStatus = "Pass"
	BatchStatusFail    BatchStatus = "Fail"
	BatchStatusPending BatchStatus = "Pending" // no analytical profile yet
)

// EfficiencySource tells where a batch's efficiency figure came from
type EfficiencySource string

const (
	EfficiencyMeasured  EfficiencySource = "measured"  // from initial/final potency
	EfficiencyPredicted EfficiencySource = "predicted" // from the optimizer
)

// BatchRecord is one extraction batch as entered on the dashboard and stored
type BatchRecord struct {
	BatchID      string    `json:"batch_id"`
	Date         time.Time `json:"date"`
	Technician   string    `json:"technician"`
	Strain       string    `json:"strain"`
	MaterialType string    `json:"material_type"` // e.g. "flower", "trim"

	Process        ProcessParameters `json:"process"`
	FinalWeightG   float64           `json:"final_weight_g"`
	InitialPotency float64           `json:"initial_potency"` // % THC of input material, 0 when unknown

	Profile CannabinoidProfile `json:"profile"`
	Metrics DerivedMetrics     `json:"metrics"`

	ExtractionEfficiency float64          `json:"extraction_efficiency"`
	EfficiencySource     EfficiencySource `json:"efficiency_source"`
	ProcessYield         float64          `json:"process_yield"`

	Grade        Grade       `json:"grade"`
	Status       BatchStatus `json:"status"`
	Anomaly      bool        `json:"anomaly"`
	AnomalyScore float64     `json:"anomaly_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the entry-form fields of a batch
func (b *BatchRecord) Validate() error {
	if strings.TrimSpace(b.BatchID) == "" {
		return fmt.Errorf("%w: batch_id is required", ErrInvalidInput)
	}
	if b.Process.InitialWeightG < 0 {
		return fmt.Errorf("%w: initial weight must be non-negative", ErrInvalidInput)
	}
	if b.FinalWeightG < 0 {
		return fmt.Errorf("%w: final weight must be non-negative", ErrInvalidInput)
	}
	if b.Process.MoisturePercent < 0 || b.Process.MoisturePercent > 100 {
		return fmt.Errorf("%w: moisture must be within [0, 100]", ErrInvalidInput)
	}
	if b.InitialPotency < 0 || b.InitialPotency > 100 {
		return fmt.Errorf("%w: initial potency must be within [0, 100]", ErrInvalidInput)
	}
	return b.Profile.Validate()
}

// NewBatchRecord returns a batch carrying the declared process defaults.
// Decoding an entry form into it keeps the defaults only for absent fields.
func NewBatchRecord(batchID string) *BatchRecord {
	return &BatchRecord{BatchID: batchID, Process: DefaultProcessParameters()}
}

// StampDate sets the entry date to now when none was given
func (b *BatchRecord) StampDate() {
	if b.Date.IsZero() {
		b.Date = time.Now()
	}
}

// HasProfile reports whether any analytical reading has been attached
func (b *BatchRecord) HasProfile() bool {
	return b.Profile != CannabinoidProfile{}
}

// Recalculate refreshes metrics and yield from the current profile and weights.
// Efficiency is recomputed only when it can be measured.
func (b *BatchRecord) Recalculate() {
	b.Metrics = ComputeMetrics(b.Profile)
	b.ProcessYield = ProcessYield(b.Process.InitialWeightG, b.FinalWeightG)
	if b.InitialPotency > 0 && b.Process.InitialWeightG > 0 {
		massYield := b.FinalWeightG / b.Process.InitialWeightG
		b.ExtractionEfficiency = ExtractionEfficiency(b.InitialPotency, b.Metrics.TotalTHC, massYield)
		b.EfficiencySource = EfficiencyMeasured
	}
}

// TotalCBD is kept as a separate column for the legacy export layout
func (b *BatchRecord) TotalCBD() float64 {
	return b.Profile.CBD
}

// DegradationLabel returns the dashboard label for the batch
func (b *BatchRecord) DegradationLabel() string {
	return DegradationLabel(b.Metrics.DegradationIndex)
}

// InstrumentResult is the raw analytical result posted by an HPLC instrument
type InstrumentResult struct {
	BatchID    string    `json:"batch_id"`
	Instrument string    `json:"instrument,omitempty"`
	D9THC      float64   `json:"d9_thc"`
	D8THC      float64   `json:"d8_thc"`
	CBD        float64   `json:"cbd"`
	CBG        float64   `json:"cbg"`
	CBN        float64   `json:"cbn"`
	CBC        float64   `json:"cbc"`
	ReceivedAt time.Time `json:"received_at"`
}

// Profile converts the result into a validated CannabinoidProfile
func (r InstrumentResult) Profile() (CannabinoidProfile, error) {
	return NewCannabinoidProfile(r.D9THC, r.D8THC, r.CBD, r.CBG, r.CBN, r.CBC)
}

// BatchStats summarizes stored batches for the dashboard header
type BatchStats struct {
	TotalBatches         int     `json:"total_batches"`
	PassCount            int     `json:"pass_count"`
	FailCount            int     `json:"fail_count"`
	AnomalyCount         int     `json:"anomaly_count"`
	AvgTotalCannabinoids float64 `json:"avg_total_cannabinoids"`
	AvgDegradationIndex  float64 `json:"avg_degradation_index"`
	AvgEfficiency        float64 `json:"avg_efficiency"`
}

// SummarizeBatches computes BatchStats over a set of records
func SummarizeBatches(batches []BatchRecord) BatchStats {
	stats := BatchStats{TotalBatches: len(batches)}
	if len(batches) == 0 {
		return stats
	}
	var total, degr, eff float64
	effCount := 0
	for _, b := range batches {
		switch b.Status {
		case BatchStatusPass:
			stats.PassCount++
		case BatchStatusFail:
			stats.FailCount++
		}
		if b.Anomaly {
			stats.AnomalyCount++
		}
		total += b.Metrics.TotalCannabinoids
		degr += b.Metrics.DegradationIndex
		if b.ExtractionEfficiency > 0 {
			eff += b.ExtractionEfficiency
			effCount++
		}
	}
	n := float64(len(batches))
	stats.AvgTotalCannabinoids = total / n
	stats.AvgDegradationIndex = degr / n
	if effCount > 0 {
		stats.AvgEfficiency = eff / float64(effCount)
	}
	return stats
}
