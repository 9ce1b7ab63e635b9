package models

import "time"

// Grade is the quality letter assigned to a batch
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeF Grade = "F"
)

// PassFail pairs with a Grade; only F fails
type PassFail string

const (
	Pass PassFail = "Pass"
	Fail PassFail = "Fail"
)

// BatchStatus maps the verdict onto the persisted status column
func (p PassFail) BatchStatus() BatchStatus {
	if p == Pass {
		return BatchStatusPass
	}
	return BatchStatusFail
}

// Verdict is the outcome of anomaly detection
type Verdict string

const (
	VerdictNormal  Verdict = "Normal"
	VerdictAnomaly Verdict = "Anomaly"
)

// IsAnomaly reports whether the verdict flags an anomaly
func (v Verdict) IsAnomaly() bool {
	return v == VerdictAnomaly
}

// ComplianceCheck is one named sub-check of a compliance prediction
type ComplianceCheck struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
	Operator string  `json:"operator"` // ">" or "<"
}

// ComplianceResult is the per-category compliance verdict
type ComplianceResult struct {
	Category  string            `json:"category"`
	Compliant bool              `json:"compliant"`
	Checks    []ComplianceCheck `json:"checks,omitempty"`
	Note      string            `json:"note,omitempty"`
}

// AlertSeverity ranks quality alerts
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// QualityAlert is raised from a stored batch by the QC view
type QualityAlert struct {
	BatchID  string        `json:"batch_id"`
	Severity AlertSeverity `json:"severity"`
	Metric   string        `json:"metric"`
	Value    float64       `json:"value"`
	Message  string        `json:"message"`
	RaisedAt time.Time     `json:"raised_at"`
}

// Alert thresholds used by the QC view
const (
	AlertDegradationCritical  = 5.0
	AlertIsomerizationWarning = 3.0
)

// AlertsForBatch derives QC alerts from a single batch
func AlertsForBatch(b BatchRecord, now time.Time) []QualityAlert {
	var alerts []QualityAlert
	if b.Metrics.DegradationIndex > AlertDegradationCritical {
		alerts = append(alerts, QualityAlert{
			BatchID:  b.BatchID,
			Severity: SeverityCritical,
			Metric:   "degradation_index",
			Value:    b.Metrics.DegradationIndex,
			Message:  "High degradation detected",
			RaisedAt: now,
		})
	}
	if b.Metrics.IsomerizationRatio > AlertIsomerizationWarning {
		alerts = append(alerts, QualityAlert{
			BatchID:  b.BatchID,
			Severity: SeverityWarning,
			Metric:   "isomerization_ratio",
			Value:    b.Metrics.IsomerizationRatio,
			Message:  "Isomerization elevated",
			RaisedAt: now,
		})
	}
	if b.Anomaly {
		alerts = append(alerts, QualityAlert{
			BatchID:  b.BatchID,
			Severity: SeverityWarning,
			Metric:   "anomaly_score",
			Value:    b.AnomalyScore,
			Message:  "Batch flagged by anomaly detector",
			RaisedAt: now,
		})
	}
	return alerts
}

// ModelStatus reports the state of one predictor
type ModelStatus struct {
	Name      string     `json:"name"`
	Trained   bool       `json:"trained"`
	Mode      string     `json:"mode"` // "heuristic", "rules", "fitted"
	Samples   int        `json:"samples"`
	Version   string     `json:"version,omitempty"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
	RSquared  *float64   `json:"r_squared,omitempty"`
}

// TrainingRun records one retrain attempt of a predictor
type TrainingRun struct {
	ID        int       `json:"id"`
	Model     string    `json:"model"`   // "extraction_optimizer" or "anomaly_detector"
	Trigger   string    `json:"trigger"` // "scheduled", "manual", "upload"
	Samples   int       `json:"samples"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Version   string    `json:"version,omitempty"`
	RSquared  *float64  `json:"r_squared,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`
}
