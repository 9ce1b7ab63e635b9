// Package telemetry exposes Prometheus collectors for batch analysis and
// model training.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "extractlab"

// Metrics holds the collectors registered on one registry
type Metrics struct {
	registry *prometheus.Registry

	BatchesAnalyzed   *prometheus.CounterVec
	AnomaliesDetected *prometheus.CounterVec
	Predictions       *prometheus.CounterVec
	RetrainRuns       *prometheus.CounterVec
	SheetSyncs        *prometheus.CounterVec
	InstrumentResults *prometheus.CounterVec
	DegradationIndex  prometheus.Histogram
	HTTPDuration      *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BatchesAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_analyzed_total",
			Help:      "Batches analyzed, by grade.",
		}, []string{"grade"}),
		AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomaly verdicts, by detector mode.",
		}, []string{"mode"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served, by model and mode.",
		}, []string{"model", "mode"}),
		RetrainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrain_runs_total",
			Help:      "Model retrain attempts, by model and result.",
		}, []string{"model", "result"}),
		SheetSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheet_syncs_total",
			Help:      "Spreadsheet sync attempts, by result.",
		}, []string{"result"}),
		InstrumentResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instrument_results_total",
			Help:      "Instrument results received over MQTT, by result.",
		}, []string{"result"}),
		DegradationIndex: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_degradation_index",
			Help:      "Degradation index of analyzed batches (%).",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 20},
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BatchesAnalyzed,
		m.AnomaliesDetected,
		m.Predictions,
		m.RetrainRuns,
		m.SheetSyncs,
		m.InstrumentResults,
		m.DegradationIndex,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePrediction counts one prediction
func (m *Metrics) ObservePrediction(model, mode string) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(model, mode).Inc()
}

// ObserveRetrain counts one retrain attempt
func (m *Metrics) ObserveRetrain(model string, success bool) {
	if m == nil {
		return
	}
	m.RetrainRuns.WithLabelValues(model, result(success)).Inc()
}

// ObserveSheetSync counts one spreadsheet sync attempt
func (m *Metrics) ObserveSheetSync(success bool) {
	if m == nil {
		return
	}
	m.SheetSyncs.WithLabelValues(result(success)).Inc()
}

// ObserveInstrumentResult counts one MQTT instrument result
func (m *Metrics) ObserveInstrumentResult(success bool) {
	if m == nil {
		return
	}
	m.InstrumentResults.WithLabelValues(result(success)).Inc()
}

// ObserveBatch records an analyzed batch
func (m *Metrics) ObserveBatch(grade string, degradation float64, anomaly bool, mode string) {
	if m == nil {
		return
	}
	m.BatchesAnalyzed.WithLabelValues(grade).Inc()
	m.DegradationIndex.Observe(degradation)
	if anomaly {
		m.AnomaliesDetected.WithLabelValues(mode).Inc()
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
