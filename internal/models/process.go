package models

import "fmt"

// ProcessFeatureCount is the arity of a process-parameter feature vector
const ProcessFeatureCount = 5

// Declared defaults for extraction runs entered without explicit settings
const (
	DefaultTemperatureC  = -60.0
	DefaultTimeMin       = 20.0
	DefaultRPM           = 1200.0
	DefaultInitialWeight = 2000.0
	DefaultMoisture      = 1.8
)

// ProcessParameters are the controllable settings of an extraction run
type ProcessParameters struct {
	TemperatureC    float64 `json:"temp_c"`           // typically negative for cryo-extraction
	TimeMin         float64 `json:"time_min"`
	RPM             float64 `json:"rpm"`
	InitialWeightG  float64 `json:"initial_weight_g"`
	MoisturePercent float64 `json:"moisture_percent"`
}

// DefaultProcessParameters returns the parameter set used by the dashboard form
func DefaultProcessParameters() ProcessParameters {
	return ProcessParameters{
		TemperatureC:    DefaultTemperatureC,
		TimeMin:         DefaultTimeMin,
		RPM:             DefaultRPM,
		InitialWeightG:  DefaultInitialWeight,
		MoisturePercent: DefaultMoisture,
	}
}

// Vector returns the features in model order: temp, time, rpm, weight, moisture.
func (p ProcessParameters) Vector() []float64 {
	return []float64{p.TemperatureC, p.TimeMin, p.RPM, p.InitialWeightG, p.MoisturePercent}
}

// ProcessParametersFromVector is the inverse of Vector.
func ProcessParametersFromVector(v []float64) (ProcessParameters, error) {
	if len(v) != ProcessFeatureCount {
		return ProcessParameters{}, fmt.Errorf("%w: expected %d process features, got %d",
			ErrInvalidInput, ProcessFeatureCount, len(v))
	}
	return ProcessParameters{
		TemperatureC:    v[0],
		TimeMin:         v[1],
		RPM:             v[2],
		InitialWeightG:  v[3],
		MoisturePercent: v[4],
	}, nil
}
