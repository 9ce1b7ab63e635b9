package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Capstone-E1/extractlab_backend/internal/ml"
)

// LoadModelsConfig returns the built-in model tables overlaid with the YAML
// file at path. An empty path returns the defaults.
//
// Example:
//
//	storage_conditions:
//	  - name: "Room Temp (20°C)"
//	    rate: 0.5
//	anomaly_rules:
//	  min_efficiency: 72
func LoadModelsConfig(path string) (ml.ModelsConfig, error) {
	cfg := ml.DefaultModelsConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read model config: %w", err)
	}
	return ParseModelsConfig(data)
}

// ParseModelsConfig overlays YAML onto the defaults. Unknown keys are errors.
func ParseModelsConfig(data []byte) (ml.ModelsConfig, error) {
	cfg := ml.DefaultModelsConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("parse model config: %w", err)
	}
	return cfg, nil
}
