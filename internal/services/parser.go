package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// resultFields is the CSV column order of an instrument result
var resultFields = []string{"batch_id", "d9_thc", "d8_thc", "cbd", "cbg", "cbn", "cbc"}

// ResultParser handles parsing of HPLC instrument results
type ResultParser struct {
	now func() time.Time
}

// NewResultParser creates a new instance of ResultParser
func NewResultParser() *ResultParser {
	return &ResultParser{now: time.Now}
}

// InstrumentFromTopic extracts the instrument id from
// extractlab/instruments/{id}/results, or "" for the shared topic.
func InstrumentFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[1] == "instruments" && parts[3] == "results" {
		return parts[2]
	}
	return ""
}

// ParseResultJSON parses a JSON result payload
func (rp *ResultParser) ParseResultJSON(payload []byte, instrument string) (*models.InstrumentResult, error) {
	var result models.InstrumentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result JSON: %w", err)
	}
	return rp.finish(&result, instrument)
}

// ParseResultString parses the comma-separated fallback format
// Expected format: "batch_id,d9,d8,cbd,cbg,cbn,cbc"
func (rp *ResultParser) ParseResultString(payload string, instrument string) (*models.InstrumentResult, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(payload)))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse result string: %w", err)
	}
	if len(record) != len(resultFields) {
		return nil, fmt.Errorf("%w: expected %d values (%s), got %d",
			models.ErrInvalidInput, len(resultFields), strings.Join(resultFields, ","), len(record))
	}

	values := make([]float64, len(record)-1)
	for i, field := range record[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, resultFields[i+1], err)
		}
		values[i] = v
	}
	result := &models.InstrumentResult{
		BatchID: strings.TrimSpace(record[0]),
		D9THC:   values[0],
		D8THC:   values[1],
		CBD:     values[2],
		CBG:     values[3],
		CBN:     values[4],
		CBC:     values[5],
	}
	return rp.finish(result, instrument)
}

// Parse tries JSON first and falls back to the comma-separated format
func (rp *ResultParser) Parse(payload []byte, instrument string) (*models.InstrumentResult, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		return rp.ParseResultJSON(payload, instrument)
	}
	return rp.ParseResultString(trimmed, instrument)
}

func (rp *ResultParser) finish(result *models.InstrumentResult, instrument string) (*models.InstrumentResult, error) {
	result.BatchID = strings.TrimSpace(result.BatchID)
	if result.BatchID == "" {
		return nil, fmt.Errorf("%w: result has no batch_id", models.ErrInvalidInput)
	}
	if result.Instrument == "" {
		result.Instrument = instrument
	}
	if result.ReceivedAt.IsZero() {
		result.ReceivedAt = rp.now()
	}
	if _, err := result.Profile(); err != nil {
		return nil, err
	}
	return result, nil
}

// FormatResult formats a result for logging
func (rp *ResultParser) FormatResult(r *models.InstrumentResult) string {
	return fmt.Sprintf("Batch: %s, Instrument: %s, Δ9: %.4f%%, Δ8: %.4f%%, CBD: %.4f%%, CBG: %.4f%%, CBN: %.4f%%, CBC: %.4f%%",
		r.BatchID, r.Instrument, r.D9THC, r.D8THC, r.CBD, r.CBG, r.CBN, r.CBC)
}
