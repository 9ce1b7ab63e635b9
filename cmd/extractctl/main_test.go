package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func executeJSON(t *testing.T, args ...string) map[string]any {
	t.Helper()
	out, err := execute(t, append(args, "--json")...)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestMetricsCommand(t *testing.T) {
	v := executeJSON(t, "metrics")
	assert.Equal(t, "Moderate", v["degradation_label"])
	assert.InDelta(t, 88.0966, v["metrics"].(map[string]any)["total_thc"], 1e-9)

	out, err := execute(t, "metrics", "--cbn", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Fresh")

	_, err = execute(t, "metrics", "--d9", "120")
	assert.Error(t, err)
}

func TestPredictAndOptimizeCommands(t *testing.T) {
	v := executeJSON(t, "predict", "--temp", "-40")
	assert.Equal(t, 85.0, v["efficiency"])
	assert.Equal(t, "heuristic", v["mode"])

	v = executeJSON(t, "optimize")
	params := v["parameters"].(map[string]any)
	assert.Equal(t, -80.0, params["temp_c"])
	assert.Equal(t, 19.0, params["time_min"])
	assert.InDelta(t, 86.95, v["predicted_efficiency"], 1e-9)
}

func TestStorageCommands(t *testing.T) {
	out, err := execute(t, "degrade", "--months", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Room Temp (20°C)")
	assert.Contains(t, out, "stable for 2+ months")

	v := executeJSON(t, "degrade", "--condition", "garage", "--months", "1")
	assert.Equal(t, false, v["forecast"].(map[string]any)["condition_recognized"])

	_, err = execute(t, "degrade", "--thc", "150")
	assert.Error(t, err)

	out, err = execute(t, "shelf-life")
	require.NoError(t, err)
	assert.Contains(t, out, "Frozen (-20°C)")

	out, err = execute(t, "storage", "--target", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "Refrigerated (4°C)")
}

func TestQualityCommands(t *testing.T) {
	v := executeJSON(t, "grade")
	assert.Equal(t, "B", v["grade"])
	assert.Equal(t, "Pass", v["pass_fail"])
	assert.Len(t, v["alerts"], 1)

	v = executeJSON(t, "compliance", "--ratio", "25", "--total-thc", "0.2")
	assert.Equal(t, true, v["compliant"])

	v = executeJSON(t, "compliance", "--ratio", "25", "--total-thc", "0.5")
	assert.Equal(t, false, v["compliant"])

	v = executeJSON(t, "coa", "--batch", "B-2025-001", "--analyst", "J. Park")
	assert.Equal(t, 88.1, v["total_thc"])
	assert.Equal(t, "J. Park", v["sample"].(map[string]any)["analyst"])

	out, err := execute(t, "coa", "--batch", "B-2025-001")
	require.NoError(t, err)
	assert.Contains(t, out, "TOTAL CANNABINOIDS")
}

func TestTrainThenPredictWithArtifacts(t *testing.T) {
	dir := t.TempDir()
	xlsx := filepath.Join(dir, "doe.xlsx")

	f := excelize.NewFile()
	rows := [][]any{
		{"Temperature (°C)", "Time (min)", "RPM", "Initial Weight (g)", "Moisture (%)", "Extraction Efficiency (%)"},
		{-80, 15, 1000, 2000, 1.8, 82.5},
		{-60, 20, 1200, 1800, 2.0, 85.1},
		{-40, 25, 1400, 1500, 2.2, 79.0},
		{-70, 18, 1100, 2200, 1.6, 84.0},
		{-50, 22, 1300, 1700, 2.4, 80.2},
		{-65, 24, 1050, 1900, 1.9, 83.3},
		{-75, 16, 1350, 2100, 2.1, 81.7},
		{-45, 19, 1150, 1600, 1.7, 82.9},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(xlsx))
	require.NoError(t, f.Close())

	artifacts := filepath.Join(dir, "artifacts")
	v := executeJSON(t, "train", "--xlsx", xlsx, "--out", artifacts)
	run := v["run"].(map[string]any)
	assert.Equal(t, true, run["success"])
	assert.Equal(t, 8.0, run["samples"])

	v = executeJSON(t, "predict", "--models-dir", artifacts)
	assert.Equal(t, "fitted", v["mode"])

	_, err := execute(t, "train")
	assert.Error(t, err)
}
