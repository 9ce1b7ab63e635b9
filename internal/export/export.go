package export

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// ExportService handles batch export and DoE import
type ExportService struct{}

// NewExportService creates a new export service instance
func NewExportService() *ExportService {
	return &ExportService{}
}

// ExportData represents data to be exported
type ExportData struct {
	Batches        []models.BatchRecord
	Alerts         []models.QualityAlert
	Stats          models.BatchStats
	ExportMetadata ExportMetadata
}

// ExportMetadata contains information about the export
type ExportMetadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	DateRange   string    `json:"date_range"`
	Laboratory  string    `json:"laboratory"`
}

var batchHeaders = []string{
	"Batch ID", "Date", "Technician", "Strain", "Material",
	"Temp (°C)", "Time (min)", "RPM", "Initial Weight (g)", "Moisture (%)", "Final Weight (g)",
	"Δ9-THC (%)", "Δ8-THC (%)", "CBD (%)", "CBG (%)", "CBN (%)", "CBC (%)",
	"Total Cannabinoids (%)", "Total THC (%)", "Degradation Index (%)", "Isomerization Ratio (%)",
	"Extraction Efficiency (%)", "Process Yield (%)", "Grade", "Status", "Anomaly",
}

func headerStyle(f *excelize.File, color string) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
}

// GenerateExcel builds the batch report workbook. The caller closes the file.
func (es *ExportService) GenerateExcel(data ExportData) (*excelize.File, error) {
	f := excelize.NewFile()

	generated := data.ExportMetadata.GeneratedAt.Format(time.RFC3339)
	if err := f.SetDocProps(&excelize.DocProperties{
		Category:       "Extraction QC",
		Created:        generated,
		Creator:        "ExtractLab",
		Description:    "Cannabinoid extraction batch history and quality report",
		LastModifiedBy: "ExtractLab Backend",
		Modified:       generated,
		Subject:        "Extraction Batch Analytics",
		Title:          "ExtractLab Batch Report",
		Version:        "1.0",
	}); err != nil {
		f.Close()
		return nil, err
	}

	steps := []func(*excelize.File, ExportData) error{
		es.createSummarySheet,
		es.createBatchSheet,
		es.createQualitySheet,
	}
	for _, step := range steps {
		if err := step(f, data); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// createSummarySheet creates the summary overview sheet
func (es *ExportService) createSummarySheet(f *excelize.File, data ExportData) error {
	sheetName := "Summary"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2E7D32"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", "ExtractLab Batch Report")
	f.MergeCell(sheetName, "A1", "D1")
	f.SetCellStyle(sheetName, "A1", "D1", titleStyle)
	f.SetRowHeight(sheetName, 1, 25)

	s := data.Stats
	rows := [][]any{
		{"Generated At:", data.ExportMetadata.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Date Range:", data.ExportMetadata.DateRange},
		{"Laboratory:", data.ExportMetadata.Laboratory},
		{},
		{"Total Batches:", s.TotalBatches},
		{"Passed:", s.PassCount},
		{"Failed:", s.FailCount},
		{"Anomalies:", s.AnomalyCount},
		{"Avg Total Cannabinoids (%):", round(s.AvgTotalCannabinoids, 2)},
		{"Avg Degradation Index (%):", round(s.AvgDegradationIndex, 2)},
		{"Avg Extraction Efficiency (%):", round(s.AvgEfficiency, 2)},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	f.SetColWidth(sheetName, "A", "A", 30)
	f.SetColWidth(sheetName, "B", "D", 18)
	return nil
}

// createBatchSheet writes one row per batch
func (es *ExportService) createBatchSheet(f *excelize.File, data ExportData) error {
	sheetName := "Batches"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, "A1", &batchHeaders); err != nil {
		return err
	}
	style, err := headerStyle(f, "4472C4")
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(batchHeaders), 1)
	f.SetCellStyle(sheetName, "A1", last, style)

	for i, b := range data.Batches {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := batchRow(b)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	f.SetColWidth(sheetName, "A", "B", 16)
	f.SetColWidth(sheetName, "C", "Z", 14)
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func batchRow(b models.BatchRecord) []any {
	return []any{
		b.BatchID, b.Date.Format("2006-01-02"), b.Technician, b.Strain, b.MaterialType,
		b.Process.TemperatureC, b.Process.TimeMin, b.Process.RPM, b.Process.InitialWeightG, b.Process.MoisturePercent, b.FinalWeightG,
		b.Profile.D9THC, b.Profile.D8THC, b.Profile.CBD, b.Profile.CBG, b.Profile.CBN, b.Profile.CBC,
		round(b.Metrics.TotalCannabinoids, 4), round(b.Metrics.TotalTHC, 4),
		round(b.Metrics.DegradationIndex, 2), round(b.Metrics.IsomerizationRatio, 2),
		round(b.ExtractionEfficiency, 2), round(b.ProcessYield, 2),
		string(b.Grade), string(b.Status), yesNo(b.Anomaly),
	}
}

// createQualitySheet lists quality alerts
func (es *ExportService) createQualitySheet(f *excelize.File, data ExportData) error {
	sheetName := "Quality"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	headers := []string{"Batch ID", "Severity", "Metric", "Value", "Raised At", "Message"}
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return err
	}
	style, err := headerStyle(f, "C55A11")
	if err != nil {
		return err
	}
	f.SetCellStyle(sheetName, "A1", "F1", style)

	for i, a := range data.Alerts {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{a.BatchID, string(a.Severity), a.Metric, round(a.Value, 2), a.RaisedAt.Format("2006-01-02 15:04"), a.Message}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}

	f.SetColWidth(sheetName, "A", "D", 15)
	f.SetColWidth(sheetName, "E", "E", 18)
	f.SetColWidth(sheetName, "F", "F", 50)
	return nil
}

// GenerateCSV creates CSV records for batches, header first
func (es *ExportService) GenerateCSV(batches []models.BatchRecord) ([][]string, error) {
	records := [][]string{append([]string(nil), batchHeaders...)}
	for _, b := range batches {
		row := batchRow(b)
		record := make([]string, len(row))
		for i, v := range row {
			switch x := v.(type) {
			case float64:
				record[i] = strconv.FormatFloat(x, 'f', -1, 64)
			case string:
				record[i] = x
			default:
				record[i] = fmt.Sprint(x)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// WriteCSV writes CSV data to a writer
func (es *ExportService) WriteCSV(w *csv.Writer, records [][]string) error {
	return w.WriteAll(records)
}

func round(v float64, places int) float64 {
	s := strconv.FormatFloat(v, 'f', places, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
