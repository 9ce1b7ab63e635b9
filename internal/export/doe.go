package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// doeColumns maps each process feature, in vector order, to accepted header
// spellings. Headers are compared lower-cased with units stripped.
var doeColumns = [][]string{
	{"temp", "temp_c", "temperature", "extraction_temp_c"},
	{"time", "time_min", "extraction_time_min"},
	{"rpm", "speed"},
	{"weight", "initial_weight", "initial_weight_g"},
	{"moisture", "moisture_percent", "moisture_content"},
}

var doeTarget = []string{"efficiency", "extraction_efficiency", "yield_efficiency"}

// TrainingSet is optimizer training data read from a DoE workbook
type TrainingSet struct {
	Sheet   string      `json:"sheet"`
	X       [][]float64 `json:"x"`
	Y       []float64   `json:"y"`
	Skipped int         `json:"skipped"` // blank rows
}

// ImportDoE reads the first sheet of a DoE workbook whose header row names
// the five process columns and an efficiency column.
func (es *ExportService) ImportDoE(r io.Reader) (*TrainingSet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", models.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	set, err := ParseDoERows(rows)
	if err != nil {
		return nil, err
	}
	set.Sheet = sheets[0]
	return set, nil
}

// ParseDoERows converts a header row plus data rows into training vectors
func ParseDoERows(rows [][]string) (*TrainingSet, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: DoE sheet needs a header and at least one data row", models.ErrInvalidInput)
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[normalizeHeader(h)] = i
	}
	cols := make([]int, len(doeColumns))
	for k, aliases := range doeColumns {
		col, ok := findColumn(index, aliases)
		if !ok {
			return nil, fmt.Errorf("%w: DoE sheet has no %s column", models.ErrInvalidInput, aliases[0])
		}
		cols[k] = col
	}
	target, ok := findColumn(index, doeTarget)
	if !ok {
		return nil, fmt.Errorf("%w: DoE sheet has no efficiency column", models.ErrInvalidInput)
	}

	set := &TrainingSet{}
	for n, row := range rows[1:] {
		if blankRow(row) {
			set.Skipped++
			continue
		}
		line := n + 2
		x := make([]float64, len(cols))
		for k, col := range cols {
			v, err := cellFloat(row, col)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d %s: %v", models.ErrInvalidInput, line, doeColumns[k][0], err)
			}
			x[k] = v
		}
		y, err := cellFloat(row, target)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d efficiency: %v", models.ErrInvalidInput, line, err)
		}
		set.X = append(set.X, x)
		set.Y = append(set.Y, y)
	}
	if len(set.X) == 0 {
		return nil, fmt.Errorf("%w: DoE sheet has no data rows", models.ErrInvalidInput)
	}
	return set, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.IndexAny(h, "(["); i >= 0 {
		h = strings.TrimSpace(h[:i])
	}
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func findColumn(index map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := index[a]; ok {
			return i, true
		}
	}
	return 0, false
}

func cellFloat(row []string, col int) (float64, error) {
	if col >= len(row) || strings.TrimSpace(row[col]) == "" {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(row[col]), "%"), 64)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
