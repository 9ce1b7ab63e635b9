// Package sheets mirrors batch summaries into a Google Sheet. Sync failures
// are reported in a SyncResult and never returned as errors, so a sheet
// outage cannot block batch entry.
package sheets

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Header is the column layout of the sync sheet
var Header = []string{
	"batch_id", "date", "technician", "strain",
	"temp_c", "time_min", "thc_percent", "degradation_index",
}

// SyncResult reports the outcome of one sync call
type SyncResult struct {
	Success    bool   `json:"success"`
	Diagnostic string `json:"diagnostic,omitempty"`
	RequestID  string `json:"request_id"`
}

// valuesAPI is the slice of the Sheets values API used here
type valuesAPI interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
	Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error)
}

// Client appends and reads batch rows of one sheet
type Client struct {
	api           valuesAPI
	spreadsheetID string
	sheetName     string
	timeout       time.Duration
	logger        *logrus.Logger
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// ParseSpreadsheetID accepts a full sheet URL or a bare spreadsheet id
func ParseSpreadsheetID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: spreadsheet url is empty", models.ErrInvalidInput)
	}
	if m := spreadsheetIDPattern.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if strings.Contains(raw, "/") {
		return "", fmt.Errorf("%w: no spreadsheet id in %q", models.ErrInvalidInput, raw)
	}
	return raw, nil
}

// NewClient connects to the Sheets API with the configured service account
// credentials. Extra options are passed through to the API client.
func NewClient(ctx context.Context, cfg config.SheetsConfig, logger *logrus.Logger, opts ...option.ClientOption) (*Client, error) {
	id, err := ParseSpreadsheetID(cfg.SpreadsheetURL)
	if err != nil {
		return nil, err
	}
	if cfg.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, opts...)
	}
	opts = append(opts, option.WithScopes(gsheets.SpreadsheetsScope))

	srv, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newClient(&serviceValues{srv: srv}, id, cfg, logger), nil
}

func newClient(api valuesAPI, spreadsheetID string, cfg config.SheetsConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	name := cfg.SheetName
	if name == "" {
		name = "Sheet1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{api: api, spreadsheetID: spreadsheetID, sheetName: name, timeout: timeout, logger: logger}
}

// BatchRow converts a batch into the sheet column layout
func BatchRow(b models.BatchRecord) []any {
	return []any{
		b.BatchID,
		b.Date.Format("2006-01-02"),
		b.Technician,
		b.Strain,
		b.Process.TemperatureC,
		b.Process.TimeMin,
		roundTo(b.Metrics.TotalTHC, 2),
		roundTo(b.Metrics.DegradationIndex, 2),
	}
}

// AppendBatch appends one batch row to the sheet
func (c *Client) AppendBatch(ctx context.Context, b models.BatchRecord) SyncResult {
	res := SyncResult{RequestID: uuid.NewString()}
	log := c.logger.WithFields(logrus.Fields{"batch_id": b.BatchID, "request_id": res.RequestID})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.api.Append(ctx, c.spreadsheetID, c.sheetName+"!A1", [][]any{BatchRow(b)}); err != nil {
		res.Diagnostic = fmt.Sprintf("append to %s failed: %v", c.sheetName, err)
		log.WithError(err).Warn("❌ Sheet sync failed")
		return res
	}
	res.Success = true
	log.Debug("📄 Batch appended to sheet")
	return res
}

// ReadAll returns every data row as strings, header excluded when present
func (c *Client) ReadAll(ctx context.Context) ([][]string, SyncResult) {
	res := SyncResult{RequestID: uuid.NewString()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	values, err := c.api.Get(ctx, c.spreadsheetID, c.sheetName)
	if err != nil {
		res.Diagnostic = fmt.Sprintf("read %s failed: %v", c.sheetName, err)
		c.logger.WithError(err).WithField("request_id", res.RequestID).Warn("❌ Sheet read failed")
		return nil, res
	}

	rows := make([][]string, 0, len(values))
	for i, v := range values {
		row := make([]string, len(v))
		for j, cell := range v {
			row[j] = fmt.Sprint(cell)
		}
		if i == 0 && len(row) > 0 && strings.EqualFold(row[0], Header[0]) {
			continue
		}
		rows = append(rows, row)
	}
	res.Success = true
	return rows, res
}

// serviceValues adapts the generated Sheets client to valuesAPI
type serviceValues struct {
	srv *gsheets.Service
}

func (s *serviceValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	vr := &gsheets.ValueRange{Values: rows}
	_, err := s.srv.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (s *serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	vr, err := s.srv.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func roundTo(v float64, places int) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	return r
}
