package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

type fakeValues struct {
	appended [][]any
	values   [][]any
	err      error
}

func (f *fakeValues) Append(_ context.Context, _, _ string, rows [][]any) error {
	if f.err != nil {
		return f.err
	}
	f.appended = append(f.appended, rows...)
	return nil
}

func (f *fakeValues) Get(_ context.Context, _, _ string) ([][]any, error) {
	return f.values, f.err
}

func testBatch() models.BatchRecord {
	b := models.BatchRecord{
		BatchID:    "B-2025-001",
		Date:       time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Technician: "Dr. Sarah Chen",
		Strain:     "Blue Dream",
		Process:    models.DefaultProcessParameters(),
		Profile:    models.CannabinoidProfile{D9THC: 84.7281, D8THC: 3.3685, CBD: 0.7541, CBG: 1.5392, CBN: 1.8792, CBC: 0.1738},
	}
	b.Recalculate()
	return b
}

func TestParseSpreadsheetID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://docs.google.com/spreadsheets/d/1AbC_d-9/edit#gid=0", "1AbC_d-9", false},
		{"1AbCd", "1AbCd", false},
		{"  ", "", true},
		{"https://example.com/not/a/sheet", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSpreadsheetID(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, models.ErrInvalidInput, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestBatchRow(t *testing.T) {
	row := BatchRow(testBatch())
	require.Len(t, row, len(Header))
	assert.Equal(t, "2025-03-14", row[1])
	assert.Equal(t, -60.0, row[4])
	assert.Equal(t, 88.1, row[6])
	assert.Equal(t, 2.13, row[7])
}

func TestAppendBatch(t *testing.T) {
	fake := &fakeValues{}
	logger, _ := test.NewNullLogger()
	c := newClient(fake, "sheet-id", config.SheetsConfig{SheetName: "Batches"}, logger)

	res := c.AppendBatch(context.Background(), testBatch())
	assert.True(t, res.Success)
	assert.Empty(t, res.Diagnostic)
	assert.NotEmpty(t, res.RequestID)
	require.Len(t, fake.appended, 1)
	assert.Equal(t, "B-2025-001", fake.appended[0][0])
}

func TestAppendBatchFailureIsReported(t *testing.T) {
	fake := &fakeValues{err: errors.New("quota exceeded")}
	logger, hook := test.NewNullLogger()
	c := newClient(fake, "sheet-id", config.SheetsConfig{}, logger)

	res := c.AppendBatch(context.Background(), testBatch())
	assert.False(t, res.Success)
	assert.Contains(t, res.Diagnostic, "quota exceeded")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "B-2025-001", hook.LastEntry().Data["batch_id"])
}

func TestReadAllSkipsHeader(t *testing.T) {
	fake := &fakeValues{values: [][]any{
		{"batch_id", "date"},
		{"B-1", "2025-03-14", "A", "OG", -60, 20, 88.1, 2.13},
	}}
	logger, _ := test.NewNullLogger()
	c := newClient(fake, "sheet-id", config.SheetsConfig{}, logger)

	rows, res := c.ReadAll(context.Background())
	assert.True(t, res.Success)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"B-1", "2025-03-14", "A", "OG", "-60", "20", "88.1", "2.13"}, rows[0])

	fake.err = errors.New("boom")
	rows, res = c.ReadAll(context.Background())
	assert.False(t, res.Success)
	assert.Nil(t, rows)
}

func TestNewClientAgainstFakeAPI(t *testing.T) {
	var appendBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, ":append") {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &appendBody)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"values":[["batch_id"],["B-7","2025-01-01"]]}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	c, err := NewClient(context.Background(),
		config.SheetsConfig{SpreadsheetURL: "https://docs.google.com/spreadsheets/d/abc123/edit", SheetName: "Batches"},
		logger,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	res := c.AppendBatch(context.Background(), testBatch())
	require.True(t, res.Success, res.Diagnostic)
	assert.Contains(t, appendBody, "values")

	rows, res := c.ReadAll(context.Background())
	require.True(t, res.Success, res.Diagnostic)
	assert.Equal(t, [][]string{{"B-7", "2025-01-01"}}, rows)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), config.SheetsConfig{}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
