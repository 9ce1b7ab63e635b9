package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/database"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

func main() {
	var (
		tableName = flag.String("table", "batches", "Table to view (batches, training_runs)")
		limit     = flag.Int("limit", 10, "Number of records to show")
	)
	flag.Parse()

	cfg := config.Load()
	logger := cfg.Logging.NewLogger()
	logger.Info("🔍 ExtractLab Database Viewer")

	db, err := database.Connect(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("❌ Failed to connect to database")
	}
	defer db.Close()

	ds := database.NewDatabaseStore(db)
	ctx := context.Background()

	switch *tableName {
	case "batches":
		err = viewBatches(ctx, ds, *limit)
	case "training_runs":
		err = viewTrainingRuns(ctx, ds, *limit)
	default:
		logger.Errorf("Unknown table: %s (available: batches, training_runs)", *tableName)
		os.Exit(1)
	}
	if err != nil {
		logger.WithError(err).Fatal("❌ Query failed")
	}
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func viewBatches(ctx context.Context, ds store.DataStore, limit int) error {
	batches, err := ds.ListBatches(ctx, limit)
	if err != nil {
		return err
	}
	t := newTable(fmt.Sprintf("🧪 Latest %d Batches", limit))
	t.AppendHeader(table.Row{"Batch", "Date", "Strain", "Total THC", "Degradation", "Efficiency", "Grade", "Status", "Anomaly"})
	for _, b := range batches {
		t.AppendRow(table.Row{
			b.BatchID, b.Date.Format("2006-01-02"), b.Strain,
			fmt.Sprintf("%.2f", b.Metrics.TotalTHC),
			fmt.Sprintf("%.2f", b.Metrics.DegradationIndex),
			fmt.Sprintf("%.1f (%s)", b.ExtractionEfficiency, b.EfficiencySource),
			b.Grade, b.Status, b.Anomaly,
		})
	}
	t.AppendFooter(table.Row{"Total", len(batches)})
	t.Render()
	return nil
}

func viewTrainingRuns(ctx context.Context, ds store.DataStore, limit int) error {
	runs, err := ds.ListTrainingRuns(ctx, limit)
	if err != nil {
		return err
	}
	t := newTable(fmt.Sprintf("🤖 Latest %d Training Runs", limit))
	t.AppendHeader(table.Row{"ID", "Model", "Trigger", "Samples", "Success", "Started", "Error"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.Model, r.Trigger, r.Samples, r.Success, r.StartedAt.Format("2006-01-02 15:04:05"), r.Error})
	}
	t.AppendFooter(table.Row{"Total", len(runs)})
	t.Render()
	return nil
}
