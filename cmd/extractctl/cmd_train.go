package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Capstone-E1/extractlab_backend/internal/blob"
	"github.com/Capstone-E1/extractlab_backend/internal/export"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

func newTrainCmd(opts *globalOptions) *cobra.Command {
	var xlsxPath, outDir string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the efficiency model from a DoE workbook and save the artifact",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(xlsxPath)
			if err != nil {
				return err
			}
			defer f.Close()
			set, err := export.NewExportService().ImportDoE(f)
			if err != nil {
				return err
			}

			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			fs, err := blob.NewFilesystem(outDir)
			if err != nil {
				return err
			}
			svc := ml.NewService(m, store.NewStore(10), fs, ml.ServiceConfig{AutoSave: true}, opts.logger(cmd))
			run := svc.TrainOptimizer(context.Background(), set.X, set.Y, "upload")
			if !run.Success {
				return fmt.Errorf("training failed: %s", run.Error)
			}

			out := map[string]any{"run": run, "sheet": set.Sheet, "skipped": set.Skipped, "artifact": ml.OptimizerArtifactKey}
			return opts.render(cmd.OutOrStdout(), out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Sheet", "Samples", "Skipped", "R²", "Version", "Artifact"})
				r2 := "-"
				if run.RSquared != nil {
					r2 = fmtFloat(*run.RSquared, 4)
				}
				t.AppendRow(table.Row{set.Sheet, run.Samples, set.Skipped, r2, run.Version, ml.OptimizerArtifactKey})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&xlsxPath, "xlsx", "", "DoE workbook (.xlsx) (required)")
	f.StringVar(&outDir, "out", "./artifacts", "Directory to save model artifacts")
	_ = cmd.MarkFlagRequired("xlsx")
	return cmd
}
