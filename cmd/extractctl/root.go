package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/blob"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

type globalOptions struct {
	json         bool
	modelsConfig string
	modelsDir    string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "extractctl",
		Short: "Cannabinoid extraction analytics from the command line",
		Long: "extractctl computes potency metrics, predicts extraction efficiency and\n" +
			"degradation, grades batches and trains the efficiency model from DoE data.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		Version: version,
	}

	f := root.PersistentFlags()
	f.BoolVar(&opts.json, "json", false, "Print JSON instead of tables")
	f.StringVar(&opts.modelsConfig, "models-config", "", "YAML model config overriding built-in tables")
	f.StringVar(&opts.modelsDir, "models-dir", "", "Directory of saved model artifacts to load")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log model activity to stderr")

	root.AddCommand(
		newMetricsCmd(opts),
		newPredictCmd(opts),
		newOptimizeCmd(opts),
		newDegradeCmd(opts),
		newShelfLifeCmd(opts),
		newStorageCmd(opts),
		newGradeCmd(opts),
		newComplianceCmd(opts),
		newCoACmd(opts),
		newTrainCmd(opts),
	)
	return root
}

func (o *globalOptions) logger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// loadModels builds the model bundle, restoring artifacts from --models-dir
func (o *globalOptions) loadModels(cmd *cobra.Command) (*ml.Models, error) {
	logger := o.logger(cmd)
	cfg, err := config.LoadModelsConfig(o.modelsConfig)
	if err != nil {
		return nil, err
	}
	m, err := ml.NewModels(cfg, logger)
	if err != nil {
		return nil, err
	}
	if o.modelsDir == "" {
		return m, nil
	}
	fs, err := blob.NewFilesystem(o.modelsDir)
	if err != nil {
		return nil, err
	}
	svc := ml.NewService(m, store.NewStore(10), fs, ml.ServiceConfig{}, logger)
	if _, err := svc.LoadModels(context.Background()); err != nil {
		return nil, fmt.Errorf("load models from %s: %w", o.modelsDir, err)
	}
	return m, nil
}

// render prints v as indented JSON with --json, otherwise the table built by fill
func (o *globalOptions) render(out io.Writer, v any, fill func(t table.Writer)) error {
	if o.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	fill(t)
	_, err := fmt.Fprintln(out, t.Render())
	return err
}

func fmtFloat(v float64, places int) string {
	return fmt.Sprintf("%.*f", places, v)
}
