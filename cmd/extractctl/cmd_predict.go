package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Capstone-E1/extractlab_backend/internal/coa"
	"github.com/Capstone-E1/extractlab_backend/internal/ml"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// bindProfile registers cannabinoid percentage flags, defaulting to the
// reference distillate
func bindProfile(f *pflag.FlagSet, p *models.CannabinoidProfile) {
	d := coa.DefaultProfile()
	f.Float64Var(&p.D9THC, "d9", d.D9THC, "Δ9-THC (% w/w)")
	f.Float64Var(&p.D8THC, "d8", d.D8THC, "Δ8-THC (% w/w)")
	f.Float64Var(&p.CBD, "cbd", d.CBD, "CBD (% w/w)")
	f.Float64Var(&p.CBG, "cbg", d.CBG, "CBG (% w/w)")
	f.Float64Var(&p.CBN, "cbn", d.CBN, "CBN (% w/w)")
	f.Float64Var(&p.CBC, "cbc", d.CBC, "CBC (% w/w)")
}

func newMetricsCmd(opts *globalOptions) *cobra.Command {
	var p models.CannabinoidProfile
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute derived potency metrics for a cannabinoid profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := p.Validate(); err != nil {
				return err
			}
			m := p.Metrics()
			label := models.DegradationLabel(m.DegradationIndex)
			ratio := models.CBDTHCRatio(p.CBD, m.TotalTHC)
			out := map[string]any{"metrics": m, "degradation_label": label, "cbd_thc_ratio": ratio}
			return opts.render(cmd.OutOrStdout(), out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Metric", "Value"})
				t.AppendRows([]table.Row{
					{"Total cannabinoids (%)", fmtFloat(m.TotalCannabinoids, 4)},
					{"Total THC (%)", fmtFloat(m.TotalTHC, 4)},
					{"Degradation index (%)", fmtFloat(m.DegradationIndex, 2) + " " + label},
					{"Isomerization ratio (%)", fmtFloat(m.IsomerizationRatio, 2)},
					{"CBD:THC ratio", fmtFloat(ratio, 4)},
				})
			})
		},
	}
	bindProfile(cmd.Flags(), &p)
	return cmd
}

func newPredictCmd(opts *globalOptions) *cobra.Command {
	p := models.DefaultProcessParameters()
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict extraction efficiency for process parameters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			eff := m.Optimizer.Predict(p)
			mode := m.Optimizer.Status().Mode
			return opts.render(cmd.OutOrStdout(), map[string]any{"process": p, "efficiency": eff, "mode": mode}, func(t table.Writer) {
				t.AppendHeader(table.Row{"Temp (°C)", "Time (min)", "RPM", "Weight (g)", "Moisture (%)", "Efficiency (%)", "Model"})
				t.AppendRow(table.Row{p.TemperatureC, p.TimeMin, p.RPM, p.InitialWeightG, p.MoisturePercent, fmtFloat(eff, 2), mode})
			})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&p.TemperatureC, "temp", p.TemperatureC, "Extraction temperature (°C)")
	f.Float64Var(&p.TimeMin, "time", p.TimeMin, "Extraction time (min)")
	f.Float64Var(&p.RPM, "rpm", p.RPM, "Agitation speed (rpm)")
	f.Float64Var(&p.InitialWeightG, "weight", p.InitialWeightG, "Initial material weight (g)")
	f.Float64Var(&p.MoisturePercent, "moisture", p.MoisturePercent, "Moisture content (%)")
	return cmd
}

func newOptimizeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search the process parameters with the highest predicted efficiency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			best, eff, err := m.Optimizer.OptimizeParameters(nil)
			if err != nil {
				return err
			}
			mode := m.Optimizer.Status().Mode
			return opts.render(cmd.OutOrStdout(), map[string]any{"parameters": best, "predicted_efficiency": eff, "mode": mode}, func(t table.Writer) {
				t.AppendHeader(table.Row{"Temp (°C)", "Time (min)", "RPM", "Efficiency (%)", "Model"})
				t.AppendRow(table.Row{best.TemperatureC, best.TimeMin, best.RPM, fmtFloat(eff, 2), mode})
			})
		},
	}
}

func newDegradeCmd(opts *globalOptions) *cobra.Command {
	var (
		thc, cbn  float64
		condition string
		months    int
	)
	cmd := &cobra.Command{
		Use:   "degrade",
		Short: "Forecast THC loss and CBN formation under a storage condition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			fc, err := m.Forecaster.PredictDegradation(thc, cbn, condition, months)
			if err != nil {
				return err
			}
			sl := ml.ShelfLifeFromSeries(fc.THC, thc)
			return opts.render(cmd.OutOrStdout(), map[string]any{"forecast": fc, "shelf_life": sl}, func(t table.Writer) {
				t.SetTitle("%s (k=%.2f/yr)", fc.Condition, fc.Rate)
				t.AppendHeader(table.Row{"Month", "THC (%)", "CBN (%)"})
				for i, month := range fc.TimePoints {
					t.AppendRow(table.Row{month, fmtFloat(fc.THC[i], 2), fmtFloat(fc.CBN[i], 2)})
				}
				t.AppendFooter(table.Row{"Shelf life", sl.String(), ""})
			})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&thc, "thc", 85, "Initial THC (%)")
	f.Float64Var(&cbn, "cbn", 0, "Initial CBN (%)")
	f.StringVar(&condition, "condition", ml.DefaultStorageConditions()[0].Name, "Storage condition")
	f.IntVar(&months, "months", 24, "Forecast horizon (months)")
	return cmd
}

func newShelfLifeCmd(opts *globalOptions) *cobra.Command {
	var thc, threshold float64
	cmd := &cobra.Command{
		Use:   "shelf-life",
		Short: "Months until THC falls to a retention threshold, per condition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			months, err := m.Forecaster.EstimateShelfLife(thc, threshold)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), months, func(t table.Writer) {
				t.AppendHeader(table.Row{"Condition", "Months"})
				for _, name := range m.Forecaster.Conditions() {
					t.AppendRow(table.Row{name, fmtFloat(months[name], 1)})
				}
			})
		},
	}
	f := cmd.Flags()
	f.Float64Var(&thc, "thc", 85, "Initial THC (%)")
	f.Float64Var(&threshold, "threshold", ml.ShelfLifeRetention, "Fraction of initial THC to retain")
	return cmd
}

func newStorageCmd(opts *globalOptions) *cobra.Command {
	var target float64
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show which storage conditions reach a target shelf life",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			recs, err := m.Forecaster.PredictOptimalStorage(target)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), recs, func(t table.Writer) {
				t.AppendHeader(table.Row{"Condition", "Rate", "Max months", "Suitable"})
				for _, r := range recs {
					t.AppendRow(table.Row{r.Condition, r.Rate, fmtFloat(r.MaxMonths, 1), yesNo(r.Suitable)})
				}
			})
		},
	}
	cmd.Flags().Float64Var(&target, "target", 12, "Target shelf life (months)")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
