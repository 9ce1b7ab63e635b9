package main

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Capstone-E1/extractlab_backend/internal/coa"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

func newGradeCmd(opts *globalOptions) *cobra.Command {
	var p models.CannabinoidProfile
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a cannabinoid profile and flag anomalies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := p.Validate(); err != nil {
				return err
			}
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			metrics := p.Metrics()
			grade, pf := m.Classifier.GradeMetrics(metrics)
			alerts := models.AlertsForBatch(models.BatchRecord{Metrics: metrics}, time.Now())
			out := map[string]any{"grade": grade, "pass_fail": pf, "metrics": metrics, "alerts": alerts}
			return opts.render(cmd.OutOrStdout(), out, func(t table.Writer) {
				t.AppendHeader(table.Row{"Grade", "Result", "Total cannabinoids (%)", "Degradation (%)", "Isomerization (%)"})
				t.AppendRow(table.Row{grade, pf, fmtFloat(metrics.TotalCannabinoids, 2), fmtFloat(metrics.DegradationIndex, 2), fmtFloat(metrics.IsomerizationRatio, 2)})
				for _, a := range alerts {
					t.AppendFooter(table.Row{a.Severity, a.Message, "", "", ""})
				}
			})
		},
	}
	bindProfile(cmd.Flags(), &p)
	return cmd
}

func newComplianceCmd(opts *globalOptions) *cobra.Command {
	var (
		category        string
		ratio, totalTHC float64
	)
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Check category compliance for a CBD:THC ratio and total THC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModels(cmd)
			if err != nil {
				return err
			}
			res := m.Classifier.PredictCompliance(ratio, totalTHC, category)
			return opts.render(cmd.OutOrStdout(), res, func(t table.Writer) {
				t.SetTitle("%s: compliant=%s", res.Category, yesNo(res.Compliant))
				t.AppendHeader(table.Row{"Check", "Value", "Limit", "Passed"})
				for _, c := range res.Checks {
					t.AppendRow(table.Row{c.Name, fmtFloat(c.Value, 4), c.Operator + " " + fmtFloat(c.Limit, 2), yesNo(c.Passed)})
				}
				if res.Note != "" {
					t.AppendFooter(table.Row{res.Note, "", "", ""})
				}
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&category, "category", "hemp", "Product category")
	f.Float64Var(&ratio, "ratio", 0, "CBD:THC ratio")
	f.Float64Var(&totalTHC, "total-thc", 0, "Total THC (%)")
	return cmd
}

func newCoACmd(opts *globalOptions) *cobra.Command {
	var (
		req coa.Request
		p   models.CannabinoidProfile
	)
	cmd := &cobra.Command{
		Use:   "coa",
		Short: "Build Certificate of Analysis table data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Profile = &p
			cert, err := coa.Build(req, time.Now())
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), cert, func(t table.Writer) {
				s := cert.Sample
				t.SetTitle("CoA %s | %s | %s | %s", s.BatchID, s.Client, s.AnalysisDate, s.Analyst)
				t.AppendHeader(table.Row{"Component", "% w/w", "mg/g", "mg/mL"})
				for _, r := range cert.Results {
					t.AppendRow(table.Row{r.Component, fmtFloat(r.PercentWW, 4), fmtFloat(r.MgPerG, 4), fmtFloat(r.MgPerML, 4)})
				}
				t.AppendFooter(table.Row{cert.Total.Component, fmtFloat(cert.Total.PercentWW, 4), fmtFloat(cert.Total.MgPerG, 4), fmtFloat(cert.Total.MgPerML, 4)})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.BatchID, "batch", "", "Batch ID")
	f.StringVar(&req.Client, "client", "", "Client name")
	f.StringVar(&req.Analyst, "analyst", "", "Analyst name")
	f.StringVar(&req.AnalysisDate, "date", "", "Analysis date (YYYY-MM-DD)")
	f.Float64Var(&req.SampleWeightMg, "sample-weight", 0, "Sample weight (mg)")
	bindProfile(f, &p)
	return cmd
}
