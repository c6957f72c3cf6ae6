package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"report-jobs/internal/models"
	"report-jobs/internal/report"
)

type sampleCase struct {
	name string
	req  models.ReportRequest
}

var sampleCases = []sampleCase{
	{"clientId only", models.ReportRequest{ReportType: "PAYROLL", ClientID: "05184", StartDate: "2025-01-01", EndDate: "2025-06-01"}},
	{"planType only", models.ReportRequest{ReportType: "PAYROLL", PlanType: "HSA", StartDate: "2025-01-01", EndDate: "2025-06-01"}},
	{"clientId + planType", models.ReportRequest{ReportType: "PAYROLL", ClientID: "05389", PlanType: "HSA", StartDate: "2025-01-01", EndDate: "2025-06-01"}},
	{"date range overlap", models.ReportRequest{ReportType: "PAYROLL", StartDate: "2025-05-15", EndDate: "2025-06-15"}},
	{"no matches", models.ReportRequest{ReportType: "PAYROLL", ClientID: "00000", StartDate: "2025-01-01", EndDate: "2025-12-31"}},
}

func newSamplesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "Run the built-in sample requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			corpus, err := loadCorpus(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			now := time.Now().UTC()
			for _, c := range sampleCases {
				res, err := report.Generate(c.req, corpus, now)
				if err != nil {
					return fmt.Errorf("%s: %w", c.name, err)
				}
				fmt.Fprintf(out, "\n=== %s ===\n", c.name)
				if err := printResult(out, v.GetString("output"), res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
