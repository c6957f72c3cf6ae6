package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"report-jobs/internal/models"
	"report-jobs/internal/report"
)

func newGenerateCmd(v *viper.Viper) *cobra.Command {
	var req models.ReportRequest

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one report request against the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			corpus, err := loadCorpus(v)
			if err != nil {
				return err
			}
			res, err := report.Generate(req, corpus, time.Now().UTC())
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), v.GetString("output"), res)
		},
	}

	cmd.Flags().StringVar(&req.ReportType, "report-type", "PAYROLL", "Report type stamped on each item")
	cmd.Flags().StringVar(&req.ClientID, "client", "", "Client id filter")
	cmd.Flags().StringVar(&req.PlanType, "plan", "", "Plan type filter")
	cmd.Flags().StringVar(&req.StartDate, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "End date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
