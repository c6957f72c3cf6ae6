package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"report-jobs/internal/models"
	"report-jobs/internal/report"
)

// newRootCmd builds the command tree with its own viper instance so flags, env and
// defaults never leak between invocations.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "reportctl",
		Short: "Preview report filter output against a corpus",
		Long: `reportctl runs the report filter engine locally, without the queue or the
record store, so corpus fixtures and filter combinations can be checked quickly.

Examples:
  reportctl generate --client 05184 --start 2025-01-01 --end 2025-06-01
  reportctl generate --start 2025-06-01 --end 2025-12-31 --output json
  reportctl samples --corpus ./testdata/corpus.yaml`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("corpus", "", "YAML corpus file (default: built-in dataset)")
	root.PersistentFlags().String("output", "table", "Output format (table|json)")
	_ = v.BindPFlag("corpus", root.PersistentFlags().Lookup("corpus"))
	_ = v.BindPFlag("output", root.PersistentFlags().Lookup("output"))
	_ = v.BindEnv("corpus", "REPORT_CORPUS_FILE")
	_ = v.BindEnv("output", "REPORTCTL_OUTPUT")

	root.AddCommand(newGenerateCmd(v), newSamplesCmd(v))
	return root
}

func loadCorpus(v *viper.Viper) (report.Corpus, error) {
	path := v.GetString("corpus")
	if path == "" {
		return report.DefaultCorpus(), nil
	}
	return report.LoadCorpusFile(path)
}

func printResult(w io.Writer, format string, res models.ReportResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	f := res.FiltersApplied
	fmt.Fprintf(w, "filtersApplied: clientId=%s planType=%s startDate=%s endDate=%s\n",
		orNull(f.ClientID), orNull(f.PlanType), f.StartDate, f.EndDate)
	fmt.Fprintf(w, "resultCount: %d\n", res.ResultCount)
	if res.ResultCount == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tPLAN\tCOVERAGE START\tCOVERAGE END\tENROLLMENTS\tDEDUCTIONS")
	for _, r := range res.Reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ClientID, r.PlanType, r.CoverageStartDate, r.CoverageEndDate,
			r.Summary.TotalEnrollments, r.Summary.TotalDeductions)
	}
	return tw.Flush()
}

func orNull(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
