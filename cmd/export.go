package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the account summary to CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out := exportOut
		if out == "" {
			out = cfg.Export.Path
		}
		r, st, err := initRunner(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := r.Export(ctx, out)
		if err != nil {
			return eris.Wrap(err, "export")
		}
		if stats.Rows == 0 {
			fmt.Fprintln(os.Stderr, "No data to export.")
			return nil
		}
		formatSummaryStats(os.Stdout, out, stats)
		return nil
	},
}

// formatSummaryStats writes export totals to w.
func formatSummaryStats(out io.Writer, path string, s model.SummaryStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "File:\t%s\n", path)
	_, _ = fmt.Fprintf(w, "Accounts:\t%d\n", s.Rows)
	_, _ = fmt.Fprintf(w, "Customers:\t%d\n", s.Customers)
	_, _ = fmt.Fprintf(w, "Total original balance:\t%s\n", s.TotalOriginal.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Total annual interest:\t%s\n", s.TotalInterest.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Total new balance:\t%s\n", s.TotalNewBalance.StringFixed(2))
	_, _ = fmt.Fprintf(w, "Average interest rate:\t%s\n", s.AverageInterestRate.String())
	_ = w.Flush()
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output CSV path (overrides export.path)")
	rootCmd.AddCommand(exportCmd)
}
