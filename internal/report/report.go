// Package report produces the account summary extract.
package report

import (
	"cmp"
	"encoding/csv"
	"io"
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Columns is the ordered account summary layout.
var Columns = []string{
	"customer_id",
	"account_id",
	"original_balance",
	"interest_rate",
	"annual_interest",
	"new_balance",
}

// Extract takes a full snapshot of the fact table, keeps savings accounts
// only and orders the result by (customer_id, account_id).
func Extract(facts []model.Fact) []model.SummaryRow {
	out := make([]model.SummaryRow, 0, len(facts))
	for _, f := range facts {
		if !model.IsSavings(f.AccountType) {
			continue
		}
		out = append(out, model.SummaryRow{
			CustomerID:      f.CustomerID,
			AccountID:       f.AccountID,
			OriginalBalance: f.OriginalBalance,
			InterestRate:    f.InterestRate,
			AnnualInterest:  f.AnnualInterest,
			NewBalance:      f.NewBalance,
		})
	}
	slices.SortFunc(out, func(a, b model.SummaryRow) int {
		return cmp.Or(cmp.Compare(a.CustomerID, b.CustomerID), cmp.Compare(a.AccountID, b.AccountID))
	})
	return out
}

// Summarize computes totals and the average interest rate of an extract.
func Summarize(rows []model.SummaryRow) model.SummaryStats {
	stats := model.SummaryStats{
		Rows:                len(rows),
		TotalOriginal:       decimal.Zero,
		TotalInterest:       decimal.Zero,
		TotalNewBalance:     decimal.Zero,
		AverageInterestRate: decimal.Zero,
	}
	customers := make(map[string]struct{})
	rateSum := decimal.Zero
	for _, r := range rows {
		customers[r.CustomerID] = struct{}{}
		stats.TotalOriginal = stats.TotalOriginal.Add(r.OriginalBalance)
		stats.TotalInterest = stats.TotalInterest.Add(r.AnnualInterest)
		stats.TotalNewBalance = stats.TotalNewBalance.Add(r.NewBalance)
		rateSum = rateSum.Add(r.InterestRate)
	}
	stats.Customers = len(customers)
	if len(rows) > 0 {
		stats.AverageInterestRate = rateSum.Div(decimal.NewFromInt(int64(len(rows)))).Round(6)
	}
	return stats
}

// Record formats one summary row in column order.
func Record(r model.SummaryRow) []string {
	return []string{
		r.CustomerID,
		r.AccountID,
		r.OriginalBalance.StringFixed(2),
		r.InterestRate.String(),
		r.AnnualInterest.StringFixed(2),
		r.NewBalance.StringFixed(2),
	}
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []model.SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for _, r := range rows {
		if err := cw.Write(Record(r)); err != nil {
			return eris.Wrap(err, "report: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush")
}

// ExportCSV writes rows to path.
func ExportCSV(rows []model.SummaryRow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "report: create file")
	}
	if err := WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "report: close file")
}
