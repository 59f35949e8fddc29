// Package quality runs data tests against a layer after it is built.
package quality

import (
	"cmp"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// ErrChecksFailed is returned by Report.Err when any check failed.
var ErrChecksFailed = eris.New("quality: checks failed")

// maxSample caps the failing keys kept per check.
const maxSample = 5

// Check is the outcome of one data test.
type Check struct {
	Name     string   `json:"name"`
	Failures int      `json:"failures"`
	Sample   []string `json:"sample,omitempty"`
}

// Passed reports whether no row failed the check.
func (c Check) Passed() bool { return c.Failures == 0 }

// Report collects the checks run for one layer.
type Report struct {
	Layer  model.Layer `json:"layer"`
	Checks []Check     `json:"checks"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the names of failing checks.
func (r Report) Failed() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Err returns nil when every check passed, otherwise ErrChecksFailed
// wrapped with the failing check names.
func (r Report) Err() error {
	if r.Passed() {
		return nil
	}
	return eris.Wrapf(ErrChecksFailed, "quality: %s: %s", r.Layer, strings.Join(r.Failed(), ", "))
}

// Fatal reports whether failed checks abort the layer. Only the access layer
// feeds consumers directly, so only its failures are fatal.
func Fatal(layer model.Layer) bool {
	return layer == model.LayerAccess
}

// builder accumulates checks in the order they are declared.
type builder struct {
	r Report
}

func (b *builder) check(name string, keys []string, fails func(i int) bool) {
	c := Check{Name: name}
	for i, k := range keys {
		if !fails(i) {
			continue
		}
		c.Failures++
		if len(c.Sample) < maxSample {
			c.Sample = append(c.Sample, k)
		}
	}
	b.r.Checks = append(b.r.Checks, c)
}

func sumMatches(orig, interest, total decimal.Decimal) bool {
	return orig.Add(interest).Round(2).Equal(total)
}

// Structured tests the structured tables.
func Structured(accounts model.Table[model.Account], customers model.Table[model.Customer]) Report {
	b := builder{r: Report{Layer: model.LayerStructured}}

	accts := accounts.Sorted()
	akeys := make([]string, len(accts))
	for i, r := range accts {
		akeys[i] = r.Key()
	}
	b.check("accounts.account_id.not_empty", akeys, func(i int) bool { return accts[i].Value.AccountID == "" })
	b.check("accounts.balance.not_null", akeys, func(i int) bool { return !accts[i].Value.Balance.Valid })
	b.check("accounts.data_quality_flag.accepted_values", akeys, func(i int) bool {
		f := accts[i].Value.DataQualityFlag
		return f != "" && f != model.FlagImputedNullBalance
	})
	b.check("accounts.modified_date.not_before_created", akeys, func(i int) bool {
		return accts[i].ModifiedDate.Before(accts[i].CreatedDate)
	})
	b.check("accounts.metadata.has_provenance", akeys, func(i int) bool { return accts[i].Metadata.FileHash == "" })
	b.check("accounts.customer_id.relationships", akeys, func(i int) bool {
		_, ok := customers.Get(accts[i].Value.CustomerID)
		return !ok
	})

	custs := customers.Sorted()
	ckeys := make([]string, len(custs))
	for i, r := range custs {
		ckeys[i] = r.Key()
	}
	b.check("customers.customer_id.not_empty", ckeys, func(i int) bool { return custs[i].Value.CustomerID == "" })
	b.check("customers.modified_date.not_before_created", ckeys, func(i int) bool {
		return custs[i].ModifiedDate.Before(custs[i].CreatedDate)
	})
	b.check("customers.metadata.has_provenance", ckeys, func(i int) bool { return custs[i].Metadata.FileHash == "" })
	return b.r
}

// Curated tests the fact table against the dimensions built with it.
func Curated(facts model.FactTable, dimCustomers []model.DimCustomer, dimAccounts []model.DimAccount) Report {
	b := builder{r: Report{Layer: model.LayerCurated}}

	custIDs := make(map[string]bool, len(dimCustomers))
	ckeys := make([]string, len(dimCustomers))
	dupCust := make([]bool, len(dimCustomers))
	for i, c := range dimCustomers {
		ckeys[i] = c.CustomerID
		dupCust[i] = custIDs[c.CustomerID]
		custIDs[c.CustomerID] = true
	}
	acctIDs := make(map[string]bool, len(dimAccounts))
	akeys := make([]string, len(dimAccounts))
	dupAcct := make([]bool, len(dimAccounts))
	for i, a := range dimAccounts {
		akeys[i] = a.AccountID
		dupAcct[i] = acctIDs[a.AccountID]
		acctIDs[a.AccountID] = true
	}
	b.check("dim_customer.customer_id.unique", ckeys, func(i int) bool { return dupCust[i] })
	b.check("dim_account.account_id.unique", akeys, func(i int) bool { return dupAcct[i] })

	rows := facts.Sorted()
	fkeys := make([]string, len(rows))
	for i, f := range rows {
		fkeys[i] = f.AccountID
	}
	b.check("fact.account_type.accepted_values", fkeys, func(i int) bool { return !model.IsSavings(rows[i].AccountType) })
	b.check("fact.interest_rate.non_negative", fkeys, func(i int) bool { return rows[i].InterestRate.IsNegative() })
	b.check("fact.annual_interest.rounded", fkeys, func(i int) bool {
		return !rows[i].AnnualInterest.Equal(rows[i].AnnualInterest.Round(2))
	})
	b.check("fact.new_balance.equals_sum", fkeys, func(i int) bool {
		return !sumMatches(rows[i].OriginalBalance, rows[i].AnnualInterest, rows[i].NewBalance)
	})
	b.check("fact.customer_id.relationships", fkeys, func(i int) bool { return !custIDs[rows[i].CustomerID] })
	b.check("fact.account_id.relationships", fkeys, func(i int) bool { return !acctIDs[rows[i].AccountID] })
	return b.r
}

// Access tests the reporting extract.
func Access(rows []model.SummaryRow) Report {
	b := builder{r: Report{Layer: model.LayerAccess}}

	keys := make([]string, len(rows))
	seen := make(map[string]bool, len(rows))
	dup := make([]bool, len(rows))
	for i, r := range rows {
		keys[i] = r.CustomerID + "/" + r.AccountID
		dup[i] = seen[keys[i]]
		seen[keys[i]] = true
	}
	b.check("account_summary.key.unique", keys, func(i int) bool { return dup[i] })
	b.check("account_summary.account_id.not_empty", keys, func(i int) bool { return rows[i].AccountID == "" })
	b.check("account_summary.customer_id.not_empty", keys, func(i int) bool { return rows[i].CustomerID == "" })
	b.check("account_summary.new_balance.equals_sum", keys, func(i int) bool {
		return !sumMatches(rows[i].OriginalBalance, rows[i].AnnualInterest, rows[i].NewBalance)
	})
	b.check("account_summary.order", keys, func(i int) bool {
		return i > 0 && cmp.Or(
			strings.Compare(rows[i-1].CustomerID, rows[i].CustomerID),
			strings.Compare(rows[i-1].AccountID, rows[i].AccountID),
		) > 0
	})
	return b.r
}

// Metadata flattens a report into run metadata.
func (r Report) Metadata() map[string]any {
	failed := r.Failed()
	slices.Sort(failed)
	return map[string]any{
		"tests_passed": r.Passed(),
		"tests_run":    len(r.Checks),
		"tests_failed": failed,
	}
}
