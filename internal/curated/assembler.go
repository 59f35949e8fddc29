// Package curated builds the dimensional model from structured tables.
package curated

import (
	"maps"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/interest"
	"github.com/sells-group/banking-pipeline/internal/model"
)

// ErrIntegrity is returned when a fact references a customer or account that
// does not exist in the structured tables.
var ErrIntegrity = eris.New("curated: referential integrity violated")

// Input is everything one build reads.
type Input struct {
	Accounts  model.Table[model.Account]
	Customers model.Table[model.Customer]
	Prior     model.FactTable
	Mode      model.RunMode
	Now       time.Time
}

// Stats counts what a build did.
type Stats struct {
	InScope    int `json:"in_scope"`
	NonSavings int `json:"non_savings"`
	Orphans    int `json:"orphans"`
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Removed    int `json:"removed"`
}

// Output is the next curated state plus the delta a store has to persist.
type Output struct {
	Facts        model.FactTable
	Upserts      []model.Fact
	Removed      []string
	DimCustomers []model.DimCustomer
	DimAccounts  []model.DimAccount
	Stats        Stats
}

// Changed reports whether the fact table needs writing.
func (o Output) Changed() bool {
	return len(o.Upserts) > 0 || len(o.Removed) > 0
}

// Assembler joins accounts to customers and computes interest.
type Assembler struct {
	calc *interest.Calculator
}

// NewAssembler returns an assembler using calc for interest.
func NewAssembler(calc *interest.Calculator) *Assembler {
	return &Assembler{calc: calc}
}

// Build recomputes every in-scope fact row. An account is in scope when it or
// its customer was modified after the fact table's watermark, or when it is a
// savings account with a customer but no fact row yet; a full run puts every
// account in scope. In-scope accounts that are not savings accounts, or
// whose customer does not exist, get no fact row and lose any existing one.
// Dimensions are rebuilt from the structured tables on every call.
func (a *Assembler) Build(in Input) (Output, error) {
	var out Output
	wm, hasWM := in.Prior.Watermark()
	full := in.Mode == model.ModeFull || !hasWM

	next := model.FactTable{Version: in.Prior.Version, Rows: maps.Clone(in.Prior.Rows)}
	if next.Rows == nil {
		next.Rows = make(map[string]model.Fact)
	}

	for _, acct := range in.Accounts.Sorted() {
		cust, hasCust := in.Customers.Get(acct.Value.CustomerID)
		if !full && !acct.ModifiedDate.After(wm) && !(hasCust && cust.ModifiedDate.After(wm)) &&
			!missingFact(acct, hasCust, in.Prior) {
			continue
		}
		out.Stats.InScope++

		prior, hadFact := next.Rows[acct.Key()]
		if !model.IsSavings(acct.Value.AccountType) || !hasCust {
			if !model.IsSavings(acct.Value.AccountType) {
				out.Stats.NonSavings++
			} else {
				out.Stats.Orphans++
			}
			if hadFact {
				delete(next.Rows, acct.Key())
				out.Removed = append(out.Removed, acct.Key())
			}
			continue
		}

		fact := a.fact(acct, cust, in.Now)
		switch {
		case !hadFact:
			out.Stats.Inserted++
		case sameFact(prior, fact):
			out.Stats.Unchanged++
			continue
		default:
			fact.CreatedDate = prior.CreatedDate
			out.Stats.Updated++
		}
		next.Rows[fact.AccountID] = fact
		out.Upserts = append(out.Upserts, fact)
	}
	out.Stats.Removed = len(out.Removed)

	if out.Changed() {
		next.Version++
	}
	out.Facts = next
	out.DimCustomers = DimCustomers(in.Customers)
	out.DimAccounts = DimAccounts(in.Accounts)

	if err := VerifyIntegrity(out.Facts, in.Accounts, in.Customers); err != nil {
		return Output{}, err
	}
	return out, nil
}

// Pending counts savings accounts whose customer exists but which have no
// fact row. Incremental builds reconsider them regardless of the watermark.
func Pending(accounts model.Table[model.Account], customers model.Table[model.Customer], facts model.FactTable) int {
	n := 0
	for _, acct := range accounts.Rows {
		_, hasCust := customers.Get(acct.Value.CustomerID)
		if missingFact(acct, hasCust, facts) {
			n++
		}
	}
	return n
}

func missingFact(acct model.Row[model.Account], hasCust bool, facts model.FactTable) bool {
	if !hasCust || !model.IsSavings(acct.Value.AccountType) {
		return false
	}
	_, ok := facts.Rows[acct.Key()]
	return !ok
}

func (a *Assembler) fact(acct model.Row[model.Account], cust model.Row[model.Customer], now time.Time) model.Fact {
	bal := acct.Value.Balance.Decimal
	res := a.calc.Compute(bal, cust.Value.HasLoan)
	lpa := acct.ModifiedDate
	if cust.ModifiedDate.After(lpa) {
		lpa = cust.ModifiedDate
	}
	return model.Fact{
		AccountID:       acct.Value.AccountID,
		CustomerID:      cust.Value.CustomerID,
		CustomerName:    cust.Value.Name,
		HasLoan:         cust.Value.HasLoan,
		AccountType:     acct.Value.AccountType,
		OriginalBalance: bal,
		DataQualityFlag: acct.Value.DataQualityFlag,
		InterestRate:    res.Rate,
		AnnualInterest:  res.AnnualInterest,
		NewBalance:      res.NewBalance,
		CreatedDate:     now,
		ModifiedDate:    now,
		Metadata:        model.Lineage{Account: acct.Metadata, Customer: cust.Metadata},
		LastProcessedAt: lpa,
	}
}

// sameFact compares everything a recompute can change.
func sameFact(a, b model.Fact) bool {
	return a.CustomerID == b.CustomerID &&
		a.CustomerName == b.CustomerName &&
		a.HasLoan == b.HasLoan &&
		a.AccountType == b.AccountType &&
		a.DataQualityFlag == b.DataQualityFlag &&
		a.OriginalBalance.Equal(b.OriginalBalance) &&
		a.InterestRate.Equal(b.InterestRate) &&
		a.AnnualInterest.Equal(b.AnnualInterest) &&
		a.NewBalance.Equal(b.NewBalance) &&
		a.LastProcessedAt.Equal(b.LastProcessedAt)
}

// VerifyIntegrity checks that every fact references an existing savings
// account and an existing customer.
func VerifyIntegrity(facts model.FactTable, accounts model.Table[model.Account], customers model.Table[model.Customer]) error {
	for _, id := range slices.Sorted(maps.Keys(facts.Rows)) {
		f := facts.Rows[id]
		acct, ok := accounts.Get(id)
		if !ok {
			return eris.Wrapf(ErrIntegrity, "curated: fact %s has no account", id)
		}
		if !model.IsSavings(acct.Value.AccountType) {
			return eris.Wrapf(ErrIntegrity, "curated: fact %s is not a savings account", id)
		}
		if _, ok := customers.Get(f.CustomerID); !ok {
			return eris.Wrapf(ErrIntegrity, "curated: fact %s references missing customer %s", id, f.CustomerID)
		}
	}
	return nil
}

// DimCustomers projects the structured customers table.
func DimCustomers(customers model.Table[model.Customer]) []model.DimCustomer {
	rows := customers.Sorted()
	out := make([]model.DimCustomer, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DimCustomer{
			CustomerID:   r.Value.CustomerID,
			Name:         r.Value.Name,
			HasLoan:      r.Value.HasLoan,
			CreatedDate:  r.CreatedDate,
			ModifiedDate: r.ModifiedDate,
		})
	}
	return out
}

// DimAccounts projects the structured accounts table.
func DimAccounts(accounts model.Table[model.Account]) []model.DimAccount {
	rows := accounts.Sorted()
	out := make([]model.DimAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.DimAccount{
			AccountID:       r.Value.AccountID,
			CustomerID:      r.Value.CustomerID,
			AccountType:     r.Value.AccountType,
			Balance:         r.Value.Balance.Decimal,
			DataQualityFlag: r.Value.DataQualityFlag,
			CreatedDate:     r.CreatedDate,
			ModifiedDate:    r.ModifiedDate,
		})
	}
	return out
}
