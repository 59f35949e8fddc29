package model

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Lineage is the metadata_json of a fact row: the metadata of both
// structured rows the fact was derived from.
type Lineage struct {
	Account  Metadata `json:"account"`
	Customer Metadata `json:"customer"`
}

// Fact is one row of curated.fact_customer_balances.
type Fact struct {
	AccountID       string
	CustomerID      string
	CustomerName    string
	HasLoan         bool
	AccountType     string
	OriginalBalance decimal.Decimal
	DataQualityFlag string
	InterestRate    decimal.Decimal
	AnnualInterest  decimal.Decimal
	NewBalance      decimal.Decimal
	CreatedDate     time.Time
	ModifiedDate    time.Time
	Metadata        Lineage
	LastProcessedAt time.Time
}

// FactTable is a versioned snapshot of the fact table keyed by account_id.
type FactTable struct {
	Version int64
	Rows    map[string]Fact
}

// NewFactTable builds a fact table from persisted rows.
func NewFactTable(rows []Fact) FactTable {
	t := FactTable{Rows: make(map[string]Fact, len(rows))}
	for _, f := range rows {
		t.Rows[f.AccountID] = f
	}
	return t
}

// Watermark returns the maximum _last_processed_at of the fact table.
func (t FactTable) Watermark() (time.Time, bool) {
	var wm time.Time
	found := false
	for _, f := range t.Rows {
		if !found || f.LastProcessedAt.After(wm) {
			wm = f.LastProcessedAt
			found = true
		}
	}
	return wm, found
}

// Sorted returns facts ordered by account_id.
func (t FactTable) Sorted() []Fact {
	keys := slices.Sorted(maps.Keys(t.Rows))
	out := make([]Fact, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.Rows[k])
	}
	return out
}

// DimCustomer is one row of curated.dim_customer.
type DimCustomer struct {
	CustomerID   string
	Name         string
	HasLoan      bool
	CreatedDate  time.Time
	ModifiedDate time.Time
}

// DimAccount is one row of curated.dim_account.
type DimAccount struct {
	AccountID       string
	CustomerID      string
	AccountType     string
	Balance         decimal.Decimal
	DataQualityFlag string
	CreatedDate     time.Time
	ModifiedDate    time.Time
}

// SummaryRow is one row of access.account_summary.
type SummaryRow struct {
	CustomerID      string
	AccountID       string
	OriginalBalance decimal.Decimal
	InterestRate    decimal.Decimal
	AnnualInterest  decimal.Decimal
	NewBalance      decimal.Decimal
}

// SummaryStats aggregates an account summary for reporting.
type SummaryStats struct {
	Rows                int             `json:"rows"`
	Customers           int             `json:"customers"`
	TotalOriginal       decimal.Decimal `json:"total_original_balance"`
	TotalInterest       decimal.Decimal `json:"total_annual_interest"`
	TotalNewBalance     decimal.Decimal `json:"total_new_balance"`
	AverageInterestRate decimal.Decimal `json:"average_interest_rate"`
}
