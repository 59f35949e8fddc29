package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FlagImputedNullBalance marks an account whose balance could not be parsed
// and was defaulted to zero.
const FlagImputedNullBalance = "IMPUTED_NULL_BALANCE"

// AccountTypeSavings is the only account type eligible for interest.
const AccountTypeSavings = "savings"

// IsSavings reports whether an account type is eligible for interest.
func IsSavings(accountType string) bool {
	return strings.EqualFold(strings.TrimSpace(accountType), AccountTypeSavings)
}

// Keyed is implemented by every record that has a business key.
type Keyed interface {
	Key() string
}

// Sourced is a keyed record that carries the provenance of its raw row.
type Sourced interface {
	Keyed
	Source() Provenance
}

// RawAccount is one row of raw.raw_accounts exactly as landed. Business
// fields are untyped text and may be null.
type RawAccount struct {
	AccountID   *string
	CustomerID  *string
	Balance     *string
	AccountType *string
	Provenance
}

// RawCustomer is one row of raw.raw_customers exactly as landed.
type RawCustomer struct {
	CustomerID *string
	Name       *string
	HasLoan    *string
	Provenance
}

// Account is a cleansed account. Balance is invalid (the "unparsable"
// sentinel) until imputation runs.
type Account struct {
	AccountID       string
	CustomerID      string
	Balance         decimal.NullDecimal
	AccountType     string
	DataQualityFlag string
	Provenance
}

func (a Account) Key() string { return a.AccountID }

// Customer is a cleansed customer.
type Customer struct {
	CustomerID string
	Name       string
	HasLoan    bool
	Provenance
}

func (c Customer) Key() string { return c.CustomerID }
