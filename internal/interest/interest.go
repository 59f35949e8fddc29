// Package interest computes tiered annual interest for savings accounts.
package interest

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Tiers is the interest policy. Balances below Lower earn Tier1, balances in
// [Lower, Upper] earn Tier2 and balances above Upper earn Tier3. Customers
// with a loan earn LoanBonus on top.
type Tiers struct {
	Lower     decimal.Decimal
	Upper     decimal.Decimal
	Tier1     decimal.Decimal
	Tier2     decimal.Decimal
	Tier3     decimal.Decimal
	LoanBonus decimal.Decimal
}

// DefaultTiers returns the standard policy.
func DefaultTiers() Tiers {
	return Tiers{
		Lower:     decimal.NewFromInt(10000),
		Upper:     decimal.NewFromInt(20000),
		Tier1:     decimal.RequireFromString("0.01"),
		Tier2:     decimal.RequireFromString("0.015"),
		Tier3:     decimal.RequireFromString("0.02"),
		LoanBonus: decimal.RequireFromString("0.005"),
	}
}

// Validate checks that the thresholds are ordered and no rate is negative.
func (t Tiers) Validate() error {
	if !t.Lower.LessThan(t.Upper) {
		return eris.Errorf("interest: lower bound %s must be below upper bound %s", t.Lower, t.Upper)
	}
	for name, r := range map[string]decimal.Decimal{
		"tier1": t.Tier1, "tier2": t.Tier2, "tier3": t.Tier3, "loan_bonus": t.LoanBonus,
	} {
		if r.IsNegative() {
			return eris.Errorf("interest: %s rate %s is negative", name, r)
		}
	}
	return nil
}

// Calculator applies a validated policy.
type Calculator struct {
	tiers Tiers
}

// New validates tiers and returns a calculator.
func New(tiers Tiers) (*Calculator, error) {
	if err := tiers.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{tiers: tiers}, nil
}

// Tiers returns the policy in use.
func (c *Calculator) Tiers() Tiers { return c.tiers }

// Rate returns the annual rate for a balance.
func (c *Calculator) Rate(balance decimal.Decimal, hasLoan bool) decimal.Decimal {
	var rate decimal.Decimal
	switch {
	case balance.LessThan(c.tiers.Lower):
		rate = c.tiers.Tier1
	case balance.GreaterThan(c.tiers.Upper):
		rate = c.tiers.Tier3
	default:
		rate = c.tiers.Tier2
	}
	if hasLoan {
		rate = rate.Add(c.tiers.LoanBonus)
	}
	return rate
}

// Result is the interest computed for one account.
type Result struct {
	Rate           decimal.Decimal
	AnnualInterest decimal.Decimal
	NewBalance     decimal.Decimal
}

// Compute returns rate, annual interest and new balance. Interest is rounded
// to cents (half away from zero) before it is added to the balance.
func (c *Calculator) Compute(balance decimal.Decimal, hasLoan bool) Result {
	rate := c.Rate(balance, hasLoan)
	annual := balance.Mul(rate).Round(2)
	return Result{
		Rate:           rate,
		AnnualInterest: annual,
		NewBalance:     balance.Add(annual).Round(2),
	}
}
