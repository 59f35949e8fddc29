package interest

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newCalc(t *testing.T) *Calculator {
	t.Helper()
	c, err := New(DefaultTiers())
	require.NoError(t, err)
	return c
}

func TestRate_TierBoundaries(t *testing.T) {
	t.Parallel()

	c := newCalc(t)
	tests := []struct {
		balance string
		loan    bool
		want    string
	}{
		{"9999.99", false, "0.01"},
		{"10000", false, "0.015"},
		{"20000", false, "0.015"},
		{"20000.01", false, "0.02"},
		{"9999.99", true, "0.015"},
		{"10000", true, "0.02"},
		{"20000.01", true, "0.025"},
		{"0", false, "0.01"},
		{"-50", false, "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.balance, func(t *testing.T) {
			assert.True(t, d(tt.want).Equal(c.Rate(d(tt.balance), tt.loan)), "got %s", c.Rate(d(tt.balance), tt.loan))
		})
	}
}

func TestCompute_Example(t *testing.T) {
	t.Parallel()

	res := newCalc(t).Compute(d("15000"), true)
	assert.Equal(t, "0.02", res.Rate.String())
	assert.Equal(t, "300", res.AnnualInterest.String())
	assert.Equal(t, "15300.00", res.NewBalance.StringFixed(2))
}

func TestCompute_RoundsHalfAwayFromZero(t *testing.T) {
	t.Parallel()

	// 100.50 * 0.01 = 1.005 -> 1.01
	res := newCalc(t).Compute(d("100.50"), false)
	assert.Equal(t, "1.01", res.AnnualInterest.StringFixed(2))
	assert.Equal(t, "101.51", res.NewBalance.StringFixed(2))
}

func TestCompute_ZeroBalance(t *testing.T) {
	t.Parallel()

	res := newCalc(t).Compute(decimal.Zero, false)
	assert.True(t, res.AnnualInterest.IsZero())
	assert.True(t, res.NewBalance.IsZero())
}

func TestCompute_GeneratedBalances(t *testing.T) {
	t.Parallel()

	c := newCalc(t)
	tiers := DefaultTiers()
	r := rand.New(rand.NewPCG(1, 2))
	cents := []int64{0, 999_999, 1_000_000, 1_000_001, 1_999_999, 2_000_000, 2_000_001}
	for range 1000 {
		cents = append(cents, r.Int64N(5_000_000))
	}
	for i, n := range cents {
		bal := decimal.New(n, -2)
		loan := i%2 == 1
		res := c.Compute(bal, loan)

		// Bands in cents: below 10,000.00; 10,000.00 through 20,000.00; above.
		rate := tiers.Tier2
		switch {
		case n < 1_000_000:
			rate = tiers.Tier1
		case n > 2_000_000:
			rate = tiers.Tier3
		}
		if loan {
			rate = rate.Add(tiers.LoanBonus)
		}
		assert.True(t, rate.Equal(res.Rate), "balance %s loan %v", bal, loan)

		want := bal.Mul(rate).Round(2)
		assert.True(t, want.Equal(res.AnnualInterest), "balance %s", bal)
		assert.True(t, bal.Add(want).Equal(res.NewBalance), "balance %s", bal)
		assert.LessOrEqual(t, res.AnnualInterest.Exponent(), int32(0))
		assert.GreaterOrEqual(t, res.AnnualInterest.Exponent(), int32(-2))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	bad := DefaultTiers()
	bad.Lower = d("30000")
	_, err := New(bad)
	assert.Error(t, err)

	neg := DefaultTiers()
	neg.Tier2 = d("-0.01")
	_, err = New(neg)
	assert.Error(t, err)

	assert.NoError(t, DefaultTiers().Validate())
}
