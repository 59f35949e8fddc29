package db

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "15300.00", "-12.345", "0.015"} {
		d := decimal.RequireFromString(s)
		got, err := Decimal(Numeric(d))
		require.NoError(t, err)
		assert.True(t, d.Equal(got), s)
	}
}

func TestDecimal_NullAndNaN(t *testing.T) {
	got, err := Decimal(pgtype.Numeric{})
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = Decimal(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)

	got, err = Decimal(pgtype.Numeric{Int: big.NewInt(15), Exp: -1, Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "1.5", got.String())
}
