package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/banking-pipeline/internal/model"
)

func TestColumnIndex(t *testing.T) {
	idx, err := columnIndex(EntityAccounts, []string{"AccountID", "account_type", "Balance", "customerid"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"account_id": 0, "account_type": 1, "balance": 2, "customer_id": 3}, idx)

	idx, err = columnIndex(EntityCustomers, []string{"Customer ID", "Name"})
	require.NoError(t, err)
	assert.Equal(t, -1, idx["has_loan"])

	_, err = columnIndex(EntityCustomers, []string{"name", "hasloan"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer_id")
}

func TestEntityOf(t *testing.T) {
	e, ok := entityOf("Accounts_2025-01.csv")
	require.True(t, ok)
	assert.Equal(t, EntityAccounts, e)

	e, ok = entityOf("customers.xlsx")
	require.True(t, ok)
	assert.Equal(t, EntityCustomers, e)

	_, ok = entityOf("loans.csv")
	assert.False(t, ok)
}

func TestCanonicalHeaderAndDiff(t *testing.T) {
	cols := canonicalHeader(EntityAccounts, []string{"AccountID", "Balance", "Branch", "balance"})
	assert.Equal(t, []string{"account_id", "balance", "branch"}, cols)

	assert.Equal(t, "added: branch; removed: account_type",
		diffColumns([]string{"account_id", "account_type", "balance"}, cols))
}

func TestTrackSchema(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("first version", func(t *testing.T) {
		st := &mockStore{}
		st.On("LatestSchema", ctx, "raw_customers").Return(nil, nil)
		st.On("RecordSchema", ctx, mock.MatchedBy(func(v model.SchemaVersion) bool {
			return v.Version == 1 && v.ChangeDescription == "initial schema" && v.PreviousVersionID == ""
		})).Return(nil)

		v, err := trackSchema(ctx, st, EntityCustomers, []string{"customerid", "name", "hasloan"}, now)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		st.AssertExpectations(t)
	})

	t.Run("unchanged", func(t *testing.T) {
		st := &mockStore{}
		st.On("LatestSchema", ctx, "raw_customers").Return(&model.SchemaVersion{
			ID: "s1", Version: 3, Columns: []string{"customer_id", "has_loan", "name"},
		}, nil)

		v, err := trackSchema(ctx, st, EntityCustomers, []string{"CustomerID", "Name", "HasLoan"}, now)
		require.NoError(t, err)
		assert.Equal(t, 3, v)
		st.AssertNotCalled(t, "RecordSchema", mock.Anything, mock.Anything)
	})

	t.Run("changed", func(t *testing.T) {
		st := &mockStore{}
		st.On("LatestSchema", ctx, "raw_customers").Return(&model.SchemaVersion{
			ID: "s1", Version: 1, Columns: []string{"customer_id", "has_loan", "name"},
		}, nil)
		st.On("RecordSchema", ctx, mock.MatchedBy(func(v model.SchemaVersion) bool {
			return v.Version == 2 && v.PreviousVersionID == "s1" && v.ChangeDescription == "removed: has_loan"
		})).Return(nil)

		v, err := trackSchema(ctx, st, EntityCustomers, []string{"customer_id", "name"}, now)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
		st.AssertExpectations(t)
	})
}
