package quality

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func meta() model.Metadata {
	return model.NewMetadata(model.Provenance{FileHash: "h", RowNumber: 1, IngestedAt: t0}, true)
}

func checkByName(t *testing.T, r Report, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s not found", name)
	return Check{}
}

func TestStructured(t *testing.T) {
	accounts := model.TableFromRows("accounts", []model.Row[model.Account]{
		{Value: model.Account{AccountID: "A1", CustomerID: "C1", Balance: decimal.NewNullDecimal(dec("10"))},
			CreatedDate: t0, ModifiedDate: t0, Metadata: meta()},
		{Value: model.Account{AccountID: "A2", CustomerID: "C9", Balance: decimal.NewNullDecimal(dec("0")), DataQualityFlag: model.FlagImputedNullBalance},
			CreatedDate: t0, ModifiedDate: t0, Metadata: meta()},
	})
	customers := model.TableFromRows("customers", []model.Row[model.Customer]{
		{Value: model.Customer{CustomerID: "C1"}, CreatedDate: t0, ModifiedDate: t0, Metadata: meta()},
	})

	r := Structured(accounts, customers)
	assert.Equal(t, model.LayerStructured, r.Layer)
	assert.False(t, r.Passed())
	assert.Equal(t, []string{"accounts.customer_id.relationships"}, r.Failed())

	rel := checkByName(t, r, "accounts.customer_id.relationships")
	assert.Equal(t, 1, rel.Failures)
	assert.Equal(t, []string{"A2"}, rel.Sample)
	assert.True(t, checkByName(t, r, "accounts.data_quality_flag.accepted_values").Passed())
}

func TestCurated(t *testing.T) {
	good := model.Fact{
		AccountID: "A1", CustomerID: "C1", AccountType: "savings",
		OriginalBalance: dec("15000"), InterestRate: dec("0.02"),
		AnnualInterest: dec("300.00"), NewBalance: dec("15300.00"),
	}
	bad := good
	bad.AccountID, bad.NewBalance, bad.AccountType = "A2", dec("1"), "checking"

	facts := model.NewFactTable([]model.Fact{good, bad})
	r := Curated(facts,
		[]model.DimCustomer{{CustomerID: "C1"}},
		[]model.DimAccount{{AccountID: "A1"}, {AccountID: "A2"}},
	)
	assert.ElementsMatch(t, []string{"fact.account_type.accepted_values", "fact.new_balance.equals_sum"}, r.Failed())
	assert.Equal(t, []string{"A2"}, checkByName(t, r, "fact.new_balance.equals_sum").Sample)

	r = Curated(model.NewFactTable([]model.Fact{good}), []model.DimCustomer{{CustomerID: "C1"}, {CustomerID: "C1"}}, nil)
	assert.ElementsMatch(t, []string{"dim_customer.customer_id.unique", "fact.account_id.relationships"}, r.Failed())
}

func TestAccess(t *testing.T) {
	row := func(c, a string) model.SummaryRow {
		return model.SummaryRow{CustomerID: c, AccountID: a,
			OriginalBalance: dec("100.50"), AnnualInterest: dec("1.01"), NewBalance: dec("101.51")}
	}

	r := Access([]model.SummaryRow{row("C1", "A1"), row("C1", "A2"), row("C2", "A0")})
	assert.True(t, r.Passed())
	require.NoError(t, r.Err())

	r = Access([]model.SummaryRow{row("C2", "A1"), row("C1", "A1"), row("C1", "A1")})
	assert.ElementsMatch(t, []string{"account_summary.key.unique", "account_summary.order"}, r.Failed())
	err := r.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksFailed))
	assert.Contains(t, err.Error(), "account_summary.order")
}

func TestFatalAndMetadata(t *testing.T) {
	assert.True(t, Fatal(model.LayerAccess))
	assert.False(t, Fatal(model.LayerStructured))
	assert.False(t, Fatal(model.LayerCurated))

	m := Report{Layer: model.LayerAccess, Checks: []Check{{Name: "b", Failures: 1}, {Name: "a", Failures: 2}, {Name: "c"}}}.Metadata()
	assert.Equal(t, false, m["tests_passed"])
	assert.Equal(t, 3, m["tests_run"])
	assert.Equal(t, []string{"a", "b"}, m["tests_failed"])
}
