// Package cleanse normalizes raw landed records into typed, trimmed records.
package cleanse

import (
	"errors"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// ErrMissingKey is returned when a record's business key is null or blank.
var ErrMissingKey = eris.New("cleanse: missing business key")

// Rejection describes a raw record that was dropped during cleansing.
type Rejection struct {
	Provenance model.Provenance
	Reason     string
}

// CleanAccount normalizes one raw account. The balance is left as the
// unparsable sentinel when it cannot be read; see ImputeBalance.
func CleanAccount(r model.RawAccount) (model.Account, error) {
	id, ok := TrimKey(r.AccountID)
	if !ok {
		return model.Account{}, eris.Wrapf(ErrMissingKey, "cleanse: account at %s row %d", r.SourceFile, r.RowNumber)
	}
	customerID, _ := TrimKey(r.CustomerID)
	return model.Account{
		AccountID:   id,
		CustomerID:  customerID,
		Balance:     ParseAmount(r.Balance),
		AccountType: normalizeType(r.AccountType),
		Provenance:  r.Provenance,
	}, nil
}

// CleanCustomer normalizes one raw customer.
func CleanCustomer(r model.RawCustomer) (model.Customer, error) {
	id, ok := TrimKey(r.CustomerID)
	if !ok {
		return model.Customer{}, eris.Wrapf(ErrMissingKey, "cleanse: customer at %s row %d", r.SourceFile, r.RowNumber)
	}
	name := ""
	if r.Name != nil {
		name = TitleCase(*r.Name)
	}
	return model.Customer{
		CustomerID: id,
		Name:       name,
		HasLoan:    ParseBool(r.HasLoan),
		Provenance: r.Provenance,
	}, nil
}

// ImputeBalance replaces an unparsable balance with 0.00 and flags the
// account. Accounts with a valid balance are returned unchanged.
func ImputeBalance(a model.Account) model.Account {
	if a.Balance.Valid {
		return a
	}
	a.Balance = decimal.NewNullDecimal(decimal.Zero)
	a.DataQualityFlag = model.FlagImputedNullBalance
	return a
}

// CleanBatch applies clean to every record, collecting rejections instead of
// failing. Only ErrMissingKey is treated as a rejection; any other error is
// returned.
func CleanBatch[R any, T any](rows []R, source func(R) model.Provenance, clean func(R) (T, error)) ([]T, []Rejection, error) {
	out := make([]T, 0, len(rows))
	var rejected []Rejection
	for _, r := range rows {
		v, err := clean(r)
		if err != nil {
			if errors.Is(err, ErrMissingKey) {
				rejected = append(rejected, Rejection{Provenance: source(r), Reason: err.Error()})
				continue
			}
			return nil, nil, err
		}
		out = append(out, v)
	}
	return out, rejected, nil
}

// Accounts cleans and imputes a batch of raw accounts.
func Accounts(rows []model.RawAccount) ([]model.Account, []Rejection, error) {
	accts, rejected, err := CleanBatch(rows,
		func(r model.RawAccount) model.Provenance { return r.Provenance },
		CleanAccount)
	if err != nil {
		return nil, nil, err
	}
	for i := range accts {
		accts[i] = ImputeBalance(accts[i])
	}
	return accts, rejected, nil
}

// Customers cleans a batch of raw customers.
func Customers(rows []model.RawCustomer) ([]model.Customer, []Rejection, error) {
	return CleanBatch(rows,
		func(r model.RawCustomer) model.Provenance { return r.Provenance },
		CleanCustomer)
}
