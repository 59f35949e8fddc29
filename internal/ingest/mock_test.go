package ingest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/banking-pipeline/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FileProcessed(ctx context.Context, hash string) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) RecordFailedFile(ctx context.Context, f model.FileIngestion) error {
	return m.Called(ctx, f).Error(0)
}

func (m *mockStore) LatestSchema(ctx context.Context, table string) (*model.SchemaVersion, error) {
	args := m.Called(ctx, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SchemaVersion), args.Error(1)
}

func (m *mockStore) RecordSchema(ctx context.Context, v model.SchemaVersion) error {
	return m.Called(ctx, v).Error(0)
}

func (m *mockStore) LastIngestedAt(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockStore) AppendRawAccounts(ctx context.Context, f model.FileIngestion, rows []model.RawAccount) error {
	return m.Called(ctx, f, rows).Error(0)
}

func (m *mockStore) AppendRawCustomers(ctx context.Context, f model.FileIngestion, rows []model.RawCustomer) error {
	return m.Called(ctx, f, rows).Error(0)
}
