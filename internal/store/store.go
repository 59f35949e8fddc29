// Package store persists every pipeline layer and its bookkeeping.
package store

import (
	"context"
	"time"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Logical table names used for version tracking.
const (
	TableAccounts  = "structured.accounts"
	TableCustomers = "structured.customers"
	TableFacts     = "curated.fact_customer_balances"
	TableSummary   = "access.account_summary"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Layer  model.Layer     `json:"layer,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// CuratedBatch is everything one curated build writes. It is applied in a
// single transaction.
type CuratedBatch struct {
	Version      int64
	Upserts      []model.Fact
	Removed      []string
	DimCustomers []model.DimCustomer
	DimAccounts  []model.DimAccount
}

// Store defines the persistence contract of the pipeline. Every write method
// is atomic and retried on lock contention.
type Store interface {
	// Landing file and schema bookkeeping
	FileProcessed(ctx context.Context, hash string) (bool, error)
	RecordFailedFile(ctx context.Context, f model.FileIngestion) error
	LatestSchema(ctx context.Context, table string) (*model.SchemaVersion, error)
	RecordSchema(ctx context.Context, v model.SchemaVersion) error
	// LastIngestedAt returns the newest file ingestion stamp, or the zero
	// time when nothing has been landed.
	LastIngestedAt(ctx context.Context) (time.Time, error)

	// Raw layer. Appends write the rows and a completed file record together.
	AppendRawAccounts(ctx context.Context, f model.FileIngestion, rows []model.RawAccount) error
	AppendRawCustomers(ctx context.Context, f model.FileIngestion, rows []model.RawCustomer) error
	RawAccountsSince(ctx context.Context, after time.Time) ([]model.RawAccount, error)
	RawCustomersSince(ctx context.Context, after time.Time) ([]model.RawCustomer, error)

	// Structured layer. Saves upsert the changed rows and record the version.
	LoadAccounts(ctx context.Context) (model.Table[model.Account], error)
	LoadCustomers(ctx context.Context) (model.Table[model.Customer], error)
	SaveAccounts(ctx context.Context, version int64, rows []model.Row[model.Account]) error
	SaveCustomers(ctx context.Context, version int64, rows []model.Row[model.Customer]) error

	// Curated layer
	LoadFacts(ctx context.Context) (model.FactTable, error)
	SaveCurated(ctx context.Context, batch CuratedBatch) error

	// Access layer
	ReplaceSummary(ctx context.Context, rows []model.SummaryRow) error
	Summary(ctx context.Context) ([]model.SummaryRow, error)

	// Run log
	StartRun(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error)
	FinishRun(ctx context.Context, run *model.ProcessRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ProcessRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
