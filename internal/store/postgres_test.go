package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock, testRetry()), mock
}

// fileArgsFor matches the ten upsert arguments of a file row, pinning only
// the id and hash.
func fileArgsFor(hash string) []any {
	return []any{
		"file-" + hash, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), hash,
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), model.FileStatusFailed, pgxmock.AnyArg(),
	}
}

func TestPostgresStore_FileProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM raw.file_ingestion_metadata WHERE file_hash = \$1 AND status = \$2\)`).
		WithArgs("abc", model.FileStatusCompleted).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	done, err := s.FileProcessed(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastIngestedAt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	mock.ExpectQuery(`SELECT MAX\(ingested_at\) FROM raw.file_ingestion_metadata`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&at))
	mock.ExpectQuery(`SELECT MAX\(ingested_at\) FROM raw.file_ingestion_metadata`).
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow((*time.Time)(nil)))

	last, err := s.LastIngestedAt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, last.Location())
	assert.True(t, at.Equal(last))

	last, err = s.LastIngestedAt(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSchema_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM raw.schema_versions WHERE table_name = \$1`).
		WithArgs("raw_customers").
		WillReturnError(pgx.ErrNoRows)

	v, err := s.LatestSchema(context.Background(), "raw_customers")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailedFile_RetriesDeadlock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO raw.file_ingestion_metadata`).
		WithArgs(fileArgsFor("h1")...).
		WillReturnError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(file_hash\) DO UPDATE`).
		WithArgs(fileArgsFor("h1")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.RecordFailedFile(context.Background(), testFile("h1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailedFile_PermanentError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO raw.file_ingestion_metadata`).
		WithArgs(fileArgsFor("h1")...).
		WillReturnError(&pgconn.PgError{Code: "23502", Message: "null value"})
	mock.ExpectRollback()

	err := s.RecordFailedFile(context.Background(), testFile("h1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record failed file")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RetryExhausted(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	s.retry.MaxAttempts = 2

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO raw.file_ingestion_metadata`).
			WithArgs(fileArgsFor("h1")...).
			WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
		mock.ExpectRollback()
	}

	err := s.RecordFailedFile(context.Background(), testFile("h1"))
	require.Error(t, err)
	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCurated_RemovalOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM curated.dim_customer`).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM curated.dim_account`).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM curated.fact_customer_balances WHERE account_id = ANY\(\$1\)`).
		WithArgs([]string{"A002"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO public.table_versions`).
		WithArgs(TableFacts, int64(4), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveCurated(context.Background(), CuratedBatch{Version: 4, Removed: []string{"A002"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAccounts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.SaveAccounts(context.Background(), 3, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := make([]any, 8)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(`UPDATE public.process_runs SET status = \$1`).
		WithArgs(append(args, "nope")...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.ProcessRun{ID: "nope", Status: model.RunStatusComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO public.process_runs`).
		WithArgs(pgxmock.AnyArg(), "curated", "full", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.StartRun(context.Background(), model.LayerCurated, model.ModeFull)
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, model.LayerCurated, run.Layer)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(runCols).
		AddRow("r1", "access", "incremental", "skipped", started, (*time.Time)(nil),
			int64(0), int64(0), int64(0), (*float64)(nil), []byte(nil), (*string)(nil))

	mock.ExpectQuery(`FROM public.process_runs WHERE true AND layer = \$1 AND status = \$2 ORDER BY started_at DESC LIMIT \$3`).
		WithArgs("access", "skipped", 5).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{Layer: model.LayerAccess, Status: model.RunStatusSkipped, Limit: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusSkipped, runs[0].Status)
	assert.Nil(t, runs[0].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
