package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/banking-pipeline/internal/db"
	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/resilience"
)

// PostgresStore implements Store using pgxpool. Layers live in the raw,
// structured, curated and access schemas.
type PostgresStore struct {
	pool  db.Pool
	retry resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, retry resilience.RetryConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresFromPool(pool, retry), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, retry resilience.RetryConfig) *PostgresStore {
	return &PostgresStore{pool: pool, retry: retry}
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// write runs fn in one transaction and retries the whole transaction on
// lock contention.
func (s *PostgresStore) write(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("store.postgres", op)
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return db.WithTx(ctx, s.pool, fn)
	})
	return eris.Wrapf(err, "postgres: %s", op)
}

// --- File and schema bookkeeping ---

func (s *PostgresStore) FileProcessed(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM raw.file_ingestion_metadata WHERE file_hash = $1 AND status = $2)`,
		hash, model.FileStatusCompleted,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: file processed")
	}
	return exists, nil
}

const upsertFileSQL = `INSERT INTO raw.file_ingestion_metadata
	(file_id, file_path, file_name, file_type, file_hash, file_size_bytes, row_count, ingested_at, status, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (file_hash) DO UPDATE SET
		file_id = EXCLUDED.file_id, file_path = EXCLUDED.file_path, file_name = EXCLUDED.file_name,
		row_count = EXCLUDED.row_count, ingested_at = EXCLUDED.ingested_at,
		status = EXCLUDED.status, error_message = EXCLUDED.error_message`

// decodeNumerics decodes scanned NUMERIC values into dst in order.
func decodeNumerics(dst []*decimal.Decimal, src ...pgtype.Numeric) error {
	for i, n := range src {
		d, err := db.Decimal(n)
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}

func (s *PostgresStore) LastIngestedAt(ctx context.Context) (time.Time, error) {
	var at *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(ingested_at) FROM raw.file_ingestion_metadata`).Scan(&at); err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: last ingested at")
	}
	if at == nil {
		return time.Time{}, nil
	}
	return at.UTC(), nil
}

func fileArgs(f model.FileIngestion) []any {
	return []any{f.ID, f.Path, f.Name, f.Type, f.Hash, f.SizeBytes, f.RowCount, f.IngestedAt, f.Status, nullString(f.ErrorMessage)}
}

func (s *PostgresStore) RecordFailedFile(ctx context.Context, f model.FileIngestion) error {
	f.Status = model.FileStatusFailed
	return s.write(ctx, "record failed file", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertFileSQL, fileArgs(f)...)
		return err
	})
}

func (s *PostgresStore) LatestSchema(ctx context.Context, table string) (*model.SchemaVersion, error) {
	var v model.SchemaVersion
	var cols []byte
	var prev, desc *string
	err := s.pool.QueryRow(ctx,
		`SELECT schema_id, table_name, schema_version, columns, detected_at, previous_version_id, change_description
		 FROM raw.schema_versions WHERE table_name = $1 ORDER BY schema_version DESC LIMIT 1`,
		table,
	).Scan(&v.ID, &v.TableName, &v.Version, &cols, &v.DetectedAt, &prev, &desc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest schema for %s", table)
	}
	if v.Columns, err = unmarshalColumns(cols); err != nil {
		return nil, err
	}
	v.PreviousVersionID = derefString(prev)
	v.ChangeDescription = derefString(desc)
	v.DetectedAt = v.DetectedAt.UTC()
	return &v, nil
}

func (s *PostgresStore) RecordSchema(ctx context.Context, v model.SchemaVersion) error {
	cols, err := marshalJSON(v.Columns)
	if err != nil {
		return err
	}
	return s.write(ctx, "record schema", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO raw.schema_versions
			 (schema_id, table_name, schema_version, columns, detected_at, previous_version_id, change_description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.ID, v.TableName, v.Version, cols, v.DetectedAt, nullString(v.PreviousVersionID), nullString(v.ChangeDescription),
		)
		return err
	})
}

// --- Raw layer ---

func (s *PostgresStore) AppendRawAccounts(ctx context.Context, f model.FileIngestion, rows []model.RawAccount) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.AccountID, r.CustomerID, r.Balance, r.AccountType, r.SourceFile, r.FileHash, r.RowNumber, r.IngestedAt}
	}
	return s.appendRaw(ctx, f, "raw_accounts", rawAccountCols, data)
}

func (s *PostgresStore) AppendRawCustomers(ctx context.Context, f model.FileIngestion, rows []model.RawCustomer) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.CustomerID, r.Name, r.HasLoan, r.SourceFile, r.FileHash, r.RowNumber, r.IngestedAt}
	}
	return s.appendRaw(ctx, f, "raw_customers", rawCustomerCols, data)
}

func (s *PostgresStore) appendRaw(ctx context.Context, f model.FileIngestion, table string, cols []string, data [][]any) error {
	f.Status = model.FileStatusCompleted
	f.RowCount = int64(len(data))
	return s.write(ctx, "append "+table, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertFileSQL, fileArgs(f)...); err != nil {
			return eris.Wrap(err, "record file")
		}
		_, err := db.CopyFromSchema(ctx, tx, "raw", table, cols, data)
		return err
	})
}

func (s *PostgresStore) RawAccountsSince(ctx context.Context, after time.Time) ([]model.RawAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, customer_id, balance, account_type, _source_file, _file_hash, _row_number, _ingested_at
		 FROM raw.raw_accounts WHERE _ingested_at > $1 ORDER BY _ingested_at, _file_hash, _row_number`,
		after,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: raw accounts since")
	}
	defer rows.Close()

	var out []model.RawAccount
	for rows.Next() {
		var r model.RawAccount
		if err := rows.Scan(&r.AccountID, &r.CustomerID, &r.Balance, &r.AccountType, &r.SourceFile, &r.FileHash, &r.RowNumber, &r.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw account")
		}
		r.IngestedAt = r.IngestedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: raw accounts iterate")
}

func (s *PostgresStore) RawCustomersSince(ctx context.Context, after time.Time) ([]model.RawCustomer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT customer_id, name, has_loan, _source_file, _file_hash, _row_number, _ingested_at
		 FROM raw.raw_customers WHERE _ingested_at > $1 ORDER BY _ingested_at, _file_hash, _row_number`,
		after,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: raw customers since")
	}
	defer rows.Close()

	var out []model.RawCustomer
	for rows.Next() {
		var r model.RawCustomer
		if err := rows.Scan(&r.CustomerID, &r.Name, &r.HasLoan, &r.SourceFile, &r.FileHash, &r.RowNumber, &r.IngestedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw customer")
		}
		r.IngestedAt = r.IngestedAt.UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: raw customers iterate")
}

// --- Structured layer ---

func (s *PostgresStore) tableVersion(ctx context.Context, table string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM public.table_versions WHERE table_name = $1`, table).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "postgres: version of %s", table)
	}
	return v, nil
}

const setVersionSQL = `INSERT INTO public.table_versions (table_name, version, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (table_name) DO UPDATE SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at`

func setVersion(ctx context.Context, tx pgx.Tx, table string, version int64) error {
	_, err := tx.Exec(ctx, setVersionSQL, table, version, time.Now().UTC())
	return eris.Wrapf(err, "set version of %s", table)
}

func (s *PostgresStore) LoadAccounts(ctx context.Context) (model.Table[model.Account], error) {
	t := model.NewTable[model.Account](TableAccounts)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM structured.accounts`, joinCols(accountCols)))
	if err != nil {
		return t, eris.Wrap(err, "postgres: load accounts")
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Row[model.Account]
		var bal pgtype.Numeric
		var meta []byte
		if err := rows.Scan(&r.Value.AccountID, &r.Value.CustomerID, &bal, &r.Value.AccountType, &r.Value.DataQualityFlag,
			&r.CreatedDate, &r.ModifiedDate, &meta, &r.LastProcessedAt); err != nil {
			return t, eris.Wrap(err, "postgres: scan account")
		}
		d, err := db.Decimal(bal)
		if err != nil {
			return t, eris.Wrapf(err, "postgres: account %s balance", r.Value.AccountID)
		}
		r.Value.Balance.Decimal, r.Value.Balance.Valid = d, true
		if r.Metadata, err = unmarshalMetadata(meta); err != nil {
			return t, err
		}
		r.Value.Provenance = r.Metadata.Provenance
		normalizeRowTimes(&r.CreatedDate, &r.ModifiedDate, &r.LastProcessedAt)
		t.Rows[r.Key()] = r
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "postgres: load accounts iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableAccounts)
	return t, err
}

func (s *PostgresStore) LoadCustomers(ctx context.Context) (model.Table[model.Customer], error) {
	t := model.NewTable[model.Customer](TableCustomers)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM structured.customers`, joinCols(customerCols)))
	if err != nil {
		return t, eris.Wrap(err, "postgres: load customers")
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Row[model.Customer]
		var meta []byte
		if err := rows.Scan(&r.Value.CustomerID, &r.Value.Name, &r.Value.HasLoan,
			&r.CreatedDate, &r.ModifiedDate, &meta, &r.LastProcessedAt); err != nil {
			return t, eris.Wrap(err, "postgres: scan customer")
		}
		if r.Metadata, err = unmarshalMetadata(meta); err != nil {
			return t, err
		}
		r.Value.Provenance = r.Metadata.Provenance
		normalizeRowTimes(&r.CreatedDate, &r.ModifiedDate, &r.LastProcessedAt)
		t.Rows[r.Key()] = r
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "postgres: load customers iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableCustomers)
	return t, err
}

func (s *PostgresStore) SaveAccounts(ctx context.Context, version int64, rows []model.Row[model.Account]) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		meta, err := marshalJSON(r.Metadata)
		if err != nil {
			return err
		}
		data = append(data, []any{
			r.Value.AccountID, r.Value.CustomerID, db.Numeric(r.Value.Balance.Decimal), r.Value.AccountType,
			r.Value.DataQualityFlag, r.CreatedDate, r.ModifiedDate, meta, r.LastProcessedAt,
		})
	}
	return s.saveStructured(ctx, TableAccounts, accountCols, "account_id", version, data)
}

func (s *PostgresStore) SaveCustomers(ctx context.Context, version int64, rows []model.Row[model.Customer]) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		meta, err := marshalJSON(r.Metadata)
		if err != nil {
			return err
		}
		data = append(data, []any{
			r.Value.CustomerID, r.Value.Name, r.Value.HasLoan, r.CreatedDate, r.ModifiedDate, meta, r.LastProcessedAt,
		})
	}
	return s.saveStructured(ctx, TableCustomers, customerCols, "customer_id", version, data)
}

func (s *PostgresStore) saveStructured(ctx context.Context, table string, cols []string, key string, version int64, data [][]any) error {
	if len(data) == 0 {
		return nil
	}
	return s.write(ctx, "save "+table, func(tx pgx.Tx) error {
		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{Table: table, Columns: cols, ConflictKeys: []string{key}}, data); err != nil {
			return err
		}
		return setVersion(ctx, tx, table, version)
	})
}

// --- Curated layer ---

func (s *PostgresStore) LoadFacts(ctx context.Context) (model.FactTable, error) {
	t := model.NewFactTable(nil)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM curated.fact_customer_balances`, joinCols(factCols)))
	if err != nil {
		return t, eris.Wrap(err, "postgres: load facts")
	}
	defer rows.Close()

	for rows.Next() {
		var f model.Fact
		var bal, rate, annual, nb pgtype.Numeric
		var meta []byte
		if err := rows.Scan(&f.AccountID, &f.CustomerID, &f.CustomerName, &f.HasLoan, &f.AccountType, &bal, &f.DataQualityFlag,
			&rate, &annual, &nb, &f.CreatedDate, &f.ModifiedDate, &meta, &f.LastProcessedAt); err != nil {
			return t, eris.Wrap(err, "postgres: scan fact")
		}
		if err := decodeNumerics([]*decimal.Decimal{&f.OriginalBalance, &f.InterestRate, &f.AnnualInterest, &f.NewBalance},
			bal, rate, annual, nb); err != nil {
			return t, eris.Wrapf(err, "postgres: fact %s", f.AccountID)
		}
		if f.Metadata, err = unmarshalLineage(meta); err != nil {
			return t, err
		}
		normalizeRowTimes(&f.CreatedDate, &f.ModifiedDate, &f.LastProcessedAt)
		t.Rows[f.AccountID] = f
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "postgres: load facts iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableFacts)
	return t, err
}

func (s *PostgresStore) SaveCurated(ctx context.Context, b CuratedBatch) error {
	facts := make([][]any, 0, len(b.Upserts))
	for _, f := range b.Upserts {
		meta, err := marshalJSON(f.Metadata)
		if err != nil {
			return err
		}
		facts = append(facts, []any{
			f.AccountID, f.CustomerID, f.CustomerName, f.HasLoan, f.AccountType, db.Numeric(f.OriginalBalance),
			f.DataQualityFlag, db.Numeric(f.InterestRate), db.Numeric(f.AnnualInterest), db.Numeric(f.NewBalance),
			f.CreatedDate, f.ModifiedDate, meta, f.LastProcessedAt,
		})
	}
	custs := make([][]any, len(b.DimCustomers))
	for i, c := range b.DimCustomers {
		custs[i] = []any{c.CustomerID, c.Name, c.HasLoan, c.CreatedDate, c.ModifiedDate}
	}
	accts := make([][]any, len(b.DimAccounts))
	for i, a := range b.DimAccounts {
		accts[i] = []any{a.AccountID, a.CustomerID, a.AccountType, db.Numeric(a.Balance), a.DataQualityFlag, a.CreatedDate, a.ModifiedDate}
	}

	return s.write(ctx, "save curated", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM curated.dim_customer`); err != nil {
			return eris.Wrap(err, "clear dim_customer")
		}
		if _, err := db.CopyFromSchema(ctx, tx, "curated", "dim_customer", dimCustomerCols, custs); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM curated.dim_account`); err != nil {
			return eris.Wrap(err, "clear dim_account")
		}
		if _, err := db.CopyFromSchema(ctx, tx, "curated", "dim_account", dimAccountCols, accts); err != nil {
			return err
		}
		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{Table: TableFacts, Columns: factCols, ConflictKeys: []string{"account_id"}}, facts); err != nil {
			return err
		}
		if len(b.Removed) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM curated.fact_customer_balances WHERE account_id = ANY($1)`, b.Removed); err != nil {
				return eris.Wrap(err, "delete facts")
			}
		}
		return setVersion(ctx, tx, TableFacts, b.Version)
	})
}

// --- Access layer ---

func (s *PostgresStore) ReplaceSummary(ctx context.Context, rows []model.SummaryRow) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.CustomerID, r.AccountID, db.Numeric(r.OriginalBalance), db.Numeric(r.InterestRate), db.Numeric(r.AnnualInterest), db.Numeric(r.NewBalance)}
	}
	return s.write(ctx, "replace summary", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM access.account_summary`); err != nil {
			return eris.Wrap(err, "clear account_summary")
		}
		if _, err := db.CopyFromSchema(ctx, tx, "access", "account_summary", summaryCols, data); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO public.table_versions (table_name, version, updated_at) VALUES ($1, 1, $2)
			 ON CONFLICT (table_name) DO UPDATE SET version = public.table_versions.version + 1, updated_at = EXCLUDED.updated_at`,
			TableSummary, time.Now().UTC())
		return err
	})
}

func (s *PostgresStore) Summary(ctx context.Context) ([]model.SummaryRow, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM access.account_summary ORDER BY customer_id, account_id`, joinCols(summaryCols)))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: summary")
	}
	defer rows.Close()

	var out []model.SummaryRow
	for rows.Next() {
		var r model.SummaryRow
		var bal, rate, annual, nb pgtype.Numeric
		if err := rows.Scan(&r.CustomerID, &r.AccountID, &bal, &rate, &annual, &nb); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		if err := decodeNumerics([]*decimal.Decimal{&r.OriginalBalance, &r.InterestRate, &r.AnnualInterest, &r.NewBalance},
			bal, rate, annual, nb); err != nil {
			return nil, eris.Wrapf(err, "postgres: summary %s", r.AccountID)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: summary iterate")
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error) {
	run := &model.ProcessRun{
		ID:        uuid.New().String(),
		Layer:     layer,
		Mode:      mode.String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO public.process_runs (run_id, layer, mode, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Layer), run.Mode, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start run for %s", layer)
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.ProcessRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE public.process_runs SET status = $1, completed_at = $2, records_processed = $3, records_inserted = $4,
		 records_updated = $5, duration_seconds = $6, metadata = $7, error = $8 WHERE run_id = $9`,
		string(run.Status), run.CompletedAt, run.RecordsProcessed, run.RecordsInserted,
		run.RecordsUpdated, run.DurationSeconds, runMetadata(run), nullString(run.Error), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ProcessRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.process_runs WHERE true`, joinCols(runCols))
	args := []any{}
	argIdx := 1

	if filter.Layer != "" {
		query += fmt.Sprintf(` AND layer = $%d`, argIdx)
		args = append(args, string(filter.Layer))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ProcessRun
	for rows.Next() {
		var r model.ProcessRun
		var layer, status string
		var duration *float64
		var errStr *string
		var meta []byte
		if err := rows.Scan(&r.ID, &layer, &r.Mode, &status, &r.StartedAt, &r.CompletedAt,
			&r.RecordsProcessed, &r.RecordsInserted, &r.RecordsUpdated, &duration, &meta, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Layer, r.Status = model.Layer(layer), model.RunStatus(status)
		if duration != nil {
			r.DurationSeconds = *duration
		}
		r.Metadata = meta
		r.Error = derefString(errStr)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
