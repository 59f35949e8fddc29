package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/resilience"
)

// sqliteTime is fixed width so that text order equals time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite. Layer schemas are
// flattened into table name prefixes (raw_, structured_, curated_, access_).
type SQLiteStore struct {
	db    *sql.DB
	retry resilience.RetryConfig
}

// NewSQLite opens a SQLite database at path with WAL mode, a busy timeout and
// immediate write transactions.
func NewSQLite(path string, retry resilience.RetryConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, retry: retry}, nil
}

// sqliteDSN applies pragmas through the DSN so every pooled connection gets
// them.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_accounts (
	account_id    TEXT,
	customer_id   TEXT,
	balance       TEXT,
	account_type  TEXT,
	_source_file  TEXT    NOT NULL,
	_file_hash    TEXT    NOT NULL,
	_row_number   INTEGER NOT NULL,
	_ingested_at  TEXT    NOT NULL,
	PRIMARY KEY (_file_hash, _row_number)
);
CREATE INDEX IF NOT EXISTS idx_raw_accounts_ingested_at ON raw_accounts(_ingested_at);

CREATE TABLE IF NOT EXISTS raw_customers (
	customer_id   TEXT,
	name          TEXT,
	has_loan      TEXT,
	_source_file  TEXT    NOT NULL,
	_file_hash    TEXT    NOT NULL,
	_row_number   INTEGER NOT NULL,
	_ingested_at  TEXT    NOT NULL,
	PRIMARY KEY (_file_hash, _row_number)
);
CREATE INDEX IF NOT EXISTS idx_raw_customers_ingested_at ON raw_customers(_ingested_at);

CREATE TABLE IF NOT EXISTS raw_file_ingestion_metadata (
	file_id          TEXT PRIMARY KEY,
	file_path        TEXT    NOT NULL,
	file_name        TEXT    NOT NULL,
	file_type        TEXT    NOT NULL,
	file_hash        TEXT    NOT NULL UNIQUE,
	file_size_bytes  INTEGER NOT NULL DEFAULT 0,
	row_count        INTEGER NOT NULL DEFAULT 0,
	ingested_at      TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	error_message    TEXT
);

CREATE TABLE IF NOT EXISTS raw_schema_versions (
	schema_id            TEXT PRIMARY KEY,
	table_name           TEXT    NOT NULL,
	schema_version       INTEGER NOT NULL,
	columns              TEXT    NOT NULL,
	detected_at          TEXT    NOT NULL,
	previous_version_id  TEXT,
	change_description   TEXT,
	UNIQUE (table_name, schema_version)
);

CREATE TABLE IF NOT EXISTS structured_accounts (
	account_id          TEXT PRIMARY KEY,
	customer_id         TEXT NOT NULL,
	balance             TEXT NOT NULL,
	account_type        TEXT NOT NULL,
	data_quality_flag   TEXT NOT NULL DEFAULT '',
	created_date        TEXT NOT NULL,
	modified_date       TEXT NOT NULL,
	metadata_json       TEXT NOT NULL,
	_last_processed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS structured_customers (
	customer_id         TEXT PRIMARY KEY,
	name                TEXT    NOT NULL,
	has_loan            INTEGER NOT NULL,
	created_date        TEXT    NOT NULL,
	modified_date       TEXT    NOT NULL,
	metadata_json       TEXT    NOT NULL,
	_last_processed_at  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS curated_dim_customer (
	customer_id    TEXT PRIMARY KEY,
	name           TEXT    NOT NULL,
	has_loan       INTEGER NOT NULL,
	created_date   TEXT    NOT NULL,
	modified_date  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS curated_dim_account (
	account_id         TEXT PRIMARY KEY,
	customer_id        TEXT NOT NULL,
	account_type       TEXT NOT NULL,
	balance            TEXT NOT NULL,
	data_quality_flag  TEXT NOT NULL DEFAULT '',
	created_date       TEXT NOT NULL,
	modified_date      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS curated_fact_customer_balances (
	account_id          TEXT PRIMARY KEY,
	customer_id         TEXT    NOT NULL,
	customer_name       TEXT    NOT NULL,
	has_loan            INTEGER NOT NULL,
	account_type        TEXT    NOT NULL,
	original_balance    TEXT    NOT NULL,
	data_quality_flag   TEXT    NOT NULL DEFAULT '',
	interest_rate       TEXT    NOT NULL,
	annual_interest     TEXT    NOT NULL,
	new_balance         TEXT    NOT NULL,
	created_date        TEXT    NOT NULL,
	modified_date       TEXT    NOT NULL,
	metadata_json       TEXT    NOT NULL,
	_last_processed_at  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS access_account_summary (
	customer_id       TEXT NOT NULL,
	account_id        TEXT NOT NULL,
	original_balance  TEXT NOT NULL,
	interest_rate     TEXT NOT NULL,
	annual_interest   TEXT NOT NULL,
	new_balance       TEXT NOT NULL,
	PRIMARY KEY (customer_id, account_id)
);

CREATE TABLE IF NOT EXISTS process_runs (
	run_id             TEXT PRIMARY KEY,
	layer              TEXT    NOT NULL,
	mode               TEXT    NOT NULL,
	status             TEXT    NOT NULL,
	started_at         TEXT    NOT NULL,
	completed_at       TEXT,
	records_processed  INTEGER NOT NULL DEFAULT 0,
	records_inserted   INTEGER NOT NULL DEFAULT 0,
	records_updated    INTEGER NOT NULL DEFAULT 0,
	duration_seconds   REAL,
	metadata           TEXT,
	error              TEXT
);
CREATE INDEX IF NOT EXISTS idx_process_runs_layer ON process_runs(layer, started_at);

CREATE TABLE IF NOT EXISTS table_versions (
	table_name  TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	updated_at  TEXT    NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// write runs fn in one transaction and retries the whole transaction while
// the database is locked.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("store.sqlite", op)
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
	return eris.Wrapf(err, "sqlite: %s", op)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// textArg binds an optional string; nil becomes NULL.
func textArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func parseTimes(pairs ...any) error {
	for i := 0; i < len(pairs); i += 2 {
		dst := pairs[i].(*time.Time)
		t, err := time.Parse(sqliteTime, pairs[i+1].(string))
		if err != nil {
			return eris.Wrap(err, "sqlite: parse timestamp")
		}
		*dst = t.UTC()
	}
	return nil
}

func parseDecimals(pairs ...any) error {
	for i := 0; i < len(pairs); i += 2 {
		dst := pairs[i].(*decimal.Decimal)
		d, err := decimal.NewFromString(pairs[i+1].(string))
		if err != nil {
			return eris.Wrap(err, "sqlite: parse decimal")
		}
		*dst = d
	}
	return nil
}

// sqliteUpsertSQL renders a single-row upsert for table keyed by key.
func sqliteUpsertSQL(table string, cols []string, key ...string) string {
	keys := make(map[string]bool, len(key))
	for _, k := range key {
		keys[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !keys[c] {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, joinCols(cols), placeholders(len(cols)), strings.Join(key, ", "), strings.Join(sets, ", "))
}

func sqliteInsertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinCols(cols), placeholders(len(cols)))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// execEach prepares query once and executes it for every row.
func execEach(ctx context.Context, tx *sql.Tx, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "prepare")
	}
	defer stmt.Close() //nolint:errcheck
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return err
		}
	}
	return nil
}

// --- File and schema bookkeeping ---

func (s *SQLiteStore) FileProcessed(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_file_ingestion_metadata WHERE file_hash = ? AND status = ?`,
		hash, model.FileStatusCompleted,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: file processed")
	}
	return n > 0, nil
}

func (s *SQLiteStore) LastIngestedAt(ctx context.Context) (time.Time, error) {
	var at sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ingested_at) FROM raw_file_ingestion_metadata`).Scan(&at)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: last ingested at")
	}
	var t time.Time
	if !at.Valid {
		return t, nil
	}
	if err := parseTimes(&t, at.String); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

var fileCols = []string{"file_id", "file_path", "file_name", "file_type", "file_hash", "file_size_bytes", "row_count", "ingested_at", "status", "error_message"}

func sqliteFileArgs(f model.FileIngestion) []any {
	return []any{f.ID, f.Path, f.Name, f.Type, f.Hash, f.SizeBytes, f.RowCount, fmtTime(f.IngestedAt), f.Status, textArg(nullString(f.ErrorMessage))}
}

func (s *SQLiteStore) RecordFailedFile(ctx context.Context, f model.FileIngestion) error {
	f.Status = model.FileStatusFailed
	return s.write(ctx, "record failed file", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqliteUpsertSQL("raw_file_ingestion_metadata", fileCols, "file_hash"), sqliteFileArgs(f)...)
		return err
	})
}

func (s *SQLiteStore) LatestSchema(ctx context.Context, table string) (*model.SchemaVersion, error) {
	var v model.SchemaVersion
	var cols, detected string
	var prev, desc *string
	err := s.db.QueryRowContext(ctx,
		`SELECT schema_id, table_name, schema_version, columns, detected_at, previous_version_id, change_description
		 FROM raw_schema_versions WHERE table_name = ? ORDER BY schema_version DESC LIMIT 1`,
		table,
	).Scan(&v.ID, &v.TableName, &v.Version, &cols, &detected, &prev, &desc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest schema for %s", table)
	}
	if v.Columns, err = unmarshalColumns([]byte(cols)); err != nil {
		return nil, err
	}
	if err := parseTimes(&v.DetectedAt, detected); err != nil {
		return nil, err
	}
	v.PreviousVersionID = derefString(prev)
	v.ChangeDescription = derefString(desc)
	return &v, nil
}

func (s *SQLiteStore) RecordSchema(ctx context.Context, v model.SchemaVersion) error {
	cols, err := marshalJSON(v.Columns)
	if err != nil {
		return err
	}
	return s.write(ctx, "record schema", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO raw_schema_versions
			 (schema_id, table_name, schema_version, columns, detected_at, previous_version_id, change_description)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.TableName, v.Version, string(cols), fmtTime(v.DetectedAt), textArg(nullString(v.PreviousVersionID)), textArg(nullString(v.ChangeDescription)),
		)
		return err
	})
}

// --- Raw layer ---

func (s *SQLiteStore) AppendRawAccounts(ctx context.Context, f model.FileIngestion, rows []model.RawAccount) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{textArg(r.AccountID), textArg(r.CustomerID), textArg(r.Balance), textArg(r.AccountType), r.SourceFile, r.FileHash, r.RowNumber, fmtTime(r.IngestedAt)}
	}
	return s.appendRaw(ctx, f, "raw_accounts", rawAccountCols, data)
}

func (s *SQLiteStore) AppendRawCustomers(ctx context.Context, f model.FileIngestion, rows []model.RawCustomer) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{textArg(r.CustomerID), textArg(r.Name), textArg(r.HasLoan), r.SourceFile, r.FileHash, r.RowNumber, fmtTime(r.IngestedAt)}
	}
	return s.appendRaw(ctx, f, "raw_customers", rawCustomerCols, data)
}

func (s *SQLiteStore) appendRaw(ctx context.Context, f model.FileIngestion, table string, cols []string, data [][]any) error {
	f.Status = model.FileStatusCompleted
	f.RowCount = int64(len(data))
	return s.write(ctx, "append "+table, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqliteUpsertSQL("raw_file_ingestion_metadata", fileCols, "file_hash"), sqliteFileArgs(f)...); err != nil {
			return eris.Wrap(err, "record file")
		}
		return execEach(ctx, tx, sqliteInsertSQL(table, cols), data)
	})
}

func (s *SQLiteStore) RawAccountsSince(ctx context.Context, after time.Time) ([]model.RawAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, customer_id, balance, account_type, _source_file, _file_hash, _row_number, _ingested_at
		 FROM raw_accounts WHERE _ingested_at > ? ORDER BY _ingested_at, _file_hash, _row_number`,
		fmtTime(after),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: raw accounts since")
	}
	defer rows.Close()

	var out []model.RawAccount
	for rows.Next() {
		var r model.RawAccount
		var at string
		if err := rows.Scan(&r.AccountID, &r.CustomerID, &r.Balance, &r.AccountType, &r.SourceFile, &r.FileHash, &r.RowNumber, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw account")
		}
		if err := parseTimes(&r.IngestedAt, at); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: raw accounts iterate")
}

func (s *SQLiteStore) RawCustomersSince(ctx context.Context, after time.Time) ([]model.RawCustomer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, name, has_loan, _source_file, _file_hash, _row_number, _ingested_at
		 FROM raw_customers WHERE _ingested_at > ? ORDER BY _ingested_at, _file_hash, _row_number`,
		fmtTime(after),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: raw customers since")
	}
	defer rows.Close()

	var out []model.RawCustomer
	for rows.Next() {
		var r model.RawCustomer
		var at string
		if err := rows.Scan(&r.CustomerID, &r.Name, &r.HasLoan, &r.SourceFile, &r.FileHash, &r.RowNumber, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw customer")
		}
		if err := parseTimes(&r.IngestedAt, at); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: raw customers iterate")
}

// --- Structured layer ---

func (s *SQLiteStore) tableVersion(ctx context.Context, table string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM table_versions WHERE table_name = ?`, table).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrapf(err, "sqlite: version of %s", table)
	}
	return v, nil
}

func sqliteSetVersion(ctx context.Context, tx *sql.Tx, table string, version int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO table_versions (table_name, version, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (table_name) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		table, version, fmtTime(time.Now()))
	return eris.Wrapf(err, "set version of %s", table)
}

func (s *SQLiteStore) LoadAccounts(ctx context.Context) (model.Table[model.Account], error) {
	t := model.NewTable[model.Account](TableAccounts)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM structured_accounts`, joinCols(accountCols)))
	if err != nil {
		return t, eris.Wrap(err, "sqlite: load accounts")
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Row[model.Account]
		var bal, created, modified, meta, lpa string
		if err := rows.Scan(&r.Value.AccountID, &r.Value.CustomerID, &bal, &r.Value.AccountType, &r.Value.DataQualityFlag,
			&created, &modified, &meta, &lpa); err != nil {
			return t, eris.Wrap(err, "sqlite: scan account")
		}
		if err := parseTimes(&r.CreatedDate, created, &r.ModifiedDate, modified, &r.LastProcessedAt, lpa); err != nil {
			return t, err
		}
		var d decimal.Decimal
		if err := parseDecimals(&d, bal); err != nil {
			return t, err
		}
		r.Value.Balance = decimal.NewNullDecimal(d)
		if r.Metadata, err = unmarshalMetadata([]byte(meta)); err != nil {
			return t, err
		}
		r.Value.Provenance = r.Metadata.Provenance
		t.Rows[r.Key()] = r
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "sqlite: load accounts iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableAccounts)
	return t, err
}

func (s *SQLiteStore) LoadCustomers(ctx context.Context) (model.Table[model.Customer], error) {
	t := model.NewTable[model.Customer](TableCustomers)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM structured_customers`, joinCols(customerCols)))
	if err != nil {
		return t, eris.Wrap(err, "sqlite: load customers")
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Row[model.Customer]
		var created, modified, meta, lpa string
		if err := rows.Scan(&r.Value.CustomerID, &r.Value.Name, &r.Value.HasLoan, &created, &modified, &meta, &lpa); err != nil {
			return t, eris.Wrap(err, "sqlite: scan customer")
		}
		if err := parseTimes(&r.CreatedDate, created, &r.ModifiedDate, modified, &r.LastProcessedAt, lpa); err != nil {
			return t, err
		}
		if r.Metadata, err = unmarshalMetadata([]byte(meta)); err != nil {
			return t, err
		}
		r.Value.Provenance = r.Metadata.Provenance
		t.Rows[r.Key()] = r
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "sqlite: load customers iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableCustomers)
	return t, err
}

func (s *SQLiteStore) SaveAccounts(ctx context.Context, version int64, rows []model.Row[model.Account]) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		meta, err := marshalJSON(r.Metadata)
		if err != nil {
			return err
		}
		data = append(data, []any{
			r.Value.AccountID, r.Value.CustomerID, r.Value.Balance.Decimal.String(), r.Value.AccountType, r.Value.DataQualityFlag,
			fmtTime(r.CreatedDate), fmtTime(r.ModifiedDate), string(meta), fmtTime(r.LastProcessedAt),
		})
	}
	return s.saveStructured(ctx, TableAccounts, "structured_accounts", accountCols, "account_id", version, data)
}

func (s *SQLiteStore) SaveCustomers(ctx context.Context, version int64, rows []model.Row[model.Customer]) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		meta, err := marshalJSON(r.Metadata)
		if err != nil {
			return err
		}
		data = append(data, []any{
			r.Value.CustomerID, r.Value.Name, r.Value.HasLoan,
			fmtTime(r.CreatedDate), fmtTime(r.ModifiedDate), string(meta), fmtTime(r.LastProcessedAt),
		})
	}
	return s.saveStructured(ctx, TableCustomers, "structured_customers", customerCols, "customer_id", version, data)
}

func (s *SQLiteStore) saveStructured(ctx context.Context, logical, table string, cols []string, key string, version int64, data [][]any) error {
	if len(data) == 0 {
		return nil
	}
	return s.write(ctx, "save "+logical, func(tx *sql.Tx) error {
		if err := execEach(ctx, tx, sqliteUpsertSQL(table, cols, key), data); err != nil {
			return err
		}
		return sqliteSetVersion(ctx, tx, logical, version)
	})
}

// --- Curated layer ---

func (s *SQLiteStore) LoadFacts(ctx context.Context) (model.FactTable, error) {
	t := model.NewFactTable(nil)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM curated_fact_customer_balances`, joinCols(factCols)))
	if err != nil {
		return t, eris.Wrap(err, "sqlite: load facts")
	}
	defer rows.Close()

	for rows.Next() {
		var f model.Fact
		var bal, rate, annual, nb, created, modified, meta, lpa string
		if err := rows.Scan(&f.AccountID, &f.CustomerID, &f.CustomerName, &f.HasLoan, &f.AccountType, &bal, &f.DataQualityFlag,
			&rate, &annual, &nb, &created, &modified, &meta, &lpa); err != nil {
			return t, eris.Wrap(err, "sqlite: scan fact")
		}
		if err := parseDecimals(&f.OriginalBalance, bal, &f.InterestRate, rate, &f.AnnualInterest, annual, &f.NewBalance, nb); err != nil {
			return t, err
		}
		if err := parseTimes(&f.CreatedDate, created, &f.ModifiedDate, modified, &f.LastProcessedAt, lpa); err != nil {
			return t, err
		}
		if f.Metadata, err = unmarshalLineage([]byte(meta)); err != nil {
			return t, err
		}
		t.Rows[f.AccountID] = f
	}
	if err := rows.Err(); err != nil {
		return t, eris.Wrap(err, "sqlite: load facts iterate")
	}
	t.Version, err = s.tableVersion(ctx, TableFacts)
	return t, err
}

func (s *SQLiteStore) SaveCurated(ctx context.Context, b CuratedBatch) error {
	facts := make([][]any, 0, len(b.Upserts))
	for _, f := range b.Upserts {
		meta, err := marshalJSON(f.Metadata)
		if err != nil {
			return err
		}
		facts = append(facts, []any{
			f.AccountID, f.CustomerID, f.CustomerName, f.HasLoan, f.AccountType, f.OriginalBalance.String(),
			f.DataQualityFlag, f.InterestRate.String(), f.AnnualInterest.String(), f.NewBalance.String(),
			fmtTime(f.CreatedDate), fmtTime(f.ModifiedDate), string(meta), fmtTime(f.LastProcessedAt),
		})
	}
	custs := make([][]any, len(b.DimCustomers))
	for i, c := range b.DimCustomers {
		custs[i] = []any{c.CustomerID, c.Name, c.HasLoan, fmtTime(c.CreatedDate), fmtTime(c.ModifiedDate)}
	}
	accts := make([][]any, len(b.DimAccounts))
	for i, a := range b.DimAccounts {
		accts[i] = []any{a.AccountID, a.CustomerID, a.AccountType, a.Balance.String(), a.DataQualityFlag, fmtTime(a.CreatedDate), fmtTime(a.ModifiedDate)}
	}
	removed := make([][]any, len(b.Removed))
	for i, id := range b.Removed {
		removed[i] = []any{id}
	}

	return s.write(ctx, "save curated", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM curated_dim_customer`); err != nil {
			return eris.Wrap(err, "clear dim_customer")
		}
		if err := execEach(ctx, tx, sqliteInsertSQL("curated_dim_customer", dimCustomerCols), custs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM curated_dim_account`); err != nil {
			return eris.Wrap(err, "clear dim_account")
		}
		if err := execEach(ctx, tx, sqliteInsertSQL("curated_dim_account", dimAccountCols), accts); err != nil {
			return err
		}
		if err := execEach(ctx, tx, sqliteUpsertSQL("curated_fact_customer_balances", factCols, "account_id"), facts); err != nil {
			return err
		}
		if err := execEach(ctx, tx, `DELETE FROM curated_fact_customer_balances WHERE account_id = ?`, removed); err != nil {
			return err
		}
		return sqliteSetVersion(ctx, tx, TableFacts, b.Version)
	})
}

// --- Access layer ---

func (s *SQLiteStore) ReplaceSummary(ctx context.Context, rows []model.SummaryRow) error {
	data := make([][]any, len(rows))
	for i, r := range rows {
		data[i] = []any{r.CustomerID, r.AccountID, r.OriginalBalance.String(), r.InterestRate.String(), r.AnnualInterest.String(), r.NewBalance.String()}
	}
	return s.write(ctx, "replace summary", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM access_account_summary`); err != nil {
			return eris.Wrap(err, "clear account_summary")
		}
		if err := execEach(ctx, tx, sqliteInsertSQL("access_account_summary", summaryCols), data); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO table_versions (table_name, version, updated_at) VALUES (?, 1, ?)
			 ON CONFLICT (table_name) DO UPDATE SET version = table_versions.version + 1, updated_at = excluded.updated_at`,
			TableSummary, fmtTime(time.Now()))
		return err
	})
}

func (s *SQLiteStore) Summary(ctx context.Context) ([]model.SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM access_account_summary ORDER BY customer_id, account_id`, joinCols(summaryCols)))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: summary")
	}
	defer rows.Close()

	var out []model.SummaryRow
	for rows.Next() {
		var r model.SummaryRow
		var bal, rate, annual, nb string
		if err := rows.Scan(&r.CustomerID, &r.AccountID, &bal, &rate, &annual, &nb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		if err := parseDecimals(&r.OriginalBalance, bal, &r.InterestRate, rate, &r.AnnualInterest, annual, &r.NewBalance, nb); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: summary iterate")
}

// --- Run log ---

func (s *SQLiteStore) StartRun(ctx context.Context, layer model.Layer, mode model.RunMode) (*model.ProcessRun, error) {
	run := &model.ProcessRun{
		ID:        uuid.New().String(),
		Layer:     layer,
		Mode:      mode.String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_runs (run_id, layer, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Layer), run.Mode, string(run.Status), fmtTime(run.StartedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run for %s", layer)
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.ProcessRun) error {
	var meta any
	if m := runMetadata(run); m != nil {
		meta = string(m)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE process_runs SET status = ?, completed_at = ?, records_processed = ?, records_inserted = ?,
		 records_updated = ?, duration_seconds = ?, metadata = ?, error = ? WHERE run_id = ?`,
		string(run.Status), fmtNullTime(run.CompletedAt), run.RecordsProcessed, run.RecordsInserted,
		run.RecordsUpdated, run.DurationSeconds, meta, textArg(nullString(run.Error)), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ProcessRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM process_runs WHERE 1=1`, joinCols(runCols))
	var args []any
	if filter.Layer != "" {
		query += ` AND layer = ?`
		args = append(args, string(filter.Layer))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ProcessRun
	for rows.Next() {
		var r model.ProcessRun
		var layer, status, started string
		var completed, meta, errStr *string
		var duration *float64
		if err := rows.Scan(&r.ID, &layer, &r.Mode, &status, &started, &completed,
			&r.RecordsProcessed, &r.RecordsInserted, &r.RecordsUpdated, &duration, &meta, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Layer, r.Status = model.Layer(layer), model.RunStatus(status)
		if err := parseTimes(&r.StartedAt, started); err != nil {
			return nil, err
		}
		if completed != nil {
			var c time.Time
			if err := parseTimes(&c, *completed); err != nil {
				return nil, err
			}
			r.CompletedAt = &c
		}
		if duration != nil {
			r.DurationSeconds = *duration
		}
		if meta != nil {
			r.Metadata = []byte(*meta)
		}
		r.Error = derefString(errStr)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
