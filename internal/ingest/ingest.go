// Package ingest lands account and customer files into the raw layer. Each
// file is loaded at most once, keyed by its MD5 hash.
package ingest

import (
	"cmp"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Store is the persistence the ingester needs.
type Store interface {
	FileProcessed(ctx context.Context, hash string) (bool, error)
	RecordFailedFile(ctx context.Context, f model.FileIngestion) error
	LatestSchema(ctx context.Context, table string) (*model.SchemaVersion, error)
	RecordSchema(ctx context.Context, v model.SchemaVersion) error
	LastIngestedAt(ctx context.Context) (time.Time, error)
	AppendRawAccounts(ctx context.Context, f model.FileIngestion, rows []model.RawAccount) error
	AppendRawCustomers(ctx context.Context, f model.FileIngestion, rows []model.RawCustomer) error
}

// Landing is a candidate file in the landing directory.
type Landing struct {
	Path    string
	Name    string
	Entity  Entity
	Format  Format
	Size    int64
	ModTime time.Time
}

// FileResult reports what happened to one landing file.
type FileResult struct {
	Name          string `json:"name"`
	Entity        Entity `json:"entity"`
	Hash          string `json:"hash"`
	Rows          int    `json:"rows"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// Result summarizes an ingest pass.
type Result struct {
	Files     []FileResult `json:"files"`
	Accounts  int          `json:"accounts"`
	Customers int          `json:"customers"`
}

// Loaded counts files that were newly landed.
func (r *Result) Loaded() int {
	n := 0
	for _, f := range r.Files {
		if !f.Skipped {
			n++
		}
	}
	return n
}

// Ingester loads landing files into the raw tables.
type Ingester struct {
	store Store
	dir   string
	now    func() time.Time
	last   time.Time
	seeded bool
	log    *zap.Logger
}

// New creates an Ingester reading from dir.
func New(st Store, dir string) *Ingester {
	return &Ingester{
		store: st,
		dir:   dir,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// Discover lists the account and customer files in dir, oldest first. Files
// with other names or extensions are ignored.
func Discover(dir string) ([]Landing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read landing dir %s", dir)
	}

	var out []Landing
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entity, ok := entityOf(e.Name())
		format := formatOf(e.Name())
		if !ok || format == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: stat %s", e.Name())
		}
		out = append(out, Landing{
			Path:    filepath.Join(dir, e.Name()),
			Name:    e.Name(),
			Entity:  entity,
			Format:  format,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b Landing) int {
		return cmp.Or(a.ModTime.Compare(b.ModTime), strings.Compare(a.Name, b.Name))
	})
	return out, nil
}

// Run lands every new file in the landing directory. It stops at the first
// file that fails; that file is recorded as failed.
func (in *Ingester) Run(ctx context.Context) (*Result, error) {
	files, err := Discover(in.dir)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, l := range files {
		fr, err := in.IngestFile(ctx, l)
		if err != nil {
			return res, err
		}
		res.Files = append(res.Files, fr)
		if fr.Skipped {
			continue
		}
		switch fr.Entity {
		case EntityAccounts:
			res.Accounts += fr.Rows
		case EntityCustomers:
			res.Customers += fr.Rows
		}
	}
	in.log.Info("ingest complete",
		zap.Int("files", len(files)),
		zap.Int("loaded", res.Loaded()),
		zap.Int("accounts", res.Accounts),
		zap.Int("customers", res.Customers),
	)
	return res, nil
}

// IngestFile lands one file. A file whose hash was already loaded is skipped.
func (in *Ingester) IngestFile(ctx context.Context, l Landing) (FileResult, error) {
	fr := FileResult{Name: l.Name, Entity: l.Entity}
	hash, err := hashFile(l.Path)
	if err != nil {
		return fr, err
	}
	fr.Hash = hash

	done, err := in.store.FileProcessed(ctx, hash)
	if err != nil {
		return fr, err
	}
	if done {
		in.log.Info("file already processed", zap.String("file", l.Name), zap.String("hash", hash))
		fr.Skipped = true
		return fr, nil
	}

	if err := in.seed(ctx); err != nil {
		return fr, err
	}
	f := model.FileIngestion{
		ID:         uuid.New().String(),
		Path:       l.Path,
		Name:       l.Name,
		Type:       string(l.Format),
		Hash:       hash,
		SizeBytes:  l.Size,
		IngestedAt: in.stamp(),
	}
	n, version, err := in.load(ctx, l, f)
	if err != nil {
		f.ErrorMessage = err.Error()
		if recErr := in.store.RecordFailedFile(ctx, f); recErr != nil {
			in.log.Error("record failed file", zap.String("file", l.Name), zap.Error(recErr))
		}
		return fr, eris.Wrapf(err, "ingest: %s", l.Name)
	}
	fr.Rows, fr.SchemaVersion = n, version

	in.log.Info("file ingested",
		zap.String("file", l.Name),
		zap.String("entity", string(l.Entity)),
		zap.Int("rows", n),
		zap.Int("schema_version", version),
	)
	return fr, nil
}

func (in *Ingester) load(ctx context.Context, l Landing, f model.FileIngestion) (int, int, error) {
	t, err := readTable(ctx, l.Path, l.Format)
	if err != nil {
		return 0, 0, err
	}
	idx, err := columnIndex(l.Entity, t.Header)
	if err != nil {
		return 0, 0, err
	}
	version, err := trackSchema(ctx, in.store, l.Entity, t.Header, f.IngestedAt)
	if err != nil {
		return 0, 0, err
	}

	prov := func(i int) model.Provenance {
		return model.Provenance{SourceFile: l.Name, FileHash: f.Hash, RowNumber: int64(i + 1), IngestedAt: f.IngestedAt}
	}
	switch l.Entity {
	case EntityAccounts:
		rows := make([]model.RawAccount, len(t.Rows))
		for i, rec := range t.Rows {
			rows[i] = model.RawAccount{
				AccountID:   cell(rec, idx["account_id"]),
				CustomerID:  cell(rec, idx["customer_id"]),
				Balance:     cell(rec, idx["balance"]),
				AccountType: cell(rec, idx["account_type"]),
				Provenance:  prov(i),
			}
		}
		err = in.store.AppendRawAccounts(ctx, f, rows)
	case EntityCustomers:
		rows := make([]model.RawCustomer, len(t.Rows))
		for i, rec := range t.Rows {
			rows[i] = model.RawCustomer{
				CustomerID: cell(rec, idx["customer_id"]),
				Name:       cell(rec, idx["name"]),
				HasLoan:    cell(rec, idx["has_loan"]),
				Provenance: prov(i),
			}
		}
		err = in.store.AppendRawCustomers(ctx, f, rows)
	}
	return len(t.Rows), version, err
}

// seed loads the newest stored stamp once, so stamps keep increasing across
// processes sharing a store.
func (in *Ingester) seed(ctx context.Context) error {
	if in.seeded {
		return nil
	}
	last, err := in.store.LastIngestedAt(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: load last ingestion stamp")
	}
	if last.After(in.last) {
		in.last = last
	}
	in.seeded = true
	return nil
}

// stamp returns the ingestion time for the next file. Stamps are UTC,
// microsecond precision and strictly increasing, including across
// Ingesters once seeded from the store.
func (in *Ingester) stamp() time.Time {
	at := in.now().UTC().Truncate(time.Microsecond)
	if !at.After(in.last) {
		at = in.last.Add(time.Microsecond)
	}
	in.last = at
	return at
}

// cell returns the value at i as captured, or nil when absent or blank.
func cell(rec []string, i int) *string {
	if i < 0 || i >= len(rec) {
		return nil
	}
	v := rec[i]
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "ingest: open for hash")
	}
	defer f.Close() //nolint:errcheck

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrap(err, "ingest: hash file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
