package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/banking-pipeline/internal/cleanse"
	"github.com/sells-group/banking-pipeline/internal/dedup"
	"github.com/sells-group/banking-pipeline/internal/merge"
	"github.com/sells-group/banking-pipeline/internal/model"
	"github.com/sells-group/banking-pipeline/internal/quality"
	"github.com/sells-group/banking-pipeline/internal/watermark"
)

// entityStep is the structured pipeline of one entity: select raw rows past
// the watermark, cleanse, deduplicate, merge and persist the changed rows.
type entityStep[R interface{ Source() model.Provenance }, T model.Sourced] struct {
	table   string
	history bool
	load    func(ctx context.Context) (model.Table[T], error)
	since   func(ctx context.Context, after time.Time) ([]R, error)
	clean   func(rows []R) ([]T, []cleanse.Rejection, error)
	save    func(ctx context.Context, version int64, rows []model.Row[T]) error
}

// entityResult is reported per entity in the run metadata.
type entityResult struct {
	Table     string    `json:"table"`
	Watermark time.Time `json:"watermark"`
	Raw       int       `json:"raw"`
	Rejected  int       `json:"rejected"`
	Batch     int       `json:"batch"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Version   int64     `json:"version"`
}

func (s entityStep[R, T]) run(ctx context.Context, mode model.RunMode, now time.Time) (model.Table[T], entityResult, error) {
	res := entityResult{Table: s.table}
	log := zap.L().With(zap.String("component", "pipeline.structured"), zap.String("table", s.table))

	prior, err := s.load(ctx)
	if err != nil {
		return prior, res, err
	}
	wm, ok := prior.Watermark()
	pred := watermark.For(mode, wm, ok)
	res.Watermark = pred.After

	raw, err := s.since(ctx, pred.After)
	if err != nil {
		return prior, res, err
	}
	raw = watermark.Select(pred, raw)
	res.Raw = len(raw)
	res.Version = prior.Version
	if len(raw) == 0 {
		return prior, res, nil
	}

	cleaned, rejected, err := s.clean(raw)
	if err != nil {
		return prior, res, err
	}
	res.Rejected = len(rejected)
	for _, rej := range rejected {
		log.Debug("pipeline: rejected record",
			zap.String("source_file", rej.Provenance.SourceFile),
			zap.Int64("row_number", rej.Provenance.RowNumber),
			zap.String("reason", rej.Reason),
		)
	}

	batch := dedup.Latest(cleaned)
	res.Batch = len(batch)

	next, mres, err := merge.Apply(prior, batch, merge.Options{Now: now, History: s.history})
	if err != nil {
		return prior, res, err
	}
	res.Inserted, res.Updated, res.Unchanged = mres.Inserted, mres.Updated, mres.Unchanged
	res.Version = next.Version

	if mres.Touched() {
		if err := s.save(ctx, next.Version, mres.Changed); err != nil {
			return prior, res, err
		}
	}
	log.Info("pipeline: entity merged",
		zap.Int("raw", res.Raw),
		zap.Int("rejected", res.Rejected),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int64("version", res.Version),
	)
	return next, res, nil
}

// structured merges new raw accounts and customers into the structured
// tables. The two entities run concurrently.
func (r *Runner) structured(ctx context.Context, mode model.RunMode) (model.RunStats, string, error) {
	now := r.now()
	accountsStep := entityStep[model.RawAccount, model.Account]{
		table:   "accounts",
		history: r.cfg.Merge.History.Accounts,
		load:    r.store.LoadAccounts,
		since:   r.store.RawAccountsSince,
		clean:   cleanse.Accounts,
		save:    r.store.SaveAccounts,
	}
	customersStep := entityStep[model.RawCustomer, model.Customer]{
		table:   "customers",
		history: r.cfg.Merge.History.Customers,
		load:    r.store.LoadCustomers,
		since:   r.store.RawCustomersSince,
		clean:   cleanse.Customers,
		save:    r.store.SaveCustomers,
	}

	var (
		accounts      model.Table[model.Account]
		customers     model.Table[model.Customer]
		acctRes, cRes entityResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		accounts, acctRes, err = accountsStep.run(gctx, mode, now)
		return err
	})
	g.Go(func() error {
		var err error
		customers, cRes, err = customersStep.run(gctx, mode, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.RunStats{}, "", err
	}

	if acctRes.Raw == 0 && cRes.Raw == 0 {
		return model.RunStats{}, "no new raw data", nil
	}

	rep := quality.Structured(accounts, customers)
	if !rep.Passed() {
		zap.L().Warn("pipeline: structured quality checks failed", zap.Strings("checks", rep.Failed()))
	}

	meta := rep.Metadata()
	meta["accounts"] = acctRes
	meta["customers"] = cRes
	return model.RunStats{
		Processed: int64(acctRes.Raw + cRes.Raw),
		Inserted:  int64(acctRes.Inserted + cRes.Inserted),
		Updated:   int64(acctRes.Updated + cRes.Updated),
		Metadata:  meta,
	}, "", nil
}
