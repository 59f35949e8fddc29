// Package merge applies deduplicated batches to structured tables with
// upsert semantics.
package merge

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/model"
)

var (
	// ErrDuplicateKey means the batch was not deduplicated.
	ErrDuplicateKey = eris.New("merge: duplicate key in batch")
	// ErrEmptyKey means a record without a business key reached the merge.
	ErrEmptyKey = eris.New("merge: empty key in batch")
)

// Options controls one merge invocation.
type Options struct {
	// Now stamps created_date and modified_date of touched rows.
	Now time.Time
	// History appends replaced provenance to metadata history. It is fixed
	// per table.
	History bool
}

// Result summarizes a merge.
type Result[T model.Keyed] struct {
	Inserted  int
	Updated   int
	Unchanged int
	// Changed holds inserted and updated rows ordered by key. These are the
	// rows a store has to persist.
	Changed []model.Row[T]
}

// Touched reports whether the merge changed anything.
func (r Result[T]) Touched() bool {
	return r.Inserted+r.Updated > 0
}

// Apply merges batch into prior and returns the next table version.
//
// New keys are inserted with created_date = modified_date = Now. Existing keys
// have every business attribute replaced, keep created_date and get
// modified_date = Now. Keys absent from the batch are untouched; nothing is
// deleted. A record whose provenance is the row's current provenance, or older
// than it, leaves the row unchanged, so re-applying a batch is a no-op.
//
// prior is never modified. When nothing changes the returned table is prior
// itself.
func Apply[T model.Sourced](prior model.Table[T], batch []T, opts Options) (model.Table[T], Result[T], error) {
	var res Result[T]
	if err := validate(batch); err != nil {
		return prior, res, err
	}
	if len(batch) == 0 {
		return prior, res, nil
	}

	next := prior.Clone()
	for _, rec := range batch {
		src := rec.Source()
		cur, ok := next.Rows[rec.Key()]
		if !ok {
			row := model.Row[T]{
				Value:           rec,
				CreatedDate:     opts.Now,
				ModifiedDate:    opts.Now,
				Metadata:        model.NewMetadata(src, opts.History),
				LastProcessedAt: src.IngestedAt,
			}
			next.Rows[rec.Key()] = row
			res.Inserted++
			res.Changed = append(res.Changed, row)
			continue
		}

		if src.Same(cur.Metadata.Provenance) || !src.After(cur.Metadata.Provenance) {
			res.Unchanged++
			continue
		}

		row := model.Row[T]{
			Value:           rec,
			CreatedDate:     cur.CreatedDate,
			ModifiedDate:    opts.Now,
			Metadata:        cur.Metadata.Supersede(src, opts.History),
			LastProcessedAt: src.IngestedAt,
		}
		next.Rows[rec.Key()] = row
		res.Updated++
		res.Changed = append(res.Changed, row)
	}

	if !res.Touched() {
		return prior, res, nil
	}
	next.Version = prior.Version + 1
	slices.SortFunc(res.Changed, func(a, b model.Row[T]) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return next, res, nil
}

func validate[T model.Keyed](batch []T) error {
	seen := make(map[string]struct{}, len(batch))
	for _, r := range batch {
		k := r.Key()
		if strings.TrimSpace(k) == "" {
			return ErrEmptyKey
		}
		if _, dup := seen[k]; dup {
			return eris.Wrapf(ErrDuplicateKey, "merge: key %q", k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
