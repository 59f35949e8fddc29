// Package watermark selects the source records a run has not seen yet.
package watermark

import (
	"time"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Min is the boundary used when the target is empty or a full refresh is
// requested. Every real ingestion timestamp is after it.
var Min = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Predicate selects source records with ingested_at strictly after After.
// Records ingested exactly at the boundary are excluded.
type Predicate struct {
	After time.Time
}

// For returns the predicate for a run. current is the target table's maximum
// _last_processed_at and ok reports whether the table had any rows.
func For(mode model.RunMode, current time.Time, ok bool) Predicate {
	if mode == model.ModeFull || !ok {
		return Predicate{After: Min}
	}
	return Predicate{After: current}
}

// Match reports whether a record ingested at ts is selected.
func (p Predicate) Match(ts time.Time) bool {
	return ts.After(p.After)
}

// Select filters records in memory. Stores push the same predicate down into
// their queries.
func Select[T interface{ Source() model.Provenance }](p Predicate, records []T) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if p.Match(r.Source().IngestedAt) {
			out = append(out, r)
		}
	}
	return out
}
