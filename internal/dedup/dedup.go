// Package dedup keeps the latest record per business key.
package dedup

import (
	"maps"
	"slices"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Latest groups records by business key and keeps the one that arrived last:
// highest ingested_at, then highest row_number, then highest file_hash.
// Whole records win; fields are never merged across records. The result is
// sorted by key and does not depend on input order.
func Latest[T model.Sourced](records []T) []T {
	best := make(map[string]T, len(records))
	for _, r := range records {
		cur, ok := best[r.Key()]
		if !ok || r.Source().After(cur.Source()) {
			best[r.Key()] = r
		}
	}
	keys := slices.Sorted(maps.Keys(best))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, best[k])
	}
	return out
}
