package ingest

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/banking-pipeline/internal/model"
)

// Entity is the kind of record a landing file carries.
type Entity string

const (
	EntityAccounts  Entity = "accounts"
	EntityCustomers Entity = "customers"
)

// RawTable is the raw table the entity lands in.
func (e Entity) RawTable() string { return "raw_" + string(e) }

// columns lists the canonical raw columns for e; the first is the business key.
func (e Entity) columns() []string {
	if e == EntityAccounts {
		return []string{"account_id", "customer_id", "balance", "account_type"}
	}
	return []string{"customer_id", "name", "has_loan"}
}

// entityOf classifies a landing file by its name prefix.
func entityOf(name string) (Entity, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, string(EntityAccounts)):
		return EntityAccounts, true
	case strings.HasPrefix(lower, string(EntityCustomers)):
		return EntityCustomers, true
	}
	return "", false
}

// normalizeColumn folds case and drops separators so AccountID, account_id
// and "Account ID" compare equal.
func normalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == '_' || r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)
}

// columnIndex maps each canonical column of e to its position in header, or
// -1 when absent. A missing business key column is an error.
func columnIndex(e Entity, header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeColumn(h)
		if _, dup := pos[n]; !dup {
			pos[n] = i
		}
	}
	idx := make(map[string]int)
	for i, col := range e.columns() {
		p, ok := pos[normalizeColumn(col)]
		if !ok {
			if i == 0 {
				return nil, eris.Errorf("ingest: %s file is missing key column %s", e, col)
			}
			p = -1
		}
		idx[col] = p
	}
	return idx, nil
}

// canonicalHeader names each header cell by its canonical column, or its
// lower-cased text when unknown. The result is sorted.
func canonicalHeader(e Entity, header []string) []string {
	known := make(map[string]string)
	for _, col := range e.columns() {
		known[normalizeColumn(col)] = col
	}
	out := make([]string, 0, len(header))
	for _, h := range header {
		name, ok := known[normalizeColumn(h)]
		if !ok {
			name = strings.ToLower(strings.TrimSpace(h))
		}
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// diffColumns describes how cols differs from prev.
func diffColumns(prev, cols []string) string {
	var added, removed []string
	for _, c := range cols {
		if !slices.Contains(prev, c) {
			added = append(added, c)
		}
	}
	for _, c := range prev {
		if !slices.Contains(cols, c) {
			removed = append(removed, c)
		}
	}
	var parts []string
	if len(added) > 0 {
		parts = append(parts, "added: "+strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		parts = append(parts, "removed: "+strings.Join(removed, ", "))
	}
	return strings.Join(parts, "; ")
}

// trackSchema records a new schema version for the entity's raw table when
// the column set differs from the latest recorded one. It returns the
// version in effect.
func trackSchema(ctx context.Context, st Store, e Entity, header []string, now time.Time) (int, error) {
	cols := canonicalHeader(e, header)
	latest, err := st.LatestSchema(ctx, e.RawTable())
	if err != nil {
		return 0, err
	}
	if latest != nil && slices.Equal(latest.Columns, cols) {
		return latest.Version, nil
	}

	v := model.SchemaVersion{
		ID:                uuid.New().String(),
		TableName:         e.RawTable(),
		Version:           1,
		Columns:           cols,
		DetectedAt:        now,
		ChangeDescription: "initial schema",
	}
	if latest != nil {
		v.Version = latest.Version + 1
		v.PreviousVersionID = latest.ID
		v.ChangeDescription = diffColumns(latest.Columns, cols)
	}
	if err := st.RecordSchema(ctx, v); err != nil {
		return 0, eris.Wrapf(err, "ingest: record schema v%d for %s", v.Version, e.RawTable())
	}
	return v.Version, nil
}
