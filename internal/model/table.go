package model

import (
	"maps"
	"slices"
	"time"
)

// Row is the current, deduplicated state of one business key in a
// structured table.
type Row[T Keyed] struct {
	Value           T
	CreatedDate     time.Time
	ModifiedDate    time.Time
	Metadata        Metadata
	LastProcessedAt time.Time
}

// Key returns the business key of the row.
func (r Row[T]) Key() string { return r.Value.Key() }

// Table is an explicit, versioned snapshot of a structured table. Tables are
// treated as values: the merge engine never modifies the table it is given.
type Table[T Keyed] struct {
	Name    string
	Version int64
	Rows    map[string]Row[T]
}

// NewTable returns an empty table at version 0.
func NewTable[T Keyed](name string) Table[T] {
	return Table[T]{Name: name, Rows: make(map[string]Row[T])}
}

// TableFromRows builds a table from persisted rows.
func TableFromRows[T Keyed](name string, rows []Row[T]) Table[T] {
	t := NewTable[T](name)
	for _, r := range rows {
		t.Rows[r.Key()] = r
	}
	return t
}

// Len returns the number of live rows.
func (t Table[T]) Len() int { return len(t.Rows) }

// Get returns the row for key.
func (t Table[T]) Get(key string) (Row[T], bool) {
	r, ok := t.Rows[key]
	return r, ok
}

// Watermark returns the maximum _last_processed_at in the table. The second
// return is false when the table is empty.
func (t Table[T]) Watermark() (time.Time, bool) {
	var wm time.Time
	found := false
	for _, r := range t.Rows {
		if !found || r.LastProcessedAt.After(wm) {
			wm = r.LastProcessedAt
			found = true
		}
	}
	return wm, found
}

// Sorted returns the rows ordered by business key.
func (t Table[T]) Sorted() []Row[T] {
	keys := slices.Sorted(maps.Keys(t.Rows))
	out := make([]Row[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, t.Rows[k])
	}
	return out
}

// Clone returns a shallow copy whose row map can be modified independently.
func (t Table[T]) Clone() Table[T] {
	rows := make(map[string]Row[T], len(t.Rows))
	maps.Copy(rows, t.Rows)
	return Table[T]{Name: t.Name, Version: t.Version, Rows: rows}
}
