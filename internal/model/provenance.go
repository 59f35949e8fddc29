package model

import (
	"encoding/json"
	"time"
)

// Provenance identifies the landing-file row a record was captured from.
type Provenance struct {
	SourceFile string    `json:"source_file"`
	FileHash   string    `json:"file_hash"`
	RowNumber  int64     `json:"row_number"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Source returns p. Records that embed Provenance inherit it.
func (p Provenance) Source() Provenance { return p }

// Same reports whether p and o point at the same raw row. A raw row is
// uniquely identified by (file_hash, row_number).
func (p Provenance) Same(o Provenance) bool {
	return p.FileHash == o.FileHash && p.RowNumber == o.RowNumber
}

// After reports whether p arrived strictly later than o. Ordering is
// ingested_at, then row_number, then file_hash so that it is total.
func (p Provenance) After(o Provenance) bool {
	if !p.IngestedAt.Equal(o.IngestedAt) {
		return p.IngestedAt.After(o.IngestedAt)
	}
	if p.RowNumber != o.RowNumber {
		return p.RowNumber > o.RowNumber
	}
	return p.FileHash > o.FileHash
}

// Metadata is the metadata_json payload of a structured row: the provenance
// of the winning source record at the top level plus, when history tracking
// is enabled for the table, the provenance of every record it replaced.
//
// A nil History means history tracking is off; an empty non-nil slice means
// tracking is on and nothing has been replaced yet.
type Metadata struct {
	Provenance
	History []Provenance
}

// NewMetadata initializes metadata for a freshly inserted row.
func NewMetadata(p Provenance, history bool) Metadata {
	m := Metadata{Provenance: p}
	if history {
		m.History = []Provenance{}
	}
	return m
}

// Supersede returns the metadata for a row whose winning record changed to
// next. In history mode the current provenance is appended to History;
// otherwise the metadata is fully replaced. The receiver is not modified.
func (m Metadata) Supersede(next Provenance, history bool) Metadata {
	if !history {
		return Metadata{Provenance: next}
	}
	h := make([]Provenance, 0, len(m.History)+1)
	h = append(h, m.History...)
	h = append(h, m.Provenance)
	return Metadata{Provenance: next, History: h}
}

// Tracked reports whether the metadata carries a history array.
func (m Metadata) Tracked() bool {
	return m.History != nil
}

type metadataJSON struct {
	Provenance
	History *[]Provenance `json:"history,omitempty"`
}

// MarshalJSON flattens the provenance and only emits "history" when tracked.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := metadataJSON{Provenance: m.Provenance}
	if m.History != nil {
		h := m.History
		out.History = &h
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var in metadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Provenance = in.Provenance
	m.History = nil
	if in.History != nil {
		m.History = *in.History
		if m.History == nil {
			m.History = []Provenance{}
		}
	}
	return nil
}
