package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prov(hash string, row int64, at time.Time) Provenance {
	return Provenance{SourceFile: hash + ".csv", FileHash: hash, RowNumber: row, IngestedAt: at}
}

func TestProvenance_After(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	assert.True(t, prov("a", 1, t1).After(prov("a", 9, t0)))
	assert.True(t, prov("a", 2, t0).After(prov("a", 1, t0)))
	assert.True(t, prov("b", 1, t0).After(prov("a", 1, t0)))
	assert.False(t, prov("a", 1, t0).After(prov("a", 1, t0)))
	assert.True(t, prov("a", 1, t0).Same(prov("a", 1, t1)))
}

func TestMetadata_Supersede(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := prov("h1", 1, t0)
	second := prov("h2", 4, t0.Add(time.Hour))

	m := NewMetadata(first, true)
	require.True(t, m.Tracked())
	assert.Empty(t, m.History)

	next := m.Supersede(second, true)
	assert.Equal(t, second, next.Provenance)
	require.Len(t, next.History, 1)
	assert.Equal(t, first, next.History[0])
	assert.Empty(t, m.History, "receiver must not be modified")

	plain := NewMetadata(first, false).Supersede(second, false)
	assert.False(t, plain.Tracked())
	assert.Equal(t, second, plain.Provenance)
}

func TestMetadata_JSON(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	m := NewMetadata(prov("abc", 3, t0), true)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source_file":"abc.csv","file_hash":"abc","row_number":3,"ingested_at":"2025-03-02T10:00:00Z","history":[]}`, string(data))

	var decoded Metadata
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Tracked())
	assert.Equal(t, m.Provenance, decoded.Provenance)

	untracked, err := json.Marshal(NewMetadata(prov("abc", 3, t0), false))
	require.NoError(t, err)
	assert.NotContains(t, string(untracked), "history")

	var plain Metadata
	require.NoError(t, json.Unmarshal(untracked, &plain))
	assert.False(t, plain.Tracked())
}

func TestTable_WatermarkAndClone(t *testing.T) {
	t.Parallel()

	tbl := NewTable[Customer]("customers")
	_, ok := tbl.Watermark()
	assert.False(t, ok)

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tbl.Rows["C2"] = Row[Customer]{Value: Customer{CustomerID: "C2"}, LastProcessedAt: t0.Add(time.Hour)}
	tbl.Rows["C1"] = Row[Customer]{Value: Customer{CustomerID: "C1"}, LastProcessedAt: t0}

	wm, ok := tbl.Watermark()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), wm)

	sorted := tbl.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "C1", sorted[0].Key())

	clone := tbl.Clone()
	delete(clone.Rows, "C1")
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 1, clone.Len())
}

func TestIsSavings(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"savings", "Savings", " SAVINGS "} {
		assert.True(t, IsSavings(s), s)
	}
	for _, s := range []string{"checking", "money_market", ""} {
		assert.False(t, IsSavings(s), s)
	}
}

func TestParseRunModeAndLayer(t *testing.T) {
	t.Parallel()

	m, err := ParseRunMode("FULL")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)
	assert.Equal(t, "full", m.String())

	m, err = ParseRunMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)

	_, err = ParseRunMode("sometimes")
	assert.Error(t, err)

	l, err := ParseLayer("Curated")
	require.NoError(t, err)
	assert.Equal(t, LayerCurated, l)

	_, err = ParseLayer("gold")
	assert.Error(t, err)
}
