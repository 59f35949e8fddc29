package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, dir, name string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.Save(path))
	return path
}

func TestReadTable_CSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.csv",
		"\ufeffAccountID,account_type,balance,CustomerID\nA001,Savings,\"15,000\",C001\n\n,,,\nA002,savings,abc\n")

	tbl, err := readTable(context.Background(), path, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"AccountID", "account_type", "balance", "CustomerID"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "15,000", tbl.Rows[0][2])
	assert.Len(t, tbl.Rows[1], 3)
}

func TestReadTable_XLSX(t *testing.T) {
	path := createTestXLSX(t, t.TempDir(), "customers.xlsx", [][]string{
		{"customerid", "name", "hasloan"},
		{"C001", "john doe", "Yes"},
	})

	tbl, err := readTable(context.Background(), path, FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, []string{"customerid", "name", "hasloan"}, tbl.Header)
	assert.Equal(t, [][]string{{"C001", "john doe", "Yes"}}, tbl.Rows)
}

func TestReadTable_Empty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.csv", "\n\n")
	_, err := readTable(context.Background(), path, FormatCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestReadTable_Cancelled(t *testing.T) {
	path := writeFile(t, t.TempDir(), "accounts.csv", "account_id\nA1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := readTable(ctx, path, FormatCSV)
	require.Error(t, err)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatCSV, formatOf("accounts.CSV"))
	assert.Equal(t, FormatXLSX, formatOf("customers_2025.xlsx"))
	assert.Equal(t, Format(""), formatOf("notes.txt"))
}
