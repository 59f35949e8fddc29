package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Format is a landing file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// formatOf returns the landing format for a file name, or "" when the
// extension is not supported.
func formatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	}
	return ""
}

// table is a parsed landing file: a header and its data rows.
type table struct {
	Header []string
	Rows   [][]string
}

// readTable parses a landing file. Blank rows are dropped.
func readTable(ctx context.Context, path string, format Format) (table, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(ctx, path)
	case FormatXLSX:
		records, err = readXLSX(ctx, path)
	default:
		return table{}, eris.Errorf("ingest: unsupported format for %s", path)
	}
	if err != nil {
		return table{}, err
	}

	var t table
	for _, rec := range records {
		if blank(rec) {
			continue
		}
		if t.Header == nil {
			t.Header = rec
			if len(rec) > 0 {
				t.Header[0] = strings.TrimPrefix(rec[0], "\ufeff")
			}
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Header == nil {
		return table{}, eris.Errorf("ingest: %s has no header row", filepath.Base(path))
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readCSV(ctx context.Context, path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open csv")
	}
	defer f.Close() //nolint:errcheck

	rowCh, errCh := streamCSV(ctx, f)
	var out [][]string
	for row := range rowCh {
		out = append(out, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

// streamCSV reads r and sends every record, header included, to the row
// channel. Both channels are closed when reading completes.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: csv read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// readXLSX returns the rows of the first sheet.
func readXLSX(ctx context.Context, path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", filepath.Base(path))
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: xlsx context cancelled")
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
