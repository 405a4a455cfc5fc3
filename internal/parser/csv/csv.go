// Package csv reads raw dataset files into tables and writes cleaned tables
// back out. Reading infers one storage kind per column from the observed
// values (int, then float, then bool, then string); a single unparsable value
// demotes the whole column to string, which is what lets the analyzer catch
// textual sentinels inside numeric data.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"dq/internal/dataset"
)

// ReadFile reads a CSV file into a table.
func ReadFile(path string) (*dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close()
	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("csv: read %s: %w", path, err)
	}
	return t, nil
}

// ReadTable reads a header row plus data rows. Rows shorter than the header
// are padded with nulls, longer rows are truncated. Cell values keep their
// whitespace trimmed; empty cells stay empty strings in textual columns and
// become null in typed ones.
func ReadTable(r io.Reader) (*dataset.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	names := make([]string, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		names[i] = strings.TrimSpace(h)
	}

	raw := make([][]string, len(names))
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		for i := range names {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			raw[i] = append(raw[i], v)
		}
	}

	cols := make([]*dataset.Column, len(names))
	for i, name := range names {
		kind := inferKind(raw[i])
		cols[i] = dataset.NewColumn(name, kind, typedCells(raw[i], kind))
	}
	t, err := dataset.New(cols...)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return t, nil
}

// inferKind picks the narrowest kind every non-empty value fits. Empty cells
// carry no type information and are skipped.
func inferKind(values []string) dataset.Kind {
	allInt, allFloat, allBool := true, true, true
	seen := false
	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := dataset.CoerceFloat(v); !ok {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := dataset.CoerceBool(v); !ok {
				allBool = false
			}
		}
		if !allInt && !allFloat && !allBool {
			return dataset.String
		}
	}
	switch {
	case !seen:
		return dataset.String
	case allInt:
		return dataset.Int
	case allFloat:
		return dataset.Float
	case allBool:
		return dataset.Bool
	default:
		return dataset.String
	}
}

func typedCells(values []string, kind dataset.Kind) []any {
	cells := make([]any, len(values))
	for i, v := range values {
		if v == "" {
			if kind == dataset.String {
				cells[i] = ""
			}
			continue
		}
		switch kind {
		case dataset.Int:
			n, _ := strconv.ParseInt(v, 10, 64)
			cells[i] = n
		case dataset.Float:
			f, _ := dataset.CoerceFloat(v)
			cells[i] = f
		case dataset.Bool:
			b, _ := dataset.CoerceBool(v)
			cells[i] = b
		default:
			cells[i] = v
		}
	}
	return cells
}

// WriteFile writes a table to a CSV file.
func WriteFile(path string, t *dataset.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create %s: %w", path, err)
	}
	if err := WriteTable(f, t); err != nil {
		f.Close()
		return fmt.Errorf("csv: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("csv: close %s: %w", path, err)
	}
	return nil
}

// WriteTable writes the header and rows. Nulls render as empty cells; dates
// at midnight UTC render date-only.
func WriteTable(w io.Writer, t *dataset.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	rec := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns {
			rec[j] = renderCell(c.Cells[i])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("csv: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv: flush: %w", err)
	}
	return nil
}

func renderCell(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case time.Time:
		if dataset.DateOnly(tv).Equal(tv) {
			return tv.Format(time.DateOnly)
		}
		return tv.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(tv)
	}
}
