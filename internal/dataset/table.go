// Package dataset holds the in-memory tabular model the analyzer, planner and
// executor all operate on.
//
// A Table is a small, column-oriented structure: named columns of equal
// length, each carrying a semantic Kind. Cells are dynamically typed (`any`)
// with nil meaning null, mirroring how rows move through the rest of the
// pipeline. Tables are exclusively owned by whoever mutates them; nothing in
// this package is safe for concurrent mutation.
package dataset

import (
	"fmt"
	"time"
)

// Kind is the semantic type of a column.
type Kind uint8

const (
	String Kind = iota
	Int
	Float
	Bool
	Date
)

// String returns the kind name used in reports and schema output.
func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Bool:
		return "bool"
	case Date:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Numeric reports whether columns of this kind participate in numeric
// analysis (zero counts, quantiles, outliers).
func (k Kind) Numeric() bool {
	return k == Int || k == Float
}

// Column is one named column. Cells holds one value per row; nil is null.
// Expected cell types per kind: string, int64, float64, bool, time.Time.
type Column struct {
	Name  string
	Kind  Kind
	Cells []any
}

// NewColumn builds a column. The cell slice is used as-is, not copied.
func NewColumn(name string, kind Kind, cells []any) *Column {
	return &Column{Name: name, Kind: kind, Cells: cells}
}

// Table is an ordered set of columns with a uniform row count.
type Table struct {
	Columns []*Column
}

// New builds a table and validates that all columns share one row count and
// that no column name repeats.
func New(cols ...*Column) (*Table, error) {
	t := &Table{Columns: cols}
	seen := make(map[string]struct{}, len(cols))
	for i, c := range cols {
		if c == nil {
			return nil, fmt.Errorf("dataset: column %d is nil", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.Cells) != len(cols[0].Cells) {
			return nil, fmt.Errorf("dataset: column %q has %d rows, want %d", c.Name, len(c.Cells), len(cols[0].Cells))
		}
	}
	return t, nil
}

// NumRows returns the row count (uniform across columns).
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Cells)
}

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.Columns) }

// ColumnIndex returns the position of the named column, or -1.
// Lookup is a linear scan; tables here have a handful of columns.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	if i := t.ColumnIndex(name); i >= 0 {
		return t.Columns[i], true
	}
	return nil, false
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AddColumn appends a column, or replaces an existing column of the same name
// in place, preserving column order. The column must match the table's row
// count unless the table is empty.
func (t *Table) AddColumn(c *Column) error {
	if len(t.Columns) > 0 && len(c.Cells) != t.NumRows() {
		return fmt.Errorf("dataset: column %q has %d rows, want %d", c.Name, len(c.Cells), t.NumRows())
	}
	if i := t.ColumnIndex(c.Name); i >= 0 {
		t.Columns[i] = c
		return nil
	}
	t.Columns = append(t.Columns, c)
	return nil
}

// RenameColumns applies fn to every column name and returns how many names
// actually changed. When two names collide after renaming, later columns get
// a numeric suffix so the uniqueness invariant holds.
func (t *Table) RenameColumns(fn func(string) string) int {
	changed := 0
	taken := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		name := fn(c.Name)
		if _, dup := taken[name]; dup {
			for n := 2; ; n++ {
				cand := fmt.Sprintf("%s_%d", name, n)
				if _, d := taken[cand]; !d {
					name = cand
					break
				}
			}
		}
		taken[name] = struct{}{}
		if name != c.Name {
			changed++
		}
		c.Name = name
	}
	return changed
}

// FilterRows keeps rows for which keep returns true and returns the number of
// rows removed. Row order is preserved.
func (t *Table) FilterRows(keep func(row int) bool) int {
	n := t.NumRows()
	keepIdx := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if keep(i) {
			keepIdx = append(keepIdx, i)
		}
	}
	if len(keepIdx) == n {
		return 0
	}
	for _, c := range t.Columns {
		cells := make([]any, len(keepIdx))
		for out, in := range keepIdx {
			cells[out] = c.Cells[in]
		}
		c.Cells = cells
	}
	return n - len(keepIdx)
}

// Row copies row i into a fresh slice, one value per column.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Cells[i]
	}
	return row
}

// Clone deep-copies the table structure. Cell values are shared (they are
// immutable scalars).
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		cells := make([]any, len(c.Cells))
		copy(cells, c.Cells)
		out.Columns[i] = &Column{Name: c.Name, Kind: c.Kind, Cells: cells}
	}
	return out
}

// EstimateBytes returns an approximate in-memory footprint. The estimate is
// deterministic so reports are stable: fixed per-cell costs plus string
// lengths, plus slice and header overhead per column.
func (t *Table) EstimateBytes() int64 {
	var total int64
	for _, c := range t.Columns {
		total += int64(len(c.Name)) + 48
		for _, v := range c.Cells {
			total += cellBytes(v)
		}
	}
	return total
}

func cellBytes(v any) int64 {
	switch tv := v.(type) {
	case nil:
		return 16
	case string:
		return int64(len(tv)) + 16
	case bool:
		return 1
	case time.Time:
		return 24
	default:
		return 8
	}
}
