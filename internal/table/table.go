// Package table holds ordered string tables and reads and writes them as CSV
// or JSON. Column and row order are always preserved.
package table

import (
	"fmt"
	"strings"
)

// Table is a list of rows sharing ordered column names.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Index returns the position of col, or -1. Matching ignores case and
// surrounding space.
func (t *Table) Index(col string) int {
	want := strings.ToLower(strings.TrimSpace(col))
	for i, c := range t.Columns {
		if strings.ToLower(strings.TrimSpace(c)) == want {
			return i
		}
	}
	return -1
}

// Require returns the positions of cols or an error naming the first
// missing one.
func (t *Table) Require(cols ...string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		out[i] = t.Index(c)
		if out[i] < 0 {
			return nil, fmt.Errorf("column %q not found (have %s)", c, strings.Join(t.Columns, ", "))
		}
	}
	return out, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Value returns the cell at row and column index, or "" when out of range.
func (t *Table) Value(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// Append adds a row, padding or truncating it to the column count.
func (t *Table) Append(values ...string) {
	row := make([]string, len(t.Columns))
	copy(row, values)
	t.Rows = append(t.Rows, row)
}

// WithColumns returns a copy of t with extra columns appended to the header.
// Existing rows are padded with empty cells.
func (t *Table) WithColumns(cols ...string) *Table {
	out := &Table{
		Columns: append(append([]string(nil), t.Columns...), cols...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, r := range t.Rows {
		row := make([]string, len(out.Columns))
		copy(row, r)
		out.Rows[i] = row
	}
	return out
}
