// Package tabular implements the in-memory execution engine: row-oriented
// frames, CSV loading and zero-copy filtered views.
package tabular

import (
	"fmt"
	"slices"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
)

// Frame is an immutable in-memory table. Rows hold Go values (int64,
// float64, bool, string, time.Time, []byte) with nil for missing values.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]any
	types   []domain.ColumnType
}

// NewFrame builds a frame from column names and row values. Every row must
// have one value per column and column names must be unique. The frame
// takes ownership of rows.
func NewFrame(columns []string, rows [][]any) (*Frame, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("column %d: %w", i, domain.ErrEmptyValue)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q: %w", c, domain.ErrInvalidConfiguration)
		}
		index[c] = i
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d: %w",
				i, len(row), len(columns), domain.ErrInvalidConfiguration)
		}
	}

	f := &Frame{
		columns: slices.Clone(columns),
		index:   index,
		rows:    rows,
	}
	f.types = make([]domain.ColumnType, len(columns))
	for i, c := range columns {
		f.types[i] = inferColumnType(c, rows, i)
	}
	return f, nil
}

// FromTable builds a frame from a query result.
func FromTable(t domain.Table) (*Frame, error) {
	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = slices.Clone(r)
	}
	return NewFrame(t.Columns, rows)
}

// Len implements ports.RowView.
func (f *Frame) Len() int { return len(f.rows) }

// Columns implements ports.RowView.
func (f *Frame) Columns() []string { return slices.Clone(f.columns) }

// Value implements ports.RowView.
func (f *Frame) Value(row int, column string) (any, bool) {
	i, ok := f.index[column]
	if !ok || row < 0 || row >= len(f.rows) {
		return nil, false
	}
	return f.rows[row][i], true
}

// Types returns the inferred schema.
func (f *Frame) Types() []domain.ColumnType {
	out := make([]domain.ColumnType, len(f.types))
	copy(out, f.types)
	return out
}

// inferColumnType picks the common type of the non-null values of a column.
// Integers mixed with floats widen to FLOAT; any other mix is UNKNOWN.
func inferColumnType(name string, rows [][]any, col int) domain.ColumnType {
	typ := ""
	native := ""
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		t, n := goType(v)
		switch {
		case typ == "":
			typ, native = t, n
		case typ == t:
		case isNumeric(typ) && isNumeric(t):
			typ, native = domain.TypeFloat, "float64"
		default:
			return domain.ColumnType{Name: name, Type: domain.TypeUnknown, Native: "object"}
		}
	}
	if typ == "" {
		return domain.ColumnType{Name: name, Type: domain.TypeUnknown, Native: "object"}
	}
	return domain.ColumnType{Name: name, Type: typ, Native: native}
}

func isNumeric(t string) bool { return t == domain.TypeInteger || t == domain.TypeFloat }

func goType(v any) (string, string) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return domain.TypeInteger, fmt.Sprintf("%T", v)
	case float32, float64:
		return domain.TypeFloat, fmt.Sprintf("%T", v)
	case bool:
		return domain.TypeBoolean, "bool"
	case string:
		return domain.TypeString, "string"
	case time.Time:
		return domain.TypeDatetime, "time.Time"
	case []byte:
		return domain.TypeBinary, "[]byte"
	}
	return domain.TypeUnknown, fmt.Sprintf("%T", v)
}
