package engines

import (
	"fmt"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// IndexView is a filtered subset of a parent view. It holds row indices
// into the parent, never copies of the rows.
type IndexView struct {
	parent ports.RowView
	rows   []int
}

// NewIndexView creates a view over the given parent rows.
func NewIndexView(parent ports.RowView, rows []int) *IndexView {
	return &IndexView{parent: parent, rows: rows}
}

// Len implements ports.RowView.
func (v *IndexView) Len() int { return len(v.rows) }

// Columns implements ports.RowView.
func (v *IndexView) Columns() []string { return v.parent.Columns() }

// Value implements ports.RowView.
func (v *IndexView) Value(row int, column string) (any, bool) {
	if row < 0 || row >= len(v.rows) {
		return nil, false
	}
	return v.parent.Value(v.rows[row], column)
}

// RequireColumns returns an error naming the first column absent from view.
func RequireColumns(view ports.RowView, columns ...string) error {
	have := make(map[string]struct{}, len(view.Columns()))
	for _, c := range view.Columns() {
		have[c] = struct{}{}
	}
	for _, c := range columns {
		if _, ok := have[c]; !ok {
			return fmt.Errorf("column %q: %w", c, domain.ErrKeyNotFound)
		}
	}
	return nil
}

// Filter applies the row condition and ignore_row_if mode of spec to view
// in a single pass. The view is returned unchanged when nothing filters.
func Filter(view ports.RowView, spec DomainSpec) (ports.RowView, error) {
	if err := RequireColumns(view, spec.Columns...); err != nil {
		return nil, err
	}
	if err := RequireColumns(view, spec.Condition.Columns()...); err != nil {
		return nil, err
	}
	skipping := spec.IgnoreRowIf != "" && spec.IgnoreRowIf != IgnoreNever
	if spec.Condition.IsZero() && !skipping {
		return view, nil
	}

	n := view.Len()
	rows := make([]int, 0, n)
	nulls := make([]bool, len(spec.Columns))
	for i := range n {
		if !spec.Condition.IsZero() {
			ok, err := spec.Condition.Match(func(col string) (any, bool) { return view.Value(i, col) })
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if skipping {
			for j, col := range spec.Columns {
				v, _ := view.Value(i, col)
				nulls[j] = v == nil
			}
			if skipRow(spec.IgnoreRowIf, nulls) {
				continue
			}
		}
		rows = append(rows, i)
	}
	return NewIndexView(view, rows), nil
}
