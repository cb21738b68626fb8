package domain

// Common column type names every engine normalizes its native catalogue to.
const (
	TypeInteger  = "INTEGER"
	TypeFloat    = "FLOAT"
	TypeDecimal  = "DECIMAL"
	TypeString   = "STRING"
	TypeBoolean  = "BOOLEAN"
	TypeDate     = "DATE"
	TypeDatetime = "DATETIME"
	TypeBinary   = "BINARY"
	TypeUnknown  = "UNKNOWN"
)

// ColumnType is the backend-agnostic schema entry for one column.
// Native keeps the backend's own type object for round-tripping into further
// queries and is never serialized.
type ColumnType struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Native any            `json:"-"`
	Extras map[string]any `json:"extras,omitempty"`
}

// Table is a small, ordered result set: column names plus row values in the
// same column order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Records converts rows to column-name keyed maps. Column order is lost, so
// callers that care about positional comparison should use Rows directly.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Scalar returns the first value of the first row, used by aggregate queries.
func (t Table) Scalar() (any, bool) {
	if len(t.Rows) == 0 || len(t.Rows[0]) == 0 {
		return nil, false
	}
	return t.Rows[0][0], true
}
