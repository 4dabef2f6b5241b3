// Package tabular turns delimited text into a typed in-memory table.
//
// The structurer is deliberately forgiving about input: headers are
// sanitized into safe SQL identifiers, rows whose field count does not
// match the header are skipped with a recorded warning, and column types
// are inferred over the full materialized column after parsing.
package tabular

// ColumnType is the inferred storage type for a column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
	TypeReal
	TypeDate
)

// String returns the lowercase type name used in logs and schema output.
func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeDate:
		return "date"
	default:
		return "text"
	}
}

// Column describes one table column.
type Column struct {
	RawHeader string     // header token as it appeared in the file
	Name      string     // sanitized identifier, unique within the table
	Type      ColumnType // inferred over the full column
}

// Table is the structured representation of parsed content prior to load.
// Rows map sanitized column names to raw string values; empty string means
// the cell was empty.
type Table struct {
	Name     string
	Columns  []Column
	Rows     []map[string]string
	Warnings []string
}

// ColumnNames returns the sanitized column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
