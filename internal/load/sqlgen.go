package load

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarrydata/quarry/internal/tabular"
)

// identRe is the full identifier alphabet the sanitizers produce. The
// loader re-validates because identifiers are interpolated into DDL.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validIdent(s string) bool {
	return identRe.MatchString(s)
}

// quoteIdent double-quotes an identifier for SQL. Inputs have already been
// validated against identRe; quoting guards against reserved words.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// columnSQLType maps an inferred column type to its Postgres type.
func columnSQLType(t tabular.ColumnType) string {
	switch t {
	case tabular.TypeInteger:
		return "bigint"
	case tabular.TypeReal:
		return "double precision"
	case tabular.TypeDate:
		return "date"
	default:
		return "text"
	}
}

// createTableSQL renders idempotent DDL for a parsed table.
func createTableSQL(t *tabular.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), columnSQLType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(t.Name), strings.Join(cols, ", "))
}

// insertSQL renders a positional insert statement for one row.
func insertSQL(t *tabular.Table) string {
	names := make([]string, len(t.Columns))
	params := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = quoteIdent(c.Name)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(t.Name), strings.Join(names, ", "), strings.Join(params, ", "))
}

// rowValues converts a row's raw strings into typed insert parameters.
// Empty cells become NULL. Inference guarantees non-empty values parse;
// a value that does not is an insert failure that rolls back the batch.
func rowValues(t *tabular.Table, row map[string]string) ([]any, error) {
	vals := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		raw := strings.TrimSpace(row[c.Name])
		if raw == "" {
			vals[i] = nil
			continue
		}

		switch c.Type {
		case tabular.TypeInteger:
			n, err := parseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			vals[i] = n
		case tabular.TypeReal:
			f, err := parseFloat(raw)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			vals[i] = f
		case tabular.TypeDate:
			d, ok := tabular.ParseDate(raw)
			if !ok {
				return nil, fmt.Errorf("column %s: invalid date %q", c.Name, raw)
			}
			vals[i] = d
		default:
			vals[i] = raw
		}
	}
	return vals, nil
}
