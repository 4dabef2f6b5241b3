package load

import (
	"errors"
	"fmt"

	"github.com/quarrydata/quarry/internal/tabular"
)

// ErrSchemaConflict is returned when a target table already exists with a
// column set incompatible with the newly inferred schema. The existing
// table is never altered.
var ErrSchemaConflict = errors.New("schema conflict")

// existingColumn is one column of an already-persisted table, as reported
// by information_schema.
type existingColumn struct {
	Name    string
	SQLType string
}

// compareSchema checks a new table definition against the persisted column
// set. Comparison is order-sensitive and covers name and SQL type; any
// mismatch is a SchemaConflict, never an automatic migration.
func compareSchema(existing []existingColumn, want *tabular.Table) error {
	if len(existing) != len(want.Columns) {
		return fmt.Errorf("%w: table %q has %d columns, upload has %d",
			ErrSchemaConflict, want.Name, len(existing), len(want.Columns))
	}

	for i, col := range want.Columns {
		have := existing[i]
		if have.Name != col.Name {
			return fmt.Errorf("%w: table %q column %d is %q, upload has %q",
				ErrSchemaConflict, want.Name, i+1, have.Name, col.Name)
		}
		if have.SQLType != columnSQLType(col.Type) {
			return fmt.Errorf("%w: table %q column %q is %s, upload infers %s",
				ErrSchemaConflict, want.Name, col.Name, have.SQLType, columnSQLType(col.Type))
		}
	}
	return nil
}
