package load

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrTableNotFound is returned for row fetches against unknown tables.
var ErrTableNotFound = errors.New("table not found")

// DefaultFetchLimit caps row fetches when the caller does not specify one.
const DefaultFetchLimit = 100

// TableInfo is one catalog entry.
type TableInfo struct {
	Name      string    `json:"name"`
	SourceKey string    `json:"sourceKey"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListTables returns all loaded tables from the catalog. Internal
// bookkeeping tables never appear because only the Loader registers
// entries.
func (l *Loader) ListTables(ctx context.Context) ([]TableInfo, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT name, source_key, columns, created_at
		FROM ingest_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var infos []TableInfo
	for rows.Next() {
		var info TableInfo
		if err := rows.Scan(&info.Name, &info.SourceKey, &info.Columns, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// FetchRows returns up to limit rows of a cataloged table as key-value
// mappings. The name is resolved through the catalog before any SQL is
// built, so only loader-created tables are reachable.
func (l *Loader) FetchRows(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}

	var cataloged string
	err := l.pool.QueryRow(ctx,
		`SELECT name FROM ingest_tables WHERE name = $1`, name).Scan(&cataloged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve table %q: %w", name, err)
	}

	rows, err := l.pool.Query(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT $1", quoteIdent(cataloged)), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch rows of %q: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row of %q: %w", name, err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
