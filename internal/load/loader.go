// Package load writes parsed tables into Postgres.
//
// Each file loads in a single transaction: create-if-absent DDL, schema
// compatibility check, row inserts, and catalog registration all commit or
// roll back together. An advisory lock keyed by table name serializes
// concurrent uploads that derive the same table, so table creation never
// races.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrydata/quarry/internal/tabular"
)

// Loader owns the write path into the relational store.
type Loader struct {
	pool *pgxpool.Pool
}

// New creates a Loader on the given pool.
func New(pool *pgxpool.Pool) *Loader {
	return &Loader{pool: pool}
}

// Migrate creates the table catalog if it is missing.
func (l *Loader) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_tables (
			name       text PRIMARY KEY,
			source_key text NOT NULL,
			columns    text[] NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate ingest_tables: %w", err)
	}
	return nil
}

// Load writes all rows of a parsed table in one transaction and returns
// the committed row count. If the table exists with an incompatible column
// set, it returns ErrSchemaConflict and leaves the table untouched.
func (l *Loader) Load(ctx context.Context, t *tabular.Table, sourceKey string) (int, error) {
	if err := validateTable(t); err != nil {
		return 0, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize create+insert per derived table name. The lock releases on
	// commit or rollback.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, t.Name); err != nil {
		return 0, fmt.Errorf("acquire table lock %q: %w", t.Name, err)
	}

	existing, err := tableColumns(ctx, tx, t.Name)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		if err := compareSchema(existing, t); err != nil {
			return 0, err
		}
	} else {
		if _, err := tx.Exec(ctx, createTableSQL(t)); err != nil {
			return 0, fmt.Errorf("create table %q: %w", t.Name, err)
		}
	}

	inserted, err := insertRows(ctx, tx, t)
	if err != nil {
		return 0, err
	}

	if err := registerTable(ctx, tx, t, sourceKey); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit load of %q: %w", t.Name, err)
	}

	slog.Debug("table loaded", "table", t.Name, "rows", inserted, "source", sourceKey)
	return inserted, nil
}

// insertRows sends all row inserts through one pgx batch inside the
// transaction. Any failure aborts the batch and rolls back the file.
func insertRows(ctx context.Context, tx pgx.Tx, t *tabular.Table) (int, error) {
	if len(t.Rows) == 0 {
		return 0, nil
	}

	sql := insertSQL(t)
	batch := &pgx.Batch{}
	for i, row := range t.Rows {
		vals, err := rowValues(t, row)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i+1, err)
		}
		batch.Queue(sql, vals...)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return 0, fmt.Errorf("insert row %d into %q: %w", i+1, t.Name, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("flush batch for %q: %w", t.Name, err)
	}

	return len(t.Rows), nil
}

// tableColumns reads the persisted column set of a table, empty if the
// table does not exist.
func tableColumns(ctx context.Context, tx pgx.Tx, name string) ([]existingColumn, error) {
	rows, err := tx.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("inspect table %q: %w", name, err)
	}
	defer rows.Close()

	var cols []existingColumn
	for rows.Next() {
		var c existingColumn
		if err := rows.Scan(&c.Name, &c.SQLType); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", name, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// registerTable upserts the catalog entry for a loaded table.
func registerTable(ctx context.Context, tx pgx.Tx, t *tabular.Table, sourceKey string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ingest_tables (name, source_key, columns)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET source_key = EXCLUDED.source_key`,
		t.Name, sourceKey, t.ColumnNames())
	if err != nil {
		return fmt.Errorf("register table %q: %w", t.Name, err)
	}
	return nil
}

// validateTable re-checks identifiers before they reach DDL.
func validateTable(t *tabular.Table) error {
	if !validIdent(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	for _, c := range t.Columns {
		if !validIdent(c.Name) {
			return fmt.Errorf("table %q: invalid column name %q", t.Name, c.Name)
		}
	}
	return nil
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	if strings.ContainsAny(s, "xXpP") {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}
