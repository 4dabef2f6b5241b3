package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no job matches the lookup.
var ErrNotFound = errors.New("job not found")

// Store persists Job records.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Update(ctx context.Context, j *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Recent(ctx context.Context, limit int) ([]*Job, error)

	// FindCompletedByHash returns the most recent successfully completed
	// job for a content hash, or ErrNotFound. Used for idempotent
	// reprocessing of unchanged uploads.
	FindCompletedByHash(ctx context.Context, hash string) (*Job, error)

	// HasTerminalForKey reports whether any terminal job exists for an
	// object key. The bucket poller uses it to skip already-handled files.
	HasTerminalForKey(ctx context.Context, bucket, key string) (bool, error)
}

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the jobs table if it is missing.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_jobs (
			id           uuid PRIMARY KEY,
			bucket       text NOT NULL,
			file_key     text NOT NULL,
			content_hash text,
			state        text NOT NULL,
			attempts     int NOT NULL DEFAULT 0,
			error        text NOT NULL DEFAULT '',
			warnings     text[] NOT NULL DEFAULT '{}',
			table_name   text NOT NULL DEFAULT '',
			rows_loaded  int NOT NULL DEFAULT 0,
			started_at   timestamptz NOT NULL,
			finished_at  timestamptz
		);
		CREATE INDEX IF NOT EXISTS ingest_jobs_hash_idx ON ingest_jobs (content_hash);
		CREATE INDEX IF NOT EXISTS ingest_jobs_key_idx ON ingest_jobs (bucket, file_key);
	`)
	if err != nil {
		return fmt.Errorf("migrate ingest_jobs: %w", err)
	}
	return nil
}

const jobColumns = `id, bucket, file_key, content_hash, state, attempts,
	error, warnings, table_name, rows_loaded, started_at, finished_at`

func (s *PGStore) Create(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.Bucket, j.FileKey, j.ContentHash, j.State, j.Attempts,
		j.Error, j.Warnings, j.TableName, j.RowsLoaded, j.StartedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.ID, err)
	}
	return nil
}

func (s *PGStore) Update(ctx context.Context, j *Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_jobs
		SET content_hash = $2, state = $3, attempts = $4, error = $5,
		    warnings = $6, table_name = $7, rows_loaded = $8, finished_at = $9
		WHERE id = $1`,
		j.ID, j.ContentHash, j.State, j.Attempts, j.Error,
		j.Warnings, j.TableName, j.RowsLoaded, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *PGStore) Recent(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PGStore) FindCompletedByHash(ctx context.Context, hash string) (*Job, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM ingest_jobs
		WHERE content_hash = $1 AND state IN ($2, $3)
		ORDER BY started_at DESC LIMIT 1`,
		hash, StateCompleted, StateCompletedWithWarnings)
	return scanJob(row)
}

func (s *PGStore) HasTerminalForKey(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ingest_jobs
			WHERE bucket = $1 AND file_key = $2 AND finished_at IS NOT NULL
		)`, bucket, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check terminal job for %s/%s: %w", bucket, key, err)
	}
	return exists, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.Bucket, &j.FileKey, &j.ContentHash, &j.State,
		&j.Attempts, &j.Error, &j.Warnings, &j.TableName, &j.RowsLoaded,
		&j.StartedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}
