// Package pipeline drives each uploaded file through classification,
// extraction or structuring, schema synthesis, and loading, while
// recording the job state machine.
//
// A bounded worker pool processes files independently: one worker owns a
// file's pipeline to completion, stages run in strict order, and nothing
// in one file's pipeline can affect another file's job or table.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/quarrydata/quarry/internal/classify"
	"github.com/quarrydata/quarry/internal/extract"
	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/objstore"
	"github.com/quarrydata/quarry/internal/schema"
	"github.com/quarrydata/quarry/internal/tabular"
)

// Pipeline error taxonomy. Stage-local problems (malformed rows, failed
// pages) surface as job warnings instead.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrTimeoutExceeded     = errors.New("stage timeout exceeded")
)

// Event is the trigger contract: a newly uploaded object. The orchestrator
// does not care what delivered it (webhook, queue consumer, poller).
type Event struct {
	Bucket string `json:"bucket"`
	Key    string `json:"name"`
}

// DocumentExtractor is the OCR stage as the orchestrator consumes it.
// *extract.Runner satisfies it.
type DocumentExtractor interface {
	Image(ctx context.Context, sourceKey, mimeType string, data []byte) (*extract.Document, []string, error)
	PDF(ctx context.Context, sourceKey string, data []byte) (*extract.Document, []string, error)
}

// TableLoader is the load stage as the orchestrator consumes it.
// *load.Loader satisfies it.
type TableLoader interface {
	Load(ctx context.Context, t *tabular.Table, sourceKey string) (int, error)
}

// Config tunes the orchestrator.
type Config struct {
	// Workers bounds the concurrent file pipelines.
	Workers int

	// StageTimeout bounds each stage (fetch, extract, load) per file.
	StageTimeout time.Duration

	// MaxAttempts bounds retries of transient store operations.
	MaxAttempts int

	// RetryBackoff is the initial delay between retries; it doubles.
	RetryBackoff time.Duration

	// FatalLoadErrors are load failures that must not be retried and fail
	// the job immediately (e.g. load.ErrSchemaConflict).
	FatalLoadErrors []error
}

// Pipeline is the per-file orchestrator plus its worker pool.
type Pipeline struct {
	store     objstore.Store
	extractor DocumentExtractor
	loader    TableLoader
	jobs      job.Store
	cfg       Config

	pool *ants.Pool
	wg   sync.WaitGroup
}

// New creates a Pipeline with a bounded ants worker pool.
func New(store objstore.Store, extractor DocumentExtractor, loader TableLoader, jobs job.Store, cfg Config) (*Pipeline, error) {
	if store == nil || extractor == nil || loader == nil || jobs == nil {
		return nil, errors.New("pipeline: all collaborators are required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Pipeline{
		store:     store,
		extractor: extractor,
		loader:    loader,
		jobs:      jobs,
		cfg:       cfg,
		pool:      pool,
	}, nil
}

// Enqueue records a new job for the event and schedules its pipeline on
// the worker pool. It returns the created job immediately; processing is
// asynchronous.
func (p *Pipeline) Enqueue(ctx context.Context, ev Event) (*job.Job, error) {
	if ev.Bucket == "" || ev.Key == "" {
		return nil, errors.New("event requires bucket and key")
	}

	j := job.New(ev.Bucket, ev.Key)
	if err := p.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	p.wg.Add(1)
	submitted := *j
	if err := p.pool.Submit(func() {
		defer p.wg.Done()
		p.process(context.Background(), &submitted)
	}); err != nil {
		p.wg.Done()
		p.finalize(ctx, j, fmt.Errorf("schedule job: %w", err))
		return j, nil
	}

	return j, nil
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (p *Pipeline) Close() {
	p.wg.Wait()
	p.pool.Release()
}

// process drives one file through every stage. All failures funnel into
// finalize, which stamps the terminal state exactly once.
func (p *Pipeline) process(ctx context.Context, j *job.Job) {
	logger := slog.With("job_id", j.ID, "bucket", j.Bucket, "key", j.FileKey)
	logger.Info("job started")

	if err := p.run(ctx, j, logger); err != nil {
		p.finalize(ctx, j, err)
		return
	}
	p.finalize(ctx, j, nil)
}

func (p *Pipeline) run(ctx context.Context, j *job.Job, logger *slog.Logger) error {
	// Fetch. Store reads are the canonical transient failure: retry with
	// backoff before declaring the job failed.
	var data []byte
	err := p.stage(ctx, func(sctx context.Context) error {
		return retryWithBackoff(sctx, logger, func() error {
			var err error
			data, err = p.store.Get(sctx, j.Bucket, j.FileKey)
			if err != nil {
				j.Attempts++
			}
			return err
		}, p.cfg.MaxAttempts, p.cfg.RetryBackoff)
	})
	if err != nil {
		return fmt.Errorf("fetch object: %w", err)
	}

	sum := sha256.Sum256(data)
	j.ContentHash = hex.EncodeToString(sum[:])

	// Classify.
	if err := p.step(ctx, j, job.StateClassifying); err != nil {
		return err
	}
	kind, mime := classify.Detect(j.FileKey, prefix(data))
	logger.Info("file classified", "kind", kind.String(), "mime", mime, "size", len(data))

	// Branch on Kind; the switch is exhaustive on purpose.
	var table *tabular.Table
	switch kind {
	case classify.KindUnsupported:
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, j.FileKey)

	case classify.KindCSV:
		if err := p.step(ctx, j, job.StateStructuring); err != nil {
			return err
		}
		table, err = tabular.Structure(data, 0)
		if err != nil {
			return fmt.Errorf("structure csv: %w", err)
		}
		for _, w := range table.Warnings {
			j.Warn(w)
		}
		table.Name = schema.TableName(j.FileKey)

	case classify.KindImage, classify.KindPDF:
		if err := p.step(ctx, j, job.StateExtracting); err != nil {
			return err
		}
		var doc *extract.Document
		var warnings []string
		err = p.stage(ctx, func(sctx context.Context) error {
			var err error
			if kind == classify.KindImage {
				doc, warnings, err = p.extractor.Image(sctx, j.FileKey, mime, data)
			} else {
				doc, warnings, err = p.extractor.PDF(sctx, j.FileKey, data)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("extract document: %w", err)
		}
		for _, w := range warnings {
			j.Warn(w)
		}
		table = schema.FromDocument(doc)
	}

	if err := p.step(ctx, j, job.StateSchemaReady); err != nil {
		return err
	}
	j.TableName = table.Name

	// Idempotent reprocessing: an unchanged content hash reuses the prior
	// outcome instead of inserting duplicate rows.
	if prior, err := p.jobs.FindCompletedByHash(ctx, j.ContentHash); err == nil && prior.ID != j.ID {
		logger.Info("duplicate content, skipping load", "prior_job", prior.ID)
		j.TableName = prior.TableName
		j.RowsLoaded = 0
		j.Warn(fmt.Sprintf("content already ingested by job %s; load skipped", prior.ID))
		return nil
	}

	// Load.
	if err := p.step(ctx, j, job.StateLoading); err != nil {
		return err
	}
	var rows int
	err = p.stage(ctx, func(sctx context.Context) error {
		return retryWithBackoff(sctx, logger, func() error {
			var err error
			rows, err = p.loader.Load(sctx, table, j.FileKey)
			if err != nil && p.isFatalLoad(err) {
				return backoffAbort{err}
			}
			if err != nil {
				j.Attempts++
			}
			return err
		}, p.cfg.MaxAttempts, p.cfg.RetryBackoff)
	})
	if err != nil {
		var abort backoffAbort
		if errors.As(err, &abort) {
			return abort.err
		}
		return fmt.Errorf("load table %q: %w", table.Name, err)
	}

	j.RowsLoaded = rows
	logger.Info("rows committed", "table", table.Name, "rows", rows)
	return nil
}

// finalize stamps the terminal state and persists the job record.
func (p *Pipeline) finalize(ctx context.Context, j *job.Job, runErr error) {
	logger := slog.With("job_id", j.ID, "key", j.FileKey)

	terminal := job.StateCompleted
	switch {
	case runErr != nil:
		terminal = job.StateFailed
		j.Error = errorLabel(runErr) + ": " + runErr.Error()
	case len(j.Warnings) > 0:
		terminal = job.StateCompletedWithWarnings
	}

	if err := j.Transition(terminal); err != nil {
		// Transition table bug; record the failure rather than dropping it.
		logger.Error("illegal terminal transition", "error", err)
		j.State = job.StateFailed
		now := time.Now().UTC()
		j.FinishedAt = &now
	}

	if err := p.jobs.Update(ctx, j); err != nil {
		logger.Error("persist terminal job state", "error", err)
	}

	logger.Info("job finished",
		"state", string(j.State), "warnings", len(j.Warnings),
		"rows", j.RowsLoaded, "error", j.Error)
}

// step advances the state machine and persists the intermediate state.
func (p *Pipeline) step(ctx context.Context, j *job.Job, to job.State) error {
	if err := j.Transition(to); err != nil {
		return err
	}
	if err := p.jobs.Update(ctx, j); err != nil {
		return fmt.Errorf("persist state %s: %w", to, err)
	}
	return nil
}

// stage runs fn under the per-stage timeout, mapping a deadline hit to
// ErrTimeoutExceeded. A timed-out stage aborts the remaining stages of
// this file only.
func (p *Pipeline) stage(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	err := fn(sctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || sctx.Err() == context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeoutExceeded, err)
	}
	return err
}

func (p *Pipeline) isFatalLoad(err error) bool {
	for _, fatal := range p.cfg.FatalLoadErrors {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}

// backoffAbort wraps an error that must stop the retry loop immediately.
type backoffAbort struct{ err error }

func (b backoffAbort) Error() string { return b.err.Error() }
func (b backoffAbort) Unwrap() error { return b.err }

// errorLabel maps an error to its taxonomy name for the job record.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFileType):
		return "UnsupportedFileType"
	case errors.Is(err, ErrTimeoutExceeded):
		return "TimeoutExceeded"
	default:
		return "PipelineError"
	}
}

func prefix(data []byte) []byte {
	if len(data) > classify.SniffLen {
		return data[:classify.SniffLen]
	}
	return data
}
