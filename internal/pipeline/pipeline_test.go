package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydata/quarry/internal/extract"
	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/load"
	"github.com/quarrydata/quarry/internal/objstore"
	"github.com/quarrydata/quarry/internal/tabular"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	getFails int
	gets     int
}

func (f *fakeStore) Get(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getFails > 0 {
		f.getFails--
		return nil, errors.New("transient store error")
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeStore) List(_ context.Context, _, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeStore) Put(_ context.Context, _, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		f.objects[key] = data
	}
	return nil
}

type fakeDocExtractor struct {
	doc      *extract.Document
	warnings []string
	err      error
}

func (f *fakeDocExtractor) Image(_ context.Context, sourceKey, _ string, _ []byte) (*extract.Document, []string, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	doc := *f.doc
	doc.SourceKey = sourceKey
	return &doc, f.warnings, nil
}

func (f *fakeDocExtractor) PDF(ctx context.Context, sourceKey string, data []byte) (*extract.Document, []string, error) {
	return f.Image(ctx, sourceKey, "application/pdf", data)
}

type fakeLoader struct {
	mu     sync.Mutex
	calls  int
	tables []*tabular.Table
	errs   []error
}

func (f *fakeLoader) Load(_ context.Context, t *tabular.Table, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	f.tables = append(f.tables, t)
	return len(t.Rows), nil
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{
		Workers:         2,
		StageTimeout:    5 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    time.Millisecond,
		FatalLoadErrors: []error{load.ErrSchemaConflict},
	}
}

func newTestPipeline(t *testing.T, store *fakeStore, ex DocumentExtractor, ld TableLoader) (*Pipeline, *job.MemoryStore) {
	t.Helper()
	if ex == nil {
		ex = &fakeDocExtractor{doc: &extract.Document{}}
	}
	jobs := job.NewMemoryStore()
	p, err := New(store, ex, ld, jobs, testConfig())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, jobs
}

func waitTerminal(t *testing.T, jobs *job.MemoryStore, id uuid.UUID) *job.Job {
	t.Helper()
	var final *job.Job
	require.Eventually(t, func() bool {
		j, err := jobs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		final = j
		return j.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return final
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func TestPipelineCSVHappyPath(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"uploads/sales.csv": []byte("region,amount\nnorth,3\nsouth,5\n"),
	}}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/sales.csv"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateCompleted, final.State)
	assert.Equal(t, "sales", final.TableName)
	assert.Equal(t, 2, final.RowsLoaded)
	assert.Empty(t, final.Warnings)
	assert.NotEmpty(t, final.ContentHash)
	assert.NotNil(t, final.FinishedAt)

	require.Equal(t, 1, loader.callCount())
	loaded := loader.tables[0]
	assert.Equal(t, "sales", loaded.Name)
	assert.Equal(t, []string{"region", "amount"}, loaded.ColumnNames())
	assert.Equal(t, tabular.TypeInteger, loaded.Columns[1].Type)
}

func TestPipelineUnsupportedFileFails(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"uploads/readme.txt": []byte("just some notes\n"),
	}}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/readme.txt"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateFailed, final.State)
	assert.Contains(t, final.Error, "UnsupportedFileType")
	assert.Zero(t, loader.callCount())
}

func TestPipelinePartialOCRCompletesWithWarnings(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"scans/invoice.png": pngHeader,
	}}
	ex := &fakeDocExtractor{
		doc: &extract.Document{Pages: []extract.Page{
			{Number: 1, Text: "Invoice 42\nTotal 99", OK: true},
			{Number: 2, OK: false},
		}},
		warnings: []string{"page 2: extraction failed"},
	}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, ex, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "scans/invoice.png"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateCompletedWithWarnings, final.State)
	assert.Equal(t, "extracted_documents", final.TableName)
	assert.Equal(t, []string{"page 2: extraction failed"}, final.Warnings)
	assert.Equal(t, 2, final.RowsLoaded, "one row per non-empty line of the surviving page")
}

func TestPipelineRetriesTransientFetch(t *testing.T) {
	store := &fakeStore{
		objects:  map[string][]byte{"uploads/retry.csv": []byte("a,b\n1,2\n")},
		getFails: 2,
	}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/retry.csv"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateCompleted, final.State)
	assert.GreaterOrEqual(t, final.Attempts, 2)
	assert.Equal(t, 3, store.getCount())
}

func TestPipelineExhaustedRetriesFail(t *testing.T) {
	store := &fakeStore{
		objects:  map[string][]byte{"uploads/gone.csv": []byte("a\n1\n")},
		getFails: 10,
	}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/gone.csv"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateFailed, final.State)
	assert.Contains(t, final.Error, "fetch object")
	assert.Zero(t, loader.callCount())
}

func TestPipelineDuplicateContentSkipsLoad(t *testing.T) {
	content := []byte("sku,qty\nA,1\n")
	store := &fakeStore{objects: map[string][]byte{
		"uploads/stock.csv":      content,
		"uploads/stock_copy.csv": content,
	}}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	first, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/stock.csv"})
	require.NoError(t, err)
	waitTerminal(t, jobs, first.ID)
	require.Equal(t, 1, loader.callCount())

	second, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/stock_copy.csv"})
	require.NoError(t, err)
	final := waitTerminal(t, jobs, second.ID)

	assert.Equal(t, job.StateCompletedWithWarnings, final.State)
	assert.Equal(t, "stock", final.TableName, "points at the table the first job loaded")
	assert.Zero(t, final.RowsLoaded)
	require.Len(t, final.Warnings, 1)
	assert.Contains(t, final.Warnings[0], "already ingested")
	assert.Equal(t, 1, loader.callCount(), "no second load for identical content")
}

func TestPipelineSchemaConflictIsNotRetried(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"uploads/sales.csv": []byte("region,amount\nnorth,3\n"),
	}}
	loader := &fakeLoader{errs: []error{
		fmt.Errorf("load: %w", load.ErrSchemaConflict),
		fmt.Errorf("load: %w", load.ErrSchemaConflict),
		fmt.Errorf("load: %w", load.ErrSchemaConflict),
	}}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/sales.csv"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateFailed, final.State)
	assert.Contains(t, final.Error, "schema conflict")
	assert.Equal(t, 1, loader.callCount(), "fatal load errors stop the retry loop")
}

func TestPipelineTransientLoadErrorRetried(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"uploads/sales.csv": []byte("region,amount\nnorth,3\n"),
	}}
	loader := &fakeLoader{errs: []error{errors.New("connection reset")}}
	p, jobs := newTestPipeline(t, store, nil, loader)

	j, err := p.Enqueue(context.Background(), Event{Bucket: "b", Key: "uploads/sales.csv"})
	require.NoError(t, err)

	final := waitTerminal(t, jobs, j.ID)
	assert.Equal(t, job.StateCompleted, final.State)
	assert.Equal(t, 2, loader.callCount())
}

func TestPipelineRejectsIncompleteEvent(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeStore{objects: map[string][]byte{}}, nil, &fakeLoader{})

	_, err := p.Enqueue(context.Background(), Event{Bucket: "b"})
	assert.Error(t, err)

	_, err = p.Enqueue(context.Background(), Event{Key: "k"})
	assert.Error(t, err)
}

func TestPollerEnqueuesOnlyUnhandledKeys(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"uploads/one.csv": []byte("a\n1\n"),
		"uploads/two.csv": []byte("b\n2\n"),
	}}
	loader := &fakeLoader{}
	p, jobs := newTestPipeline(t, store, nil, loader)

	poller := NewPoller(p, "b", "uploads/", time.Minute)
	require.NoError(t, poller.sweep(context.Background()))

	require.Eventually(t, func() bool {
		recent, err := jobs.Recent(context.Background(), 10)
		if err != nil || len(recent) != 2 {
			return false
		}
		for _, j := range recent {
			if !j.State.Terminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	// A second sweep finds both keys handled and enqueues nothing.
	require.NoError(t, poller.sweep(context.Background()))
	recent, err := jobs.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
