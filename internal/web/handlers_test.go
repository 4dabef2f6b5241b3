package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/load"
	"github.com/quarrydata/quarry/internal/pipeline"
)

type fakeEnqueuer struct {
	events []pipeline.Event
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, ev pipeline.Event) (*job.Job, error) {
	if ev.Bucket == "" || ev.Key == "" {
		return nil, errors.New("event requires bucket and key")
	}
	f.events = append(f.events, ev)
	return job.New(ev.Bucket, ev.Key), nil
}

type fakeCatalog struct {
	tables []load.TableInfo
	rows   map[string][]map[string]any
}

func (f *fakeCatalog) ListTables(context.Context) ([]load.TableInfo, error) {
	return f.tables, nil
}

func (f *fakeCatalog) FetchRows(_ context.Context, name string, limit int) ([]map[string]any, error) {
	rows, ok := f.rows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", load.ErrTableNotFound, name)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func newTestServer(t *testing.T) (*Server, *fakeEnqueuer, *job.MemoryStore, *fakeCatalog) {
	t.Helper()
	enq := &fakeEnqueuer{}
	jobs := job.NewMemoryStore()
	catalog := &fakeCatalog{rows: map[string][]map[string]any{}}
	return NewServer(enq, jobs, catalog, Options{}), enq, jobs, catalog
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzDependencyDown(t *testing.T) {
	s := NewServer(&fakeEnqueuer{}, job.NewMemoryStore(), &fakeCatalog{}, Options{
		HealthCheck: func(context.Context) error { return errors.New("db down") },
	})
	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPostEventJSON(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"bucket":"uploads","name":"data/sales.csv"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "received", resp.State)
	assert.Equal(t, "data/sales.csv", resp.FileKey)

	require.Len(t, enq.events, 1)
	assert.Equal(t, pipeline.Event{Bucket: "uploads", Key: "data/sales.csv"}, enq.events[0])
}

func TestPostEventBinaryCloudEvent(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"bucket":"uploads","name":"scans/doc.pdf"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ce-specversion", "1.0")
	req.Header.Set("ce-id", "1234")
	req.Header.Set("ce-type", "google.cloud.storage.object.v1.finalized")
	req.Header.Set("ce-source", "//storage.googleapis.com/projects/_/buckets/uploads")

	rec := doRequest(t, s, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, enq.events, 1)
	assert.Equal(t, pipeline.Event{Bucket: "uploads", Key: "scans/doc.pdf"}, enq.events[0])
}

func TestPostEventRejectsIncomplete(t *testing.T) {
	s, enq, _, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"bucket":"uploads"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", body)
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, enq.events)
}

func TestPostEventRejectsMalformedBody(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	s, _, jobs, _ := newTestServer(t)

	j := job.New("b", "uploads/sales.csv")
	j.TableName = "sales"
	require.NoError(t, jobs.Create(context.Background(), j))

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+j.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, j.ID.String(), resp.ID)
	assert.Equal(t, "sales", resp.TableName)
}

func TestGetJobNotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobInvalidID(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	s, _, jobs, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, jobs.Create(context.Background(), job.New("b", fmt.Sprintf("f%d.csv", i))))
	}

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)
}

func TestListTables(t *testing.T) {
	s, _, _, catalog := newTestServer(t)
	catalog.tables = []load.TableInfo{
		{Name: "sales", SourceKey: "uploads/sales.csv", Columns: []string{"region", "amount"}, CreatedAt: time.Now()},
	}

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []load.TableInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "sales", resp[0].Name)
}

func TestListTablesEmpty(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/tables", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestTableRows(t *testing.T) {
	s, _, _, catalog := newTestServer(t)
	catalog.rows["sales"] = []map[string]any{
		{"region": "north", "amount": float64(3)},
		{"region": "south", "amount": float64(5)},
	}

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/tables/sales/rows?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Table string           `json:"table"`
		Count int              `json:"count"`
		Rows  []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sales", resp.Table)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "north", resp.Rows[0]["region"])
}

func TestTableRowsNotFound(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/api/tables/missing/rows", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
