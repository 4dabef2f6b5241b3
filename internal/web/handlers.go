package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudevents/sdk-go/v2/binding"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/load"
	"github.com/quarrydata/quarry/internal/pipeline"
)

// JobResponse is the API shape of a job record.
type JobResponse struct {
	ID          string     `json:"id"`
	Bucket      string     `json:"bucket"`
	FileKey     string     `json:"fileKey"`
	State       string     `json:"state"`
	ContentHash string     `json:"contentHash,omitempty"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	TableName   string     `json:"tableName,omitempty"`
	RowsLoaded  int        `json:"rowsLoaded"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

func jobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		Bucket:      j.Bucket,
		FileKey:     j.FileKey,
		State:       string(j.State),
		ContentHash: j.ContentHash,
		Attempts:    j.Attempts,
		Error:       j.Error,
		Warnings:    j.Warnings,
		TableName:   j.TableName,
		RowsLoaded:  j.RowsLoaded,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.HealthCheck != nil {
		if err := s.opts.HealthCheck(r.Context()); err != nil {
			respondError(w, r, http.StatusServiceUnavailable, "dependency check failed")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvent accepts an upload notification, either as a CloudEvent
// (binary or structured mode, the shape bucket notifications arrive in)
// or as a bare JSON object with bucket and name fields. Processing is
// asynchronous: the response carries the created job in state received.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeEvent(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	j, err := s.enqueuer.Enqueue(r.Context(), ev)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, jobResponse(j))
}

// decodeEvent extracts the bucket/key pair from the request.
func decodeEvent(r *http.Request) (pipeline.Event, error) {
	msg := cehttp.NewMessageFromHttpRequest(r)
	ce, err := binding.ToEvent(r.Context(), msg)
	if err == nil {
		var ev pipeline.Event
		if err := ce.DataAs(&ev); err != nil {
			return pipeline.Event{}, fmt.Errorf("decode event data: %w", err)
		}
		return ev, nil
	}
	if !errors.Is(err, binding.ErrUnknownEncoding) {
		return pipeline.Event{}, fmt.Errorf("decode cloud event: %w", err)
	}

	// Plain JSON fallback for manual triggers.
	var ev pipeline.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		return pipeline.Event{}, fmt.Errorf("decode event body: %w", err)
	}
	return ev, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "job lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, jobResponse(j))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	jobs, err := s.jobs.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "job listing failed")
		return
	}

	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.catalog.ListTables(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "table listing failed")
		return
	}
	if tables == nil {
		tables = []load.TableInfo{}
	}
	respondJSON(w, http.StatusOK, tables)
}

func (s *Server) handleTableRows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", load.DefaultFetchLimit)

	rows, err := s.catalog.FetchRows(r.Context(), name, limit)
	if errors.Is(err, load.ErrTableNotFound) {
		respondError(w, r, http.StatusNotFound, "table not found")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "row fetch failed")
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"table": name,
		"count": len(rows),
		"rows":  rows,
	})
}

// queryInt parses a positive integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
