// Package job models the per-file unit of pipeline execution: a Job record
// with a strict one-directional state machine and an itemized warning list.
package job

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a stage of the per-file pipeline state machine.
type State string

const (
	StateReceived              State = "received"
	StateClassifying           State = "classifying"
	StateStructuring           State = "structuring"
	StateExtracting            State = "extracting"
	StateSchemaReady           State = "schema_ready"
	StateLoading               State = "loading"
	StateCompleted             State = "completed"
	StateCompletedWithWarnings State = "completed_with_warnings"
	StateFailed                State = "failed"
)

// transitions lists the forward edges of the state machine. There are no
// backward edges; StateFailed is additionally reachable from any
// non-terminal state.
var transitions = map[State][]State{
	StateReceived:    {StateClassifying},
	StateClassifying: {StateStructuring, StateExtracting},
	StateStructuring: {StateSchemaReady},
	StateExtracting:  {StateSchemaReady},
	StateSchemaReady: {StateLoading, StateCompleted, StateCompletedWithWarnings},
	StateLoading:     {StateCompleted, StateCompletedWithWarnings},
}

// Terminal reports whether a state ends the job.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithWarnings, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal forward edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is the persistent record for one upload event.
type Job struct {
	ID          uuid.UUID
	Bucket      string
	FileKey     string
	ContentHash string
	State       State
	Attempts    int
	Error       string
	Warnings    []string
	TableName   string
	RowsLoaded  int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// New creates a Job in StateReceived for an upload event.
func New(bucket, fileKey string) *Job {
	return &Job{
		ID:        uuid.New(),
		Bucket:    bucket,
		FileKey:   fileKey,
		State:     StateReceived,
		StartedAt: time.Now().UTC(),
	}
}

// Transition advances the job to the next state, enforcing the forward-only
// machine. Reaching a terminal state stamps FinishedAt; terminal jobs are
// immutable.
func (j *Job) Transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", j.State, to, j.ID)
	}
	j.State = to
	if to.Terminal() {
		now := time.Now().UTC()
		j.FinishedAt = &now
	}
	return nil
}

// Warn appends a warning to the job's itemized list.
func (j *Job) Warn(msg string) {
	j.Warnings = append(j.Warnings, msg)
}
