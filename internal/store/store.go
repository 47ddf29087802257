package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/endrilickollari/ldp/internal/models"
)

// ErrNotFound is returned when no job exists for the given id.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a state change would violate the job
// state machine: leaving a terminal state, skipping PROCESSING, or moving
// progress backwards. The stored job is left untouched.
var ErrInvalidTransition = errors.New("invalid job transition")

// CreateParams collects the submission fields persisted on a new job.
type CreateParams struct {
	ID           string // optional; generated when empty
	UserID       string
	Filename     string
	Kind         string
	FileSize     int64
	PageStart    *int
	PageEnd      *int
	OutputFormat string
}

// JobStore holds the authoritative state machine for each job. It is the only
// place job state is mutated. The worker owning a job drives Begin,
// UpdateProgress, and exactly one of Complete or Fail; Get serves snapshots
// to status callers and never blocks on the owning worker.
type JobStore interface {
	// Create inserts a job in QUEUED.
	Create(ctx context.Context, p CreateParams) (models.Job, error)
	// Begin transitions QUEUED -> PROCESSING when a worker claims the job.
	Begin(ctx context.Context, id string) error
	// UpdateProgress sets the stage label and progress. Valid only while
	// PROCESSING; progress must not decrease.
	UpdateProgress(ctx context.Context, id, stage string, progress int) error
	// Complete transitions PROCESSING -> SUCCESS and records the result.
	Complete(ctx context.Context, id string, result json.RawMessage) error
	// Fail transitions PROCESSING -> FAILURE and records the error.
	Fail(ctx context.Context, id string, jobErr models.JobError) error
	// Get returns a snapshot of the job's current field values.
	Get(ctx context.Context, id string) (models.Job, error)
}
