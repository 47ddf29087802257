package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/endrilickollari/ldp/internal/models"
)

// Memory is a mutex-guarded in-process JobStore, used by tests and
// single-node deployments without Postgres.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, p CreateParams) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := m.jobs[id]; exists {
		return models.Job{}, fmt.Errorf("job %s already exists", id)
	}

	job := &models.Job{
		ID:           id,
		UserID:       p.UserID,
		Status:       models.StatusQueued,
		Filename:     p.Filename,
		Kind:         p.Kind,
		FileSize:     p.FileSize,
		PageStart:    copyInt(p.PageStart),
		PageEnd:      copyInt(p.PageEnd),
		OutputFormat: p.OutputFormat,
		CreatedAt:    m.now(),
	}
	m.jobs[id] = job
	return snapshot(job), nil
}

func (m *Memory) Begin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusQueued {
		return fmt.Errorf("begin job %s from %s: %w", id, job.Status, ErrInvalidTransition)
	}
	job.Status = models.StatusProcessing
	return nil
}

func (m *Memory) UpdateProgress(_ context.Context, id, stage string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusProcessing {
		return fmt.Errorf("progress update on job %s in %s: %w", id, job.Status, ErrInvalidTransition)
	}
	if progress < job.Progress {
		return fmt.Errorf("progress on job %s would decrease %d -> %d: %w", id, job.Progress, progress, ErrInvalidTransition)
	}
	job.Stage = stage
	job.Progress = progress
	return nil
}

func (m *Memory) Complete(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusProcessing {
		return fmt.Errorf("complete job %s from %s: %w", id, job.Status, ErrInvalidTransition)
	}
	job.Status = models.StatusSuccess
	job.Stage = "completed"
	job.Progress = 100
	job.Result = append(json.RawMessage(nil), result...)
	done := m.now()
	job.CompletedAt = &done
	return nil
}

func (m *Memory) Fail(_ context.Context, id string, jobErr models.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusProcessing {
		return fmt.Errorf("fail job %s from %s: %w", id, job.Status, ErrInvalidTransition)
	}
	job.Status = models.StatusFailure
	job.Stage = "failed"
	job.Error = &models.JobError{Kind: jobErr.Kind, Message: jobErr.Message}
	done := m.now()
	job.CompletedAt = &done
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return snapshot(job), nil
}

// snapshot deep-copies a job so readers never alias store-owned memory.
func snapshot(job *models.Job) models.Job {
	out := *job
	out.PageStart = copyInt(job.PageStart)
	out.PageEnd = copyInt(job.PageEnd)
	out.Result = append(json.RawMessage(nil), job.Result...)
	if job.Error != nil {
		e := *job.Error
		out.Error = &e
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
