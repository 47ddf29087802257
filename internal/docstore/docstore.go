// Package docstore holds uploaded document bytes between submission and
// processing, keyed by job ID.
package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/endrilickollari/ldp/internal/models"
)

// Store persists document bytes for later retrieval by the worker.
type Store interface {
	Put(ctx context.Context, jobID string, data []byte) error
	Get(ctx context.Context, jobID string) ([]byte, error)
	Delete(ctx context.Context, jobID string) error
}

// Local keeps documents on the filesystem under a single directory.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(jobID string) string {
	return filepath.Join(l.dir, filepath.Base(jobID))
}

func (l *Local) Put(_ context.Context, jobID string, data []byte) error {
	if err := os.WriteFile(l.path(jobID), data, 0o600); err != nil {
		return models.Faultf(models.FaultStorageFailure, "store document %s: %v", jobID, err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, jobID string) ([]byte, error) {
	data, err := os.ReadFile(l.path(jobID))
	if err != nil {
		return nil, models.Faultf(models.FaultStorageFailure, "load document %s: %v", jobID, err)
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, jobID string) error {
	if err := os.Remove(l.path(jobID)); err != nil && !os.IsNotExist(err) {
		return models.Faultf(models.FaultStorageFailure, "delete document %s: %v", jobID, err)
	}
	return nil
}

// Memory is an in-process Store for tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, jobID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[jobID] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[jobID]
	if !ok {
		return nil, models.Faultf(models.FaultStorageFailure, "document %s not found", jobID)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, jobID)
	return nil
}
