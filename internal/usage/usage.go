// Package usage records per-user consumption for quota accounting. Each job
// produces exactly one record when it reaches a terminal state; the monthly
// count over those records feeds the quota gate.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/endrilickollari/ldp/internal/models"
)

// Recorder persists usage records and answers monthly counts.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
	// CountMonth returns how many jobs the user submitted in the calendar
	// month containing the given instant (UTC).
	CountMonth(ctx context.Context, userID string, at time.Time) (int, error)
}

// Memory keeps records in process, for tests and single-node deployments.
type Memory struct {
	mu   sync.Mutex
	recs []models.UsageRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, rec models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *Memory) CountMonth(_ context.Context, userID string, at time.Time) (int, error) {
	start, end := monthBounds(at)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.recs {
		if r.UserID != userID {
			continue
		}
		if !r.RecordedAt.Before(start) && r.RecordedAt.Before(end) {
			n++
		}
	}
	return n, nil
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []models.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.UsageRecord, len(m.recs))
	copy(out, m.recs)
	return out
}

func monthBounds(at time.Time) (time.Time, time.Time) {
	at = at.UTC()
	start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
