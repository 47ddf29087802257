package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endrilickollari/ldp/internal/models"
)

// Postgres writes usage records to the usage_records table, sharing the job
// store's connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Record(ctx context.Context, rec models.UsageRecord) error {
	at := rec.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO usage_records (user_id, job_id, filename, file_size, success, duration_ms, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.UserID, rec.JobID, rec.Filename, rec.FileSize, rec.Success, rec.Duration.Milliseconds(), rec.Error, at)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (p *Postgres) CountMonth(ctx context.Context, userID string, at time.Time) (int, error) {
	start, end := monthBounds(at)
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE user_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`, userID, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count monthly usage: %w", err)
	}
	return n, nil
}
