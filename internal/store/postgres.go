package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/endrilickollari/ldp/internal/models"
)

// Postgres is the pgxpool-backed JobStore.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying connection pool so sibling components (usage
// recorder) can share it.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	progress      INT  NOT NULL DEFAULT 0,
	filename      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	file_size     BIGINT NOT NULL,
	page_start    INT,
	page_end      INT,
	output_format TEXT NOT NULL,
	result        JSONB,
	error_kind    TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS usage_records (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	job_id      TEXT NOT NULL,
	filename    TEXT NOT NULL,
	file_size   BIGINT NOT NULL,
	success     BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_user_month ON usage_records (user_id, recorded_at);
`

// Bootstrap creates the schema if it does not exist.
func (s *Postgres) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, p CreateParams) (models.Job, error) {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, status, filename, kind, file_size, page_start, page_end, output_format, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id, p.UserID, models.StatusQueued, p.Filename, p.Kind, p.FileSize, p.PageStart, p.PageEnd, p.OutputFormat, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:           id,
		UserID:       p.UserID,
		Status:       models.StatusQueued,
		Filename:     p.Filename,
		Kind:         p.Kind,
		FileSize:     p.FileSize,
		PageStart:    p.PageStart,
		PageEnd:      p.PageEnd,
		OutputFormat: p.OutputFormat,
		CreatedAt:    now,
	}, nil
}

func (s *Postgres) Begin(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2 WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusQueued)
	if err != nil {
		return fmt.Errorf("begin job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, "begin")
	}
	return nil
}

func (s *Postgres) UpdateProgress(ctx context.Context, id, stage string, progress int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET stage = $2, progress = $3
		WHERE id = $1 AND status = $4 AND progress <= $3
	`, id, stage, progress, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, "progress update")
	}
	return nil
}

func (s *Postgres) Complete(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, stage = 'completed', progress = 100, result = $3, completed_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusSuccess, []byte(result), models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, "complete")
	}
	return nil
}

func (s *Postgres) Fail(ctx context.Context, id string, jobErr models.JobError) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, stage = 'failed', error_kind = $3, error_message = $4, completed_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailure, jobErr.Kind, jobErr.Message, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, "fail")
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, stage, progress, filename, kind, file_size,
		       page_start, page_end, output_format, result, error_kind, error_message,
		       created_at, completed_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var pageStart, pageEnd pgtype.Int4
	var result []byte
	var errKind, errMsg pgtype.Text
	var completed pgtype.Timestamptz

	err := row.Scan(&job.ID, &job.UserID, &job.Status, &job.Stage, &job.Progress,
		&job.Filename, &job.Kind, &job.FileSize, &pageStart, &pageEnd,
		&job.OutputFormat, &result, &errKind, &errMsg, &job.CreatedAt, &completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if pageStart.Valid {
		v := int(pageStart.Int32)
		job.PageStart = &v
	}
	if pageEnd.Valid {
		v := int(pageEnd.Int32)
		job.PageEnd = &v
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	if errKind.Valid {
		job.Error = &models.JobError{Kind: errKind.String, Message: errMsg.String}
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// transitionError reloads the row to tell a missing job apart from a state
// machine violation. The failed UPDATE has already left the row untouched.
func (s *Postgres) transitionError(ctx context.Context, id, op string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect job %s: %w", id, err)
	}
	return fmt.Errorf("%s on job %s in %s: %w", op, id, status, ErrInvalidTransition)
}
