package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/jmoiron/sqlx"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sof_jobs (
		job_id     TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		document   JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)
`

// Postgres stores each job as one JSONB document row
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres-backed job store
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the jobs table when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

// Put upserts the job; rows already in a terminal state are left untouched
func (p *Postgres) Put(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	document, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	query := `
		INSERT INTO sof_jobs (job_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    document = EXCLUDED.document,
		    updated_at = NOW()
		WHERE sof_jobs.status NOT IN ($5, $6)
	`

	result, err := p.db.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		document,
		job.CreatedAt,
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		p.logger.Warn("Job put ignored - job already in terminal state",
			slog.String("job_id", job.ID),
		)
		return fmt.Errorf("failed to put job %s: %w", job.ID, domain.ErrTerminalState)
	}

	p.logger.Debug("Job stored",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	return nil
}

func (p *Postgres) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT document FROM sof_jobs WHERE job_id = $1`

	var document []byte
	if err := p.db.GetContext(ctx, &document, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(document, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}

	return &job, nil
}

func (p *Postgres) List(ctx context.Context) ([]*domain.Job, error) {
	query := `SELECT document FROM sof_jobs ORDER BY created_at ASC, job_id ASC`

	var documents [][]byte
	if err := p.db.SelectContext(ctx, &documents, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(documents))
	for _, document := range documents {
		var job domain.Job
		if err := json.Unmarshal(document, &job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}
