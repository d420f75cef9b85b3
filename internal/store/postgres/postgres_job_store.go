// Package postgres implements the JobStore on PostgreSQL. Transitions use
// status-guarded UPDATEs so the row version observed by the guard and the
// row written are the same atomic statement; RowsAffected reports lost races.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS appraisal_jobs (
    id              TEXT PRIMARY KEY,
    correlation_id  TEXT NOT NULL,
    status          TEXT NOT NULL,
    priority        TEXT NOT NULL,
    category        TEXT NOT NULL DEFAULT '',
    options         JSONB,
    image_ref       TEXT NOT NULL DEFAULT '',
    image_url       TEXT NOT NULL DEFAULT '',
    steps           JSONB NOT NULL,
    progress        DOUBLE PRECISION NOT NULL DEFAULT 0,
    result          JSONB,
    error           JSONB,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    enqueued_at     TIMESTAMPTZ,
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_appraisal_jobs_status ON appraisal_jobs (status);
CREATE INDEX IF NOT EXISTS idx_appraisal_jobs_created ON appraisal_jobs (created_at DESC);

CREATE TABLE IF NOT EXISTS appraisal_batches (
    id         TEXT PRIMARY KEY,
    job_ids    TEXT[] NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Init creates the job tables if they do not exist.
func (s *JobStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	var optionsJSON []byte
	if job.Options != nil {
		if optionsJSON, err = json.Marshal(job.Options); err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO appraisal_jobs (
			id, correlation_id, status, priority, category, options,
			image_ref, image_url, steps, progress, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		job.ID, job.CorrelationID, job.Status, job.Priority, job.Category, optionsJSON,
		job.Image.Ref, job.Image.URL, stepsJSON, job.Progress, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

const jobColumns = `
	id, correlation_id, status, priority, category, options,
	image_ref, image_url, steps, progress, result, error,
	created_at, updated_at, enqueued_at, started_at, completed_at
`

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM appraisal_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("appraisal", id)
	}
	return job, err
}

func (s *JobStore) Enqueue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET status = 'queued', enqueued_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
	`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return apperrors.NewConflictError("appraisal %s is not in submitted state", id)
	}
	return nil
}

func (s *JobStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET status = 'processing', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *JobStore) UpdateSteps(ctx context.Context, id string, steps []models.Step, progress float64) (bool, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return false, fmt.Errorf("marshal steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET steps = $2, progress = GREATEST(progress, $3), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, stepsJSON, progress)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *JobStore) Complete(ctx context.Context, id string, result *capability.ValuationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET status = 'completed', result = $2, progress = 100,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, resultJSON)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.NewConflictError("appraisal %s is not processing", id)
	}
	return nil
}

func (s *JobStore) Fail(ctx context.Context, id string, jobErr *models.JobError) error {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET status = 'failed', error = $2,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, errJSON)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperrors.NewConflictError("appraisal %s is not processing", id)
	}
	return nil
}

func (s *JobStore) Cancel(ctx context.Context, id string) (*models.Job, error) {
	sources := state.SourcesOf(state.StatusCancelled)
	cancellable := make([]string, len(sources))
	for i, from := range sources {
		cancellable[i] = from.String()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE appraisal_jobs
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, id, pq.Array(cancellable))
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewConflictError("appraisal %s already terminal (%s)", id, job.Status)
	}
	return s.Get(ctx, id)
}

func (s *JobStore) List(ctx context.Context, filter store.Filter, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	where := "1=1"
	args := []any{}
	argIndex := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}
	if filter.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", argIndex)
		args = append(args, filter.Category)
		argIndex++
	}
	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, filter.Since)
		argIndex++
	}

	var totalItems int
	countQuery := `SELECT COUNT(*) FROM appraisal_jobs WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalItems); err != nil {
		return nil, err
	}

	selectQuery := `SELECT ` + jobColumns + ` FROM appraisal_jobs WHERE ` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.Job]{
		Items:           jobs,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM appraisal_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[state.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[state.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *JobStore) CreateBatch(ctx context.Context, batch *models.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appraisal_batches (id, job_ids, created_at)
		VALUES ($1, $2, $3)
	`, batch.ID, pq.Array(batch.JobIDs), batch.CreatedAt)
	return err
}

func (s *JobStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	batch := &models.Batch{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, job_ids, created_at FROM appraisal_batches WHERE id = $1
	`, id).Scan(&batch.ID, pq.Array(&batch.JobIDs), &batch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("batch", id)
	}
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM appraisal_jobs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		optionsJSON []byte
		stepsJSON   []byte
		resultJSON  []byte
		errJSON     []byte
		enqueuedAt  sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.CorrelationID, &job.Status, &job.Priority, &job.Category, &optionsJSON,
		&job.Image.Ref, &job.Image.URL, &stepsJSON, &job.Progress, &resultJSON, &errJSON,
		&job.CreatedAt, &job.UpdatedAt, &enqueuedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &job.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		job.Result = &capability.ValuationResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.Error = &models.JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if enqueuedAt.Valid {
		job.EnqueuedAt = &enqueuedAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
