package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// JobService manages the processing-attempt ledger. Every attempt is a fresh
// row: retries never mutate an existing job, so the full history is
// reconstructable by walking jobs grouped by discussion_id.
type JobService struct {
	db *sqlx.DB
}

// NewJobService creates a new JobService.
func NewJobService(db *sqlx.DB) *JobService {
	return &JobService{db: db}
}

// Create inserts a new job row in processing state at the ingestion stage.
func (s *JobService) Create(ctx context.Context, j *models.Job) (*models.Job, error) {
	if j.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if j.InputID == "" {
		return nil, NewValidationError("input_id", "required")
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = models.JobStatusProcessing
	}
	if j.Stage == "" {
		j.Stage = models.StageIngestion
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	now := time.Now().UTC()
	if j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	j.CreatedAt = now
	j.UpdatedAt = now
	j.CreatedBy = models.SystemIdentity
	j.UpdatedBy = models.SystemIdentity

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO jobs (
			job_id, tenant_id, discussion_id, input_id, flow_id,
			status, stage, attempts, max_attempts, started_at,
			task_ids, metadata, created_at, updated_at, created_by, updated_by
		) VALUES (
			:job_id, :tenant_id, :discussion_id, :input_id, :flow_id,
			:status, :stage, :attempts, :max_attempts, :started_at,
			:task_ids, :metadata, :created_at, :updated_at, :created_by, :updated_by
		)`, j)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return j, nil
}

// Get loads a job by id.
func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	err := s.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE job_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &j, nil
}

// ListByDiscussion returns the retry chain for a discussion, oldest first.
func (s *JobService) ListByDiscussion(ctx context.Context, discussionID string) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT * FROM jobs WHERE discussion_id = $1 ORDER BY created_at ASC`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// SetStage records the stage a running job has entered. Finalized jobs are
// never updated.
func (s *JobService) SetStage(ctx context.Context, id string, stage models.JobStage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET stage = $2, updated_at = now(), updated_by = $3
		WHERE job_id = $1 AND completed_at IS NULL`,
		id, stage, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to update job stage: %w", err)
	}
	return s.requireLiveRow(ctx, id, res)
}

// SetDiscussion links the job to its discussion once stage 2 creates it.
func (s *JobService) SetDiscussion(ctx context.Context, id, discussionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET discussion_id = $2, updated_at = now(), updated_by = $3
		WHERE job_id = $1 AND completed_at IS NULL`,
		id, discussionID, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to link job discussion: %w", err)
	}
	return s.requireLiveRow(ctx, id, res)
}

// Complete finalizes a successful job with the created task-record ids and
// the measured processing time. Per-output write failures that did not abort
// the run are merged into metadata under output_errors, so a completed job
// still shows which configured outputs received nothing.
func (s *JobService) Complete(ctx context.Context, id string, taskIDs []string, processingTime time.Duration, outputErrors []string) error {
	extra := models.JSONMap{}
	if len(outputErrors) > 0 {
		extra["output_errors"] = outputErrors
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2,
			task_ids = $3,
			processing_time_ms = $4,
			metadata = metadata || $5,
			completed_at = now(),
			updated_at = now(),
			updated_by = $6
		WHERE job_id = $1 AND completed_at IS NULL`,
		id, models.JobStatusCompleted, models.StringList(taskIDs),
		processingTime.Milliseconds(), extra, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return s.requireLiveRow(ctx, id, res)
}

// Fail finalizes a failed job, capturing the error and its stack.
func (s *JobService) Fail(ctx context.Context, id string, errMsg, errStack string, taskIDs []string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2,
			error = $3,
			error_stack = $4,
			task_ids = $5,
			completed_at = now(),
			updated_at = now(),
			updated_by = $6
		WHERE job_id = $1 AND completed_at IS NULL`,
		id, models.JobStatusFailed, errMsg, errStack,
		models.StringList(taskIDs), models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return s.requireLiveRow(ctx, id, res)
}

// FailStale finalizes jobs untouched since cutoff that never completed.
// The completed_at IS NULL guard keeps this from touching finalized rows.
func (s *JobService) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $1,
			error = 'abandoned by crashed pipeline',
			completed_at = now(),
			updated_at = now(),
			updated_by = $2
		WHERE completed_at IS NULL AND updated_at < $3`,
		models.JobStatusFailed, models.SystemIdentity, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// requireLiveRow distinguishes "job missing" from "job already finalized"
// when an update matched no rows.
func (s *JobService) requireLiveRow(ctx context.Context, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, id); err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if exists {
		return ErrAlreadyFinalized
	}
	return ErrNotFound
}
