package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// DiscussionService manages discussion snapshot rows.
type DiscussionService struct {
	db *sqlx.DB
}

// NewDiscussionService creates a new DiscussionService.
func NewDiscussionService(db *sqlx.DB) *DiscussionService {
	return &DiscussionService{db: db}
}

// DiscussionFilters contains filtering options for listing discussions.
type DiscussionFilters struct {
	Status     string            `json:"status,omitempty"`
	SourceType models.SourceType `json:"source_type,omitempty"`
	FlowID     string            `json:"flow_id,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// Create inserts a new discussion row. An empty ID is assigned a UUID.
func (s *DiscussionService) Create(ctx context.Context, d *models.Discussion) (*models.Discussion, error) {
	if d.TenantID == "" {
		return nil, NewValidationError("tenant_id", "required")
	}
	if !d.SourceType.Valid() {
		return nil, NewValidationError("source_type", "unknown value")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = models.DiscussionStatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.CreatedBy = models.SystemIdentity
	d.UpdatedBy = models.SystemIdentity

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO discussions (
			discussion_id, tenant_id, source_type, source_thread_id, source_url,
			flow_id, input_id, title, content, author_handle, participants,
			status, thread_data, raw_payload, metadata,
			created_at, updated_at, created_by, updated_by
		) VALUES (
			:discussion_id, :tenant_id, :source_type, :source_thread_id, :source_url,
			:flow_id, :input_id, :title, :content, :author_handle, :participants,
			:status, :thread_data, :raw_payload, :metadata,
			:created_at, :updated_at, :created_by, :updated_by
		)`, d)
	if err != nil {
		return nil, fmt.Errorf("failed to create discussion: %w", err)
	}
	return d, nil
}

// Get loads a discussion by id.
func (s *DiscussionService) Get(ctx context.Context, id string) (*models.Discussion, error) {
	var d models.Discussion
	err := s.db.GetContext(ctx, &d, `SELECT * FROM discussions WHERE discussion_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discussion: %w", err)
	}
	return &d, nil
}

// List returns discussions matching the filters, newest first.
func (s *DiscussionService) List(ctx context.Context, f DiscussionFilters) ([]*models.Discussion, error) {
	query := `SELECT * FROM discussions WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.SourceType != "" {
		add("source_type", f.SourceType)
	}
	if f.FlowID != "" {
		add("flow_id", f.FlowID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, f.Offset)

	var out []*models.Discussion
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list discussions: %w", err)
	}
	return out, nil
}

// SetStatus updates the discussion status.
func (s *DiscussionService) SetStatus(ctx context.Context, id string, status models.DiscussionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discussions SET status = $2, updated_at = now(), updated_by = $3 WHERE discussion_id = $1`,
		id, status, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to update discussion status: %w", err)
	}
	return requireRow(res)
}

// SetSyncJob links the discussion to the job processing it.
func (s *DiscussionService) SetSyncJob(ctx context.Context, id, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discussions SET sync_job_id = $2, updated_at = now(), updated_by = $3 WHERE discussion_id = $1`,
		id, jobID, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to link discussion job: %w", err)
	}
	return requireRow(res)
}

// UpdateThread overwrites the thread-derived fields after stage 3. The thread
// id and url are rewritten too: design-email discussions learn their canonical
// "{fileKey}:{commentId}" form only once the design-tool comment is known.
func (s *DiscussionService) UpdateThread(ctx context.Context, id string, authorHandle string, participants []string, threadData json.RawMessage, sourceThreadID, sourceURL string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discussions SET
			author_handle = $2,
			participants = $3,
			thread_data = $4,
			source_thread_id = $5,
			source_url = $6,
			updated_at = now(),
			updated_by = $7
		WHERE discussion_id = $1`,
		id, authorHandle, models.StringList(participants), threadData,
		sourceThreadID, sourceURL, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to update discussion thread: %w", err)
	}
	return requireRow(res)
}

// UpdateAnalysis persists the analyzer output and moves the discussion to
// analyzed.
func (s *DiscussionService) UpdateAnalysis(ctx context.Context, id string, summary string, keyPoints []string, tasks json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discussions SET
			ai_summary = $2,
			ai_key_points = $3,
			ai_tasks = $4,
			status = $5,
			updated_at = now(),
			updated_by = $6
		WHERE discussion_id = $1`,
		id, summary, models.StringList(keyPoints), tasks,
		models.DiscussionStatusAnalyzed, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to update discussion analysis: %w", err)
	}
	return requireRow(res)
}

// SetTaskRecords stores the created TaskRecord ids (not the external page ids)
// in a single update.
func (s *DiscussionService) SetTaskRecords(ctx context.Context, id string, taskRecordIDs []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discussions SET notion_task_ids = $2, updated_at = now(), updated_by = $3 WHERE discussion_id = $1`,
		id, models.StringList(taskRecordIDs), models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to update discussion task records: %w", err)
	}
	return requireRow(res)
}

// SetFailed marks the discussion failed and records the error in metadata.
func (s *DiscussionService) SetFailed(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discussions SET
			status = $2,
			metadata = metadata || jsonb_build_object('error', $3::text),
			updated_at = now(),
			updated_by = $4
		WHERE discussion_id = $1`,
		id, models.DiscussionStatusFailed, errMsg, models.SystemIdentity)
	if err != nil {
		return fmt.Errorf("failed to mark discussion failed: %w", err)
	}
	return requireRow(res)
}

// FailStale marks non-terminal discussions untouched since cutoff as failed.
// Crash recovery: a pipeline that died mid-run leaves its discussion in
// pending/processing forever otherwise.
func (s *DiscussionService) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE discussions SET
			status = $1,
			metadata = metadata || jsonb_build_object('error', 'abandoned by crashed pipeline'),
			updated_at = now(),
			updated_by = $2
		WHERE status IN ($3, $4) AND updated_at < $5`,
		models.DiscussionStatusFailed, models.SystemIdentity,
		models.DiscussionStatusPending, models.DiscussionStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale discussions: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
