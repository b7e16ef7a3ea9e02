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

// TaskService manages the created-task index.
type TaskService struct {
	db *sqlx.DB
}

// NewTaskService creates a new TaskService.
func NewTaskService(db *sqlx.DB) *TaskService {
	return &TaskService{db: db}
}

// CreateBatch inserts the task records collected during stage 5, one row per
// external page write that succeeded. Returns the assigned record ids in
// input order.
func (s *TaskService) CreateBatch(ctx context.Context, records []*models.TaskRecord) ([]string, error) {
	ids := make([]string, 0, len(records))
	now := time.Now().UTC()
	for _, r := range records {
		if r.DestPageID == "" {
			return nil, NewValidationError("dest_page_id", "required")
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		r.CreatedBy = models.SystemIdentity
		r.UpdatedBy = models.SystemIdentity

		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO tasks (
				task_id, tenant_id, discussion_id, job_id,
				dest_page_id, dest_page_url, title, description,
				priority, assignee, source_url, is_multi_task_child,
				task_index, metadata, created_at, updated_at, created_by, updated_by
			) VALUES (
				:task_id, :tenant_id, :discussion_id, :job_id,
				:dest_page_id, :dest_page_url, :title, :description,
				:priority, :assignee, :source_url, :is_multi_task_child,
				:task_index, :metadata, :created_at, :updated_at, :created_by, :updated_by
			)`, r)
		if err != nil {
			return ids, fmt.Errorf("failed to create task record %q: %w", r.Title, err)
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// ListByDiscussion returns all task records for a discussion in creation order.
func (s *TaskService) ListByDiscussion(ctx context.Context, discussionID string) ([]*models.TaskRecord, error) {
	var tasks []*models.TaskRecord
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT * FROM tasks WHERE discussion_id = $1 ORDER BY created_at ASC, task_index ASC`, discussionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task records: %w", err)
	}
	return tasks, nil
}

// GetByDestPageID reverse-looks-up the task record for an external page id.
// Used by the knowledge-base completion callback to find the originating
// thread.
func (s *TaskService) GetByDestPageID(ctx context.Context, destPageID string) (*models.TaskRecord, error) {
	var t models.TaskRecord
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE dest_page_id = $1`, destPageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task record: %w", err)
	}
	return &t, nil
}
