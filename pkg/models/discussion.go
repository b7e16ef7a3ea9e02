package models

import "encoding/json"

// DiscussionStatus tracks a discussion through the pipeline.
type DiscussionStatus string

// Discussion lifecycle states. completed and failed are terminal.
const (
	DiscussionStatusPending    DiscussionStatus = "pending"
	DiscussionStatusProcessing DiscussionStatus = "processing"
	DiscussionStatusAnalyzed   DiscussionStatus = "analyzed"
	DiscussionStatusCompleted  DiscussionStatus = "completed"
	DiscussionStatusFailed     DiscussionStatus = "failed"
)

// Discussion is the snapshot of one thread being processed.
type Discussion struct {
	ID             string           `db:"discussion_id" json:"id"`
	TenantID       string           `db:"tenant_id" json:"tenant_id"`
	SourceType     SourceType       `db:"source_type" json:"source_type"`
	SourceThreadID string           `db:"source_thread_id" json:"source_thread_id"`
	SourceURL      string           `db:"source_url" json:"source_url"`
	FlowID         *string          `db:"flow_id" json:"flow_id,omitempty"`
	InputID        string           `db:"input_id" json:"input_id"`
	Title          string           `db:"title" json:"title"`
	Content        string           `db:"content" json:"content"`
	AuthorHandle   string           `db:"author_handle" json:"author_handle"`
	Participants   StringList       `db:"participants" json:"participants"`
	Status         DiscussionStatus `db:"status" json:"status"`
	ThreadData     json.RawMessage  `db:"thread_data" json:"thread_data,omitempty"`
	AISummary      *string          `db:"ai_summary" json:"ai_summary,omitempty"`
	AIKeyPoints    StringList       `db:"ai_key_points" json:"ai_key_points,omitempty"`
	AITasks        json.RawMessage  `db:"ai_tasks" json:"ai_tasks,omitempty"`
	NotionTaskIDs  StringList       `db:"notion_task_ids" json:"notion_task_ids,omitempty"`
	RawPayload     json.RawMessage  `db:"raw_payload" json:"-"`
	SyncJobID      *string          `db:"sync_job_id" json:"sync_job_id,omitempty"`
	Metadata       JSONMap          `db:"metadata" json:"metadata,omitempty"`
	AuditFields
}

// Terminal reports whether the discussion reached a terminal status.
func (s DiscussionStatus) Terminal() bool {
	return s == DiscussionStatusCompleted || s == DiscussionStatusFailed
}
