package models

import "time"

// JobStatus tracks one processing attempt.
type JobStatus string

// Job lifecycle states. completed and failed are terminal.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Terminal reports whether the job status is terminal.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobStage identifies the pipeline stage a job last entered.
type JobStage string

// Pipeline stages in execution order.
const (
	StageIngestion      JobStage = "ingestion"
	StageThreadBuilding JobStage = "thread_building"
	StageAIAnalysis     JobStage = "ai_analysis"
	StageTaskCreation   JobStage = "task_creation"
	StageNotification   JobStage = "notification"
)

// Job is the ledger row for one processing attempt on a discussion. A retry
// creates a new row; attempts are never incremented in place.
type Job struct {
	ID               string     `db:"job_id" json:"id"`
	TenantID         string     `db:"tenant_id" json:"tenant_id"`
	DiscussionID     *string    `db:"discussion_id" json:"discussion_id,omitempty"`
	InputID          string     `db:"input_id" json:"input_id"`
	FlowID           *string    `db:"flow_id" json:"flow_id,omitempty"`
	Status           JobStatus  `db:"status" json:"status"`
	Stage            JobStage   `db:"stage" json:"stage"`
	Attempts         int        `db:"attempts" json:"attempts"`
	MaxAttempts      int        `db:"max_attempts" json:"max_attempts"`
	Error            *string    `db:"error" json:"error,omitempty"`
	ErrorStack       *string    `db:"error_stack" json:"error_stack,omitempty"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ProcessingTimeMs *int64     `db:"processing_time_ms" json:"processing_time_ms,omitempty"`
	TaskIDs          StringList `db:"task_ids" json:"task_ids,omitempty"`
	Metadata         JSONMap    `db:"metadata" json:"metadata,omitempty"`
	AuditFields
}
