package models

// TaskRecord is the local index row referencing one externally created task
// page. dest_page_id uniquely identifies the external artifact.
type TaskRecord struct {
	ID               string  `db:"task_id" json:"id"`
	TenantID         string  `db:"tenant_id" json:"tenant_id"`
	DiscussionID     string  `db:"discussion_id" json:"discussion_id"`
	JobID            string  `db:"job_id" json:"job_id"`
	DestPageID       string  `db:"dest_page_id" json:"dest_page_id"`
	DestPageURL      string  `db:"dest_page_url" json:"dest_page_url"`
	Title            string  `db:"title" json:"title"`
	Description      *string `db:"description" json:"description,omitempty"`
	Priority         *string `db:"priority" json:"priority,omitempty"`
	Assignee         *string `db:"assignee" json:"assignee,omitempty"`
	SourceURL        string  `db:"source_url" json:"source_url"`
	IsMultiTaskChild bool    `db:"is_multi_task_child" json:"is_multi_task_child"`
	TaskIndex        *int    `db:"task_index" json:"task_index,omitempty"`
	Metadata         JSONMap `db:"metadata" json:"metadata,omitempty"`
	AuditFields
}

// TaskRef is the external reference returned by the task writer for one
// created page.
type TaskRef struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}
