package api

import (
	"github.com/taskbridge/taskbridge/pkg/database"
	"github.com/taskbridge/taskbridge/pkg/queue"
)

// WebhookResponse is returned by the webhook endpoints.
type WebhookResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// RetryResponse is returned by POST /api/v1/discussions/:id/retry.
type RetryResponse struct {
	DiscussionID string `json:"discussion_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

// CallbackResponse is returned by POST /api/v1/callbacks/task-status.
type CallbackResponse struct {
	DiscussionID string `json:"discussion_id"`
	ThreadID     string `json:"thread_id"`
	Notified     bool   `json:"notified"`
}

// TestOutputResponse is returned by POST /api/v1/outputs/test.
type TestOutputResponse struct {
	Status     string `json:"status"`
	DatabaseID string `json:"database_id"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Database   *database.HealthStatus `json:"database"`
	Dispatcher *queue.Health          `json:"dispatcher,omitempty"`
}
