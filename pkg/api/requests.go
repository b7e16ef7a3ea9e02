package api

// TaskStatusCallbackRequest is the HTTP request body for
// POST /api/v1/callbacks/task-status.
type TaskStatusCallbackRequest struct {
	PageID string `json:"page_id"`
	Status string `json:"status"`
}

// TestOutputRequest is the HTTP request body for POST /api/v1/outputs/test.
type TestOutputRequest struct {
	OutputID string `json:"output_id"`
}
