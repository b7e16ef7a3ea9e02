package models

// Task priority and type values the analyzer is allowed to emit. Anything
// else is treated as null downstream.
var (
	TaskPriorities = []string{"low", "medium", "high", "urgent"}
	TaskTypes      = []string{"bug", "feature", "question", "improvement"}
)

// ThreadSummary is the analyzer's summary of a discussion.
type ThreadSummary struct {
	Text       string   `json:"text"`
	KeyPoints  []string `json:"key_points,omitempty"`
	Sentiment  *string  `json:"sentiment,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Domain     *string  `json:"domain,omitempty"`
}

// DetectedTask is one task the analyzer extracted from a thread. Fields the
// model is not confident about are null rather than guessed.
type DetectedTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty"`
	Type        *string  `json:"type,omitempty"`
	Assignee    *string  `json:"assignee,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Domain      *string  `json:"domain,omitempty"`
	ActionItems []string `json:"action_items,omitempty"`
}

// TaskDetection is the analyzer's task-extraction result.
type TaskDetection struct {
	IsMultiTask bool           `json:"is_multi_task"`
	Tasks       []DetectedTask `json:"tasks"`
	Confidence  *float64       `json:"confidence,omitempty"`
}

// AnalysisResult bundles both analyzer outputs for one thread.
type AnalysisResult struct {
	Summary          ThreadSummary `json:"summary"`
	TaskDetection    TaskDetection `json:"task_detection"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Cached           bool          `json:"cached"`
}
