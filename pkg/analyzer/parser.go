package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// AnalysisError indicates the model response could not be parsed into the
// expected shape. The analyzer retries the call once before giving up.
type AnalysisError struct {
	Message string
}

func (e *AnalysisError) Error() string {
	return "analysis error: " + e.Message
}

// extractJSONObject finds the first balanced {...} span in the model output.
// Models occasionally wrap the object in prose or a code fence; everything
// outside the span is ignored.
func extractJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", &AnalysisError{Message: "no JSON object in model response"}
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	// Unbalanced: hand the tail to the repairer below.
	return raw[start:], nil
}

// decodeObject parses the extracted span into v, repairing slightly malformed
// JSON (trailing commas, unquoted keys) before failing.
func decodeObject(span string, v any) error {
	if err := json.Unmarshal([]byte(span), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return &AnalysisError{Message: fmt.Sprintf("unparseable model response: %v", err)}
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return &AnalysisError{Message: fmt.Sprintf("model response does not match schema: %v", err)}
	}
	return nil
}

// parseSummary parses and normalizes the summary response.
func parseSummary(raw string) (*models.ThreadSummary, error) {
	span, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var summary models.ThreadSummary
	if err := decodeObject(span, &summary); err != nil {
		return nil, err
	}
	if summary.Text == "" {
		return nil, &AnalysisError{Message: "summary text is empty"}
	}
	return &summary, nil
}

// parseTaskDetection parses and normalizes the task-detection response.
// Closed-enum fields with out-of-range values are nulled rather than
// propagated.
func parseTaskDetection(raw string) (*models.TaskDetection, error) {
	span, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}
	var detection models.TaskDetection
	if err := decodeObject(span, &detection); err != nil {
		return nil, err
	}
	for i := range detection.Tasks {
		task := &detection.Tasks[i]
		if task.Title == "" {
			return nil, &AnalysisError{Message: fmt.Sprintf("task %d has no title", i)}
		}
		task.Priority = normalizeEnum(task.Priority, models.TaskPriorities)
		task.Type = normalizeEnum(task.Type, models.TaskTypes)
	}
	detection.IsMultiTask = detection.IsMultiTask || len(detection.Tasks) > 1
	return &detection, nil
}

func normalizeEnum(value *string, allowed []string) *string {
	if value == nil {
		return nil
	}
	lowered := strings.ToLower(strings.TrimSpace(*value))
	for _, a := range allowed {
		if lowered == a {
			return &a
		}
	}
	return nil
}
