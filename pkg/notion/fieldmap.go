package notion

import (
	"errors"
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// Canonical field names the analyzer can populate.
const (
	FieldPriority = "priority"
	FieldType     = "type"
	FieldAssignee = "assignee"
	FieldDueDate  = "due_date"
	FieldTags     = "tags"
)

// FieldTarget maps one canonical field onto a destination database property.
// ValueMap translates analyzer enum values into the destination's select
// options; entries without a mapping pass through unchanged.
type FieldTarget struct {
	DestProperty string            `json:"dest_property"`
	PropertyType string            `json:"property_type"`
	ValueMap     map[string]string `json:"value_map,omitempty"`
}

// FieldMapping maps canonical field names to destination properties.
type FieldMapping map[string]FieldTarget

// OutputConfig is the parsed connection configuration of a flow output.
type OutputConfig struct {
	DatabaseID    string       `json:"database_id"`
	AccessToken   string       `json:"access_token"`
	TitleProperty string       `json:"title_property"`
	FieldMapping  FieldMapping `json:"field_mapping,omitempty"`
}

// ParseOutputConfig decodes and validates a flow output's outputConfig.
func ParseOutputConfig(raw models.JSONMap) (*OutputConfig, error) {
	var cfg OutputConfig
	if err := raw.DecodeInto(&cfg); err != nil {
		return nil, fmt.Errorf("invalid output config: %w", err)
	}
	if cfg.DatabaseID == "" {
		return nil, errors.New("output config is missing database_id")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("output config is missing access_token")
	}
	if cfg.TitleProperty == "" {
		cfg.TitleProperty = "Name"
	}
	return &cfg, nil
}

// BuildProperties renders the page property map for one task: the title
// property plus every mapped field the task carries a value for.
func BuildProperties(task *models.DetectedTask, cfg *OutputConfig, resolver UserResolver) map[string]any {
	props := map[string]any{
		cfg.TitleProperty: map[string]any{
			"title": []richText{text(task.Title)},
		},
	}

	setMapped := func(field string, value []string) {
		target, ok := cfg.FieldMapping[field]
		if !ok || len(value) == 0 {
			return
		}
		if prop := propertyValue(target, value, resolver); prop != nil {
			props[target.DestProperty] = prop
		}
	}

	if task.Priority != nil {
		setMapped(FieldPriority, []string{*task.Priority})
	}
	if task.Type != nil {
		setMapped(FieldType, []string{*task.Type})
	}
	if task.Assignee != nil {
		setMapped(FieldAssignee, []string{*task.Assignee})
	}
	if task.DueDate != nil {
		setMapped(FieldDueDate, []string{*task.DueDate})
	}
	setMapped(FieldTags, task.Tags)

	return props
}

// propertyValue emits the typed property value for the target property type,
// applying the value map for select-style properties.
func propertyValue(target FieldTarget, values []string, resolver UserResolver) any {
	switch target.PropertyType {
	case "select", "status":
		return map[string]any{
			target.PropertyType: map[string]string{"name": mapValue(target, values[0])},
		}
	case "multi_select":
		options := make([]map[string]string, 0, len(values))
		for _, v := range values {
			options = append(options, map[string]string{"name": mapValue(target, v)})
		}
		return map[string]any{"multi_select": options}
	case "people":
		return map[string]any{
			"people": []map[string]string{{"id": resolveAssignee(values[0], resolver)}},
		}
	case "date":
		return map[string]any{
			"date": map[string]string{"start": values[0]},
		}
	case "rich_text":
		return map[string]any{
			"rich_text": []richText{text(values[0])},
		}
	default:
		return nil
	}
}

func mapValue(target FieldTarget, value string) string {
	if mapped, ok := target.ValueMap[value]; ok {
		return mapped
	}
	return value
}

// resolveAssignee translates a source user id into the destination id when a
// mapping exists. The analyzer usually emits the destination id directly
// (mention rewriting puts it in front of the model), so unresolved values
// pass through as-is.
func resolveAssignee(id string, resolver UserResolver) string {
	if resolver != nil {
		if user, ok := resolver.Resolve(id); ok {
			return user.DestUserID
		}
	}
	return id
}
