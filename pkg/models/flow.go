package models

import "fmt"

// Flow is a tenant-configured pipeline with N inputs and M outputs.
type Flow struct {
	ID                    string     `db:"flow_id" json:"id"`
	TenantID              string     `db:"tenant_id" json:"tenant_id"`
	Name                  string     `db:"name" json:"name"`
	Description           string     `db:"description" json:"description,omitempty"`
	AvailableDomains      StringList `db:"available_domains" json:"available_domains"`
	AIEnabled             bool       `db:"ai_enabled" json:"ai_enabled"`
	SummaryPromptTemplate *string    `db:"summary_prompt_template" json:"summary_prompt_template,omitempty"`
	TaskPromptTemplate    *string    `db:"task_prompt_template" json:"task_prompt_template,omitempty"`
	Active                bool       `db:"active" json:"active"`
	AuditFields
}

// FlowInput is one upstream endpoint bound to a flow. The routing key is the
// workspace id (chat) or the email slug (design-email).
type FlowInput struct {
	ID             string     `db:"input_id" json:"id"`
	FlowID         string     `db:"flow_id" json:"flow_id"`
	SourceType     SourceType `db:"source_type" json:"source_type"`
	APIToken       string     `db:"api_token" json:"-"`
	SourceMetadata JSONMap    `db:"source_metadata" json:"source_metadata,omitempty"`
	EmailSlug      *string    `db:"email_slug" json:"email_slug,omitempty"`
	Active         bool       `db:"active" json:"active"`
	AuditFields
}

// OutputType identifies the downstream destination kind.
type OutputType string

// OutputTypeKB is the knowledge-base destination (the only supported kind).
const OutputTypeKB OutputType = "kb"

// FlowOutput is one downstream task destination, optionally filtered by domain.
type FlowOutput struct {
	ID           string     `db:"output_id" json:"id"`
	FlowID       string     `db:"flow_id" json:"flow_id"`
	OutputType   OutputType `db:"output_type" json:"output_type"`
	Name         string     `db:"name" json:"name"`
	DomainFilter StringList `db:"domain_filter" json:"domain_filter"`
	IsDefault    bool       `db:"is_default" json:"is_default"`
	OutputConfig JSONMap    `db:"output_config" json:"-"`
	Active       bool       `db:"active" json:"active"`
	AuditFields
}

// MatchesDomain reports whether the output accepts the given domain. An empty
// filter accepts any domain.
func (o *FlowOutput) MatchesDomain(domain string) bool {
	if len(o.DomainFilter) == 0 {
		return true
	}
	for _, d := range o.DomainFilter {
		if d == domain {
			return true
		}
	}
	return false
}

// FlowWithRelations bundles a flow with its active inputs and outputs plus the
// input that matched the routing key.
type FlowWithRelations struct {
	Flow         *Flow
	Inputs       []*FlowInput
	Outputs      []*FlowOutput
	MatchedInput *FlowInput
}

// LegacyConfig is a pre-flow configuration row: a single input and a single
// output fused into one record. The resolver falls through to it when no flow
// input matches the routing key.
type LegacyConfig struct {
	ID             string     `db:"config_id" json:"id"`
	TenantID       string     `db:"tenant_id" json:"tenant_id"`
	SourceType     SourceType `db:"source_type" json:"source_type"`
	APIToken       string     `db:"api_token" json:"-"`
	SourceMetadata JSONMap    `db:"source_metadata" json:"source_metadata,omitempty"`
	OutputConfig   JSONMap    `db:"output_config" json:"-"`
	Active         bool       `db:"active" json:"active"`
	AuditFields
}

// ChatWorkspaceMetadata is the typed form of a chat input's source_metadata.
type ChatWorkspaceMetadata struct {
	WorkspaceID string `json:"workspace_id"`
	BotUserID   string `json:"bot_user_id,omitempty"`
	BotHandle   string `json:"bot_handle,omitempty"`
}

// EmailSourceMetadata is the typed form of a design-email input's
// source_metadata.
type EmailSourceMetadata struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	BotHandle   string `json:"bot_handle,omitempty"`
	FileKey     string `json:"file_key,omitempty"`
	// EmailAPIURL and EmailAPIKey configure the inbound email provider's
	// fetch API, used when a webhook delivers only a message id.
	EmailAPIURL string `json:"email_api_url,omitempty"`
	EmailAPIKey string `json:"email_api_key,omitempty"`
}

// ParseChatMetadata extracts typed chat workspace metadata from the raw blob.
func ParseChatMetadata(m JSONMap) (*ChatWorkspaceMetadata, error) {
	meta := &ChatWorkspaceMetadata{
		WorkspaceID: m.GetString("workspace_id"),
		BotUserID:   m.GetString("bot_user_id"),
		BotHandle:   m.GetString("bot_handle"),
	}
	if meta.WorkspaceID == "" {
		return nil, fmt.Errorf("source_metadata missing workspace_id")
	}
	return meta, nil
}

// ParseEmailMetadata extracts typed design-email metadata from the raw blob.
// All fields are optional; the email slug on the input is the routing key.
func ParseEmailMetadata(m JSONMap) *EmailSourceMetadata {
	return &EmailSourceMetadata{
		WorkspaceID: m.GetString("workspace_id"),
		BotHandle:   m.GetString("bot_handle"),
		FileKey:     m.GetString("file_key"),
		EmailAPIURL: m.GetString("email_api_url"),
		EmailAPIKey: m.GetString("email_api_key"),
	}
}
