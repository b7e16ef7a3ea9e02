package models

// UserMapping links an upstream user identity to a downstream (knowledge-base)
// user. The tuple (tenant_id, source_type, source_workspace_id, source_user_id)
// is unique among active mappings.
type UserMapping struct {
	ID                string     `db:"mapping_id" json:"id"`
	TenantID          string     `db:"tenant_id" json:"tenant_id"`
	SourceType        SourceType `db:"source_type" json:"source_type"`
	SourceWorkspaceID string     `db:"source_workspace_id" json:"source_workspace_id"`
	SourceUserID      string     `db:"source_user_id" json:"source_user_id"`
	SourceUserName    *string    `db:"source_user_name" json:"source_user_name,omitempty"`
	DestUserID        string     `db:"dest_user_id" json:"dest_user_id"`
	DestUserName      *string    `db:"dest_user_name" json:"dest_user_name,omitempty"`
	Active            bool       `db:"active" json:"active"`
	AuditFields
}

// MappedUser is the resolved downstream identity for one upstream user.
type MappedUser struct {
	DestUserID  string
	DisplayName string
}
