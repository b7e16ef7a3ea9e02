package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// UserMappingService provides read access to user identity mappings.
type UserMappingService struct {
	db *sqlx.DB
}

// NewUserMappingService creates a new UserMappingService.
func NewUserMappingService(db *sqlx.DB) *UserMappingService {
	return &UserMappingService{db: db}
}

// ListActive returns all active mappings for one workspace of one tenant.
// The workspace filter is enforced here: mappings from other workspaces of
// the same tenant are never returned.
func (s *UserMappingService) ListActive(ctx context.Context, tenantID string, sourceType models.SourceType, workspaceID string) ([]*models.UserMapping, error) {
	var mappings []*models.UserMapping
	err := s.db.SelectContext(ctx, &mappings,
		`SELECT * FROM user_mappings
		WHERE active AND tenant_id = $1 AND source_type = $2 AND source_workspace_id = $3
		ORDER BY created_at ASC`,
		tenantID, sourceType, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user mappings: %w", err)
	}
	return mappings, nil
}
