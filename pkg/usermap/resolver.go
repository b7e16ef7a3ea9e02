// Package usermap resolves upstream user identities to downstream
// knowledge-base users and rewrites inline mentions so the analyzer sees
// destination ids directly.
package usermap

import (
	"context"
	"fmt"

	"github.com/taskbridge/taskbridge/pkg/models"
)

// MappingSource is the store dependency: the active-mapping list for one
// workspace tuple.
type MappingSource interface {
	ListActive(ctx context.Context, tenantID string, sourceType models.SourceType, workspaceID string) ([]*models.UserMapping, error)
}

// Snapshot is the immutable per-discussion view of the mapping table. It is
// loaded once in stage 2.5 and shared by the rewrite pass (stage 3) and the
// assignee field (stage 5).
type Snapshot struct {
	byID     map[string]models.MappedUser
	byHandle map[string]models.MappedUser
}

// Resolver loads mapping snapshots.
type Resolver struct {
	source MappingSource
}

// NewResolver creates a Resolver over the given mapping source.
func NewResolver(source MappingSource) *Resolver {
	return &Resolver{source: source}
}

// Load builds the snapshot for one workspace of one tenant. The handle map
// covers sources whose inline mentions use display names rather than opaque
// ids.
func (r *Resolver) Load(ctx context.Context, tenantID string, sourceType models.SourceType, workspaceID string) (*Snapshot, error) {
	mappings, err := r.source.ListActive(ctx, tenantID, sourceType, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user mappings: %w", err)
	}

	snap := &Snapshot{
		byID:     make(map[string]models.MappedUser, len(mappings)),
		byHandle: make(map[string]models.MappedUser, len(mappings)),
	}
	for _, m := range mappings {
		display := m.SourceUserID
		if m.DestUserName != nil && *m.DestUserName != "" {
			display = *m.DestUserName
		} else if m.SourceUserName != nil && *m.SourceUserName != "" {
			display = *m.SourceUserName
		}
		user := models.MappedUser{DestUserID: m.DestUserID, DisplayName: display}
		snap.byID[m.SourceUserID] = user
		if m.SourceUserName != nil && *m.SourceUserName != "" {
			snap.byHandle[*m.SourceUserName] = user
		}
	}
	return snap, nil
}

// EmptySnapshot returns a snapshot with no mappings. Used by the legacy
// config path, which predates user mapping.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		byID:     map[string]models.MappedUser{},
		byHandle: map[string]models.MappedUser{},
	}
}

// Resolve looks up a mapping by opaque upstream user id.
func (s *Snapshot) Resolve(sourceUserID string) (models.MappedUser, bool) {
	u, ok := s.byID[sourceUserID]
	return u, ok
}

// ResolveHandle looks up a mapping by upstream display name.
func (s *Snapshot) ResolveHandle(name string) (models.MappedUser, bool) {
	u, ok := s.byHandle[name]
	return u, ok
}

// Len returns the number of id mappings in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.byID)
}
