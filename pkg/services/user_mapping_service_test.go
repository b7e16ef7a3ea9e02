package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
)

func mappingColumns() []string {
	cols := []string{
		"mapping_id", "tenant_id", "source_type", "source_workspace_id",
		"source_user_id", "source_user_name", "dest_user_id", "dest_user_name", "active",
	}
	return append(cols, storeAuditColumns()...)
}

func TestListActiveScopesToWorkspace(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewUserMappingService(db)

	rows := sqlmock.NewRows(mappingColumns()).
		AddRow(append([]driver.Value{"map-1", "tenant-1", "chat", "T123", "U100", "alice", "notion-alice", "Alice L", true}, storeAuditValues()...)...).
		AddRow(append([]driver.Value{"map-2", "tenant-1", "chat", "T123", "U200", nil, "notion-bob", nil, true}, storeAuditValues()...)...)
	mock.ExpectQuery(`SELECT \* FROM user_mappings\s+WHERE active AND tenant_id = \$1 AND source_type = \$2 AND source_workspace_id = \$3\s+ORDER BY created_at ASC`).
		WithArgs("tenant-1", "chat", "T123").
		WillReturnRows(rows)

	mappings, err := s.ListActive(context.Background(), "tenant-1", models.SourceTypeChat, "T123")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, "U100", mappings[0].SourceUserID)
	assert.Equal(t, "notion-alice", mappings[0].DestUserID)
	require.NotNil(t, mappings[0].SourceUserName)
	assert.Equal(t, "alice", *mappings[0].SourceUserName)
	assert.Nil(t, mappings[1].SourceUserName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveEmptyWorkspace(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewUserMappingService(db)

	mock.ExpectQuery(`SELECT \* FROM user_mappings`).
		WithArgs("tenant-1", "design-email", "W9").
		WillReturnRows(sqlmock.NewRows(mappingColumns()))

	mappings, err := s.ListActive(context.Background(), "tenant-1", models.SourceTypeDesignEmail, "W9")
	require.NoError(t, err)
	assert.Empty(t, mappings)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewUserMappingService(db)

	mock.ExpectQuery(`SELECT \* FROM user_mappings`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.ListActive(context.Background(), "tenant-1", models.SourceTypeChat, "T123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list user mappings")
	assert.NoError(t, mock.ExpectationsWereMet())
}
