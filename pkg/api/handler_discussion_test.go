package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
)

func discussionFixture(id string, status models.DiscussionStatus) *models.Discussion {
	flowID := "flow-1"
	return &models.Discussion{
		ID:             id,
		TenantID:       "tenant-1",
		SourceType:     models.SourceTypeChat,
		SourceThreadID: "C42:1700000000.000100",
		FlowID:         &flowID,
		InputID:        "in-1",
		Status:         status,
	}
}

func TestListDiscussions(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.list = []*models.Discussion{
		discussionFixture("d-1", models.DiscussionStatusCompleted),
		discussionFixture("d-2", models.DiscussionStatusFailed),
	}

	rec := ts.request(http.MethodGet, "/api/v1/discussions?status=completed&source_type=chat&limit=10&offset=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*models.Discussion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	assert.Equal(t, "completed", ts.discussion.filters.Status)
	assert.Equal(t, models.SourceTypeChat, ts.discussion.filters.SourceType)
	assert.Equal(t, 10, ts.discussion.filters.Limit)
	assert.Equal(t, 5, ts.discussion.filters.Offset)
}

func TestListDiscussionsValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "invalid status", query: "status=bogus"},
		{name: "invalid source_type", query: "source_type=carrier-pigeon"},
		{name: "invalid limit", query: "limit=zero"},
		{name: "negative offset", query: "offset=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(http.MethodGet, "/api/v1/discussions?"+tt.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListDiscussionsEmptyIsJSONArray(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(http.MethodGet, "/api/v1/discussions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetDiscussion(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.byID["d-1"] = discussionFixture("d-1", models.DiscussionStatusCompleted)

	rec := ts.request(http.MethodGet, "/api/v1/discussions/d-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Discussion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "d-1", got.ID)
}

func TestGetDiscussionNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(http.MethodGet, "/api/v1/discussions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDiscussionJobs(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.byID["d-1"] = discussionFixture("d-1", models.DiscussionStatusCompleted)
	ts.jobs.jobs = []*models.Job{{ID: "job-1"}, {ID: "job-2"}}

	rec := ts.request(http.MethodGet, "/api/v1/discussions/d-1/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "job-1", got[0].ID)
}

func TestListDiscussionJobsUnknownDiscussion(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(http.MethodGet, "/api/v1/discussions/nope/jobs", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDiscussionTasks(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.byID["d-1"] = discussionFixture("d-1", models.DiscussionStatusCompleted)
	ts.tasks.tasks = []*models.TaskRecord{{ID: "task-1", DestPageID: "page-1"}}

	rec := ts.request(http.MethodGet, "/api/v1/discussions/d-1/tasks", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*models.TaskRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "page-1", got[0].DestPageID)
}

func TestRetryDiscussion(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.byID["d-1"] = discussionFixture("d-1", models.DiscussionStatusFailed)

	rec := ts.request(http.MethodPost, "/api/v1/discussions/d-1/retry", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp RetryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "d-1", resp.DiscussionID)
	assert.Equal(t, "queued", resp.Status)

	ts.drain(t)
	assert.Equal(t, []string{"d-1"}, ts.processor.retriedIDs())
}

func TestRetryUnknownDiscussion(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(http.MethodPost, "/api/v1/discussions/nope/retry", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.drain(t)
	assert.Empty(t, ts.processor.retriedIDs())
}

func TestRetryWhileProcessingConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.discussion.byID["d-1"] = discussionFixture("d-1", models.DiscussionStatusProcessing)

	rec := ts.request(http.MethodPost, "/api/v1/discussions/d-1/retry", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.drain(t)
	assert.Empty(t, ts.processor.retriedIDs())
}
