package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/retry"
)

func strPtr(s string) *string { return &s }

func testOutputConfig() *OutputConfig {
	return &OutputConfig{
		DatabaseID:    "db-1",
		AccessToken:   "secret",
		TitleProperty: "Name",
		FieldMapping: FieldMapping{
			FieldPriority: {DestProperty: "Priority", PropertyType: "select", ValueMap: map[string]string{"high": "High 🔥"}},
			FieldAssignee: {DestProperty: "Owner", PropertyType: "people"},
			FieldTags:     {DestProperty: "Labels", PropertyType: "multi_select"},
			FieldDueDate:  {DestProperty: "Due", PropertyType: "date"},
		},
	}
}

func testPageContext() *PageContext {
	return &PageContext{
		Thread: &models.Thread{
			SourceThreadID: "C1:123.456",
			Root:           models.ThreadMessage{AuthorID: "U1", AuthorName: "alice", Content: "hello"},
			Replies:        []models.ThreadMessage{{AuthorID: "U2", AuthorName: "bob", Content: "world"}},
			Participants:   []string{"U1", "U2"},
		},
		Summary:    &models.ThreadSummary{Text: "Summary.", KeyPoints: []string{"point one"}},
		SourceType: models.SourceTypeChat,
		SourceURL:  "https://chat.example.com/archives/C1/p123456",
		AuthorID:   "U1",
		Resolver:   mapResolver{"U1": {DestUserID: "notion-1", DisplayName: "Alice"}},
	}
}

// mapResolver is a static UserResolver for tests.
type mapResolver map[string]models.MappedUser

func (m mapResolver) Resolve(id string) (models.MappedUser, bool) {
	u, ok := m[id]
	return u, ok
}

func TestParseOutputConfig(t *testing.T) {
	cfg, err := ParseOutputConfig(models.JSONMap{
		"database_id":  "db-9",
		"access_token": "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "db-9", cfg.DatabaseID)
	assert.Equal(t, "Name", cfg.TitleProperty, "title property defaults")

	_, err = ParseOutputConfig(models.JSONMap{"access_token": "tok"})
	assert.ErrorContains(t, err, "database_id")

	_, err = ParseOutputConfig(models.JSONMap{"database_id": "db"})
	assert.ErrorContains(t, err, "access_token")
}

func TestBuildPropertiesAppliesValueMapAndTypes(t *testing.T) {
	task := &models.DetectedTask{
		Title:    "Fix export",
		Priority: strPtr("high"),
		Assignee: strPtr("U1"),
		DueDate:  strPtr("2026-09-01"),
		Tags:     []string{"export", "perf"},
	}
	props := BuildProperties(task, testOutputConfig(), mapResolver{"U1": {DestUserID: "notion-1", DisplayName: "Alice"}})

	require.Contains(t, props, "Name")
	sel := props["Priority"].(map[string]any)["select"].(map[string]string)
	assert.Equal(t, "High 🔥", sel["name"], "value map applied")

	people := props["Owner"].(map[string]any)["people"].([]map[string]string)
	require.Len(t, people, 1)
	assert.Equal(t, "notion-1", people[0]["id"], "assignee resolved to destination id")

	date := props["Due"].(map[string]any)["date"].(map[string]string)
	assert.Equal(t, "2026-09-01", date["start"])

	labels := props["Labels"].(map[string]any)["multi_select"].([]map[string]string)
	assert.Len(t, labels, 2)
}

func TestBuildPropertiesSkipsUnmappedAndNilFields(t *testing.T) {
	task := &models.DetectedTask{Title: "Just a title", Type: strPtr("bug")}
	props := BuildProperties(task, testOutputConfig(), nil)
	assert.Len(t, props, 1, "only the title property is set")
}

func TestBuildPageBodyStructure(t *testing.T) {
	task := &models.DetectedTask{
		Title:       "Fix export",
		Priority:    strPtr("high"),
		ActionItems: []string{"profile the query", "add index"},
	}
	blocks := BuildPageBody(task, testPageContext())

	types := make([]string, 0, len(blocks))
	for _, b := range blocks {
		types = append(types, b["type"].(string))
	}
	assert.Equal(t, "callout", types[0], "summary callout leads")
	assert.Contains(t, types, "to_do")
	assert.Contains(t, types, "toggle")
	assert.Contains(t, types, "divider")
	assert.Contains(t, types, "bulleted_list_item")

	// Resolved participant becomes a structured mention, unresolved falls
	// back to literal text.
	encoded, err := json.Marshal(blocks)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"notion-1"`)
	assert.Contains(t, string(encoded), "@U2")
	assert.Contains(t, string(encoded), "View original discussion")
}

func TestClientCreatePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/pages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Notion-Version"))

		var req createPageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "db-1", req.Parent["database_id"])

		json.NewEncoder(w).Encode(map[string]string{
			"id":  "page-1",
			"url": "https://notion.example.com/page-1",
		})
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL))
	ref, err := c.CreatePage(context.Background(), "db-1", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "page-1", ref.ID)
	assert.Equal(t, "https://notion.example.com/page-1", ref.URL)
}

func TestClientErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()

	c := NewClient("bad", WithBaseURL(srv.URL))
	err := c.TestConnection(context.Background(), "db-1")
	require.Error(t, err)

	var httpErr *retry.HTTPStatusError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.False(t, httpErr.Retryable())
	assert.True(t, httpErr.IsAuthError())
}

func TestWriterRetriesRateLimitedCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "page-2", "url": "https://notion.example.com/page-2"})
	}))
	defer srv.Close()

	w := NewWriter(testOutputConfig(), WithBaseURL(srv.URL))
	w.retryCfg.InitialInterval = 10 * time.Millisecond

	ref, err := w.WriteTask(context.Background(), &models.DetectedTask{Title: "t"}, testPageContext())
	require.NoError(t, err)
	assert.Equal(t, "page-2", ref.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWriterFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"validation_error"}`))
	}))
	defer srv.Close()

	w := NewWriter(testOutputConfig(), WithBaseURL(srv.URL))
	w.retryCfg.InitialInterval = 10 * time.Millisecond

	_, err := w.WriteTask(context.Background(), &models.DetectedTask{Title: "t"}, testPageContext())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestWriterPacesSuccessiveWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "p", "url": "u"})
	}))
	defer srv.Close()

	w := NewWriter(testOutputConfig(), WithBaseURL(srv.URL))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := w.WriteTask(context.Background(), &models.DetectedTask{Title: "t"}, testPageContext())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*minWriteGap)
}
