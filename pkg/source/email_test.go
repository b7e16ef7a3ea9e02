package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/models"
)

const emailPayload = `{
	"message_id": "msg-1",
	"to": ["Design Intake <acme-design@inbound.example.com>"],
	"from": "carol@example.com",
	"subject": "New comment on Homepage Redesign",
	"text": "Carol commented on Homepage Redesign:\n\nThe hero image needs a mobile crop\n\nView it here: https://www.figma.com/file/AbC123xyz/Homepage-Redesign\n\n--\nYou received this because you are subscribed."
}`

func newEmailTestAdapter(t *testing.T, handler http.Handler) *EmailAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewEmailAdapter("figd-test", &models.EmailSourceMetadata{}, WithDesignBaseURL(srv.URL))
}

func TestEmailParseIncoming(t *testing.T) {
	a := NewEmailAdapter("figd-test", &models.EmailSourceMetadata{})
	parsed, err := a.ParseIncoming([]byte(emailPayload))
	require.NoError(t, err)

	assert.Equal(t, models.SourceTypeDesignEmail, parsed.SourceType)
	assert.Equal(t, "acme-design", parsed.TeamID, "slug from the recipient local part")
	assert.Equal(t, "email:msg-1", parsed.SourceThreadID, "provisional id until the comment is correlated")
	assert.Equal(t, "AbC123xyz", parsed.Metadata["file_key"], "file key extracted from the deep link")
	assert.Equal(t, "New comment on Homepage Redesign", parsed.Title)
	assert.Contains(t, parsed.Content, "mobile crop")
	assert.NotContains(t, parsed.Content, "You received this", "signature boilerplate is stripped")
}

func TestEmailParseIncomingMissingFields(t *testing.T) {
	a := NewEmailAdapter("figd-test", &models.EmailSourceMetadata{})

	for name, payload := range map[string]string{
		"no recipient":              `{"message_id":"m","from":"x@y.com","text":"body"}`,
		"no body and no message id": `{"to":["slug@inbound.example.com"],"from":"x@y.com"}`,
		"bad address":               `{"message_id":"m","to":["not-an-address"],"text":"body"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.ParseIncoming([]byte(payload))
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestEmailParseIncomingEventOnly(t *testing.T) {
	a := NewEmailAdapter("figd-test", &models.EmailSourceMetadata{})

	// Event-style webhook: message id, no body.
	parsed, err := a.ParseIncoming([]byte(`{"message_id":"msg-1","to":["acme-design@inbound.example.com"],"from":"carol@example.com","subject":"s"}`))
	require.NoError(t, err)

	assert.Equal(t, "acme-design", parsed.TeamID)
	assert.Equal(t, "email:msg-1", parsed.SourceThreadID)
	assert.Empty(t, parsed.Content, "body is fetched from the provider later")
	assert.Equal(t, "msg-1", parsed.Metadata["message_id"])
}

func designCommentsHandler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/files/AbC123xyz/comments", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "figd-test", r.Header.Get("X-Figma-Token"))
		json.NewEncoder(w).Encode(map[string]any{
			"comments": []map[string]any{
				{
					"id": "c-root", "message": "The hero image needs a mobile crop",
					"user": map[string]string{"id": "fu-1", "handle": "Carol"}, "created_at": "2026-08-20T10:00:00Z",
				},
				{
					"id": "c-2", "parent_id": "c-root", "message": "Agreed, the crop is off",
					"user": map[string]string{"id": "fu-2", "handle": "Dan"}, "created_at": "2026-08-20T11:00:00Z",
				},
				{
					"id": "c-other", "message": "Unrelated comment about colors",
					"user": map[string]string{"id": "fu-3", "handle": "Eve"}, "created_at": "2026-08-19T09:00:00Z",
				},
			},
		})
	})
	return mux
}

func TestEmailFetchThreadCorrelatesComment(t *testing.T) {
	a := newEmailTestAdapter(t, designCommentsHandler(t))

	parsed, err := a.ParseIncoming([]byte(emailPayload))
	require.NoError(t, err)

	thread, err := a.FetchThread(context.Background(), parsed)
	require.NoError(t, err)

	assert.Equal(t, "AbC123xyz:c-root", thread.SourceThreadID, "canonical id after correlation")
	assert.Equal(t, "The hero image needs a mobile crop", thread.Root.Content)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "Agreed, the crop is off", thread.Replies[0].Content)
	assert.Equal(t, []string{"fu-1", "fu-2"}, thread.Participants)
}

func TestEmailFetchThreadNoMatchFallsBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/files/AbC123xyz/comments", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"comments": []map[string]any{}})
	})
	a := newEmailTestAdapter(t, mux)

	parsed, err := a.ParseIncoming([]byte(emailPayload))
	require.NoError(t, err)

	thread, err := a.FetchThread(context.Background(), parsed)
	require.NoError(t, err)
	assert.Equal(t, "email:msg-1", thread.SourceThreadID, "provisional id stands when nothing matches")
	assert.Contains(t, thread.Root.Content, "mobile crop")
}

const eventOnlyPayload = `{"message_id":"msg-1","to":["acme-design@inbound.example.com"],"from":"carol@example.com","subject":"s"}`

func TestEmailFetchThreadFetchesBodyFromProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/files/AbC123xyz/comments", designCommentsHandler(t))
	mux.HandleFunc("GET /emails/msg-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sg-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"message_id": "msg-1",
			"from":       "carol@example.com",
			"subject":    "New comment on Homepage Redesign",
			"text":       "The hero image needs a mobile crop\n\nView it here: https://www.figma.com/file/AbC123xyz/Homepage-Redesign",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	meta := &models.EmailSourceMetadata{EmailAPIURL: srv.URL, EmailAPIKey: "sg-test"}
	a := NewEmailAdapter("figd-test", meta, WithDesignBaseURL(srv.URL))

	parsed, err := a.ParseIncoming([]byte(eventOnlyPayload))
	require.NoError(t, err)
	require.Empty(t, parsed.Content)

	thread, err := a.FetchThread(context.Background(), parsed)
	require.NoError(t, err)

	assert.Equal(t, "AbC123xyz:c-root", thread.SourceThreadID, "fetched body correlates to the canonical comment")
	assert.Equal(t, "The hero image needs a mobile crop", thread.Root.Content)
	assert.Contains(t, parsed.Content, "mobile crop", "parsed discussion hydrated from the fetched body")
	assert.Equal(t, "AbC123xyz", parsed.Metadata["file_key"], "file key backfilled from the fetched body")
}

func TestEmailFetchThreadProviderErrorPropagates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /emails/msg-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	meta := &models.EmailSourceMetadata{EmailAPIURL: srv.URL, EmailAPIKey: "sg-test"}
	a := NewEmailAdapter("figd-test", meta, WithDesignBaseURL(srv.URL))

	parsed, err := a.ParseIncoming([]byte(eventOnlyPayload))
	require.NoError(t, err)

	_, err = a.FetchThread(context.Background(), parsed)
	require.Error(t, err)
	assert.True(t, hasStatus(err, http.StatusBadGateway))
}

func TestEmailFetchThreadNoProviderConfigured(t *testing.T) {
	a := NewEmailAdapter("figd-test", &models.EmailSourceMetadata{})

	parsed, err := a.ParseIncoming([]byte(eventOnlyPayload))
	require.NoError(t, err)

	_, err = a.FetchThread(context.Background(), parsed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email provider API is configured")
}

func TestEmailUpdateStatusConflictIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/comments/c-root/reactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	a := newEmailTestAdapter(t, mux)

	err := a.UpdateStatus(context.Background(), "AbC123xyz:c-root", StatusPending)
	assert.NoError(t, err)
}

func TestEmailRemoveStatusAbsentIsNotAnError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/comments/c-root/reactions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	a := newEmailTestAdapter(t, mux)

	err := a.RemoveStatus(context.Background(), "AbC123xyz:c-root", StatusCompleted)
	assert.NoError(t, err)
}

func TestEmailPostReply(t *testing.T) {
	var body map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files/AbC123xyz/comments", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]string{"id": "c-new"})
	})
	a := newEmailTestAdapter(t, mux)

	err := a.PostReply(context.Background(), "AbC123xyz:c-root", "tasks created: https://notion.example.com/p1")
	require.NoError(t, err)
	assert.Equal(t, "c-root", body["comment_id"])
	assert.Contains(t, body["message"], "tasks created")
}

func TestAddressLocalPart(t *testing.T) {
	assert.Equal(t, "acme-design", addressLocalPart("Design Intake <ACME-Design@inbound.example.com>"))
	assert.Equal(t, "slug", addressLocalPart("slug@host"))
	assert.Equal(t, "", addressLocalPart("no-at-sign"))
}
