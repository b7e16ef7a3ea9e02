package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/queue"
)

const chatEventBody = `{"team_id":"T123","event":{"type":"app_mention","user":"U1","text":"fix the export","channel":"C42","ts":"1700000000.000100"}}`

const emailEventBody = `{"message_id":"msg-1","to":["acme-design@inbound.example.com"],"from":"dana@example.com","subject":"New comment","text":"The header is misaligned https://design.example.com/file/AbC123xyz/home"}`

func TestChatWebhookQueuesPipelineRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "C42:1700000000.000100", resp.ThreadID)

	ts.drain(t)
	assert.Equal(t, 1, ts.processor.processedCount())
	assert.Equal(t, models.SourceTypeChat, ts.processor.processed[0])
}

func TestChatWebhookURLVerification(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/webhooks/chat",
		`{"type":"url_verification","challenge":"abc123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"abc123"}`, rec.Body.String())

	ts.drain(t)
	assert.Equal(t, 0, ts.processor.processedCount(), "handshake must not start a pipeline")
}

func TestEmailWebhookQueuesPipelineRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(http.MethodPost, "/webhooks/email", emailEventBody, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "email:msg-1", resp.ThreadID)

	ts.drain(t)
	assert.Equal(t, 1, ts.processor.processedCount())
	assert.Equal(t, models.SourceTypeDesignEmail, ts.processor.processed[0])
}

func TestWebhookMalformedPayloadReturns400(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "chat missing team_id", path: "/webhooks/chat", body: `{"event":{"channel":"C1","ts":"1"}}`},
		{name: "chat missing channel", path: "/webhooks/chat", body: `{"team_id":"T1","event":{"ts":"1"}}`},
		{name: "email missing recipient", path: "/webhooks/email", body: `{"message_id":"m1","text":"hi"}`},
		{name: "not json", path: "/webhooks/chat", body: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.request(http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	ts.drain(t)
	assert.Equal(t, 0, ts.processor.processedCount())
}

func TestWebhookEmptyBodyReturns400(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(http.MethodPost, "/webhooks/chat", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownFlowReturns404(t *testing.T) {
	ts := newTestServer(t)
	ts.resolver.err = flow.ErrFlowNotFound

	rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.drain(t)
	assert.Equal(t, 0, ts.processor.processedCount())
}

func TestWebhookQueueFullReturns503(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.Dispatcher = queue.NewDispatcher(1)
	})

	// Occupy the only slot with a task that blocks until the test ends.
	release := make(chan struct{})
	require.NoError(t, ts.dispatcher.Submit("blocker", func(ctx context.Context) { <-release }))

	rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(release)
	ts.drain(t)
	assert.Equal(t, 0, ts.processor.processedCount())
}

func TestWebhookSecretEnforced(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) {
		cfg.WebhookSecret = "hunter2"
	})

	t.Run("missing token", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody,
			map[string]string{"X-Webhook-Token": "nope"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct token", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/webhooks/chat", chatEventBody,
			map[string]string{"X-Webhook-Token": "hunter2"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("query API is not gated", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/api/v1/discussions", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	ts.drain(t)
}
