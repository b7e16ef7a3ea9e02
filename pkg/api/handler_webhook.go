package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/queue"
	"github.com/taskbridge/taskbridge/pkg/source"
)

// maxWebhookBodySize caps inbound webhook payloads at 1 MiB.
const maxWebhookBodySize = 1 << 20

// chatWebhookHandler handles POST /webhooks/chat.
// Answers the platform's URL-verification handshake inline; real events are
// validated, routed, and queued for async processing.
func (s *Server) chatWebhookHandler(c *echo.Context) error {
	body, err := readWebhookBody(c)
	if err != nil {
		return err
	}

	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Type == "url_verification" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": probe.Challenge})
	}

	return s.ingest(c, models.SourceTypeChat, body)
}

// emailWebhookHandler handles POST /webhooks/email.
func (s *Server) emailWebhookHandler(c *echo.Context) error {
	body, err := readWebhookBody(c)
	if err != nil {
		return err
	}
	return s.ingest(c, models.SourceTypeDesignEmail, body)
}

// ingest validates the payload and its routing key synchronously, then hands
// the pipeline run to the dispatcher and acknowledges with 202. Parse and
// routing failures surface to the sender; everything downstream is recorded
// on the job ledger instead.
func (s *Server) ingest(c *echo.Context, sourceType models.SourceType, body []byte) error {
	parsed, err := source.Parse(sourceType, body)
	if err != nil {
		return mapPipelineError(err)
	}

	if _, err := s.resolver.Resolve(c.Request().Context(), sourceType, parsed.TeamID); err != nil {
		return mapPipelineError(err)
	}

	err = s.dispatcher.Submit(parsed.SourceThreadID, func(ctx context.Context) {
		if _, err := s.processor.Process(ctx, sourceType, body); err != nil {
			s.logger.Error("Pipeline run failed",
				"source_type", sourceType,
				"thread_id", parsed.SourceThreadID,
				"error", err)
		}
	})
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "processing queue is full, retry later")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue discussion")
	}

	return c.JSON(http.StatusAccepted, &WebhookResponse{
		Status:   "queued",
		ThreadID: parsed.SourceThreadID,
		Message:  "Discussion queued for processing",
	})
}

func readWebhookBody(c *echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodySize+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > maxWebhookBodySize {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "webhook payload too large")
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty request body")
	}
	return body, nil
}
