package api

import (
	"context"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/source"
)

// taskStatusCallbackHandler handles POST /api/v1/callbacks/task-status.
// The knowledge base reports a page status change; the page id is
// reverse-looked-up to its originating thread, which gets a best-effort note.
func (s *Server) taskStatusCallbackHandler(c *echo.Context) error {
	var req TaskStatusCallbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PageID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "page_id is required")
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	reqCtx := c.Request().Context()
	task, err := s.tasks.GetByDestPageID(reqCtx, req.PageID)
	if err != nil {
		return mapServiceError(err)
	}
	d, err := s.discussions.Get(reqCtx, task.DiscussionID)
	if err != nil {
		return mapServiceError(err)
	}

	notified := s.notifyThread(reqCtx, d, task, req.Status)
	return c.JSON(http.StatusOK, &CallbackResponse{
		DiscussionID: d.ID,
		ThreadID:     d.SourceThreadID,
		Notified:     notified,
	})
}

// notifyThread posts the status note back to the source thread. Failures are
// logged, never surfaced: the callback sender cannot fix them.
func (s *Server) notifyThread(ctx context.Context, d *models.Discussion, task *models.TaskRecord, status string) bool {
	adapter, err := s.adapterForDiscussion(ctx, d)
	if err != nil {
		s.logger.Warn("Cannot build adapter for status callback",
			"discussion_id", d.ID, "error", err)
		return false
	}

	msg := fmt.Sprintf("Task %q is now %s", task.Title, status)
	if err := adapter.PostReply(ctx, d.SourceThreadID, msg); err != nil {
		s.logger.Warn("Failed to post status note",
			"discussion_id", d.ID, "thread_id", d.SourceThreadID, "error", err)
		return false
	}
	return true
}

// adapterForDiscussion rebuilds the source adapter from the discussion's
// input, falling back to the legacy configs table for pre-flow rows.
func (s *Server) adapterForDiscussion(ctx context.Context, d *models.Discussion) (source.Adapter, error) {
	if d.FlowID != nil {
		input, err := s.flows.GetInput(ctx, d.InputID)
		if err != nil {
			return nil, err
		}
		return s.newAdapter(input)
	}
	cfg, err := s.flows.GetLegacyConfig(ctx, d.InputID)
	if err != nil {
		return nil, err
	}
	return s.newAdapter(&models.FlowInput{
		ID:             cfg.ID,
		SourceType:     cfg.SourceType,
		APIToken:       cfg.APIToken,
		SourceMetadata: cfg.SourceMetadata,
	})
}
