package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/models"
	"github.com/taskbridge/taskbridge/pkg/queue"
	"github.com/taskbridge/taskbridge/pkg/services"
)

// listDiscussionsHandler handles GET /api/v1/discussions.
func (s *Server) listDiscussionsHandler(c *echo.Context) error {
	f := services.DiscussionFilters{}

	if v := c.QueryParam("status"); v != "" {
		switch models.DiscussionStatus(v) {
		case models.DiscussionStatusPending, models.DiscussionStatusProcessing,
			models.DiscussionStatusAnalyzed, models.DiscussionStatusCompleted,
			models.DiscussionStatusFailed:
			f.Status = v
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
	}
	if v := c.QueryParam("source_type"); v != "" {
		if !models.SourceType(v).Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid source_type: "+v)
		}
		f.SourceType = models.SourceType(v)
	}
	f.FlowID = c.QueryParam("flow_id")

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		f.Offset = n
	}

	discussions, err := s.discussions.List(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(err)
	}
	if discussions == nil {
		discussions = []*models.Discussion{}
	}
	return c.JSON(http.StatusOK, discussions)
}

// getDiscussionHandler handles GET /api/v1/discussions/:id.
func (s *Server) getDiscussionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discussion id is required")
	}

	d, err := s.discussions.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// listDiscussionJobsHandler handles GET /api/v1/discussions/:id/jobs.
// Returns the full job chain, retries included, oldest first.
func (s *Server) listDiscussionJobsHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discussion id is required")
	}

	if _, err := s.discussions.Get(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	jobs, err := s.jobs.ListByDiscussion(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

// listDiscussionTasksHandler handles GET /api/v1/discussions/:id/tasks.
func (s *Server) listDiscussionTasksHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discussion id is required")
	}

	if _, err := s.discussions.Get(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	tasks, err := s.tasks.ListByDiscussion(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if tasks == nil {
		tasks = []*models.TaskRecord{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// retryDiscussionHandler handles POST /api/v1/discussions/:id/retry.
// Queues a reprocessing run under a fresh job row.
func (s *Server) retryDiscussionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "discussion id is required")
	}

	d, err := s.discussions.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if d.Status == models.DiscussionStatusProcessing {
		return echo.NewHTTPError(http.StatusConflict, "discussion is already being processed")
	}

	s.logger.Info("Retry requested",
		"discussion_id", id, "author", extractAuthor(c))

	err = s.dispatcher.Submit(id, func(ctx context.Context) {
		if _, err := s.processor.Retry(ctx, id); err != nil {
			s.logger.Error("Retry run failed", "discussion_id", id, "error", err)
		}
	})
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "processing queue is full, retry later")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue retry")
	}

	return c.JSON(http.StatusAccepted, &RetryResponse{
		DiscussionID: id,
		Status:       "queued",
		Message:      "Retry queued for processing",
	})
}
