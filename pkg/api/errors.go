package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/flow"
	"github.com/taskbridge/taskbridge/pkg/pipeline"
	"github.com/taskbridge/taskbridge/pkg/services"
	"github.com/taskbridge/taskbridge/pkg/source"
)

// mapServiceError maps store-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyFinalized) {
		return echo.NewHTTPError(http.StatusConflict, "job is already finalized")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

// mapPipelineError maps errors surfaced synchronously from the pipeline
// (parse, flow resolution) to HTTP error responses.
func mapPipelineError(err error) *echo.HTTPError {
	var parseErr *source.ParseError
	if errors.As(err, &parseErr) {
		return echo.NewHTTPError(http.StatusBadRequest, parseErr.Error())
	}
	if errors.Is(err, flow.ErrFlowNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no active flow matches the routing key")
	}

	var pipeErr *pipeline.Error
	if errors.As(err, &pipeErr) {
		switch pipeErr.Kind {
		case pipeline.KindValidation, pipeline.KindParse:
			return echo.NewHTTPError(http.StatusBadRequest, pipeErr.Error())
		case pipeline.KindFlowNotFound:
			return echo.NewHTTPError(http.StatusNotFound, "no active flow matches the routing key")
		case pipeline.KindRateLimit:
			return echo.NewHTTPError(http.StatusTooManyRequests, "upstream rate limited")
		case pipeline.KindTransient:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream temporarily unavailable")
		}
	}

	slog.Error("Unexpected pipeline error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
