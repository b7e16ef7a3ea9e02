package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/database"
	"github.com/taskbridge/taskbridge/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Checks only this service's own components (database, dispatcher); upstream
// platforms and the LLM are excluded so their outages do not trigger restarts.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB().DB)
	if err != nil {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	resp := &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: dbHealth,
	}
	if s.dispatcher != nil {
		snap := s.dispatcher.HealthSnapshot()
		resp.Dispatcher = &snap
	}
	return c.JSON(httpStatus, resp)
}
