package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/taskbridge/taskbridge/pkg/notion"
)

// testOutputHandler handles POST /api/v1/outputs/test.
// Verifies the output's destination database is reachable with its stored
// credentials.
func (s *Server) testOutputHandler(c *echo.Context) error {
	var req TestOutputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OutputID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "output_id is required")
	}

	out, err := s.flows.GetOutput(c.Request().Context(), req.OutputID)
	if err != nil {
		return mapServiceError(err)
	}
	cfg, err := notion.ParseOutputConfig(out.OutputConfig)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "output configuration is invalid: "+err.Error())
	}

	if err := s.newTester(cfg).TestConnection(c.Request().Context()); err != nil {
		s.logger.Warn("Output connection test failed", "output_id", req.OutputID, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "connection test failed: "+err.Error())
	}

	return c.JSON(http.StatusOK, &TestOutputResponse{
		Status:     "ok",
		DatabaseID: cfg.DatabaseID,
	})
}
