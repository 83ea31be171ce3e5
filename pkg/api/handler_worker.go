package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/governor/pkg/services"
)

// registerWorkerHandler admits a worker into the registry. Registration is
// idempotent per worker ID; a restarted worker simply registers again.
func (s *Server) registerWorkerHandler(c *echo.Context) error {
	var input services.RegisterInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	worker, err := s.workers.Register(c.Request().Context(), input)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, worker)
}

func (s *Server) heartbeatHandler(c *echo.Context) error {
	workerID := c.Param("id")

	var input services.HeartbeatInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	depth, err := s.workers.Heartbeat(c.Request().Context(), workerID, input)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, HeartbeatResponse{PendingWorkCount: depth})
}

// pollHandler hands queued work to a worker. The limit query parameter caps
// how many items one poll may claim; the service applies its default when
// the parameter is absent or malformed.
func (s *Server) pollHandler(c *echo.Context) error {
	workerID := c.Param("id")

	var limit int64
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = parsed
	}

	result, err := s.workers.Poll(c.Request().Context(), workerID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) listWorkersHandler(c *echo.Context) error {
	workers, err := s.workers.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, WorkerListResponse{Workers: workers})
}
