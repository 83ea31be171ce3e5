package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/governor/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"

	healthCheckTimeout = 5 * time.Second
)

// healthHandler reports liveness of the process and its store. A 503 here
// tells the orchestrator to stop routing; workers keep retrying on their
// own backoff.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy
	code := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		status = healthStatusUnhealthy
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	return c.JSON(code, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
