package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// The public handlers serve unauthenticated dashboards. Everything they
// return passes through the stats service, which strips worker identities,
// prompts and tracker internals; nothing from the session records reaches
// the wire directly.

func (s *Server) publicStatsHandler(c *echo.Context) error {
	stats, err := s.stats.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, stats)
}

func (s *Server) publicSessionsHandler(c *echo.Context) error {
	sessions, err := s.stats.Sessions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) publicSessionHandler(c *echo.Context) error {
	session, err := s.stats.Session(c.Request().Context(), c.Param("publicId"))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, session)
}
