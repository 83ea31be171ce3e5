package api

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/governor/pkg/models"
)

func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.sessions.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions})
}

func (s *Server) getSessionHandler(c *echo.Context) error {
	rec, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, rec)
}

// claimSessionHandler resolves a race between workers over one session. A
// refused claim is a normal answer, not an error: the worker reads the
// claimed flag and the reason and moves on.
func (s *Server) claimSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req ClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.sessions.Claim(c.Request().Context(), sessionID, req.WorkerID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// sessionStatusHandler applies a worker's status report. Out-of-order
// reports are absorbed by the service; the response always carries the
// record as stored, which the worker must treat as authoritative.
func (s *Server) sessionStatusHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var update models.SessionStatusUpdate
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.sessions.UpdateStatus(c.Request().Context(), sessionID, update)
	if err != nil {
		return mapServiceError(err)
	}

	s.publishSessionOutcome(update, rec)

	return c.JSON(http.StatusOK, rec)
}

// publishSessionOutcome emits a session-completed event after a terminal
// status report. UpdateStatus hands back the stored record unchanged when it
// ignores a transition, so publishing only when the reported status
// round-tripped intact fires exactly once per terminal transition.
func (s *Server) publishSessionOutcome(update models.SessionStatusUpdate, rec *models.SessionRecord) {
	if update.Status != rec.Status {
		return
	}

	var outcome models.SessionOutcome
	switch rec.Status {
	case models.SessionStatusCompleted:
		outcome = models.OutcomeSuccess
	case models.SessionStatusFailed:
		outcome = models.OutcomeFailure
	default:
		// Stopped is an operator action, not an agent outcome.
		return
	}

	status, ok := models.CompletionStatus(rec.WorkType, outcome)
	if !ok {
		status, _ = models.DispatchStatus(rec.WorkType)
	}

	event := models.Event{
		Type:      models.EventSessionCompleted,
		IssueID:   rec.IssueID,
		Timestamp: rec.UpdatedAt,
		Source:    models.SourceManual,
		SessionID: rec.SessionID,
		Outcome:   outcome,
		Issue: models.Issue{
			ID:          rec.IssueID,
			Identifier:  rec.IssueIdentifier,
			Status:      status,
			ProjectName: rec.ProjectName,
			IsParent:    rec.WorkType.IsCoordination(),
		},
	}

	if _, err := s.eventBus.Publish(event); err != nil {
		s.logger.Error("Failed to publish session-completed event",
			"session_id", rec.SessionID, "error", err)
	}
}

func (s *Server) lockRefreshHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req LockRefreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	refreshed, err := s.sessions.RefreshLock(c.Request().Context(), sessionID, req.WorkerID, req.IssueID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, LockRefreshResponse{Refreshed: refreshed})
}

func (s *Server) transferSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.sessions.Transfer(c.Request().Context(), sessionID, req.OldWorkerID, req.NewWorkerID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, rec)
}

func (s *Server) stopSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	rec, err := s.sessions.Stop(c.Request().Context(), sessionID, req.Reason)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listPromptsHandler(c *echo.Context) error {
	prompts, err := s.prompts.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, PromptListResponse{Prompts: prompts})
}

func (s *Server) claimPromptHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	var req ClaimPromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	prompt, err := s.prompts.Claim(c.Request().Context(), sessionID, req.PromptID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, prompt)
}

// forwardReportHandler builds the handler for one session report kind.
// Reports against synthetic sessions have no upstream counterpart and are
// acked locally; anything else is relayed verbatim to the provider when a
// forwarder is installed.
func (s *Server) forwardReportHandler(kind string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		sessionID := c.Param("id")

		if _, err := s.sessions.Get(c.Request().Context(), sessionID); err != nil {
			return mapServiceError(err)
		}

		if models.IsSyntheticSessionID(sessionID) || s.forwarder == nil {
			return c.JSON(http.StatusOK, ReportAckResponse{Acked: true})
		}

		payload, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
		}

		if err := s.forwarder.ForwardSessionReport(c.Request().Context(), sessionID, kind, payload); err != nil {
			s.logger.Error("Failed to forward session report",
				"session_id", sessionID, "kind", kind, "error", err)
			return echo.NewHTTPError(http.StatusBadGateway, "upstream report delivery failed")
		}

		return c.JSON(http.StatusOK, ReportAckResponse{Acked: true, Forwarded: true})
	}
}
