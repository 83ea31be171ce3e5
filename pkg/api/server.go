// Package api serves the governor's HTTP surface: the worker API that agent
// runners drive their sessions through, the tracker webhook ingress, the
// sanitized public endpoints, Prometheus metrics and the WebSocket event
// stream. Handlers stay thin; every decision lives in the service layer.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/events"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
)

// WebhookNormalizer turns one raw tracker delivery into governor events.
// tracker.Normalizer is the production implementation.
type WebhookNormalizer interface {
	NormalizeWebhookEvent(payload []byte) ([]models.Event, error)
}

// ActivityForwarder relays worker session reports to the upstream provider
// for sessions the provider issued. Synthetic governor-minted sessions never
// reach it; their reports are acked locally.
type ActivityForwarder interface {
	ForwardSessionReport(ctx context.Context, sessionID, kind string, payload []byte) error
}

// Server is the governor's HTTP server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg         *config.Config
	store       store.Store
	workers     *services.WorkerService
	sessions    *services.SessionService
	prompts     *services.PromptService
	stats       *services.StatsService
	normalizer  WebhookNormalizer
	eventBus    *bus.Bus
	connManager *events.ConnectionManager
	forwarder   ActivityForwarder

	authToken string
	logger    *slog.Logger
}

// NewServer wires the HTTP surface. normalizer and connManager may be nil;
// the webhook and WebSocket endpoints then answer 503. It fails when the
// worker bearer token is unconfigured: an authenticated surface without a
// credential would refuse every worker anyway.
func NewServer(
	cfg *config.Config,
	st store.Store,
	workers *services.WorkerService,
	sessions *services.SessionService,
	prompts *services.PromptService,
	stats *services.StatsService,
	normalizer WebhookNormalizer,
	eventBus *bus.Bus,
	connManager *events.ConnectionManager,
	logger *slog.Logger,
) (*Server, error) {
	if cfg == nil || cfg.Server == nil {
		panic("server config is required")
	}
	if st == nil {
		panic("store is required")
	}
	if workers == nil || sessions == nil || prompts == nil || stats == nil {
		panic("all services are required")
	}
	if eventBus == nil {
		panic("event bus is required")
	}

	token := cfg.WorkerAuthToken()
	if token == "" {
		return nil, fmt.Errorf("worker auth token is not configured (set %s)", cfg.Governor.WorkerAuthTokenEnv)
	}

	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		store:       st,
		workers:     workers,
		sessions:    sessions,
		prompts:     prompts,
		stats:       stats,
		normalizer:  normalizer,
		eventBus:    eventBus,
		connManager: connManager,
		authToken:   token,
		logger:      logger.With("component", "api"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// SetActivityForwarder installs the upstream relay for session reports on
// provider-issued sessions. Without one, every report is acked locally.
func (s *Server) SetActivityForwarder(f ActivityForwarder) {
	s.forwarder = f
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(securityHeaders())

	// Unauthenticated surface.
	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)
	e.GET("/ws", s.wsHandler)
	e.POST("/webhook", s.webhookHandler)
	e.GET("/public/stats", s.publicStatsHandler)
	e.GET("/public/sessions", s.publicSessionsHandler)
	e.GET("/public/sessions/:publicId", s.publicSessionHandler)

	// Worker surface, behind the shared bearer token. Per-worker ownership
	// is enforced in the service layer, not here.
	g := e.Group("", s.bearerAuth())
	g.POST("/workers/register", s.registerWorkerHandler)
	g.POST("/workers/:id/heartbeat", s.heartbeatHandler)
	g.GET("/workers/:id/poll", s.pollHandler)
	g.GET("/workers", s.listWorkersHandler)

	g.GET("/sessions", s.listSessionsHandler)
	g.GET("/sessions/:id", s.getSessionHandler)
	g.POST("/sessions/:id/claim", s.claimSessionHandler)
	g.POST("/sessions/:id/status", s.sessionStatusHandler)
	g.POST("/sessions/:id/lock-refresh", s.lockRefreshHandler)
	g.POST("/sessions/:id/transfer-ownership", s.transferSessionHandler)
	g.POST("/sessions/:id/stop", s.stopSessionHandler)
	g.GET("/sessions/:id/prompts", s.listPromptsHandler)
	g.POST("/sessions/:id/prompts", s.claimPromptHandler)

	// Session report relay. Synthetic sessions are acked locally; provider
	// sessions are forwarded when a forwarder is installed.
	g.POST("/sessions/:id/activity", s.forwardReportHandler("activity"))
	g.POST("/sessions/:id/progress", s.forwardReportHandler("progress"))
	g.POST("/sessions/:id/completion", s.forwardReportHandler("completion"))
	g.POST("/sessions/:id/external-urls", s.forwardReportHandler("external-urls"))
	g.POST("/sessions/:id/tool-error", s.forwardReportHandler("tool-error"))
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.cfg.Server.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// StartWithListener serves on an already bound listener. Tests use it to
// bind a random port before starting the server goroutine.
func (s *Server) StartWithListener(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
