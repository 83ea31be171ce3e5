// Package e2e provides end-to-end test infrastructure for the governor
// pipeline: a full instance on an in-memory store with a scripted tracker
// adapter, driven over real HTTP and WebSocket connections.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/governor/pkg/api"
	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/dedup"
	"github.com/codeready-toolchain/governor/pkg/events"
	"github.com/codeready-toolchain/governor/pkg/funnel"
	"github.com/codeready-toolchain/governor/pkg/governor"
	"github.com/codeready-toolchain/governor/pkg/models"
	"github.com/codeready-toolchain/governor/pkg/override"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/tracker"
	"github.com/codeready-toolchain/governor/pkg/upstream"
)

// workerToken is the bearer token every TestApp accepts on the worker API.
const workerToken = "e2e-worker-token"

// TestApp boots a complete governor instance for e2e testing.
type TestApp struct {
	// Core
	Config *config.Config
	Store  store.Store
	Bus    *bus.Bus

	// Mocks / test wiring
	Adapter *ScriptedAdapter

	// Real infrastructure
	Guard       *upstream.Guard
	Overrides   *override.Engine
	ConnManager *events.ConnectionManager
	Dispatch    *services.DispatchService
	Sessions    *services.SessionService
	Workers     *services.WorkerService
	Prompts     *services.PromptService
	Server      *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg      *config.Config
	projects []string
	adapter  *ScriptedAdapter
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config. Sections left nil are filled with
// defaults.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithProjects sets the projects the governor owns.
func WithProjects(projects ...string) TestAppOption {
	return func(c *testAppConfig) { c.projects = projects }
}

// WithAdapter sets a pre-scripted tracker adapter.
func WithAdapter(a *ScriptedAdapter) TestAppOption {
	return func(c *testAppConfig) { c.adapter = a }
}

// WithPolling enables the poll sweep at the given interval.
func WithPolling(interval time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.cfg = ensureConfig(c.cfg)
		c.cfg.Governor.EnablePolling = true
		c.cfg.Governor.PollInterval = interval
	}
}

// WithDedupWindow overrides how long an event key suppresses duplicates.
func WithDedupWindow(d time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.cfg = ensureConfig(c.cfg)
		c.cfg.Governor.DedupWindow = d
	}
}

// WithCooldown overrides the post-session re-dispatch cooldown.
func WithCooldown(d time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.cfg = ensureConfig(c.cfg)
		c.cfg.Governor.Cooldown = d
	}
}

// WithBreaker overrides the circuit breaker's trip threshold and base reset
// timeout.
func WithBreaker(failureThreshold int, resetTimeout time.Duration) TestAppOption {
	return func(c *testAppConfig) {
		c.cfg = ensureConfig(c.cfg)
		c.cfg.Breaker.FailureThreshold = failureThreshold
		c.cfg.Breaker.ResetTimeout = resetTimeout
	}
}

func ensureConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Governor == nil {
		cfg.Governor = config.DefaultGovernorConfig()
	}
	if cfg.TopOfFunnel == nil {
		cfg.TopOfFunnel = config.DefaultTopOfFunnelConfig()
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = config.DefaultRateLimitConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = config.DefaultBreakerConfig()
	}
	if cfg.Server == nil {
		cfg.Server = config.DefaultServerConfig()
	}
	return cfg
}

// NewTestApp creates and starts a full governor test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{projects: []string{"alpha"}}
	for _, opt := range opts {
		opt(tc)
	}
	cfg := ensureConfig(tc.cfg)
	if len(cfg.Governor.Projects) == 0 {
		cfg.Governor.Projects = tc.projects
	}
	if tc.adapter == nil {
		tc.adapter = NewScriptedAdapter()
	}

	t.Setenv(cfg.Governor.WorkerAuthTokenEnv, workerToken)

	// 1. In-memory store.
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	// 2. Upstream guard around the scripted adapter. Terminal transitions
	// and poll sweeps flow through the same breaker and limiter as in
	// production.
	logger := slog.Default()
	guard := upstream.NewGuard(cfg.RateLimit, cfg.Breaker, logger)
	guarded := tracker.NewGuarded(tc.adapter, guard)

	// 3. Streaming: service notifications feed the connection manager
	// directly, standing in for the Redis pub/sub leg.
	connManager := events.NewConnectionManager(cfg.Server.WSWriteTimeout)
	notifier := localNotifier{manager: connManager}

	// 4. Domain services.
	dispatchService := services.NewDispatchService(st, cfg.Governor, notifier, logger)
	sessionService := services.NewSessionService(st, cfg.Governor, dispatchService, guarded, notifier, logger)
	workerService := services.NewWorkerService(st, logger)
	promptService := services.NewPromptService(st, notifier, logger)
	statsService := services.NewStatsService(st, guard)

	// 5. Governor loop.
	eventBus := bus.New()
	overrides := override.NewEngine(st)
	evaluator := governor.NewEvaluator(st, cfg.Governor, funnel.NewPolicy(cfg.TopOfFunnel), overrides, dispatchService, logger)
	loop := governor.NewLoop(governor.LoopDeps{
		Bus:       eventBus,
		Dedup:     dedup.New(st, cfg.Governor.DedupWindow),
		Evaluator: evaluator,
		Overrides: overrides,
		Sessions:  sessionService,
		Prompts:   promptService,
		Store:     st,
		Config:    cfg.Governor,
		Logger:    logger,
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(runCtx)
	}()

	// 6. Poller, live only when an option enabled polling.
	poller := tracker.NewPoller(guarded, eventBus, cfg.Governor, logger)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		_ = poller.Run(runCtx)
	}()

	// 7. HTTP server on a random port.
	server, err := api.NewServer(cfg, st, workerService, sessionService, promptService, statsService, guarded, eventBus, connManager, logger)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()

	app := &TestApp{
		Config:      cfg,
		Store:       st,
		Bus:         eventBus,
		Adapter:     tc.adapter,
		Guard:       guard,
		Overrides:   overrides,
		ConnManager: connManager,
		Dispatch:    dispatchService,
		Sessions:    sessionService,
		Workers:     workerService,
		Prompts:     promptService,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s/ws", addr),
		t:           t,
	}

	// Register cleanup in reverse-creation order. The store cleanup
	// registered above runs last.
	t.Cleanup(func() {
		cancelRun()
		<-pollerDone
		eventBus.Close()
		<-loopDone
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return app
}

// localNotifier bridges service notifications straight into the connection
// manager, replacing the Redis pub/sub hop of a production deployment.
type localNotifier struct {
	manager *events.ConnectionManager
}

func (n localNotifier) Notify(_ context.Context, event models.StreamEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	n.manager.Broadcast(events.GlobalChannel, payload)
	if event.SessionID != "" {
		n.manager.Broadcast(events.SessionChannel(event.SessionID), payload)
	}
}
