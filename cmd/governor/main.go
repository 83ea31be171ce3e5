// Governor server: consumes issue-tracker events, evaluates issues against
// dispatch policy, and orchestrates agent work sessions over the worker API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/governor/pkg/api"
	"github.com/codeready-toolchain/governor/pkg/bus"
	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/dedup"
	"github.com/codeready-toolchain/governor/pkg/events"
	"github.com/codeready-toolchain/governor/pkg/funnel"
	"github.com/codeready-toolchain/governor/pkg/governor"
	"github.com/codeready-toolchain/governor/pkg/override"
	"github.com/codeready-toolchain/governor/pkg/reaper"
	"github.com/codeready-toolchain/governor/pkg/services"
	"github.com/codeready-toolchain/governor/pkg/store"
	"github.com/codeready-toolchain/governor/pkg/tracker"
	"github.com/codeready-toolchain/governor/pkg/upstream"
	"github.com/codeready-toolchain/governor/pkg/version"
)

// loopDrainTimeout bounds how long shutdown waits for in-flight evaluations
// before cancelling them.
const loopDrainTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting governor",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()
	logger := slog.Default()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	cfgStats := cfg.Stats()
	slog.Info("Configuration loaded",
		"projects", cfgStats.Projects,
		"polling", cfgStats.PollingEnabled,
		"priority_rules", cfgStats.PriorityRules)

	// 2. Connect to Redis
	client, err := store.NewClient(cfg.Redis, cfg.RedisPassword())
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	st := store.NewRedisStore(client)

	// 3. Upstream guard and tracker platform. Without a configured platform
	// the governor runs webhook-only: the neutral normalizer handles ingress
	// and there is no poll sweep or upstream transition.
	guard := upstream.NewGuard(cfg.RateLimit, cfg.Breaker, logger)

	var adapter tracker.Adapter
	var normalizer api.WebhookNormalizer = tracker.Normalizer{}
	var transitioner services.IssueTransitioner
	if cfg.Governor.Platform != "" {
		opened, err := tracker.Open(tracker.Platform(cfg.Governor.Platform), cfg, logger)
		if err != nil {
			slog.Error("Failed to open tracker platform",
				"platform", cfg.Governor.Platform, "error", err)
			os.Exit(1)
		}
		adapter = tracker.NewGuarded(opened, guard)
		normalizer = adapter
		transitioner = adapter
		slog.Info("Tracker platform opened", "platform", cfg.Governor.Platform)
	} else if cfg.Governor.EnablePolling {
		slog.Warn("Polling is enabled but no tracker platform is configured, poll sweep disabled")
	}

	// 4. Event streaming: Redis pub/sub fan-in, WebSocket fan-out
	notifier := events.NewPublisher(client, logger)
	connManager := events.NewConnectionManager(cfg.Server.WSWriteTimeout)
	listener := events.NewListener(client, connManager, logger)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start event listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop()

	// 5. Domain services
	dispatchService := services.NewDispatchService(st, cfg.Governor, notifier, logger)
	sessionService := services.NewSessionService(st, cfg.Governor, dispatchService, transitioner, notifier, logger)
	workerService := services.NewWorkerService(st, logger)
	promptService := services.NewPromptService(st, notifier, logger)
	statsService := services.NewStatsService(st, guard)
	slog.Info("Services initialized")

	// 6. Governor loop over the in-process event bus
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

	// 7. Create HTTP server before anything starts consuming, so a bad
	// worker-auth setup fails boot instead of surfacing on the first request
	server, err := api.NewServer(cfg, st, workerService, sessionService, promptService, statsService, normalizer, eventBus, connManager, logger)
	if err != nil {
		slog.Error("Failed to create API server", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// 8. Start the reaper first: with startup recovery enabled its initial
	// sweep puts sessions stranded by a previous crash back in the queue
	// before any traffic arrives
	rp := reaper.New(st, cfg.Reaper, sessionService, dispatchService, logger)
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := rp.Run(reaperCtx); err != nil {
			slog.Error("Reaper error", "error", err)
		}
	}()

	// 9. Start the governor loop and, when a platform is linked, the poller
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(runCtx); err != nil {
			slog.Error("Governor loop error", "error", err)
		}
	}()

	pollerCtx, cancelPoller := context.WithCancel(ctx)
	defer cancelPoller()
	pollerDone := make(chan struct{})
	if adapter != nil {
		poller := tracker.NewPoller(adapter, eventBus, cfg.Governor, logger)
		go func() {
			defer close(pollerDone)
			if err := poller.Run(pollerCtx); err != nil {
				slog.Error("Poller error", "error", err)
			}
		}()
	} else {
		close(pollerDone)
	}

	// 10. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Governor started",
		"addr", cfg.Server.ListenAddr,
		"projects", cfgStats.Projects)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown. Intake stops first: the poller quits
	// publishing, then the closed bus stops the loop, which drains its
	// in-flight evaluations.
	cancelPoller()
	<-pollerDone
	eventBus.Close()

	select {
	case <-loopDone:
		slog.Info("Governor loop drained")
	case <-time.After(loopDrainTimeout):
		slog.Warn("Loop drain timeout exceeded, cancelling in-flight evaluations")
		cancelRun()
		<-loopDone
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cancelReaper()
	<-reaperDone

	slog.Info("Shutdown complete")
}
