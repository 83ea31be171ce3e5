package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
	"github.com/codeready-toolchain/governor/pkg/telemetry"
)

// Retry tuning for transient upstream failures.
const (
	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries = 3

	// RetryBaseDelay is the first backoff interval, doubling per attempt.
	RetryBaseDelay = time.Second

	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay = 10 * time.Second

	// DefaultPenalty applies after an HTTP 429 without a Retry-After header.
	DefaultPenalty = time.Second
)

// Guard runs every upstream tracker call through the breaker, the shared
// rate limiter, and the retry policy, in that order. The breaker check
// comes first so an open circuit consumes no tokens.
type Guard struct {
	limiter   *Limiter
	breaker   *Breaker
	authCodes []int
	logger    *slog.Logger
	calls     atomic.Int64

	// sleep is replaced in tests to observe backoff without waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGuard(rateCfg *config.RateLimitConfig, breakerCfg *config.BreakerConfig, logger *slog.Logger) *Guard {
	return &Guard{
		limiter:   NewLimiter(rateCfg),
		breaker:   NewBreaker(breakerCfg),
		authCodes: breakerCfg.AuthErrorCodes,
		logger:    logger.With("component", "upstream"),
		sleep:     sleepCtx,
	}
}

// Limiter exposes the shared token bucket.
func (g *Guard) Limiter() *Limiter { return g.limiter }

// Breaker exposes the circuit breaker.
func (g *Guard) Breaker() *Breaker { return g.breaker }

// CallCount returns the number of successful upstream calls since start.
func (g *Guard) CallCount() int64 { return g.calls.Load() }

// Do executes fn under the full mediation policy. Auth failures trip the
// breaker and are never retried; 429s penalize the limiter and retry;
// 5xx/network/timeout failures retry with exponential backoff. op names the
// API operation for logs and metrics.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := g.breaker.CanProceed(); err != nil {
			telemetry.BreakerRejections.Inc()
			telemetry.SetBreakerState(string(g.breaker.State()))
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := g.limiter.Acquire(ctx); err != nil {
			return fmt.Errorf("%s: waiting for rate limiter: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			g.breaker.RecordSuccess()
			g.calls.Add(1)
			telemetry.APICalls.WithLabelValues(op, "success").Inc()
			telemetry.SetBreakerState(string(g.breaker.State()))
			return nil
		}
		lastErr = err

		switch Classify(err, g.authCodes) {
		case ClassAuth:
			g.breaker.RecordAuthFailure()
			telemetry.APICalls.WithLabelValues(op, "auth_failure").Inc()
			telemetry.SetBreakerState(string(g.breaker.State()))
			g.logger.Warn("upstream auth failure",
				"operation", op,
				"breaker_state", g.breaker.State(),
				"error", err)
			return fmt.Errorf("%s: %w", op, err)

		case ClassRateLimited:
			telemetry.APICalls.WithLabelValues(op, "rate_limited").Inc()
			penalty := DefaultPenalty
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				penalty = apiErr.RetryAfter
			}
			g.limiter.Penalize(penalty)
			if attempt >= MaxRetries {
				return g.exhausted(op, attempt, lastErr)
			}
			telemetry.APIRetries.Inc()
			g.logger.Info("upstream rate limited, retrying",
				"operation", op,
				"penalty", penalty,
				"attempt", attempt+1)
			// No extra backoff sleep; the limiter penalty already gates the
			// next attempt.

		case ClassRetryable:
			telemetry.APICalls.WithLabelValues(op, "retryable").Inc()
			if attempt >= MaxRetries {
				return g.exhausted(op, attempt, lastErr)
			}
			telemetry.APIRetries.Inc()
			delay := backoffDelay(attempt)
			g.logger.Info("upstream call failed, retrying",
				"operation", op,
				"delay", delay,
				"attempt", attempt+1,
				"error", err)
			if err := g.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}

		default:
			telemetry.APICalls.WithLabelValues(op, "fatal").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func (g *Guard) exhausted(op string, attempts int, err error) error {
	g.logger.Warn("upstream retries exhausted",
		"operation", op,
		"attempts", attempts+1,
		"error", err)
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, attempts+1, err)
}

func backoffDelay(attempt int) time.Duration {
	delay := RetryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= RetryMaxDelay {
			return RetryMaxDelay
		}
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
