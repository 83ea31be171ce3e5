package upstream

import (
	"fmt"
	"sync"
	"time"

	"github.com/codeready-toolchain/governor/pkg/config"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed passes all calls through.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails every call fast until the reset timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen allows exactly one probe call.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitOpenError is returned while the breaker refuses calls.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open, retry after %s", e.RetryAfter)
}

// Breaker trips on consecutive auth failures and recovers through timed
// probes. The open-state timeout doubles after each failed probe, capped,
// and resets to the base once a probe succeeds. Time is checked on access
// rather than with timers, so the breaker has no background goroutine.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	resetTimeout        time.Duration
	openedAt            time.Time
	probeInFlight       bool

	failureThreshold  int
	baseResetTimeout  time.Duration
	maxResetTimeout   time.Duration
	backoffMultiplier float64

	now func() time.Time
}

func NewBreaker(cfg *config.BreakerConfig) *Breaker {
	return &Breaker{
		state:             BreakerClosed,
		resetTimeout:      cfg.ResetTimeout,
		failureThreshold:  cfg.FailureThreshold,
		baseResetTimeout:  cfg.ResetTimeout,
		maxResetTimeout:   cfg.MaxResetTimeout,
		backoffMultiplier: cfg.BackoffMultiplier,
		now:               time.Now,
	}
}

// SetClock replaces the time source. Test use only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// CanProceed returns nil when the caller may make the call. While open it
// returns a CircuitOpenError carrying the remaining wait; once the reset
// timeout has elapsed the breaker moves to half-open and the first caller
// through becomes the probe, with everyone else refused until the probe
// resolves.
func (b *Breaker) CanProceed() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		remaining := b.resetTimeout - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return &CircuitOpenError{RetryAfter: remaining}
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{RetryAfter: b.resetTimeout}
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure counter. A successful half-open probe
// closes the breaker and restores the base reset timeout.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
		b.resetTimeout = b.baseResetTimeout
		b.probeInFlight = false
	}
}

// RecordAuthFailure counts a failure. Reaching the threshold opens the
// breaker; a failed half-open probe re-opens it with a longer timeout.
func (b *Breaker) RecordAuthFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.open(b.resetTimeout)
		}
	case BreakerHalfOpen:
		next := time.Duration(float64(b.resetTimeout) * b.backoffMultiplier)
		if next > b.maxResetTimeout {
			next = b.maxResetTimeout
		}
		b.open(next)
	}
}

func (b *Breaker) open(timeout time.Duration) {
	b.state = BreakerOpen
	b.resetTimeout = timeout
	b.openedAt = b.now()
	b.probeInFlight = false
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ResetTimeout returns the open-state duration currently in force.
func (b *Breaker) ResetTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetTimeout
}
