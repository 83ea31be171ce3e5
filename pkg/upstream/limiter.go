package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/governor/pkg/config"
)

// Limiter is the shared token bucket in front of the tracker API. On top of
// the steady refill it supports a penalty floor: after an HTTP 429 the
// tracker's Retry-After header blocks all acquisition until the floor
// passes, regardless of accumulated tokens.
type Limiter struct {
	mu           sync.Mutex
	bucket       *rate.Limiter
	blockedUntil time.Time
}

func NewLimiter(cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
	}
}

// Acquire blocks until a token is available and any penalty floor has
// passed. It returns early only when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait := l.penaltyRemaining()
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Loop again; a concurrent Penalize may have pushed the floor out.
	}
	return l.bucket.Wait(ctx)
}

// Penalize blocks all acquisition for d from now. Floors only move forward;
// a shorter penalty never shortens one already in force.
func (l *Limiter) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
}

// PenaltyRemaining returns how long the current penalty floor still blocks
// acquisition, or zero when none is in force.
func (l *Limiter) PenaltyRemaining() time.Duration {
	return l.penaltyRemaining()
}

func (l *Limiter) penaltyRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := time.Until(l.blockedUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}
