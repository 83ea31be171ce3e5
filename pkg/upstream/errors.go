// Package upstream mediates every call to the issue tracker's API: a shared
// token-bucket rate limiter, an auth-failure circuit breaker, and a retry
// policy for transient failures. All tracker I/O goes through Guard.Do so the
// quota budget is enforced in one place.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// APIError is an upstream call failure with enough structure to classify.
// Status is zero when the call never produced an HTTP response.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Message)
	}
	return e.Message
}

// Classification buckets an upstream error for the retry and breaker policy.
type Classification int

const (
	// ClassFatal is not retried and surfaces to the caller (404, 409,
	// malformed requests outside the auth set).
	ClassFatal Classification = iota
	// ClassAuth trips the circuit breaker. Never retried inline.
	ClassAuth
	// ClassRateLimited is an HTTP 429: penalize the limiter, then retry.
	ClassRateLimited
	// ClassRetryable covers 5xx, network failures, and timeouts.
	ClassRetryable
)

// rateLimitedCode is the GraphQL extension code the tracker emits when a
// request exceeds its complexity budget. The tracker delivers it inside an
// HTTP 400, so it classifies alongside auth failures, not HTTP 429.
const rateLimitedCode = "RATELIMITED"

var authMessageFragments = []string{"access denied", "unauthorized", "forbidden"}

var connectionErrorFragments = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection closed",
	"no such host",
}

// Classify buckets err. authCodes is the set of HTTP statuses treated as
// auth failures; 429 is checked first so it never lands in the auth bucket
// even when misconfigured into authCodes.
func Classify(err error, authCodes []int) Classification {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return ClassRateLimited
		}
		for _, code := range authCodes {
			if apiErr.Status == code {
				return ClassAuth
			}
		}
		if bodyRateLimited(apiErr.Body) {
			return ClassAuth
		}
		if apiErr.Status >= 500 {
			return ClassRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range authMessageFragments {
		if strings.Contains(msg, fragment) {
			return ClassAuth
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	if isConnectionError(err) {
		return ClassRetryable
	}
	return ClassFatal
}

// IsAuthError reports whether err should trip the circuit breaker.
func IsAuthError(err error, authCodes []int) bool {
	return err != nil && Classify(err, authCodes) == ClassAuth
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range connectionErrorFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// graphQLEnvelope matches the error shapes the tracker's GraphQL API emits:
// an extension code at the root, inside a top-level errors array, or inside
// a data-wrapped errors array.
type graphQLEnvelope struct {
	Extensions graphQLExtensions `json:"extensions"`
	Errors     []graphQLError    `json:"errors"`
	Data       struct {
		Errors []graphQLError `json:"errors"`
	} `json:"data"`
}

type graphQLError struct {
	Extensions graphQLExtensions `json:"extensions"`
}

type graphQLExtensions struct {
	Code string `json:"code"`
}

func bodyRateLimited(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var env graphQLEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	if env.Extensions.Code == rateLimitedCode {
		return true
	}
	for _, gqlErr := range env.Errors {
		if gqlErr.Extensions.Code == rateLimitedCode {
			return true
		}
	}
	for _, gqlErr := range env.Data.Errors {
		if gqlErr.Extensions.Code == rateLimitedCode {
			return true
		}
	}
	return false
}
