// Package telemetry holds the Prometheus collectors for the governor. All
// metrics register on the default registry and are served from /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APICalls counts upstream tracker calls by operation and outcome.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_api_calls_total",
		Help: "Upstream tracker API calls",
	}, []string{"operation", "outcome"}) // outcome: success, auth_failure, rate_limited, retryable, fatal

	// APIRetries counts retry attempts against the upstream tracker.
	APIRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_api_retries_total",
		Help: "Retry attempts against the upstream tracker",
	})

	// BreakerState reports the circuit breaker position (1 = current state).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_breaker_state",
		Help: "Circuit breaker state (1 = current)",
	}, []string{"state"}) // closed, open, half_open

	// BreakerRejections counts calls refused while the breaker was open.
	BreakerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_breaker_rejections_total",
		Help: "Calls refused by the open circuit breaker",
	})

	// QueueDepth tracks the number of sessions waiting in the global queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_queue_depth",
		Help: "Sessions waiting in the global work queue",
	})

	// EventsProcessed counts governor loop events by type and result.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_events_processed_total",
		Help: "Events consumed by the governor loop",
	}, []string{"type", "result"}) // result: dispatched, parked, dropped, duplicate, error

	// EventsDeduplicated counts events dropped by the dedup window.
	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_events_deduplicated_total",
		Help: "Events dropped as duplicates within the dedup window",
	})

	// Dispatches counts dispatch decisions by work type and outcome.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_dispatches_total",
		Help: "Work dispatch decisions",
	}, []string{"work_type", "outcome"}) // outcome: queued, parked, requeued

	// Claims counts claim attempts by result.
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_claims_total",
		Help: "Work claim attempts by workers",
	}, []string{"result"}) // claimed, expired, wrong_status, transient_failure

	// SessionsFinished counts sessions reaching a terminal status.
	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_sessions_finished_total",
		Help: "Sessions reaching a terminal status",
	}, []string{"work_type", "status"})

	// ReaperActions counts cleanup actions by kind.
	ReaperActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_reaper_actions_total",
		Help: "Reaper cleanup actions",
	}, []string{"action"}) // dead_worker, stuck_session, orphaned_lock

	// ActiveWorkers tracks registered workers with a live TTL.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_active_workers",
		Help: "Workers currently registered",
	})

	// WebhooksReceived counts webhook deliveries by handling result.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_webhooks_received_total",
		Help: "Webhook deliveries",
	}, []string{"result"}) // accepted, duplicate, unrecognized

	// PollSweeps counts poll cycles per project by result.
	PollSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_poll_sweeps_total",
		Help: "Poll sweep project scans",
	}, []string{"project", "result"}) // ok, error
)

// SetBreakerState flips the state gauge so exactly one label reads 1.
func SetBreakerState(state string) {
	for _, s := range []string{"closed", "open", "half_open"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		BreakerState.WithLabelValues(s).Set(v)
	}
}
