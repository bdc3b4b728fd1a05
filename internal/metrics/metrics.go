// Package metrics holds the Prometheus collectors for the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Evaluations counts completed parity checks.
	// Labels: "even", "odd"
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalworker_evaluations_total",
		Help: "Completed evaluations by result",
	}, []string{"result"})

	// LockWait observes how long callers waited for the evaluator lock.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evalworker_lock_wait_seconds",
		Help:    "Time spent waiting to enter the evaluator critical section",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	// LockTimeouts counts bounded waits that gave up.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evalworker_lock_timeouts_total",
		Help: "Bounded lock waits that ended before acquisition",
	})

	// Messages counts session messages by outcome.
	// Labels: "ok", "invalid_request", "timeout"
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalworker_session_messages_total",
		Help: "Messages handled by worker sessions by outcome",
	}, []string{"outcome"})

	// Sessions counts session starts by result.
	// Labels: "ready", "init_failed"
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evalworker_sessions_total",
		Help: "Worker session starts by result",
	}, []string{"result"})

	// ActiveSessions tracks sessions that are started and not yet stopped.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evalworker_sessions_active",
		Help: "Worker sessions currently running",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
