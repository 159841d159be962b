package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	pollAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tunnelcheck",
			Subsystem: "readiness",
			Name:      "poll_attempts_total",
			Help:      "Number of readiness endpoint probes issued.",
		},
	)
	scenarioRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunnelcheck",
			Subsystem: "scenario",
			Name:      "rounds_total",
			Help:      "Scenario rounds by outcome (pass or fail).",
		}, []string{"scenario", "outcome"},
	)
	reconnectCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunnelcheck",
			Subsystem: "scenario",
			Name:      "reconnect_cycles_total",
			Help:      "Full N->0->N reconnect cycles by outcome.",
		}, []string{"outcome"},
	)
	shutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tunnelcheck",
			Subsystem: "scenario",
			Name:      "shutdown_duration_seconds",
			Help:      "Observed graceful shutdown duration after a stop signal.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	daemonRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tunnelcheck",
			Subsystem: "daemon",
			Name:      "requests_total",
			Help:      "Requests served by the mock tunnel daemon per route.",
		}, []string{"route"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{pollAttempts, scenarioRounds, reconnectCycles, shutdownDuration, daemonRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until
// Register has been called.

func IncPollAttempt() {
	if regOK.Load() {
		pollAttempts.Inc()
	}
}

func IncScenarioRound(scenario string, passed bool) {
	if regOK.Load() {
		scenarioRounds.WithLabelValues(scenario, outcome(passed)).Inc()
	}
}

func IncReconnectCycle(passed bool) {
	if regOK.Load() {
		reconnectCycles.WithLabelValues(outcome(passed)).Inc()
	}
}

func ObserveShutdownDuration(seconds float64) {
	if regOK.Load() {
		shutdownDuration.Observe(seconds)
	}
}

func IncDaemonRequest(route string) {
	if regOK.Load() {
		daemonRequests.WithLabelValues(route).Inc()
	}
}

func outcome(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
