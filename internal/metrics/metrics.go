// Package metrics wraps prometheus/client_golang counters and histograms
// for the turn orchestrator (SPEC_FULL.md §3.3): turn count by status, turn
// latency, ambiguity rate, and confirmation rate. Recording happens after
// response assembly, never inside a turn's critical section, mirroring the
// teacher's routing package recording cache stats only after a decision is
// made rather than mid-lookup.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every orchestrator-facing collector. The zero value is not
// usable; build one with New.
type Metrics struct {
	turnsTotal       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	ambiguousTotal   prometheus.Counter
	confirmTotal     prometheus.Counter
}

// New registers the orchestrator's collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the process
// default registry across parallel test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dialogued",
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Conversation turns processed, by terminal status.",
		}, []string{"status"}),
		turnLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dialogued",
			Subsystem: "orchestrator",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end HandleTurn latency, by terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		ambiguousTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dialogued",
			Subsystem: "orchestrator",
			Name:      "ambiguous_turns_total",
			Help:      "Turns where the ambiguity detector flagged multiple candidates.",
		}),
		confirmTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dialogued",
			Subsystem: "orchestrator",
			Name:      "confirmation_requests_total",
			Help:      "Confirmation requests created before high-impact handler execution.",
		}),
	}
}

// RecordTurn increments the per-status turn counter and observes its
// latency.
func (m *Metrics) RecordTurn(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordAmbiguity increments the ambiguous-turn counter.
func (m *Metrics) RecordAmbiguity() {
	if m == nil {
		return
	}
	m.ambiguousTotal.Inc()
}

// RecordConfirmation increments the confirmation-request counter.
func (m *Metrics) RecordConfirmation() {
	if m == nil {
		return
	}
	m.confirmTotal.Inc()
}

// Handler exposes the registry in the standard Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
