// Package metrics provides Prometheus instrumentation for the comment
// moderator. It exposes counters for event throughput and escalations, a
// gauge for tracked messages, and a histogram for event latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts processed events labeled by event kind and outcome.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderator_events_total",
		Help: "Total number of moderation events processed",
	}, []string{"event", "outcome"}) // event = "comment", "edit", "command"

	// EventLatency records end-to-end handling latency in seconds.
	EventLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moderator_event_latency_seconds",
		Help:    "Event handling latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"event"})

	// EditSignals counts suspicious-edit signals by name.
	EditSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderator_edit_signals_total",
		Help: "Suspicious edit signals that fired",
	}, []string{"signal"}) // signal = "negative", "steep_drop", "spam_pattern", "suspicious_link"

	// ScoringFailures counts texts that could not be scored.
	ScoringFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moderator_scoring_failures_total",
		Help: "Texts that could not be scored after retries",
	})

	// DurableErrors counts failed durable tier operations by operation.
	DurableErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderator_durable_tier_errors_total",
		Help: "Failed durable tier operations of the message track store",
	}, []string{"op"}) // op = "get", "set", "delete", "decode"

	// TrackedMessages tracks the number of messages held in the fast tier.
	TrackedMessages = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderator_tracked_messages",
		Help: "Messages currently held in the fast tier",
	})

	// SweepRemoved counts messages removed by the retention sweep.
	SweepRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "moderator_sweep_removed_total",
		Help: "Tracked messages removed by the retention sweep",
	})

	// Escalations counts state machine transitions by kind.
	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderator_escalations_total",
		Help: "User moderation state transitions",
	}, []string{"kind"}) // kind = "warning", "ban", "blacklist", "edit_restricted", "ban_expired"

	// FeedClients tracks the current number of connected feed clients.
	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderator_feed_clients",
		Help: "Connected decision feed clients",
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		EventLatency,
		EditSignals,
		ScoringFailures,
		DurableErrors,
		TrackedMessages,
		SweepRemoved,
		Escalations,
		FeedClients,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
