// Package observability holds the relay's Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsStarted counts chat turns accepted per provider.
	TurnsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_turns_started_total",
		Help: "Chat turns started, by provider and model.",
	}, []string{"provider", "model"})

	// EventsEmitted counts normalized stream events written to clients.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_events_emitted_total",
		Help: "Normalized stream events emitted, by type.",
	}, []string{"type"})

	// UpstreamErrors counts turns that ended with an upstream failure.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_upstream_errors_total",
		Help: "Turns terminated by an upstream provider error.",
	}, []string{"provider"})

	// TurnDuration observes wall time per completed turn.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_turn_duration_seconds",
		Help:    "Wall time per chat turn.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider"})
)
