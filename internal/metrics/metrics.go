// Package metrics provides Prometheus instrumentation for the escrow bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks the number of live escrow sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowbot",
		Name:      "active_sessions",
		Help:      "Number of escrow sessions currently in the store.",
	})

	// ActiveMonitors tracks the number of live transaction watchers.
	ActiveMonitors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowbot",
		Name:      "active_monitors",
		Help:      "Number of transaction watchers currently polling.",
	})

	// NotificationsTotal counts notifications delivered by destination.
	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowbot",
		Name:      "notifications_total",
		Help:      "Total notifications sent, by destination channel.",
	}, []string{"destination"})

	// ExternalErrorsTotal counts failed calls to external services.
	ExternalErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowbot",
		Name:      "external_errors_total",
		Help:      "Failed external service calls, by service and error kind.",
	}, []string{"service", "kind"})

	// SettlementsTotal counts terminal session outcomes.
	SettlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowbot",
		Name:      "settlements_total",
		Help:      "Escrow sessions closed, by outcome (released, refunded, expired).",
	}, []string{"outcome"})

	// CommandsTotal counts Telegram commands handled, by command and result.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowbot",
		Name:      "commands_total",
		Help:      "Telegram commands processed, by command and result.",
	}, []string{"command", "result"})

	// BreakerTransitionsTotal counts explorer circuit breaker transitions.
	BreakerTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowbot",
		Name:      "breaker_transitions_total",
		Help:      "Explorer circuit breaker state transitions, by key and states.",
	}, []string{"key", "from_state", "to_state"})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		ActiveMonitors,
		NotificationsTotal,
		ExternalErrorsTotal,
		SettlementsTotal,
		CommandsTotal,
		BreakerTransitionsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
