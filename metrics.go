package mcs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcs",
		Name:      "commands_total",
		Help:      "Client commands processed, by operation and outcome.",
	}, []string{"operation", "status"})

	eventsRoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcs",
		Name:      "events_routed_total",
		Help:      "Bus events delivered to an owning client, by kind.",
	}, []string{"kind"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcs",
		Name:      "events_dropped_total",
		Help:      "Bus events dropped because no owner was registered, by kind.",
	}, []string{"kind"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mcs",
		Name:      "sessions_active",
		Help:      "Media sessions holding a live backend element.",
	})
)
