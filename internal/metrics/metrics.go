// Package metrics defines the Prometheus instruments exported by the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "namerelay"

// Registration outcomes recorded on Metrics.Registrations.
const (
	ResultAccepted = "accepted"
	ResultTaken    = "taken"
	ResultInvalid  = "invalid"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics holds the hub and HTTP instruments.
type Metrics struct {
	ActiveConnections       prometheus.Gauge
	ClaimedNames            prometheus.Gauge
	MessagesRelayed         prometheus.Counter
	Deliveries              prometheus.Counter
	SlowConsumerDisconnects prometheus.Counter
	RosterPushes            prometheus.Counter
	Registrations           *prometheus.CounterVec
}

// New creates and registers all relay metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of live WebSocket connections.",
		}),
		ClaimedNames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "claimed_names",
			Help:      "Number of names in the roster at the last membership change.",
		}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_relayed_total",
			Help:      "Total number of inbound messages relayed.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Total number of frames queued to receiving connections.",
		}),
		SlowConsumerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_consumer_disconnects_total",
			Help:      "Connections removed because their outbound queue was full.",
		}),
		RosterPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "roster_pushes_total",
			Help:      "Total number of roster broadcasts.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "registrations_total",
			Help:      "Name registration attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ClaimedNames,
		m.MessagesRelayed,
		m.Deliveries,
		m.SlowConsumerDisconnects,
		m.RosterPushes,
		m.Registrations,
	)
	return m
}
